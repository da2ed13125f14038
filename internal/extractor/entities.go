package extractor

import (
	"regexp"
	"sort"
	"strings"

	"github.com/thebtf/kiln/pkg/models"
)

// knownEntities maps lowercase keywords to entity types. Detection is a
// plain keyword scan so results are reproducible across runs.
var knownEntities = map[string]models.EntityType{
	"postgres":       models.EntityTechnology,
	"postgresql":     models.EntityTechnology,
	"redis":          models.EntityTechnology,
	"sqlite":         models.EntityTechnology,
	"neo4j":          models.EntityTechnology,
	"falkordb":       models.EntityTechnology,
	"qdrant":         models.EntityTechnology,
	"kafka":          models.EntityTechnology,
	"docker":         models.EntityTool,
	"kubernetes":     models.EntityTool,
	"git":            models.EntityTool,
	"grpc":           models.EntityAPI,
	"rest":           models.EntityAPI,
	"graphql":        models.EntityAPI,
	"http":           models.EntityAPI,
	"oauth":          models.EntityAPI,
	"jwt":            models.EntityConcept,
	"authentication": models.EntityConcept,
	"authorization":  models.EntityConcept,
	"caching":        models.EntityConcept,
	"migration":      models.EntityConcept,
	"encryption":     models.EntityConcept,
	"concurrency":    models.EntityConcept,
	"idempotency":    models.EntityConcept,
	"go":             models.EntityLanguage,
	"golang":         models.EntityLanguage,
	"python":         models.EntityLanguage,
	"javascript":     models.EntityLanguage,
	"typescript":     models.EntityLanguage,
	"sql":            models.EntityLanguage,
	"cypher":         models.EntityLanguage,
}

var wordRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_-]*`)

// DetectEntities scans content for known entity keywords. Confidence grows
// with occurrence count and saturates below 1.0. Results are sorted by name
// for determinism.
func DetectEntities(content string) []CandidateEntity {
	occurrences := make(map[string]int)
	for _, word := range wordRe.FindAllString(content, -1) {
		lower := strings.ToLower(word)
		if _, ok := knownEntities[lower]; ok {
			occurrences[lower]++
		}
	}

	entities := make([]CandidateEntity, 0, len(occurrences))
	for name, count := range occurrences {
		entities = append(entities, CandidateEntity{
			Name:       name,
			Type:       knownEntities[name],
			Confidence: entityConfidence(count),
		})
	}
	sort.Slice(entities, func(i, j int) bool {
		return entities[i].Name < entities[j].Name
	})
	return entities
}

// entityConfidence maps occurrence count to [0.5, 1.0), monotone in count.
func entityConfidence(count int) float64 {
	c := float64(count)
	return 0.5 + 0.5*(c/(c+2))
}
