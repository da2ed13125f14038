// Package relmap derives typed graph edges from extracted patterns and
// entities. Edges connect only entities that co-occur within one content
// unit; nothing is inferred across unrelated sessions.
package relmap

import (
	"sort"

	"github.com/thebtf/kiln/pkg/models"
)

// weightK controls how fast edge weight saturates with co-occurrence
// frequency: weight = f / (f + weightK), capped at 1.0.
const weightK = 3.0

// MapRelationships returns the edges for one pattern and the entities
// tagged within it: a references edge from the pattern to each entity, a
// belongs_to edge from the pattern to its project, and co-occurrence edges
// between every entity pair in the same content unit. Output order is
// deterministic.
func MapRelationships(pattern *models.Pattern, entities []*models.Entity) []models.Relationship {
	if pattern == nil {
		return nil
	}

	sorted := make([]*models.Entity, len(entities))
	copy(sorted, entities)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	rels := make([]models.Relationship, 0, len(sorted)*2+1)

	if pattern.Project != "" {
		rels = append(rels, models.Relationship{
			FromID:       pattern.ID,
			ToID:         "project:" + pattern.Project,
			RelationType: models.RelBelongsTo,
			Weight:       1.0,
		})
	}

	for _, e := range sorted {
		rels = append(rels, models.Relationship{
			FromID:       pattern.ID,
			ToID:         e.ID,
			RelationType: models.RelReferences,
			Weight:       CooccurrenceWeight(1),
		})
	}

	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			rels = append(rels, models.Relationship{
				FromID:       sorted[i].ID,
				ToID:         sorted[j].ID,
				RelationType: models.RelCoOccurs,
				Weight:       CooccurrenceWeight(1),
			})
		}
	}

	return rels
}

// CooccurrenceWeight maps a co-occurrence frequency to an edge weight.
// Monotone in frequency and capped at 1.0.
func CooccurrenceWeight(frequency int64) float64 {
	if frequency <= 0 {
		return 0
	}
	f := float64(frequency)
	w := f / (f + weightK)
	if w > 1 {
		return 1
	}
	return w
}
