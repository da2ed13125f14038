// Package extractor turns parsed content into candidate patterns and the
// entities they reference. Extraction is deterministic for a given input
// and extractor version; the version is recorded on every pattern for audit.
package extractor

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"github.com/thebtf/kiln/pkg/models"
)

// Version is recorded on every extracted pattern. Bump on any change to
// segmentation, thresholds or entity detection.
const Version = "1.2.0"

// CandidatePattern is one extraction result before persistence.
type CandidatePattern struct {
	Title       string
	Content     string
	Domain      string
	Fingerprint string
	Entities    []CandidateEntity
}

// CandidateEntity is an entity reference discovered inside a candidate.
type CandidateEntity struct {
	Name       string
	Type       models.EntityType
	Confidence float64
}

// ParsedContent is the normalized output of the parsing stage.
type ParsedContent struct {
	SourceType models.SourceType
	Text       string
}

// Extractor extracts candidate patterns from parsed content.
type Extractor struct {
	codec         tokenizer.Codec
	minInfoTokens int
}

// New creates an extractor. minInfoTokens is the information threshold
// below which content yields zero candidates (an explicit non-error case).
func New(minInfoTokens int) (*Extractor, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &Extractor{codec: codec, minInfoTokens: minInfoTokens}, nil
}

// Parse normalizes raw payload bytes into parsed content. Content that is
// empty after trimming is a parse error; everything else parses.
func (e *Extractor) Parse(sourceType models.SourceType, raw string) (*ParsedContent, error) {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("parse content: empty payload")
	}
	return &ParsedContent{SourceType: sourceType, Text: text}, nil
}

// Extract returns zero or more candidate patterns for the parsed content.
// Documents are segmented on markdown headings; other source types are
// treated as a single content unit. Segments below the information
// threshold are dropped, so trivially small content extracts nothing.
func (e *Extractor) Extract(parsed *ParsedContent) ([]CandidatePattern, error) {
	var segments []string
	if parsed.SourceType == models.SourceDocument {
		segments = splitSections(parsed.Text)
	} else {
		segments = []string{parsed.Text}
	}

	candidates := make([]CandidatePattern, 0, len(segments))
	for _, seg := range segments {
		tokens, err := e.countTokens(seg)
		if err != nil {
			return nil, err
		}
		if tokens < e.minInfoTokens {
			continue
		}

		entities := DetectEntities(seg)
		candidates = append(candidates, CandidatePattern{
			Title:       titleOf(seg),
			Content:     seg,
			Domain:      domainOf(parsed.SourceType, entities),
			Fingerprint: models.Fingerprint(seg),
			Entities:    entities,
		})
	}
	return candidates, nil
}

func (e *Extractor) countTokens(text string) (int, error) {
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return len(ids), nil
}

// splitSections splits markdown-ish text on top-level headings. Text before
// the first heading forms its own section.
func splitSections(text string) []string {
	lines := strings.Split(text, "\n")
	var sections []string
	var current []string

	flush := func() {
		joined := strings.TrimSpace(strings.Join(current, "\n"))
		if joined != "" {
			sections = append(sections, joined)
		}
		current = current[:0]
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "# ") || strings.HasPrefix(line, "## ") {
			flush()
		}
		current = append(current, line)
	}
	flush()

	if len(sections) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	return sections
}

// titleOf derives a pattern title from the first non-empty line.
func titleOf(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "#/ \t*-"))
		if line == "" {
			continue
		}
		if len(line) > 80 {
			return line[:77] + "..."
		}
		return line
	}
	return "untitled"
}

// domainOf infers a coarse domain label from the source type and the
// dominant entity type.
func domainOf(sourceType models.SourceType, entities []CandidateEntity) string {
	counts := make(map[models.EntityType]int)
	for _, e := range entities {
		counts[e.Type]++
	}
	var best models.EntityType
	bestCount := 0
	for t, c := range counts {
		if c > bestCount || (c == bestCount && t < best) {
			best, bestCount = t, c
		}
	}
	if bestCount == 0 {
		return string(sourceType)
	}
	return fmt.Sprintf("%s/%s", sourceType, best)
}
