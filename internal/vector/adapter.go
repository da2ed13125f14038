package vector

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiln/internal/store"
	"github.com/thebtf/kiln/pkg/models"
)

// Verify interface compliance
var _ store.Adapter = (*Adapter)(nil)

// Adapter implements store.Adapter over the vector client.
type Adapter struct {
	client *Client
}

// NewAdapter creates the vector store adapter.
func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

// Name implements store.Adapter.
func (a *Adapter) Name() models.StorageLocation { return models.LocationVector }

// Write embeds the pattern content, keyed by pattern id.
func (a *Adapter) Write(ctx context.Context, rec *store.Record) error {
	if rec.Pattern == nil {
		return nil
	}
	doc := formatPatternDoc(rec.Pattern)
	if err := a.client.AddDocuments(ctx, []Document{doc}); err != nil {
		return fmt.Errorf("add pattern doc: %w", err)
	}
	log.Debug().
		Str("patternId", rec.Pattern.ID).
		Msg("Synced pattern to vector store")
	return nil
}

// Read fetches the embedded document and rebuilds the pattern slice of the
// record from its metadata.
func (a *Adapter) Read(ctx context.Context, patternID string) (*store.Record, error) {
	docs, err := a.client.GetDocuments(ctx, []string{patternID})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("pattern %s: not found in vector store", patternID)
	}
	doc := docs[0]
	pattern := &models.Pattern{
		ID:      doc.ID,
		Content: doc.Content,
	}
	if v, ok := doc.Metadata["title"].(string); ok {
		pattern.Title = v
	}
	if v, ok := doc.Metadata["domain"].(string); ok {
		pattern.Domain = v
	}
	if v, ok := doc.Metadata["project"].(string); ok {
		pattern.Project = v
	}
	if v, ok := doc.Metadata["quality_score"].(float64); ok {
		pattern.QualityScore = v
	}
	return &store.Record{Pattern: pattern}, nil
}

// Health implements store.Adapter.
func (a *Adapter) Health(ctx context.Context) bool {
	return a.client.Heartbeat(ctx)
}

func formatPatternDoc(p *models.Pattern) Document {
	return Document{
		ID:      p.ID,
		Content: p.Content,
		Metadata: map[string]any{
			"doc_type":      "pattern",
			"title":         p.Title,
			"domain":        p.Domain,
			"project":       p.Project,
			"quality_score": p.QualityScore,
			"fingerprint":   p.Fingerprint,
		},
	}
}
