// Package store defines the uniform adapter contract the pipeline fans
// writes out to. The orchestrator never holds engine-specific logic; a new
// store type is added by implementing Adapter, not by branching pipeline
// code.
package store

import (
	"context"

	"github.com/thebtf/kiln/pkg/models"
)

// Record is the unit written to every store. Each adapter persists the
// slice of it that its engine models: the ledger keeps patterns and
// entities relational, the graph store keeps nodes and edges, the vector
// store embeds pattern content, the cache keeps hot lookups.
type Record struct {
	Pattern       *models.Pattern
	Entities      []*models.Entity
	Relationships []models.Relationship
}

// Adapter is the uniform write/read surface over one backing store.
type Adapter interface {
	// Name identifies the store for flow events and reconciliation.
	Name() models.StorageLocation

	// Write persists the record. Writes are idempotent: replaying the same
	// record must not create duplicates.
	Write(ctx context.Context, rec *Record) error

	// Read fetches the record for a pattern id.
	Read(ctx context.Context, patternID string) (*Record, error)

	// Health reports whether the store is reachable.
	Health(ctx context.Context) bool
}
