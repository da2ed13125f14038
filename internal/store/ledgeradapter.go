package store

import (
	"context"

	"github.com/thebtf/kiln/internal/ledger"
	"github.com/thebtf/kiln/pkg/models"
)

// Verify interface compliance
var _ Adapter = (*LedgerAdapter)(nil)

// LedgerAdapter writes records to the relational system of record. It is
// the only store whose write is required for an item to count as durably
// ingested.
type LedgerAdapter struct {
	store    *ledger.Store
	patterns *ledger.PatternStore
	entities *ledger.EntityStore
}

// NewLedgerAdapter creates the ledger adapter.
func NewLedgerAdapter(store *ledger.Store, patterns *ledger.PatternStore, entities *ledger.EntityStore) *LedgerAdapter {
	return &LedgerAdapter{store: store, patterns: patterns, entities: entities}
}

// Name implements Adapter.
func (a *LedgerAdapter) Name() models.StorageLocation { return models.LocationLedger }

// Write persists entities first, then the pattern. Both go through atomic
// find-or-create, so replays and concurrent near-identical ingestion
// converge on the same rows.
func (a *LedgerAdapter) Write(ctx context.Context, rec *Record) error {
	for _, e := range rec.Entities {
		if _, _, err := a.entities.FindOrCreate(ctx, e); err != nil {
			return err
		}
	}
	if rec.Pattern != nil {
		canonical, created, err := a.patterns.FindOrCreate(ctx, rec.Pattern)
		if err != nil {
			return err
		}
		if !created {
			// Fingerprint hit: downstream stores must key off the
			// canonical row, not the candidate.
			*rec.Pattern = *canonical
		}
	}
	return nil
}

// Read fetches the pattern and its entities.
func (a *LedgerAdapter) Read(ctx context.Context, patternID string) (*Record, error) {
	p, err := a.patterns.Get(ctx, patternID)
	if err != nil {
		return nil, err
	}
	entities, err := a.entities.ByIDs(ctx, p.EntityIDs)
	if err != nil {
		return nil, err
	}
	return &Record{Pattern: p, Entities: entities}, nil
}

// Health pings the database.
func (a *LedgerAdapter) Health(ctx context.Context) bool {
	return a.store.Ping() == nil
}
