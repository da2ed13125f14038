package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiln/internal/extractor"
	"github.com/thebtf/kiln/internal/relmap"
	"github.com/thebtf/kiln/internal/store"
	"github.com/thebtf/kiln/pkg/models"
)

// StartReconciler runs the reconciliation loop until ctx is cancelled.
func (o *Orchestrator) StartReconciler(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ReconcileEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := o.Reconcile(ctx); err != nil {
					log.Error().Err(err).Msg("Reconciliation pass failed")
				} else if n > 0 {
					log.Info().Int("items", n).Msg("Reconciled partial items")
				}
			}
		}
	}()
}

// Reconcile retries the missing store writes of partially completed items.
// Extraction is deterministic, so the records are rebuilt from the raw
// payload and mapped onto their canonical ledger rows; replays are
// idempotent and create no duplicates. Returns the number of items fully
// reconciled.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	partials, err := o.items.Partials(ctx, 100)
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, item := range partials {
		done, err := o.reconcileItem(ctx, item)
		if err != nil {
			log.Warn().Err(err).Str("itemId", item.ID).Msg("Item reconciliation incomplete")
			continue
		}
		if done {
			reconciled++
		}
	}
	return reconciled, nil
}

func (o *Orchestrator) reconcileItem(ctx context.Context, item *models.Item) (bool, error) {
	session, err := o.sessions.Get(ctx, item.SessionID)
	if err != nil {
		return false, err
	}

	records, err := o.rebuildRecords(ctx, session, item)
	if err != nil {
		return false, err
	}

	remaining := make([]string, 0, len(item.MissingStores))
	for _, name := range item.MissingStores {
		adapter := o.adapterFor(models.StorageLocation(name))
		if adapter == nil {
			// The debt stands until an adapter for the store is registered
			// and the write actually lands.
			remaining = append(remaining, name)
			continue
		}
		if err := o.writeRecords(ctx, adapter, records); err != nil {
			remaining = append(remaining, name)
			continue
		}
		o.appendReconcileEvent(ctx, item, adapter.Name())
	}

	if len(remaining) > 0 {
		if err := o.items.Finish(ctx, item.ID, models.ItemCompletedPartial, remaining); err != nil {
			return false, err
		}
		return false, nil
	}
	if err := o.items.Finish(ctx, item.ID, models.ItemCompleted, nil); err != nil {
		return false, err
	}
	return true, nil
}

// rebuildRecords re-runs the deterministic extraction stages and resolves
// each candidate onto its canonical ledger pattern row.
func (o *Orchestrator) rebuildRecords(ctx context.Context, session *models.Session, item *models.Item) ([]*store.Record, error) {
	parsed, err := o.ext.Parse(session.SourceType, item.RawPayload)
	if err != nil {
		return nil, err
	}
	candidates, err := o.ext.Extract(parsed)
	if err != nil {
		return nil, err
	}

	records := make([]*store.Record, 0, len(candidates))
	for _, cand := range candidates {
		// Find-or-create resolves onto the canonical row written during the
		// original storage_ledger stage, so replayed writes carry the same
		// pattern ID and quality score.
		pattern, _, err := o.patterns.FindOrCreate(ctx, &models.Pattern{
			ID:               uuid.NewString(),
			Project:          session.Project,
			Title:            cand.Title,
			Content:          cand.Content,
			Domain:           cand.Domain,
			Fingerprint:      cand.Fingerprint,
			ExtractorVersion: extractor.Version,
		})
		if err != nil {
			return nil, err
		}
		entities, err := o.entities.ByIDs(ctx, pattern.EntityIDs)
		if err != nil {
			return nil, err
		}
		records = append(records, &store.Record{
			Pattern:       pattern,
			Entities:      entities,
			Relationships: relmap.MapRelationships(pattern, entities),
		})
	}
	return records, nil
}

func (o *Orchestrator) writeRecords(ctx context.Context, adapter store.Adapter, records []*store.Record) error {
	wctx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()
	for _, rec := range records {
		if err := adapter.Write(wctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) adapterFor(loc models.StorageLocation) store.Adapter {
	for _, a := range o.adapters {
		if a.Name() == loc {
			return a
		}
	}
	return nil
}

// appendReconcileEvent records the late store write as a follow-up flow
// event on the item's timeline.
func (o *Orchestrator) appendReconcileEvent(ctx context.Context, item *models.Item, loc models.StorageLocation) {
	seq, err := o.flow.NextSeq(ctx, item.ID)
	if err != nil {
		log.Error().Err(err).Str("itemId", item.ID).Msg("Failed to compute event seq")
		return
	}
	ev := &models.FlowEvent{
		ItemID:           item.ID,
		SessionID:        item.SessionID,
		Seq:              seq,
		Stage:            stageForLocation(loc),
		Outcome:          models.OutcomeOK,
		StorageLocations: models.JSONStringArray{string(loc)},
	}
	if err := o.flow.Append(ctx, ev); err != nil {
		log.Error().Err(err).Str("itemId", item.ID).Msg("Failed to append reconcile event")
	}
}
