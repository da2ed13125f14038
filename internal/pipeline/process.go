package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiln/internal/extractor"
	"github.com/thebtf/kiln/internal/relmap"
	"github.com/thebtf/kiln/internal/scoring"
	"github.com/thebtf/kiln/internal/store"
	"github.com/thebtf/kiln/pkg/models"
)

// itemRun tracks one item's trip through the stage machine.
type itemRun struct {
	o       *Orchestrator
	session *models.Session
	item    *models.Item
	seq     int64
	records []*store.Record
}

// processItem runs the full stage machine for one item. Stage order is
// strict; each transition appends a flow event before the next stage runs.
func (o *Orchestrator) processItem(session *models.Session, item *models.Item) {
	run := &itemRun{o: o, session: session, item: item}
	defer o.itemDone(session.ID)

	if o.isCancelled(session.ID) {
		run.fail(models.StageIngested, 0, "session cancelled")
		return
	}
	run.execute()
}

func (r *itemRun) execute() {
	ctx := r.o.baseCtx

	// Stage: ingested. Deduplication lookup short-circuits re-ingestion of
	// an already-completed payload.
	start := time.Now()
	dup, err := r.o.items.CompletedByFingerprint(ctx, r.session.Project, r.item.Fingerprint)
	if err != nil {
		r.fail(models.StageIngested, sinceMs(start), "dedup lookup: "+err.Error())
		return
	}
	if dup {
		r.appendEvent(&models.FlowEvent{
			Stage:            models.StageIngested,
			Outcome:          models.OutcomeDuplicate,
			ProcessingTimeMs: sinceMs(start),
		})
		r.finish(models.ItemCompleted, nil, nil)
		return
	}
	r.appendEvent(&models.FlowEvent{
		Stage:            models.StageIngested,
		Outcome:          models.OutcomeOK,
		ProcessingTimeMs: sinceMs(start),
	})

	// Stage: parsing. Deterministic; a malformed payload fails immediately
	// since retrying unchanged input cannot succeed.
	r.advance(models.StageParsing)
	start = time.Now()
	parsed, err := r.o.ext.Parse(r.session.SourceType, r.item.RawPayload)
	if err != nil {
		r.fail(models.StageParsing, sinceMs(start), err.Error())
		return
	}
	r.appendEvent(&models.FlowEvent{
		Stage:            models.StageParsing,
		Outcome:          models.OutcomeOK,
		ProcessingTimeMs: sinceMs(start),
	})

	// Stage: pattern extraction. Zero candidates for thin content is a
	// success, not an error. Entity find-or-create is the only ledger
	// mutation here and is retried as a transient operation.
	r.advance(models.StagePatternExtraction)
	start = time.Now()
	candidates, err := r.o.ext.Extract(parsed)
	if err != nil {
		r.fail(models.StagePatternExtraction, sinceMs(start), err.Error())
		return
	}
	records, err := r.buildRecords(ctx, candidates)
	if err != nil {
		// Per-attempt error events were already appended by retryEntity.
		r.failTerminal("entity persistence exhausted retries: " + err.Error())
		return
	}
	r.records = records
	r.appendEvent(&models.FlowEvent{
		Stage:             models.StagePatternExtraction,
		Outcome:           models.OutcomeOK,
		ProcessingTimeMs:  sinceMs(start),
		PatternsExtracted: len(records),
	})

	// Stage: quality scoring. Pure function of the pattern and its context.
	r.advance(models.StageQualityScoring)
	start = time.Now()
	now := time.Now().UnixMilli()
	var scoreSum float64
	for _, rec := range r.records {
		confidences := make([]float64, len(rec.Entities))
		for i, e := range rec.Entities {
			confidences[i] = e.Confidence
		}
		score := r.o.scorer.Score(rec.Pattern, scoring.Context{
			EntityConfidences: confidences,
			NowEpoch:          now,
		})
		rec.Pattern.QualityScore = score
		scoreSum += score
	}
	var avgScore float64
	if len(r.records) > 0 {
		avgScore = scoreSum / float64(len(r.records))
	}
	r.appendEvent(&models.FlowEvent{
		Stage:            models.StageQualityScoring,
		Outcome:          models.OutcomeOK,
		ProcessingTimeMs: sinceMs(start),
		QualityScore:     avgScore,
	})

	// Stage: relationship mapping.
	r.advance(models.StageRelationshipMapping)
	start = time.Now()
	for _, rec := range r.records {
		rec.Relationships = relmap.MapRelationships(rec.Pattern, rec.Entities)
	}
	r.appendEvent(&models.FlowEvent{
		Stage:            models.StageRelationshipMapping,
		Outcome:          models.OutcomeOK,
		ProcessingTimeMs: sinceMs(start),
	})

	// Storage stages: independent saga fan-out. Committed writes are never
	// rolled back when a later store fails; missing stores are reconciled
	// later.
	achieved, missing, failed := r.runStorageStages(ctx)
	if failed {
		return
	}

	status := models.ItemCompleted
	if len(missing) > 0 {
		status = models.ItemCompletedPartial
	}
	r.finish(status, achieved, missing)
}

// buildRecords persists entities through atomic find-or-create and builds
// the in-memory pattern records. Patterns themselves are not persisted
// until the storage_ledger stage.
func (r *itemRun) buildRecords(ctx context.Context, candidates []extractor.CandidatePattern) ([]*store.Record, error) {
	records := make([]*store.Record, 0, len(candidates))
	for _, cand := range candidates {
		entities := make([]*models.Entity, 0, len(cand.Entities))
		entityIDs := make(models.JSONStringArray, 0, len(cand.Entities))
		for _, ce := range cand.Entities {
			entity := &models.Entity{
				ID:         uuid.NewString(),
				Project:    r.session.Project,
				Name:       ce.Name,
				Type:       ce.Type,
				Confidence: ce.Confidence,
			}
			canonical, _, err := r.retryEntity(ctx, entity)
			if err != nil {
				return nil, err
			}
			entities = append(entities, canonical)
			entityIDs = append(entityIDs, canonical.ID)
		}

		records = append(records, &store.Record{
			Pattern: &models.Pattern{
				ID:               uuid.NewString(),
				Project:          r.session.Project,
				Title:            cand.Title,
				Content:          cand.Content,
				Domain:           cand.Domain,
				Fingerprint:      cand.Fingerprint,
				EntityIDs:        entityIDs,
				ExtractorVersion: extractor.Version,
			},
			Entities: entities,
		})
	}
	return records, nil
}

// retryEntity runs the atomic find-or-create under the shared retry policy.
// Failed attempts are accounted like any other stage failure: an
// outcome=error flow event per attempt and a retry count bump.
func (r *itemRun) retryEntity(ctx context.Context, e *models.Entity) (*models.Entity, bool, error) {
	var lastErr error
	for attempt := 0; attempt <= r.o.cfg.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(r.o.cfg.Retry.Backoff(attempt - 1))
			r.bumpRetry(models.StagePatternExtraction)
		}
		start := time.Now()
		canonical, created, err := r.o.entities.FindOrCreate(ctx, e)
		if err == nil {
			return canonical, created, nil
		}
		lastErr = err
		r.appendEvent(&models.FlowEvent{
			Stage:            models.StagePatternExtraction,
			Outcome:          models.OutcomeError,
			ProcessingTimeMs: sinceMs(start),
			ErrorMessage:     "entity find-or-create: " + err.Error(),
		})
	}
	return nil, false, lastErr
}

// storageOrder is the canonical saga fan-out order. Every location runs its
// stage even when no adapter is registered for it; an unregistered store is
// a failed write, not a skipped stage.
var storageOrder = []models.StorageLocation{
	models.LocationLedger,
	models.LocationGraph,
	models.LocationVector,
	models.LocationCache,
}

// runStorageStages fans the records out to every store in canonical order.
// The ledger write is required: its failure fails the item. Graph and
// vector failures leave the item partially complete for reconciliation.
// Cache is best-effort and never affects the item's disposition.
func (r *itemRun) runStorageStages(ctx context.Context) (achieved, missing []string, failed bool) {
	for _, name := range storageOrder {
		stage := stageForLocation(name)
		r.advance(stage)

		var err error
		if adapter := r.o.adapterFor(name); adapter != nil {
			err = r.writeWithRetry(ctx, adapter, stage)
		} else {
			err = fmt.Errorf("store %s unavailable: no adapter registered", name)
			r.appendEvent(&models.FlowEvent{
				Stage:        stage,
				Outcome:      models.OutcomeError,
				ErrorMessage: err.Error(),
			})
		}
		if err == nil {
			achieved = append(achieved, string(name))
			continue
		}

		switch name {
		case models.LocationLedger:
			// The ledger is the only required write: without it the item
			// was never durably ingested.
			r.failTerminal("ledger write: " + err.Error())
			return achieved, nil, true
		case models.LocationCache:
			log.Warn().Err(err).Str("itemId", r.item.ID).Msg("Cache write failed, continuing")
		default:
			missing = append(missing, string(name))
		}
	}
	return achieved, missing, false
}

// writeWithRetry writes all records through one adapter, retrying transient
// failures with bounded exponential backoff. Every attempt appends a flow
// event; each attempt runs under the stage timeout so a hung store surfaces
// as a retryable failure. Cache gets a single attempt.
func (r *itemRun) writeWithRetry(ctx context.Context, adapter store.Adapter, stage models.Stage) error {
	maxAttempts := r.o.cfg.Retry.MaxRetries + 1
	if adapter.Name() == models.LocationCache {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(r.o.cfg.Retry.Backoff(attempt - 1))
			r.bumpRetry(stage)
		}

		start := time.Now()
		err := r.writeAll(ctx, adapter)
		if err == nil {
			r.appendEvent(&models.FlowEvent{
				Stage:            stage,
				Outcome:          models.OutcomeOK,
				ProcessingTimeMs: sinceMs(start),
				StorageLocations: models.JSONStringArray{string(adapter.Name())},
			})
			return nil
		}
		lastErr = err
		r.appendEvent(&models.FlowEvent{
			Stage:            stage,
			Outcome:          models.OutcomeError,
			ProcessingTimeMs: sinceMs(start),
			ErrorMessage:     err.Error(),
		})
	}
	return lastErr
}

func (r *itemRun) writeAll(ctx context.Context, adapter store.Adapter) error {
	wctx, cancel := context.WithTimeout(ctx, r.o.cfg.StageTimeout)
	defer cancel()
	for _, rec := range r.records {
		if err := adapter.Write(wctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *itemRun) bumpRetry(stage models.Stage) {
	if r.item.RetryCounts == nil {
		r.item.RetryCounts = models.JSONInt64Map{}
	}
	r.item.RetryCounts[string(stage)]++
	if err := r.o.items.SetRetryCount(context.Background(), r.item.ID, r.item.RetryCounts); err != nil {
		log.Error().Err(err).Str("itemId", r.item.ID).Msg("Failed to persist retry count")
	}
}

func stageForLocation(loc models.StorageLocation) models.Stage {
	switch loc {
	case models.LocationLedger:
		return models.StageStorageLedger
	case models.LocationGraph:
		return models.StageStorageGraph
	case models.LocationVector:
		return models.StageStorageVector
	case models.LocationCache:
		return models.StageStorageCache
	}
	return models.StageStorageLedger
}

func sinceMs(start time.Time) int64 {
	ms := time.Since(start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

// appendEvent assigns per-item sequencing and appends to the flow log.
func (r *itemRun) appendEvent(ev *models.FlowEvent) {
	r.seq++
	ev.ItemID = r.item.ID
	ev.SessionID = r.session.ID
	ev.Seq = r.seq
	if err := r.o.flow.Append(context.Background(), ev); err != nil {
		log.Error().Err(err).
			Str("itemId", r.item.ID).
			Str("stage", string(ev.Stage)).
			Msg("Failed to append flow event")
	}
	r.o.stageDuration.Record(context.Background(), float64(ev.ProcessingTimeMs))
}

// advance moves the item's current stage marker.
func (r *itemRun) advance(stage models.Stage) {
	r.item.CurrentStage = stage
	if err := r.o.items.AdvanceStage(context.Background(), r.item.ID, stage); err != nil {
		log.Error().Err(err).Str("itemId", r.item.ID).Msg("Failed to advance stage")
	}
}

// fail records a stage failure event, then moves the item to failed.
func (r *itemRun) fail(stage models.Stage, durMs int64, msg string) {
	r.appendEvent(&models.FlowEvent{
		Stage:            stage,
		Outcome:          models.OutcomeError,
		ProcessingTimeMs: durMs,
		ErrorMessage:     msg,
	})
	r.failTerminal(msg)
}

// failTerminal appends the terminal failed event and records the item's
// failed disposition. Callers have already appended the per-attempt error
// events for the failing stage.
func (r *itemRun) failTerminal(msg string) {
	r.appendEvent(&models.FlowEvent{
		Stage:        models.StageFailed,
		Outcome:      models.OutcomeError,
		ErrorMessage: msg,
	})
	r.item.CurrentStage = models.StageFailed
	if err := r.o.items.AdvanceStage(context.Background(), r.item.ID, models.StageFailed); err != nil {
		log.Error().Err(err).Str("itemId", r.item.ID).Msg("Failed to mark item failed")
	}
	if err := r.o.items.Finish(context.Background(), r.item.ID, models.ItemFailed, nil); err != nil {
		log.Error().Err(err).Str("itemId", r.item.ID).Msg("Failed to finish item")
	}
	r.o.itemsProcessed.Add(context.Background(), 1)
}

// finish records the terminal completed event and the item's disposition.
func (r *itemRun) finish(status models.ItemStatus, achieved, missing []string) {
	r.appendEvent(&models.FlowEvent{
		Stage:            models.StageCompleted,
		Outcome:          models.OutcomeOK,
		StorageLocations: models.JSONStringArray(achieved),
	})
	r.item.CurrentStage = models.StageCompleted
	if err := r.o.items.AdvanceStage(context.Background(), r.item.ID, models.StageCompleted); err != nil {
		log.Error().Err(err).Str("itemId", r.item.ID).Msg("Failed to advance stage")
	}
	if err := r.o.items.Finish(context.Background(), r.item.ID, status, missing); err != nil {
		log.Error().Err(err).Str("itemId", r.item.ID).Msg("Failed to finish item")
	}
	r.o.itemsProcessed.Add(context.Background(), 1)
}
