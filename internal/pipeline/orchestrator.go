// Package pipeline drives each ingested item through the stage state
// machine, fanning writes out to the four store adapters. Stage transitions
// append flow events; retries use bounded exponential backoff from one
// shared policy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/thebtf/kiln/internal/config"
	"github.com/thebtf/kiln/internal/extractor"
	"github.com/thebtf/kiln/internal/flowlog"
	"github.com/thebtf/kiln/internal/ledger"
	"github.com/thebtf/kiln/internal/scoring"
	"github.com/thebtf/kiln/internal/store"
	"github.com/thebtf/kiln/pkg/models"
)

// ErrLedgerUnavailable is returned when a session cannot be created because
// the system of record is unreachable. This is the only condition that
// rejects an ingestion request synchronously.
var ErrLedgerUnavailable = errors.New("pipeline: ledger unavailable")

// ErrSessionNotActive is returned when items are submitted to a session that
// already left the active state.
var ErrSessionNotActive = errors.New("pipeline: session not active")

// Orchestrator owns the per-item stage machine and the store fan-out.
type Orchestrator struct {
	cfg      *config.Config
	ledger   *ledger.Store
	sessions *ledger.SessionStore
	items    *ledger.ItemStore
	entities *ledger.EntityStore
	patterns *ledger.PatternStore
	flow     *flowlog.Log
	ext      *extractor.Extractor
	scorer   *scoring.Scorer

	// Fan-out order: ledger first (required), cache last (best-effort).
	adapters []store.Adapter

	mu        sync.Mutex
	sems      map[models.SourceType]*semaphore.Weighted
	cancelled map[string]bool
	inflight  map[string]int

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	stageDuration  metric.Float64Histogram
	itemsProcessed metric.Int64Counter
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Config    *config.Config
	Ledger    *ledger.Store
	Sessions  *ledger.SessionStore
	Items     *ledger.ItemStore
	Entities  *ledger.EntityStore
	Patterns  *ledger.PatternStore
	Flow      *flowlog.Log
	Extractor *extractor.Extractor
	Scorer    *scoring.Scorer
	Adapters  []store.Adapter
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	meter := otel.Meter("kiln/pipeline")
	stageDuration, _ := meter.Float64Histogram("kiln.stage.duration_ms",
		metric.WithDescription("Stage processing time in milliseconds"))
	itemsProcessed, _ := meter.Int64Counter("kiln.items.processed",
		metric.WithDescription("Items reaching a terminal state"))

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:            deps.Config,
		ledger:         deps.Ledger,
		sessions:       deps.Sessions,
		items:          deps.Items,
		entities:       deps.Entities,
		patterns:       deps.Patterns,
		flow:           deps.Flow,
		ext:            deps.Extractor,
		scorer:         deps.Scorer,
		adapters:       deps.Adapters,
		sems:           make(map[models.SourceType]*semaphore.Weighted),
		cancelled:      make(map[string]bool),
		inflight:       make(map[string]int),
		baseCtx:        ctx,
		stop:           cancel,
		stageDuration:  stageDuration,
		itemsProcessed: itemsProcessed,
	}
}

// CreateSession opens a new ingestion session. The ledger must be reachable;
// everything downstream is asynchronous.
func (o *Orchestrator) CreateSession(ctx context.Context, sourceType models.SourceType, sourceName, project string) (*models.Session, error) {
	if !models.ValidSourceType(sourceType) {
		return nil, fmt.Errorf("pipeline: unknown source type %q", sourceType)
	}
	if err := o.ledger.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	session := &models.Session{
		ID:         uuid.NewString(),
		SourceType: sourceType,
		SourceName: sourceName,
		Project:    project,
	}
	if err := o.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("sourceType", string(sourceType)).
		Str("project", project).
		Msg("Session created")
	return session, nil
}

// Ingest submits one unit of raw content into a session and schedules its
// processing on the source type's worker pool. The returned item is the
// caller's handle for status queries.
func (o *Orchestrator) Ingest(ctx context.Context, sessionID string, payload string) (*models.Item, error) {
	items, err := o.IngestBatch(ctx, sessionID, []string{payload})
	if err != nil {
		return nil, err
	}
	return items[0], nil
}

// IngestBatch submits a batch of payloads into one session. Every item row
// is created and counted against the session before any processing is
// scheduled, so a fast item cannot finalize the session while later
// payloads of the same batch are still being admitted.
func (o *Orchestrator) IngestBatch(ctx context.Context, sessionID string, payloads []string) ([]*models.Item, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return nil, ErrSessionNotActive
	}

	items := make([]*models.Item, 0, len(payloads))
	for _, payload := range payloads {
		item := &models.Item{
			ID:          uuid.NewString(),
			SessionID:   session.ID,
			RawPayload:  payload,
			PayloadSize: int64(len(payload)),
			Fingerprint: models.Fingerprint(payload),
		}
		if err := o.items.Create(ctx, item); err != nil {
			// Items admitted before the failure still get processed.
			o.schedule(session, items)
			return items, fmt.Errorf("create item: %w", err)
		}
		items = append(items, item)
	}
	o.schedule(session, items)
	return items, nil
}

// schedule reserves the in-flight slots for the whole batch, then hands the
// items to the source type's worker pool.
func (o *Orchestrator) schedule(session *models.Session, items []*models.Item) {
	if len(items) == 0 {
		return
	}
	o.mu.Lock()
	o.inflight[session.ID] += len(items)
	o.mu.Unlock()

	sem := o.semFor(session.SourceType)
	for _, item := range items {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := sem.Acquire(o.baseCtx, 1); err != nil {
				o.itemDone(session.ID)
				return
			}
			defer sem.Release(1)
			o.processItem(session, item)
		}()
	}
}

// GetSessionStatus returns the session with its per-item stage summary.
func (o *Orchestrator) GetSessionStatus(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	items, err := o.items.BySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	summary := &models.SessionSummary{Session: *session}
	for _, it := range items {
		var retries int64
		for _, n := range it.RetryCounts {
			retries += n
		}
		summary.Items = append(summary.Items, models.ItemSummary{
			ID:           it.ID,
			CurrentStage: it.CurrentStage,
			Status:       it.Status,
			RetryTotal:   retries,
		})
	}
	return summary, nil
}

// ActiveSessions lists sessions still accepting items.
func (o *Orchestrator) ActiveSessions(ctx context.Context) ([]*models.Session, error) {
	return o.sessions.Active(ctx)
}

// CancelSession stops scheduling new items for the session. Items already
// inside storage stages run to completion; nothing is rolled back.
func (o *Orchestrator) CancelSession(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	o.cancelled[sessionID] = true
	o.mu.Unlock()
	err := o.sessions.Finish(ctx, sessionID, models.SessionCancelled)
	if errors.Is(err, ledger.ErrNotFound) {
		// Already terminal; cancellation is a no-op then.
		return nil
	}
	return err
}

// Shutdown stops accepting work and waits for in-flight items.
func (o *Orchestrator) Shutdown() {
	o.stop()
	o.wg.Wait()
}

// Wait blocks until all currently scheduled items finish. Test helper and
// drain hook for the CLI.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) semFor(sourceType models.SourceType) *semaphore.Weighted {
	o.mu.Lock()
	defer o.mu.Unlock()
	sem, ok := o.sems[sourceType]
	if !ok {
		sem = semaphore.NewWeighted(int64(o.cfg.WorkersFor(string(sourceType))))
		o.sems[sourceType] = sem
	}
	return sem
}

func (o *Orchestrator) isCancelled(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled[sessionID]
}

// itemDone decrements the session's in-flight count and, when it reaches
// zero, folds the aggregates and finishes the session.
func (o *Orchestrator) itemDone(sessionID string) {
	o.mu.Lock()
	o.inflight[sessionID]--
	remaining := o.inflight[sessionID]
	o.mu.Unlock()
	if remaining > 0 {
		return
	}

	ctx := context.Background()
	if err := o.sessions.RecalcCounters(ctx, sessionID); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to recalc session counters")
		return
	}

	items, err := o.items.BySession(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to load session items")
		return
	}
	status := models.SessionCompleted
	allFailed := len(items) > 0
	for _, it := range items {
		if it.Status != models.ItemFailed {
			allFailed = false
		}
	}
	if allFailed {
		status = models.SessionFailed
	}
	if err := o.sessions.Finish(ctx, sessionID, status); err != nil && !errors.Is(err, ledger.ErrNotFound) {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to finish session")
	}
}
