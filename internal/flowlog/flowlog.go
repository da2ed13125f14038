// Package flowlog maintains the append-only flow event log: the single
// source of truth for stage transitions. Dashboards and recovery tooling
// read events; nothing ever mutates one after it is written.
package flowlog

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/kiln/internal/ledger"
	"github.com/thebtf/kiln/pkg/models"
)

// Notifier receives every appended event, e.g. an SSE broadcaster.
type Notifier interface {
	Notify(ev *models.FlowEvent)
}

// Log appends flow events and fans them out to notifiers.
type Log struct {
	events    *ledger.EventStore
	notifiers []Notifier
	appended  metric.Int64Counter
}

// New creates the flow event log.
func New(events *ledger.EventStore, notifiers ...Notifier) *Log {
	meter := otel.Meter("kiln/flowlog")
	appended, _ := meter.Int64Counter("kiln.flow_events.appended",
		metric.WithDescription("Flow events appended to the log"))
	return &Log{events: events, notifiers: notifiers, appended: appended}
}

// Append assigns an event id, persists the event and notifies listeners.
// The caller fills ItemID, SessionID, Seq, Stage, Outcome and the optional
// payload fields.
func (l *Log) Append(ctx context.Context, ev *models.FlowEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if err := l.events.Append(ctx, ev); err != nil {
		return err
	}
	l.appended.Add(ctx, 1)

	for _, n := range l.notifiers {
		n.Notify(ev)
	}

	log.Debug().
		Str("itemId", ev.ItemID).
		Str("stage", string(ev.Stage)).
		Str("outcome", string(ev.Outcome)).
		Int64("seq", ev.Seq).
		Msg("Flow event appended")
	return nil
}

// ByItem returns an item's events in seq order.
func (l *Log) ByItem(ctx context.Context, itemID string) ([]*models.FlowEvent, error) {
	return l.events.ByItem(ctx, itemID)
}

// Recent returns the newest events across items.
func (l *Log) Recent(ctx context.Context, limit int) ([]*models.FlowEvent, error) {
	return l.events.Recent(ctx, limit)
}

// NextSeq returns the next per-item sequence number. Used by recovery
// tooling appending follow-up events after an item already finished.
func (l *Log) NextSeq(ctx context.Context, itemID string) (int64, error) {
	return l.events.NextSeq(ctx, itemID)
}
