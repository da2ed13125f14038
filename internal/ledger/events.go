package ledger

import (
	"context"

	"gorm.io/gorm"

	"github.com/thebtf/kiln/pkg/models"
)

// EventStore provides append-only flow event persistence. Rows are never
// updated or deleted; reconciliation appends follow-up events instead.
type EventStore struct {
	db *gorm.DB
}

// NewEventStore creates a flow event store.
func NewEventStore(store *Store) *EventStore {
	return &EventStore{db: store.DB}
}

// Append writes one flow event. The caller assigns Seq; the unique
// (item_id, seq) index rejects out-of-order double writes.
func (s *EventStore) Append(ctx context.Context, ev *models.FlowEvent) error {
	row := &FlowEvent{
		EventID:           ev.EventID,
		ItemID:            ev.ItemID,
		SessionID:         ev.SessionID,
		Seq:               ev.Seq,
		Stage:             ev.Stage,
		ProcessingTimeMs:  ev.ProcessingTimeMs,
		Outcome:           ev.Outcome,
		ErrorMessage:      ev.ErrorMessage,
		PatternsExtracted: ev.PatternsExtracted,
		QualityScore:      ev.QualityScore,
		StorageLocations:  ev.StorageLocations,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	ev.Timestamp = row.Timestamp
	ev.TimestampEpoch = row.TimestampEpoch
	return nil
}

// ByItem returns all events of one item in seq order.
func (s *EventStore) ByItem(ctx context.Context, itemID string) ([]*models.FlowEvent, error) {
	var rows []FlowEvent
	err := s.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toModelEvents(rows), nil
}

// Recent returns the newest events across all items, newest first.
func (s *EventStore) Recent(ctx context.Context, limit int) ([]*models.FlowEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []FlowEvent
	err := s.db.WithContext(ctx).
		Order("timestamp_epoch DESC, seq DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toModelEvents(rows), nil
}

// NextSeq returns the next per-item sequence number.
func (s *EventStore) NextSeq(ctx context.Context, itemID string) (int64, error) {
	var max int64
	err := s.db.WithContext(ctx).Model(&FlowEvent{}).
		Select("COALESCE(MAX(seq), 0)").
		Where("item_id = ?", itemID).
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func toModelEvents(rows []FlowEvent) []*models.FlowEvent {
	events := make([]*models.FlowEvent, len(rows))
	for i := range rows {
		events[i] = toModelEvent(&rows[i])
	}
	return events
}

func toModelEvent(row *FlowEvent) *models.FlowEvent {
	return &models.FlowEvent{
		EventID:           row.EventID,
		ItemID:            row.ItemID,
		SessionID:         row.SessionID,
		Seq:               row.Seq,
		Stage:             row.Stage,
		Timestamp:         row.Timestamp,
		TimestampEpoch:    row.TimestampEpoch,
		ProcessingTimeMs:  row.ProcessingTimeMs,
		Outcome:           row.Outcome,
		ErrorMessage:      row.ErrorMessage,
		PatternsExtracted: row.PatternsExtracted,
		QualityScore:      row.QualityScore,
		StorageLocations:  row.StorageLocations,
	}
}
