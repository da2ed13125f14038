package ledger

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/thebtf/kiln/pkg/models"
)

// ItemStore provides item persistence.
type ItemStore struct {
	db *gorm.DB
}

// NewItemStore creates an item store.
func NewItemStore(store *Store) *ItemStore {
	return &ItemStore{db: store.DB}
}

// Create inserts a new pending item.
func (s *ItemStore) Create(ctx context.Context, item *models.Item) error {
	row := &Item{
		ID:            item.ID,
		SessionID:     item.SessionID,
		RawPayload:    item.RawPayload,
		PayloadSize:   item.PayloadSize,
		Fingerprint:   item.Fingerprint,
		RetryCounts:   models.JSONInt64Map{},
		MissingStores: models.JSONStringArray{},
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	item.CurrentStage = row.CurrentStage
	item.Status = row.Status
	item.CreatedAtEpoch = row.CreatedAtEpoch
	return nil
}

// Get retrieves an item by ID.
func (s *ItemStore) Get(ctx context.Context, id string) (*models.Item, error) {
	var row Item
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toModelItem(&row), nil
}

// BySession returns all items of a session in creation order.
func (s *ItemStore) BySession(ctx context.Context, sessionID string) ([]*models.Item, error) {
	var rows []Item
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at_epoch ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	items := make([]*models.Item, len(rows))
	for i := range rows {
		items[i] = toModelItem(&rows[i])
	}
	return items, nil
}

// AdvanceStage moves the item to the given stage.
func (s *ItemStore) AdvanceStage(ctx context.Context, id string, stage models.Stage) error {
	return s.db.WithContext(ctx).Model(&Item{}).
		Where("id = ?", id).
		Update("current_stage", stage).Error
}

// SetRetryCount records the retry counter for one stage of the item.
func (s *ItemStore) SetRetryCount(ctx context.Context, id string, counts models.JSONInt64Map) error {
	return s.db.WithContext(ctx).Model(&Item{}).
		Where("id = ?", id).
		Update("retry_counts", counts).Error
}

// Finish sets the terminal status and, for partial completions, the stores
// still missing their write.
func (s *ItemStore) Finish(ctx context.Context, id string, status models.ItemStatus, missing []string) error {
	updates := map[string]interface{}{
		"status":         status,
		"missing_stores": models.JSONStringArray(missing),
	}
	if status == models.ItemCompleted || status == models.ItemFailed {
		updates["missing_stores"] = models.JSONStringArray{}
	}
	return s.db.WithContext(ctx).Model(&Item{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Partials returns items completed with at least one missing store.
// The reconciler retries only those writes.
func (s *ItemStore) Partials(ctx context.Context, limit int) ([]*models.Item, error) {
	var rows []Item
	q := s.db.WithContext(ctx).
		Where("status = ?", models.ItemCompletedPartial).
		Order("created_at_epoch ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]*models.Item, len(rows))
	for i := range rows {
		items[i] = toModelItem(&rows[i])
	}
	return items, nil
}

// CompletedByFingerprint reports whether an item with the same fingerprint
// already completed within the project. Used for the idempotent
// short-circuit on re-ingestion.
func (s *ItemStore) CompletedByFingerprint(ctx context.Context, project, fingerprint string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Item{}).
		Joins("JOIN sessions ON sessions.id = items.session_id").
		Where("sessions.project = ? AND items.fingerprint = ? AND items.status IN ?",
			project, fingerprint,
			[]models.ItemStatus{models.ItemCompleted, models.ItemCompletedPartial}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func toModelItem(row *Item) *models.Item {
	return &models.Item{
		ID:             row.ID,
		SessionID:      row.SessionID,
		RawPayload:     row.RawPayload,
		PayloadSize:    row.PayloadSize,
		Fingerprint:    row.Fingerprint,
		CurrentStage:   row.CurrentStage,
		Status:         row.Status,
		CreatedAtEpoch: row.CreatedAtEpoch,
		RetryCounts:    row.RetryCounts,
		MissingStores:  row.MissingStores,
	}
}
