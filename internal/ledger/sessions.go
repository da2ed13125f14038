package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/kiln/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("ledger: not found")

// SessionStore provides session persistence.
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore creates a session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{db: store.DB}
}

// Create inserts a new active session.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	row := &Session{
		ID:         session.ID,
		SourceType: session.SourceType,
		SourceName: session.SourceName,
		Project:    session.Project,
		Status:     models.SessionActive,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	session.Status = row.Status
	session.StartedAt = row.StartedAt
	session.StartedAtEpoch = row.StartedAtEpoch
	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var row Session
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toModelSession(&row), nil
}

// Active returns all sessions still in the active state, newest first.
func (s *SessionStore) Active(ctx context.Context) ([]*models.Session, error) {
	var rows []Session
	err := s.db.WithContext(ctx).
		Where("status = ?", models.SessionActive).
		Order("started_at_epoch DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	sessions := make([]*models.Session, len(rows))
	for i := range rows {
		sessions[i] = toModelSession(&rows[i])
	}
	return sessions, nil
}

// Finish moves a session out of the active state and freezes its counters.
// A session is immutable once its status leaves active.
func (s *SessionStore) Finish(ctx context.Context, id string, status models.SessionStatus) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND status = ?", id, models.SessionActive).
		Updates(map[string]interface{}{
			"status":             status,
			"completed_at":       now.Format(time.RFC3339),
			"completed_at_epoch": now.UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecalcCounters folds the session's aggregate counters from its items'
// flow events, so the stored aggregates never drift from the event log.
func (s *SessionStore) RecalcCounters(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var processed int64
		if err := tx.Model(&Item{}).
			Where("session_id = ? AND status IN ?", id,
				[]models.ItemStatus{models.ItemCompleted, models.ItemCompletedPartial, models.ItemFailed}).
			Count(&processed).Error; err != nil {
			return err
		}

		var patterns int64
		if err := tx.Model(&FlowEvent{}).
			Select("COALESCE(SUM(patterns_extracted), 0)").
			Where("session_id = ? AND stage = ? AND outcome = ?", id, models.StagePatternExtraction, models.OutcomeOK).
			Scan(&patterns).Error; err != nil {
			return err
		}

		var avgScore float64
		if err := tx.Model(&FlowEvent{}).
			Select("COALESCE(AVG(NULLIF(quality_score, 0)), 0)").
			Where("session_id = ? AND stage = ? AND outcome = ?", id, models.StageQualityScoring, models.OutcomeOK).
			Scan(&avgScore).Error; err != nil {
			return err
		}

		return tx.Model(&Session{}).Where("id = ?", id).Updates(map[string]interface{}{
			"items_processed":    processed,
			"patterns_generated": patterns,
			"avg_quality_score":  avgScore,
		}).Error
	})
}

func toModelSession(row *Session) *models.Session {
	return &models.Session{
		ID:                row.ID,
		SourceType:        row.SourceType,
		SourceName:        row.SourceName,
		Project:           row.Project,
		Status:            row.Status,
		StartedAt:         row.StartedAt,
		StartedAtEpoch:    row.StartedAtEpoch,
		CompletedAt:       row.CompletedAt,
		CompletedAtEpoch:  row.CompletedAtEpoch,
		ItemsProcessed:    row.ItemsProcessed,
		PatternsGenerated: row.PatternsGenerated,
		AvgQualityScore:   row.AvgQualityScore,
	}
}
