package ledger

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/thebtf/kiln/pkg/models"
)

// ModelStore persists prediction model versions.
type ModelStore struct {
	db *gorm.DB
}

// NewModelStore creates a prediction model store.
func NewModelStore(store *Store) *ModelStore {
	return &ModelStore{db: store.DB}
}

// Save inserts a new model version. Versions are immutable once written.
func (s *ModelStore) Save(ctx context.Context, m *models.PredictionModel) error {
	row := &PredictionModel{
		ModelID:             m.ModelID,
		Kind:                m.Kind,
		Version:             m.Version,
		Active:              m.Active,
		TrainingSampleCount: m.TrainingSampleCount,
		AccuracyMetric:      m.AccuracyMetric,
		Weights:             m.Weights,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	m.TrainedAt = row.TrainedAt
	m.TrainedAtEpoch = row.TrainedAtEpoch
	return nil
}

// Active returns the active model for a kind, or ErrNotFound when no model
// of that kind has been promoted yet.
func (s *ModelStore) Active(ctx context.Context, kind models.ModelKind) (*models.PredictionModel, error) {
	var row PredictionModel
	err := s.db.WithContext(ctx).
		First(&row, "kind = ? AND active = ?", kind, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toModelPredictionModel(&row), nil
}

// Promote marks the given model active and demotes the previous active
// model of the same kind, in one transaction. Demoted versions stay
// readable for rollback and accuracy comparison.
func (s *ModelStore) Promote(ctx context.Context, modelID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row PredictionModel
		if err := tx.First(&row, "model_id = ?", modelID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Model(&PredictionModel{}).
			Where("kind = ? AND active = ?", row.Kind, true).
			Update("active", false).Error; err != nil {
			return err
		}
		return tx.Model(&PredictionModel{}).
			Where("model_id = ?", modelID).
			Update("active", true).Error
	})
}

// NextVersion returns the next version number for a kind.
func (s *ModelStore) NextVersion(ctx context.Context, kind models.ModelKind) (int64, error) {
	var max int64
	err := s.db.WithContext(ctx).Model(&PredictionModel{}).
		Select("COALESCE(MAX(version), 0)").
		Where("kind = ?", kind).
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// Versions lists all stored versions of a kind, newest first.
func (s *ModelStore) Versions(ctx context.Context, kind models.ModelKind) ([]*models.PredictionModel, error) {
	var rows []PredictionModel
	err := s.db.WithContext(ctx).
		Where("kind = ?", kind).
		Order("version DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]*models.PredictionModel, len(rows))
	for i := range rows {
		result[i] = toModelPredictionModel(&rows[i])
	}
	return result, nil
}

func toModelPredictionModel(row *PredictionModel) *models.PredictionModel {
	return &models.PredictionModel{
		ModelID:             row.ModelID,
		Kind:                row.Kind,
		Version:             row.Version,
		Active:              row.Active,
		TrainedAt:           row.TrainedAt,
		TrainedAtEpoch:      row.TrainedAtEpoch,
		TrainingSampleCount: row.TrainingSampleCount,
		AccuracyMetric:      row.AccuracyMetric,
		Weights:             row.Weights,
	}
}

// RecordStore persists served predictions and their back-filled outcomes.
type RecordStore struct {
	db *gorm.DB
}

// NewRecordStore creates a prediction record store.
func NewRecordStore(store *Store) *RecordStore {
	return &RecordStore{db: store.DB}
}

// Save inserts a served prediction.
func (s *RecordStore) Save(ctx context.Context, r *models.PredictionRecord) error {
	row := &PredictionRecord{
		ID:             r.ID,
		PatternID:      r.PatternID,
		ModelID:        r.ModelID,
		PredictedValue: r.PredictedValue,
		Confidence:     r.Confidence,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	r.PredictedAtEpoch = row.PredictedAtEpoch
	return nil
}

// RecordOutcome back-fills the observed outcome for every prediction made
// on a pattern, turning those records into future training samples.
func (s *RecordStore) RecordOutcome(ctx context.Context, patternID string, outcome float64) (int64, error) {
	res := s.db.WithContext(ctx).Model(&PredictionRecord{}).
		Where("pattern_id = ? AND has_outcome = ?", patternID, false).
		Updates(map[string]interface{}{
			"has_outcome":    true,
			"actual_outcome": outcome,
		})
	return res.RowsAffected, res.Error
}

// WithOutcomes returns records whose ground truth has been recorded,
// oldest first. This is the training set for the next retrain.
func (s *RecordStore) WithOutcomes(ctx context.Context) ([]*models.PredictionRecord, error) {
	var rows []PredictionRecord
	err := s.db.WithContext(ctx).
		Where("has_outcome = ?", true).
		Order("predicted_at_epoch ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]*models.PredictionRecord, len(rows))
	for i := range rows {
		result[i] = &models.PredictionRecord{
			ID:               rows[i].ID,
			PatternID:        rows[i].PatternID,
			ModelID:          rows[i].ModelID,
			PredictedValue:   rows[i].PredictedValue,
			Confidence:       rows[i].Confidence,
			PredictedAtEpoch: rows[i].PredictedAtEpoch,
			HasOutcome:       rows[i].HasOutcome,
			ActualOutcome:    rows[i].ActualOutcome,
		}
	}
	return result, nil
}
