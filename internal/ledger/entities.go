package ledger

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/kiln/pkg/models"
)

// EntityStore provides entity persistence with (project, name, type)
// deduplication.
type EntityStore struct {
	db *gorm.DB
}

// NewEntityStore creates an entity store.
func NewEntityStore(store *Store) *EntityStore {
	return &EntityStore{db: store.DB}
}

// FindOrCreate inserts the entity unless (project, name, type) already
// exists, returning the canonical row either way. Single-statement
// insert-or-ignore against the unique index, safe under concurrency.
// Returns (entity, created, error).
func (s *EntityStore) FindOrCreate(ctx context.Context, e *models.Entity) (*models.Entity, bool, error) {
	row := &Entity{
		ID:         e.ID,
		Project:    e.Project,
		Name:       e.Name,
		Type:       e.Type,
		Confidence: e.Confidence,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project"}, {Name: "name"}, {Name: "type"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return nil, false, res.Error
	}

	if res.RowsAffected > 0 {
		return toModelEntity(row), true, nil
	}

	var existing Entity
	err := s.db.WithContext(ctx).
		First(&existing, "project = ? AND name = ? AND type = ?", e.Project, e.Name, e.Type).Error
	if err != nil {
		return nil, false, err
	}
	return toModelEntity(&existing), false, nil
}

// Get retrieves an entity by ID.
func (s *EntityStore) Get(ctx context.Context, id string) (*models.Entity, error) {
	var row Entity
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toModelEntity(&row), nil
}

// ByIDs retrieves entities by a list of IDs.
func (s *EntityStore) ByIDs(ctx context.Context, ids []string) ([]*models.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []Entity
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	entities := make([]*models.Entity, len(rows))
	for i := range rows {
		entities[i] = toModelEntity(&rows[i])
	}
	return entities, nil
}

func toModelEntity(row *Entity) *models.Entity {
	return &models.Entity{
		ID:               row.ID,
		Project:          row.Project,
		Name:             row.Name,
		Type:             row.Type,
		Confidence:       row.Confidence,
		FirstSeenAt:      row.FirstSeenAt,
		FirstSeenAtEpoch: row.FirstSeenAtEpoch,
	}
}
