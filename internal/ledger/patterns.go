package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/kiln/pkg/models"
)

// PatternStore provides pattern persistence with fingerprint deduplication.
type PatternStore struct {
	db *gorm.DB
}

// NewPatternStore creates a pattern store.
func NewPatternStore(store *Store) *PatternStore {
	return &PatternStore{db: store.DB}
}

// FindOrCreate inserts the pattern unless a row with the same
// (project, fingerprint) already exists, in which case the existing row is
// returned. The insert-or-ignore runs as a single statement against the
// unique index, so concurrent ingestion of near-identical content cannot
// create duplicates. Returns (pattern, created, error).
func (s *PatternStore) FindOrCreate(ctx context.Context, p *models.Pattern) (*models.Pattern, bool, error) {
	row := &Pattern{
		ID:               p.ID,
		Project:          p.Project,
		Fingerprint:      p.Fingerprint,
		Title:            p.Title,
		Content:          p.Content,
		Domain:           p.Domain,
		QualityScore:     p.QualityScore,
		EntityIDs:        p.EntityIDs,
		UsageCount:       p.UsageCount,
		ExtractorVersion: p.ExtractorVersion,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project"}, {Name: "fingerprint"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return nil, false, res.Error
	}

	created := res.RowsAffected > 0
	if created {
		return toModelPattern(row), true, nil
	}

	existing, err := s.byFingerprint(ctx, p.Project, p.Fingerprint)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Get retrieves a pattern by ID.
func (s *PatternStore) Get(ctx context.Context, id string) (*models.Pattern, error) {
	var row Pattern
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toModelPattern(&row), nil
}

// SetQualityScore records the computed quality score for a pattern.
func (s *PatternStore) SetQualityScore(ctx context.Context, id string, score float64) error {
	return s.db.WithContext(ctx).Model(&Pattern{}).
		Where("id = ?", id).
		Update("quality_score", score).Error
}

// TouchUsage increments usage_count and stamps last_used_at.
func (s *PatternStore) TouchUsage(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&Pattern{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"usage_count":        gorm.Expr("usage_count + 1"),
			"last_used_at_epoch": time.Now().UnixMilli(),
		}).Error
}

// ByProject returns patterns for a project, newest first.
func (s *PatternStore) ByProject(ctx context.Context, project string, limit int) ([]*models.Pattern, error) {
	var rows []Pattern
	q := s.db.WithContext(ctx).
		Where("project = ?", project).
		Order("created_at_epoch DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toModelPatterns(rows), nil
}

// All returns every stored pattern, oldest first. Used as the training
// corpus snapshot by the prediction engine.
func (s *PatternStore) All(ctx context.Context) ([]*models.Pattern, error) {
	var rows []Pattern
	if err := s.db.WithContext(ctx).Order("created_at_epoch ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toModelPatterns(rows), nil
}

func (s *PatternStore) byFingerprint(ctx context.Context, project, fingerprint string) (*models.Pattern, error) {
	var row Pattern
	err := s.db.WithContext(ctx).
		First(&row, "project = ? AND fingerprint = ?", project, fingerprint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toModelPattern(&row), nil
}

func toModelPattern(row *Pattern) *models.Pattern {
	return &models.Pattern{
		ID:               row.ID,
		Project:          row.Project,
		Title:            row.Title,
		Content:          row.Content,
		Domain:           row.Domain,
		Fingerprint:      row.Fingerprint,
		QualityScore:     row.QualityScore,
		EntityIDs:        row.EntityIDs,
		UsageCount:       row.UsageCount,
		ExtractorVersion: row.ExtractorVersion,
		CreatedAt:        row.CreatedAt,
		CreatedAtEpoch:   row.CreatedAtEpoch,
		LastUsedAtEpoch:  row.LastUsedAtEpoch,
	}
}

func toModelPatterns(rows []Pattern) []*models.Pattern {
	patterns := make([]*models.Pattern, len(rows))
	for i := range rows {
		patterns[i] = toModelPattern(&rows[i])
	}
	return patterns
}
