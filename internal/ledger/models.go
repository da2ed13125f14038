package ledger

import (
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/kiln/pkg/models"
)

// GORM row types. Conversions to pkg/models live next to each store.

// Session is the ledger row for an ingestion session.
type Session struct {
	ID               string               `gorm:"primaryKey"`
	SourceType       models.SourceType    `gorm:"type:text;check:source_type IN ('document', 'code', 'conversation', 'web_scrape', 'api_response');index;not null"`
	SourceName       string               `gorm:"not null"`
	Project          string               `gorm:"index;not null"`
	Status           models.SessionStatus `gorm:"type:text;default:'active';check:status IN ('active', 'completed', 'failed', 'cancelled');index"`
	StartedAt        string               `gorm:"not null"`
	StartedAtEpoch   int64                `gorm:"index:idx_sessions_started,sort:desc;not null"`
	CompletedAt      string
	CompletedAtEpoch int64

	ItemsProcessed    int     `gorm:"default:0"`
	PatternsGenerated int     `gorm:"default:0"`
	AvgQualityScore   float64 `gorm:"type:real;default:0"`
}

func (Session) TableName() string { return "sessions" }

// BeforeCreate hook to ensure timestamps are set.
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.StartedAtEpoch == 0 {
		s.StartedAtEpoch = time.Now().UnixMilli()
	}
	if s.StartedAt == "" {
		s.StartedAt = time.Now().Format(time.RFC3339)
	}
	if s.Status == "" {
		s.Status = models.SessionActive
	}
	return nil
}

// Item is the ledger row for one unit of raw content.
type Item struct {
	ID             string              `gorm:"primaryKey"`
	SessionID      string              `gorm:"index;not null"`
	RawPayload     string              `gorm:"type:text"`
	PayloadSize    int64               `gorm:"default:0"`
	Fingerprint    string              `gorm:"index;not null"`
	CurrentStage   models.Stage        `gorm:"type:text;default:'ingested';index"`
	Status         models.ItemStatus   `gorm:"type:text;default:'pending';check:status IN ('pending', 'completed', 'completed_partial', 'failed');index"`
	RetryCounts    models.JSONInt64Map `gorm:"type:text"`
	MissingStores  models.JSONStringArray `gorm:"type:text"`
	CreatedAtEpoch int64               `gorm:"not null"`
}

func (Item) TableName() string { return "items" }

// BeforeCreate hook to ensure defaults are set.
func (i *Item) BeforeCreate(tx *gorm.DB) error {
	if i.CreatedAtEpoch == 0 {
		i.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if i.CurrentStage == "" {
		i.CurrentStage = models.StageIngested
	}
	if i.Status == "" {
		i.Status = models.ItemPending
	}
	return nil
}

// FlowEvent is the append-only audit row for one stage transition.
// (item_id, seq) is unique; seq is assigned by the orchestrator so per-item
// ordering does not depend on timestamps.
type FlowEvent struct {
	EventID           string              `gorm:"primaryKey"`
	ItemID            string              `gorm:"index;uniqueIndex:idx_events_item_seq,priority:1;not null"`
	SessionID         string              `gorm:"index;not null"`
	Seq               int64               `gorm:"uniqueIndex:idx_events_item_seq,priority:2;not null"`
	Stage             models.Stage        `gorm:"type:text;index;not null"`
	Timestamp         string              `gorm:"not null"`
	TimestampEpoch    int64               `gorm:"index:idx_events_ts,sort:desc;not null"`
	ProcessingTimeMs  int64               `gorm:"default:0"`
	Outcome           models.EventOutcome `gorm:"type:text;check:outcome IN ('ok', 'error', 'duplicate');not null"`
	ErrorMessage      string              `gorm:"type:text"`
	PatternsExtracted int                 `gorm:"default:0"`
	QualityScore      float64             `gorm:"type:real;default:0"`
	StorageLocations  models.JSONStringArray `gorm:"type:text"`
}

func (FlowEvent) TableName() string { return "flow_events" }

// BeforeCreate hook to ensure timestamps are set.
func (e *FlowEvent) BeforeCreate(tx *gorm.DB) error {
	if e.TimestampEpoch == 0 {
		e.TimestampEpoch = time.Now().UnixMilli()
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().Format(time.RFC3339)
	}
	return nil
}

// Entity is the ledger row for a named concept. (project, name, type) is
// unique so concurrent find-or-create cannot produce duplicates.
type Entity struct {
	ID               string            `gorm:"primaryKey"`
	Project          string            `gorm:"uniqueIndex:idx_entities_scope,priority:1;not null"`
	Name             string            `gorm:"uniqueIndex:idx_entities_scope,priority:2;not null"`
	Type             models.EntityType `gorm:"type:text;uniqueIndex:idx_entities_scope,priority:3;not null"`
	Confidence       float64           `gorm:"type:real;default:0.5"`
	FirstSeenAt      string            `gorm:"not null"`
	FirstSeenAtEpoch int64             `gorm:"not null"`
}

func (Entity) TableName() string { return "entities" }

// BeforeCreate hook to ensure timestamps are set.
func (e *Entity) BeforeCreate(tx *gorm.DB) error {
	if e.FirstSeenAtEpoch == 0 {
		e.FirstSeenAtEpoch = time.Now().UnixMilli()
	}
	if e.FirstSeenAt == "" {
		e.FirstSeenAt = time.Now().Format(time.RFC3339)
	}
	if e.Confidence == 0 {
		e.Confidence = 0.5
	}
	return nil
}

// Pattern is the ledger row for a reusable knowledge unit.
// (project, fingerprint) is unique: re-extraction of materially identical
// content maps onto the existing row.
type Pattern struct {
	ID               string                 `gorm:"primaryKey"`
	Project          string                 `gorm:"uniqueIndex:idx_patterns_fp,priority:1;not null"`
	Fingerprint      string                 `gorm:"uniqueIndex:idx_patterns_fp,priority:2;not null"`
	Title            string                 `gorm:"not null"`
	Content          string                 `gorm:"type:text;not null"`
	Domain           string                 `gorm:"index"`
	QualityScore     float64                `gorm:"type:real;default:0;index:idx_patterns_quality,sort:desc"`
	EntityIDs        models.JSONStringArray `gorm:"type:text"`
	UsageCount       int64                  `gorm:"default:0"`
	ExtractorVersion string                 `gorm:"not null"`
	CreatedAt        string                 `gorm:"not null"`
	CreatedAtEpoch   int64                  `gorm:"index:idx_patterns_created,sort:desc;not null"`
	LastUsedAtEpoch  int64                  `gorm:"default:0"`
}

func (Pattern) TableName() string { return "patterns" }

// BeforeCreate hook to ensure timestamps are set.
func (p *Pattern) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAtEpoch == 0 {
		p.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if p.CreatedAt == "" {
		p.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// PredictionModel is one trained model version. Promotion flips the active
// flag inside a transaction so exactly one version per kind stays active.
type PredictionModel struct {
	ModelID             string                `gorm:"primaryKey"`
	Kind                models.ModelKind      `gorm:"type:text;uniqueIndex:idx_models_kind_version,priority:1;check:kind IN ('success', 'roi', 'strategy');not null"`
	Version             int64                 `gorm:"uniqueIndex:idx_models_kind_version,priority:2;not null"`
	Active              bool                  `gorm:"default:false;index"`
	TrainedAt           string                `gorm:"not null"`
	TrainedAtEpoch      int64                 `gorm:"not null"`
	TrainingSampleCount int64                 `gorm:"default:0"`
	AccuracyMetric      float64               `gorm:"type:real;default:0"`
	Weights             models.JSONFloat64Map `gorm:"type:text"`
}

func (PredictionModel) TableName() string { return "prediction_models" }

// BeforeCreate hook to ensure timestamps are set.
func (m *PredictionModel) BeforeCreate(tx *gorm.DB) error {
	if m.TrainedAtEpoch == 0 {
		m.TrainedAtEpoch = time.Now().UnixMilli()
	}
	if m.TrainedAt == "" {
		m.TrainedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// PredictionRecord is one served prediction, back-filled with the observed
// outcome once ground truth is known.
type PredictionRecord struct {
	ID               string  `gorm:"primaryKey"`
	PatternID        string  `gorm:"index;not null"`
	ModelID          string  `gorm:"index;not null"`
	PredictedValue   float64 `gorm:"type:real;not null"`
	Confidence       float64 `gorm:"type:real;default:0"`
	PredictedAtEpoch int64   `gorm:"index:idx_predictions_at,sort:desc;not null"`
	HasOutcome       bool    `gorm:"default:false;index"`
	ActualOutcome    float64 `gorm:"type:real;default:0"`
}

func (PredictionRecord) TableName() string { return "prediction_records" }

// BeforeCreate hook to ensure timestamps are set.
func (r *PredictionRecord) BeforeCreate(tx *gorm.DB) error {
	if r.PredictedAtEpoch == 0 {
		r.PredictedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}
