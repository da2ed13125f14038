package models

// ModelKind identifies one of the prediction model families.
type ModelKind string

const (
	ModelSuccess  ModelKind = "success"
	ModelROI      ModelKind = "roi"
	ModelStrategy ModelKind = "strategy"
)

// ValidModelKind reports whether k names a known model family.
func ValidModelKind(k ModelKind) bool {
	switch k {
	case ModelSuccess, ModelROI, ModelStrategy:
		return true
	}
	return false
}

// PredictionModel is one trained model version. Exactly one version per kind
// is active at a time; older versions are retained read-only for rollback
// and accuracy comparison.
type PredictionModel struct {
	ModelID             string         `db:"model_id" json:"model_id"`
	Kind                ModelKind      `db:"kind" json:"kind"`
	Version             int64          `db:"version" json:"version"`
	Active              bool           `db:"active" json:"active"`
	TrainedAt           string         `db:"trained_at" json:"trained_at"`
	TrainedAtEpoch      int64          `db:"trained_at_epoch" json:"trained_at_epoch"`
	TrainingSampleCount int64          `db:"training_sample_count" json:"training_sample_count"`
	AccuracyMetric      float64        `db:"accuracy_metric" json:"accuracy_metric"`
	Weights             JSONFloat64Map `db:"weights" json:"weights,omitempty"`
}

// PredictionRecord is one served prediction, later back-filled with the
// observed outcome so it can feed the next training run.
type PredictionRecord struct {
	ID               string  `db:"id" json:"id"`
	PatternID        string  `db:"pattern_id" json:"pattern_id"`
	ModelID          string  `db:"model_id" json:"model_id"`
	PredictedValue   float64 `db:"predicted_value" json:"predicted_value"`
	Confidence       float64 `db:"confidence" json:"confidence"`
	PredictedAtEpoch int64   `db:"predicted_at_epoch" json:"predicted_at_epoch"`
	HasOutcome       bool    `db:"has_outcome" json:"has_outcome"`
	ActualOutcome    float64 `db:"actual_outcome" json:"actual_outcome,omitempty"`
}

// StrategyOption is one ranked implementation strategy recommendation.
type StrategyOption struct {
	Strategy  string  `json:"strategy"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale,omitempty"`
}
