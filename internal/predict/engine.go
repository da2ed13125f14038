// Package predict maintains the success, ROI and strategy models over the
// pattern corpus and serves predictions from the active version of each.
// Retraining is exclusive per kind and never promotes a model that fails to
// beat the active one's accuracy by the configured margin.
package predict

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiln/internal/config"
	"github.com/thebtf/kiln/internal/ledger"
	"github.com/thebtf/kiln/pkg/models"
)

// ErrRetrainInProgress is returned when Retrain is called for a kind that is
// already retraining. The request is rejected, not queued.
var ErrRetrainInProgress = errors.New("predict: retrain already in progress for this kind")

// ErrInsufficientData is returned when the training corpus is too small to
// produce a model worth comparing.
var ErrInsufficientData = errors.New("predict: insufficient training data")

const (
	minTrainingSamples = 8
	lowConfidence      = 0.2
)

// Prediction is one served estimate with its confidence.
type Prediction struct {
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
	ModelID    string  `json:"model_id,omitempty"`
}

// ROIContext carries caller-supplied context for ROI estimates.
type ROIContext struct {
	EffortHours float64 `json:"effort_hours,omitempty"`
}

// Engine serves predictions and owns retraining.
type Engine struct {
	cfg      *config.Config
	patterns *ledger.PatternStore
	models   *ledger.ModelStore
	records  *ledger.RecordStore

	mu    sync.Mutex
	locks map[models.ModelKind]*sync.Mutex
}

// NewEngine creates a prediction engine backed by the ledger.
func NewEngine(cfg *config.Config, patterns *ledger.PatternStore, modelStore *ledger.ModelStore, records *ledger.RecordStore) *Engine {
	return &Engine{
		cfg:      cfg,
		patterns: patterns,
		models:   modelStore,
		records:  records,
		locks:    make(map[models.ModelKind]*sync.Mutex),
	}
}

// PredictSuccess estimates the probability that reusing the pattern
// succeeds. Patterns with too little feature data get a neutral
// low-confidence default instead of an error.
func (e *Engine) PredictSuccess(ctx context.Context, patternID string) (*Prediction, error) {
	pattern, err := e.patterns.Get(ctx, patternID)
	if err != nil {
		return nil, err
	}

	f := features(pattern, time.Now().UnixMilli())
	if sparse(f) {
		return &Prediction{Value: 0.5, Confidence: lowConfidence}, nil
	}

	weights, model := e.activeWeights(ctx, models.ModelSuccess, defaultSuccessWeights())
	pred := &Prediction{
		Value:      sigmoid(dot(weights, f)),
		Confidence: e.confidenceFor(model),
	}
	if model != nil {
		pred.ModelID = model.ModelID
	}
	e.record(ctx, pattern.ID, pred)
	return pred, nil
}

// PredictROI estimates return on investment for applying the pattern,
// scaled down when the caller declares a large effort.
func (e *Engine) PredictROI(ctx context.Context, patternID string, roiCtx ROIContext) (*Prediction, error) {
	pattern, err := e.patterns.Get(ctx, patternID)
	if err != nil {
		return nil, err
	}

	f := features(pattern, time.Now().UnixMilli())
	if sparse(f) {
		return &Prediction{Value: 0.0, Confidence: lowConfidence}, nil
	}

	weights, model := e.activeWeights(ctx, models.ModelROI, defaultROIWeights())
	estimate := dot(weights, f)
	if roiCtx.EffortHours > 0 {
		estimate /= 1 + roiCtx.EffortHours/40
	}
	pred := &Prediction{
		Value:      estimate,
		Confidence: e.confidenceFor(model),
	}
	if model != nil {
		pred.ModelID = model.ModelID
	}
	e.record(ctx, pattern.ID, pred)
	return pred, nil
}

// RecommendStrategy returns implementation strategies ranked best-first.
func (e *Engine) RecommendStrategy(ctx context.Context, patternID string) ([]models.StrategyOption, error) {
	pattern, err := e.patterns.Get(ctx, patternID)
	if err != nil {
		return nil, err
	}

	f := features(pattern, time.Now().UnixMilli())
	if sparse(f) {
		return []models.StrategyOption{
			{Strategy: "build_new", Score: 0.5, Rationale: "pattern has too little history to recommend reuse"},
		}, nil
	}

	weights, _ := e.activeWeights(ctx, models.ModelStrategy, defaultStrategyWeights())
	fitness := clamp01(sigmoid(dot(weights, f)))

	options := []models.StrategyOption{
		{
			Strategy:  "reuse_existing",
			Score:     fitness,
			Rationale: "proven pattern with reuse history and entity coverage",
		},
		{
			Strategy:  "adapt_pattern",
			Score:     clamp01(fitness*0.7 + 0.2),
			Rationale: "pattern fits partially; adapt it to the target context",
		},
		{
			Strategy:  "build_new",
			Score:     clamp01(1 - fitness),
			Rationale: "pattern signal is weak; a fresh implementation is safer",
		},
	}
	sortOptions(options)
	return options, nil
}

// RecordOutcome back-fills the observed outcome onto every open prediction
// record for the pattern and bumps the pattern's reuse counters.
func (e *Engine) RecordOutcome(ctx context.Context, patternID string, outcome float64) (int64, error) {
	if _, err := e.patterns.Get(ctx, patternID); err != nil {
		return 0, err
	}
	updated, err := e.records.RecordOutcome(ctx, patternID, outcome)
	if err != nil {
		return 0, err
	}
	if err := e.patterns.TouchUsage(ctx, patternID); err != nil {
		log.Warn().Err(err).Str("patternId", patternID).Msg("Failed to bump pattern usage")
	}
	return updated, nil
}

// activeWeights returns the active model's weights for the kind, or the
// built-in defaults when no model has been trained yet.
func (e *Engine) activeWeights(ctx context.Context, kind models.ModelKind, fallback map[string]float64) (map[string]float64, *models.PredictionModel) {
	model, err := e.models.Active(ctx, kind)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			log.Warn().Err(err).Str("kind", string(kind)).Msg("Failed to load active model, using defaults")
		}
		return fallback, nil
	}
	if len(model.Weights) == 0 {
		return fallback, model
	}
	return map[string]float64(model.Weights), model
}

// confidenceFor scales confidence with the active model's measured accuracy.
// Untrained defaults stay low-confidence.
func (e *Engine) confidenceFor(model *models.PredictionModel) float64 {
	if model == nil {
		return 0.4
	}
	return clamp01(0.4 + 0.6*model.AccuracyMetric)
}

func (e *Engine) record(ctx context.Context, patternID string, pred *Prediction) {
	rec := &models.PredictionRecord{
		ID:             uuid.NewString(),
		PatternID:      patternID,
		ModelID:        pred.ModelID,
		PredictedValue: pred.Value,
		Confidence:     pred.Confidence,
	}
	if err := e.records.Save(ctx, rec); err != nil {
		log.Warn().Err(err).Str("patternId", patternID).Msg("Failed to save prediction record")
	}
}

func (e *Engine) lockFor(kind models.ModelKind) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[kind]
	if !ok {
		l = &sync.Mutex{}
		e.locks[kind] = l
	}
	return l
}

func sortOptions(options []models.StrategyOption) {
	sort.Slice(options, func(i, j int) bool {
		return options[i].Score > options[j].Score
	})
}

func defaultSuccessWeights() map[string]float64 {
	return map[string]float64{
		featBias:     -1.0,
		featQuality:  2.0,
		featUsage:    1.5,
		featEntities: 0.5,
		featLength:   0.3,
		featRecency:  0.7,
	}
}

func defaultROIWeights() map[string]float64 {
	return map[string]float64{
		featBias:     0.0,
		featQuality:  1.2,
		featUsage:    1.8,
		featEntities: 0.4,
		featLength:   0.2,
		featRecency:  0.4,
	}
}

func defaultStrategyWeights() map[string]float64 {
	return map[string]float64{
		featBias:     -0.5,
		featQuality:  1.5,
		featUsage:    1.2,
		featEntities: 0.6,
		featLength:   0.2,
		featRecency:  0.5,
	}
}
