package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiln/internal/ledger"
	"github.com/thebtf/kiln/pkg/models"
)

const (
	trainEpochs       = 400
	trainLearningRate = 0.1
)

type sample struct {
	features map[string]float64
	target   float64
}

// Retrain trains a fresh model version for the kind from all prediction
// records with back-filled outcomes. Only one retrain per kind runs at a
// time; a concurrent call is rejected with ErrRetrainInProgress. The new
// version is always saved, but it is promoted to active only when its
// accuracy beats the current active model's by the configured margin.
func (e *Engine) Retrain(ctx context.Context, kind models.ModelKind) (*models.PredictionModel, error) {
	if !models.ValidModelKind(kind) {
		return nil, fmt.Errorf("predict: unknown model kind %q", kind)
	}

	lock := e.lockFor(kind)
	if !lock.TryLock() {
		return nil, ErrRetrainInProgress
	}
	defer lock.Unlock()

	samples, err := e.trainingSamples(ctx)
	if err != nil {
		return nil, err
	}
	if len(samples) < minTrainingSamples {
		return nil, fmt.Errorf("%w: have %d samples, need %d", ErrInsufficientData, len(samples), minTrainingSamples)
	}

	var weights map[string]float64
	var accuracy float64
	switch kind {
	case models.ModelROI:
		weights = trainLinear(samples)
		accuracy = regressionAccuracy(weights, samples)
	default:
		weights = trainLogistic(samples)
		accuracy = classificationAccuracy(weights, samples)
	}

	version, err := e.models.NextVersion(ctx, kind)
	if err != nil {
		return nil, err
	}
	model := &models.PredictionModel{
		ModelID:             uuid.NewString(),
		Kind:                kind,
		Version:             version,
		TrainingSampleCount: int64(len(samples)),
		AccuracyMetric:      accuracy,
		Weights:             models.JSONFloat64Map(weights),
	}
	if err := e.models.Save(ctx, model); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}

	active, err := e.models.Active(ctx, kind)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}
	if active != nil && accuracy <= active.AccuracyMetric+e.cfg.PromoteMargin {
		// Regression guard: the comparison is kept on the stored row for
		// inspection, the active model stays.
		log.Info().
			Str("kind", string(kind)).
			Int64("version", version).
			Float64("newAccuracy", accuracy).
			Float64("activeAccuracy", active.AccuracyMetric).
			Msg("Retrained model not promoted")
		return model, nil
	}

	if err := e.models.Promote(ctx, model.ModelID); err != nil {
		return nil, fmt.Errorf("promote model: %w", err)
	}
	model.Active = true
	log.Info().
		Str("kind", string(kind)).
		Int64("version", version).
		Float64("accuracy", accuracy).
		Int("samples", len(samples)).
		Msg("Model promoted")
	return model, nil
}

// trainingSamples joins outcome-bearing prediction records with their
// patterns' current feature vectors.
func (e *Engine) trainingSamples(ctx context.Context) ([]sample, error) {
	records, err := e.records.WithOutcomes(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	patternCache := make(map[string]map[string]float64)
	samples := make([]sample, 0, len(records))
	for _, rec := range records {
		f, ok := patternCache[rec.PatternID]
		if !ok {
			pattern, err := e.patterns.Get(ctx, rec.PatternID)
			if errors.Is(err, ledger.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			f = features(pattern, now)
			patternCache[rec.PatternID] = f
		}
		samples = append(samples, sample{features: f, target: rec.ActualOutcome})
	}
	return samples, nil
}

// trainLogistic fits a logistic model by batch gradient descent. Targets
// above 0.5 are treated as positive outcomes.
func trainLogistic(samples []sample) map[string]float64 {
	weights := zeroWeights()
	n := float64(len(samples))
	for epoch := 0; epoch < trainEpochs; epoch++ {
		grads := zeroWeights()
		for _, s := range samples {
			target := 0.0
			if s.target > 0.5 {
				target = 1.0
			}
			err := sigmoid(dot(weights, s.features)) - target
			grads[featBias] += err
			for _, name := range featureNames {
				grads[name] += err * s.features[name]
			}
		}
		for name, g := range grads {
			weights[name] -= trainLearningRate * g / n
		}
	}
	return weights
}

// trainLinear fits a linear model by batch gradient descent.
func trainLinear(samples []sample) map[string]float64 {
	weights := zeroWeights()
	n := float64(len(samples))
	for epoch := 0; epoch < trainEpochs; epoch++ {
		grads := zeroWeights()
		for _, s := range samples {
			err := dot(weights, s.features) - s.target
			grads[featBias] += err
			for _, name := range featureNames {
				grads[name] += err * s.features[name]
			}
		}
		for name, g := range grads {
			weights[name] -= trainLearningRate * g / n
		}
	}
	return weights
}

// classificationAccuracy is the fraction of samples whose thresholded
// prediction matches the thresholded target.
func classificationAccuracy(weights map[string]float64, samples []sample) float64 {
	correct := 0
	for _, s := range samples {
		predicted := sigmoid(dot(weights, s.features)) > 0.5
		actual := s.target > 0.5
		if predicted == actual {
			correct++
		}
	}
	return float64(correct) / float64(len(samples))
}

// regressionAccuracy maps mean absolute error into (0,1], higher is better.
func regressionAccuracy(weights map[string]float64, samples []sample) float64 {
	var sumAbs float64
	for _, s := range samples {
		sumAbs += math.Abs(dot(weights, s.features) - s.target)
	}
	mae := sumAbs / float64(len(samples))
	return 1 / (1 + mae)
}

func zeroWeights() map[string]float64 {
	w := map[string]float64{featBias: 0}
	for _, name := range featureNames {
		w[name] = 0
	}
	return w
}

// StartScheduler retrains every model kind on a fixed interval until ctx is
// cancelled. Kinds without enough back-filled outcomes are skipped quietly.
func (e *Engine) StartScheduler(ctx context.Context) {
	if e.cfg.RetrainEvery <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.RetrainEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, kind := range []models.ModelKind{models.ModelSuccess, models.ModelROI, models.ModelStrategy} {
					_, err := e.Retrain(ctx, kind)
					switch {
					case err == nil:
					case errors.Is(err, ErrInsufficientData), errors.Is(err, ErrRetrainInProgress):
						log.Debug().Err(err).Str("kind", string(kind)).Msg("Scheduled retrain skipped")
					default:
						log.Error().Err(err).Str("kind", string(kind)).Msg("Scheduled retrain failed")
					}
				}
			}
		}
	}()
}
