// Package scoring computes pattern quality scores. Score is a pure function
// of its inputs: the same pattern and context always produce the same score.
package scoring

import (
	"math"
	"strings"

	"github.com/thebtf/kiln/internal/config"
	"github.com/thebtf/kiln/pkg/models"
)

// Context carries the usage signals accompanying a pattern at scoring time.
type Context struct {
	// EntityConfidences are the confidences of the entities the pattern
	// references.
	EntityConfidences []float64
	// NowEpoch is the scoring reference time in epoch millis.
	NowEpoch int64
}

// halfLifeMs is the recency half-life: a pattern unused for this long
// contributes half the recency signal.
const halfLifeMs = 30 * 24 * int64(3600_000)

// Scorer computes quality scores with configured signal weights.
type Scorer struct {
	weights config.ScoringWeights
}

// New creates a scorer. Weights are normalized so the score stays in [0,1]
// regardless of configuration.
func New(weights config.ScoringWeights) *Scorer {
	total := weights.Structure + weights.Entities + weights.Reuse + weights.Recency
	if total <= 0 {
		weights = config.Default().Scoring
		total = weights.Structure + weights.Entities + weights.Reuse + weights.Recency
	}
	weights.Structure /= total
	weights.Entities /= total
	weights.Reuse /= total
	weights.Recency /= total
	return &Scorer{weights: weights}
}

// Score combines structural completeness, entity confidence, reuse and
// recency into a quality score in [0,1]. Each signal contributes
// monotonically: improving one signal with the others fixed never lowers
// the score.
func (s *Scorer) Score(p *models.Pattern, ctx Context) float64 {
	score := s.weights.Structure*structureSignal(p) +
		s.weights.Entities*entitySignal(ctx.EntityConfidences) +
		s.weights.Reuse*reuseSignal(p.UsageCount) +
		s.weights.Recency*recencySignal(p.LastUsedAtEpoch, ctx.NowEpoch)
	return clamp01(score)
}

// structureSignal rewards a title, multi-line content and code fences.
func structureSignal(p *models.Pattern) float64 {
	var signal float64
	if strings.TrimSpace(p.Title) != "" {
		signal += 0.3
	}
	lines := strings.Count(p.Content, "\n") + 1
	signal += 0.5 * float64(lines) / float64(lines+10)
	if strings.Contains(p.Content, "```") {
		signal += 0.2
	}
	return clamp01(signal)
}

// entitySignal is the mean entity confidence, 0 when no entities were tagged.
func entitySignal(confidences []float64) float64 {
	if len(confidences) == 0 {
		return 0
	}
	var sum float64
	for _, c := range confidences {
		sum += c
	}
	return clamp01(sum / float64(len(confidences)))
}

// reuseSignal saturates logarithmically: log1p(n) / (log1p(n) + 1).
// Strictly increasing in usage count, asymptotically 1.
func reuseSignal(usageCount int64) float64 {
	if usageCount <= 0 {
		return 0
	}
	l := math.Log1p(float64(usageCount))
	return l / (l + 1)
}

// recencySignal decays exponentially with time since last use, with a
// 30-day half-life. A never-used pattern contributes 0.
func recencySignal(lastUsedEpoch, nowEpoch int64) float64 {
	if lastUsedEpoch <= 0 || nowEpoch <= lastUsedEpoch {
		if lastUsedEpoch > 0 {
			return 1
		}
		return 0
	}
	age := float64(nowEpoch - lastUsedEpoch)
	return math.Exp(-math.Ln2 * age / float64(halfLifeMs))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
