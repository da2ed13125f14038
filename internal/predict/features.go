package predict

import (
	"math"
	"time"

	"github.com/thebtf/kiln/pkg/models"
)

// Feature names double as weight map keys so a trained model's coefficients
// stay readable in the ledger row.
const (
	featBias     = "bias"
	featQuality  = "quality"
	featUsage    = "usage"
	featEntities = "entities"
	featLength   = "length"
	featRecency  = "recency"
)

var featureNames = []string{featQuality, featUsage, featEntities, featLength, featRecency}

// features extracts the model input vector from a pattern. All features are
// squashed into [0,1] so default weights behave sanely before any training
// has happened.
func features(p *models.Pattern, nowEpoch int64) map[string]float64 {
	usage := float64(p.UsageCount)
	length := float64(len(p.Content))

	var recency float64
	if p.LastUsedAtEpoch > 0 {
		ageDays := float64(nowEpoch-p.LastUsedAtEpoch) / float64(24*time.Hour.Milliseconds())
		if ageDays < 0 {
			ageDays = 0
		}
		recency = math.Exp(-ageDays / 30)
	}

	return map[string]float64{
		featQuality:  p.QualityScore,
		featUsage:    usage / (usage + 5),
		featEntities: float64(len(p.EntityIDs)) / (float64(len(p.EntityIDs)) + 3),
		featLength:   length / (length + 2000),
		featRecency:  recency,
	}
}

// sparse reports whether the pattern carries too little signal for a
// meaningful prediction. Callers return a low-confidence default instead of
// an error in that case.
func sparse(f map[string]float64) bool {
	return f[featQuality] == 0 && f[featUsage] == 0 && f[featEntities] == 0
}

func dot(weights, f map[string]float64) float64 {
	sum := weights[featBias]
	for _, name := range featureNames {
		sum += weights[name] * f[name]
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
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
