package predict

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/kiln/internal/config"
	"github.com/thebtf/kiln/internal/ledger"
	"github.com/thebtf/kiln/pkg/models"
)

type testEngine struct {
	engine   *Engine
	patterns *ledger.PatternStore
	records  *ledger.RecordStore
	models   *ledger.ModelStore
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	store, err := ledger.NewStore(ledger.Config{
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		MaxConns:   4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	patterns := ledger.NewPatternStore(store)
	modelStore := ledger.NewModelStore(store)
	records := ledger.NewRecordStore(store)
	return &testEngine{
		engine:   NewEngine(config.Default(), patterns, modelStore, records),
		patterns: patterns,
		records:  records,
		models:   modelStore,
	}
}

func (te *testEngine) createPattern(t *testing.T, quality float64, usage int64, entityIDs ...string) *models.Pattern {
	t.Helper()
	content := fmt.Sprintf("pattern content %s", uuid.NewString())
	p, created, err := te.patterns.FindOrCreate(context.Background(), &models.Pattern{
		ID:           uuid.NewString(),
		Project:      "testproj",
		Title:        "Test pattern",
		Content:      content,
		Fingerprint:  models.Fingerprint(content),
		QualityScore: quality,
		UsageCount:   usage,
		EntityIDs:    models.JSONStringArray(entityIDs),
	})
	require.NoError(t, err)
	require.True(t, created)
	return p
}

// seedOutcomes records n outcome-bearing predictions for the pattern.
func (te *testEngine) seedOutcomes(t *testing.T, patternID string, n int, outcome float64) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, te.records.Save(ctx, &models.PredictionRecord{
			ID:        uuid.NewString(),
			PatternID: patternID,
		}))
	}
	updated, err := te.records.RecordOutcome(ctx, patternID, outcome)
	require.NoError(t, err)
	require.Equal(t, int64(n), updated)
}

func TestPredictSuccess_SparsePatternGetsLowConfidenceDefault(t *testing.T) {
	te := newTestEngine(t)
	p := te.createPattern(t, 0, 0)

	pred, err := te.engine.PredictSuccess(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, pred.Value)
	assert.Equal(t, lowConfidence, pred.Confidence)
}

func TestPredictSuccess_UsesDefaultsWithoutTrainedModel(t *testing.T) {
	te := newTestEngine(t)
	p := te.createPattern(t, 0.9, 12, "ent-1", "ent-2")

	pred, err := te.engine.PredictSuccess(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Greater(t, pred.Value, 0.0)
	assert.Less(t, pred.Value, 1.0)
	assert.Empty(t, pred.ModelID)
}

func TestPredictSuccess_MissingPattern(t *testing.T) {
	te := newTestEngine(t)
	_, err := te.engine.PredictSuccess(context.Background(), "nope")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestPredictROI_EffortScalesEstimateDown(t *testing.T) {
	te := newTestEngine(t)
	p := te.createPattern(t, 0.8, 10, "ent-1")
	ctx := context.Background()

	cheap, err := te.engine.PredictROI(ctx, p.ID, ROIContext{})
	require.NoError(t, err)
	expensive, err := te.engine.PredictROI(ctx, p.ID, ROIContext{EffortHours: 80})
	require.NoError(t, err)
	assert.Less(t, expensive.Value, cheap.Value)
}

func TestRecommendStrategy_RankedBestFirst(t *testing.T) {
	te := newTestEngine(t)
	p := te.createPattern(t, 0.9, 20, "ent-1", "ent-2")

	options, err := te.engine.RecommendStrategy(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotEmpty(t, options)
	for i := 1; i < len(options); i++ {
		assert.GreaterOrEqual(t, options[i-1].Score, options[i].Score)
	}
}

func TestRecommendStrategy_SparsePatternSuggestsBuildNew(t *testing.T) {
	te := newTestEngine(t)
	p := te.createPattern(t, 0, 0)

	options, err := te.engine.RecommendStrategy(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, options, 1)
	assert.Equal(t, "build_new", options[0].Strategy)
}

func TestRetrain_InsufficientData(t *testing.T) {
	te := newTestEngine(t)
	_, err := te.engine.Retrain(context.Background(), models.ModelSuccess)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRetrain_UnknownKind(t *testing.T) {
	te := newTestEngine(t)
	_, err := te.engine.Retrain(context.Background(), "oracle")
	assert.Error(t, err)
}

func TestRetrain_PromotesFirstModel(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	good := te.createPattern(t, 0.95, 30, "ent-1", "ent-2")
	bad := te.createPattern(t, 0.05, 0, "ent-3")
	te.seedOutcomes(t, good.ID, 6, 1.0)
	te.seedOutcomes(t, bad.ID, 6, 0.0)

	model, err := te.engine.Retrain(ctx, models.ModelSuccess)
	require.NoError(t, err)
	assert.True(t, model.Active)
	assert.Equal(t, int64(12), model.TrainingSampleCount)

	active, err := te.models.Active(ctx, models.ModelSuccess)
	require.NoError(t, err)
	assert.Equal(t, model.ModelID, active.ModelID)
}

func TestRetrain_RegressionDoesNotPromote(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	// Active model with accuracy 0.85.
	incumbent := &models.PredictionModel{
		ModelID:        uuid.NewString(),
		Kind:           models.ModelSuccess,
		Version:        1,
		AccuracyMetric: 0.85,
	}
	require.NoError(t, te.models.Save(ctx, incumbent))
	require.NoError(t, te.models.Promote(ctx, incumbent.ModelID))

	// Contradictory training data caps the new model's accuracy around 0.5.
	p := te.createPattern(t, 0.7, 5, "ent-1")
	te.seedOutcomes(t, p.ID, 5, 1.0)
	q := te.createPattern(t, 0.7, 5, "ent-2")
	te.seedOutcomes(t, q.ID, 5, 0.0)

	model, err := te.engine.Retrain(ctx, models.ModelSuccess)
	require.NoError(t, err)
	assert.False(t, model.Active)
	assert.Less(t, model.AccuracyMetric, 0.85)

	// The incumbent stays active; the new version is stored for inspection.
	active, err := te.models.Active(ctx, models.ModelSuccess)
	require.NoError(t, err)
	assert.Equal(t, incumbent.ModelID, active.ModelID)

	versions, err := te.models.Versions(ctx, models.ModelSuccess)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestRetrain_ConcurrentRequestRejected(t *testing.T) {
	te := newTestEngine(t)

	lock := te.engine.lockFor(models.ModelROI)
	lock.Lock()
	defer lock.Unlock()

	_, err := te.engine.Retrain(context.Background(), models.ModelROI)
	assert.ErrorIs(t, err, ErrRetrainInProgress)
}

func TestRetrain_KindsLockIndependently(t *testing.T) {
	te := newTestEngine(t)

	lock := te.engine.lockFor(models.ModelROI)
	lock.Lock()
	defer lock.Unlock()

	// Another kind is unaffected; it fails only on missing data.
	_, err := te.engine.Retrain(context.Background(), models.ModelSuccess)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRecordOutcome_BackfillsAndBumpsUsage(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	p := te.createPattern(t, 0.8, 3, "ent-1")

	_, err := te.engine.PredictSuccess(ctx, p.ID)
	require.NoError(t, err)

	updated, err := te.engine.RecordOutcome(ctx, p.ID, 1.0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	got, err := te.patterns.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.UsageCount)
}
