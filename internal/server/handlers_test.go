package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/kiln/internal/config"
	"github.com/thebtf/kiln/internal/extractor"
	"github.com/thebtf/kiln/internal/flowlog"
	"github.com/thebtf/kiln/internal/ledger"
	"github.com/thebtf/kiln/internal/pipeline"
	"github.com/thebtf/kiln/internal/predict"
	"github.com/thebtf/kiln/internal/scoring"
	"github.com/thebtf/kiln/internal/sse"
	"github.com/thebtf/kiln/internal/store"
	"github.com/thebtf/kiln/pkg/models"
)

// memAdapter is a minimal in-memory store adapter for handler tests.
type memAdapter struct {
	location models.StorageLocation
	mu       sync.Mutex
	written  map[string]*store.Record
	healthy  bool
}

func newMemAdapter(location models.StorageLocation) *memAdapter {
	return &memAdapter{location: location, written: make(map[string]*store.Record), healthy: true}
}

func (m *memAdapter) Name() models.StorageLocation { return m.location }

func (m *memAdapter) Write(ctx context.Context, rec *store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written[rec.Pattern.ID] = rec
	return nil
}

func (m *memAdapter) Read(ctx context.Context, patternID string) (*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.written[patternID]; ok {
		return rec, nil
	}
	return nil, fmt.Errorf("pattern %s not found", patternID)
}

func (m *memAdapter) Health(ctx context.Context) bool { return m.healthy }

type testService struct {
	svc      *Service
	orch     *pipeline.Orchestrator
	patterns *ledger.PatternStore
	vector   *memAdapter
}

func newTestService(t *testing.T) *testService {
	t.Helper()

	ledgerStore, err := ledger.NewStore(ledger.Config{
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		MaxConns:   4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { ledgerStore.Close() })

	cfg := config.Default()
	cfg.Retry = config.RetryPolicy{MaxRetries: 1, BackoffBase: time.Millisecond, BackoffCap: 5 * time.Millisecond}

	sessions := ledger.NewSessionStore(ledgerStore)
	items := ledger.NewItemStore(ledgerStore)
	entities := ledger.NewEntityStore(ledgerStore)
	patterns := ledger.NewPatternStore(ledgerStore)
	broadcaster := sse.NewBroadcaster()
	flow := flowlog.New(ledger.NewEventStore(ledgerStore), broadcaster)

	vector := newMemAdapter(models.LocationVector)
	adapters := []store.Adapter{
		store.NewLedgerAdapter(ledgerStore, patterns, entities),
		newMemAdapter(models.LocationGraph),
		vector,
		newMemAdapter(models.LocationCache),
	}

	ext, err := extractor.New(cfg.MinInfoTokens)
	require.NoError(t, err)

	orch := pipeline.New(pipeline.Deps{
		Config:    cfg,
		Ledger:    ledgerStore,
		Sessions:  sessions,
		Items:     items,
		Entities:  entities,
		Patterns:  patterns,
		Flow:      flow,
		Extractor: ext,
		Scorer:    scoring.New(cfg.Scoring),
		Adapters:  adapters,
	})
	t.Cleanup(orch.Shutdown)

	engine := predict.NewEngine(cfg, patterns, ledger.NewModelStore(ledgerStore), ledger.NewRecordStore(ledgerStore))

	svc := New(Deps{
		Version:      "test-version",
		Config:       cfg,
		Orchestrator: orch,
		Flow:         flow,
		Engine:       engine,
		Adapters:     adapters,
		Broadcaster:  broadcaster,
	})

	return &testService{svc: svc, orch: orch, patterns: patterns, vector: vector}
}

func (ts *testService) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.svc.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

const docPayload = `Shared caching layer design notes.
Use redis for hot pattern lookups and postgres as the system of record.
Cache entries expire after a bounded ttl so stale patterns age out.
Invalidation happens on pattern update, keyed by pattern id.
The caching tier is best-effort: a miss falls back to the ledger read path.
Monitor hit rate; below 80 percent the ttl is probably too short.`

func TestHandleIngest(t *testing.T) {
	ts := newTestService(t)

	rec := ts.request(t, http.MethodPost, "/api/ingest", map[string]any{
		"source_type": "document",
		"source_name": "notes.md",
		"project":     "testproj",
		"payload":     docPayload,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["session_id"])
	assert.Len(t, body["item_ids"], 1)
}

func TestHandleIngest_BatchProcessesEveryPayload(t *testing.T) {
	ts := newTestService(t)

	// Short payloads finish fast; none may be dropped while the rest of
	// the batch is admitted.
	rec := ts.request(t, http.MethodPost, "/api/ingest", map[string]any{
		"source_type": "document",
		"source_name": "notes.md",
		"project":     "testproj",
		"payloads":    []string{"alpha note", "beta note", "gamma note"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	sessionID := body["session_id"].(string)
	require.Len(t, body["item_ids"], 3)
	ts.orch.Wait()

	rec = ts.request(t, http.MethodGet, "/api/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	session := decodeBody(t, rec)
	assert.Equal(t, "completed", session["status"])
	assert.Equal(t, float64(3), session["items_processed"])
}

func TestHandleIngest_BadRequests(t *testing.T) {
	ts := newTestService(t)

	rec := ts.request(t, http.MethodPost, "/api/ingest", map[string]any{
		"source_type": "document",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/ingest", map[string]any{
		"source_type": "carrier_pigeon",
		"payload":     docPayload,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetSession(t *testing.T) {
	ts := newTestService(t)

	rec := ts.request(t, http.MethodPost, "/api/ingest", map[string]any{
		"source_type": "document",
		"project":     "testproj",
		"payload":     docPayload,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	sessionID := decodeBody(t, rec)["session_id"].(string)
	ts.orch.Wait()

	rec = ts.request(t, http.MethodGet, "/api/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "completed", body["status"])

	rec = ts.request(t, http.MethodGet, "/api/sessions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleActiveSessions(t *testing.T) {
	ts := newTestService(t)

	rec := ts.request(t, http.MethodGet, "/api/sessions/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["sessions"])
}

func TestHandleRecentEvents(t *testing.T) {
	ts := newTestService(t)

	rec := ts.request(t, http.MethodPost, "/api/ingest", map[string]any{
		"source_type": "document",
		"project":     "testproj",
		"payload":     docPayload,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	ts.orch.Wait()

	rec = ts.request(t, http.MethodGet, "/api/events/recent?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeBody(t, rec)["events"].([]any)
	assert.NotEmpty(t, events)
	assert.LessOrEqual(t, len(events), 5)

	rec = ts.request(t, http.MethodGet, "/api/events/recent?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePredictSuccess(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()

	p, _, err := ts.patterns.FindOrCreate(ctx, &models.Pattern{
		ID:           uuid.NewString(),
		Project:      "testproj",
		Content:      "predictable",
		Fingerprint:  models.Fingerprint("predictable"),
		QualityScore: 0.8,
		UsageCount:   4,
		EntityIDs:    models.JSONStringArray{"ent-1"},
	})
	require.NoError(t, err)

	rec := ts.request(t, http.MethodPost, "/api/predict/success", map[string]string{"pattern_id": p.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body, "value")
	assert.Contains(t, body, "confidence")

	rec = ts.request(t, http.MethodPost, "/api/predict/success", map[string]string{"pattern_id": uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/predict/success", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRetrain_InsufficientData(t *testing.T) {
	ts := newTestService(t)

	rec := ts.request(t, http.MethodPost, "/api/retrain", map[string]string{"kind": "success"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/retrain", map[string]string{"kind": "oracle"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleOutcomes_MissingPattern(t *testing.T) {
	ts := newTestService(t)

	rec := ts.request(t, http.MethodPost, "/api/outcomes", map[string]any{
		"pattern_id": uuid.NewString(),
		"outcome":    1.0,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleReconcile(t *testing.T) {
	ts := newTestService(t)

	rec := ts.request(t, http.MethodPost, "/api/reconcile", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(0), body["items_reconciled"])
}

func TestHandleHealth(t *testing.T) {
	ts := newTestService(t)

	rec := ts.request(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test-version", body["version"])

	ts.vector.healthy = false
	rec = ts.request(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeBody(t, rec)["status"])
}
