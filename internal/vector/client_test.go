package vector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/kiln/internal/store"
	"github.com/thebtf/kiln/pkg/models"
)

// fakeVectorServer emulates the subset of the ChromaDB REST API the client
// uses: upsert, get and heartbeat.
type fakeVectorServer struct {
	docs map[string]Document
}

func newFakeVectorServer() *fakeVectorServer {
	return &fakeVectorServer{docs: make(map[string]Document)}
}

func (f *fakeVectorServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/collections/patterns/upsert", func(w http.ResponseWriter, r *http.Request) {
		var req addRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for i, id := range req.IDs {
			doc := Document{ID: id, Content: req.Documents[i]}
			if i < len(req.Metadatas) {
				doc.Metadata = req.Metadatas[i]
			}
			f.docs[id] = doc
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/collections/patterns/get", func(w http.ResponseWriter, r *http.Request) {
		var req getRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var resp getResponse
		for _, id := range req.IDs {
			doc, ok := f.docs[id]
			if !ok {
				continue
			}
			resp.IDs = append(resp.IDs, doc.ID)
			resp.Documents = append(resp.Documents, doc.Content)
			resp.Metadatas = append(resp.Metadatas, doc.Metadata)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func testClient(t *testing.T) (*Client, *fakeVectorServer) {
	t.Helper()
	fake := newFakeVectorServer()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "patterns"), fake
}

func TestAddAndGetDocuments(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	docs := []Document{
		{ID: "pat-1", Content: "retry with backoff", Metadata: map[string]any{"domain": "resilience"}},
		{ID: "pat-2", Content: "token bucket limiter"},
	}
	require.NoError(t, client.AddDocuments(ctx, docs))

	got, err := client.GetDocuments(ctx, []string{"pat-1", "pat-2", "pat-missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pat-1", got[0].ID)
	assert.Equal(t, "retry with backoff", got[0].Content)
	assert.Equal(t, "resilience", got[0].Metadata["domain"])
}

func TestAddDocuments_Empty(t *testing.T) {
	// No request should be issued for an empty batch.
	client := NewClient("http://127.0.0.1:1", "patterns")
	require.NoError(t, client.AddDocuments(context.Background(), nil))
}

func TestAddDocuments_Upsert(t *testing.T) {
	client, fake := testClient(t)
	ctx := context.Background()

	require.NoError(t, client.AddDocuments(ctx, []Document{{ID: "pat-1", Content: "v1"}}))
	require.NoError(t, client.AddDocuments(ctx, []Document{{ID: "pat-1", Content: "v2"}}))

	assert.Len(t, fake.docs, 1)
	assert.Equal(t, "v2", fake.docs["pat-1"].Content)
}

func TestHeartbeat(t *testing.T) {
	client, _ := testClient(t)
	assert.True(t, client.Heartbeat(context.Background()))

	down := NewClient("http://127.0.0.1:1", "patterns")
	assert.False(t, down.Heartbeat(context.Background()))
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "collection not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "patterns")
	err := client.AddDocuments(context.Background(), []Document{{ID: "pat-1", Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestAdapterRoundTrip(t *testing.T) {
	client, _ := testClient(t)
	adapter := NewAdapter(client)
	ctx := context.Background()

	pattern := &models.Pattern{
		ID:           "pat-9",
		Title:        "Connection pooling",
		Domain:       "storage",
		Project:      "testproj",
		Content:      "reuse connections instead of dialing per query",
		QualityScore: 0.72,
		Fingerprint:  models.Fingerprint("reuse connections instead of dialing per query"),
	}
	require.NoError(t, adapter.Write(ctx, &store.Record{Pattern: pattern}))

	rec, err := adapter.Read(ctx, "pat-9")
	require.NoError(t, err)
	assert.Equal(t, pattern.ID, rec.Pattern.ID)
	assert.Equal(t, pattern.Title, rec.Pattern.Title)
	assert.Equal(t, pattern.Domain, rec.Pattern.Domain)
	assert.Equal(t, pattern.Content, rec.Pattern.Content)
	assert.InDelta(t, pattern.QualityScore, rec.Pattern.QualityScore, 1e-9)
	assert.Equal(t, models.LocationVector, adapter.Name())
}

func TestAdapter_ReadMissing(t *testing.T) {
	client, _ := testClient(t)
	adapter := NewAdapter(client)

	_, err := adapter.Read(context.Background(), "pat-nope")
	assert.Error(t, err)
}

func TestAdapter_NilPattern(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "patterns")
	adapter := NewAdapter(client)
	assert.NoError(t, adapter.Write(context.Background(), &store.Record{}))
}
