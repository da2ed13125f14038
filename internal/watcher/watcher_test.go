package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/kiln/pkg/models"
)

// fakeIngestor records every session and payload the watcher pushes at it.
type fakeIngestor struct {
	mu       sync.Mutex
	sessions []*models.Session
	payloads []string
}

func (f *fakeIngestor) CreateSession(ctx context.Context, sourceType models.SourceType, sourceName, project string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := &models.Session{
		ID:         uuid.NewString(),
		SourceType: sourceType,
		SourceName: sourceName,
		Project:    project,
	}
	f.sessions = append(f.sessions, session)
	return session, nil
}

func (f *fakeIngestor) Ingest(ctx context.Context, sessionID string, payload string) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return &models.Item{ID: uuid.NewString(), SessionID: sessionID}, nil
}

func (f *fakeIngestor) ingested() ([]*models.Session, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Session(nil), f.sessions...), append([]string(nil), f.payloads...)
}

func startWatcher(t *testing.T, dir string) (*Watcher, *fakeIngestor) {
	t.Helper()
	ing := &fakeIngestor{}
	w, err := New(dir, "testproj", ing)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return w, ing
}

func TestWatcherIngestsDroppedFile(t *testing.T) {
	dir := t.TempDir()
	_, ing := startWatcher(t, dir)

	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("dropped content"), 0o644))

	require.Eventually(t, func() bool {
		sessions, _ := ing.ingested()
		return len(sessions) == 1
	}, 5*time.Second, 20*time.Millisecond)

	sessions, payloads := ing.ingested()
	assert.Equal(t, models.SourceDocument, sessions[0].SourceType)
	assert.Equal(t, "notes.md", sessions[0].SourceName)
	assert.Equal(t, "testproj", sessions[0].Project)
	assert.Equal(t, []string{"dropped content"}, payloads)

	// Ingested files are consumed.
	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcherSweepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pre.go"), []byte("package pre"), 0o644))

	_, ing := startWatcher(t, dir)

	require.Eventually(t, func() bool {
		sessions, _ := ing.ingested()
		return len(sessions) == 1
	}, 5*time.Second, 20*time.Millisecond)

	sessions, _ := ing.ingested()
	assert.Equal(t, models.SourceCode, sessions[0].SourceType)
}

func TestWatcherSkipsDotfilesAndEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	_, ing := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("secret"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.md"), nil, 0o644))

	time.Sleep(200 * time.Millisecond)
	sessions, _ := ing.ingested()
	assert.Empty(t, sessions)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, _ := startWatcher(t, t.TempDir())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestSourceTypeFor(t *testing.T) {
	assert.Equal(t, models.SourceCode, sourceTypeFor("main.go"))
	assert.Equal(t, models.SourceCode, sourceTypeFor("script.PY"))
	assert.Equal(t, models.SourceAPIResponse, sourceTypeFor("resp.json"))
	assert.Equal(t, models.SourceWebScrape, sourceTypeFor("page.html"))
	assert.Equal(t, models.SourceDocument, sourceTypeFor("notes.md"))
	assert.Equal(t, models.SourceDocument, sourceTypeFor("README"))
}
