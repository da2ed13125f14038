// Package watcher monitors a drop directory and ingests files that appear
// in it. Each dropped file becomes its own session so the uploader can be a
// plain `cp`.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiln/pkg/models"
)

// Ingestor is the slice of the orchestrator the watcher needs.
type Ingestor interface {
	CreateSession(ctx context.Context, sourceType models.SourceType, sourceName, project string) (*models.Session, error)
	Ingest(ctx context.Context, sessionID string, payload string) (*models.Item, error)
}

// Watcher ingests files dropped into a directory.
type Watcher struct {
	dir      string
	project  string
	ingestor Ingestor
	watcher  *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	running bool
	pending map[string]*time.Timer

	debounce time.Duration
}

// New creates a watcher over dir. Files are ingested into the given project
// scope.
func New(dir, project string, ingestor Ingestor) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		dir:      dir,
		project:  project,
		ingestor: ingestor,
		watcher:  fsw,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]*time.Timer),
		debounce: 250 * time.Millisecond,
	}, nil
}

// Start begins watching. Files already present in the directory are picked
// up once at startup so a restart does not lose drops.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	go w.watchLoop()
	go w.sweepExisting()

	log.Info().Str("dir", w.dir).Msg("Drop directory watcher started")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	w.cancel()
	for _, t := range w.pending {
		t.Stop()
	}
	return w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Watcher error")
		}
	}
}

// schedule debounces per file so a file still being written is ingested
// once, after its last write settles.
func (w *Watcher) schedule(path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingestFile(path)
	})
}

func (w *Watcher) sweepExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", w.dir).Msg("Failed to sweep drop directory")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.schedule(filepath.Join(w.dir, entry.Name()))
	}
}

func (w *Watcher) ingestFile(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to read dropped file")
		return
	}
	if len(data) == 0 {
		return
	}

	name := filepath.Base(path)
	session, err := w.ingestor.CreateSession(w.ctx, sourceTypeFor(name), name, w.project)
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("Failed to create session for dropped file")
		return
	}
	if _, err := w.ingestor.Ingest(w.ctx, session.ID, string(data)); err != nil {
		log.Error().Err(err).Str("file", name).Msg("Failed to ingest dropped file")
		return
	}

	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to remove ingested file")
	}
	log.Info().Str("file", name).Str("sessionId", session.ID).Msg("Dropped file ingested")
}

func sourceTypeFor(name string) models.SourceType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".go", ".py", ".js", ".ts", ".rs", ".java", ".rb", ".sh":
		return models.SourceCode
	case ".json":
		return models.SourceAPIResponse
	case ".html", ".htm":
		return models.SourceWebScrape
	default:
		return models.SourceDocument
	}
}
