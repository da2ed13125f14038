// Package sse provides Server-Sent Events broadcasting of flow events to
// dashboard clients.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiln/pkg/models"
)

// WriteTimeout bounds writes to SSE clients so a stale connection cannot
// block the broadcast loop.
const WriteTimeout = 2 * time.Second

// Client represents a connected SSE client.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string
}

// Broadcaster manages SSE client connections and event fan-out.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
	nextID  int
}

// NewBroadcaster creates an SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string]*Client)}
}

// AddClient registers a new SSE client connection.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	client := &Client{
		ID:      fmt.Sprintf("client-%d", b.nextID),
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[client.ID] = client
	count := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("clientId", client.ID).
		Int("totalClients", count).
		Msg("SSE client connected")
	return client, nil
}

// RemoveClient removes a client connection.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	count := len(b.clients)
	b.mu.Unlock()

	close(client.Done)

	log.Debug().
		Str("clientId", client.ID).
		Int("totalClients", count).
		Msg("SSE client disconnected")
}

// Notify implements flowlog.Notifier by broadcasting the event as JSON.
func (b *Broadcaster) Notify(ev *models.FlowEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal SSE event")
		return
	}
	message := fmt.Sprintf("data: %s\n\n", data)

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	var dead []string
	for _, c := range clients {
		if !writeWithTimeout(c, message) {
			dead = append(dead, c.ID)
		}
	}
	for _, id := range dead {
		b.removeByID(id)
	}
}

// writeWithTimeout writes in a goroutine so a blocked client is dropped
// after WriteTimeout instead of stalling the broadcast.
func writeWithTimeout(c *Client, message string) bool {
	done := make(chan bool, 1)
	go func() {
		defer func() {
			if recover() != nil {
				done <- false
			}
		}()
		_, err := fmt.Fprint(c.Writer, message)
		if err == nil {
			c.Flusher.Flush()
		}
		done <- err == nil
	}()

	select {
	case ok := <-done:
		return ok
	case <-time.After(WriteTimeout):
		return false
	case <-c.Done:
		return false
	}
}

func (b *Broadcaster) removeByID(id string) {
	b.mu.Lock()
	client, exists := b.clients[id]
	if exists {
		delete(b.clients, id)
	}
	count := len(b.clients)
	b.mu.Unlock()

	if exists {
		select {
		case <-client.Done:
		default:
			close(client.Done)
		}
	}

	log.Debug().
		Str("clientId", id).
		Int("totalClients", count).
		Msg("Dead SSE client removed")
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
