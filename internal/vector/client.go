// Package vector provides the embedding store adapter. The backend is a
// ChromaDB-compatible HTTP service; collections are keyed by pattern id and
// embedding happens server-side.
package vector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Document is one vector store entry.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Client talks to the vector store REST API.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

// NewClient creates a vector store client.
func NewClient(baseURL, collection string) *Client {
	return &Client{
		baseURL:    baseURL,
		collection: collection,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type addRequest struct {
	IDs       []string         `json:"ids"`
	Documents []string         `json:"documents"`
	Metadatas []map[string]any `json:"metadatas"`
}

// AddDocuments upserts documents into the collection. Upsert semantics make
// replays idempotent: re-adding an id overwrites instead of duplicating.
func (c *Client) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	req := addRequest{
		IDs:       make([]string, len(docs)),
		Documents: make([]string, len(docs)),
		Metadatas: make([]map[string]any, len(docs)),
	}
	for i, d := range docs {
		req.IDs[i] = d.ID
		req.Documents[i] = d.Content
		req.Metadatas[i] = d.Metadata
	}
	return c.post(ctx, fmt.Sprintf("/api/v1/collections/%s/upsert", c.collection), req, nil)
}

type getRequest struct {
	IDs []string `json:"ids"`
}

type getResponse struct {
	IDs       []string         `json:"ids"`
	Documents []string         `json:"documents"`
	Metadatas []map[string]any `json:"metadatas"`
}

// GetDocuments fetches documents by id. Missing ids are simply absent from
// the result.
func (c *Client) GetDocuments(ctx context.Context, ids []string) ([]Document, error) {
	var resp getResponse
	err := c.post(ctx, fmt.Sprintf("/api/v1/collections/%s/get", c.collection), getRequest{IDs: ids}, &resp)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(resp.IDs))
	for i, id := range resp.IDs {
		doc := Document{ID: id}
		if i < len(resp.Documents) {
			doc.Content = resp.Documents[i]
		}
		if i < len(resp.Metadatas) {
			doc.Metadata = resp.Metadatas[i]
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Heartbeat reports whether the vector service answers.
func (c *Client) Heartbeat(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/heartbeat", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vector store request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("vector store %s: status %d: %s", path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
