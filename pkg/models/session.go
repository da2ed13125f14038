// Package models contains domain models for kiln.
package models

// SourceType identifies where ingested content came from.
type SourceType string

const (
	SourceDocument     SourceType = "document"
	SourceCode         SourceType = "code"
	SourceConversation SourceType = "conversation"
	SourceWebScrape    SourceType = "web_scrape"
	SourceAPIResponse  SourceType = "api_response"
)

// ValidSourceType reports whether s is one of the known source types.
func ValidSourceType(s SourceType) bool {
	switch s {
	case SourceDocument, SourceCode, SourceConversation, SourceWebScrape, SourceAPIResponse:
		return true
	}
	return false
}

// SessionStatus represents the lifecycle status of an ingestion session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// Session is one logical ingestion batch from a single source.
// Mutated only by the pipeline orchestrator while status is active.
type Session struct {
	ID               string        `db:"id" json:"id"`
	SourceType       SourceType    `db:"source_type" json:"source_type"`
	SourceName       string        `db:"source_name" json:"source_name"`
	Project          string        `db:"project" json:"project"`
	Status           SessionStatus `db:"status" json:"status"`
	StartedAt        string        `db:"started_at" json:"started_at"`
	StartedAtEpoch   int64         `db:"started_at_epoch" json:"started_at_epoch"`
	CompletedAt      string        `db:"completed_at" json:"completed_at,omitempty"`
	CompletedAtEpoch int64         `db:"completed_at_epoch" json:"completed_at_epoch,omitempty"`

	// Aggregate counters, folded from item flow events.
	ItemsProcessed    int     `db:"items_processed" json:"items_processed"`
	PatternsGenerated int     `db:"patterns_generated" json:"patterns_generated"`
	AvgQualityScore   float64 `db:"avg_quality_score" json:"avg_quality_score"`
}

// ItemStatus is the disposition of an item within its session.
type ItemStatus string

const (
	ItemPending          ItemStatus = "pending"
	ItemCompleted        ItemStatus = "completed"
	ItemCompletedPartial ItemStatus = "completed_partial"
	ItemFailed           ItemStatus = "failed"
)

// Item is one unit of raw content within a session.
type Item struct {
	ID             string     `db:"id" json:"id"`
	SessionID      string     `db:"session_id" json:"session_id"`
	RawPayload     string     `db:"raw_payload" json:"-"`
	PayloadSize    int64      `db:"payload_size" json:"payload_size"`
	Fingerprint    string     `db:"fingerprint" json:"fingerprint"`
	CurrentStage   Stage      `db:"current_stage" json:"current_stage"`
	Status         ItemStatus `db:"status" json:"status"`
	CreatedAtEpoch int64      `db:"created_at_epoch" json:"created_at_epoch"`

	// Per-stage retry counters, serialized as a JSON object.
	RetryCounts JSONInt64Map `db:"retry_counts" json:"retry_counts,omitempty"`

	// Stores still missing after a partial completion.
	MissingStores JSONStringArray `db:"missing_stores" json:"missing_stores,omitempty"`
}

// SessionSummary is the read-only session view served to dashboards.
type SessionSummary struct {
	Session
	Items []ItemSummary `json:"items,omitempty"`
}

// ItemSummary is the per-item slice of a session summary.
type ItemSummary struct {
	ID           string     `json:"id"`
	CurrentStage Stage      `json:"current_stage"`
	Status       ItemStatus `json:"status"`
	RetryTotal   int64      `json:"retry_total"`
}
