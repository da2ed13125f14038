package models

// Stage is one step of the per-item pipeline state machine.
type Stage string

const (
	StageIngested            Stage = "ingested"
	StageParsing             Stage = "parsing"
	StagePatternExtraction   Stage = "pattern_extraction"
	StageQualityScoring      Stage = "quality_scoring"
	StageRelationshipMapping Stage = "relationship_mapping"
	StageStorageLedger       Stage = "storage_ledger"
	StageStorageGraph        Stage = "storage_graph"
	StageStorageVector       Stage = "storage_vector"
	StageStorageCache        Stage = "storage_cache"
	StageCompleted           Stage = "completed"
	StageFailed              Stage = "failed"
)

// StageOrder is the canonical processing order. Every item advances through
// a strict prefix of this sequence; there is no skipping.
var StageOrder = []Stage{
	StageIngested,
	StageParsing,
	StagePatternExtraction,
	StageQualityScoring,
	StageRelationshipMapping,
	StageStorageLedger,
	StageStorageGraph,
	StageStorageVector,
	StageStorageCache,
	StageCompleted,
}

// NextStage returns the stage following s in the canonical order,
// or StageCompleted when s is the last processing stage.
func NextStage(s Stage) Stage {
	for i, st := range StageOrder {
		if st == s && i+1 < len(StageOrder) {
			return StageOrder[i+1]
		}
	}
	return StageCompleted
}

// IsStorageStage reports whether s is one of the four store fan-out stages.
func IsStorageStage(s Stage) bool {
	switch s {
	case StageStorageLedger, StageStorageGraph, StageStorageVector, StageStorageCache:
		return true
	}
	return false
}

// StorageLocation names one of the four backing stores.
type StorageLocation string

const (
	LocationLedger StorageLocation = "ledger"
	LocationGraph  StorageLocation = "graph"
	LocationVector StorageLocation = "vector"
	LocationCache  StorageLocation = "cache"
)

// StorageStageLocation maps a storage stage to its store location.
func StorageStageLocation(s Stage) (StorageLocation, bool) {
	switch s {
	case StageStorageLedger:
		return LocationLedger, true
	case StageStorageGraph:
		return LocationGraph, true
	case StageStorageVector:
		return LocationVector, true
	case StageStorageCache:
		return LocationCache, true
	}
	return "", false
}

// EventOutcome tags a flow event with its result.
type EventOutcome string

const (
	OutcomeOK    EventOutcome = "ok"
	OutcomeError EventOutcome = "error"
	// OutcomeDuplicate marks an idempotent short-circuit: the payload was
	// already ingested, so the item completed without reprocessing.
	OutcomeDuplicate EventOutcome = "duplicate"
)

// FlowEvent is an immutable record of one stage transition for one item.
// Events are append-only and are the only structure dashboards read directly.
type FlowEvent struct {
	EventID          string          `db:"event_id" json:"event_id"`
	ItemID           string          `db:"item_id" json:"item_id"`
	SessionID        string          `db:"session_id" json:"session_id"`
	Seq              int64           `db:"seq" json:"seq"`
	Stage            Stage           `db:"stage" json:"stage"`
	Timestamp        string          `db:"timestamp" json:"timestamp"`
	TimestampEpoch   int64           `db:"timestamp_epoch" json:"timestamp_epoch"`
	ProcessingTimeMs int64           `db:"processing_time_ms" json:"processing_time_ms"`
	Outcome          EventOutcome    `db:"outcome" json:"outcome"`
	ErrorMessage     string          `db:"error_message" json:"error_message,omitempty"`
	PatternsExtracted int            `db:"patterns_extracted" json:"patterns_extracted,omitempty"`
	QualityScore     float64         `db:"quality_score" json:"quality_score,omitempty"`
	StorageLocations JSONStringArray `db:"storage_locations" json:"storage_locations,omitempty"`
}
