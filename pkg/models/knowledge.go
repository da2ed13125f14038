package models

// EntityType classifies a named concept discovered in content.
type EntityType string

const (
	EntityTechnology EntityType = "technology"
	EntityAPI        EntityType = "api"
	EntityConcept    EntityType = "concept"
	EntityTool       EntityType = "tool"
	EntityLanguage   EntityType = "language"
)

// Entity is a named concept referenced by one or more patterns.
// (project, name, type) is unique; entities are shared by reference
// and never duplicated within a project scope.
type Entity struct {
	ID               string     `db:"id" json:"id"`
	Project          string     `db:"project" json:"project"`
	Name             string     `db:"name" json:"name"`
	Type             EntityType `db:"type" json:"type"`
	Confidence       float64    `db:"confidence" json:"confidence"`
	FirstSeenAt      string     `db:"first_seen_at" json:"first_seen_at"`
	FirstSeenAtEpoch int64      `db:"first_seen_at_epoch" json:"first_seen_at_epoch"`
}

// Pattern is a deduplicated, quality-scored reusable knowledge unit.
// Re-extraction of materially identical content maps to the existing row
// via (project, fingerprint) rather than creating a duplicate.
type Pattern struct {
	ID               string          `db:"id" json:"id"`
	Project          string          `db:"project" json:"project"`
	Title            string          `db:"title" json:"title"`
	Content          string          `db:"content" json:"content"`
	Domain           string          `db:"domain" json:"domain"`
	Fingerprint      string          `db:"fingerprint" json:"fingerprint"`
	QualityScore     float64         `db:"quality_score" json:"quality_score"`
	EntityIDs        JSONStringArray `db:"entity_ids" json:"entity_ids,omitempty"`
	UsageCount       int64           `db:"usage_count" json:"usage_count"`
	ExtractorVersion string          `db:"extractor_version" json:"extractor_version"`
	CreatedAt        string          `db:"created_at" json:"created_at"`
	CreatedAtEpoch   int64           `db:"created_at_epoch" json:"created_at_epoch"`
	LastUsedAtEpoch  int64           `db:"last_used_at_epoch" json:"last_used_at_epoch,omitempty"`
}

// RelationType labels a derived graph edge.
type RelationType string

const (
	RelCoOccurs   RelationType = "co_occurs"
	RelDependsOn  RelationType = "depends_on"
	RelReferences RelationType = "references"
	RelBelongsTo  RelationType = "belongs_to"
)

// Relationship is a typed directed edge between entities, patterns and
// projects. Stored only in the graph store; derived, never hand-edited.
type Relationship struct {
	FromID       string       `json:"from_id"`
	ToID         string       `json:"to_id"`
	RelationType RelationType `json:"relation_type"`
	Weight       float64      `json:"weight"`
}
