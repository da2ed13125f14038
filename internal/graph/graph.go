// Package graph provides the FalkorDB-backed graph store adapter. Entities
// and patterns become nodes keyed by the same identifiers as the ledger's
// primary keys; relationships become typed weighted edges. All writes use
// MERGE so replays are idempotent.
package graph

import (
	"context"
	"fmt"

	"github.com/FalkorDB/falkordb-go"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiln/internal/store"
	"github.com/thebtf/kiln/pkg/models"
)

// Verify interface compliance
var _ store.Adapter = (*Adapter)(nil)

// Adapter implements store.Adapter over a FalkorDB graph.
type Adapter struct {
	graph *falkordb.Graph
}

// Config holds graph store connection settings.
type Config struct {
	Addr      string
	GraphName string
}

// New connects to FalkorDB and selects the configured graph.
func New(cfg Config) (*Adapter, error) {
	db, err := falkordb.FalkorDBNew(&falkordb.ConnectionOption{Addr: cfg.Addr})
	if err != nil {
		return nil, fmt.Errorf("connect falkordb: %w", err)
	}
	graph := db.SelectGraph(cfg.GraphName)
	return &Adapter{graph: graph}, nil
}

// Name implements store.Adapter.
func (a *Adapter) Name() models.StorageLocation { return models.LocationGraph }

// Write merges the pattern node, entity nodes and edges. MERGE on the id
// property mirrors the ledger's primary-key uniqueness in the graph.
func (a *Adapter) Write(ctx context.Context, rec *store.Record) error {
	if rec.Pattern != nil {
		_, err := a.graph.Query(
			`MERGE (p:Pattern {id: $id})
			 SET p.title = $title, p.domain = $domain, p.quality = $quality, p.project = $project`,
			map[string]interface{}{
				"id":      rec.Pattern.ID,
				"title":   rec.Pattern.Title,
				"domain":  rec.Pattern.Domain,
				"quality": rec.Pattern.QualityScore,
				"project": rec.Pattern.Project,
			}, nil)
		if err != nil {
			return fmt.Errorf("merge pattern node: %w", err)
		}
	}

	for _, e := range rec.Entities {
		_, err := a.graph.Query(
			`MERGE (e:Entity {id: $id})
			 SET e.name = $name, e.type = $type, e.confidence = $confidence, e.project = $project`,
			map[string]interface{}{
				"id":         e.ID,
				"name":       e.Name,
				"type":       string(e.Type),
				"confidence": e.Confidence,
				"project":    e.Project,
			}, nil)
		if err != nil {
			return fmt.Errorf("merge entity node %s: %w", e.Name, err)
		}
	}

	for _, rel := range rec.Relationships {
		if err := a.mergeEdge(rel); err != nil {
			return err
		}
	}

	log.Debug().
		Str("patternId", patternID(rec)).
		Int("entities", len(rec.Entities)).
		Int("edges", len(rec.Relationships)).
		Msg("Synced record to graph store")
	return nil
}

// mergeEdge merges one typed edge. The relation type is part of the edge
// label, so Cypher requires it inlined rather than parameterized.
func (a *Adapter) mergeEdge(rel models.Relationship) error {
	q := fmt.Sprintf(
		`MERGE (from {id: $from}) MERGE (to {id: $to})
		 MERGE (from)-[r:%s]->(to)
		 SET r.weight = $weight`,
		edgeLabel(rel.RelationType))
	_, err := a.graph.Query(q, map[string]interface{}{
		"from":   rel.FromID,
		"to":     rel.ToID,
		"weight": rel.Weight,
	}, nil)
	if err != nil {
		return fmt.Errorf("merge edge %s->%s: %w", rel.FromID, rel.ToID, err)
	}
	return nil
}

// Read reconstructs the pattern node and its referenced entities.
func (a *Adapter) Read(ctx context.Context, id string) (*store.Record, error) {
	res, err := a.graph.ROQuery(
		`MATCH (p:Pattern {id: $id})
		 RETURN p.id, p.title, p.domain, p.quality, p.project`,
		map[string]interface{}{"id": id}, nil)
	if err != nil {
		return nil, fmt.Errorf("read pattern node: %w", err)
	}
	if !res.Next() {
		return nil, fmt.Errorf("pattern %s: not found in graph", id)
	}
	r := res.Record()

	pattern := &models.Pattern{
		ID:           stringAt(r, 0),
		Title:        stringAt(r, 1),
		Domain:       stringAt(r, 2),
		QualityScore: floatAt(r, 3),
		Project:      stringAt(r, 4),
	}

	entRes, err := a.graph.ROQuery(
		`MATCH (p:Pattern {id: $id})-[:REFERENCES]->(e:Entity)
		 RETURN e.id, e.name, e.type, e.confidence, e.project
		 ORDER BY e.id`,
		map[string]interface{}{"id": id}, nil)
	if err != nil {
		return nil, fmt.Errorf("read entity nodes: %w", err)
	}
	var entities []*models.Entity
	for entRes.Next() {
		er := entRes.Record()
		entities = append(entities, &models.Entity{
			ID:         stringAt(er, 0),
			Name:       stringAt(er, 1),
			Type:       models.EntityType(stringAt(er, 2)),
			Confidence: floatAt(er, 3),
			Project:    stringAt(er, 4),
		})
	}

	return &store.Record{Pattern: pattern, Entities: entities}, nil
}

// Health runs a trivial read query.
func (a *Adapter) Health(ctx context.Context) bool {
	_, err := a.graph.ROQuery("RETURN 1", nil, nil)
	return err == nil
}

func patternID(rec *store.Record) string {
	if rec.Pattern == nil {
		return ""
	}
	return rec.Pattern.ID
}

func edgeLabel(t models.RelationType) string {
	switch t {
	case models.RelCoOccurs:
		return "CO_OCCURS"
	case models.RelDependsOn:
		return "DEPENDS_ON"
	case models.RelReferences:
		return "REFERENCES"
	case models.RelBelongsTo:
		return "BELONGS_TO"
	}
	return "RELATES_TO"
}

func stringAt(r *falkordb.Record, i int) string {
	if v, ok := r.GetByIndex(i).(string); ok {
		return v
	}
	return ""
}

func floatAt(r *falkordb.Record, i int) float64 {
	switch v := r.GetByIndex(i).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}
