// Package docstore is a schemaless document store backed by Neo4j, standing
// in for the Mongo-shaped "document-store" external collaborator named in
// the core's scope. Every logical Mongo collection (conversations,
// ip_messages, system_prompts, dead_letter_queue, analytics_events,
// analytics_metrics, time_series, files) is a Neo4j label carrying an
// arbitrary property map, with Cypher MERGE/SET emulating Mongo's
// $set/$inc/$push upsert semantics.
package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// Store is the sole Neo4j client shared across all documents.
type Store struct {
	driver     neo4j.DriverWithContext
	newSession func(ctx context.Context) runner // test seam
}

// New creates a Store over an existing Neo4j driver.
func New(driver neo4j.DriverWithContext) *Store {
	return &Store{driver: driver}
}

type neo4jSessionAdapter struct{ sess neo4j.SessionWithContext }

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}
func (a *neo4jSessionAdapter) Close(ctx context.Context) error { return a.sess.Close(ctx) }

func (s *Store) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &neo4jSessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// Doc is a generic document: its id plus arbitrary properties.
type Doc struct {
	ID     string
	Fields map[string]any
}

// FindOne returns the document with the given id in label, or ok=false if absent.
func (s *Store) FindOne(ctx context.Context, label, id string) (Doc, bool, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {id: $id}) RETURN n", label)
	res, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return Doc{}, false, fmt.Errorf("docstore: find %s/%s: %w", label, id, err)
	}
	if !res.Next(ctx) {
		return Doc{}, false, nil
	}
	return docFromRecord(res.Record())
}

// Upsert creates or merges a document by id, setting the given fields
// (Mongo $set semantics). fields["id"] is forced to id.
func (s *Store) Upsert(ctx context.Context, label, id string, fields map[string]any) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	props := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		props[k] = v
	}
	props["id"] = id

	cypher := fmt.Sprintf("MERGE (n:%s {id: $id}) SET n += $props", label)
	_, err := sess.Run(ctx, cypher, map[string]any{"id": id, "props": props})
	if err != nil {
		return fmt.Errorf("docstore: upsert %s/%s: %w", label, id, err)
	}
	return nil
}

// IncField atomically increments a numeric field (Mongo $inc semantics),
// creating the document and field if absent.
func (s *Store) IncField(ctx context.Context, label, id, field string, delta float64) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MERGE (n:%s {id: $id}) SET n.%s = coalesce(n.%s, 0) + $delta", label, field, field)
	_, err := sess.Run(ctx, cypher, map[string]any{"id": id, "delta": delta})
	if err != nil {
		return fmt.Errorf("docstore: inc %s/%s.%s: %w", label, id, field, err)
	}
	return nil
}

// PushField atomically appends a value to an array field (Mongo $push
// semantics), creating the document and array if absent.
func (s *Store) PushField(ctx context.Context, label, id, field string, value any) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MERGE (n:%s {id: $id}) SET n.%s = coalesce(n.%s, []) + $value", label, field, field)
	_, err := sess.Run(ctx, cypher, map[string]any{"id": id, "value": value})
	if err != nil {
		return fmt.Errorf("docstore: push %s/%s.%s: %w", label, id, field, err)
	}
	return nil
}

// ListOpts controls List pagination and filtering.
type ListOpts struct {
	Skip   int
	Limit  int
	Filter map[string]any // exact-match property filter
	// OrderByDesc, if set, orders results by this property descending.
	OrderByDesc string
}

// List returns documents in label matching Filter, reverse-chronological by
// OrderByDesc when set.
func (s *Store) List(ctx context.Context, label string, opts ListOpts) ([]Doc, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	where := ""
	params := map[string]any{"skip": opts.Skip, "limit": limit}
	i := 0
	for k, v := range opts.Filter {
		pk := fmt.Sprintf("f%d", i)
		if where == "" {
			where = fmt.Sprintf("WHERE n.%s = $%s", k, pk)
		} else {
			where += fmt.Sprintf(" AND n.%s = $%s", k, pk)
		}
		params[pk] = v
		i++
	}

	order := ""
	if opts.OrderByDesc != "" {
		order = fmt.Sprintf("ORDER BY n.%s DESC", opts.OrderByDesc)
	}

	cypher := fmt.Sprintf("MATCH (n:%s) %s RETURN n %s SKIP $skip LIMIT $limit", label, where, order)
	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("docstore: list %s: %w", label, err)
	}

	var docs []Doc
	for res.Next(ctx) {
		d, _, err := docFromRecord(res.Record())
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// Delete permanently removes a document.
func (s *Store) Delete(ctx context.Context, label, id string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {id: $id}) DELETE n", label)
	_, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("docstore: delete %s/%s: %w", label, id, err)
	}
	return nil
}

// CountByField returns the count of documents in label grouped by a field's
// string value, e.g. counting dead_letter_queue documents by status.
func (s *Store) CountByField(ctx context.Context, label, field string) (map[string]int64, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s) RETURN n.%s AS k, count(n) AS c", label, field)
	res, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, fmt.Errorf("docstore: count %s by %s: %w", label, field, err)
	}

	counts := make(map[string]int64)
	for res.Next(ctx) {
		rec := res.Record()
		kv, _ := rec.Get("k")
		cv, _ := rec.Get("c")
		k, _ := kv.(string)
		c, _ := cv.(int64)
		counts[k] = c
	}
	return counts, nil
}

func docFromRecord(rec *neo4j.Record) (Doc, bool, error) {
	nodeVal, ok := rec.Get("n")
	if !ok {
		return Doc{}, false, fmt.Errorf("docstore: record missing node")
	}
	node, ok := nodeVal.(neo4j.Node)
	if !ok {
		return Doc{}, false, fmt.Errorf("docstore: unexpected node type %T", nodeVal)
	}
	id, _ := node.Props["id"].(string)
	return Doc{ID: id, Fields: node.Props}, true, nil
}

// NowRFC3339 returns the current UTC time formatted for document timestamp
// fields. Centralized so every writer uses the same format.
func NowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
