package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// NewInMemoryForTest builds a Store backed by an in-process map instead of a
// Neo4j driver, for packages that depend on docstore but don't want a live
// database in unit tests. It recognizes exactly the Cypher shapes this
// package itself generates (MERGE/SET, MATCH/RETURN, DELETE, count-by-field)
// and reproduces their semantics against plain Go maps.
func NewInMemoryForTest() *Store {
	mem := &memBackend{labels: make(map[string]map[string]map[string]any)}
	return &Store{newSession: func(ctx context.Context) runner { return mem }}
}

type memBackend struct {
	mu     sync.Mutex
	labels map[string]map[string]map[string]any // label -> id -> fields
}

func (m *memBackend) Close(ctx context.Context) error { return nil }

func (m *memBackend) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case strings.HasPrefix(cypher, "MERGE") && strings.Contains(cypher, "SET n += $props"):
		return m.runUpsert(cypher, params)
	case strings.HasPrefix(cypher, "MERGE") && strings.Contains(cypher, "coalesce(n."):
		return m.runIncOrPush(cypher, params)
	case strings.HasPrefix(cypher, "MATCH") && strings.Contains(cypher, "DELETE n"):
		return m.runDelete(cypher, params)
	case strings.HasPrefix(cypher, "MATCH") && strings.Contains(cypher, "count(n)"):
		return m.runCount(cypher, params)
	case strings.HasPrefix(cypher, "MATCH"):
		return m.runMatch(cypher, params)
	default:
		return nil, fmt.Errorf("docstore fake: unrecognized cypher: %s", cypher)
	}
}

func labelFromCypher(cypher string) string {
	idx := strings.Index(cypher, "(n:")
	if idx < 0 {
		return ""
	}
	rest := cypher[idx+3:]
	end := strings.IndexAny(rest, " {)")
	if end < 0 {
		end = len(rest)
	}
	return rest[:end]
}

func (m *memBackend) collection(label string) map[string]map[string]any {
	c, ok := m.labels[label]
	if !ok {
		c = make(map[string]map[string]any)
		m.labels[label] = c
	}
	return c
}

func (m *memBackend) runUpsert(cypher string, params map[string]any) (result, error) {
	label := labelFromCypher(cypher)
	id, _ := params["id"].(string)
	props, _ := params["props"].(map[string]any)
	coll := m.collection(label)
	existing, ok := coll[id]
	if !ok {
		existing = make(map[string]any)
	}
	for k, v := range props {
		existing[k] = v
	}
	existing["id"] = id
	coll[id] = existing
	return &memResult{}, nil
}

func (m *memBackend) runIncOrPush(cypher string, params map[string]any) (result, error) {
	label := labelFromCypher(cypher)
	id, _ := params["id"].(string)
	coll := m.collection(label)
	existing, ok := coll[id]
	if !ok {
		existing = map[string]any{"id": id}
		coll[id] = existing
	}
	fieldStart := strings.Index(cypher, "SET n.") + len("SET n.")
	fieldEnd := strings.Index(cypher[fieldStart:], " ")
	field := cypher[fieldStart : fieldStart+fieldEnd]

	if delta, ok := params["delta"].(float64); ok {
		cur, _ := existing[field].(float64)
		existing[field] = cur + delta
		return &memResult{}, nil
	}
	value := params["value"]
	arr, _ := existing[field].([]any)
	existing[field] = append(arr, value)
	return &memResult{}, nil
}

func (m *memBackend) runDelete(cypher string, params map[string]any) (result, error) {
	label := labelFromCypher(cypher)
	id, _ := params["id"].(string)
	delete(m.collection(label), id)
	return &memResult{}, nil
}

func (m *memBackend) runMatch(cypher string, params map[string]any) (result, error) {
	label := labelFromCypher(cypher)
	coll := m.collection(label)

	var docs []map[string]any
	if id, ok := params["id"].(string); ok {
		if d, ok := coll[id]; ok {
			docs = append(docs, d)
		}
		return newMemResultFromDocs(docs), nil
	}

	for _, d := range coll {
		if matchesFilter(d, params) {
			docs = append(docs, d)
		}
	}

	sort.Slice(docs, func(i, j int) bool {
		return fmt.Sprint(docs[i]["id"]) < fmt.Sprint(docs[j]["id"])
	})

	skip, _ := params["skip"].(int)
	limit, _ := params["limit"].(int)
	if skip > len(docs) {
		skip = len(docs)
	}
	docs = docs[skip:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return newMemResultFromDocs(docs), nil
}

// matchesFilter matches the f0, f1, ... equality-filter params List encodes
// against any document field carrying an equal value. The fake doesn't parse
// the generated WHERE clause text itself — sufficient for the equality
// filters this package ever builds.
func matchesFilter(doc map[string]any, params map[string]any) bool {
	for k, v := range params {
		if !strings.HasPrefix(k, "f") {
			continue
		}
		found := false
		for fk, fv := range doc {
			if fk != "id" && fv == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *memBackend) runCount(cypher string, params map[string]any) (result, error) {
	label := labelFromCypher(cypher)
	fieldStart := strings.Index(cypher, "RETURN n.") + len("RETURN n.")
	fieldEnd := strings.Index(cypher[fieldStart:], " ")
	field := cypher[fieldStart : fieldStart+fieldEnd]

	counts := make(map[string]int64)
	for _, d := range m.collection(label) {
		k := fmt.Sprint(d[field])
		counts[k]++
	}

	recs := make([]*neo4j.Record, 0, len(counts))
	for k, c := range counts {
		recs = append(recs, &neo4j.Record{Keys: []string{"k", "c"}, Values: []any{k, c}})
	}
	return &memResult{records: recs}, nil
}

// memResult adapts in-memory documents to the result interface by building
// real *neo4j.Record values, the same shape docFromRecord expects to unwrap.
type memResult struct {
	records []*neo4j.Record
	idx     int
}

func newMemResultFromDocs(docs []map[string]any) *memResult {
	recs := make([]*neo4j.Record, len(docs))
	for i, d := range docs {
		recs[i] = &neo4j.Record{Keys: []string{"n"}, Values: []any{neo4j.Node{Props: d}}}
	}
	return &memResult{records: recs, idx: -1}
}

func (r *memResult) Next(ctx context.Context) bool {
	r.idx++
	return r.idx < len(r.records)
}

func (r *memResult) Record() *neo4j.Record {
	return r.records[r.idx]
}
