package graph

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	dgraph "github.com/dominikbraun/graph"
)

// MemoryBackend is an in-process Backend over a directed adjacency graph.
// It mirrors the Cypher semantics of Neo4jBackend and backs dry runs and tests.
type MemoryBackend struct {
	mu sync.RWMutex
	g  dgraph.Graph[string, *memNode]
}

// memNode is a vertex. Label and Key form its hash.
type memNode struct {
	Label string
	Key   string
	Props map[string]any
}

// relSet is the set of relationship types stored on one vertex pair
type relSet map[string]struct{}

func (s relSet) clone() relSet {
	out := make(relSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func memHash(n *memNode) string {
	return n.Label + "|" + n.Key
}

func refHash(ref nodeRef) string {
	return ref.Label + "|" + ref.Value
}

// NewMemoryBackend creates an empty in-memory graph
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{g: dgraph.New(memHash, dgraph.Directed())}
}

// HealthCheck always succeeds unless ctx is done
func (m *MemoryBackend) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// EnsureSchema is a no-op; uniqueness is enforced by vertex hashes
func (m *MemoryBackend) EnsureSchema(ctx context.Context) error {
	return ctx.Err()
}

// CreateNode merges a node on its unique key
func (m *MemoryBackend) CreateNode(ctx context.Context, node GraphNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mergeNode(node)
}

// CreateNodes merges nodes in order
func (m *MemoryBackend) CreateNodes(ctx context.Context, nodes []GraphNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, node := range nodes {
		if err := m.mergeNode(node); err != nil {
			return err
		}
	}
	return nil
}

// CreateEdge merges an edge; edges with a missing endpoint are skipped
func (m *MemoryBackend) CreateEdge(ctx context.Context, edge GraphEdge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mergeEdge(edge)
}

// CreateEdges merges edges in order
func (m *MemoryBackend) CreateEdges(ctx context.Context, edges []GraphEdge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, edge := range edges {
		if err := m.mergeEdge(edge); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFile deletes the File node and every declaration reachable by HAS
func (m *MemoryBackend) RemoveFile(ctx context.Context, filePath string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeFile(filePath)
}

// RenameFile re-keys the File node and its declarations, keeping every edge
// except the old directory containment
func (m *MemoryBackend) RenameFile(ctx context.Context, from, to string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	fileHash := fileVertex(from)
	file, ok := m.vertex(fileHash)
	if !ok {
		return false, nil
	}
	if from == to {
		return true, nil
	}
	if _, err := m.removeFile(to); err != nil {
		return false, err
	}

	adj, err := m.g.AdjacencyMap()
	if err != nil {
		return false, err
	}
	pred, err := m.g.PredecessorMap()
	if err != nil {
		return false, err
	}

	oldFragment, newFragment := containedPrefix(from), containedPrefix(to)
	params := renameParams(from, to)

	moved := map[string]*memNode{}
	renamedFile := file.copy()
	renamedFile.Key = to
	renamedFile.Props["path"] = to
	for _, k := range []string{"name", "id", "extension"} {
		renamedFile.Props[k] = params[k]
	}
	moved[fileHash] = renamedFile

	for _, h := range m.contained(fileHash, adj) {
		n, _ := m.vertex(h)
		c := n.copy()
		if id, ok := c.Props["id"].(string); ok {
			c.Props["id"] = strings.Replace(id, oldFragment, newFragment, 1)
		}
		c.Props["path"] = to
		if getUniqueKey(c.Label) == "id" {
			c.Key, _ = c.Props["id"].(string)
		}
		moved[h] = c
	}

	type pendingEdge struct {
		src, tgt string
		rels     relSet
	}
	seen := map[[2]string]bool{}
	var edges []pendingEdge
	collect := func(src, tgt string, e dgraph.Edge[string]) {
		key := [2]string{src, tgt}
		if seen[key] {
			return
		}
		seen[key] = true
		rels, _ := e.Properties.Data.(relSet)
		edges = append(edges, pendingEdge{src: src, tgt: tgt, rels: rels.clone()})
	}
	for h := range moved {
		for tgt, e := range adj[h] {
			collect(h, tgt, e)
		}
		for src, e := range pred[h] {
			collect(src, h, e)
		}
	}

	for _, e := range edges {
		_ = m.g.RemoveEdge(e.src, e.tgt)
	}
	for h := range moved {
		if err := m.g.RemoveVertex(h); err != nil {
			return false, err
		}
	}
	for _, n := range moved {
		if err := m.g.AddVertex(n); err != nil {
			return false, err
		}
	}

	for _, e := range edges {
		src, tgt := e.src, e.tgt
		if n, ok := moved[src]; ok {
			src = memHash(n)
		}
		if n, ok := moved[tgt]; ok {
			tgt = memHash(n)
		}
		if tgt == memHash(renamedFile) && strings.HasPrefix(src, "Directory|") {
			delete(e.rels, "HAS")
		}
		if len(e.rels) == 0 {
			continue
		}
		if err := m.g.AddEdge(src, tgt, dgraph.EdgeData(e.rels)); err != nil {
			return false, err
		}
	}
	return true, nil
}

// PruneFile drops declarations and outgoing IMPORTS/USES edges not in keep
func (m *MemoryBackend) PruneFile(ctx context.Context, filePath string, keep KeepSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	fileHash := fileVertex(filePath)
	if _, ok := m.vertex(fileHash); !ok {
		return nil
	}
	adj, err := m.g.AdjacencyMap()
	if err != nil {
		return err
	}

	keepDecls := toSet(keep.Declarations)
	for _, h := range m.contained(fileHash, adj) {
		n, ok := m.vertex(h)
		if !ok {
			continue
		}
		if id, _ := n.Props["id"].(string); !keepDecls[id] {
			if err := m.detachDelete(h); err != nil {
				return err
			}
		}
	}

	keepImports := toSet(keep.ImportTargets)
	keepUses := toSet(keep.Uses)
	for tgt, e := range adj[fileHash] {
		rels, _ := e.Properties.Data.(relSet)
		n, ok := m.vertex(tgt)
		if !ok || rels == nil {
			continue
		}
		if _, has := rels["IMPORTS"]; has && n.Label == "File" && !keepImports[n.Key] {
			m.dropRel(fileHash, tgt, rels, "IMPORTS")
		}
		id, _ := n.Props["id"].(string)
		if _, has := rels["USES"]; has && !keepUses[id] {
			m.dropRel(fileHash, tgt, rels, "USES")
		}
	}
	return nil
}

// FileExists reports whether a File node exists at path
func (m *MemoryBackend) FileExists(ctx context.Context, filePath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.vertex(fileVertex(filePath))
	return ok, nil
}

// Counts returns node totals per label and relationship totals per type
func (m *MemoryBackend) Counts(ctx context.Context) (Counts, error) {
	counts := Counts{ByLabel: map[string]int{}, ByType: map[string]int{}}
	if err := ctx.Err(); err != nil {
		return counts, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	adj, err := m.g.AdjacencyMap()
	if err != nil {
		return counts, err
	}
	for h, targets := range adj {
		if n, ok := m.vertex(h); ok {
			counts.ByLabel[n.Label]++
			counts.Nodes++
		}
		for _, e := range targets {
			rels, _ := e.Properties.Data.(relSet)
			for rel := range rels {
				counts.ByType[rel]++
				counts.Relationships++
			}
		}
	}
	return counts, nil
}

// Close is a no-op
func (m *MemoryBackend) Close(context.Context) error {
	return nil
}

// Node returns a copy of the properties of the node with the given entity id
func (m *MemoryBackend) Node(id string) (map[string]any, bool) {
	ref, ok := parseNodeID(id)
	if !ok {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.vertex(refHash(ref))
	if !ok {
		return nil, false
	}
	return n.copy().Props, true
}

// HasEdge reports whether a relationship of relType links the two entity ids
func (m *MemoryBackend) HasEdge(fromID, toID, relType string) bool {
	from, ok := parseNodeID(fromID)
	if !ok {
		return false
	}
	to, ok := parseNodeID(toID)
	if !ok {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, err := m.g.Edge(refHash(from), refHash(to))
	if err != nil {
		return false
	}
	rels, _ := e.Properties.Data.(relSet)
	_, ok = rels[relType]
	return ok
}

// IDs returns the sorted entity ids of every node with label
func (m *MemoryBackend) IDs(label string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	adj, err := m.g.AdjacencyMap()
	if err != nil {
		return nil
	}
	var ids []string
	for h := range adj {
		n, ok := m.vertex(h)
		if !ok || n.Label != label {
			continue
		}
		if id, ok := n.Props["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (m *MemoryBackend) vertex(hash string) (*memNode, bool) {
	n, err := m.g.Vertex(hash)
	if err != nil {
		return nil, false
	}
	return n, true
}

func (m *MemoryBackend) mergeNode(node GraphNode) error {
	if !isValidIdentifier(node.Label) {
		return errors.New("invalid node label: " + node.Label)
	}
	if err := validatePropertyKeys(node.Properties); err != nil {
		return err
	}

	candidate := &memNode{Label: node.Label, Key: node.keyValue()}
	if existing, ok := m.vertex(memHash(candidate)); ok {
		for k, v := range node.Properties {
			existing.Props[k] = v
		}
		return nil
	}

	candidate.Props = make(map[string]any, len(node.Properties)+1)
	for k, v := range node.Properties {
		candidate.Props[k] = v
	}
	candidate.Props["created_at"] = time.Now().UnixMilli()
	return m.g.AddVertex(candidate)
}

func (m *MemoryBackend) mergeEdge(edge GraphEdge) error {
	if !isValidIdentifier(edge.Label) {
		return errors.New("invalid relationship type: " + edge.Label)
	}
	from, ok := parseNodeID(edge.From)
	if !ok {
		return errors.New("invalid edge source id: " + edge.From)
	}
	to, ok := parseNodeID(edge.To)
	if !ok {
		return errors.New("invalid edge target id: " + edge.To)
	}

	src, tgt := refHash(from), refHash(to)
	if _, ok := m.vertex(src); !ok {
		return nil
	}
	if _, ok := m.vertex(tgt); !ok {
		if !mergesTarget(edge.Label, to.Label) {
			return nil
		}
		if err := m.mergeNode(GraphNode{Label: to.Label, ID: edge.To, Properties: stubFileProperties(to.Value)}); err != nil {
			return err
		}
	}

	e, err := m.g.Edge(src, tgt)
	if errors.Is(err, dgraph.ErrEdgeNotFound) {
		return m.g.AddEdge(src, tgt, dgraph.EdgeData(relSet{edge.Label: {}}))
	}
	if err != nil {
		return err
	}
	rels, _ := e.Properties.Data.(relSet)
	if rels == nil {
		return errors.New("edge without relationship set")
	}
	rels[edge.Label] = struct{}{}
	return nil
}

func (m *MemoryBackend) removeFile(filePath string) (int, error) {
	fileHash := fileVertex(filePath)
	if _, ok := m.vertex(fileHash); !ok {
		return 0, nil
	}
	adj, err := m.g.AdjacencyMap()
	if err != nil {
		return 0, err
	}

	contained := m.contained(fileHash, adj)
	for _, h := range contained {
		if err := m.detachDelete(h); err != nil {
			return 0, err
		}
	}
	if err := m.detachDelete(fileHash); err != nil {
		return 0, err
	}
	return len(contained) + 1, nil
}

// contained returns the non-File, non-Directory vertices reachable from
// start over HAS edges
func (m *MemoryBackend) contained(start string, adj map[string]map[string]dgraph.Edge[string]) []string {
	visited := map[string]bool{start: true}
	queue := []string{start}
	var out []string
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		for tgt, e := range adj[h] {
			if visited[tgt] {
				continue
			}
			rels, _ := e.Properties.Data.(relSet)
			if _, ok := rels["HAS"]; !ok {
				continue
			}
			n, ok := m.vertex(tgt)
			if !ok || n.Label == "File" || n.Label == "Directory" {
				continue
			}
			visited[tgt] = true
			out = append(out, tgt)
			queue = append(queue, tgt)
		}
	}
	sort.Strings(out)
	return out
}

// detachDelete removes a vertex and every edge touching it
func (m *MemoryBackend) detachDelete(hash string) error {
	edges, err := m.g.Edges()
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.Source == hash || e.Target == hash {
			if err := m.g.RemoveEdge(e.Source, e.Target); err != nil && !errors.Is(err, dgraph.ErrEdgeNotFound) {
				return err
			}
		}
	}
	return m.g.RemoveVertex(hash)
}

func (m *MemoryBackend) dropRel(src, tgt string, rels relSet, rel string) {
	delete(rels, rel)
	if len(rels) == 0 {
		_ = m.g.RemoveEdge(src, tgt)
	}
}

func (n *memNode) copy() *memNode {
	props := make(map[string]any, len(n.Props))
	for k, v := range n.Props {
		props[k] = v
	}
	return &memNode{Label: n.Label, Key: n.Key, Props: props}
}

func fileVertex(filePath string) string {
	return "File|" + filePath
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}
