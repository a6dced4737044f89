package graph

import (
	"context"
	"strings"

	"github.com/rohankatakam/repograph/internal/models"
)

// Backend defines the storage operations the synchronizer needs.
// Implemented by Neo4jBackend (Cypher) and MemoryBackend (in-process).
// All writes are idempotent merges.
type Backend interface {
	// EnsureSchema creates the uniqueness constraints and lookup indexes
	EnsureSchema(ctx context.Context) error

	// CreateNode merges a single node on its unique key
	CreateNode(ctx context.Context, node GraphNode) error

	// CreateNodes merges nodes in batch
	CreateNodes(ctx context.Context, nodes []GraphNode) error

	// CreateEdge merges a single edge between existing nodes
	CreateEdge(ctx context.Context, edge GraphEdge) error

	// CreateEdges merges edges in batch
	CreateEdges(ctx context.Context, edges []GraphEdge) error

	// RemoveFile deletes a File node and everything it contains through HAS.
	// Returns the number of deleted nodes.
	RemoveFile(ctx context.Context, path string) (int, error)

	// RenameFile moves a File node and its contained declarations to a new
	// path, dropping the old directory containment edge. Returns false when
	// no File node exists at from.
	RenameFile(ctx context.Context, from, to string) (bool, error)

	// PruneFile deletes contained declarations and outgoing IMPORTS/USES
	// edges of a file that are not in keep
	PruneFile(ctx context.Context, path string, keep KeepSet) error

	// FileExists reports whether a File node exists at path
	FileExists(ctx context.Context, path string) (bool, error)

	// Counts returns node and relationship totals
	Counts(ctx context.Context) (Counts, error)

	// HealthCheck verifies the backend is reachable
	HealthCheck(ctx context.Context) error

	// Close releases the backend's resources
	Close(ctx context.Context) error
}

// GraphNode represents a node in the graph
type GraphNode struct {
	Label      string         // Node label: "File", "Directory", "Function", etc.
	ID         string         // Entity id, e.g. "file:src/a.ts"
	Properties map[string]any // Node properties, always including the unique key
}

// GraphEdge represents an edge in the graph
type GraphEdge struct {
	Label      string         // Relationship type: "HAS", "USES", "IMPORTS", "OWNS"
	From       string         // Source entity id
	To         string         // Target entity id
	Properties map[string]any // Edge properties
}

// KeepSet lists what a file still contains after a re-parse
type KeepSet struct {
	Declarations  []string // declaration ids reachable by HAS
	ImportTargets []string // repository-relative paths of IMPORTS targets
	Uses          []string // declaration ids linked by USES
}

// Counts holds graph totals
type Counts struct {
	Nodes         int
	Relationships int
	ByLabel       map[string]int
	ByType        map[string]int
}

// nodeRef identifies a node by label and unique key
type nodeRef struct {
	Label string
	Key   string
	Value string
}

// getUniqueKey returns the unique identifier property for each label
func getUniqueKey(label string) string {
	switch label {
	case string(models.KindFile), string(models.KindDirectory):
		return "path"
	case string(models.KindProject):
		return models.PropName
	default:
		return "id"
	}
}

var labelsByPrefix = func() map[string]string {
	kinds := []models.EntityKind{
		models.KindProject, models.KindDirectory, models.KindFile, models.KindClass,
		models.KindInterface, models.KindMethod, models.KindFunction, models.KindImport,
	}
	out := make(map[string]string, len(kinds))
	for _, k := range kinds {
		out[k.Prefix()] = string(k)
	}
	return out
}()

// parseNodeID resolves an entity id into its label and unique key value,
// e.g. "file:src/a.ts" -> File path "src/a.ts",
// "function:src/a.ts#foo" -> Function id "function:src/a.ts#foo"
func parseNodeID(nodeID string) (nodeRef, bool) {
	prefix, rest, ok := strings.Cut(nodeID, ":")
	if !ok || rest == "" {
		return nodeRef{}, false
	}
	label, ok := labelsByPrefix[prefix]
	if !ok {
		return nodeRef{}, false
	}

	ref := nodeRef{Label: label, Key: getUniqueKey(label)}
	if ref.Key == "id" {
		ref.Value = nodeID
	} else {
		ref.Value = rest
	}
	return ref, true
}

// keyValue returns the node's unique key value, falling back to its id
func (n GraphNode) keyValue() string {
	key := getUniqueKey(n.Label)
	if v, ok := n.Properties[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if ref, ok := parseNodeID(n.ID); ok && ref.Label == n.Label {
		return ref.Value
	}
	return n.ID
}

// containedPrefix is the id fragment shared by every declaration in a file
func containedPrefix(path string) string {
	return ":" + path + "#"
}
