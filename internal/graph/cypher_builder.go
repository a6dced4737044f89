package graph

import (
	"fmt"
	"regexp"
	"strings"
)

// CypherBuilder builds safe, parameterized Cypher queries.
// Every value goes through a parameter; labels, keys and relationship types
// are validated identifiers since Cypher cannot parameterize them.
type CypherBuilder struct {
	params  map[string]any
	counter int
}

// NewCypherBuilder creates a query builder
func NewCypherBuilder() *CypherBuilder {
	return &CypherBuilder{
		params:  make(map[string]any),
		counter: 0,
	}
}

// AddParam adds a parameter and returns its placeholder
func (b *CypherBuilder) AddParam(value any) string {
	paramName := fmt.Sprintf("p%d", b.counter)
	b.counter++
	b.params[paramName] = value
	return "$" + paramName
}

// Params returns all parameters for the query
func (b *CypherBuilder) Params() map[string]any {
	return b.params
}

// BuildMergeNode creates an idempotent MERGE on the node's unique key.
// created_at is only stamped on creation; every other property is
// overwritten on both paths.
func (b *CypherBuilder) BuildMergeNode(label, uniqueKey string, uniqueValue any, properties map[string]any) (string, error) {
	if !isValidIdentifier(label) {
		return "", fmt.Errorf("invalid node label: %s (must be alphanumeric + underscore)", label)
	}
	if !isValidIdentifier(uniqueKey) {
		return "", fmt.Errorf("invalid unique key: %s (must be alphanumeric + underscore)", uniqueKey)
	}
	if err := validatePropertyKeys(properties); err != nil {
		return "", err
	}

	keyParam := b.AddParam(uniqueValue)
	propsParam := b.AddParam(properties)

	return fmt.Sprintf(
		"MERGE (n:%s {%s: %s}) ON CREATE SET n += %s, n.created_at = timestamp() ON MATCH SET n += %s",
		label, uniqueKey, keyParam, propsParam, propsParam,
	), nil
}

// BuildMergeEdge creates a MERGE for a single relationship.
// Both endpoints must already exist, except IMPORTS targets which are
// merged by path so files can be ingested in any order.
func (b *CypherBuilder) BuildMergeEdge(from, to nodeRef, relType string, properties map[string]any) (string, error) {
	for _, id := range []string{from.Label, from.Key, to.Label, to.Key, relType} {
		if !isValidIdentifier(id) {
			return "", fmt.Errorf("invalid identifier in edge query: %s", id)
		}
	}
	if err := validatePropertyKeys(properties); err != nil {
		return "", err
	}

	fromParam := b.AddParam(from.Value)
	toParam := b.AddParam(to.Value)

	var sb strings.Builder
	fmt.Fprintf(&sb, "MATCH (a:%s {%s: %s}) ", from.Label, from.Key, fromParam)
	if mergesTarget(relType, to.Label) {
		stubParam := b.AddParam(stubFileProperties(to.Value))
		fmt.Fprintf(&sb, "MERGE (b:%s {%s: %s}) ON CREATE SET b += %s, b.created_at = timestamp() ",
			to.Label, to.Key, toParam, stubParam)
	} else {
		fmt.Fprintf(&sb, "MATCH (b:%s {%s: %s}) ", to.Label, to.Key, toParam)
	}
	fmt.Fprintf(&sb, "MERGE (a)-[r:%s]->(b)", relType)
	if len(properties) > 0 {
		fmt.Fprintf(&sb, " SET r += %s", b.AddParam(properties))
	}
	sb.WriteString(" RETURN count(r) AS merged")
	return sb.String(), nil
}

// BuildBatchMergeNodes returns an UNWIND query merging $nodes, each a map
// with "key" and "props", under one label
func BuildBatchMergeNodes(label string) (string, error) {
	if !isValidIdentifier(label) {
		return "", fmt.Errorf("invalid node label: %s", label)
	}
	return fmt.Sprintf(`UNWIND $nodes AS node
MERGE (n:%s {%s: node.key})
ON CREATE SET n += node.props, n.created_at = timestamp()
ON MATCH SET n += node.props
RETURN count(n) AS merged`, label, getUniqueKey(label)), nil
}

// BuildBatchMergeEdges returns an UNWIND query merging $edges, each a map
// with "from", "to" and "props", for one (relationship, from label, to label) group
func BuildBatchMergeEdges(relType, fromLabel, toLabel string) (string, error) {
	for _, id := range []string{relType, fromLabel, toLabel} {
		if !isValidIdentifier(id) {
			return "", fmt.Errorf("invalid identifier in edge query: %s", id)
		}
	}

	var sb strings.Builder
	sb.WriteString("UNWIND $edges AS edge\n")
	fmt.Fprintf(&sb, "MATCH (a:%s {%s: edge.from})\n", fromLabel, getUniqueKey(fromLabel))
	if mergesTarget(relType, toLabel) {
		fmt.Fprintf(&sb, "MERGE (b:%s {%s: edge.to})\n", toLabel, getUniqueKey(toLabel))
		sb.WriteString("ON CREATE SET b += edge.stub, b.created_at = timestamp()\n")
	} else {
		fmt.Fprintf(&sb, "MATCH (b:%s {%s: edge.to})\n", toLabel, getUniqueKey(toLabel))
	}
	fmt.Fprintf(&sb, "MERGE (a)-[r:%s]->(b)\n", relType)
	sb.WriteString("SET r += edge.props\n")
	sb.WriteString("RETURN count(r) AS merged")
	return sb.String(), nil
}

// mergesTarget reports whether an edge creates its missing target node
func mergesTarget(relType, toLabel string) bool {
	return relType == "IMPORTS" && toLabel == "File"
}

// stubFileProperties are the properties of a File node created as an
// import target before the file itself is ingested
func stubFileProperties(path string) map[string]any {
	name := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		name = path[i+1:]
	}
	return map[string]any{
		"id":   "file:" + path,
		"path": path,
		"name": name,
	}
}

func validatePropertyKeys(properties map[string]any) error {
	for key := range properties {
		if !isValidIdentifier(key) {
			return fmt.Errorf("invalid property key: %s (must be alphanumeric + underscore)", key)
		}
	}
	return nil
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// isValidIdentifier validates Cypher identifiers (labels, keys, relationship types)
func isValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
