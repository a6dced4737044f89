package graph

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rohankatakam/repograph/internal/errors"
	"github.com/sirupsen/logrus"
)

// Neo4jBackend implements Backend with parameterized Cypher.
// Writes go through managed write transactions carrying the operation's
// timeout and metadata; reads use readers routing.
type Neo4jBackend struct {
	driver   neo4j.DriverWithContext
	database string
	batch    BatchConfig
	timeouts Timeouts
	logger   *logrus.Entry
}

// Neo4jConfig holds connection settings for NewNeo4jBackend
type Neo4jConfig struct {
	URI         string
	User        string
	Password    string
	Database    string
	MaxPoolSize int
	Batch       BatchConfig
	Timeouts    Timeouts
}

// QueryWithParams represents a Cypher query with its parameters
type QueryWithParams struct {
	Query  string
	Params map[string]any
}

// NewNeo4jBackend creates a driver with a tuned connection pool and verifies
// connectivity before returning
func NewNeo4jBackend(ctx context.Context, cfg Neo4jConfig, logger *logrus.Logger) (*Neo4jBackend, error) {
	if cfg.URI == "" || cfg.User == "" || cfg.Password == "" {
		return nil, fmt.Errorf("neo4j credentials missing: uri=%s, user=%s", cfg.URI, cfg.User)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	poolSize := cfg.MaxPoolSize
	if poolSize <= 0 {
		poolSize = 50
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = poolSize
			config.ConnectionAcquisitionTimeout = 60 * time.Second
			config.MaxConnectionLifetime = time.Hour
			config.ConnectionLivenessCheckTimeout = 5 * time.Second
			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	// Fail fast on startup
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, errors.DatabaseErrorf(err, "failed to connect to neo4j at %s", cfg.URI)
	}

	batch := cfg.Batch
	if batch == (BatchConfig{}) {
		batch = DefaultBatchConfig()
	}

	entry := logger.WithField("component", "neo4j")
	entry.WithFields(logrus.Fields{
		"uri":           cfg.URI,
		"user":          cfg.User,
		"database":      cfg.Database,
		"max_pool_size": poolSize,
	}).Info("neo4j backend connected")

	return &Neo4jBackend{
		driver:   driver,
		database: cfg.Database,
		batch:    batch,
		timeouts: cfg.Timeouts,
		logger:   entry,
	}, nil
}

// SchemaStatements returns the constraint and index statements issued by EnsureSchema
func SchemaStatements() []string {
	return []string{
		"CREATE CONSTRAINT file_path IF NOT EXISTS FOR (f:File) REQUIRE f.path IS UNIQUE",
		"CREATE CONSTRAINT directory_path IF NOT EXISTS FOR (d:Directory) REQUIRE d.path IS UNIQUE",
		"CREATE CONSTRAINT project_name IF NOT EXISTS FOR (p:Project) REQUIRE p.name IS UNIQUE",
		"CREATE INDEX function_name IF NOT EXISTS FOR (f:Function) ON (f.name)",
		"CREATE INDEX class_name IF NOT EXISTS FOR (c:Class) ON (c.name)",
		"CREATE INDEX file_language IF NOT EXISTS FOR (f:File) ON (f.language)",
		"CREATE INDEX class_id IF NOT EXISTS FOR (n:Class) ON (n.id)",
		"CREATE INDEX interface_id IF NOT EXISTS FOR (n:Interface) ON (n.id)",
		"CREATE INDEX function_id IF NOT EXISTS FOR (n:Function) ON (n.id)",
		"CREATE INDEX method_id IF NOT EXISTS FOR (n:Method) ON (n.id)",
	}
}

const removeFileCypher = `MATCH (f:File {path: $path})
OPTIONAL MATCH (f)-[:HAS*1..]->(e)
WHERE NOT e:File AND NOT e:Directory
WITH f, collect(DISTINCT e) AS contained
FOREACH (n IN contained | DETACH DELETE n)
DETACH DELETE f
RETURN size(contained) + 1 AS deleted`

const renameFileCypher = `MATCH (f:File {path: $from})
SET f.path = $to, f.name = $name, f.id = $id, f.extension = $extension
WITH f
OPTIONAL MATCH (f)-[:HAS*1..]->(e)
WHERE NOT e:File AND NOT e:Directory
WITH f, collect(DISTINCT e) AS contained
FOREACH (n IN contained | SET n.id = replace(n.id, $old_fragment, $new_fragment), n.path = $to)
WITH f
OPTIONAL MATCH (:Directory)-[r:HAS]->(f)
DELETE r
RETURN count(DISTINCT f) AS renamed`

const pruneDeclarationsCypher = `MATCH (f:File {path: $path})
OPTIONAL MATCH (f)-[:HAS*1..]->(e)
WHERE NOT e:File AND NOT e:Directory AND NOT e.id IN $keep
WITH collect(DISTINCT e) AS stale
FOREACH (n IN stale | DETACH DELETE n)`

const pruneImportsCypher = `MATCH (f:File {path: $path})-[r:IMPORTS]->(t:File)
WHERE NOT t.path IN $keep
DELETE r`

const pruneUsesCypher = `MATCH (f:File {path: $path})-[r:USES]->(d)
WHERE NOT d.id IN $keep
DELETE r`

const fileExistsCypher = `MATCH (f:File {path: $path}) RETURN count(f) AS count`

// EnsureSchema creates constraints and indexes. Schema commands cannot share
// a transaction with writes, so each runs on its own.
func (n *Neo4jBackend) EnsureSchema(ctx context.Context) error {
	for _, stmt := range SchemaStatements() {
		if _, err := neo4j.ExecuteQuery(ctx, n.driver, stmt, nil,
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(n.database)); err != nil {
			return fmt.Errorf("schema statement failed (%s): %w", stmt, err)
		}
	}
	n.logger.WithField("statements", len(SchemaStatements())).Debug("schema ensured")
	return nil
}

// CreateNode merges a single node
func (n *Neo4jBackend) CreateNode(ctx context.Context, node GraphNode) error {
	builder := NewCypherBuilder()
	cypher, err := builder.BuildMergeNode(node.Label, getUniqueKey(node.Label), node.keyValue(), node.Properties)
	if err != nil {
		return fmt.Errorf("failed to build node query: %w", err)
	}

	if _, err := n.ExecuteBatchWithParams(ctx, OpIngest, []QueryWithParams{{Query: cypher, Params: builder.Params()}}); err != nil {
		return fmt.Errorf("failed to create %s node %s: %w", node.Label, node.ID, err)
	}
	return nil
}

// CreateNodes merges nodes with UNWIND, one query per label and chunk
func (n *Neo4jBackend) CreateNodes(ctx context.Context, nodes []GraphNode) error {
	queries, err := buildNodeBatches(nodes, n.batch)
	if err != nil {
		return err
	}
	for _, q := range queries {
		if _, err := n.ExecuteBatchWithParams(ctx, OpBatchWrite, []QueryWithParams{q}); err != nil {
			return fmt.Errorf("batch node creation failed: %w", err)
		}
	}
	return nil
}

// CreateEdge merges a single edge
func (n *Neo4jBackend) CreateEdge(ctx context.Context, edge GraphEdge) error {
	from, ok := parseNodeID(edge.From)
	if !ok {
		return fmt.Errorf("invalid edge source id: %s", edge.From)
	}
	to, ok := parseNodeID(edge.To)
	if !ok {
		return fmt.Errorf("invalid edge target id: %s", edge.To)
	}

	builder := NewCypherBuilder()
	cypher, err := builder.BuildMergeEdge(from, to, edge.Label, edge.Properties)
	if err != nil {
		return fmt.Errorf("failed to build edge query: %w", err)
	}

	records, err := n.ExecuteBatchWithParams(ctx, OpIngest, []QueryWithParams{{Query: cypher, Params: builder.Params()}})
	if err != nil {
		return fmt.Errorf("failed to create edge %s: from=%s to=%s: %w", edge.Label, edge.From, edge.To, err)
	}
	if recordInt(records, "merged") == 0 {
		n.logger.WithFields(logrus.Fields{
			"type": edge.Label,
			"from": edge.From,
			"to":   edge.To,
		}).Debug("edge skipped, endpoint missing")
	}
	return nil
}

// CreateEdges merges edges with UNWIND grouped by (type, from label, to label)
func (n *Neo4jBackend) CreateEdges(ctx context.Context, edges []GraphEdge) error {
	queries, err := buildEdgeBatches(edges, n.batch)
	if err != nil {
		return err
	}
	for _, q := range queries {
		records, err := n.ExecuteBatchWithParams(ctx, OpBatchWrite, []QueryWithParams{q})
		if err != nil {
			return fmt.Errorf("batch edge creation failed: %w", err)
		}
		if merged, want := recordInt(records, "merged"), len(q.Params["edges"].([]map[string]any)); merged < want {
			n.logger.WithFields(logrus.Fields{
				"merged":   merged,
				"expected": want,
			}).Debug("some edges skipped, endpoints missing")
		}
	}
	return nil
}

// RemoveFile deletes the File node and its HAS-reachable declarations
func (n *Neo4jBackend) RemoveFile(ctx context.Context, filePath string) (int, error) {
	records, err := n.ExecuteBatchWithParams(ctx, OpRemoveFile, []QueryWithParams{
		{Query: removeFileCypher, Params: map[string]any{"path": filePath}},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to remove file %s: %w", filePath, err)
	}
	return recordInt(records, "deleted"), nil
}

// RenameFile moves a File node in place. Any node already at to is removed
// first, in the same transaction.
func (n *Neo4jBackend) RenameFile(ctx context.Context, from, to string) (bool, error) {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	renamed, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		exists, err := runCollect(ctx, tx, fileExistsCypher, map[string]any{"path": from})
		if err != nil {
			return false, err
		}
		if recordInt(exists, "count") == 0 {
			return false, nil
		}
		if from == to {
			return true, nil
		}
		if _, err := runCollect(ctx, tx, removeFileCypher, map[string]any{"path": to}); err != nil {
			return false, err
		}
		records, err := runCollect(ctx, tx, renameFileCypher, renameParams(from, to))
		if err != nil {
			return false, err
		}
		return recordInt(records, "renamed") > 0, nil
	}, n.timeouts.ForFile(OpRenameFile, to).AsNeo4jConfig()...)
	if err != nil {
		return false, fmt.Errorf("failed to rename file %s -> %s: %w", from, to, err)
	}
	return renamed.(bool), nil
}

// PruneFile removes stale declarations and outgoing edges in one transaction
func (n *Neo4jBackend) PruneFile(ctx context.Context, filePath string, keep KeepSet) error {
	queries := []QueryWithParams{
		{Query: pruneDeclarationsCypher, Params: map[string]any{"path": filePath, "keep": nonNil(keep.Declarations)}},
		{Query: pruneImportsCypher, Params: map[string]any{"path": filePath, "keep": nonNil(keep.ImportTargets)}},
		{Query: pruneUsesCypher, Params: map[string]any{"path": filePath, "keep": nonNil(keep.Uses)}},
	}
	if _, err := n.ExecuteBatchWithParams(ctx, OpPruneFile, queries); err != nil {
		return fmt.Errorf("failed to prune file %s: %w", filePath, err)
	}
	return nil
}

// FileExists reports whether a File node exists at path
func (n *Neo4jBackend) FileExists(ctx context.Context, filePath string) (bool, error) {
	result, err := neo4j.ExecuteQuery(ctx, n.driver, fileExistsCypher,
		map[string]any{"path": filePath},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return false, fmt.Errorf("file lookup failed for %s: %w", filePath, err)
	}
	return recordInt(result.Records, "count") > 0, nil
}

// Counts returns node totals per label and relationship totals per type
func (n *Neo4jBackend) Counts(ctx context.Context) (Counts, error) {
	counts := Counts{ByLabel: map[string]int{}, ByType: map[string]int{}}

	nodes, err := neo4j.ExecuteQuery(ctx, n.driver,
		"MATCH (n) UNWIND labels(n) AS label RETURN label, count(*) AS count",
		nil, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return counts, fmt.Errorf("node count query failed: %w", err)
	}
	for _, record := range nodes.Records {
		label, _ := record.Get("label")
		c := recordInt([]*neo4j.Record{record}, "count")
		counts.ByLabel[fmt.Sprint(label)] = c
		counts.Nodes += c
	}

	rels, err := neo4j.ExecuteQuery(ctx, n.driver,
		"MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count",
		nil, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return counts, fmt.Errorf("relationship count query failed: %w", err)
	}
	for _, record := range rels.Records {
		relType, _ := record.Get("type")
		c := recordInt([]*neo4j.Record{record}, "count")
		counts.ByType[fmt.Sprint(relType)] = c
		counts.Relationships += c
	}
	return counts, nil
}

// ExecuteBatchWithParams executes queries in a single write transaction
// and returns the records of the last one
func (n *Neo4jBackend) ExecuteBatchWithParams(ctx context.Context, operation string, queries []QueryWithParams) ([]*neo4j.Record, error) {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	records, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var last []*neo4j.Record
		for i, q := range queries {
			records, err := runCollect(ctx, tx, q.Query, q.Params)
			if err != nil {
				return nil, fmt.Errorf("batch command %d failed: %w", i, err)
			}
			last = records
		}
		return last, nil
	}, n.timeouts.For(operation).AsNeo4jConfig()...)
	if err != nil {
		return nil, err
	}
	out, _ := records.([]*neo4j.Record)
	return out, nil
}

// HealthCheck verifies Neo4j connectivity
func (n *Neo4jBackend) HealthCheck(ctx context.Context) error {
	if err := n.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j health check failed: %w", err)
	}
	return nil
}

// Close closes the Neo4j driver connection
func (n *Neo4jBackend) Close(ctx context.Context) error {
	if err := n.driver.Close(ctx); err != nil {
		return fmt.Errorf("failed to close neo4j driver: %w", err)
	}
	n.logger.Info("neo4j backend closed")
	return nil
}

func runCollect(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

func renameParams(from, to string) map[string]any {
	return map[string]any{
		"from":         from,
		"to":           to,
		"name":         path.Base(to),
		"id":           "file:" + to,
		"extension":    path.Ext(to),
		"old_fragment": containedPrefix(from),
		"new_fragment": containedPrefix(to),
	}
}

// labelRank orders labels containers first
func labelRank(label string) int {
	switch label {
	case "Project":
		return 0
	case "Directory":
		return 1
	case "File":
		return 2
	case "Class", "Interface":
		return 3
	default:
		return 4
	}
}

func recordInt(records []*neo4j.Record, key string) int {
	if len(records) == 0 {
		return 0
	}
	v, ok := records[0].Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
