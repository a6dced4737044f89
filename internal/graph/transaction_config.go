package graph

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Graph operation names. They key timeouts and are sent as transaction
// metadata, so they show up in Neo4j's query.log.
const (
	OpSchema      = "schema"
	OpIngest      = "ingest"
	OpBatchWrite  = "batch_write"
	OpRemoveFile  = "remove_file"
	OpRenameFile  = "rename_file"
	OpPruneFile   = "prune_file"
	OpRead        = "read"
	OpHealthCheck = "health_check"
)

// TransactionConfig defines timeout and metadata for transactions
type TransactionConfig struct {
	Timeout  time.Duration
	Metadata map[string]any
}

// DefaultTransactionConfigs returns recommended configs per operation type
func DefaultTransactionConfigs() map[string]TransactionConfig {
	return map[string]TransactionConfig{
		// Constraint and index creation can be slow on large graphs
		OpSchema: {
			Timeout:  2 * time.Minute,
			Metadata: map[string]any{"operation": OpSchema, "type": "schema"},
		},
		// Single file upsert from the live path
		OpIngest: {
			Timeout:  30 * time.Second,
			Metadata: map[string]any{"operation": OpIngest, "type": "write"},
		},
		OpBatchWrite: {
			Timeout:  3 * time.Minute,
			Metadata: map[string]any{"operation": OpBatchWrite, "type": "write"},
		},
		OpRemoveFile: {
			Timeout:  30 * time.Second,
			Metadata: map[string]any{"operation": OpRemoveFile, "type": "write"},
		},
		OpRenameFile: {
			Timeout:  30 * time.Second,
			Metadata: map[string]any{"operation": OpRenameFile, "type": "write"},
		},
		OpPruneFile: {
			Timeout:  30 * time.Second,
			Metadata: map[string]any{"operation": OpPruneFile, "type": "write"},
		},
		OpRead: {
			Timeout:  30 * time.Second,
			Metadata: map[string]any{"operation": OpRead, "type": "read"},
		},
		// Health checks must be fast
		OpHealthCheck: {
			Timeout:  5 * time.Second,
			Metadata: map[string]any{"operation": OpHealthCheck, "type": "read"},
		},
	}
}

// AsNeo4jConfig converts to Neo4j transaction config functions
// Use with ExecuteRead/ExecuteWrite
func (tc TransactionConfig) AsNeo4jConfig() []func(*neo4j.TransactionConfig) {
	configs := []func(*neo4j.TransactionConfig){}

	if tc.Timeout > 0 {
		configs = append(configs, neo4j.WithTxTimeout(tc.Timeout))
	}
	if len(tc.Metadata) > 0 {
		configs = append(configs, neo4j.WithTxMetadata(tc.Metadata))
	}

	return configs
}

// GetConfigForOperation retrieves the appropriate transaction config
// Returns default config if operation not found
func GetConfigForOperation(operation string) TransactionConfig {
	configs := DefaultTransactionConfigs()
	if config, ok := configs[operation]; ok {
		return config
	}

	return TransactionConfig{
		Timeout: 60 * time.Second,
		Metadata: map[string]any{
			"operation": operation,
			"type":      "unknown",
		},
	}
}

// WithCustomMetadata creates a config with custom metadata
func (tc TransactionConfig) WithCustomMetadata(key string, value any) TransactionConfig {
	newConfig := TransactionConfig{
		Timeout:  tc.Timeout,
		Metadata: make(map[string]any, len(tc.Metadata)+1),
	}
	for k, v := range tc.Metadata {
		newConfig.Metadata[k] = v
	}
	newConfig.Metadata[key] = value
	return newConfig
}

// WithTimeout creates a config with a custom timeout
// Overrides the default timeout for the operation
func (tc TransactionConfig) WithTimeout(timeout time.Duration) TransactionConfig {
	return TransactionConfig{
		Timeout:  timeout,
		Metadata: tc.Metadata,
	}
}

// Timeouts resolves per-operation timeouts, with overrides taking
// precedence over the defaults
type Timeouts map[string]time.Duration

// For returns the effective transaction config of an operation
func (t Timeouts) For(operation string) TransactionConfig {
	tc := GetConfigForOperation(operation)
	if d, ok := t[operation]; ok && d > 0 {
		tc = tc.WithTimeout(d)
	}
	return tc
}

// ForFile returns the config of an operation on one file, tagging the
// transaction metadata with its path
func (t Timeouts) ForFile(operation, path string) TransactionConfig {
	return t.For(operation).WithCustomMetadata("path", path)
}
