package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rohankatakam/repograph/internal/errors"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}

	if len(vr.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", warn))
		}
	}

	return sb.String()
}

// Validate validates the whole configuration with the auto-detected mode
func (c *Config) Validate() *ValidationResult {
	return c.ValidateWithMode(DetectMode())
}

// ValidateWithMode validates the whole configuration for a deployment mode
func (c *Config) ValidateWithMode(mode DeploymentMode) *ValidationResult {
	result := &ValidationResult{Valid: true}
	c.validateNeo4j(result, mode)
	c.validateWatch(result)
	c.validateIndex(result)
	c.validateGraph(result)
	c.validateLog(result)
	return result
}

var neo4jSchemes = map[string]bool{
	"bolt": true, "bolt+s": true, "bolt+ssc": true,
	"neo4j": true, "neo4j+s": true, "neo4j+ssc": true,
}

func (c *Config) validateNeo4j(result *ValidationResult, mode DeploymentMode) {
	if c.Neo4j.URI == "" {
		result.AddError("NEO4J_URI is required but not set")
	} else {
		u, err := url.Parse(c.Neo4j.URI)
		switch {
		case err != nil:
			result.AddError("NEO4J_URI is invalid: %v", err)
		case !neo4jSchemes[u.Scheme]:
			result.AddError("NEO4J_URI scheme %q is not supported (use bolt:// or neo4j://)", u.Scheme)
		}
	}

	if c.Neo4j.User == "" {
		result.AddError("NEO4J_USER is required but not set")
	}

	if c.Neo4j.Password == "" {
		result.AddError("NEO4J_PASSWORD is required but not set. Set it via environment variable or .env file.")
	} else {
		insecurePasswords := []string{"password", "neo4j", "changeme"}
		for _, insecure := range insecurePasswords {
			if c.Neo4j.Password != insecure {
				continue
			}
			if mode.RequiresSecureCredentials() {
				result.AddError("NEO4J_PASSWORD is set to an insecure default (%s). This is not allowed in %s mode.", insecure, mode)
			} else {
				result.AddWarning("NEO4J_PASSWORD is set to a very common password (%s).", insecure)
			}
		}
	}

	if c.Neo4j.Database == "" {
		result.AddWarning("NEO4J_DATABASE is not set, will use the server default")
	}
}

func (c *Config) validateWatch(result *ValidationResult) {
	if c.Watch.Debounce <= 0 {
		result.AddError("watch.debounce must be positive, got %s", c.Watch.Debounce)
	}
	if c.Watch.SweepInterval <= 0 {
		result.AddError("watch.sweep_interval must be positive, got %s", c.Watch.SweepInterval)
	} else if c.Watch.SweepInterval > c.Watch.Debounce {
		result.AddWarning("watch.sweep_interval (%s) exceeds watch.debounce (%s); changes will settle late", c.Watch.SweepInterval, c.Watch.Debounce)
	}
	if c.Watch.RenameWindow <= 0 {
		result.AddError("watch.rename_window must be positive, got %s", c.Watch.RenameWindow)
	}
}

func (c *Config) validateIndex(result *ValidationResult) {
	if c.Index.Workers < 1 {
		result.AddError("index.workers must be at least 1, got %d", c.Index.Workers)
	}
	if c.Index.MaxFileSize < 0 {
		result.AddError("index.max_file_size must not be negative")
	}
}

func (c *Config) validateGraph(result *ValidationResult) {
	if c.Graph.BatchSize < 1 {
		result.AddError("graph.batch_size must be at least 1, got %d", c.Graph.BatchSize)
	}
	if c.Graph.MaxRetries < 0 {
		result.AddError("graph.max_retries must not be negative")
	}
	if c.Graph.WritesPerSecond < 0 {
		result.AddError("graph.writes_per_second must not be negative")
	}
	for op, d := range c.Graph.Timeouts {
		if d <= 0 {
			result.AddError("graph.timeouts.%s must be positive, got %s", op, d)
		}
	}
}

func (c *Config) validateLog(result *ValidationResult) {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		result.AddError("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "auto", "text", "json":
	default:
		result.AddError("log.format %q is not one of auto, text, json", c.Log.Format)
	}
}

// RequireNeo4j checks if Neo4j configuration is valid and returns error if not
func (c *Config) RequireNeo4j() error {
	result := &ValidationResult{Valid: true}
	c.validateNeo4j(result, DetectMode())

	if result.HasErrors() {
		return errors.ConfigError(result.Error())
	}

	return nil
}
