package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings
type Config struct {
	Neo4j   Neo4jConfig   `yaml:"neo4j" mapstructure:"neo4j"`
	Watch   WatchConfig   `yaml:"watch" mapstructure:"watch"`
	Index   IndexConfig   `yaml:"index" mapstructure:"index"`
	Graph   GraphConfig   `yaml:"graph" mapstructure:"graph"`
	Tracker TrackerConfig `yaml:"tracker" mapstructure:"tracker"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

type Neo4jConfig struct {
	URI         string `yaml:"uri" mapstructure:"uri"`
	User        string `yaml:"user" mapstructure:"user"`
	Password    string `yaml:"password" mapstructure:"password"`
	Database    string `yaml:"database" mapstructure:"database"`
	MaxPoolSize int    `yaml:"max_pool_size" mapstructure:"max_pool_size"`
}

type WatchConfig struct {
	Debounce       time.Duration `yaml:"debounce" mapstructure:"debounce"`
	SweepInterval  time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	RenameWindow   time.Duration `yaml:"rename_window" mapstructure:"rename_window"`
	IgnorePatterns []string      `yaml:"ignore_patterns" mapstructure:"ignore_patterns"`
	UseGitignore   bool          `yaml:"use_gitignore" mapstructure:"use_gitignore"`
	IncludeHidden  bool          `yaml:"include_hidden" mapstructure:"include_hidden"`
}

type IndexConfig struct {
	Workers     int    `yaml:"workers" mapstructure:"workers"`
	Incremental bool   `yaml:"incremental" mapstructure:"incremental"`
	MaxFileSize int64  `yaml:"max_file_size" mapstructure:"max_file_size"` // In bytes
	ProjectName string `yaml:"project_name" mapstructure:"project_name"`
}

type GraphConfig struct {
	BatchSize       int                      `yaml:"batch_size" mapstructure:"batch_size"`
	MaxRetries      int                      `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoff    time.Duration            `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	WritesPerSecond float64                  `yaml:"writes_per_second" mapstructure:"writes_per_second"`
	Timeouts        map[string]time.Duration `yaml:"timeouts" mapstructure:"timeouts"`
}

type TrackerConfig struct {
	StatePath string `yaml:"state_path" mapstructure:"state_path"` // Empty keeps fingerprints in memory only
}

type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format     string `yaml:"format" mapstructure:"format"` // text, json, auto
	File       string `yaml:"file" mapstructure:"file"`
	MaxSize    int64  `yaml:"max_size" mapstructure:"max_size"` // In bytes
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Neo4j: Neo4jConfig{
			URI:         "bolt://localhost:7687",
			User:        "neo4j",
			Database:    "neo4j",
			MaxPoolSize: 50,
		},
		Watch: WatchConfig{
			Debounce:      300 * time.Millisecond,
			SweepInterval: 100 * time.Millisecond,
			RenameWindow:  100 * time.Millisecond,
			UseGitignore:  true,
		},
		Index: IndexConfig{
			Workers:     8,
			MaxFileSize: 1024 * 1024, // 1MB
		},
		Graph: GraphConfig{
			BatchSize:    500,
			MaxRetries:   3,
			RetryBackoff: 200 * time.Millisecond,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "auto",
			MaxSize:    10 * 1024 * 1024, // 10MB
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Load .env files first (in order of precedence)
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults per leaf key so partial sections in the file merge with them
	cfg := Default()
	for section, values := range cfg.sections() {
		for key, value := range values {
			v.SetDefault(section+"."+key, value)
		}
	}

	// Load from environment variables, e.g. REPOGRAPH_GRAPH_BATCH_SIZE
	v.SetEnvPrefix("REPOGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Try to find config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.AddConfigPath(".repograph")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".repograph"))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)
	cfg.Tracker.StatePath = expandPath(cfg.Tracker.StatePath)
	cfg.Log.File = expandPath(cfg.Log.File)

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence. godotenv never
// overrides a variable that is already set, so earlier files win.
func loadEnvFiles() {
	envFiles := []string{
		".env.local", // Local overrides (highest precedence)
		".env",       // Main environment file
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}

	// Also try loading from home directory
	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".repograph", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		_ = godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	// Neo4j connection
	cfg.Neo4j.URI = GetString("NEO4J_URI", cfg.Neo4j.URI)
	cfg.Neo4j.User = GetString("NEO4J_USER", cfg.Neo4j.User)
	cfg.Neo4j.Password = GetString("NEO4J_PASSWORD", cfg.Neo4j.Password)
	cfg.Neo4j.Database = GetString("NEO4J_DATABASE", cfg.Neo4j.Database)

	// Ingestion
	cfg.Index.Workers = GetInt("REPOGRAPH_WORKERS", cfg.Index.Workers)
	cfg.Index.Incremental = GetBool("REPOGRAPH_INCREMENTAL", cfg.Index.Incremental)
	cfg.Watch.Debounce = GetDuration("REPOGRAPH_DEBOUNCE", cfg.Watch.Debounce)
	cfg.Tracker.StatePath = GetString("REPOGRAPH_STATE_PATH", cfg.Tracker.StatePath)

	// Logging
	cfg.Log.Level = GetString("REPOGRAPH_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = GetString("REPOGRAPH_LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = GetString("REPOGRAPH_LOG_FILE", cfg.Log.File)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	// Convert struct sections to maps for Viper
	for key, section := range c.sections() {
		v.Set(key, section)
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write config file
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Masked returns a copy safe for display, with the Neo4j password hidden
func (c *Config) Masked() *Config {
	out := *c
	if out.Neo4j.Password != "" {
		out.Neo4j.Password = "********"
	}
	out.Watch.IgnorePatterns = append([]string(nil), c.Watch.IgnorePatterns...)
	if c.Graph.Timeouts != nil {
		out.Graph.Timeouts = make(map[string]time.Duration, len(c.Graph.Timeouts))
		for k, v := range c.Graph.Timeouts {
			out.Graph.Timeouts[k] = v
		}
	}
	return &out
}

// ToMap returns the configuration as yaml-shaped sections, durations as strings
func (c *Config) ToMap() map[string]map[string]any {
	return c.sections()
}

func (c *Config) sections() map[string]map[string]any {
	return map[string]map[string]any{
		"neo4j": {
			"uri":           c.Neo4j.URI,
			"user":          c.Neo4j.User,
			"password":      c.Neo4j.Password,
			"database":      c.Neo4j.Database,
			"max_pool_size": c.Neo4j.MaxPoolSize,
		},
		"watch": {
			"debounce":        c.Watch.Debounce.String(),
			"sweep_interval":  c.Watch.SweepInterval.String(),
			"rename_window":   c.Watch.RenameWindow.String(),
			"ignore_patterns": c.Watch.IgnorePatterns,
			"use_gitignore":   c.Watch.UseGitignore,
			"include_hidden":  c.Watch.IncludeHidden,
		},
		"index": {
			"workers":       c.Index.Workers,
			"incremental":   c.Index.Incremental,
			"max_file_size": c.Index.MaxFileSize,
			"project_name":  c.Index.ProjectName,
		},
		"graph": {
			"batch_size":        c.Graph.BatchSize,
			"max_retries":       c.Graph.MaxRetries,
			"retry_backoff":     c.Graph.RetryBackoff.String(),
			"writes_per_second": c.Graph.WritesPerSecond,
			"timeouts":          durationStrings(c.Graph.Timeouts),
		},
		"tracker": {
			"state_path": c.Tracker.StatePath,
		},
		"log": {
			"level":       c.Log.Level,
			"format":      c.Log.Format,
			"file":        c.Log.File,
			"max_size":    c.Log.MaxSize,
			"max_backups": c.Log.MaxBackups,
		},
	}
}

func durationStrings(m map[string]time.Duration) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}
