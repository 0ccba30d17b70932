// Package config provides the run configuration for batchsync.
// A single SyncConfig describes one sync invocation: where rows come from,
// where they are delivered, and how delivery is paced and bounded.
//
// The configuration is organized into logical sections:
//   - Source: stream or table identifier, ID column, typed field lists
//   - Destination: project key, endpoint, request timeout
//   - Performance: batch size and pacing between delivery calls
//   - Timeouts: overall run deadline
//   - Observability: logging, metrics push, tracing
//
// Example usage:
//
//	cfg := config.NewSyncConfig(config.SourceStream)
//	cfg.Source.Identifier = "DB.PUBLIC.USERS_STREAM"
//	cfg.Source.IDColumn = "user_id"
//	cfg.Destination.ProjectKey = "proj-1"
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultEndpoint is the Batch.com profile update endpoint
	DefaultEndpoint = "https://api.batch.com/2.4/profiles/update"
	// DefaultCredentialsTable holds project keys and REST API keys
	DefaultCredentialsTable = "BATCH_API_CREDENTIALS"
	// MaxBatchSize is the largest number of profiles accepted per call
	MaxBatchSize = 1000
)

// SourceKind selects the change-source reader variant
type SourceKind string

const (
	// SourceStream reads a change-data-capture stream inside a transaction
	SourceStream SourceKind = "stream"
	// SourceTable reads a whole table on every run
	SourceTable SourceKind = "table"
)

// SyncConfig is the configuration for one sync run.
type SyncConfig struct {
	// Name identifies the run in logs and metrics
	Name string `yaml:"name" json:"name"`

	Source        SourceConfig        `yaml:"source" json:"source"`
	Destination   DestinationConfig   `yaml:"destination" json:"destination"`
	Performance   PerformanceConfig   `yaml:"performance" json:"performance"`
	Timeouts      TimeoutConfig       `yaml:"timeouts" json:"timeouts"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// SourceConfig describes where rows are read from.
type SourceConfig struct {
	// Kind is stream or table
	Kind SourceKind `yaml:"kind" json:"kind"`
	// Identifier is the schema-qualified stream or table name
	Identifier string `yaml:"identifier" json:"identifier"`
	// IDColumn supplies the profile custom_id, matched case-insensitively
	IDColumn string `yaml:"id_column" json:"id_column"`
	// DateColumns is a comma-separated list of columns sent as date(...) attributes
	DateColumns string `yaml:"date_columns" json:"date_columns"`
	// URLColumns is a comma-separated list of columns sent as url(...) attributes
	URLColumns string `yaml:"url_columns" json:"url_columns"`
	// CredentialsTable overrides the credentials table name
	CredentialsTable string `yaml:"credentials_table" json:"credentials_table"`
	// ConsumeTable, when set, receives a no-op INSERT ... SELECT from the
	// stream before commit so the stream offset advances
	ConsumeTable string `yaml:"consume_table" json:"consume_table"`
	// Driver selects a non-Snowflake warehouse (postgres, mysql, sqlite), table variant only
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the connection string for Driver
	DSN string `yaml:"dsn" json:"dsn"`
	// ConnectionParameters is a JSON object of Snowflake connection parameters
	ConnectionParameters string `yaml:"connection_parameters" json:"connection_parameters"`
}

// DestinationConfig describes the profile API.
type DestinationConfig struct {
	// ProjectKey is sent as X-Batch-Project and keys the credentials lookup
	ProjectKey string `yaml:"project_key" json:"project_key"`
	// Endpoint is the profile update URL
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// PerformanceConfig bounds batch size and delivery rate.
type PerformanceConfig struct {
	// BatchSize is the flush threshold, at most MaxBatchSize
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// Pacing is the minimum gap between consecutive delivery calls
	Pacing time.Duration `yaml:"pacing" json:"pacing"`
}

// TimeoutConfig contains all timeout-related settings.
type TimeoutConfig struct {
	// Run bounds the whole invocation
	Run time.Duration `yaml:"run" json:"run"`
	// Request bounds a single delivery call
	Request time.Duration `yaml:"request" json:"request"`
}

// ObservabilityConfig contains logging, metrics and tracing settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFormat is json or console
	LogFormat string `yaml:"log_format" json:"log_format"`
	// MetricsPushURL is a Prometheus Pushgateway URL; empty disables pushing
	MetricsPushURL string `yaml:"metrics_push_url" json:"metrics_push_url"`
	// EnableTracing exports spans to stderr
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
}

// NewSyncConfig creates a SyncConfig with defaults for the given source kind.
func NewSyncConfig(kind SourceKind) *SyncConfig {
	return &SyncConfig{
		Name: "batchsync",
		Source: SourceConfig{
			Kind:             kind,
			CredentialsTable: DefaultCredentialsTable,
		},
		Destination: DestinationConfig{
			Endpoint: DefaultEndpoint,
		},
		Performance: PerformanceConfig{
			BatchSize: MaxBatchSize,
			Pacing:    time.Second,
		},
		Timeouts: TimeoutConfig{
			Run:     30 * time.Minute,
			Request: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate checks required fields and ranges.
func (c *SyncConfig) Validate() error {
	switch c.Source.Kind {
	case SourceStream, SourceTable:
	default:
		return fmt.Errorf("source kind must be %q or %q, got %q", SourceStream, SourceTable, c.Source.Kind)
	}
	if c.Source.Identifier == "" {
		return fmt.Errorf("source identifier is required")
	}
	if c.Source.IDColumn == "" {
		return fmt.Errorf("id_column is required")
	}
	if c.Destination.ProjectKey == "" {
		return fmt.Errorf("project_key is required")
	}
	if c.Destination.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Performance.BatchSize <= 0 || c.Performance.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch_size must be between 1 and %d", MaxBatchSize)
	}
	if c.Performance.Pacing < 0 {
		return fmt.Errorf("pacing cannot be negative")
	}
	if c.Timeouts.Request <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.Timeouts.Run <= 0 {
		return fmt.Errorf("run timeout must be positive")
	}
	if c.Source.Kind == SourceStream && c.Source.Driver != "" && c.Source.Driver != "snowflake" {
		return fmt.Errorf("stream sources require the snowflake driver")
	}
	if c.Source.Driver != "" && c.Source.Driver != "snowflake" && c.Source.DSN == "" {
		return fmt.Errorf("dsn is required for driver %q", c.Source.Driver)
	}
	return nil
}

// CredentialsTableName returns the credentials table, falling back to the default.
func (s *SourceConfig) CredentialsTableName() string {
	if s.CredentialsTable == "" {
		return DefaultCredentialsTable
	}
	return s.CredentialsTable
}

// DateFields returns the configured date columns, upper-cased.
func (s *SourceConfig) DateFields() []string {
	return ParseColumnList(s.DateColumns)
}

// URLFields returns the configured url columns, upper-cased.
func (s *SourceConfig) URLFields() []string {
	return ParseColumnList(s.URLColumns)
}

// ParseColumnList splits a comma-separated column list, trimming whitespace,
// dropping empty entries and upper-casing for case-insensitive matching.
func ParseColumnList(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, strings.ToUpper(p))
	}
	return out
}
