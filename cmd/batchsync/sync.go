package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/batchsync/internal/pipeline"
	"github.com/ajitpratap0/batchsync/pkg/clients"
	"github.com/ajitpratap0/batchsync/pkg/config"
	"github.com/ajitpratap0/batchsync/pkg/credentials"
	"github.com/ajitpratap0/batchsync/pkg/delivery"
	"github.com/ajitpratap0/batchsync/pkg/errors"
	"github.com/ajitpratap0/batchsync/pkg/logger"
	"github.com/ajitpratap0/batchsync/pkg/metrics"
	"github.com/ajitpratap0/batchsync/pkg/observability"
	"github.com/ajitpratap0/batchsync/pkg/source"
	"github.com/ajitpratap0/batchsync/pkg/warehouse"
)

const (
	envPrefix   = "BATCHSYNC"
	pushTimeout = 10 * time.Second
)

func newSyncCommand(kind config.SourceKind) *cobra.Command {
	var v *viper.Viper
	cmd := &cobra.Command{
		Use:   string(kind),
		Short: fmt.Sprintf("Sync a %s to Batch.com profiles", kind),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, kind)
			if err != nil {
				return err
			}
			return runSync(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	if kind == config.SourceStream {
		cmd.Long = `Read every pending change of a Snowflake stream inside one transaction and
send it to the profile API. The transaction is committed, and the stream
consumed, only when every record was accepted.

Example:
  batchsync stream --project-key PROJ --source-stream DB.PUBLIC.USERS_STREAM --id-column USER_ID`
	} else {
		cmd.Long = `Read a whole table and send every row to the profile API.

Example:
  batchsync table --project-key PROJ --source-table DB.PUBLIC.USERS --id-column USER_ID`
	}

	addFlags(cmd.Flags(), kind, config.NewSyncConfig(kind))
	v = bindConfig(cmd.Flags())
	return cmd
}

// bindConfig resolves keys from fs and BATCHSYNC_* variables.
func bindConfig(fs *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(fs)
	return v
}

func addFlags(fs *pflag.FlagSet, kind config.SourceKind, defaults *config.SyncConfig) {
	fs.String("config", "", "Path to a YAML configuration file; flags and BATCHSYNC_* variables override it")
	fs.String("project-key", "", "Batch project key, used for the credentials lookup and the X-Batch-Project header")
	fs.String("id-column", "", "Column supplying the profile custom_id (case-insensitive)")
	fs.String("date-columns", "", "Comma-separated columns sent as date(...) attributes")
	fs.String("url-columns", "", "Comma-separated columns sent as url(...) attributes")
	fs.String("connection-parameters", "", "Snowflake connection parameters as a JSON object; SNOWFLAKE_* variables are used when empty")

	switch kind {
	case config.SourceStream:
		fs.String("source-stream", "", "Schema-qualified stream to consume")
		fs.String("api-credentials-table", defaults.Source.CredentialsTable, "Table holding PROJECT_KEY and REST_API_KEY")
		fs.String("consume-table", "", "Table receiving a no-op INSERT ... SELECT from the stream before commit")
	case config.SourceTable:
		fs.String("source-table", "", "Schema-qualified table to read")
		fs.String("driver", "snowflake", "Warehouse driver: snowflake, postgres, mysql or sqlite")
		fs.String("dsn", "", "Connection string for non-Snowflake drivers")
	}

	fs.String("endpoint", defaults.Destination.Endpoint, "Profile update endpoint")
	fs.Int("batch-size", defaults.Performance.BatchSize, fmt.Sprintf("Profiles per API call, at most %d", config.MaxBatchSize))
	fs.Duration("pacing", defaults.Performance.Pacing, "Minimum gap between API calls")
	fs.Duration("request-timeout", defaults.Timeouts.Request, "Timeout of a single API call")
	fs.Duration("timeout", defaults.Timeouts.Run, "Overall run timeout")
	fs.String("log-level", defaults.Observability.LogLevel, "Log level (debug, info, warn, error)")
	fs.String("log-format", defaults.Observability.LogFormat, "Log format (json, console)")
	fs.String("metrics-push-url", "", "Prometheus Pushgateway URL to push run metrics to")
	fs.Bool("trace", false, "Export trace spans to stderr")
}

// loadConfig layers the optional YAML file, BATCHSYNC_* variables and flags
// over the defaults, in that order.
func loadConfig(v *viper.Viper, kind config.SourceKind) (*config.SyncConfig, error) {
	cfg := config.NewSyncConfig(kind)
	if path := v.GetString("config"); path != "" {
		loaded, err := config.LoadSyncConfig(path, kind)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	identifierKey := "source-stream"
	if kind == config.SourceTable {
		identifierKey = "source-table"
	}

	strs := map[string]*string{
		identifierKey:           &cfg.Source.Identifier,
		"project-key":           &cfg.Destination.ProjectKey,
		"id-column":             &cfg.Source.IDColumn,
		"date-columns":          &cfg.Source.DateColumns,
		"url-columns":           &cfg.Source.URLColumns,
		"connection-parameters": &cfg.Source.ConnectionParameters,
		"api-credentials-table": &cfg.Source.CredentialsTable,
		"consume-table":         &cfg.Source.ConsumeTable,
		"driver":                &cfg.Source.Driver,
		"dsn":                   &cfg.Source.DSN,
		"endpoint":              &cfg.Destination.Endpoint,
		"log-level":             &cfg.Observability.LogLevel,
		"log-format":            &cfg.Observability.LogFormat,
		"metrics-push-url":      &cfg.Observability.MetricsPushURL,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	durations := map[string]*time.Duration{
		"pacing":          &cfg.Performance.Pacing,
		"request-timeout": &cfg.Timeouts.Request,
		"timeout":         &cfg.Timeouts.Run,
	}
	for key, dst := range durations {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}

	if v.IsSet("batch-size") {
		cfg.Performance.BatchSize = v.GetInt("batch-size")
	}
	if v.IsSet("trace") {
		cfg.Observability.EnableTracing = v.GetBool("trace")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runSync(ctx context.Context, cfg *config.SyncConfig, out io.Writer) error {
	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogFormat,
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdown, err := observability.InitTracing(observability.TracingConfig{
		Enabled:        cfg.Observability.EnableTracing,
		ServiceVersion: version,
		Writer:         os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Run)
	defer cancel()
	ctx = context.WithValue(ctx, logger.RunIDKey, uuid.NewString())
	ctx = context.WithValue(ctx, logger.SourceKey, cfg.Source.Identifier)
	log := logger.WithContext(ctx)

	session, err := openSession(ctx, cfg.Source, log)
	if err != nil {
		return err
	}
	defer session.Close()

	reader, err := newReader(session, cfg, log)
	if err != nil {
		return err
	}
	store, err := credentials.NewStore(session, session.Dialect(), cfg.Source.CredentialsTableName(), log)
	if err != nil {
		return err
	}

	httpConfig := clients.DefaultHTTPConfig()
	httpConfig.RequestTimeout = cfg.Timeouts.Request
	httpClient := clients.NewHTTPClient(httpConfig, log)
	defer httpClient.Close()

	result := pipeline.NewSyncPipeline(reader, store, delivery.NewClient(httpClient, cfg.Destination.Endpoint, log), pipeline.Config{
		ProjectKey: cfg.Destination.ProjectKey,
		DateFields: cfg.Source.DateFields(),
		URLFields:  cfg.Source.URLFields(),
		BatchSize:  cfg.Performance.BatchSize,
		Pacing:     cfg.Performance.Pacing,
	}, log).Run(ctx)

	fmt.Fprintln(out, result.Message)

	stats := httpClient.GetStats()
	log.Info("delivery calls",
		zap.Int64("total", stats.TotalRequests),
		zap.Int64("failed", stats.FailedRequests),
		zap.Float64("success_rate", stats.SuccessRate),
		zap.Duration("average_latency", stats.AverageLatency))

	if url := cfg.Observability.MetricsPushURL; url != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if err := metrics.Push(pushCtx, url, cfg.Name); err != nil {
			log.Warn("failed to push metrics", zap.String("url", url), zap.Error(err))
		}
	}
	return nil
}

// openSession connects to Snowflake, or to the DSN of another driver.
func openSession(ctx context.Context, src config.SourceConfig, log *zap.Logger) (*warehouse.DB, error) {
	dialect, err := warehouse.ParseDialect(src.Driver)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid driver")
	}
	if dialect != warehouse.Snowflake {
		return warehouse.OpenDSN(ctx, dialect, src.DSN, log)
	}

	var params *warehouse.Params
	if src.ConnectionParameters != "" {
		params, err = warehouse.ParseParams(src.ConnectionParameters)
	} else {
		params, err = warehouse.ParamsFromEnv()
	}
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, warehouse.ConnectTimeout)
	defer cancel()
	return warehouse.Open(connectCtx, params, log)
}

func newReader(session warehouse.Session, cfg *config.SyncConfig, log *zap.Logger) (source.Reader, error) {
	if cfg.Source.Kind == config.SourceTable {
		return source.NewTableReader(session, cfg.Source.Identifier, cfg.Source.IDColumn, log)
	}
	return source.NewStreamReader(session, source.StreamOptions{
		Stream:       cfg.Source.Identifier,
		IDColumn:     cfg.Source.IDColumn,
		ConsumeTable: cfg.Source.ConsumeTable,
	}, log)
}
