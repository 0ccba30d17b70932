package main

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/ajitpratap0/batchsync/pkg/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(args)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func sqliteWarehouse(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouse.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE BATCH_API_CREDENTIALS (PROJECT_KEY TEXT, REST_API_KEY TEXT)`,
		`INSERT INTO BATCH_API_CREDENTIALS VALUES ('proj-1', 'secret')`,
		`CREATE TABLE customers (CUSTOMER_ID TEXT, EMAIL TEXT)`,
		`INSERT INTO customers VALUES ('c1', 'a@x.io'), ('c2', 'b@x.io')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "batchsync v"+version)
}

func TestTableCommand_EndToEnd(t *testing.T) {
	var calls atomic.Int32
	var gotKey atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotKey.Store(r.Header.Get("X-Batch-Project"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	out, err := execute(t, "table",
		"--driver", "sqlite",
		"--dsn", sqliteWarehouse(t),
		"--source-table", "customers",
		"--id-column", "customer_id",
		"--project-key", "proj-1",
		"--endpoint", srv.URL,
		"--pacing", "0s",
		"--log-level", "error",
	)
	require.NoError(t, err)
	assert.Equal(t, "Table sync complete for customers: 2 records succeeded, 0 failed.\n", out)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "proj-1", gotKey.Load())
}

func TestTableCommand_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing project key",
			args:    []string{"table", "--source-table", "t", "--id-column", "id"},
			wantErr: "project_key is required",
		},
		{
			name:    "batch size above the API limit",
			args:    []string{"table", "--source-table", "t", "--id-column", "id", "--project-key", "p", "--batch-size", "1001"},
			wantErr: "batch_size must be between 1 and 1000",
		},
		{
			name:    "zero run timeout",
			args:    []string{"table", "--source-table", "t", "--id-column", "id", "--project-key", "p", "--timeout", "0s"},
			wantErr: "run timeout must be positive",
		},
		{
			name:    "unknown flag",
			args:    []string{"table", "--consume-table", "x"},
			wantErr: "unknown flag",
		},
		{
			name: "unreachable warehouse",
			args: []string{"table", "--source-table", "t", "--id-column", "id", "--project-key", "p",
				"--driver", "mysql", "--dsn", "nobody@tcp(127.0.0.1:1)/db?timeout=200ms"},
			wantErr: "failed to ping warehouse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append(tt.args, "--log-level", "error")...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_Layering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source:
  identifier: DB.PUBLIC.USERS_STREAM
  id_column: user_id
  date_columns: signup_date
destination:
  project_key: ${BATCHSYNC_TEST_PROJECT}
performance:
  batch_size: 200
`), 0o600))
	t.Setenv("BATCHSYNC_TEST_PROJECT", "from-file")
	t.Setenv("BATCHSYNC_PACING", "250ms")

	cmd := newSyncCommand(config.SourceStream)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--batch-size", "500", "--url-columns", "homepage"}))

	cfg, err := loadConfig(bindConfig(cmd.Flags()), config.SourceStream)
	require.NoError(t, err)

	assert.Equal(t, "DB.PUBLIC.USERS_STREAM", cfg.Source.Identifier)
	assert.Equal(t, "from-file", cfg.Destination.ProjectKey)
	assert.Equal(t, []string{"SIGNUP_DATE"}, cfg.Source.DateFields())
	assert.Equal(t, []string{"HOMEPAGE"}, cfg.Source.URLFields())
	assert.Equal(t, 500, cfg.Performance.BatchSize, "flags override the file")
	assert.Equal(t, 250*time.Millisecond, cfg.Performance.Pacing, "environment overrides defaults")
	assert.Equal(t, config.DefaultCredentialsTable, cfg.Source.CredentialsTableName())
}
