// Package warehouse provides the warehouse session used by the change-source
// readers and the credential store: query execution with schema-by-description,
// explicit transactions, validated identifiers and per-dialect catalog access.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/batchsync/pkg/errors"
	"github.com/ajitpratap0/batchsync/pkg/json"
)

// Result is a fully fetched query result. Columns come from the cursor
// description, Rows are aligned with Columns.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Empty reports whether the result carries no rows.
func (r *Result) Empty() bool {
	return r == nil || len(r.Rows) == 0
}

// Querier runs a read query.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (*Result, error)
}

// Tx is an explicit warehouse transaction. Exactly one of Commit or Rollback
// resolves it; later calls return sql.ErrTxDone.
type Tx interface {
	Querier
	Exec(ctx context.Context, query string, args ...any) error
	Commit() error
	Rollback() error
}

// Session is a warehouse connection.
type Session interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
	Dialect() Dialect
	Close() error
}

// DB implements Session over database/sql.
type DB struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// NewDB wraps an open *sql.DB.
func NewDB(db *sql.DB, dialect Dialect, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{
		db:      db,
		dialect: dialect,
		logger:  logger.With(zap.String("component", "warehouse"), zap.String("dialect", string(dialect))),
	}
}

// OpenDSN opens a non-Snowflake warehouse through its registered driver.
func OpenDSN(ctx context.Context, dialect Dialect, dsn string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open warehouse")
	}
	configurePool(db)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping warehouse")
	}
	return NewDB(db, dialect, logger), nil
}

func configurePool(db *sql.DB) {
	// one run holds at most one transaction plus the credential lookup
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
}

// Dialect returns the session's SQL dialect.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Query runs a query outside any transaction.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return fetchAll(rows)
}

// Begin opens an explicit transaction pinned to one connection.
func (d *DB) Begin(ctx context.Context) (Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("transaction opened")
	return &dbTx{tx: tx, logger: d.logger}, nil
}

// Close closes the underlying pool.
func (d *DB) Close() error {
	return d.db.Close()
}

type dbTx struct {
	tx     *sql.Tx
	logger *zap.Logger
}

func (t *dbTx) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return fetchAll(rows)
}

func (t *dbTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t *dbTx) Commit() error {
	err := t.tx.Commit()
	t.logger.Debug("transaction committed", zap.Error(err))
	return err
}

func (t *dbTx) Rollback() error {
	err := t.tx.Rollback()
	t.logger.Debug("transaction rolled back", zap.Error(err))
	return err
}

// fetchAll drains rows, normalizing driver values by column type.
func fetchAll(rows *sql.Rows) (*Result, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			nv, err := normalizeValue(v, types[i].DatabaseTypeName())
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", columns[i], err)
			}
			values[i] = nv
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

var (
	integerTypes = map[string]bool{
		"INT": true, "INTEGER": true, "BIGINT": true, "SMALLINT": true, "TINYINT": true,
		"MEDIUMINT": true, "INT2": true, "INT4": true, "INT8": true,
		"UNSIGNED INT": true, "UNSIGNED BIGINT": true,
	}
	decimalTypes = map[string]bool{
		"FIXED": true, "NUMBER": true, "DECIMAL": true, "NUMERIC": true,
		"REAL": true, "FLOAT": true, "FLOAT4": true, "FLOAT8": true, "DOUBLE": true,
	}
	booleanTypes = map[string]bool{"BOOLEAN": true, "BOOL": true}
	jsonTypes    = map[string]bool{"VARIANT": true, "OBJECT": true, "ARRAY": true, "JSON": true, "JSONB": true}
)

// normalizeValue turns textual driver values into native Go types so that
// numbers, booleans and semi-structured data keep their type on the wire.
// Snowflake returns FIXED and VARIANT columns as strings.
func normalizeValue(v any, dbType string) (any, error) {
	switch tv := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return normalizeText(string(tv), strings.ToUpper(dbType))
	case string:
		return normalizeText(tv, strings.ToUpper(dbType))
	default:
		return v, nil
	}
}

func normalizeText(s, dbType string) (any, error) {
	switch {
	case integerTypes[dbType]:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		return s, nil
	case decimalTypes[dbType]:
		if !strings.ContainsAny(s, ".eE") {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, nil
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, nil
		}
		return s, nil
	case booleanTypes[dbType]:
		if b, err := strconv.ParseBool(s); err == nil {
			return b, nil
		}
		return s, nil
	case jsonTypes[dbType]:
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("invalid %s value: %w", dbType, err)
		}
		return out, nil
	default:
		return s, nil
	}
}
