package warehouse

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openSQLite(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouse.db")
	db, err := OpenDSN(context.Background(), SQLite, path, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seed(t *testing.T, db *DB, stmts ...string) {
	t.Helper()
	tx, err := db.Begin(context.Background())
	require.NoError(t, err)
	for _, s := range stmts {
		require.NoError(t, tx.Exec(context.Background(), s), s)
	}
	require.NoError(t, tx.Commit())
}

func TestDB_QueryNormalizesTypes(t *testing.T) {
	db := openSQLite(t)
	seed(t, db,
		`CREATE TABLE users (ID TEXT, AGE INTEGER, SCORE DECIMAL, ACTIVE BOOLEAN, PREFS JSON, NOTE TEXT)`,
		`INSERT INTO users VALUES ('u1', 42, '3.5', 'true', '{"lang":"fr"}', NULL)`,
	)

	res, err := db.Query(context.Background(), "SELECT ID, AGE, SCORE, ACTIVE, PREFS, NOTE FROM users")
	require.NoError(t, err)
	assert.Equal(t, []string{"ID", "AGE", "SCORE", "ACTIVE", "PREFS", "NOTE"}, res.Columns)
	require.Len(t, res.Rows, 1)

	row := res.Rows[0]
	assert.Equal(t, "u1", row[0])
	assert.Equal(t, int64(42), row[1])
	assert.Equal(t, 3.5, row[2])
	assert.Equal(t, true, row[3])
	assert.Equal(t, map[string]any{"lang": "fr"}, row[4])
	assert.Nil(t, row[5])
}

func TestDB_EmptyResultKeepsColumns(t *testing.T) {
	db := openSQLite(t)
	seed(t, db, `CREATE TABLE t (A TEXT, B TEXT)`)

	res, err := db.Query(context.Background(), "SELECT A, B FROM t")
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, []string{"A", "B"}, res.Columns)
}

func TestDB_TransactionRollback(t *testing.T) {
	db := openSQLite(t)
	seed(t, db, `CREATE TABLE t (A TEXT)`)
	ctx := context.Background()

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "INSERT INTO t VALUES (?)", "x"))

	inTx, err := tx.Query(ctx, "SELECT A FROM t")
	require.NoError(t, err)
	assert.Len(t, inTx.Rows, 1)

	require.NoError(t, tx.Rollback())
	assert.ErrorIs(t, tx.Commit(), sql.ErrTxDone)

	res, err := db.Query(ctx, "SELECT A FROM t")
	require.NoError(t, err)
	assert.True(t, res.Empty())
}

func TestDB_ColumnsQueryAgainstCatalog(t *testing.T) {
	db := openSQLite(t)
	seed(t, db, `CREATE TABLE profiles (ID TEXT, EMAIL TEXT, SIGNUP_DATE TEXT)`)

	q, args := SQLite.ColumnsQuery(MustIdentifier("profiles"))
	res, err := db.Query(context.Background(), q, args...)
	require.NoError(t, err)

	var names []string
	for _, r := range res.Rows {
		names = append(names, r[0].(string))
	}
	assert.Equal(t, []string{"ID", "EMAIL", "SIGNUP_DATE"}, names)
}

func TestOpenDSN_UnknownDriver(t *testing.T) {
	_, err := OpenDSN(context.Background(), Dialect("oracle"), "x", nil)
	assert.Error(t, err)
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		dbType string
		want   any
	}{
		{"nil", nil, "TEXT", nil},
		{"snowflake fixed integer", "12", "FIXED", int64(12)},
		{"snowflake fixed fraction", "1.25", "FIXED", 1.25},
		{"snowflake real", "2E3", "REAL", 2000.0},
		{"bytes text", []byte("hello"), "TEXT", "hello"},
		{"boolean", "false", "BOOLEAN", false},
		{"unparsable boolean kept", "maybe", "BOOLEAN", "maybe"},
		{"variant array", `[1,"a"]`, "VARIANT", []any{1.0, "a"}},
		{"native int untouched", int64(7), "NUMBER", int64(7)},
		{"lower-case type", "9", "integer", int64(9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeValue(tt.in, tt.dbType)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := normalizeValue("{broken", "VARIANT")
	assert.Error(t, err)
}
