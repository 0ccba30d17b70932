package source

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/batchsync/pkg/config"
	"github.com/ajitpratap0/batchsync/pkg/errors"
	"github.com/ajitpratap0/batchsync/pkg/testutil"
	"github.com/ajitpratap0/batchsync/pkg/warehouse"
)

const stream = "ANALYTICS.PUBLIC.USERS_STREAM"

func newStream(t *testing.T, wh *testutil.FakeWarehouse, idColumn string) *StreamReader {
	t.Helper()
	r, err := NewStreamReader(wh, StreamOptions{Stream: stream, IDColumn: idColumn}, testutil.TestLogger(t))
	require.NoError(t, err)
	return r
}

func TestStreamReader_ReadHoldsTransaction(t *testing.T) {
	wh := testutil.NewFakeWarehouse()
	s := wh.AddStream(stream, []string{"USER_ID", "EMAIL"})
	s.Append("INSERT", false, "r1", "u1", "a@x.io")
	s.Append("DELETE", true, "r2", "u2", nil)

	ctx := context.Background()
	cs, err := newStream(t, wh, "user_id").Read(ctx)
	require.NoError(t, err)

	assert.Equal(t, config.SourceStream, cs.Kind)
	assert.Empty(t, cs.Message)
	assert.Equal(t, "USER_ID", cs.IDColumn)
	assert.Equal(t, []string{"USER_ID", "EMAIL"}, cs.Schema.Columns)
	require.Len(t, cs.Rows, 2)
	assert.Equal(t, Row{Values: []any{"u1", "a@x.io"}, Action: ActionInsert, RowID: "r1"}, cs.Rows[0])
	assert.True(t, cs.Rows[1].Deleted())
	assert.True(t, cs.Rows[1].IsUpdate)

	assert.True(t, cs.Transactional())
	assert.Equal(t, 1, wh.OpenTransactions())
	assert.Contains(t, wh.Queries[1], `SELECT "USER_ID", "EMAIL", METADATA$ACTION, METADATA$ISUPDATE, METADATA$ROW_ID FROM `+stream)

	require.NoError(t, cs.Commit(ctx))
	assert.Equal(t, 0, wh.OpenTransactions())
	assert.Equal(t, 0, wh.Pending(stream))

	// resolving twice is harmless
	require.NoError(t, cs.Rollback())
	assert.Equal(t, 1, wh.Commits)
	assert.Equal(t, 0, wh.Rollbacks)
}

func TestStreamReader_RollbackKeepsRows(t *testing.T) {
	wh := testutil.NewFakeWarehouse()
	s := wh.AddStream(stream, []string{"ID"})
	s.Append("INSERT", false, "r1", "1")

	cs, err := newStream(t, wh, "ID").Read(context.Background())
	require.NoError(t, err)
	require.NoError(t, cs.Rollback())
	assert.Equal(t, 1, wh.Pending(stream))

	again, err := newStream(t, wh, "ID").Read(context.Background())
	require.NoError(t, err)
	assert.Len(t, again.Rows, 1)
}

func TestStreamReader_EmptyStreamCommits(t *testing.T) {
	wh := testutil.NewFakeWarehouse()
	wh.AddStream(stream, []string{"ID"})

	cs, err := newStream(t, wh, "ID").Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "No data found in stream "+stream+".", cs.Message)
	assert.False(t, cs.Transactional())
	assert.True(t, cs.Committed)
	assert.Equal(t, 1, wh.Commits)
	assert.Len(t, wh.Queries, 1)
}

func TestStreamReader_MissingIDColumn(t *testing.T) {
	wh := testutil.NewFakeWarehouse()
	s := wh.AddStream(stream, []string{"USER_ID", "EMAIL"})
	s.Append("INSERT", false, "r1", "u1", "a@x.io")

	_, err := newStream(t, wh, "customer_id").Read(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Error: ID column 'customer_id' not found in stream columns: [USER_ID, EMAIL]", errors.Message(err))
	assert.Equal(t, 1, wh.Rollbacks)
	assert.Equal(t, 0, wh.OpenTransactions())
	assert.Equal(t, 1, wh.Pending(stream))
}

func TestStreamReader_OnlyMetadataColumns(t *testing.T) {
	wh := testutil.NewFakeWarehouse()
	s := wh.AddStream(stream, nil)
	s.Append("INSERT", false, "r1")

	_, err := newStream(t, wh, "ID").Read(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSourceAccess))
	assert.Equal(t, 1, wh.Rollbacks)
}

func TestStreamReader_AccessErrors(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
	}{
		{name: "begin", fragment: "BEGIN"},
		{name: "probe", fragment: "LIMIT 1"},
		{name: "full read", fragment: "METADATA$ROW_ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wh := testutil.NewFakeWarehouse()
			s := wh.AddStream(stream, []string{"ID"})
			s.Append("INSERT", false, "r1", "1")
			wh.FailOn(tt.fragment, fmt.Errorf("warehouse is suspended"))

			_, err := newStream(t, wh, "ID").Read(context.Background())
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeSourceAccess))
			assert.Equal(t, "Error accessing stream "+stream+": warehouse is suspended", errors.Message(err))
			assert.Equal(t, 0, wh.OpenTransactions())
			assert.Equal(t, 1, wh.Pending(stream))
		})
	}
}

func TestStreamReader_ConsumeTable(t *testing.T) {
	wh := testutil.NewFakeWarehouse()
	wh.RequireDML = true
	s := wh.AddStream(stream, []string{"ID", "NAME"})
	s.Append("INSERT", false, "r1", "1", "Ada")

	ctx := context.Background()

	plain, err := newStream(t, wh, "ID").Read(ctx)
	require.NoError(t, err)
	require.NoError(t, plain.Commit(ctx))
	assert.Equal(t, 1, wh.Pending(stream), "a bare SELECT does not advance the offset")

	r, err := NewStreamReader(wh, StreamOptions{Stream: stream, IDColumn: "ID", ConsumeTable: "ANALYTICS.PUBLIC.SYNC_SINK"}, nil)
	require.NoError(t, err)
	cs, err := r.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, cs.Commit(ctx))

	assert.Equal(t, 0, wh.Pending(stream))
	require.Len(t, wh.Execs, 1)
	assert.Equal(t, `INSERT INTO ANALYTICS.PUBLIC.SYNC_SINK SELECT "ID", "NAME" FROM `+stream+` WHERE 1 = 0`, wh.Execs[0])
}

func TestStreamReader_ConsumeFailureRollsBack(t *testing.T) {
	wh := testutil.NewFakeWarehouse()
	s := wh.AddStream(stream, []string{"ID"})
	s.Append("INSERT", false, "r1", "1")
	wh.FailOn("INSERT INTO", fmt.Errorf("insufficient privileges"))

	r, err := NewStreamReader(wh, StreamOptions{Stream: stream, IDColumn: "ID", ConsumeTable: "SINK"}, nil)
	require.NoError(t, err)
	cs, err := r.Read(context.Background())
	require.NoError(t, err)

	err = cs.Commit(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSourceAccess))
	assert.Equal(t, 1, wh.Rollbacks)
	assert.Equal(t, 1, wh.Pending(stream))
}

func TestNewStreamReader_Validation(t *testing.T) {
	wh := testutil.NewFakeWarehouse()

	_, err := NewStreamReader(wh, StreamOptions{Stream: "users; drop", IDColumn: "ID"}, nil)
	assert.Error(t, err)

	_, err = NewStreamReader(wh, StreamOptions{Stream: stream}, nil)
	assert.Error(t, err)

	_, err = NewStreamReader(wh, StreamOptions{Stream: stream, IDColumn: "ID", ConsumeTable: "a b"}, nil)
	assert.Error(t, err)

	_, err = NewStreamReader(testutil.NewFakeWarehouse().WithDialect(warehouse.Postgres), StreamOptions{Stream: stream, IDColumn: "ID"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestSchema_Resolve(t *testing.T) {
	s := Schema{Columns: []string{"Id", "EMAIL", "email"}}

	got, ok := s.Resolve("ID")
	assert.True(t, ok)
	assert.Equal(t, "Id", got)

	got, ok = s.Resolve("email")
	assert.True(t, ok)
	assert.Equal(t, "email", got)

	_, ok = s.Resolve("Email")
	assert.False(t, ok, "ambiguous without an exact match")

	_, ok = s.Resolve("missing")
	assert.False(t, ok)
}

func TestParseBool(t *testing.T) {
	assert.True(t, parseBool(true))
	assert.True(t, parseBool("TRUE"))
	assert.True(t, parseBool(int64(1)))
	assert.False(t, parseBool("false"))
	assert.False(t, parseBool(nil))
}
