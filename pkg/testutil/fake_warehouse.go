package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/ajitpratap0/batchsync/pkg/warehouse"
)

var (
	fromPattern   = regexp.MustCompile(`(?i)\bFROM\s+([^\s]+)`)
	insertPattern = regexp.MustCompile(`(?i)^INSERT\s+INTO\s+([^\s]+)`)
)

// FakeStream is an in-memory change feed. Rows hold the data columns
// followed by action, is-update and row id.
type FakeStream struct {
	Columns []string
	Rows    [][]any
}

// FakeWarehouse is an in-memory warehouse.Session modelling Snowflake
// stream semantics: rows read inside a transaction are consumed when that
// transaction commits and stay pending after a rollback.
type FakeWarehouse struct {
	mu sync.Mutex

	dialect warehouse.Dialect
	streams map[string]*FakeStream
	tables  map[string]*warehouse.Result
	errors  map[string]error

	// RequireDML makes commits advance a stream only after a DML statement
	// selected from it, as Snowflake does.
	RequireDML bool

	Queries   []string
	Execs     []string
	Begins    int
	Commits   int
	Rollbacks int
	openTx    int
}

// NewFakeWarehouse returns an empty Snowflake-dialect fake.
func NewFakeWarehouse() *FakeWarehouse {
	return &FakeWarehouse{
		dialect: warehouse.Snowflake,
		streams: make(map[string]*FakeStream),
		tables:  make(map[string]*warehouse.Result),
		errors:  make(map[string]error),
	}
}

// WithDialect changes the reported dialect.
func (f *FakeWarehouse) WithDialect(d warehouse.Dialect) *FakeWarehouse {
	f.dialect = d
	return f
}

// AddStream registers a stream.
func (f *FakeWarehouse) AddStream(name string, columns []string) *FakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &FakeStream{Columns: columns}
	f.streams[strings.ToUpper(name)] = s
	return s
}

// Append adds a pending change row to the stream.
func (s *FakeStream) Append(action string, isUpdate bool, rowID string, values ...any) {
	row := make([]any, 0, len(values)+3)
	row = append(row, values...)
	row = append(row, action, isUpdate, rowID)
	s.Rows = append(s.Rows, row)
}

// Pending returns the number of unconsumed rows of a stream.
func (f *FakeWarehouse) Pending(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.streams[strings.ToUpper(name)]; ok {
		return len(s.Rows)
	}
	return 0
}

// AddTable registers a table. Queries against it filter on the first bound
// argument when it matches a PROJECT_KEY column.
func (f *FakeWarehouse) AddTable(name string, columns []string, rows ...[]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[strings.ToUpper(name)] = &warehouse.Result{Columns: columns, Rows: rows}
}

// FailOn makes any statement containing fragment fail with err.
func (f *FakeWarehouse) FailOn(fragment string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[fragment] = err
}

// OpenTransactions returns the number of unresolved transactions.
func (f *FakeWarehouse) OpenTransactions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openTx
}

// Dialect implements warehouse.Session.
func (f *FakeWarehouse) Dialect() warehouse.Dialect { return f.dialect }

// Close implements warehouse.Session.
func (f *FakeWarehouse) Close() error { return nil }

// Query implements warehouse.Querier outside a transaction.
func (f *FakeWarehouse) Query(ctx context.Context, query string, args ...any) (*warehouse.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.query(ctx, nil, query, args)
}

// Begin implements warehouse.Session.
func (f *FakeWarehouse) Begin(ctx context.Context) (warehouse.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("BEGIN"); err != nil {
		return nil, err
	}
	f.Begins++
	f.openTx++
	return &fakeTx{wh: f, read: make(map[string]int), dml: make(map[string]bool)}, nil
}

func (f *FakeWarehouse) failure(stmt string) error {
	for fragment, err := range f.errors {
		if strings.Contains(stmt, fragment) {
			return err
		}
	}
	return nil
}

func (f *FakeWarehouse) query(ctx context.Context, tx *fakeTx, query string, args []any) (*warehouse.Result, error) {
	f.Queries = append(f.Queries, query)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.failure(query); err != nil {
		return nil, err
	}

	m := fromPattern.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf("fake warehouse: unsupported query %q", query)
	}
	name := strings.ToUpper(m[1])

	if s, ok := f.streams[name]; ok {
		return f.readStream(tx, name, s, query)
	}
	if t, ok := f.tables[name]; ok {
		return filterTable(t, query, args), nil
	}
	return nil, fmt.Errorf("object '%s' does not exist or not authorized", m[1])
}

func (f *FakeWarehouse) readStream(tx *fakeTx, name string, s *FakeStream, query string) (*warehouse.Result, error) {
	columns := append(append([]string{}, s.Columns...), "METADATA$ACTION", "METADATA$ISUPDATE", "METADATA$ROW_ID")
	rows := make([][]any, len(s.Rows))
	for i, r := range s.Rows {
		rows[i] = append([]any(nil), r...)
	}

	if strings.Contains(strings.ToUpper(query), "LIMIT 1") {
		if len(rows) > 1 {
			rows = rows[:1]
		}
		return &warehouse.Result{Columns: columns, Rows: rows}, nil
	}
	if tx != nil {
		tx.read[name] = len(rows)
	}
	return &warehouse.Result{Columns: columns, Rows: rows}, nil
}

func filterTable(t *warehouse.Result, query string, args []any) *warehouse.Result {
	if len(args) == 0 || !strings.Contains(strings.ToUpper(query), "PROJECT_KEY") {
		return &warehouse.Result{Columns: t.Columns, Rows: t.Rows}
	}
	keyIdx := -1
	for i, c := range t.Columns {
		if strings.EqualFold(c, "PROJECT_KEY") {
			keyIdx = i
		}
	}
	out := &warehouse.Result{Columns: t.Columns}
	for _, r := range t.Rows {
		if keyIdx >= 0 && r[keyIdx] == args[0] {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

type fakeTx struct {
	wh   *FakeWarehouse
	read map[string]int
	dml  map[string]bool
	done bool
}

func (t *fakeTx) Query(ctx context.Context, query string, args ...any) (*warehouse.Result, error) {
	t.wh.mu.Lock()
	defer t.wh.mu.Unlock()
	if t.done {
		return nil, sql.ErrTxDone
	}
	return t.wh.query(ctx, t, query, args)
}

func (t *fakeTx) Exec(ctx context.Context, query string, _ ...any) error {
	t.wh.mu.Lock()
	defer t.wh.mu.Unlock()
	if t.done {
		return sql.ErrTxDone
	}
	t.wh.Execs = append(t.wh.Execs, query)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.wh.failure(query); err != nil {
		return err
	}
	if !insertPattern.MatchString(query) {
		return fmt.Errorf("fake warehouse: unsupported statement %q", query)
	}
	if m := fromPattern.FindStringSubmatch(query); m != nil {
		t.dml[strings.ToUpper(m[1])] = true
	}
	return nil
}

func (t *fakeTx) Commit() error {
	t.wh.mu.Lock()
	defer t.wh.mu.Unlock()
	if t.done {
		return sql.ErrTxDone
	}
	if err := t.wh.failure("COMMIT"); err != nil {
		return err
	}
	t.done = true
	t.wh.Commits++
	t.wh.openTx--

	for name, n := range t.read {
		if t.wh.RequireDML && !t.dml[name] {
			continue
		}
		s := t.wh.streams[name]
		if n > len(s.Rows) {
			n = len(s.Rows)
		}
		s.Rows = s.Rows[n:]
	}
	return nil
}

func (t *fakeTx) Rollback() error {
	t.wh.mu.Lock()
	defer t.wh.mu.Unlock()
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.wh.Rollbacks++
	t.wh.openTx--
	return nil
}
