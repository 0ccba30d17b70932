package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/batchsync/pkg/warehouse"
)

// SQLiteWarehouse opens a file-backed SQLite warehouse in a temp directory
// and runs the given statements in one transaction.
func SQLiteWarehouse(t *testing.T, stmts ...string) *warehouse.DB {
	t.Helper()
	ctx := context.Background()

	db, err := warehouse.OpenDSN(ctx, warehouse.SQLite, filepath.Join(t.TempDir(), "warehouse.db"), TestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	if len(stmts) > 0 {
		tx, err := db.Begin(ctx)
		require.NoError(t, err)
		for _, s := range stmts {
			require.NoError(t, tx.Exec(ctx, s), s)
		}
		require.NoError(t, tx.Commit())
	}
	return db
}

// WarehouseSuite provides a fresh SQLite warehouse per test.
type WarehouseSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	db        *warehouse.DB
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *WarehouseSuite) SetupSuite() {
	s.startTime = time.Now()
}

// SetupTest opens a new warehouse for each test
func (s *WarehouseSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), time.Minute)
	s.db = SQLiteWarehouse(s.T())
}

// TearDownTest cancels the test context
func (s *WarehouseSuite) TearDownTest() {
	s.cancel()
}

// TearDownSuite runs after all tests in the suite
func (s *WarehouseSuite) TearDownSuite() {
	s.T().Logf("warehouse suite completed in %v", time.Since(s.startTime))
}

// Context returns the test context
func (s *WarehouseSuite) Context() context.Context {
	return s.ctx
}

// DB returns the test warehouse
func (s *WarehouseSuite) DB() *warehouse.DB {
	return s.db
}

// Exec runs statements in one committed transaction.
func (s *WarehouseSuite) Exec(stmts ...string) {
	tx, err := s.db.Begin(s.ctx)
	s.Require().NoError(err)
	for _, stmt := range stmts {
		s.Require().NoError(tx.Exec(s.ctx, stmt), stmt)
	}
	s.Require().NoError(tx.Commit())
}
