// Package source reads change rows from the warehouse.
//
// Two readers exist. StreamReader consumes a Snowflake stream inside an
// explicit transaction; the returned Changeset keeps that transaction open
// until the caller commits (advancing the stream offset) or rolls back
// (leaving the rows re-readable). TableReader does a plain full read of a
// table with no read position.
package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ajitpratap0/batchsync/pkg/config"
	"github.com/ajitpratap0/batchsync/pkg/errors"
	"github.com/ajitpratap0/batchsync/pkg/warehouse"
)

// MetadataPrefix marks reserved stream change-metadata columns.
const MetadataPrefix = "METADATA$"

// Stream metadata columns appended to the full read.
const (
	ColumnAction   = "METADATA$ACTION"
	ColumnIsUpdate = "METADATA$ISUPDATE"
	ColumnRowID    = "METADATA$ROW_ID"
)

// Action is the change type of a stream row.
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// IsMetadataColumn reports whether name is a reserved change-metadata column.
func IsMetadataColumn(name string) bool {
	return strings.HasPrefix(strings.ToUpper(name), MetadataPrefix)
}

// Schema is the ordered list of data columns of a source.
type Schema struct {
	Columns []string
}

// Len returns the number of columns.
func (s Schema) Len() int { return len(s.Columns) }

// Resolve finds the column matching name case-insensitively and returns its
// source casing. An exact-case match wins when several columns fold to the
// same name.
func (s Schema) Resolve(name string) (string, bool) {
	var match string
	count := 0
	for _, c := range s.Columns {
		if c == name {
			return c, true
		}
		if strings.EqualFold(c, name) {
			match = c
			count++
		}
	}
	return match, count == 1
}

// String renders the column list for diagnostics.
func (s Schema) String() string {
	return "[" + strings.Join(s.Columns, ", ") + "]"
}

// Row is one change row. Values align with the Schema columns.
type Row struct {
	Values   []any
	Action   Action
	IsUpdate bool
	RowID    string
}

// Deleted reports whether the row records a deletion.
func (r Row) Deleted() bool {
	return r.Action == ActionDelete
}

// Changeset is the outcome of one read. When Message is set the source had
// nothing to deliver and the read has already been resolved; Committed then
// tells whether that resolution advanced the read position.
type Changeset struct {
	Kind      config.SourceKind
	Source    string
	Schema    Schema
	IDColumn  string
	Rows      []Row
	Message   string
	Committed bool

	tx           warehouse.Tx
	beforeCommit func(ctx context.Context, tx warehouse.Tx) error
}

// Transactional reports whether the changeset holds an open transaction.
func (c *Changeset) Transactional() bool {
	return c.tx != nil
}

// Commit resolves the read transaction, advancing the read position. It is a
// no-op for table reads and for already resolved changesets.
func (c *Changeset) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil

	if c.beforeCommit != nil {
		if err := c.beforeCommit(ctx, tx); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, errors.ErrorTypeSourceAccess, "failed to consume stream "+c.Source)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSourceAccess, "failed to commit stream "+c.Source)
	}
	c.Committed = true
	return nil
}

// Rollback resolves the read transaction without moving the read position.
func (c *Changeset) Rollback() error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSourceAccess, "failed to roll back stream "+c.Source)
	}
	return nil
}

// Reader produces a Changeset for one run.
type Reader interface {
	Read(ctx context.Context) (*Changeset, error)
	Kind() config.SourceKind
	Source() string
}

func splitMetadata(columns []string) Schema {
	var data []string
	for _, c := range columns {
		if !IsMetadataColumn(c) {
			data = append(data, c)
		}
	}
	return Schema{Columns: data}
}

func quotedColumns(d warehouse.Dialect, s Schema) string {
	quoted := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		quoted[i] = d.QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

func parseBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case string:
		parsed, _ := strconv.ParseBool(strings.TrimSpace(b))
		return parsed
	default:
		return false
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
