package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/batchsync/pkg/config"
	"github.com/ajitpratap0/batchsync/pkg/errors"
	"github.com/ajitpratap0/batchsync/pkg/warehouse"
)

// TableReader reads a whole table. It works on every dialect.
type TableReader struct {
	session  warehouse.Session
	table    warehouse.Identifier
	name     string
	idColumn string
	logger   *zap.Logger
}

// NewTableReader validates the table identifier.
func NewTableReader(session warehouse.Session, table, idColumn string, logger *zap.Logger) (*TableReader, error) {
	id, err := warehouse.ParseIdentifier(table)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid source table")
	}
	if idColumn == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "id column is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TableReader{
		session:  session,
		table:    id,
		name:     table,
		idColumn: idColumn,
		logger:   logger.With(zap.String("component", "table_reader"), zap.String("table", table)),
	}, nil
}

// Kind implements Reader.
func (r *TableReader) Kind() config.SourceKind { return config.SourceTable }

// Source implements Reader.
func (r *TableReader) Source() string { return r.name }

// Read discovers the columns from the catalog and reads every row.
func (r *TableReader) Read(ctx context.Context) (*Changeset, error) {
	d := r.session.Dialect()
	cs := &Changeset{Kind: config.SourceTable, Source: r.name}

	q, args := d.ColumnsQuery(r.table)
	catalog, err := r.session.Query(ctx, q, args...)
	if err != nil {
		return nil, r.accessError(err)
	}
	columns := make([]string, 0, len(catalog.Rows))
	for _, row := range catalog.Rows {
		if len(row) > 0 {
			columns = append(columns, stringify(row[0]))
		}
	}
	cs.Schema = splitMetadata(columns)
	if cs.Schema.Len() == 0 {
		return nil, errors.Newf(errors.ErrorTypeSourceAccess, "No columns found for table %s", r.name)
	}
	r.logger.Info("found columns in table",
		zap.Int("count", cs.Schema.Len()), zap.Strings("columns", cs.Schema.Columns))

	id, ok := cs.Schema.Resolve(r.idColumn)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"Error: ID column '%s' not found in table columns: %s", r.idColumn, cs.Schema)
	}
	cs.IDColumn = id

	res, err := r.session.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", quotedColumns(d, cs.Schema), r.table.SQL(d)))
	if err != nil {
		return nil, r.accessError(err)
	}
	if res.Empty() {
		cs.Message = fmt.Sprintf("No data found in table %s.", r.name)
		r.logger.Info(cs.Message)
		return cs, nil
	}

	cs.Rows = make([]Row, len(res.Rows))
	for i, values := range res.Rows {
		cs.Rows[i] = Row{Values: values, Action: ActionInsert}
	}
	r.logger.Info("read table rows", zap.Int("rows", len(cs.Rows)))
	return cs, nil
}

func (r *TableReader) accessError(err error) error {
	return errors.Newf(errors.ErrorTypeSourceAccess, "Error accessing table %s: %v", r.name, err)
}
