package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/batchsync/pkg/config"
	"github.com/ajitpratap0/batchsync/pkg/errors"
	"github.com/ajitpratap0/batchsync/pkg/warehouse"
)

// StreamOptions configures a StreamReader.
type StreamOptions struct {
	Stream   string
	IDColumn string
	// ConsumeTable, when set, receives a no-op INSERT ... SELECT from the
	// stream before commit so that the commit advances the stream offset.
	ConsumeTable string
}

// StreamReader reads a Snowflake stream transactionally.
type StreamReader struct {
	session  warehouse.Session
	stream   warehouse.Identifier
	consume  warehouse.Identifier
	name     string
	idColumn string
	logger   *zap.Logger
}

// NewStreamReader validates identifiers. Streams require the Snowflake dialect.
func NewStreamReader(session warehouse.Session, opts StreamOptions, logger *zap.Logger) (*StreamReader, error) {
	if !session.Dialect().SupportsStreams() {
		return nil, errors.Newf(errors.ErrorTypeConfig, "dialect %s does not support streams", session.Dialect())
	}
	stream, err := warehouse.ParseIdentifier(opts.Stream)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid source stream")
	}
	var consume warehouse.Identifier
	if opts.ConsumeTable != "" {
		if consume, err = warehouse.ParseIdentifier(opts.ConsumeTable); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid consume table")
		}
	}
	if opts.IDColumn == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "id column is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamReader{
		session:  session,
		stream:   stream,
		consume:  consume,
		name:     opts.Stream,
		idColumn: opts.IDColumn,
		logger:   logger.With(zap.String("component", "stream_reader"), zap.String("stream", opts.Stream)),
	}, nil
}

// Kind implements Reader.
func (r *StreamReader) Kind() config.SourceKind { return config.SourceStream }

// Source implements Reader.
func (r *StreamReader) Source() string { return r.name }

// Read opens a transaction, probes the stream and reads all pending changes.
// On success with rows, the returned Changeset holds the open transaction.
func (r *StreamReader) Read(ctx context.Context) (*Changeset, error) {
	tx, err := r.session.Begin(ctx)
	if err != nil {
		return nil, r.accessError(err)
	}

	cs, err := r.read(ctx, tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Warn("rollback after failed read", zap.Error(rbErr))
		}
		return nil, err
	}
	return cs, nil
}

func (r *StreamReader) read(ctx context.Context, tx warehouse.Tx) (*Changeset, error) {
	d := r.session.Dialect()
	from := r.stream.SQL(d)
	cs := &Changeset{Kind: config.SourceStream, Source: r.name}

	r.logger.Info("extracting columns from stream")
	probe, err := tx.Query(ctx, "SELECT * FROM "+from+" LIMIT 1")
	if err != nil {
		return nil, r.accessError(err)
	}
	if probe.Empty() {
		if err := tx.Commit(); err != nil {
			return nil, r.accessError(err)
		}
		cs.Committed = true
		cs.Message = fmt.Sprintf("No data found in stream %s.", r.name)
		r.logger.Info(cs.Message)
		return cs, nil
	}

	cs.Schema = splitMetadata(probe.Columns)
	if cs.Schema.Len() == 0 {
		return nil, errors.Newf(errors.ErrorTypeSourceAccess, "No non-metadata columns found in stream %s", r.name)
	}
	r.logger.Info("found columns in stream",
		zap.Int("count", cs.Schema.Len()), zap.Strings("columns", cs.Schema.Columns))

	id, ok := cs.Schema.Resolve(r.idColumn)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"Error: ID column '%s' not found in stream columns: %s", r.idColumn, cs.Schema)
	}
	cs.IDColumn = id

	query := fmt.Sprintf("SELECT %s, %s, %s, %s FROM %s",
		quotedColumns(d, cs.Schema), ColumnAction, ColumnIsUpdate, ColumnRowID, from)
	r.logger.Info("fetching changes from stream")
	res, err := tx.Query(ctx, query)
	if err != nil {
		return nil, r.accessError(err)
	}

	n := cs.Schema.Len()
	cs.Rows = make([]Row, 0, len(res.Rows))
	for _, values := range res.Rows {
		if len(values) != n+3 {
			return nil, r.accessError(fmt.Errorf("expected %d columns, got %d", n+3, len(values)))
		}
		cs.Rows = append(cs.Rows, Row{
			Values:   values[:n:n],
			Action:   Action(stringify(values[n])),
			IsUpdate: parseBool(values[n+1]),
			RowID:    stringify(values[n+2]),
		})
	}

	cs.tx = tx
	if !r.consume.IsZero() {
		consume := fmt.Sprintf("INSERT INTO %s SELECT %s FROM %s WHERE 1 = 0",
			r.consume.SQL(d), quotedColumns(d, cs.Schema), from)
		cs.beforeCommit = func(ctx context.Context, tx warehouse.Tx) error {
			return tx.Exec(ctx, consume)
		}
	}

	if len(cs.Rows) == 0 {
		if err := cs.Commit(ctx); err != nil {
			return nil, err
		}
		cs.Message = fmt.Sprintf("No rows found in stream %s despite having schema.", r.name)
		r.logger.Info(cs.Message)
		return cs, nil
	}

	r.logger.Info("read change records", zap.Int("rows", len(cs.Rows)))
	return cs, nil
}

func (r *StreamReader) accessError(err error) error {
	return errors.Newf(errors.ErrorTypeSourceAccess, "Error accessing stream %s: %v", r.name, err)
}
