// Package pipeline runs one warehouse-to-profile-API sync.
//
// # Overview
//
// A run moves through explicit states:
//
//	INIT → CREDENTIALS_RESOLVED → SCHEMA_VALIDATED → PROCESSING → (COMMITTED | ROLLED_BACK) → REPORTED
//
// Credentials are resolved before any transaction is opened. The change
// source is then read, every non-DELETE row is mapped and buffered, and full
// batches are delivered with pacing between calls. For stream sources the
// read transaction is committed only when every row was delivered; any
// failure rolls it back so the next run sees the same rows again.
//
// # Basic Usage
//
//	p := pipeline.NewSyncPipeline(reader, store, deliveryClient, pipeline.Config{
//	    ProjectKey: "proj",
//	    DateFields: []string{"SIGNUP_DATE"},
//	    BatchSize:  1000,
//	    Pacing:     time.Second,
//	}, logger)
//	result := p.Run(ctx)
//	fmt.Println(result.Message)
//
// Run never returns an error and never panics: every failure is folded into
// the Result message.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/batchsync/pkg/attributes"
	"github.com/ajitpratap0/batchsync/pkg/batch"
	"github.com/ajitpratap0/batchsync/pkg/credentials"
	"github.com/ajitpratap0/batchsync/pkg/delivery"
	"github.com/ajitpratap0/batchsync/pkg/errors"
	"github.com/ajitpratap0/batchsync/pkg/metrics"
	"github.com/ajitpratap0/batchsync/pkg/observability"
	"github.com/ajitpratap0/batchsync/pkg/source"
)

// SyncPipeline orchestrates a single run.
type SyncPipeline struct {
	reader    source.Reader
	creds     CredentialLookup
	deliverer Deliverer
	config    Config
	logger    *zap.Logger
}

// NewSyncPipeline wires the run components.
func NewSyncPipeline(reader source.Reader, creds CredentialLookup, deliverer Deliverer, config Config, logger *zap.Logger) *SyncPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = batch.MaxSize
	}
	return &SyncPipeline{
		reader:    reader,
		creds:     creds,
		deliverer: deliverer,
		config:    config,
		logger: logger.With(
			zap.String("component", "sync_pipeline"),
			zap.String("kind", string(reader.Kind())),
			zap.String("source", reader.Source()),
		),
	}
}

// run carries the mutable state of one Run call.
type run struct {
	result *Result
	errs   errorLog
	cs     *source.Changeset
}

// Run executes the sync and returns its result.
func (p *SyncPipeline) Run(ctx context.Context) (result *Result) {
	r := &run{result: &Result{Kind: p.reader.Kind(), Source: p.reader.Source()}}
	result = r.result

	ctx, span := observability.StartSpan(ctx, "sync.run",
		attribute.String("source.kind", string(result.Kind)),
		attribute.String("source.name", result.Source))

	var runErr error
	defer func() {
		if rec := recover(); rec != nil {
			runErr = fmt.Errorf("%v", rec)
			p.logger.Error("sync panicked", zap.Any("panic", rec), zap.Stack("stack"))
			p.abort(r, runErr)
		}
		p.recordOutcome(result)
		observability.EndSpan(span, runErr)
	}()

	runErr = p.execute(ctx, r)
	if runErr != nil {
		p.abort(r, runErr)
	}
	return result
}

func (p *SyncPipeline) execute(ctx context.Context, r *run) error {
	p.transition(r, StateInit)

	creds, err := p.creds.Lookup(ctx, p.config.ProjectKey)
	if err != nil {
		return err
	}
	if creds == nil {
		return errors.Newf(errors.ErrorTypeConfig, "No API credentials found for project key: %s", p.config.ProjectKey)
	}
	p.transition(r, StateCredentialsResolved)

	cs, err := p.read(ctx)
	if err != nil {
		return err
	}
	r.cs = cs
	if cs.Message != "" {
		if cs.Committed {
			p.transition(r, StateCommitted)
		}
		r.result.Message = cs.Message
		p.transition(r, StateReported)
		return nil
	}

	mapper, err := attributes.NewMapper(cs.Schema, attributes.Options{
		IDColumn:   cs.IDColumn,
		DateFields: p.config.DateFields,
		URLFields:  p.config.URLFields,
	})
	if err != nil {
		return err
	}
	p.transition(r, StateSchemaValidated)

	p.transition(r, StateProcessing)
	p.process(ctx, r, cs, mapper, *creds)

	if cs.Transactional() {
		if err := p.resolve(ctx, r); err != nil {
			return err
		}
	}

	r.result.Errors = r.errs.lines()
	r.result.Message = r.result.summary()
	p.transition(r, StateReported)

	p.logger.Info("sync complete",
		zap.Int("succeeded", r.result.SuccessCount),
		zap.Int("failed", r.result.FailCount))
	if len(r.result.Errors) > 0 {
		p.logger.Warn("errors encountered during sync", zap.Strings("errors", r.result.Errors))
	}
	return nil
}

func (p *SyncPipeline) read(ctx context.Context) (cs *source.Changeset, err error) {
	ctx, span := observability.StartSpan(ctx, "source.read")
	defer func() { observability.EndSpan(span, err) }()

	cs, err = p.reader.Read(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("source.rows", len(cs.Rows)))
	return cs, nil
}

func (p *SyncPipeline) process(ctx context.Context, r *run, cs *source.Changeset, mapper *attributes.Mapper, creds credentials.Record) {
	p.logger.Info("processing change records", zap.Int("rows", len(cs.Rows)))
	part := batch.NewPartitioner(p.config.BatchSize, p.config.Pacing)

	for i, row := range cs.Rows {
		if row.Deleted() {
			p.logger.Debug("skipping DELETE action", zap.Int("row", i))
			continue
		}

		rec, err := mapper.Map(row)
		if err != nil {
			r.result.FailCount++
			metrics.RowErrors.Inc()
			msg := fmt.Sprintf("Error processing row %d: %s", i, errors.Message(err))
			p.logger.Error("row processing failed", zap.String("error", msg))
			r.errs.add(msg)
			continue
		}

		part.Add(rec)
		if part.ShouldFlush() {
			p.flush(ctx, r, part, creds)
		}
	}
	// the final partial batch goes out even when the last row was skipped
	p.flush(ctx, r, part, creds)
}

func (p *SyncPipeline) flush(ctx context.Context, r *run, part *batch.Partitioner, creds credentials.Record) {
	b := part.Drain()
	if len(b) == 0 {
		return
	}

	var out delivery.Outcome
	if err := part.Pace(ctx); err != nil {
		out = delivery.Outcome{
			Failed: len(b),
			Err:    fmt.Sprintf("Exception for batch starting with custom_id %s: %v", b.FirstID(), err),
		}
	} else {
		out = p.deliverer.Deliver(ctx, b, creds)
		part.Delivered(time.Now())
	}

	r.result.SuccessCount += out.Succeeded
	r.result.FailCount += out.Failed
	if out.Err != "" {
		r.errs.add(out.Err)
	}
	metrics.RecordsDelivered.WithLabelValues(string(r.result.Kind), metrics.StatusSucceeded).Add(float64(out.Succeeded))
	metrics.RecordsDelivered.WithLabelValues(string(r.result.Kind), metrics.StatusFailed).Add(float64(out.Failed))
}

// resolve commits the stream read on full success and rolls it back otherwise.
func (p *SyncPipeline) resolve(ctx context.Context, r *run) error {
	if r.result.FailCount == 0 {
		p.logger.Info("all records processed successfully, committing transaction to consume stream data")
		if err := r.cs.Commit(ctx); err != nil {
			return err
		}
		p.transition(r, StateCommitted)
		return nil
	}

	p.logger.Warn("records failed processing, rolling back transaction", zap.Int("failed", r.result.FailCount))
	if err := r.cs.Rollback(); err != nil {
		p.logger.Error("rollback failed", zap.Error(err))
	}
	p.transition(r, StateRolledBack)
	return nil
}

// abort rolls back any open read and turns err into the result message.
func (p *SyncPipeline) abort(r *run, err error) {
	if r.cs != nil && r.cs.Transactional() {
		if rbErr := r.cs.Rollback(); rbErr != nil {
			p.logger.Error("rollback failed", zap.Error(rbErr))
		} else {
			p.logger.Info("transaction rolled back due to error")
			p.transition(r, StateRolledBack)
		}
	}

	r.result.Fatal = true
	r.result.Errors = r.errs.lines()
	r.result.Message = fatalMessage(err)
	p.logger.Error("sync failed", zap.String("error", r.result.Message))
	p.transition(r, StateReported)
}

// fatalMessage keeps the user-facing wording of known configuration and
// source failures and prefixes anything else.
func fatalMessage(err error) string {
	var e *errors.Error
	if stderrors.As(err, &e) && e.Cause == nil &&
		(e.Type == errors.ErrorTypeConfig || e.Type == errors.ErrorTypeSourceAccess) {
		return e.Message
	}
	return "Error in sync: " + errors.Message(err)
}

func (p *SyncPipeline) transition(r *run, s State) {
	if r.result.FinalState() == s {
		return
	}
	r.result.States = append(r.result.States, s)
	p.logger.Info("state transition", zap.String("state", string(s)))
}

func (p *SyncPipeline) recordOutcome(res *Result) {
	outcome := metrics.OutcomeReported
	switch {
	case res.Fatal:
		outcome = metrics.OutcomeAborted
	case res.Reached(StateCommitted):
		outcome = metrics.OutcomeCommitted
	case res.Reached(StateRolledBack):
		outcome = metrics.OutcomeRolledBack
	}
	metrics.RunOutcomes.WithLabelValues(string(res.Kind), outcome).Inc()
}
