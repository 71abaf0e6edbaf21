// Package batch implements the bounded-batch commit loop: records are staged
// into a Session and, every BatchSize records, flushed, cleared and committed
// so neither memory nor transaction length grows with the input.
package batch

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config is the explicit configuration of a run.
type Config struct {
	BatchSize int
}

// Validate rejects configurations no run can start with.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return &ConfigError{BatchSize: c.BatchSize}
	}
	return nil
}

// Progress is reported after every committed batch.
type Progress struct {
	// Batch is the 1-based index of the batch just committed.
	Batch int
	// Size is the number of records in that batch.
	Size int
	// Committed is the running total of durable records.
	Committed int
	// Elapsed is the time since the run started.
	Elapsed time.Duration
}

// ProgressFunc receives progress updates.
type ProgressFunc func(Progress)

// Option configures a run.
type Option func(*options)

type options struct {
	log        zerolog.Logger
	onProgress ProgressFunc
	tracer     trace.Tracer
}

// WithLogger sets the logger used for per-batch and summary output.
func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.log = l } }

// WithProgress registers a callback invoked after each committed batch.
func WithProgress(fn ProgressFunc) Option { return func(o *options) { o.onProgress = fn } }

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// Run stages every record into s and commits them in batches of cfg.BatchSize.
// It returns the number of durably committed records, also when it fails.
//
// A failure while staging, flushing or committing batch k rolls back batch k,
// leaves batches 1..k-1 committed and stops the run with a *FailedBatchError.
// ctx is only consulted between batches. Once a batch has started, canceling
// ctx lets it commit and the run then stops with an error wrapping ctx.Err().
// Session calls receive a context that carries ctx's values but not its
// cancellation.
func Run[T any](ctx context.Context, s Session[T], records iter.Seq[T], cfg Config, opts ...Option) (int, error) {
	return RunSource(ctx, s, func(yield func(T, error) bool) {
		for rec := range records {
			if !yield(rec, nil) {
				return
			}
		}
	}, cfg, opts...)
}

// RunSource is Run over a source that can fail while producing records. A
// source error fails the batch being assembled exactly like a staging error.
func RunSource[T any](ctx context.Context, s Session[T], records iter.Seq2[T, error], cfg Config, opts ...Option) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	o := options{log: zerolog.Nop(), tracer: otel.Tracer("bookstore/batch")}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := o.tracer.Start(ctx, "batch.Run", trace.WithAttributes(
		attribute.Int("batch.size", cfg.BatchSize),
	))
	defer span.End()

	// Session work is detached from cancellation so a started batch always
	// reaches its commit or rollback.
	opCtx := context.WithoutCancel(ctx)

	l := &loop[T]{s: s, size: cfg.BatchSize, opts: o, start: time.Now()}
	for rec, err := range records {
		if err != nil {
			return l.committed, l.fail(opCtx, span, PhaseSource, err)
		}
		if l.pending == 0 {
			if err := ctx.Err(); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "canceled")
				return l.committed, fmt.Errorf("batch: canceled after %d committed records: %w", l.committed, err)
			}
		}
		if err := s.Stage(opCtx, rec); err != nil {
			return l.committed, l.fail(opCtx, span, PhaseStage, err)
		}
		l.pending++
		if l.pending == l.size {
			if err := l.boundary(opCtx, span); err != nil {
				return l.committed, err
			}
		}
	}
	if l.pending > 0 {
		if err := l.boundary(opCtx, span); err != nil {
			return l.committed, err
		}
	}

	span.SetAttributes(
		attribute.Int("batch.count", l.batches),
		attribute.Int("batch.committed", l.committed),
	)
	if l.batches > 0 {
		o.log.Info().
			Int("batches", l.batches).
			Int("committed", l.committed).
			Dur("elapsed", time.Since(l.start)).
			Msg("batch run complete")
	}
	return l.committed, nil
}

// loop holds the counters of a single run.
type loop[T any] struct {
	s     Session[T]
	size  int
	opts  options
	start time.Time

	pending   int
	batches   int
	committed int
}

// boundary flushes, clears and commits the pending batch.
func (l *loop[T]) boundary(ctx context.Context, parent trace.Span) error {
	index := l.batches + 1
	ctx, span := l.opts.tracer.Start(ctx, "batch.commit", trace.WithAttributes(
		attribute.Int("batch.index", index),
		attribute.Int("batch.records", l.pending),
	))
	defer span.End()

	if err := l.s.Flush(ctx); err != nil {
		span.RecordError(err)
		return l.fail(ctx, parent, PhaseFlush, err)
	}
	l.s.Clear()
	if err := l.s.Commit(ctx); err != nil {
		span.RecordError(err)
		return l.fail(ctx, parent, PhaseCommit, err)
	}

	size := l.pending
	l.batches = index
	l.committed += size
	l.pending = 0

	l.opts.log.Debug().
		Int("batch", index).
		Int("records", size).
		Int("committed", l.committed).
		Msg("batch committed")
	if l.opts.onProgress != nil {
		l.opts.onProgress(Progress{Batch: index, Size: size, Committed: l.committed, Elapsed: time.Since(l.start)})
	}
	return nil
}

// fail rolls back the current batch and builds the error reported to the caller.
func (l *loop[T]) fail(ctx context.Context, span trace.Span, phase Phase, cause error) error {
	fe := &FailedBatchError{Batch: l.batches + 1, Committed: l.committed, Phase: phase, Err: cause}
	l.s.Clear()
	if err := l.s.Rollback(ctx); err != nil {
		fe.RollbackErr = err
		l.opts.log.Warn().Err(err).Int("batch", fe.Batch).Msg("rollback failed")
	}
	l.opts.log.Error().
		Err(cause).
		Int("batch", fe.Batch).
		Int("committed", fe.Committed).
		Str("phase", string(phase)).
		Msg("batch failed")
	span.RecordError(fe)
	span.SetStatus(codes.Error, string(phase))
	return fe
}
