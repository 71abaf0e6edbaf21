package batch_test

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wilhg/bookstore/pkg/authors"
	"github.com/wilhg/bookstore/pkg/batch"
	"github.com/wilhg/bookstore/pkg/errmodel"
	"github.com/wilhg/bookstore/pkg/store"
	"github.com/wilhg/bookstore/pkg/store/memory"
)

func ids() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%06d", n)
	}
}

func TestRun_CommitsEverything(t *testing.T) {
	tests := []struct {
		n, size   int
		wantSizes []int
	}{
		{n: 10, size: 3, wantSizes: []int{3, 3, 3, 1}},
		{n: 9, size: 3, wantSizes: []int{3, 3, 3}},
		{n: 1, size: 5, wantSizes: []int{1}},
		{n: 5, size: 1, wantSizes: []int{1, 1, 1, 1, 1}},
		{n: 7, size: 100, wantSizes: []int{7}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d/size=%d", tt.n, tt.size), func(t *testing.T) {
			ctx := context.Background()
			st := memory.New()
			sess := st.NewSession()

			got, err := batch.Run(ctx, sess, authors.Generate(tt.n, ids()), batch.Config{BatchSize: tt.size})
			require.NoError(t, err)
			assert.Equal(t, tt.n, got)

			stats := sess.Stats()
			assert.Equal(t, tt.wantSizes, stats.BatchSizes)
			assert.Equal(t, (tt.n+tt.size-1)/tt.size, stats.Commits)
			assert.Equal(t, stats.Commits, stats.Flushes)
			assert.Zero(t, stats.Rollbacks)
			assert.LessOrEqual(t, stats.HighWater, tt.size)
			assert.Zero(t, sess.Tracked())

			count, err := st.CountAuthors(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.n, count)
		})
	}
}

func TestRun_EmptyInputOpensNoTransaction(t *testing.T) {
	sess := memory.New().NewSession()
	got, err := batch.Run(context.Background(), sess, authors.Generate(0, ids()), batch.Config{BatchSize: 3})
	require.NoError(t, err)
	assert.Zero(t, got)
	assert.Zero(t, sess.Stats().Transactions)
	assert.Zero(t, sess.Stats().Commits)
}

func TestRun_InvalidBatchSize(t *testing.T) {
	for _, size := range []int{0, -1, -30} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			pulled := 0
			var records iter.Seq[store.Author] = func(yield func(store.Author) bool) {
				pulled++
				yield(store.Author{ID: "x"})
			}
			sess := memory.New().NewSession()

			got, err := batch.Run(context.Background(), sess, records, batch.Config{BatchSize: size})
			require.Error(t, err)
			assert.Zero(t, got)
			assert.ErrorIs(t, err, batch.ErrInvalidBatchSize)
			var ce *batch.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, size, ce.BatchSize)
			assert.Zero(t, pulled)
			assert.Zero(t, sess.Stats().Transactions)
			assert.Equal(t, errmodel.ExitValidation, errmodel.ExitCode(err))
		})
	}
}

func TestRun_FailureIsolatedToBatch(t *testing.T) {
	tests := []struct {
		name  string
		opt   memory.SessionOption
		phase batch.Phase
	}{
		{name: "flush", opt: memory.FailFlushAt(2), phase: batch.PhaseFlush},
		{name: "commit", opt: memory.FailCommitAt(2), phase: batch.PhaseCommit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := memory.New()
			sess := st.NewSession(tt.opt)

			got, err := batch.Run(ctx, sess, authors.Generate(9, ids()), batch.Config{BatchSize: 3})
			require.Error(t, err)
			assert.Equal(t, 3, got)

			var fe *batch.FailedBatchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, 2, fe.Batch)
			assert.Equal(t, 3, fe.Committed)
			assert.Equal(t, tt.phase, fe.Phase)
			assert.ErrorIs(t, err, memory.ErrInjected)
			assert.NoError(t, fe.RollbackErr)

			stats := sess.Stats()
			assert.Equal(t, 1, stats.Commits)
			assert.Equal(t, 1, stats.Rollbacks)
			assert.Equal(t, 2, stats.Transactions, "batch 3 must not start")

			rows, err := st.ListAuthors(ctx, 0)
			require.NoError(t, err)
			gotIDs := make([]string, 0, len(rows))
			for _, r := range rows {
				gotIDs = append(gotIDs, r.ID)
			}
			assert.Equal(t, []string{"id-000001", "id-000002", "id-000003"}, gotIDs)
		})
	}
}

func TestRun_FailureAtBatchK(t *testing.T) {
	const size = 4
	for k := 1; k <= 5; k++ {
		t.Run(fmt.Sprint(k), func(t *testing.T) {
			st := memory.New()
			sess := st.NewSession(memory.FailCommitAt(k))
			got, err := batch.Run(context.Background(), sess, authors.Generate(5*size, ids()), batch.Config{BatchSize: size})

			var fe *batch.FailedBatchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, k, fe.Batch)
			assert.Equal(t, (k-1)*size, fe.Committed)
			assert.Equal(t, (k-1)*size, got)
			count, _ := st.CountAuthors(context.Background())
			assert.Equal(t, (k-1)*size, count)
		})
	}
}

func TestRun_StageFailure(t *testing.T) {
	st := memory.New()
	sess := st.NewSession()
	records := slices.Values([]store.Author{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "c"}, {ID: "d"}})

	got, err := batch.Run(context.Background(), sess, records, batch.Config{BatchSize: 2})
	var fe *batch.FailedBatchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, batch.PhaseStage, fe.Phase)
	assert.Equal(t, 2, fe.Batch)
	assert.Equal(t, 2, got)
	assert.ErrorIs(t, err, store.ErrDuplicateID)
	assert.Zero(t, sess.Tracked())
}

func TestRunSource_SourceErrorFailsCurrentBatch(t *testing.T) {
	boom := errors.New("bad line")
	var records iter.Seq2[store.Author, error] = func(yield func(store.Author, error) bool) {
		for i := range 5 {
			if !yield(store.Author{ID: fmt.Sprint(i)}, nil) {
				return
			}
		}
		yield(store.Author{}, boom)
	}
	st := memory.New()
	sess := st.NewSession()

	got, err := batch.RunSource(context.Background(), sess, records, batch.Config{BatchSize: 3})
	assert.Equal(t, 3, got)
	var fe *batch.FailedBatchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, batch.PhaseSource, fe.Phase)
	assert.Equal(t, 2, fe.Batch)
	assert.ErrorIs(t, err, boom)
	count, _ := st.CountAuthors(context.Background())
	assert.Equal(t, 3, count, "partial batch 2 must be rolled back")
}

func TestRun_CancellationOnlyAtBoundaries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := memory.New()
	sess := st.NewSession()

	n := 0
	var records iter.Seq[store.Author] = func(yield func(store.Author) bool) {
		for i := range 10 {
			n++
			if i == 4 {
				// mid-batch: batch 2 (records 3..5) must still complete
				cancel()
			}
			if !yield(store.Author{ID: fmt.Sprint(i)}) {
				return
			}
		}
	}

	got, err := batch.Run(ctx, sess, records, batch.Config{BatchSize: 3})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 6, got)
	assert.Equal(t, []int{3, 3}, sess.Stats().BatchSizes)
	assert.Zero(t, sess.Stats().Rollbacks)
	assert.Equal(t, 7, n)
}

// liveCtxSession fails any session call made with a canceled context, the way
// database/sql aborts a transaction whose context is done.
type liveCtxSession struct {
	*memory.Session
}

func (s liveCtxSession) Stage(ctx context.Context, a store.Author) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Session.Stage(ctx, a)
}

func (s liveCtxSession) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Session.Flush(ctx)
}

func (s liveCtxSession) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Session.Commit(ctx)
}

func TestRun_CanceledRunFinishesStartedBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess := memory.New().NewSession()

	var records iter.Seq[store.Author] = func(yield func(store.Author) bool) {
		for i := range 10 {
			if i == 4 {
				cancel()
			}
			if !yield(store.Author{ID: fmt.Sprint(i)}) {
				return
			}
		}
	}

	got, err := batch.Run(ctx, liveCtxSession{sess}, records, batch.Config{BatchSize: 3})
	require.ErrorIs(t, err, context.Canceled)
	var fe *batch.FailedBatchError
	assert.False(t, errors.As(err, &fe), "cancellation must not fail the started batch")
	assert.Equal(t, 6, got)
	assert.Equal(t, []int{3, 3}, sess.Stats().BatchSizes)
	assert.Zero(t, sess.Stats().Rollbacks)
}

func TestRun_ProgressAndSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var progress []batch.Progress
	sess := memory.New().NewSession()
	got, err := batch.Run(context.Background(), sess, authors.Generate(10, ids()), batch.Config{BatchSize: 3},
		batch.WithTracer(tp.Tracer("test")),
		batch.WithProgress(func(p batch.Progress) { progress = append(progress, p) }),
	)
	require.NoError(t, err)
	assert.Equal(t, 10, got)

	require.Len(t, progress, 4)
	last := progress[3]
	assert.Equal(t, 4, last.Batch)
	assert.Equal(t, 1, last.Size)
	assert.Equal(t, 10, last.Committed)

	names := map[string]int{}
	for _, s := range sr.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["batch.Run"])
	assert.Equal(t, 4, names["batch.commit"])
}

func TestFailedBatchError_Compact(t *testing.T) {
	err := fmt.Errorf("generate: %w", &batch.FailedBatchError{Batch: 2, Committed: 3, Phase: batch.PhaseFlush, Err: errors.New("x")})
	ce := errmodel.From(err)
	assert.Equal(t, errmodel.CategoryStorage, ce.Category)
	assert.Equal(t, "batch_failed", ce.Code)
	assert.Equal(t, 2, ce.Context["batch"])
	assert.Equal(t, 3, ce.Context["committed"])
	assert.Equal(t, errmodel.ExitFailure, errmodel.ExitCode(err))
}
