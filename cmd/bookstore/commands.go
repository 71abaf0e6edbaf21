package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm/logger"

	"github.com/wilhg/bookstore/internal/config"
	"github.com/wilhg/bookstore/pkg/authors"
	"github.com/wilhg/bookstore/pkg/batch"
	"github.com/wilhg/bookstore/pkg/errmodel"
	"github.com/wilhg/bookstore/pkg/store"
	"github.com/wilhg/bookstore/pkg/store/entstore"
	"github.com/wilhg/bookstore/pkg/store/gormstore"
	"github.com/wilhg/bookstore/pkg/store/memory"
)

// progressEvery is how many batches pass between info-level progress lines.
const progressEvery = 100

func (a *app) addBatchFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&a.cfg.BatchSize, "batch-size", a.cfg.BatchSize, "authors committed per transaction")
	cmd.Flags().IntVar(&a.cfg.StatementRows, "statement-rows", a.cfg.StatementRows, "rows per INSERT statement (default: batch-size)")
}

func (a *app) generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Insert synthetic authors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			count := a.cfg.Count
			return a.runBatch(cmd, func(ctx context.Context, s batch.Session[store.Author], cfg batch.Config, opts ...batch.Option) (int, error) {
				return batch.Run(ctx, s, authors.Generate(count, nil), cfg, opts...)
			})
		},
	}
	cmd.Flags().IntVar(&a.cfg.Count, "count", a.cfg.Count, "number of authors to generate")
	a.addBatchFlags(cmd)
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Insert authors read from an NDJSON file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return errmodel.Validation("input_unreadable", err.Error(), map[string]any{"file": args[0]})
				}
				defer f.Close()
				r = f
			}
			return a.runBatch(cmd, func(ctx context.Context, s batch.Session[store.Author], cfg batch.Config, opts ...batch.Option) (int, error) {
				return batch.RunSource(ctx, s, authors.Decode(r), cfg, opts...)
			})
		},
	}
	a.addBatchFlags(cmd)
	return cmd
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the authors table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := a.openBackend(ctx)
			if err != nil {
				return err
			}
			defer a.closeBackend(b)
			if err := b.migrate(ctx); err != nil {
				return errmodel.Storage("migrate_failed", "migrate authors table", nil, err)
			}
			a.log.Info().Str("driver", b.name).Msg("schema up to date")
			return nil
		},
	}
}

func (a *app) countCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of committed authors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := a.openBackend(ctx)
			if err != nil {
				return err
			}
			defer a.closeBackend(b)
			n, err := b.count(ctx)
			if err != nil {
				return errmodel.Storage("count_failed", "count authors", nil, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

type runFunc func(ctx context.Context, s batch.Session[store.Author], cfg batch.Config, opts ...batch.Option) (int, error)

// runBatch opens the configured backend, migrates it and drives run under a
// root span carrying the run id.
func (a *app) runBatch(cmd *cobra.Command, run runFunc) error {
	ctx, span := otel.Tracer("bookstore/cli").Start(cmd.Context(), "bookstore."+cmd.Name())
	span.SetAttributes(
		attribute.String("run.id", a.runID),
		attribute.String("db.driver", a.cfg.Driver),
		attribute.Int("batch.size", a.cfg.BatchSize),
	)
	defer span.End()

	b, err := a.openBackend(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer a.closeBackend(b)
	if err := b.migrate(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return errmodel.Storage("migrate_failed", "migrate authors table", nil, err)
	}

	start := time.Now()
	n, err := run(ctx, b.session(), batch.Config{BatchSize: a.cfg.BatchSize},
		batch.WithLogger(a.log),
		batch.WithProgress(func(p batch.Progress) {
			if p.Batch%progressEvery == 0 {
				a.log.Info().Int("batch", p.Batch).Int("committed", p.Committed).Dur("elapsed", p.Elapsed).Msg("progress")
			}
		}),
	)
	span.SetAttributes(attribute.Int("batch.committed", n))
	fmt.Fprintf(cmd.OutOrStdout(), "committed %d authors in %s\n", n, time.Since(start).Round(time.Millisecond))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// backend is the store selected by the database URL and driver, reduced to
// what the commands need.
type backend struct {
	name    string
	session func() batch.Session[store.Author]
	migrate func(context.Context) error
	count   func(context.Context) (int, error)
	close   func() error
}

func (a *app) openBackend(ctx context.Context) (*backend, error) {
	cfg := a.cfg
	switch {
	case cfg.DatabaseURL == config.MemoryURL:
		st := memory.New()
		return &backend{
			name:    "memory",
			session: func() batch.Session[store.Author] { return st.NewSession() },
			migrate: func(context.Context) error { return nil },
			count:   st.CountAuthors,
			close:   st.Close,
		}, nil

	case cfg.Driver == config.DriverGorm:
		st, err := gormstore.Open(cfg.DatabaseURL,
			gormstore.WithStatementRows(cfg.StatementRows),
			gormstore.WithLogger(gormstore.NewLogger(a.log, logger.Warn)),
		)
		if err != nil {
			return nil, errmodel.Storage("open_failed", "open gorm store", map[string]any{"database_url": cfg.Redacted().DatabaseURL}, err)
		}
		return &backend{
			name:    config.DriverGorm,
			session: func() batch.Session[store.Author] { return st.NewSession() },
			// Open already ran AutoMigrate.
			migrate: func(context.Context) error { return nil },
			count:   st.CountAuthors,
			close:   st.Close,
		}, nil

	default:
		st, err := entstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errmodel.Storage("open_failed", "open ent store", map[string]any{"database_url": cfg.Redacted().DatabaseURL}, err)
		}
		return &backend{
			name: config.DriverEnt + "/" + st.Dialect(),
			session: func() batch.Session[store.Author] {
				return st.NewSession(entstore.WithStatementRows(cfg.StatementRows))
			},
			migrate: st.Migrate,
			count:   st.CountAuthors,
			close:   st.Close,
		}, nil
	}
}

func (a *app) closeBackend(b *backend) {
	if err := b.close(); err != nil {
		a.log.Warn().Err(err).Str("driver", b.name).Msg("close store")
	}
}
