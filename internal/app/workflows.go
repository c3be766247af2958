package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/dbsync/internal/config"
	"github.com/kadirbelkuyu/dbsync/internal/database"
	"github.com/kadirbelkuyu/dbsync/internal/executor"
	"github.com/kadirbelkuyu/dbsync/internal/feed"
	"github.com/kadirbelkuyu/dbsync/internal/mapping"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
	"github.com/kadirbelkuyu/dbsync/internal/pkresolve"
	"github.com/kadirbelkuyu/dbsync/internal/reconcile"
	"github.com/kadirbelkuyu/dbsync/internal/scheduler"
	"github.com/kadirbelkuyu/dbsync/internal/schema"
	"github.com/kadirbelkuyu/dbsync/internal/source"
	"github.com/kadirbelkuyu/dbsync/internal/store"
	"github.com/kadirbelkuyu/dbsync/internal/translate"
	"github.com/kadirbelkuyu/dbsync/internal/writeback"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
	"github.com/kadirbelkuyu/dbsync/pkg/progress"
)

type Service struct {
	out io.Writer
}

func NewService(out io.Writer) *Service {
	if out == nil {
		out = os.Stdout
	}
	return &Service{out: out}
}

type SyncOptions struct {
	Verbose bool
	// Output receives the committed transactions as a JSON-lines log.
	Output string
}

// Sync runs one reconciliation cycle from the external store into a fresh
// in-process store and prints the report.
func (s *Service) Sync(ctx context.Context, cfg *config.Config, opts SyncOptions) error {
	log := logger.NewLogger(opts.Verbose)
	log.Logger.Info("Starting reconciliation...")

	m, err := cfg.TableMapping()
	if err != nil {
		return err
	}

	src, err := openSource(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer src.Close()

	st := store.New(log)
	bar := progress.NewBar(int64(m.Len()), "Reconciling tables")
	report, err := reconcile.NewReconciler(src, st, m, reconcileOptions(cfg, func(reconcile.TableResult) { bar.Increment() }), log).Run(ctx)
	bar.Finish()
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	s.printReport(report)

	if opts.Output != "" {
		if err := writeLog(opts.Output, st.Transactions()); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Transactions written to %s\n", opts.Output)
	}
	return nil
}

// Serve keeps the in-process store reconciled on the configured schedule
// and, when writeback is enabled, writes user transactions back to the
// external store. It returns when ctx is done.
func (s *Service) Serve(ctx context.Context, cfg *config.Config, verbose bool, record string) error {
	log := logger.NewLogger(verbose)

	if cfg.Writeback.Enabled && cfg.Writeback.Mode != config.ModeWriteback {
		return fmt.Errorf("serve supports %q mode only, use replay for %q", config.ModeWriteback, cfg.Writeback.Mode)
	}

	m, err := cfg.TableMapping()
	if err != nil {
		return err
	}

	src, err := openSource(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer src.Close()

	st := store.New(log)

	if record != "" {
		file, err := os.OpenFile(record, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open record file: %w", err)
		}
		defer file.Close()

		recorder := feed.NewRecorder(file)
		go subscribe(ctx, st, log, "recorder", recorder.Record)
	}

	if cfg.Writeback.Enabled {
		target, closeTarget, err := openTarget(ctx, cfg, m, st, st, log)
		if err != nil {
			return err
		}
		defer closeTarget()

		handler := writeback.NewHandler(st, target, m, log)
		go subscribe(ctx, st, log, "writeback", func(tx *mutation.Transaction) error {
			if err := handler.Handle(ctx, tx); err != nil {
				log.WithFields(logrus.Fields{"transaction": tx.ID, "timestamp": tx.LogicalTimestamp}).
					WithError(err).Error("Writeback failed, continuing with next transaction")
			}
			return nil
		})
	}

	reconciler := reconcile.NewReconciler(src, st, m, reconcileOptions(cfg, nil), log)
	sched := scheduler.New(log)
	if err := sched.Add("reconcile", cfg.Sync.Schedule, func(ctx context.Context) error {
		_, err := reconciler.Run(ctx)
		return err
	}); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{"schedule": cfg.Sync.Schedule, "tables": m.Len(), "writeback": cfg.Writeback.Enabled}).
		Info("Serving")

	// The first cycle runs right away instead of waiting for the schedule.
	if _, err := reconciler.Run(ctx); err != nil {
		log.WithError(err).Error("Initial reconciliation failed")
	}

	return sched.Run(ctx)
}

func subscribe(ctx context.Context, st *store.Store, log *logger.Logger, name string, handle func(*mutation.Transaction) error) {
	if err := st.Subscribe(ctx, handle); err != nil && !errors.Is(err, context.Canceled) {
		log.WithField("subscriber", name).WithError(err).Error("Subscription stopped")
	}
}

type ReplayOptions struct {
	Catalog      string
	Transactions string
	DryRun       bool
	Verbose      bool
}

// Replay writes a recorded transaction log to the external store. Mirror
// mode recreates every internal table keyed by "_key"; writeback mode
// addresses mapped tables by their own primary keys.
func (s *Service) Replay(ctx context.Context, cfg *config.Config, opts ReplayOptions) error {
	log := logger.NewLogger(opts.Verbose)

	catalogPath := firstNonEmpty(opts.Catalog, cfg.Source.Catalog)
	transactionsPath := firstNonEmpty(opts.Transactions, cfg.Source.Transactions)
	if transactionsPath == "" {
		return errors.New("no transaction log given")
	}

	f, err := feed.NewFileFeed(catalogPath, transactionsPath, log)
	if err != nil {
		return err
	}
	initial, err := f.SchemaAt(ctx, 0)
	if err != nil {
		return err
	}
	st := store.NewWithCatalog(initial, log)

	m, err := cfg.TableMapping()
	if err != nil {
		return err
	}

	var (
		target      writeback.Target
		closeTarget func()
		mirror      = cfg.Writeback.Mode == config.ModeMirror
	)
	if mirror {
		conn, err := database.NewConnection(ctx, cfg)
		if err != nil {
			return err
		}
		closeTarget = func() { conn.Close() }
		exec := executor.NewExecutor(conn.DB, executor.Options{DryRun: opts.DryRun || cfg.Writeback.DryRun}, log)
		target = writeback.NewSQLTarget(writeback.Mirror(translate.NewMirror(conn.Dialect)), exec, log)
		m = nil
	} else {
		// Recorded logs carry their own timestamps, so generated ids are not
		// committed back into the replay store.
		cfg.Writeback.DryRun = cfg.Writeback.DryRun || opts.DryRun
		target, closeTarget, err = openTarget(ctx, cfg, m, st, nil, log)
		if err != nil {
			return err
		}
	}
	defer closeTarget()

	handler := writeback.NewHandler(st, target, m, log)
	if mirror {
		// A mirror target is a separate copy, reconciliation included.
		handler.IncludeSelfSync()
	}
	applied, err := replay(ctx, f, st, handler)
	fmt.Fprintf(s.out, "Replayed %d transactions\n", applied)
	return err
}

// replay mirrors every transaction of f into st before handing it to h, so
// primary key lookups see the rows as of the transaction.
func replay(ctx context.Context, f feed.Feed, st *store.Store, h *writeback.Handler) (int, error) {
	applied := 0
	err := f.Subscribe(ctx, func(tx *mutation.Transaction) error {
		if err := st.Apply(tx); err != nil {
			return err
		}
		if err := h.Handle(ctx, tx); err != nil {
			return err
		}
		applied++
		return nil
	})
	return applied, err
}

// Validate checks cfg and prints the mapping and the next scheduled runs.
func (s *Service) Validate(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m, err := cfg.TableMapping()
	if err != nil {
		return err
	}
	runs, err := scheduler.NextRuns(cfg.Sync.Schedule, time.Now(), 3)
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "\nConfiguration for %s (%s) is valid.\n", formatServerLabel(cfg), cfg.External.Type)
	fmt.Fprintln(s.out, strings.Repeat("=", 36))
	fmt.Fprintf(s.out, "Writeback: %s (%s)\n", enabledLabel(cfg.Writeback.Enabled), cfg.Writeback.Mode)
	fmt.Fprintf(s.out, "Tables (%d):\n", m.Len())
	for _, pair := range m.Pairs() {
		fmt.Fprintf(s.out, "  %s -> %s\n", pair.Source, pair.Target)
	}
	fmt.Fprintf(s.out, "Schedule %q, next runs:\n", cfg.Sync.Schedule)
	for _, run := range runs {
		fmt.Fprintf(s.out, "  %s\n", run.Format(time.RFC3339))
	}
	return nil
}

func (s *Service) printReport(report *reconcile.Report) {
	fmt.Fprintln(s.out)
	fmt.Fprintf(s.out, "Reconciliation %s finished in %s\n", report.RunID, report.Duration().Round(time.Millisecond))
	fmt.Fprintln(s.out, strings.Repeat("=", 36))
	for _, t := range report.Tables {
		line := fmt.Sprintf("%s -> %s: %s", t.Source, t.Target, t.Status)
		if t.Status == reconcile.StatusSynced {
			line = fmt.Sprintf("%s (%d rows)", line, t.Rows)
		}
		if len(t.CoercedColumns) > 0 {
			line = fmt.Sprintf("%s, coerced to text: %s", line, strings.Join(t.CoercedColumns, ", "))
		}
		if t.Err != nil {
			line = fmt.Sprintf("%s: %v", line, t.Err)
		}
		fmt.Fprintln(s.out, line)
	}
	fmt.Fprintf(s.out, "\nSynced: %d, skipped: %d, failed: %d\n",
		report.Count(reconcile.StatusSynced),
		report.Skipped(),
		report.Count(reconcile.StatusFailed),
	)
}

func reconcileOptions(cfg *config.Config, onTable func(reconcile.TableResult)) reconcile.Options {
	return reconcile.Options{
		DropExtraColumns: cfg.Sync.DropExtraColumns,
		DeleteExtraRows:  cfg.Sync.DeleteExtraRows,
		SyncEmptyTables:  cfg.Sync.SyncEmptyTables,
		OnTable:          onTable,
	}
}

func openSource(ctx context.Context, cfg *config.Config, log *logger.Logger) (source.Source, error) {
	if cfg.External.Type == "mongo" {
		conn, err := database.NewMongoConnection(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return source.NewMongoSource(conn, log), nil
	}

	conn, err := database.NewConnection(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return source.NewSQLSource(conn, log), nil
}

// openTarget connects the writeback target for the external store type.
// Primary keys are looked up in st. Ids generated by Mongo go to backfill
// when it is not nil.
func openTarget(ctx context.Context, cfg *config.Config, m *mapping.TableMapping, st *store.Store, backfill writeback.IDBackfiller, log *logger.Logger) (writeback.Target, func(), error) {
	resolver := pkresolve.NewResolver(st, cfg.Writeback.LookupChunkSize, log)

	if cfg.External.Type == "mongo" {
		conn, err := database.NewMongoConnection(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		target := writeback.NewMongoTarget(conn.Database, m, resolver, backfill, cfg.Writeback.CreateChunkSize, log)
		return target, func() { conn.Close() }, nil
	}

	conn, err := database.NewConnection(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	exec := executor.NewExecutor(conn.DB, executor.Options{DryRun: cfg.Writeback.DryRun}, log)
	translator := writeback.Writeback(conn.Dialect, m, schema.NewExtractor(conn, log), resolver, log)
	return writeback.NewSQLTarget(translator, exec, log), func() { conn.Close() }, nil
}

func writeLog(path string, txs []*mutation.Transaction) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create transaction log: %w", err)
	}
	defer file.Close()

	recorder := feed.NewRecorder(file)
	for _, tx := range txs {
		if err := recorder.Record(tx); err != nil {
			return err
		}
	}
	return nil
}

func formatServerLabel(cfg *config.Config) string {
	host := strings.TrimSpace(cfg.External.Host)
	if host == "" {
		if cfg.External.URI != "" {
			return cfg.External.URI
		}
		host = "localhost"
	}

	if cfg.External.Port > 0 {
		return fmt.Sprintf("%s:%d", host, cfg.External.Port)
	}

	return host
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
