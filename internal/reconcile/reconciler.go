// Package reconcile pulls complete external tables and submits them to the
// internal store as identity-keyed table syncs.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/dbsync/internal/batch"
	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/mapping"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
	"github.com/kadirbelkuyu/dbsync/internal/schema"
	"github.com/kadirbelkuyu/dbsync/internal/source"
	"github.com/kadirbelkuyu/dbsync/internal/value"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

// RunAnnotation carries the id of the reconciliation run that produced a
// transaction.
const RunAnnotation = "dbsync.run_id"

// TableSyncRequest replaces the contents of an internal table with Batch.
// Rows match existing rows by the values of PrimaryKeyColumnNames.
type TableSyncRequest struct {
	TableName              string
	Batch                  *batch.Batch
	PrimaryKeyColumnNames  []string
	DropExtraColumns       bool
	DeleteExtraRows        bool
	TransactionAnnotations map[string]string
}

type Sink interface {
	TableSync(ctx context.Context, req TableSyncRequest) error
}

type Options struct {
	DropExtraColumns bool
	DeleteExtraRows  bool
	// SyncEmptyTables submits empty snapshots instead of skipping them, so a
	// table can be synced down to zero rows.
	SyncEmptyTables bool
	// OnTable is called after every table with its result.
	OnTable func(TableResult)
}

type Reconciler struct {
	source  source.Source
	sink    Sink
	mapping *mapping.TableMapping
	options Options
	logger  *logger.Logger
}

func NewReconciler(src source.Source, sink Sink, m *mapping.TableMapping, options Options, log *logger.Logger) *Reconciler {
	return &Reconciler{
		source:  src,
		sink:    sink,
		mapping: m,
		options: options,
		logger:  log,
	}
}

// Run reconciles every mapped table once. Failures of single tables are
// logged and recorded in the report; only failing to describe the source
// aborts the run.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	report := newReport(uuid.NewString())
	log := r.logger.WithField("run", report.RunID)
	log.Infof("Starting reconciliation of %d tables", r.mapping.Len())

	tables, err := r.source.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to describe source tables: %w", err)
	}

	for _, pair := range r.mapping.Pairs() {
		if ctx.Err() != nil {
			return report.finish(), ctx.Err()
		}

		result := r.syncTable(ctx, report.RunID, pair, tables)
		entry := log.WithFields(logrus.Fields{"source": pair.Source, "target": pair.Target, "rows": result.Rows})
		switch result.Status {
		case StatusFailed:
			entry.WithError(result.Err).Error("Table reconciliation failed, continuing with next table")
		case StatusSynced:
			entry.Info("Table reconciled")
		default:
			entry.Warnf("Table skipped: %s", result.Status)
		}

		report.add(result)
		if r.options.OnTable != nil {
			r.options.OnTable(result)
		}
	}

	report.finish()
	log.Infof("Reconciliation finished: %d synced, %d skipped, %d failed", report.Count(StatusSynced), report.Skipped(), report.Count(StatusFailed))
	return report, nil
}

func (r *Reconciler) syncTable(ctx context.Context, runID string, pair mapping.Pair, tables map[string]schema.Table) TableResult {
	result := TableResult{Source: pair.Source, Target: pair.Target}
	fail := func(err error) TableResult {
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	table, ok := tables[pair.Source]
	if !ok {
		return fail(fmt.Errorf("source table %s not found", pair.Source))
	}
	if len(table.PrimaryKeys) == 0 {
		result.Status = StatusNoPrimaryKey
		return result
	}

	snapshot, err := r.source.FetchRows(ctx, table)
	if err != nil {
		return fail(fmt.Errorf("failed to fetch rows: %w", err))
	}
	result.Rows = len(snapshot.Rows)
	if len(snapshot.Rows) == 0 && !r.options.SyncEmptyTables {
		result.Status = StatusEmpty
		return result
	}

	rows, lossy := coerceRows(snapshot)
	for _, column := range lossy {
		r.logger.WithFields(logrus.Fields{"table": pair.Source, "column": column}).
			Warn("Column held values of an unexpected type, they were converted")
	}
	result.CoercedColumns = lossy

	columns, err := columnsFor(table, snapshot, rows)
	if err != nil {
		return fail(err)
	}
	encoded, err := batch.Encode(columns, rows)
	if err != nil {
		return fail(fmt.Errorf("failed to encode batch: %w", err))
	}

	annotations := map[string]string{
		mutation.SelfSyncAnnotation: "true",
		RunAnnotation:               runID,
	}
	err = r.sink.TableSync(ctx, TableSyncRequest{
		TableName:              pair.Target,
		Batch:                  encoded,
		PrimaryKeyColumnNames:  append([]string(nil), table.PrimaryKeys...),
		DropExtraColumns:       r.options.DropExtraColumns,
		DeleteExtraRows:        r.options.DeleteExtraRows,
		TransactionAnnotations: annotations,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to submit table sync: %w", err))
	}

	result.Status = StatusSynced
	return result
}

// coerceRows converts raw values and reports, once per column, the columns
// where a value needed a lossy conversion.
func coerceRows(snapshot *source.Snapshot) ([][]value.Scalar, []string) {
	lossyColumns := make([]bool, len(snapshot.Columns))
	rows := make([][]value.Scalar, len(snapshot.Rows))
	for r, raw := range snapshot.Rows {
		row := make([]value.Scalar, len(raw))
		for i, v := range raw {
			s, lossy := value.Coerce(v)
			row[i] = s
			if lossy && i < len(lossyColumns) {
				lossyColumns[i] = true
			}
		}
		rows[r] = row
	}

	var lossy []string
	for i, flagged := range lossyColumns {
		if flagged {
			lossy = append(lossy, snapshot.Columns[i])
		}
	}
	return rows, lossy
}

// columnsFor uses the declared column types when the source describes every
// snapshot column, and infers them from the values otherwise.
func columnsFor(table schema.Table, snapshot *source.Snapshot, rows [][]value.Scalar) ([]batch.Column, error) {
	declared := make(map[string]schema.Column, len(table.Columns))
	for _, col := range table.Columns {
		declared[col.Name] = col
	}

	columns := make([]batch.Column, len(snapshot.Columns))
	complete := true
	for i, name := range snapshot.Columns {
		col, ok := declared[name]
		if !ok {
			complete = false
			break
		}
		columns[i] = batch.Column{Name: name, Type: col.CatalogType()}
	}
	if complete {
		widenIntegers(columns, rows)
		return columns, nil
	}

	if len(rows) == 0 {
		columns = make([]batch.Column, len(table.Columns))
		for i, col := range table.Columns {
			columns[i] = batch.Column{Name: col.Name, Type: col.CatalogType()}
		}
		return columns, nil
	}
	return batch.InferColumns(snapshot.Columns, rows)
}

// widenIntegers declares integer columns as floats when a value did not fit
// an int64, such as an unsigned bigint above math.MaxInt64.
func widenIntegers(columns []batch.Column, rows [][]value.Scalar) {
	for i := range columns {
		if columns[i].Type != catalog.Int64 {
			continue
		}
		for _, row := range rows {
			if i < len(row) && row[i].Kind() == value.KindFloat {
				columns[i].Type = catalog.Float64
				break
			}
		}
	}
}

type Status string

const (
	StatusSynced       Status = "synced"
	StatusNoPrimaryKey Status = "no primary key"
	StatusEmpty        Status = "empty"
	StatusFailed       Status = "failed"
)

type TableResult struct {
	Source         string
	Target         string
	Status         Status
	Rows           int
	CoercedColumns []string
	Err            error
}

// Report accumulates the results of one run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Tables   []TableResult
}

func newReport(runID string) *Report {
	return &Report{RunID: runID, Started: time.Now()}
}

func (r *Report) add(result TableResult) {
	r.Tables = append(r.Tables, result)
}

func (r *Report) finish() *Report {
	r.Finished = time.Now()
	return r
}

func (r *Report) Count(status Status) int {
	n := 0
	for _, t := range r.Tables {
		if t.Status == status {
			n++
		}
	}
	return n
}

func (r *Report) Skipped() int {
	return r.Count(StatusNoPrimaryKey) + r.Count(StatusEmpty)
}

func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}
