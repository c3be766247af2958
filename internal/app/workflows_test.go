package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/dialect"
	"github.com/kadirbelkuyu/dbsync/internal/executor"
	"github.com/kadirbelkuyu/dbsync/internal/feed"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
	"github.com/kadirbelkuyu/dbsync/internal/reconcile"
	"github.com/kadirbelkuyu/dbsync/internal/store"
	"github.com/kadirbelkuyu/dbsync/internal/translate"
	"github.com/kadirbelkuyu/dbsync/internal/value"
	"github.com/kadirbelkuyu/dbsync/internal/writeback"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

func recordPeopleLog(t *testing.T, path string) {
	t.Helper()

	st := store.New(logger.NewLogger(false))
	commits := [][]mutation.Mutation{
		{
			&mutation.CreateTable{Descriptor: catalog.TableDescriptor{
				UUID:    "T",
				Name:    "people",
				Columns: []catalog.ColumnDescriptor{{UUID: "C1", Name: "name", DataType: catalog.String, Nullable: true}},
			}},
			&mutation.InsertRows{TableUUID: "T", ColumnMapping: []string{"C1"}, Rows: []mutation.Row{
				{Key: 1, Values: []value.Scalar{value.String("Ann")}},
				{Key: 2, Values: []value.Scalar{value.String("Bob")}},
			}},
		},
		{&mutation.UpdateRows{TableUUID: "T", ColumnMapping: []string{"C1"}, Rows: []mutation.Row{{Key: 1, Values: []value.Scalar{value.String("Ann B.")}}}}},
		{&mutation.RenameColumn{TableUUID: "T", ColumnUUID: "C1", NewName: "full_name"}},
		{&mutation.DeleteRows{TableUUID: "T", Keys: []int64{2}}},
	}
	for _, ms := range commits {
		_, err := st.Commit(ms, nil)
		require.NoError(t, err)
	}
	require.NoError(t, writeLog(path, st.Transactions()))
}

func TestReplayMirrorsRecordedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transactions.jsonl")
	recordPeopleLog(t, path)

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	log := logger.NewLogger(false)
	f, err := feed.NewFileFeed("", path, log)
	require.NoError(t, err)
	st := store.New(log)
	target := writeback.NewSQLTarget(writeback.Mirror(translate.NewMirror(dialect.Postgres{})), executor.NewExecutor(db, executor.Options{}, log), log)

	applied, err := replay(context.Background(), f, st, writeback.NewHandler(st, target, nil, log))
	require.NoError(t, err)
	assert.Equal(t, 4, applied)

	rows, err := db.Query(`select "_key", "full_name" from "people"`)
	require.NoError(t, err)
	defer rows.Close()

	got := make(map[int64]string)
	for rows.Next() {
		var (
			key  int64
			name string
		)
		require.NoError(t, rows.Scan(&key, &name))
		got[key] = name
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, map[int64]string{1: "Ann B."}, got)

	_, current, err := st.Rows("people")
	require.NoError(t, err)
	assert.Equal(t, []mutation.Row{{Key: 1, Values: []value.Scalar{value.String("Ann B.")}}}, current)
}

type failingTarget struct {
	calls int
}

func (f *failingTarget) Apply(context.Context, catalog.Schema, *mutation.Transaction) error {
	f.calls++
	return errors.New("connection reset")
}

func TestReplayStopsOnFirstFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transactions.jsonl")
	recordPeopleLog(t, path)

	log := logger.NewLogger(false)
	f, err := feed.NewFileFeed("", path, log)
	require.NoError(t, err)
	st := store.New(log)
	target := &failingTarget{}

	applied, err := replay(context.Background(), f, st, writeback.NewHandler(st, target, nil, log))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 0, applied)
	assert.Equal(t, 1, target.calls)
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	NewService(&out).printReport(&reconcile.Report{
		RunID:    "run-1",
		Started:  started,
		Finished: started.Add(1500 * time.Millisecond),
		Tables: []reconcile.TableResult{
			{Source: "crm_customers", Target: "customers", Status: reconcile.StatusSynced, Rows: 2, CoercedColumns: []string{"signed_up"}},
			{Source: "crm_logs", Target: "logs", Status: reconcile.StatusNoPrimaryKey},
			{Source: "crm_orders", Target: "orders", Status: reconcile.StatusFailed, Err: errors.New("timeout")},
		},
	})

	printed := out.String()
	assert.Contains(t, printed, "Reconciliation run-1 finished in 1.5s")
	assert.Contains(t, printed, "crm_customers -> customers: synced (2 rows), coerced to text: signed_up")
	assert.Contains(t, printed, "crm_logs -> logs: no primary key")
	assert.Contains(t, printed, "crm_orders -> orders: failed: timeout")
	assert.Contains(t, printed, "Synced: 1, skipped: 1, failed: 1")
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "  ", "b", "c"))
	assert.Equal(t, "", firstNonEmpty())
}
