package feed_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/feed"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
	"github.com/kadirbelkuyu/dbsync/internal/value"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

func writeLog(t *testing.T, dir string, txs ...*mutation.Transaction) string {
	t.Helper()

	var buf bytes.Buffer
	r := feed.NewRecorder(&buf)
	for _, tx := range txs {
		require.NoError(t, r.Record(tx))
	}
	path := filepath.Join(dir, "transactions.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func writeCatalog(t *testing.T, dir string, s catalog.Schema) string {
	t.Helper()

	data, err := json.Marshal(s)
	require.NoError(t, err)
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFileFeedReplaysInOrder(t *testing.T) {
	dir := t.TempDir()
	initial, err := catalog.NewSchema(catalog.TableDescriptor{
		UUID:    "T",
		Name:    "people",
		Columns: []catalog.ColumnDescriptor{{UUID: "C1", Name: "name", DataType: catalog.String, Nullable: true}},
	})
	require.NoError(t, err)

	transactions := writeLog(t, dir,
		&mutation.Transaction{ID: "a", LogicalTimestamp: 1, Mutations: []mutation.Mutation{
			&mutation.InsertRows{TableUUID: "T", ColumnMapping: []string{"C1"}, Rows: []mutation.Row{{Key: 1, Values: []value.Scalar{value.String("Ann")}}}},
		}},
		&mutation.Transaction{ID: "b", LogicalTimestamp: 2, Annotations: map[string]string{mutation.SelfSyncAnnotation: "true"}, Mutations: []mutation.Mutation{
			&mutation.RenameTable{TableUUID: "T", NewName: "persons"},
		}},
	)

	f, err := feed.NewFileFeed(writeCatalog(t, dir, initial), transactions, logger.NewLogger(false))
	require.NoError(t, err)

	ctx := context.Background()
	var names []string
	err = f.Subscribe(ctx, func(tx *mutation.Transaction) error {
		before, err := f.SchemaAt(ctx, tx.LogicalTimestamp-1)
		require.NoError(t, err)
		table, err := before.Table("T")
		require.NoError(t, err)
		names = append(names, tx.ID+":"+table.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:people", "b:people"}, names)

	after, err := f.SchemaAt(ctx, 2)
	require.NoError(t, err)
	_, ok := after.TableByName("persons")
	assert.True(t, ok)
}

func TestFileFeedErrors(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	noop := func(*mutation.Transaction) error { return nil }

	t.Run("missing log", func(t *testing.T) {
		f, err := feed.NewFileFeed("", filepath.Join(dir, "missing.jsonl"), logger.NewLogger(false))
		require.NoError(t, err)
		require.Error(t, f.Subscribe(ctx, noop))
	})

	t.Run("malformed line", func(t *testing.T) {
		path := filepath.Join(dir, "bad.jsonl")
		require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0o644))
		f, err := feed.NewFileFeed("", path, logger.NewLogger(false))
		require.NoError(t, err)
		err = f.Subscribe(ctx, noop)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 1")
	})

	t.Run("unknown table", func(t *testing.T) {
		path := writeLog(t, t.TempDir(), &mutation.Transaction{ID: "x", LogicalTimestamp: 1, Mutations: []mutation.Mutation{
			&mutation.DropTable{TableUUID: "missing"},
		}})
		f, err := feed.NewFileFeed("", path, logger.NewLogger(false))
		require.NoError(t, err)
		require.ErrorIs(t, f.Subscribe(ctx, noop), catalog.ErrUnknownTable)
	})

	t.Run("handler failure", func(t *testing.T) {
		path := writeLog(t, t.TempDir(), &mutation.Transaction{ID: "x", LogicalTimestamp: 1})
		f, err := feed.NewFileFeed("", path, logger.NewLogger(false))
		require.NoError(t, err)
		boom := errors.New("boom")
		require.ErrorIs(t, f.Subscribe(ctx, func(*mutation.Transaction) error { return boom }), boom)
	})
}
