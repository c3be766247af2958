package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirbelkuyu/dbsync/internal/batch"
	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
	"github.com/kadirbelkuyu/dbsync/internal/pkresolve"
	"github.com/kadirbelkuyu/dbsync/internal/reconcile"
	"github.com/kadirbelkuyu/dbsync/internal/store"
	"github.com/kadirbelkuyu/dbsync/internal/value"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

func createPeople() *mutation.CreateTable {
	return &mutation.CreateTable{Descriptor: catalog.TableDescriptor{
		UUID: "T",
		Name: "people",
		Columns: []catalog.ColumnDescriptor{
			{UUID: "K", Name: catalog.KeyColumn, DataType: catalog.Int64},
			{UUID: "C1", Name: "name", DataType: catalog.String, Nullable: true},
		},
	}}
}

func insertPerson(key int64, name string) *mutation.InsertRows {
	return &mutation.InsertRows{TableUUID: "T", ColumnMapping: []string{"C1"}, Rows: []mutation.Row{{Key: key, Values: []value.Scalar{value.String(name)}}}}
}

func TestCommitVersionsRowsAndCatalog(t *testing.T) {
	s := store.New(logger.NewLogger(false))
	ctx := context.Background()

	tx1, err := s.Commit([]mutation.Mutation{createPeople(), insertPerson(1, "Ann")}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tx1.LogicalTimestamp)
	assert.NotEmpty(t, tx1.ID)

	_, err = s.Commit([]mutation.Mutation{
		&mutation.UpdateRows{TableUUID: "T", ColumnMapping: []string{"C1"}, Rows: []mutation.Row{{Key: 1, Values: []value.Scalar{value.String("Bob")}}}},
		&mutation.RenameColumn{TableUUID: "T", ColumnUUID: "C1", NewName: "full_name"},
	}, nil)
	require.NoError(t, err)

	_, err = s.Commit([]mutation.Mutation{&mutation.DeleteRows{TableUUID: "T", Keys: []int64{1}}}, nil)
	require.NoError(t, err)

	rows, err := s.LookupRows(ctx, pkresolve.Request{Table: "people", Columns: []string{"name"}, Keys: []int64{1, 2}, AsOf: 1})
	require.NoError(t, err)
	assert.Equal(t, []mutation.Row{{Key: 1, Values: []value.Scalar{value.String("Ann")}}}, rows)

	rows, err = s.LookupRows(ctx, pkresolve.Request{Table: "people", Columns: []string{"full_name"}, Keys: []int64{1}, AsOf: 2})
	require.NoError(t, err)
	assert.Equal(t, []mutation.Row{{Key: 1, Values: []value.Scalar{value.String("Bob")}}}, rows)

	rows, err = s.LookupRows(ctx, pkresolve.Request{Table: "people", Columns: []string{"full_name"}, Keys: []int64{1}, AsOf: 3})
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = s.LookupRows(ctx, pkresolve.Request{Table: "people", Columns: []string{"name"}, Keys: []int64{1}, AsOf: 3})
	require.ErrorIs(t, err, catalog.ErrUnknownColumn)

	_, err = s.LookupRows(ctx, pkresolve.Request{Table: "people", Columns: []string{"name"}, Keys: []int64{1}, AsOf: 0})
	require.ErrorIs(t, err, catalog.ErrUnknownTable)

	before, err := s.SchemaAt(ctx, 1)
	require.NoError(t, err)
	people, err := before.Table("T")
	require.NoError(t, err)
	_, ok := people.ColumnByName("name")
	assert.True(t, ok)
}

func TestCommitIsAtomic(t *testing.T) {
	s := store.New(logger.NewLogger(false))

	_, err := s.Commit([]mutation.Mutation{createPeople(), insertPerson(1, "Ann")}, nil)
	require.NoError(t, err)

	_, err = s.Commit([]mutation.Mutation{insertPerson(2, "Cy"), insertPerson(1, "again")}, nil)
	require.ErrorIs(t, err, store.ErrRowExists)

	_, err = s.Commit([]mutation.Mutation{&mutation.DropColumn{TableUUID: "T", ColumnUUID: "missing"}}, nil)
	require.ErrorIs(t, err, catalog.ErrUnknownColumn)

	_, err = s.Commit([]mutation.Mutation{&mutation.UpdateRows{TableUUID: "T", ColumnMapping: []string{"C1"}, Rows: []mutation.Row{{Key: 9, Values: []value.Scalar{value.Null()}}}}}, nil)
	require.ErrorIs(t, err, store.ErrUnknownRow)

	names, rows, err := s.Rows("people")
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, names)
	assert.Equal(t, []mutation.Row{{Key: 1, Values: []value.Scalar{value.String("Ann")}}}, rows)
	assert.Len(t, s.Transactions(), 1)
}

func customerBatch(t *testing.T, rows ...[]value.Scalar) *batch.Batch {
	t.Helper()

	b, err := batch.Encode([]batch.Column{
		{Name: "id", Type: catalog.Int64},
		{Name: "name", Type: catalog.String},
	}, rows)
	require.NoError(t, err)
	return b
}

func customer(id int64, name string) []value.Scalar {
	return []value.Scalar{value.Int(id), value.String(name)}
}

func syncRequest(b *batch.Batch, deleteExtraRows bool) reconcile.TableSyncRequest {
	return reconcile.TableSyncRequest{
		TableName:              "customers",
		Batch:                  b,
		PrimaryKeyColumnNames:  []string{"id"},
		DeleteExtraRows:        deleteExtraRows,
		TransactionAnnotations: map[string]string{mutation.SelfSyncAnnotation: "true"},
	}
}

func TestTableSyncUpsertsByPrimaryKey(t *testing.T) {
	s := store.New(logger.NewLogger(false))
	ctx := context.Background()

	require.NoError(t, s.TableSync(ctx, syncRequest(customerBatch(t, customer(10, "Ann"), customer(20, "Bob")), false)))

	txs := s.Transactions()
	require.Len(t, txs, 1)
	assert.True(t, txs[0].IsSelfSync())
	require.Len(t, txs[0].Mutations, 2)
	assert.Equal(t, mutation.KindCreateTable, txs[0].Mutations[0].Kind())
	assert.Equal(t, mutation.KindInsertRows, txs[0].Mutations[1].Kind())

	names, rows, err := s.Rows("customers")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, names)
	assert.Equal(t, []mutation.Row{
		{Key: 1, Values: customer(10, "Ann")},
		{Key: 2, Values: customer(20, "Bob")},
	}, rows)

	// Identical snapshot: nothing to commit.
	require.NoError(t, s.TableSync(ctx, syncRequest(customerBatch(t, customer(10, "Ann"), customer(20, "Bob")), false)))
	assert.Len(t, s.Transactions(), 1)

	// Changed row keeps its key, new row gets a fresh one.
	require.NoError(t, s.TableSync(ctx, syncRequest(customerBatch(t, customer(20, "Bobby"), customer(30, "Cy")), false)))
	_, rows, err = s.Rows("customers")
	require.NoError(t, err)
	assert.Equal(t, []mutation.Row{
		{Key: 1, Values: customer(10, "Ann")},
		{Key: 2, Values: customer(20, "Bobby")},
		{Key: 3, Values: customer(30, "Cy")},
	}, rows)
}

func TestTableSyncDeleteExtraRows(t *testing.T) {
	tests := []struct {
		name            string
		deleteExtraRows bool
		want            []mutation.Row
	}{
		{
			name: "kept when disabled",
			want: []mutation.Row{{Key: 1, Values: customer(10, "Ann")}, {Key: 2, Values: customer(20, "Bob")}},
		},
		{
			name:            "deleted when enabled",
			deleteExtraRows: true,
			want:            []mutation.Row{{Key: 2, Values: customer(20, "Bob")}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.New(logger.NewLogger(false))
			ctx := context.Background()

			require.NoError(t, s.TableSync(ctx, syncRequest(customerBatch(t, customer(10, "Ann"), customer(20, "Bob")), false)))
			require.NoError(t, s.TableSync(ctx, syncRequest(customerBatch(t, customer(20, "Bob")), tt.deleteExtraRows)))

			_, rows, err := s.Rows("customers")
			require.NoError(t, err)
			assert.Equal(t, tt.want, rows)
		})
	}
}

func TestTableSyncColumns(t *testing.T) {
	s := store.New(logger.NewLogger(false))
	ctx := context.Background()

	require.NoError(t, s.TableSync(ctx, syncRequest(customerBatch(t, customer(10, "Ann")), false)))

	withEmail, err := batch.Encode([]batch.Column{
		{Name: "id", Type: catalog.Int64},
		{Name: "email", Type: catalog.String},
	}, [][]value.Scalar{{value.Int(10), value.String("ann@example.com")}})
	require.NoError(t, err)

	req := syncRequest(withEmail, false)
	require.NoError(t, s.TableSync(ctx, req))
	names, rows, err := s.Rows("customers")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "email"}, names)
	assert.Equal(t, []value.Scalar{value.Int(10), value.String("Ann"), value.String("ann@example.com")}, rows[0].Values)

	req.DropExtraColumns = true
	require.NoError(t, s.TableSync(ctx, req))
	names, _, err = s.Rows("customers")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "email"}, names)
}

func TestTableSyncSkipsNullAndDuplicateKeys(t *testing.T) {
	s := store.New(logger.NewLogger(false))

	b := customerBatch(t, customer(10, "Ann"), []value.Scalar{value.Null(), value.String("nobody")}, customer(10, "dup"))
	require.NoError(t, s.TableSync(context.Background(), syncRequest(b, false)))

	_, rows, err := s.Rows("customers")
	require.NoError(t, err)
	assert.Equal(t, []mutation.Row{{Key: 1, Values: customer(10, "Ann")}}, rows)
}

func TestTableSyncRejectsInvalidRequests(t *testing.T) {
	s := store.New(logger.NewLogger(false))
	ctx := context.Background()

	req := syncRequest(customerBatch(t, customer(1, "a")), false)
	req.PrimaryKeyColumnNames = []string{"missing"}
	require.Error(t, s.TableSync(ctx, req))

	req = syncRequest(customerBatch(t, customer(1, "a")), false)
	req.TableName = "Order Data!"
	require.Error(t, s.TableSync(ctx, req))

	assert.Empty(t, s.Transactions())
}

func TestSubscribeDeliversBacklogThenNewTransactions(t *testing.T) {
	s := store.New(logger.NewLogger(false))
	_, err := s.Commit([]mutation.Mutation{createPeople()}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan int64, 2)
	done := make(chan error, 1)
	go func() {
		done <- s.Subscribe(ctx, func(tx *mutation.Transaction) error {
			received <- tx.LogicalTimestamp
			if tx.LogicalTimestamp == 2 {
				cancel()
			}
			return nil
		})
	}()

	assert.Equal(t, int64(1), <-received)
	_, err = s.Commit([]mutation.Mutation{insertPerson(1, "Ann")}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), <-received)
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSubscribeStopsOnHandlerError(t *testing.T) {
	s := store.New(logger.NewLogger(false))
	_, err := s.Commit([]mutation.Mutation{createPeople()}, nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Subscribe(context.Background(), func(*mutation.Transaction) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestBackfillIDs(t *testing.T) {
	s := store.New(logger.NewLogger(false))
	_, err := s.Commit([]mutation.Mutation{createPeople(), insertPerson(1, "Ann"), insertPerson(2, "Bob")}, nil)
	require.NoError(t, err)
	_, err = s.Commit([]mutation.Mutation{&mutation.DeleteRows{TableUUID: "T", Keys: []int64{2}}}, nil)
	require.NoError(t, err)

	require.NoError(t, s.BackfillIDs(context.Background(), "people", "_id", map[int64]string{1: "abc", 2: "gone"}))

	txs := s.Transactions()
	require.Len(t, txs, 3)
	assert.True(t, txs[2].IsSelfSync())

	names, rows, err := s.Rows("people")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "_id"}, names)
	assert.Equal(t, []mutation.Row{{Key: 1, Values: []value.Scalar{value.String("Ann"), value.String("abc")}}}, rows)
}

func TestApplyKeepsRecordedIdentity(t *testing.T) {
	initial, err := catalog.NewSchema(createPeople().Descriptor)
	require.NoError(t, err)
	s := store.NewWithCatalog(initial, logger.NewLogger(false))

	require.NoError(t, s.Apply(&mutation.Transaction{ID: "recorded-1", LogicalTimestamp: 7, Mutations: []mutation.Mutation{insertPerson(1, "Ann")}}))
	err = s.Apply(&mutation.Transaction{ID: "late", LogicalTimestamp: 7})
	require.Error(t, err)

	txs := s.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, "recorded-1", txs[0].ID)
	assert.Equal(t, int64(7), txs[0].LogicalTimestamp)

	rows, err := s.LookupRows(context.Background(), pkresolve.Request{Table: "people", Columns: []string{"name"}, Keys: []int64{1}, AsOf: 6})
	require.NoError(t, err)
	assert.Empty(t, rows)

	tx, err := s.Commit([]mutation.Mutation{insertPerson(2, "Bob")}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(8), tx.LogicalTimestamp)
}
