package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/ident"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
	"github.com/kadirbelkuyu/dbsync/internal/reconcile"
	"github.com/kadirbelkuyu/dbsync/internal/value"
)

// TableSync upserts the batch rows into the named table, matching existing
// rows by primary key values. Missing tables and columns are created; rows
// and columns absent from the batch are removed only when the request asks
// for it. The changes are committed as one transaction carrying the request's
// annotations, and nothing is committed when the table already matches.
func (s *Store) TableSync(_ context.Context, req reconcile.TableSyncRequest) error {
	if req.Batch == nil {
		return fmt.Errorf("table sync of %s has no batch", req.TableName)
	}
	rows, err := req.Batch.Decode()
	if err != nil {
		return fmt.Errorf("failed to decode batch for %s: %w", req.TableName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.planTableSync(req, rows)
	if err != nil {
		return fmt.Errorf("failed to plan table sync of %s: %w", req.TableName, err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"table":    req.TableName,
		"inserted": plan.inserted,
		"updated":  plan.updated,
		"deleted":  plan.deleted,
	})
	if plan.skipped > 0 {
		log.Warnf("Skipped %d rows with null or duplicate primary keys", plan.skipped)
	}
	if len(plan.mutations) == 0 {
		log.Debug("Table already in sync")
		return nil
	}

	tx, err := s.commitLocked(uuid.NewString(), s.clock+1, plan.mutations, req.TransactionAnnotations)
	if err != nil {
		return fmt.Errorf("failed to commit table sync of %s: %w", req.TableName, err)
	}
	log.WithField("transaction", tx.ID).Info("Table sync committed")
	return nil
}

type syncPlan struct {
	mutations []mutation.Mutation
	inserted  int
	updated   int
	deleted   int
	skipped   int
}

func (s *Store) planTableSync(req reconcile.TableSyncRequest, rows [][]value.Scalar) (*syncPlan, error) {
	if err := ident.ValidateTableName(req.TableName); err != nil {
		return nil, err
	}
	if len(req.PrimaryKeyColumnNames) == 0 {
		return nil, errors.New("no primary key columns")
	}

	names := req.Batch.Names()
	inBatch := make(map[string]bool, len(names))
	for _, name := range names {
		if err := ident.ValidateIdentifier(name); err != nil {
			return nil, err
		}
		if name == catalog.KeyColumn || name == catalog.OrdinalColumn {
			return nil, fmt.Errorf("column %s is reserved", name)
		}
		if inBatch[name] {
			return nil, fmt.Errorf("%w: %s", catalog.ErrDuplicateColumn, name)
		}
		inBatch[name] = true
	}
	for _, pk := range req.PrimaryKeyColumnNames {
		if !inBatch[pk] {
			return nil, fmt.Errorf("primary key column %s is not in the batch", pk)
		}
	}

	plan := &syncPlan{}
	schema, _ := s.history.Latest()
	table, exists := schema.TableByName(req.TableName)
	if !exists {
		table = catalog.TableDescriptor{
			UUID:    uuid.NewString(),
			Name:    req.TableName,
			Columns: []catalog.ColumnDescriptor{{UUID: uuid.NewString(), Name: catalog.KeyColumn, DataType: catalog.Int64}},
		}
		for _, col := range req.Batch.Columns {
			table.Columns = append(table.Columns, catalog.ColumnDescriptor{UUID: uuid.NewString(), Name: col.Name, DataType: col.Type, Nullable: true})
		}
		plan.mutations = append(plan.mutations, &mutation.CreateTable{Descriptor: table})
	} else {
		for _, col := range req.Batch.Columns {
			if _, ok := table.ColumnByName(col.Name); ok {
				continue
			}
			added := catalog.ColumnDescriptor{UUID: uuid.NewString(), Name: col.Name, DataType: col.Type, Nullable: true}
			plan.mutations = append(plan.mutations, &mutation.AddColumn{TableUUID: table.UUID, Column: added})
			table = table.WithColumn(added)
		}
		if req.DropExtraColumns {
			for _, col := range table.Columns {
				if col.IsSystem() || inBatch[col.Name] {
					continue
				}
				plan.mutations = append(plan.mutations, &mutation.DropColumn{TableUUID: table.UUID, ColumnUUID: col.UUID})
				table = table.WithoutColumn(col.UUID)
			}
		}
	}

	columnIDs := make([]string, len(names))
	for i, name := range names {
		col, _ := table.ColumnByName(name)
		columnIDs[i] = col.UUID
	}
	pkIDs := make([]string, len(req.PrimaryKeyColumnNames))
	for i, name := range req.PrimaryKeyColumnNames {
		col, _ := table.ColumnByName(name)
		pkIDs[i] = col.UUID
	}

	existing := make(map[string]int64)
	current := s.current(table.UUID)
	for key, values := range current {
		tuple := make([]value.Scalar, len(pkIDs))
		for i, id := range pkIDs {
			tuple[i] = values[id]
		}
		if hasNull(tuple) {
			continue
		}
		id, err := tupleKey(tuple)
		if err != nil {
			return nil, err
		}
		existing[id] = key
	}

	var (
		inserts []mutation.Row
		updates []mutation.Row
		matched = make(map[int64]bool)
		seen    = make(map[string]bool)
		nextKey = s.nextKey
	)
	for _, row := range rows {
		tuple := make([]value.Scalar, len(pkIDs))
		for i, id := range pkIDs {
			tuple[i] = row[indexOf(columnIDs, id)]
		}
		id, err := tupleKey(tuple)
		if err != nil {
			return nil, err
		}
		if hasNull(tuple) || seen[id] {
			plan.skipped++
			continue
		}
		seen[id] = true

		key, ok := existing[id]
		if !ok {
			inserts = append(inserts, mutation.Row{Key: nextKey, Values: row})
			nextKey++
			continue
		}
		matched[key] = true
		if changed(current[key], columnIDs, row) {
			updates = append(updates, mutation.Row{Key: key, Values: row})
		}
	}

	if len(inserts) > 0 {
		plan.mutations = append(plan.mutations, &mutation.InsertRows{TableUUID: table.UUID, ColumnMapping: columnIDs, Rows: inserts})
	}
	if len(updates) > 0 {
		sort.Slice(updates, func(i, j int) bool { return updates[i].Key < updates[j].Key })
		plan.mutations = append(plan.mutations, &mutation.UpdateRows{TableUUID: table.UUID, ColumnMapping: columnIDs, Rows: updates})
	}
	var deletes []int64
	if req.DeleteExtraRows {
		for key := range current {
			if !matched[key] {
				deletes = append(deletes, key)
			}
		}
		sort.Slice(deletes, func(i, j int) bool { return deletes[i] < deletes[j] })
	}
	if len(deletes) > 0 {
		plan.mutations = append(plan.mutations, &mutation.DeleteRows{TableUUID: table.UUID, Keys: deletes})
	}

	plan.inserted = len(inserts)
	plan.updated = len(updates)
	plan.deleted = len(deletes)
	return plan, nil
}

func tupleKey(tuple []value.Scalar) (string, error) {
	data, err := json.Marshal(tuple)
	if err != nil {
		return "", fmt.Errorf("failed to encode primary key: %w", err)
	}
	return string(data), nil
}

func hasNull(values []value.Scalar) bool {
	for _, v := range values {
		if v.IsNull() {
			return true
		}
	}
	return false
}

func indexOf(ids []string, id string) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

func changed(current map[string]value.Scalar, columnIDs []string, row []value.Scalar) bool {
	for i, id := range columnIDs {
		if current[id] != row[i] {
			return true
		}
	}
	return false
}

// BackfillIDs stores externally generated ids on the given rows, adding the
// column when the table lacks it. The transaction is marked as produced by
// reconciliation so it is not written back again. Rows deleted in the
// meantime are left out.
func (s *Store) BackfillIDs(_ context.Context, table, column string, ids map[int64]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema, _ := s.history.Latest()
	t, ok := schema.TableByName(table)
	if !ok {
		return fmt.Errorf("%w: %s", catalog.ErrUnknownTable, table)
	}

	var mutations []mutation.Mutation
	col, ok := t.ColumnByName(column)
	if !ok {
		col = catalog.ColumnDescriptor{UUID: uuid.NewString(), Name: column, DataType: catalog.String, Nullable: true}
		mutations = append(mutations, &mutation.AddColumn{TableUUID: t.UUID, Column: col})
	}

	current := s.current(t.UUID)
	update := &mutation.UpdateRows{TableUUID: t.UUID, ColumnMapping: []string{col.UUID}}
	for key, id := range ids {
		if _, live := current[key]; live {
			update.Rows = append(update.Rows, mutation.Row{Key: key, Values: []value.Scalar{value.String(id)}})
		}
	}
	if len(update.Rows) == 0 {
		return nil
	}
	sort.Slice(update.Rows, func(i, j int) bool { return update.Rows[i].Key < update.Rows[j].Key })
	mutations = append(mutations, update)

	tx, err := s.commitLocked(uuid.NewString(), s.clock+1, mutations, map[string]string{mutation.SelfSyncAnnotation: "true"})
	if err != nil {
		return fmt.Errorf("failed to commit id backfill of %s: %w", table, err)
	}
	s.logger.WithFields(logrus.Fields{"table": table, "rows": len(update.Rows), "transaction": tx.ID}).Debug("Ids backfilled")
	return nil
}
