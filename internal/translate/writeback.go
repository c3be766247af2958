package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/dialect"
	"github.com/kadirbelkuyu/dbsync/internal/mapping"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
	"github.com/kadirbelkuyu/dbsync/internal/schema"
	"github.com/kadirbelkuyu/dbsync/internal/value"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

// KeyResolver maps internal row keys of an internal table to the values of
// keyColumns as of the given logical timestamp. Keys it cannot resolve are
// absent from the result.
type KeyResolver interface {
	Resolve(ctx context.Context, asOf int64, table string, keyColumns []string, keys []int64) (map[int64][]value.Scalar, error)
}

// Writeback writes row changes of mapped internal tables back to their
// external source tables, addressing rows by external primary key.
type Writeback struct {
	dialect  dialect.Dialect
	mapping  *mapping.TableMapping
	tables   map[string]schema.Table
	resolver KeyResolver
	logger   *logger.Logger
}

// NewWriteback builds a writeback translator. tables holds the columns and
// primary keys of each external table, as fetched for this transaction.
// Table names are qualified by the dialect's schema.
func NewWriteback(d dialect.Dialect, m *mapping.TableMapping, tables map[string]schema.Table, resolver KeyResolver, log *logger.Logger) *Writeback {
	return &Writeback{
		dialect:  d,
		mapping:  m,
		tables:   tables,
		resolver: resolver,
		logger:   log,
	}
}

// Translate converts tx into statements against the external tables. s must
// be the catalog as of the moment before tx.
func (w *Writeback) Translate(ctx context.Context, s catalog.Schema, tx *mutation.Transaction) ([]dialect.Statement, error) {
	return fold(s, tx, &writebackStep{Writeback: w, ctx: ctx, tx: tx, before: s})
}

type writebackStep struct {
	*Writeback
	ctx context.Context
	tx  *mutation.Transaction
	// before is the catalog key lookups run against; schema follows the fold.
	before catalog.Schema
	schema catalog.Schema
	out    []dialect.Statement
}

func (v *writebackStep) advance(s catalog.Schema)        { v.schema = s }
func (v *writebackStep) statements() []dialect.Statement { return v.out }

// target resolves the internal table and its external counterpart. ok is
// false for tables outside the mapping.
func (v *writebackStep) target(uuid string) (catalog.TableDescriptor, string, bool, error) {
	table, err := v.schema.Table(uuid)
	if err != nil {
		return catalog.TableDescriptor{}, "", false, err
	}
	external, ok := v.mapping.Source(table.Name)
	return table, external, ok, nil
}

// userColumns resolves a column mapping, leaving out system columns and
// internal-only columns the external table does not have.
func (v *writebackStep) userColumns(table catalog.TableDescriptor, external string, uuids []string) ([]catalog.ColumnDescriptor, []string, []int, error) {
	columns, err := resolveColumns(table, uuids)
	if err != nil {
		return nil, nil, nil, err
	}
	var (
		kept    []catalog.ColumnDescriptor
		names   []string
		indexes []int
	)
	for i, col := range columns {
		if col.IsSystem() {
			continue
		}
		if !v.tables[external].HasColumn(col.Name) {
			v.logger.WithFields(logrus.Fields{"table": external, "column": col.Name}).
				Warn("Column does not exist in external table, skipping it")
			continue
		}
		name, err := v.dialect.Ident(col.Name)
		if err != nil {
			return nil, nil, nil, err
		}
		kept = append(kept, col)
		names = append(names, name)
		indexes = append(indexes, i)
	}
	return kept, names, indexes, nil
}

// keyColumns returns the external primary key columns of external together
// with the matching internal descriptors. ok is false when rows of the table
// cannot be addressed.
func (v *writebackStep) keyColumns(table catalog.TableDescriptor, external string) ([]catalog.ColumnDescriptor, bool) {
	names := v.tables[external].PrimaryKeys
	if len(names) == 0 {
		v.logger.WithField("table", external).Warn("External table has no primary key, skipping row changes")
		return nil, false
	}
	columns := make([]catalog.ColumnDescriptor, 0, len(names))
	for _, name := range names {
		col, ok := table.ColumnByName(name)
		if !ok {
			v.logger.WithFields(logrus.Fields{"table": external, "column": name}).
				Warn("Primary key column is not synced to the internal table, skipping row changes")
			return nil, false
		}
		columns = append(columns, col)
	}
	return columns, true
}

// resolve looks keys up as of the moment before the transaction, under the
// table and column names of that moment. Tables and key columns created by
// the transaction itself have nothing to resolve.
func (v *writebackStep) resolve(table catalog.TableDescriptor, keyColumns []catalog.ColumnDescriptor, keys []int64) (map[int64][]value.Scalar, error) {
	prior, err := v.before.Table(table.UUID)
	if err != nil {
		return map[int64][]value.Scalar{}, nil
	}
	names := make([]string, len(keyColumns))
	for i, col := range keyColumns {
		priorCol, err := prior.Column(col.UUID)
		if err != nil {
			return map[int64][]value.Scalar{}, nil
		}
		names[i] = priorCol.Name
	}
	resolved, err := v.resolver.Resolve(v.ctx, v.tx.LogicalTimestamp-1, prior.Name, names, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve primary keys of %s: %w", table.Name, err)
	}
	return resolved, nil
}

func (v *writebackStep) where(keyColumns []catalog.ColumnDescriptor, values []value.Scalar) (string, error) {
	if len(values) != len(keyColumns) {
		return "", fmt.Errorf("resolved %d primary key values for %d columns", len(values), len(keyColumns))
	}
	conditions := make([]string, 0, len(keyColumns))
	for i, col := range keyColumns {
		name, err := v.dialect.Ident(col.Name)
		if err != nil {
			return "", err
		}
		lit, err := v.dialect.Literal(values[i], col.DataType)
		if err != nil {
			return "", err
		}
		if values[i].IsNull() {
			conditions = append(conditions, name+" is null")
			continue
		}
		conditions = append(conditions, name+" = "+lit)
	}
	return strings.Join(conditions, " and "), nil
}

func (v *writebackStep) skipMissing(external string, key int64) {
	v.logger.WithFields(logrus.Fields{"table": external, "key": key, "transaction": v.tx.ID}).
		Warn("No primary key found for row, skipping")
}

func (v *writebackStep) VisitInsertRows(m *mutation.InsertRows) error {
	table, external, ok, err := v.target(m.TableUUID)
	if err != nil || !ok {
		return err
	}
	columns, names, indexes, err := v.userColumns(table, external, m.ColumnMapping)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		v.logger.WithField("table", external).Warn("Insert carries no external columns, skipping")
		return nil
	}
	tableName, err := v.dialect.Table(external)
	if err != nil {
		return err
	}

	for _, row := range m.Rows {
		if err := checkWidth(row, len(m.ColumnMapping)); err != nil {
			return err
		}
		literals := make([]string, 0, len(columns))
		for i, col := range columns {
			lit, err := v.dialect.Literal(row.Values[indexes[i]], col.DataType)
			if err != nil {
				return fmt.Errorf("row %d column %s: %w", row.Key, col.Name, err)
			}
			literals = append(literals, lit)
		}
		v.out = append(v.out, dialect.Statement{SQL: fmt.Sprintf("insert into %s (%s) values (%s)",
			tableName, strings.Join(names, ", "), strings.Join(literals, ", "))})
	}
	return nil
}

func (v *writebackStep) VisitUpdateRows(m *mutation.UpdateRows) error {
	table, external, ok, err := v.target(m.TableUUID)
	if err != nil || !ok {
		return err
	}
	columns, names, indexes, err := v.userColumns(table, external, m.ColumnMapping)
	if err != nil {
		return err
	}
	for _, row := range m.Rows {
		if err := checkWidth(row, len(m.ColumnMapping)); err != nil {
			return err
		}
	}
	if len(columns) == 0 || len(m.Rows) == 0 {
		return nil
	}
	keyColumns, ok := v.keyColumns(table, external)
	if !ok {
		return nil
	}
	keys := make([]int64, len(m.Rows))
	for i, row := range m.Rows {
		keys[i] = row.Key
	}
	resolved, err := v.resolve(table, keyColumns, keys)
	if err != nil {
		return err
	}
	tableName, err := v.dialect.Table(external)
	if err != nil {
		return err
	}

	for _, row := range m.Rows {
		pk, ok := resolved[row.Key]
		if !ok {
			v.skipMissing(external, row.Key)
			continue
		}
		assignments := make([]string, 0, len(columns))
		for i, col := range columns {
			lit, err := v.dialect.Literal(row.Values[indexes[i]], col.DataType)
			if err != nil {
				return fmt.Errorf("row %d column %s: %w", row.Key, col.Name, err)
			}
			assignments = append(assignments, names[i]+" = "+lit)
		}
		where, err := v.where(keyColumns, pk)
		if err != nil {
			return fmt.Errorf("row %d: %w", row.Key, err)
		}
		v.out = append(v.out, dialect.Statement{SQL: fmt.Sprintf("update %s set %s where %s",
			tableName, strings.Join(assignments, ", "), where)})
	}
	return nil
}

func (v *writebackStep) VisitDeleteRows(m *mutation.DeleteRows) error {
	table, external, ok, err := v.target(m.TableUUID)
	if err != nil || !ok || len(m.Keys) == 0 {
		return err
	}
	keyColumns, ok := v.keyColumns(table, external)
	if !ok {
		return nil
	}
	resolved, err := v.resolve(table, keyColumns, m.Keys)
	if err != nil {
		return err
	}
	tableName, err := v.dialect.Table(external)
	if err != nil {
		return err
	}

	for _, key := range m.Keys {
		pk, ok := resolved[key]
		if !ok {
			v.skipMissing(external, key)
			continue
		}
		where, err := v.where(keyColumns, pk)
		if err != nil {
			return fmt.Errorf("row %d: %w", key, err)
		}
		v.out = append(v.out, dialect.Statement{SQL: fmt.Sprintf("delete from %s where %s", tableName, where)})
	}
	return nil
}

// The external schema is owned by the external store: structural mutations
// are only checked against the catalog.

func (v *writebackStep) VisitAddColumn(m *mutation.AddColumn) error {
	_, _, _, err := v.target(m.TableUUID)
	return err
}

func (v *writebackStep) VisitDropColumn(m *mutation.DropColumn) error {
	return v.checkColumn(m.TableUUID, m.ColumnUUID)
}

func (v *writebackStep) VisitRenameColumn(m *mutation.RenameColumn) error {
	return v.checkColumn(m.TableUUID, m.ColumnUUID)
}

func (v *writebackStep) VisitChangeColumnNullable(m *mutation.ChangeColumnNullable) error {
	return v.checkColumn(m.TableUUID, m.ColumnUUID)
}

func (v *writebackStep) VisitCreateTable(*mutation.CreateTable) error { return nil }

func (v *writebackStep) VisitDropTable(m *mutation.DropTable) error {
	_, _, _, err := v.target(m.TableUUID)
	return err
}

func (v *writebackStep) VisitRenameTable(m *mutation.RenameTable) error {
	table, external, ok, err := v.target(m.TableUUID)
	if err != nil {
		return err
	}
	if ok {
		v.logger.WithFields(logrus.Fields{"table": table.Name, "external": external, "new_name": m.NewName}).
			Warn("Mapped internal table renamed, later changes are not written back until the mapping is updated")
	}
	return nil
}

func (v *writebackStep) VisitSetTableAnnotation(*mutation.SetTableAnnotation) error   { return nil }
func (v *writebackStep) VisitSetColumnAnnotation(*mutation.SetColumnAnnotation) error { return nil }
func (v *writebackStep) VisitReorderColumns(*mutation.ReorderColumns) error           { return nil }

func (v *writebackStep) checkColumn(tableUUID, columnUUID string) error {
	table, err := v.schema.Table(tableUUID)
	if err != nil {
		return err
	}
	_, err = table.Column(columnUUID)
	return err
}
