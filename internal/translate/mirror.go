package translate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/dialect"
	"github.com/kadirbelkuyu/dbsync/internal/ident"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
)

// Mirror replicates the internal catalog and its rows into a target store,
// addressing rows by the internal row key.
type Mirror struct {
	dialect dialect.Dialect
}

func NewMirror(d dialect.Dialect) *Mirror {
	return &Mirror{dialect: d}
}

// Translate converts tx into statements. s must be the catalog as of the
// moment before tx.
func (m *Mirror) Translate(s catalog.Schema, tx *mutation.Transaction) ([]dialect.Statement, error) {
	return fold(s, tx, &mirrorStep{dialect: m.dialect})
}

type mirrorStep struct {
	dialect dialect.Dialect
	schema  catalog.Schema
	out     []dialect.Statement
}

func (v *mirrorStep) advance(s catalog.Schema)        { v.schema = s }
func (v *mirrorStep) statements() []dialect.Statement { return v.out }

func (v *mirrorStep) emit(format string, args ...any) {
	v.out = append(v.out, dialect.Statement{SQL: fmt.Sprintf(format, args...)})
}

func (v *mirrorStep) tableName(name string) (string, error) {
	if err := ident.ValidateTableName(name); err != nil {
		return "", err
	}
	return v.dialect.Table(name)
}

func (v *mirrorStep) table(uuid string) (catalog.TableDescriptor, string, error) {
	table, err := v.schema.Table(uuid)
	if err != nil {
		return catalog.TableDescriptor{}, "", err
	}
	name, err := v.tableName(table.Name)
	if err != nil {
		return catalog.TableDescriptor{}, "", err
	}
	return table, name, nil
}

func (v *mirrorStep) column(table catalog.TableDescriptor, uuid string) (catalog.ColumnDescriptor, string, error) {
	col, err := table.Column(uuid)
	if err != nil {
		return catalog.ColumnDescriptor{}, "", err
	}
	name, err := v.dialect.Ident(col.Name)
	if err != nil {
		return catalog.ColumnDescriptor{}, "", err
	}
	return col, name, nil
}

// mapped resolves a column mapping, dropping the key column which mirror
// statements always address explicitly.
func (v *mirrorStep) mapped(table catalog.TableDescriptor, mapping []string) ([]catalog.ColumnDescriptor, []string, []int, error) {
	columns, err := resolveColumns(table, mapping)
	if err != nil {
		return nil, nil, nil, err
	}
	var (
		kept    []catalog.ColumnDescriptor
		names   []string
		indexes []int
	)
	for i, col := range columns {
		if col.Name == catalog.KeyColumn {
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

func (v *mirrorStep) VisitInsertRows(m *mutation.InsertRows) error {
	table, tableName, err := v.table(m.TableUUID)
	if err != nil {
		return err
	}
	columns, names, indexes, err := v.mapped(table, m.ColumnMapping)
	if err != nil {
		return err
	}
	keyName, err := v.dialect.Ident(catalog.KeyColumn)
	if err != nil {
		return err
	}
	columnList := strings.Join(append([]string{keyName}, names...), ", ")

	for _, row := range m.Rows {
		if err := checkWidth(row, len(m.ColumnMapping)); err != nil {
			return err
		}
		literals := []string{strconv.FormatInt(row.Key, 10)}
		for i, col := range columns {
			lit, err := v.dialect.Literal(row.Values[indexes[i]], col.DataType)
			if err != nil {
				return fmt.Errorf("row %d column %s: %w", row.Key, col.Name, err)
			}
			literals = append(literals, lit)
		}
		v.emit("insert into %s (%s) values (%s)", tableName, columnList, strings.Join(literals, ", "))
	}
	return nil
}

func (v *mirrorStep) VisitUpdateRows(m *mutation.UpdateRows) error {
	table, tableName, err := v.table(m.TableUUID)
	if err != nil {
		return err
	}
	columns, names, indexes, err := v.mapped(table, m.ColumnMapping)
	if err != nil {
		return err
	}
	keyName, err := v.dialect.Ident(catalog.KeyColumn)
	if err != nil {
		return err
	}

	for _, row := range m.Rows {
		if err := checkWidth(row, len(m.ColumnMapping)); err != nil {
			return err
		}
		if len(columns) == 0 {
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
		v.emit("update %s set %s where %s = %d", tableName, strings.Join(assignments, ", "), keyName, row.Key)
	}
	return nil
}

func (v *mirrorStep) VisitDeleteRows(m *mutation.DeleteRows) error {
	_, tableName, err := v.table(m.TableUUID)
	if err != nil {
		return err
	}
	keyName, err := v.dialect.Ident(catalog.KeyColumn)
	if err != nil {
		return err
	}
	for _, key := range m.Keys {
		v.emit("delete from %s where %s = %d", tableName, keyName, key)
	}
	return nil
}

func (v *mirrorStep) VisitAddColumn(m *mutation.AddColumn) error {
	_, tableName, err := v.table(m.TableUUID)
	if err != nil {
		return err
	}
	def, err := v.dialect.ColumnDefinition(m.Column)
	if err != nil {
		return err
	}
	v.emit("alter table %s add column %s", tableName, def)
	return nil
}

func (v *mirrorStep) VisitDropColumn(m *mutation.DropColumn) error {
	table, tableName, err := v.table(m.TableUUID)
	if err != nil {
		return err
	}
	_, colName, err := v.column(table, m.ColumnUUID)
	if err != nil {
		return err
	}
	v.emit("alter table %s drop column %s", tableName, colName)
	return nil
}

func (v *mirrorStep) VisitRenameColumn(m *mutation.RenameColumn) error {
	table, tableName, err := v.table(m.TableUUID)
	if err != nil {
		return err
	}
	_, from, err := v.column(table, m.ColumnUUID)
	if err != nil {
		return err
	}
	to, err := v.dialect.Ident(m.NewName)
	if err != nil {
		return err
	}
	v.emit("alter table %s rename column %s to %s", tableName, from, to)
	return nil
}

func (v *mirrorStep) VisitChangeColumnNullable(m *mutation.ChangeColumnNullable) error {
	table, _, err := v.table(m.TableUUID)
	if err != nil {
		return err
	}
	col, _, err := v.column(table, m.ColumnUUID)
	if err != nil {
		return err
	}
	col.Nullable = m.Nullable
	stmt, err := v.dialect.ChangeNullable(table.Name, col)
	if err != nil {
		return err
	}
	v.emit("%s", stmt)
	return nil
}

func (v *mirrorStep) VisitCreateTable(m *mutation.CreateTable) error {
	tableName, err := v.tableName(m.Descriptor.Name)
	if err != nil {
		return err
	}

	var defs []string
	if _, ok := m.Descriptor.ColumnByName(catalog.KeyColumn); !ok {
		def, err := v.dialect.ColumnDefinition(catalog.ColumnDescriptor{Name: catalog.KeyColumn, DataType: catalog.Int64})
		if err != nil {
			return err
		}
		defs = append(defs, def)
	}
	for _, col := range m.Descriptor.Columns {
		def, err := v.dialect.ColumnDefinition(col)
		if err != nil {
			return err
		}
		defs = append(defs, def)
	}
	v.emit("create table %s (%s)", tableName, strings.Join(defs, ", "))
	return nil
}

func (v *mirrorStep) VisitDropTable(m *mutation.DropTable) error {
	_, tableName, err := v.table(m.TableUUID)
	if err != nil {
		return err
	}
	v.emit("drop table %s", tableName)
	return nil
}

func (v *mirrorStep) VisitRenameTable(m *mutation.RenameTable) error {
	table, _, err := v.table(m.TableUUID)
	if err != nil {
		return err
	}
	if err := ident.ValidateTableName(m.NewName); err != nil {
		return err
	}
	stmt, err := v.dialect.RenameTable(table.Name, m.NewName)
	if err != nil {
		return err
	}
	v.emit("%s", stmt)
	return nil
}

// Annotations and column order have no representation in the target schema.

func (v *mirrorStep) VisitSetTableAnnotation(*mutation.SetTableAnnotation) error   { return nil }
func (v *mirrorStep) VisitSetColumnAnnotation(*mutation.SetColumnAnnotation) error { return nil }
func (v *mirrorStep) VisitReorderColumns(*mutation.ReorderColumns) error           { return nil }
