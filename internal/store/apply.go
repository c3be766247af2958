package store

import (
	"errors"
	"fmt"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
	"github.com/kadirbelkuyu/dbsync/internal/value"
)

var (
	ErrRowExists  = errors.New("row already exists")
	ErrUnknownRow = errors.New("unknown row")
)

// applier stages the row changes of one transaction. schema is the catalog
// before the mutation being visited.
type applier struct {
	store  *Store
	schema catalog.Schema
	staged map[string]map[int64]rowVersion
}

func (a *applier) latest(tableUUID string, key int64) (rowVersion, bool) {
	if v, ok := a.staged[tableUUID][key]; ok {
		return v, !v.deleted
	}
	versions := a.store.rows[tableUUID][key]
	if len(versions) == 0 {
		return rowVersion{}, false
	}
	v := versions[len(versions)-1]
	return v, !v.deleted
}

func (a *applier) stage(tableUUID string, key int64, v rowVersion) {
	rows, ok := a.staged[tableUUID]
	if !ok {
		rows = make(map[int64]rowVersion)
		a.staged[tableUUID] = rows
	}
	rows[key] = v
}

func (a *applier) columns(tableUUID string, mapping []string) error {
	t, err := a.schema.Table(tableUUID)
	if err != nil {
		return err
	}
	for _, id := range mapping {
		if _, err := t.Column(id); err != nil {
			return err
		}
	}
	return nil
}

func assign(values map[string]value.Scalar, mapping []string, row mutation.Row) (map[string]value.Scalar, error) {
	if len(row.Values) != len(mapping) {
		return nil, fmt.Errorf("row %d has %d values for %d columns", row.Key, len(row.Values), len(mapping))
	}
	out := make(map[string]value.Scalar, len(values)+len(mapping))
	for id, v := range values {
		out[id] = v
	}
	for i, id := range mapping {
		out[id] = row.Values[i]
	}
	return out, nil
}

func (a *applier) VisitInsertRows(m *mutation.InsertRows) error {
	if err := a.columns(m.TableUUID, m.ColumnMapping); err != nil {
		return err
	}
	for _, row := range m.Rows {
		if _, exists := a.latest(m.TableUUID, row.Key); exists {
			return fmt.Errorf("%w: %d", ErrRowExists, row.Key)
		}
		values, err := assign(nil, m.ColumnMapping, row)
		if err != nil {
			return err
		}
		a.stage(m.TableUUID, row.Key, rowVersion{values: values})
	}
	return nil
}

func (a *applier) VisitUpdateRows(m *mutation.UpdateRows) error {
	if err := a.columns(m.TableUUID, m.ColumnMapping); err != nil {
		return err
	}
	for _, row := range m.Rows {
		current, exists := a.latest(m.TableUUID, row.Key)
		if !exists {
			return fmt.Errorf("%w: %d", ErrUnknownRow, row.Key)
		}
		values, err := assign(current.values, m.ColumnMapping, row)
		if err != nil {
			return err
		}
		a.stage(m.TableUUID, row.Key, rowVersion{values: values})
	}
	return nil
}

func (a *applier) VisitDeleteRows(m *mutation.DeleteRows) error {
	if _, err := a.schema.Table(m.TableUUID); err != nil {
		return err
	}
	for _, key := range m.Keys {
		if _, exists := a.latest(m.TableUUID, key); !exists {
			return fmt.Errorf("%w: %d", ErrUnknownRow, key)
		}
		a.stage(m.TableUUID, key, rowVersion{deleted: true})
	}
	return nil
}

// Structural mutations only change the catalog; row values are keyed by
// column UUID and survive renames.
func (a *applier) VisitAddColumn(*mutation.AddColumn) error                       { return nil }
func (a *applier) VisitDropColumn(*mutation.DropColumn) error                     { return nil }
func (a *applier) VisitRenameColumn(*mutation.RenameColumn) error                 { return nil }
func (a *applier) VisitChangeColumnNullable(*mutation.ChangeColumnNullable) error { return nil }
func (a *applier) VisitCreateTable(*mutation.CreateTable) error                   { return nil }
func (a *applier) VisitDropTable(*mutation.DropTable) error                       { return nil }
func (a *applier) VisitRenameTable(*mutation.RenameTable) error                   { return nil }
func (a *applier) VisitSetTableAnnotation(*mutation.SetTableAnnotation) error     { return nil }
func (a *applier) VisitSetColumnAnnotation(*mutation.SetColumnAnnotation) error   { return nil }
func (a *applier) VisitReorderColumns(*mutation.ReorderColumns) error             { return nil }
