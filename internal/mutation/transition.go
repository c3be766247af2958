package mutation

import (
	"fmt"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
)

// Transition returns the schema after applying m to s. s is never modified;
// the result shares every descriptor m does not touch. Data mutations return s.
func Transition(s catalog.Schema, m Mutation) (catalog.Schema, error) {
	t := &transitioner{schema: s}
	if err := m.Accept(t); err != nil {
		return catalog.Schema{}, fmt.Errorf("failed to apply %s: %w", m.Kind(), err)
	}
	return t.schema, nil
}

// Fold threads s through every mutation in order.
func Fold(s catalog.Schema, mutations []Mutation) (catalog.Schema, error) {
	for i, m := range mutations {
		next, err := Transition(s, m)
		if err != nil {
			return catalog.Schema{}, fmt.Errorf("mutation %d: %w", i, err)
		}
		s = next
	}
	return s, nil
}

// ApplyTransaction folds tx over the latest schema of h and records the result
// at the transaction's logical timestamp.
func ApplyTransaction(h *catalog.History, tx *Transaction) (catalog.Schema, error) {
	current, _ := h.Latest()
	next, err := Fold(current, tx.Mutations)
	if err != nil {
		return catalog.Schema{}, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	if err := h.Record(tx.LogicalTimestamp, next); err != nil {
		return catalog.Schema{}, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	return next, nil
}

type transitioner struct {
	schema catalog.Schema
}

func (t *transitioner) updateColumn(tableUUID, columnUUID string, update func(*catalog.ColumnDescriptor)) error {
	table, err := t.schema.Table(tableUUID)
	if err != nil {
		return err
	}
	col, err := table.Column(columnUUID)
	if err != nil {
		return err
	}
	update(&col)
	t.schema = t.schema.With(table.WithColumn(col))
	return nil
}

func (t *transitioner) updateTable(tableUUID string, update func(*catalog.TableDescriptor)) error {
	table, err := t.schema.Table(tableUUID)
	if err != nil {
		return err
	}
	update(&table)
	t.schema = t.schema.With(table)
	return nil
}

func (t *transitioner) VisitInsertRows(*InsertRows) error { return nil }
func (t *transitioner) VisitUpdateRows(*UpdateRows) error { return nil }
func (t *transitioner) VisitDeleteRows(*DeleteRows) error { return nil }

func (t *transitioner) VisitAddColumn(m *AddColumn) error {
	table, err := t.schema.Table(m.TableUUID)
	if err != nil {
		return err
	}
	if _, err := table.Column(m.Column.UUID); err == nil {
		return fmt.Errorf("%w: %s in table %s", catalog.ErrDuplicateColumn, m.Column.UUID, table.Name)
	}
	t.schema = t.schema.With(table.WithColumn(m.Column))
	return nil
}

func (t *transitioner) VisitDropColumn(m *DropColumn) error {
	table, err := t.schema.Table(m.TableUUID)
	if err != nil {
		return err
	}
	if _, err := table.Column(m.ColumnUUID); err != nil {
		return err
	}
	t.schema = t.schema.With(table.WithoutColumn(m.ColumnUUID))
	return nil
}

func (t *transitioner) VisitRenameColumn(m *RenameColumn) error {
	return t.updateColumn(m.TableUUID, m.ColumnUUID, func(c *catalog.ColumnDescriptor) {
		c.Name = m.NewName
	})
}

func (t *transitioner) VisitChangeColumnNullable(m *ChangeColumnNullable) error {
	return t.updateColumn(m.TableUUID, m.ColumnUUID, func(c *catalog.ColumnDescriptor) {
		c.Nullable = m.Nullable
	})
}

func (t *transitioner) VisitCreateTable(m *CreateTable) error {
	if _, err := t.schema.Table(m.Descriptor.UUID); err == nil {
		return fmt.Errorf("%w: %s", catalog.ErrDuplicateTable, m.Descriptor.UUID)
	}
	t.schema = t.schema.With(m.Descriptor)
	return nil
}

func (t *transitioner) VisitDropTable(m *DropTable) error {
	if _, err := t.schema.Table(m.TableUUID); err != nil {
		return err
	}
	t.schema = t.schema.Without(m.TableUUID)
	return nil
}

func (t *transitioner) VisitRenameTable(m *RenameTable) error {
	return t.updateTable(m.TableUUID, func(table *catalog.TableDescriptor) {
		table.Name = m.NewName
	})
}

func (t *transitioner) VisitSetTableAnnotation(m *SetTableAnnotation) error {
	return t.updateTable(m.TableUUID, func(table *catalog.TableDescriptor) {
		table.Annotations = setAnnotation(table.Annotations, m.Key, m.Value)
	})
}

func (t *transitioner) VisitSetColumnAnnotation(m *SetColumnAnnotation) error {
	return t.updateColumn(m.TableUUID, m.ColumnUUID, func(c *catalog.ColumnDescriptor) {
		c.Annotations = setAnnotation(c.Annotations, m.Key, m.Value)
	})
}

func (t *transitioner) VisitReorderColumns(m *ReorderColumns) error {
	table, err := t.schema.Table(m.TableUUID)
	if err != nil {
		return err
	}
	if len(m.ColumnUUIDs) != len(table.Columns) {
		return fmt.Errorf("reorder of table %s lists %d columns, table has %d", table.Name, len(m.ColumnUUIDs), len(table.Columns))
	}
	columns := make([]catalog.ColumnDescriptor, 0, len(table.Columns))
	seen := make(map[string]bool, len(m.ColumnUUIDs))
	for _, uuid := range m.ColumnUUIDs {
		if seen[uuid] {
			return fmt.Errorf("%w: %s listed twice in reorder of %s", catalog.ErrDuplicateColumn, uuid, table.Name)
		}
		seen[uuid] = true
		col, err := table.Column(uuid)
		if err != nil {
			return err
		}
		columns = append(columns, col)
	}
	table.Columns = columns
	t.schema = t.schema.With(table)
	return nil
}

// setAnnotation returns a copy of annotations with key set, or removed when value is empty.
func setAnnotation(annotations map[string]string, key, value string) map[string]string {
	next := make(map[string]string, len(annotations)+1)
	for k, v := range annotations {
		next[k] = v
	}
	if value == "" {
		delete(next, key)
	} else {
		next[key] = value
	}
	if len(next) == 0 {
		return nil
	}
	return next
}
