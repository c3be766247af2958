// Package mutation defines the closed set of structural and data mutations
// carried by source transactions, and how each one advances a catalog.
package mutation

import (
	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/value"
)

// SelfSyncAnnotation marks transactions produced by snapshot reconciliation.
// Writeback must never process them.
const SelfSyncAnnotation = "dbsync.self_sync"

type Kind string

const (
	KindInsertRows           Kind = "insert_rows"
	KindUpdateRows           Kind = "update_rows"
	KindDeleteRows           Kind = "delete_rows"
	KindAddColumn            Kind = "add_column"
	KindDropColumn           Kind = "drop_column"
	KindRenameColumn         Kind = "rename_column"
	KindChangeColumnNullable Kind = "change_column_nullable"
	KindCreateTable          Kind = "create_table"
	KindDropTable            Kind = "drop_table"
	KindRenameTable          Kind = "rename_table"
	KindSetTableAnnotation   Kind = "set_table_annotation"
	KindSetColumnAnnotation  Kind = "set_column_annotation"
	KindReorderColumns       Kind = "reorder_columns"
)

// Visitor has one method per mutation variant. Every consumer of mutations
// implements it, so a new variant does not compile until it is handled everywhere.
type Visitor interface {
	VisitInsertRows(*InsertRows) error
	VisitUpdateRows(*UpdateRows) error
	VisitDeleteRows(*DeleteRows) error
	VisitAddColumn(*AddColumn) error
	VisitDropColumn(*DropColumn) error
	VisitRenameColumn(*RenameColumn) error
	VisitChangeColumnNullable(*ChangeColumnNullable) error
	VisitCreateTable(*CreateTable) error
	VisitDropTable(*DropTable) error
	VisitRenameTable(*RenameTable) error
	VisitSetTableAnnotation(*SetTableAnnotation) error
	VisitSetColumnAnnotation(*SetColumnAnnotation) error
	VisitReorderColumns(*ReorderColumns) error
}

type Mutation interface {
	Kind() Kind
	// Table is the UUID of the table the mutation applies to.
	Table() string
	Accept(Visitor) error
}

// Row is one row of an insert or update. Key is the internal row identifier,
// Values follow the mutation's column mapping.
type Row struct {
	Key    int64          `json:"key"`
	Values []value.Scalar `json:"values"`
}

type InsertRows struct {
	TableUUID     string   `json:"table_uuid"`
	ColumnMapping []string `json:"column_mapping"`
	Rows          []Row    `json:"rows"`
}

type UpdateRows struct {
	TableUUID     string   `json:"table_uuid"`
	ColumnMapping []string `json:"column_mapping"`
	Rows          []Row    `json:"rows"`
}

type DeleteRows struct {
	TableUUID string  `json:"table_uuid"`
	Keys      []int64 `json:"keys"`
}

type AddColumn struct {
	TableUUID string                   `json:"table_uuid"`
	Column    catalog.ColumnDescriptor `json:"column_descriptor"`
}

type DropColumn struct {
	TableUUID  string `json:"table_uuid"`
	ColumnUUID string `json:"column_uuid"`
}

type RenameColumn struct {
	TableUUID  string `json:"table_uuid"`
	ColumnUUID string `json:"column_uuid"`
	NewName    string `json:"new_name"`
}

type ChangeColumnNullable struct {
	TableUUID  string `json:"table_uuid"`
	ColumnUUID string `json:"column_uuid"`
	Nullable   bool   `json:"nullable"`
}

type CreateTable struct {
	Descriptor catalog.TableDescriptor `json:"table_descriptor"`
}

type DropTable struct {
	TableUUID string `json:"table_uuid"`
}

type RenameTable struct {
	TableUUID string `json:"table_uuid"`
	NewName   string `json:"new_name"`
}

// SetTableAnnotation sets Key to Value; an empty Value removes the annotation.
type SetTableAnnotation struct {
	TableUUID string `json:"table_uuid"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

// SetColumnAnnotation sets Key to Value; an empty Value removes the annotation.
type SetColumnAnnotation struct {
	TableUUID  string `json:"table_uuid"`
	ColumnUUID string `json:"column_uuid"`
	Key        string `json:"key"`
	Value      string `json:"value"`
}

// ReorderColumns lists every column UUID of the table in its new order.
type ReorderColumns struct {
	TableUUID   string   `json:"table_uuid"`
	ColumnUUIDs []string `json:"column_uuids"`
}

func (m *InsertRows) Kind() Kind           { return KindInsertRows }
func (m *UpdateRows) Kind() Kind           { return KindUpdateRows }
func (m *DeleteRows) Kind() Kind           { return KindDeleteRows }
func (m *AddColumn) Kind() Kind            { return KindAddColumn }
func (m *DropColumn) Kind() Kind           { return KindDropColumn }
func (m *RenameColumn) Kind() Kind         { return KindRenameColumn }
func (m *ChangeColumnNullable) Kind() Kind { return KindChangeColumnNullable }
func (m *CreateTable) Kind() Kind          { return KindCreateTable }
func (m *DropTable) Kind() Kind            { return KindDropTable }
func (m *RenameTable) Kind() Kind          { return KindRenameTable }
func (m *SetTableAnnotation) Kind() Kind   { return KindSetTableAnnotation }
func (m *SetColumnAnnotation) Kind() Kind  { return KindSetColumnAnnotation }
func (m *ReorderColumns) Kind() Kind       { return KindReorderColumns }

func (m *InsertRows) Table() string           { return m.TableUUID }
func (m *UpdateRows) Table() string           { return m.TableUUID }
func (m *DeleteRows) Table() string           { return m.TableUUID }
func (m *AddColumn) Table() string            { return m.TableUUID }
func (m *DropColumn) Table() string           { return m.TableUUID }
func (m *RenameColumn) Table() string         { return m.TableUUID }
func (m *ChangeColumnNullable) Table() string { return m.TableUUID }
func (m *CreateTable) Table() string          { return m.Descriptor.UUID }
func (m *DropTable) Table() string            { return m.TableUUID }
func (m *RenameTable) Table() string          { return m.TableUUID }
func (m *SetTableAnnotation) Table() string   { return m.TableUUID }
func (m *SetColumnAnnotation) Table() string  { return m.TableUUID }
func (m *ReorderColumns) Table() string       { return m.TableUUID }

func (m *InsertRows) Accept(v Visitor) error           { return v.VisitInsertRows(m) }
func (m *UpdateRows) Accept(v Visitor) error           { return v.VisitUpdateRows(m) }
func (m *DeleteRows) Accept(v Visitor) error           { return v.VisitDeleteRows(m) }
func (m *AddColumn) Accept(v Visitor) error            { return v.VisitAddColumn(m) }
func (m *DropColumn) Accept(v Visitor) error           { return v.VisitDropColumn(m) }
func (m *RenameColumn) Accept(v Visitor) error         { return v.VisitRenameColumn(m) }
func (m *ChangeColumnNullable) Accept(v Visitor) error { return v.VisitChangeColumnNullable(m) }
func (m *CreateTable) Accept(v Visitor) error          { return v.VisitCreateTable(m) }
func (m *DropTable) Accept(v Visitor) error            { return v.VisitDropTable(m) }
func (m *RenameTable) Accept(v Visitor) error          { return v.VisitRenameTable(m) }
func (m *SetTableAnnotation) Accept(v Visitor) error   { return v.VisitSetTableAnnotation(m) }
func (m *SetColumnAnnotation) Accept(v Visitor) error  { return v.VisitSetColumnAnnotation(m) }
func (m *ReorderColumns) Accept(v Visitor) error       { return v.VisitReorderColumns(m) }

// Transaction is one committed change set from the source of truth.
type Transaction struct {
	ID               string
	LogicalTimestamp int64
	Mutations        []Mutation
	Annotations      map[string]string
}

// IsSelfSync reports whether the transaction was produced by snapshot
// reconciliation.
func (tx *Transaction) IsSelfSync() bool {
	_, ok := tx.Annotations[SelfSyncAnnotation]
	return ok
}

// TableUUIDs returns the tables mentioned by the transaction in first-seen order.
func (tx *Transaction) TableUUIDs() []string {
	seen := make(map[string]bool)
	var tables []string
	for _, m := range tx.Mutations {
		if !seen[m.Table()] {
			seen[m.Table()] = true
			tables = append(tables, m.Table())
		}
	}
	return tables
}
