// Package catalog models the internal, schema-tracked catalog: tables and
// columns identified by stable UUIDs, captured as immutable snapshots.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownTable    = errors.New("unknown table")
	ErrUnknownColumn   = errors.New("unknown column")
	ErrDuplicateTable  = errors.New("duplicate table")
	ErrDuplicateColumn = errors.New("duplicate column")
)

// Reserved system column names.
const (
	KeyColumn     = "_key"
	OrdinalColumn = "_ordinal"
)

type DataType string

const (
	Bool    DataType = "bool"
	Int32   DataType = "int32"
	Int64   DataType = "int64"
	Float32 DataType = "float32"
	Float64 DataType = "float64"
	String  DataType = "string"
	Bytes   DataType = "bytes"
)

func (d DataType) Valid() bool {
	switch d {
	case Bool, Int32, Int64, Float32, Float64, String, Bytes:
		return true
	}
	return false
}

type ColumnDescriptor struct {
	UUID        string            `json:"column_uuid"`
	Name        string            `json:"column_name"`
	DataType    DataType          `json:"data_type"`
	Nullable    bool              `json:"nullable"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// IsSystem reports whether the column is the row key or the ordinal column.
func (c ColumnDescriptor) IsSystem() bool {
	return c.Name == KeyColumn || c.Name == OrdinalColumn
}

type TableDescriptor struct {
	UUID        string             `json:"table_uuid"`
	Name        string             `json:"table_name"`
	Columns     []ColumnDescriptor `json:"column_descriptors"`
	Annotations map[string]string  `json:"annotations,omitempty"`
}

// Column looks up a column by UUID.
func (t TableDescriptor) Column(uuid string) (ColumnDescriptor, error) {
	for _, c := range t.Columns {
		if c.UUID == uuid {
			return c, nil
		}
	}
	return ColumnDescriptor{}, fmt.Errorf("%w: %s in table %s (%s)", ErrUnknownColumn, uuid, t.Name, t.UUID)
}

// ColumnByName looks up a column by its current name.
func (t TableDescriptor) ColumnByName(name string) (ColumnDescriptor, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDescriptor{}, false
}

// WithColumn returns a copy of t with the column of the same UUID replaced,
// or appended when t has no such column.
func (t TableDescriptor) WithColumn(col ColumnDescriptor) TableDescriptor {
	columns := make([]ColumnDescriptor, 0, len(t.Columns)+1)
	replaced := false
	for _, c := range t.Columns {
		if c.UUID == col.UUID {
			columns = append(columns, col)
			replaced = true
			continue
		}
		columns = append(columns, c)
	}
	if !replaced {
		columns = append(columns, col)
	}
	t.Columns = columns
	return t
}

// WithoutColumn returns a copy of t without the column.
func (t TableDescriptor) WithoutColumn(uuid string) TableDescriptor {
	columns := make([]ColumnDescriptor, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.UUID != uuid {
			columns = append(columns, c)
		}
	}
	t.Columns = columns
	return t
}

// Schema is an immutable table catalog as of one logical timestamp. Methods
// that change it return a new Schema sharing every untouched descriptor.
type Schema struct {
	tables map[string]TableDescriptor
}

func NewSchema(tables ...TableDescriptor) (Schema, error) {
	s := Schema{tables: make(map[string]TableDescriptor, len(tables))}
	for _, t := range tables {
		if _, exists := s.tables[t.UUID]; exists {
			return Schema{}, fmt.Errorf("%w: %s", ErrDuplicateTable, t.UUID)
		}
		s.tables[t.UUID] = t
	}
	return s, nil
}

func (s Schema) Len() int {
	return len(s.tables)
}

func (s Schema) Table(uuid string) (TableDescriptor, error) {
	t, ok := s.tables[uuid]
	if !ok {
		return TableDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownTable, uuid)
	}
	return t, nil
}

func (s Schema) TableByName(name string) (TableDescriptor, bool) {
	for _, t := range s.tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableDescriptor{}, false
}

// Tables returns all tables ordered by name.
func (s Schema) Tables() []TableDescriptor {
	tables := make([]TableDescriptor, 0, len(s.tables))
	for _, t := range s.tables {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool {
		if tables[i].Name == tables[j].Name {
			return tables[i].UUID < tables[j].UUID
		}
		return tables[i].Name < tables[j].Name
	})
	return tables
}

// With returns a schema where the table of the same UUID is replaced or added.
func (s Schema) With(t TableDescriptor) Schema {
	next := make(map[string]TableDescriptor, len(s.tables)+1)
	for uuid, existing := range s.tables {
		next[uuid] = existing
	}
	next[t.UUID] = t
	return Schema{tables: next}
}

// Without returns a schema without the table.
func (s Schema) Without(uuid string) Schema {
	next := make(map[string]TableDescriptor, len(s.tables))
	for id, existing := range s.tables {
		if id != uuid {
			next[id] = existing
		}
	}
	return Schema{tables: next}
}

func (s Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Tables())
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	var tables []TableDescriptor
	if err := json.Unmarshal(data, &tables); err != nil {
		return err
	}
	parsed, err := NewSchema(tables...)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
