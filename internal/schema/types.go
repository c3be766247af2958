package schema

import (
	"strings"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
)

type PrimaryKeyColumn struct {
	Table           string
	Column          string
	OrdinalPosition int
}

type Column struct {
	Table           string
	Name            string
	OrdinalPosition int
	DataType        string
	Nullable        bool
}

// Table is the metadata of one external table.
type Table struct {
	Name        string
	Columns     []Column
	PrimaryKeys []string
}

// CatalogType maps the information schema type to the type its values take
// once coerced. Types the drivers return as text (numeric, dates, json) map
// to string.
func (c Column) CatalogType() catalog.DataType {
	switch strings.ToLower(c.DataType) {
	case "boolean", "bool":
		return catalog.Bool
	case "smallint", "integer", "int", "mediumint", "tinyint", "bigint", "year":
		return catalog.Int64
	case "real", "float", "double precision", "double":
		return catalog.Float64
	case "bytea", "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary":
		return catalog.Bytes
	default:
		return catalog.String
	}
}

// Names returns the column names in ordinal order.
func (t Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// HasColumn reports whether the table has a column called name.
func (t Table) HasColumn(name string) bool {
	for _, col := range t.Columns {
		if col.Name == name {
			return true
		}
	}
	return false
}
