// Package dialect renders identifiers, literals and DDL for the supported
// external relational stores.
package dialect

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/ident"
	"github.com/kadirbelkuyu/dbsync/internal/value"
)

// Statement is one SQL statement with optional positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

func (s Statement) String() string {
	if len(s.Args) == 0 {
		return s.SQL
	}
	return fmt.Sprintf("%s %v", s.SQL, s.Args)
}

type Dialect interface {
	Name() string
	// Ident validates and quotes an identifier.
	Ident(name string) (string, error)
	// Table quotes a table name, qualified by the dialect's schema when set.
	Table(name string) (string, error)
	Placeholder(n int) string
	ColumnType(t catalog.DataType) (string, error)
	// Literal renders v as a SQL literal for a column of type t.
	Literal(v value.Scalar, t catalog.DataType) (string, error)
	// ColumnDefinition renders a column for create table / add column.
	ColumnDefinition(col catalog.ColumnDescriptor) (string, error)
	ChangeNullable(table string, col catalog.ColumnDescriptor) (string, error)
	RenameTable(from, to string) (string, error)
}

// ForDriver returns the dialect of a configured store type. Table names are
// qualified by schemaName unless it is empty.
func ForDriver(storeType, schemaName string) (Dialect, error) {
	switch storeType {
	case "postgres":
		return Postgres{Schema: schemaName}, nil
	case "mysql":
		return MySQL{Schema: schemaName}, nil
	default:
		return nil, fmt.Errorf("no SQL dialect for store type %q", storeType)
	}
}

// base holds what Postgres and MySQL share.
type base struct {
	quote     byte
	types     map[catalog.DataType]string
	decodeB64 string
	escape    func(string) string
}

func (b base) ident(name string) (string, error) {
	if err := ident.ValidateIdentifier(name); err != nil {
		return "", err
	}
	return ident.QuoteIdentifier(name, b.quote), nil
}

func (b base) table(schemaName, name string) (string, error) {
	quoted, err := b.ident(name)
	if err != nil {
		return "", err
	}
	if schemaName == "" {
		return quoted, nil
	}
	qualifier, err := b.ident(schemaName)
	if err != nil {
		return "", err
	}
	return qualifier + "." + quoted, nil
}

func (b base) columnType(t catalog.DataType) (string, error) {
	typeName, ok := b.types[t]
	if !ok {
		return "", fmt.Errorf("unsupported data type %q", t)
	}
	return typeName, nil
}

func (b base) literal(v value.Scalar, t catalog.DataType, nonFinite func(float64) (string, error)) (string, error) {
	switch v.Kind() {
	case value.KindNull:
		return "null", nil
	case value.KindBool:
		return strconv.FormatBool(v.Bool()), nil
	case value.KindInt:
		return strconv.FormatInt(v.Int(), 10), nil
	case value.KindFloat:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nonFinite(f)
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case value.KindString:
		quoted := "'" + b.escape(v.Str()) + "'"
		if t == catalog.Bytes {
			return fmt.Sprintf(b.decodeB64, quoted), nil
		}
		return quoted, nil
	default:
		return "", fmt.Errorf("unsupported value kind %s", v.Kind())
	}
}

func (b base) columnDefinition(col catalog.ColumnDescriptor) (string, error) {
	name, err := b.ident(col.Name)
	if err != nil {
		return "", err
	}
	typeName, err := b.columnType(col.DataType)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", col.Name, err)
	}

	switch col.Name {
	case catalog.KeyColumn:
		return fmt.Sprintf("%s %s primary key", name, typeName), nil
	case catalog.OrdinalColumn:
		return fmt.Sprintf("%s %s unique not null", name, typeName), nil
	}

	def := fmt.Sprintf("%s %s", name, typeName)
	if !col.Nullable {
		def += " not null"
	}
	return def, nil
}

func doubleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

var postgres = base{
	quote: '"',
	types: map[catalog.DataType]string{
		catalog.Bool:    "boolean",
		catalog.Int32:   "integer",
		catalog.Int64:   "bigint",
		catalog.Float32: "real",
		catalog.Float64: "double precision",
		catalog.String:  "text",
		catalog.Bytes:   "bytea",
	},
	decodeB64: "decode(%s, 'base64')",
	escape:    doubleQuotes,
}

type Postgres struct {
	Schema string
}

func (Postgres) Name() string                                  { return "postgres" }
func (Postgres) Ident(name string) (string, error)             { return postgres.ident(name) }
func (p Postgres) Table(name string) (string, error)           { return postgres.table(p.Schema, name) }
func (Postgres) Placeholder(n int) string                      { return "$" + strconv.Itoa(n) }
func (Postgres) ColumnType(t catalog.DataType) (string, error) { return postgres.columnType(t) }

func (Postgres) Literal(v value.Scalar, t catalog.DataType) (string, error) {
	return postgres.literal(v, t, func(f float64) (string, error) {
		switch {
		case math.IsNaN(f):
			return "'NaN'", nil
		case f > 0:
			return "'Infinity'", nil
		default:
			return "'-Infinity'", nil
		}
	})
}

func (Postgres) ColumnDefinition(col catalog.ColumnDescriptor) (string, error) {
	return postgres.columnDefinition(col)
}

func (p Postgres) ChangeNullable(table string, col catalog.ColumnDescriptor) (string, error) {
	t, err := p.Table(table)
	if err != nil {
		return "", err
	}
	c, err := postgres.ident(col.Name)
	if err != nil {
		return "", err
	}
	action := "set not null"
	if col.Nullable {
		action = "drop not null"
	}
	return fmt.Sprintf("alter table %s alter column %s %s", t, c, action), nil
}

// RenameTable keeps the table in its schema; the new name takes no qualifier.
func (p Postgres) RenameTable(from, to string) (string, error) {
	f, err := p.Table(from)
	if err != nil {
		return "", err
	}
	t, err := postgres.ident(to)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("alter table %s rename to %s", f, t), nil
}

var mysql = base{
	quote: '`',
	types: map[catalog.DataType]string{
		catalog.Bool:    "boolean",
		catalog.Int32:   "int",
		catalog.Int64:   "bigint",
		catalog.Float32: "float",
		catalog.Float64: "double",
		catalog.String:  "longtext",
		catalog.Bytes:   "longblob",
	},
	decodeB64: "from_base64(%s)",
	escape: func(s string) string {
		return doubleQuotes(strings.ReplaceAll(s, `\`, `\\`))
	},
}

type MySQL struct {
	Schema string
}

func (MySQL) Name() string                                  { return "mysql" }
func (MySQL) Ident(name string) (string, error)             { return mysql.ident(name) }
func (m MySQL) Table(name string) (string, error)           { return mysql.table(m.Schema, name) }
func (MySQL) Placeholder(int) string                        { return "?" }
func (MySQL) ColumnType(t catalog.DataType) (string, error) { return mysql.columnType(t) }

func (MySQL) Literal(v value.Scalar, t catalog.DataType) (string, error) {
	return mysql.literal(v, t, func(f float64) (string, error) {
		return "", fmt.Errorf("mysql cannot store non-finite float %v", f)
	})
}

func (MySQL) ColumnDefinition(col catalog.ColumnDescriptor) (string, error) {
	return mysql.columnDefinition(col)
}

// ChangeNullable re-declares the column, which MySQL requires to change nullability.
func (m MySQL) ChangeNullable(table string, col catalog.ColumnDescriptor) (string, error) {
	t, err := m.Table(table)
	if err != nil {
		return "", err
	}
	c, err := mysql.ident(col.Name)
	if err != nil {
		return "", err
	}
	typeName, err := mysql.columnType(col.DataType)
	if err != nil {
		return "", err
	}
	null := "not null"
	if col.Nullable {
		null = "null"
	}
	return fmt.Sprintf("alter table %s modify column %s %s %s", t, c, typeName, null), nil
}

func (m MySQL) RenameTable(from, to string) (string, error) {
	f, err := m.Table(from)
	if err != nil {
		return "", err
	}
	t, err := m.Table(to)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("rename table %s to %s", f, t), nil
}
