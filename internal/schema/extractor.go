package schema

import (
	"context"
	"fmt"
	"sort"

	"github.com/kadirbelkuyu/dbsync/internal/database"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

const primaryKeyQuery = `
		SELECT
			kcu.table_name,
			kcu.column_name,
			kcu.ordinal_position
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		AND tc.table_schema = %s
		ORDER BY kcu.table_name, kcu.ordinal_position
	`

const columnQuery = `
		SELECT
			table_name,
			column_name,
			ordinal_position,
			data_type,
			is_nullable
		FROM information_schema.columns
		WHERE table_schema = %s
		ORDER BY table_name, ordinal_position
	`

// Extractor reads table metadata from the external store's information
// schema. Nothing is cached; every call reflects the current schema.
type Extractor struct {
	conn   *database.Connection
	logger *logger.Logger
}

func NewExtractor(conn *database.Connection, logger *logger.Logger) *Extractor {
	return &Extractor{
		conn:   conn,
		logger: logger,
	}
}

func (e *Extractor) query(format string) string {
	return fmt.Sprintf(format, e.conn.Dialect.Placeholder(1))
}

// PrimaryKeys returns the primary key columns of every table in the schema,
// grouped by table and ordered by position.
func (e *Extractor) PrimaryKeys(ctx context.Context) (map[string][]PrimaryKeyColumn, error) {
	rows, err := e.conn.DB.QueryContext(ctx, e.query(primaryKeyQuery), e.conn.GetSchemaName())
	if err != nil {
		return nil, fmt.Errorf("failed to query primary key metadata: %w", err)
	}
	defer rows.Close()

	grouped := make(map[string][]PrimaryKeyColumn)
	for rows.Next() {
		var pk PrimaryKeyColumn
		if err := rows.Scan(&pk.Table, &pk.Column, &pk.OrdinalPosition); err != nil {
			return nil, fmt.Errorf("failed to read primary key metadata: %w", err)
		}
		grouped[pk.Table] = append(grouped[pk.Table], pk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read primary key metadata: %w", err)
	}

	for table := range grouped {
		pks := grouped[table]
		sort.SliceStable(pks, func(i, j int) bool { return pks[i].OrdinalPosition < pks[j].OrdinalPosition })
	}
	return grouped, nil
}

// PrimaryKeyNames returns the primary key column names per table.
func (e *Extractor) PrimaryKeyNames(ctx context.Context) (map[string][]string, error) {
	grouped, err := e.PrimaryKeys(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string][]string, len(grouped))
	for table, pks := range grouped {
		for _, pk := range pks {
			names[table] = append(names[table], pk.Column)
		}
	}
	return names, nil
}

// Columns returns the columns of every table in the schema, grouped by table
// and ordered by position.
func (e *Extractor) Columns(ctx context.Context) (map[string][]Column, error) {
	rows, err := e.conn.DB.QueryContext(ctx, e.query(columnQuery), e.conn.GetSchemaName())
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer rows.Close()

	grouped := make(map[string][]Column)
	for rows.Next() {
		var (
			col        Column
			isNullable string
		)
		if err := rows.Scan(&col.Table, &col.Name, &col.OrdinalPosition, &col.DataType, &isNullable); err != nil {
			return nil, fmt.Errorf("failed to read column metadata: %w", err)
		}
		col.Nullable = isNullable == "YES"
		grouped[col.Table] = append(grouped[col.Table], col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read column metadata: %w", err)
	}
	return grouped, nil
}

// Tables combines columns and primary keys per table.
func (e *Extractor) Tables(ctx context.Context) (map[string]Table, error) {
	columns, err := e.Columns(ctx)
	if err != nil {
		return nil, err
	}
	primaryKeys, err := e.PrimaryKeyNames(ctx)
	if err != nil {
		return nil, err
	}

	tables := make(map[string]Table, len(columns))
	for name, cols := range columns {
		tables[name] = Table{Name: name, Columns: cols, PrimaryKeys: primaryKeys[name]}
	}
	e.logger.Debugf("%d tables extracted from schema %s", len(tables), e.conn.GetSchemaName())
	return tables, nil
}
