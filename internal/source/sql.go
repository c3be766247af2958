package source

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/database"
	"github.com/kadirbelkuyu/dbsync/internal/schema"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

// SQLSource snapshots tables of a Postgres or MySQL schema.
type SQLSource struct {
	conn      *database.Connection
	extractor *schema.Extractor
	logger    *logger.Logger
}

func NewSQLSource(conn *database.Connection, logger *logger.Logger) *SQLSource {
	return &SQLSource{
		conn:      conn,
		extractor: schema.NewExtractor(conn, logger),
		logger:    logger,
	}
}

func (s *SQLSource) Tables(ctx context.Context) (map[string]schema.Table, error) {
	return s.extractor.Tables(ctx)
}

func (s *SQLSource) FetchRows(ctx context.Context, table schema.Table) (*Snapshot, error) {
	query, err := s.buildSelectQuery(table)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query source data: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch column metadata: %w", err)
	}

	snapshot := &Snapshot{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if len(table.Columns) == len(columns) {
			for i, col := range table.Columns {
				values[i] = convertValue(values[i], col)
			}
		}
		snapshot.Rows = append(snapshot.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows of %s: %w", table.Name, err)
	}

	s.logger.Debugf("Fetched %d rows from %s", len(snapshot.Rows), table.Name)
	return snapshot, nil
}

func (s *SQLSource) buildSelectQuery(table schema.Table) (string, error) {
	d := s.conn.Dialect

	columnNames := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		name, err := d.Ident(col.Name)
		if err != nil {
			return "", err
		}
		columnNames[i] = name
	}
	if len(columnNames) == 0 {
		columnNames = []string{"*"}
	}

	tableName, err := d.Ident(table.Name)
	if err != nil {
		return "", err
	}
	if schemaName := s.conn.GetSchemaName(); schemaName != "" {
		quoted, err := d.Ident(schemaName)
		if err != nil {
			return "", err
		}
		tableName = quoted + "." + tableName
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columnNames, ", "), tableName)
	if len(table.PrimaryKeys) > 0 {
		pkCols := make([]string, len(table.PrimaryKeys))
		for i, pk := range table.PrimaryKeys {
			name, err := d.Ident(pk)
			if err != nil {
				return "", err
			}
			pkCols[i] = name
		}
		query += " ORDER BY " + strings.Join(pkCols, ", ")
	}
	return query, nil
}

// convertValue parses the raw bytes some drivers return for every column
// type into the type the column declares. Binary columns become base64.
func convertValue(v any, col schema.Column) any {
	raw, ok := v.([]byte)
	if !ok {
		return v
	}

	text := string(raw)
	switch col.CatalogType() {
	case catalog.Bytes:
		return base64.StdEncoding.EncodeToString(raw)
	case catalog.Int64:
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return i
		}
		// Unsigned bigints above math.MaxInt64.
		if u, err := strconv.ParseUint(text, 10, 64); err == nil {
			return u
		}
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return f
		}
	case catalog.Float64:
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return f
		}
	case catalog.Bool:
		if b, err := strconv.ParseBool(text); err == nil {
			return b
		}
	}
	return raw
}

func (s *SQLSource) Close() error {
	return s.conn.Close()
}
