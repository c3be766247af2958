// Package source reads full table snapshots from external stores.
package source

import (
	"context"

	"github.com/kadirbelkuyu/dbsync/internal/schema"
)

// Snapshot holds every row of one table as raw driver values, in the order
// of Columns.
type Snapshot struct {
	Columns []string
	Rows    [][]any
}

type Source interface {
	// Tables describes the tables currently visible to the source, keyed by
	// name. It is called once per cycle.
	Tables(ctx context.Context) (map[string]schema.Table, error)
	FetchRows(ctx context.Context, table schema.Table) (*Snapshot, error)
	Close() error
}
