// Package pkresolve maps internal row keys to external primary key values.
package pkresolve

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/dbsync/internal/executor"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
	"github.com/kadirbelkuyu/dbsync/internal/value"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

// Request selects Columns of the rows with the given keys from Table as of
// logical timestamp AsOf.
type Request struct {
	Table   string
	Columns []string
	Keys    []int64
	AsOf    int64
}

// Reader performs point-in-time row lookups. Returned rows carry values in
// the order of Request.Columns; keys that do not exist are left out.
type Reader interface {
	LookupRows(ctx context.Context, req Request) ([]mutation.Row, error)
}

const DefaultLookupChunkSize = 1000

type Resolver struct {
	reader    Reader
	chunkSize int
	logger    *logger.Logger
}

func NewResolver(reader Reader, chunkSize int, log *logger.Logger) *Resolver {
	if chunkSize < 1 {
		chunkSize = DefaultLookupChunkSize
	}
	return &Resolver{reader: reader, chunkSize: chunkSize, logger: log}
}

// Resolve returns the primary key values of every key found at asOf. Rows
// whose key columns hold nulls were never synced with a primary key and are
// left out.
func (r *Resolver) Resolve(ctx context.Context, asOf int64, table string, keyColumns []string, keys []int64) (map[int64][]value.Scalar, error) {
	unique := dedupe(keys)
	resolved := make(map[int64][]value.Scalar, len(unique))

	err := executor.SyncInChunks(ctx, unique, r.chunkSize, func(ctx context.Context, chunk []int64) error {
		rows, err := r.reader.LookupRows(ctx, Request{Table: table, Columns: keyColumns, Keys: chunk, AsOf: asOf})
		if err != nil {
			return err
		}
		for _, row := range rows {
			if len(row.Values) != len(keyColumns) {
				return fmt.Errorf("lookup of %s returned %d values for %d key columns", table, len(row.Values), len(keyColumns))
			}
			if hasNull(row.Values) {
				continue
			}
			resolved[row.Key] = row.Values
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up primary keys of %s at %d: %w", table, asOf, err)
	}

	if missing := len(unique) - len(resolved); missing > 0 {
		r.logger.WithFields(logrus.Fields{"table": table, "as_of": asOf, "missing": missing}).
			Debug("Some rows have no primary key at lookup time")
	}
	return resolved, nil
}

func dedupe(keys []int64) []int64 {
	seen := make(map[int64]struct{}, len(keys))
	out := make([]int64, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func hasNull(values []value.Scalar) bool {
	for _, v := range values {
		if v.IsNull() {
			return true
		}
	}
	return false
}
