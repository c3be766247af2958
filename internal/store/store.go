// Package store is an in-process source of truth: a versioned catalog with
// versioned rows that commits transactions and delivers them to subscribers.
// It implements the feed, table sync and key lookup contracts.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/feed"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
	"github.com/kadirbelkuyu/dbsync/internal/pkresolve"
	"github.com/kadirbelkuyu/dbsync/internal/reconcile"
	"github.com/kadirbelkuyu/dbsync/internal/value"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

var (
	_ feed.Feed        = (*Store)(nil)
	_ reconcile.Sink   = (*Store)(nil)
	_ pkresolve.Reader = (*Store)(nil)
)

type rowVersion struct {
	timestamp int64
	// values by column UUID
	values  map[string]value.Scalar
	deleted bool
}

type Store struct {
	mu      sync.RWMutex
	history *catalog.History
	rows    map[string]map[int64][]rowVersion
	log     []*mutation.Transaction
	clock   int64
	nextKey int64
	changed chan struct{}
	logger  *logger.Logger
}

// New returns an empty store at logical timestamp 0.
func New(log *logger.Logger) *Store {
	return NewWithCatalog(catalog.Schema{}, log)
}

// NewWithCatalog returns a store whose tables start out as initial, without
// rows, at logical timestamp 0.
func NewWithCatalog(initial catalog.Schema, log *logger.Logger) *Store {
	return &Store{
		history: catalog.NewHistory(initial, 0),
		rows:    make(map[string]map[int64][]rowVersion),
		nextKey: 1,
		changed: make(chan struct{}),
		logger:  log,
	}
}

// Commit applies mutations as one transaction at the next logical timestamp.
// Nothing is applied when any mutation is invalid.
func (s *Store) Commit(mutations []mutation.Mutation, annotations map[string]string) (*mutation.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commitLocked(uuid.NewString(), s.clock+1, mutations, annotations)
}

// Apply commits a transaction recorded elsewhere under its own id and
// timestamp, which must be later than every committed transaction.
func (s *Store) Apply(tx *mutation.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.LogicalTimestamp <= s.clock {
		return fmt.Errorf("transaction %s at %d is not after %d", tx.ID, tx.LogicalTimestamp, s.clock)
	}
	_, err := s.commitLocked(tx.ID, tx.LogicalTimestamp, tx.Mutations, tx.Annotations)
	return err
}

func (s *Store) commitLocked(id string, timestamp int64, mutations []mutation.Mutation, annotations map[string]string) (*mutation.Transaction, error) {
	schema, _ := s.history.Latest()

	a := &applier{store: s, schema: schema, staged: make(map[string]map[int64]rowVersion)}
	for i, m := range mutations {
		if err := m.Accept(a); err != nil {
			return nil, fmt.Errorf("mutation %d (%s): %w", i, m.Kind(), err)
		}
		next, err := mutation.Transition(a.schema, m)
		if err != nil {
			return nil, fmt.Errorf("mutation %d (%s): %w", i, m.Kind(), err)
		}
		a.schema = next
	}

	if err := s.history.Record(timestamp, a.schema); err != nil {
		return nil, err
	}
	for table, staged := range a.staged {
		versions, ok := s.rows[table]
		if !ok {
			versions = make(map[int64][]rowVersion)
			s.rows[table] = versions
		}
		for key, v := range staged {
			v.timestamp = timestamp
			versions[key] = append(versions[key], v)
			if key >= s.nextKey {
				s.nextKey = key + 1
			}
		}
	}
	s.clock = timestamp

	tx := &mutation.Transaction{
		ID:               id,
		LogicalTimestamp: timestamp,
		Mutations:        mutations,
		Annotations:      copyAnnotations(annotations),
	}
	s.log = append(s.log, tx)
	close(s.changed)
	s.changed = make(chan struct{})

	s.logger.WithFields(logrus.Fields{"transaction": tx.ID, "timestamp": timestamp, "mutations": len(mutations)}).
		Debug("Transaction committed")
	return tx, nil
}

func copyAnnotations(annotations map[string]string) map[string]string {
	if len(annotations) == 0 {
		return nil
	}
	out := make(map[string]string, len(annotations))
	for k, v := range annotations {
		out[k] = v
	}
	return out
}

// Subscribe delivers every committed transaction in commit order, starting
// with the first, and then waits for new ones until ctx is done or handle
// fails.
func (s *Store) Subscribe(ctx context.Context, handle func(*mutation.Transaction) error) error {
	next := 0
	for {
		s.mu.RLock()
		pending := s.log[next:]
		changed := s.changed
		s.mu.RUnlock()

		for _, tx := range pending {
			if err := handle(tx); err != nil {
				return fmt.Errorf("failed to handle transaction %s: %w", tx.ID, err)
			}
			next++
		}
		if len(pending) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (s *Store) SchemaAt(_ context.Context, timestamp int64) (catalog.Schema, error) {
	return s.history.At(timestamp)
}

// Transactions returns the committed log.
func (s *Store) Transactions() []*mutation.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*mutation.Transaction, len(s.log))
	copy(out, s.log)
	return out
}

// LookupRows reads columns of the rows with the given keys as they were at
// req.AsOf. Table and column names are resolved against the schema at that
// time.
func (s *Store) LookupRows(_ context.Context, req pkresolve.Request) ([]mutation.Row, error) {
	schema, err := s.history.At(req.AsOf)
	if err != nil {
		return nil, err
	}
	table, ok := schema.TableByName(req.Table)
	if !ok {
		return nil, fmt.Errorf("%w: %s at %d", catalog.ErrUnknownTable, req.Table, req.AsOf)
	}
	columns := make([]string, len(req.Columns))
	for i, name := range req.Columns {
		col, ok := table.ColumnByName(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s in table %s at %d", catalog.ErrUnknownColumn, name, req.Table, req.AsOf)
		}
		columns[i] = col.UUID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []mutation.Row
	for _, key := range req.Keys {
		v, ok := versionAt(s.rows[table.UUID][key], req.AsOf)
		if !ok || v.deleted {
			continue
		}
		values := make([]value.Scalar, len(columns))
		for i, id := range columns {
			values[i] = v.values[id]
		}
		rows = append(rows, mutation.Row{Key: key, Values: values})
	}
	return rows, nil
}

// Rows returns the user column names and current rows of a table, ordered by key.
func (s *Store) Rows(table string) ([]string, []mutation.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schema, _ := s.history.Latest()
	t, ok := schema.TableByName(table)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", catalog.ErrUnknownTable, table)
	}

	var names, ids []string
	for _, col := range t.Columns {
		if col.IsSystem() {
			continue
		}
		names = append(names, col.Name)
		ids = append(ids, col.UUID)
	}

	current := s.current(t.UUID)
	keys := make([]int64, 0, len(current))
	for key := range current {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	rows := make([]mutation.Row, len(keys))
	for i, key := range keys {
		values := make([]value.Scalar, len(ids))
		for j, id := range ids {
			values[j] = current[key][id]
		}
		rows[i] = mutation.Row{Key: key, Values: values}
	}
	return names, rows, nil
}

// current returns the live rows of a table at the latest version.
func (s *Store) current(tableUUID string) map[int64]map[string]value.Scalar {
	out := make(map[int64]map[string]value.Scalar)
	for key, versions := range s.rows[tableUUID] {
		v := versions[len(versions)-1]
		if !v.deleted {
			out[key] = v.values
		}
	}
	return out
}

func versionAt(versions []rowVersion, timestamp int64) (rowVersion, bool) {
	i := sort.Search(len(versions), func(i int) bool {
		return versions[i].timestamp > timestamp
	})
	if i == 0 {
		return rowVersion{}, false
	}
	return versions[i-1], true
}
