// Package mapping resolves external source tables to internal target tables
// and back.
package mapping

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kadirbelkuyu/dbsync/internal/ident"
)

var ErrDuplicateTarget = errors.New("duplicate target table")

type Pair struct {
	Source string
	Target string
}

// TableMapping is a validated one-to-one source -> target table mapping.
// It is immutable once built.
type TableMapping struct {
	forward map[string]string
	inverse map[string]string
	pairs   []Pair
}

// New validates every name and rejects two sources mapping to the same target.
func New(sourceToTarget map[string]string) (*TableMapping, error) {
	m := &TableMapping{
		forward: make(map[string]string, len(sourceToTarget)),
		inverse: make(map[string]string, len(sourceToTarget)),
	}

	sources := make([]string, 0, len(sourceToTarget))
	for source := range sourceToTarget {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	for _, source := range sources {
		target := sourceToTarget[source]
		if err := ident.ValidateIdentifier(source); err != nil {
			return nil, fmt.Errorf("invalid source table: %w", err)
		}
		if err := ident.ValidateTableName(target); err != nil {
			return nil, fmt.Errorf("invalid target table for %s: %w", source, err)
		}
		if other, exists := m.inverse[target]; exists {
			return nil, fmt.Errorf("%w: %s and %s both map to %s", ErrDuplicateTarget, other, source, target)
		}
		m.forward[source] = target
		m.inverse[target] = source
		m.pairs = append(m.pairs, Pair{Source: source, Target: target})
	}

	return m, nil
}

func (m *TableMapping) Target(source string) (string, bool) {
	target, ok := m.forward[source]
	return target, ok
}

func (m *TableMapping) Source(target string) (string, bool) {
	source, ok := m.inverse[target]
	return source, ok
}

// Pairs returns every mapping ordered by source table.
func (m *TableMapping) Pairs() []Pair {
	pairs := make([]Pair, len(m.pairs))
	copy(pairs, m.pairs)
	return pairs
}

func (m *TableMapping) Len() int {
	return len(m.pairs)
}
