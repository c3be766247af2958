// Package translate turns source transactions into ordered SQL statements for
// an external relational store.
package translate

import (
	"errors"
	"fmt"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/dialect"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
)

var ErrRowWidth = errors.New("row width does not match column mapping")

// step is a mutation visitor that sees the catalog as it is immediately
// before the mutation it visits.
type step interface {
	mutation.Visitor
	advance(s catalog.Schema)
	statements() []dialect.Statement
}

// fold resolves every mutation against the schema produced by the mutations
// before it, then advances the schema.
func fold(s catalog.Schema, tx *mutation.Transaction, v step) ([]dialect.Statement, error) {
	for i, m := range tx.Mutations {
		v.advance(s)
		if err := m.Accept(v); err != nil {
			return nil, fmt.Errorf("transaction %s mutation %d (%s): %w", tx.ID, i, m.Kind(), err)
		}
		next, err := mutation.Transition(s, m)
		if err != nil {
			return nil, fmt.Errorf("transaction %s mutation %d: %w", tx.ID, i, err)
		}
		s = next
	}
	return v.statements(), nil
}

// resolveColumns maps column UUIDs to descriptors of table.
func resolveColumns(table catalog.TableDescriptor, uuids []string) ([]catalog.ColumnDescriptor, error) {
	columns := make([]catalog.ColumnDescriptor, 0, len(uuids))
	for _, uuid := range uuids {
		col, err := table.Column(uuid)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	return columns, nil
}

func checkWidth(row mutation.Row, width int) error {
	if len(row.Values) != width {
		return fmt.Errorf("%w: row %d has %d values for %d columns", ErrRowWidth, row.Key, len(row.Values), width)
	}
	return nil
}
