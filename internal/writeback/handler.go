// Package writeback applies source transactions to an external store.
package writeback

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/mapping"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

type SchemaSource interface {
	SchemaAt(ctx context.Context, timestamp int64) (catalog.Schema, error)
}

// Target writes one transaction to the external store. before is the
// catalog as of the moment before tx.
type Target interface {
	Apply(ctx context.Context, before catalog.Schema, tx *mutation.Transaction) error
}

// Handler decides whether a transaction needs writing back and hands it to
// the target. A non-nil mapping limits handling to transactions touching
// mapped tables.
type Handler struct {
	schemas  SchemaSource
	target   Target
	mapping  *mapping.TableMapping
	selfSync bool
	logger   *logger.Logger
}

func NewHandler(schemas SchemaSource, target Target, m *mapping.TableMapping, log *logger.Logger) *Handler {
	return &Handler{
		schemas: schemas,
		target:  target,
		mapping: m,
		logger:  log,
	}
}

// IncludeSelfSync makes h hand reconciliation transactions to the target too.
// Only safe when the target is not the store being reconciled.
func (h *Handler) IncludeSelfSync() *Handler {
	h.selfSync = true
	return h
}

// Handle writes tx back unless it came from snapshot reconciliation or
// touches no mapped table.
func (h *Handler) Handle(ctx context.Context, tx *mutation.Transaction) error {
	log := h.logger.WithFields(logrus.Fields{"transaction": tx.ID, "timestamp": tx.LogicalTimestamp})

	if tx.IsSelfSync() && !h.selfSync {
		log.Debug("Skipping transaction produced by reconciliation")
		return nil
	}
	if len(tx.Mutations) == 0 {
		return nil
	}

	before, err := h.schemas.SchemaAt(ctx, tx.LogicalTimestamp-1)
	if err != nil {
		return fmt.Errorf("failed to read catalog before transaction %s: %w", tx.ID, err)
	}
	if !h.affectsMappedTables(before, tx) {
		log.Debug("Transaction touches no mapped table, skipping")
		return nil
	}

	if err := h.target.Apply(ctx, before, tx); err != nil {
		return fmt.Errorf("failed to write back transaction %s: %w", tx.ID, err)
	}
	log.Info("Transaction written back")
	return nil
}

// affectsMappedTables follows the catalog through tx and reports whether any
// mutation names a mapped table. Unknown tables count as affected so the
// target surfaces the referential error.
func (h *Handler) affectsMappedTables(before catalog.Schema, tx *mutation.Transaction) bool {
	if h.mapping == nil {
		return true
	}
	s := before
	for _, m := range tx.Mutations {
		next, err := mutation.Transition(s, m)
		if err != nil {
			return true
		}
		for _, candidate := range []catalog.Schema{s, next} {
			table, err := candidate.Table(m.Table())
			if err != nil {
				continue
			}
			if _, ok := h.mapping.Source(table.Name); ok {
				return true
			}
		}
		if _, err := s.Table(m.Table()); err != nil {
			if _, err := next.Table(m.Table()); err != nil {
				return true
			}
		}
		s = next
	}
	return false
}
