package writeback

import (
	"context"
	"fmt"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/dialect"
	"github.com/kadirbelkuyu/dbsync/internal/mapping"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
	"github.com/kadirbelkuyu/dbsync/internal/schema"
	"github.com/kadirbelkuyu/dbsync/internal/translate"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

type Translator interface {
	Translate(ctx context.Context, s catalog.Schema, tx *mutation.Transaction) ([]dialect.Statement, error)
}

type TranslatorFunc func(ctx context.Context, s catalog.Schema, tx *mutation.Transaction) ([]dialect.Statement, error)

func (f TranslatorFunc) Translate(ctx context.Context, s catalog.Schema, tx *mutation.Transaction) ([]dialect.Statement, error) {
	return f(ctx, s, tx)
}

// Mirror adapts a mirror translator.
func Mirror(m *translate.Mirror) Translator {
	return TranslatorFunc(func(_ context.Context, s catalog.Schema, tx *mutation.Transaction) ([]dialect.Statement, error) {
		return m.Translate(s, tx)
	})
}

// TableSource lists the columns and primary keys of every external table.
type TableSource interface {
	Tables(ctx context.Context) (map[string]schema.Table, error)
}

// Writeback builds a writeback translator that fetches external table
// metadata anew for every transaction.
func Writeback(d dialect.Dialect, m *mapping.TableMapping, tables TableSource, resolver translate.KeyResolver, log *logger.Logger) Translator {
	return TranslatorFunc(func(ctx context.Context, s catalog.Schema, tx *mutation.Transaction) ([]dialect.Statement, error) {
		external, err := tables.Tables(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch external table metadata: %w", err)
		}
		return translate.NewWriteback(d, m, external, resolver, log).Translate(ctx, s, tx)
	})
}

// Applier runs the statements of one transaction atomically.
type Applier interface {
	Apply(ctx context.Context, transactionID string, stmts []dialect.Statement) error
}

// SQLTarget translates transactions to statements and applies them.
type SQLTarget struct {
	translator Translator
	applier    Applier
	logger     *logger.Logger
}

func NewSQLTarget(translator Translator, applier Applier, log *logger.Logger) *SQLTarget {
	return &SQLTarget{translator: translator, applier: applier, logger: log}
}

func (t *SQLTarget) Apply(ctx context.Context, before catalog.Schema, tx *mutation.Transaction) error {
	stmts, err := t.translator.Translate(ctx, before, tx)
	if err != nil {
		return err
	}
	if len(stmts) == 0 {
		t.logger.WithField("transaction", tx.ID).Debug("Transaction produced no statements")
		return nil
	}
	return t.applier.Apply(ctx, tx.ID, stmts)
}
