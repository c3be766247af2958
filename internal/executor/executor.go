// Package executor applies statement sets atomically and splits large
// payloads into bounded calls.
package executor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/dbsync/internal/dialect"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

// StatementError reports the statement that made a transaction fail.
type StatementError struct {
	TransactionID string
	Index         int
	Statement     dialect.Statement
	Err           error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("transaction %s statement %d failed: %v (%s)", e.TransactionID, e.Index, e.Err, e.Statement)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

type Options struct {
	// Isolation defaults to serializable.
	Isolation sql.IsolationLevel
	DryRun    bool
}

type Executor struct {
	db      *sql.DB
	options Options
	logger  *logger.Logger
}

func NewExecutor(db *sql.DB, options Options, log *logger.Logger) *Executor {
	if options.Isolation == sql.LevelDefault {
		options.Isolation = sql.LevelSerializable
	}
	return &Executor{db: db, options: options, logger: log}
}

// Apply runs stmts in order inside one store transaction. Any failure rolls
// the whole set back.
func (e *Executor) Apply(ctx context.Context, transactionID string, stmts []dialect.Statement) (err error) {
	log := e.logger.WithFields(logrus.Fields{"transaction": transactionID, "statements": len(stmts)})
	if len(stmts) == 0 {
		log.Debug("Nothing to apply")
		return nil
	}
	if e.options.DryRun {
		for _, stmt := range stmts {
			log.Info(stmt.String())
		}
		return nil
	}

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{Isolation: e.options.Isolation})
	if err != nil {
		return fmt.Errorf("failed to begin transaction %s: %w", transactionID, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	for i, stmt := range stmts {
		log.WithField("index", i).Debug(stmt.SQL)
		if _, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			stmtErr := &StatementError{TransactionID: transactionID, Index: i, Statement: stmt, Err: err}
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("%w (rollback error: %v)", stmtErr, rbErr)
			}
			return stmtErr
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction %s: %w", transactionID, err)
	}
	log.Info("Transaction applied")
	return nil
}
