// Package feed delivers committed source transactions in commit order.
package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

// Feed is a source of committed transactions with a queryable catalog
// history.
type Feed interface {
	// Subscribe calls handle for every transaction in commit order. It
	// returns when the feed is exhausted, ctx is done or handle fails.
	Subscribe(ctx context.Context, handle func(*mutation.Transaction) error) error
	SchemaAt(ctx context.Context, timestamp int64) (catalog.Schema, error)
}

const maxLineSize = 64 * 1024 * 1024

// FileFeed replays a recorded log: an optional JSON catalog holding the
// initial schema at timestamp 0 and a JSON-lines file with one transaction
// per line.
type FileFeed struct {
	transactionsPath string
	history          *catalog.History
	logger           *logger.Logger
}

func NewFileFeed(catalogPath, transactionsPath string, log *logger.Logger) (*FileFeed, error) {
	initial := catalog.Schema{}
	if catalogPath != "" {
		data, err := os.ReadFile(catalogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog file: %w", err)
		}
		if err := json.Unmarshal(data, &initial); err != nil {
			return nil, fmt.Errorf("failed to parse catalog file: %w", err)
		}
	}

	return &FileFeed{
		transactionsPath: transactionsPath,
		history:          catalog.NewHistory(initial, 0),
		logger:           log,
	}, nil
}

func (f *FileFeed) Subscribe(ctx context.Context, handle func(*mutation.Transaction) error) error {
	file, err := os.Open(f.transactionsPath)
	if err != nil {
		return fmt.Errorf("failed to open transaction log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var tx mutation.Transaction
		if err := json.Unmarshal(scanner.Bytes(), &tx); err != nil {
			return fmt.Errorf("failed to parse transaction on line %d: %w", line, err)
		}
		if _, err := mutation.ApplyTransaction(f.history, &tx); err != nil {
			return fmt.Errorf("failed to apply transaction %s on line %d: %w", tx.ID, line, err)
		}

		f.logger.WithFields(logrus.Fields{"transaction": tx.ID, "timestamp": tx.LogicalTimestamp}).
			Debug("Replaying transaction")
		if err := handle(&tx); err != nil {
			return fmt.Errorf("failed to handle transaction %s: %w", tx.ID, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read transaction log: %w", err)
	}
	return nil
}

// SchemaAt answers for timestamps up to the last transaction read so far.
func (f *FileFeed) SchemaAt(_ context.Context, timestamp int64) (catalog.Schema, error) {
	return f.history.At(timestamp)
}

// Recorder appends transactions to a JSON-lines log readable by FileFeed.
type Recorder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w}
}

func (r *Recorder) Record(tx *mutation.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction %s: %w", tx.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to record transaction %s: %w", tx.ID, err)
	}
	return nil
}
