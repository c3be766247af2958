package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

// DefaultChunkSize is the per-call record limit of the strictest external API
// the engine writes to.
const DefaultChunkSize = 10

var ErrResponseMismatch = errors.New("response does not match submitted records")

// Chunk splits items into consecutive chunks of at most size items. A size
// below one yields a single chunk.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size < 1 {
		size = len(items)
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

// ChunkError records a failed chunk. Offset is the index of its first item.
type ChunkError struct {
	Index  int
	Offset int
	Size   int
	Err    error
}

func (e ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (items %d-%d): %v", e.Index, e.Offset, e.Offset+e.Size-1, e.Err)
}

func (e ChunkError) Unwrap() error {
	return e.Err
}

// CreateResult holds one id per submitted item in submission order. Items of
// failed chunks have an empty id.
type CreateResult struct {
	IDs    []string
	Failed []ChunkError
}

func (r CreateResult) Created() int {
	n := 0
	for _, id := range r.IDs {
		if id != "" {
			n++
		}
	}
	return n
}

// CreateFunc creates the records of one chunk and returns their ids in the
// order the records were submitted.
type CreateFunc[T any] func(ctx context.Context, chunk []T) ([]string, error)

// CreateInChunks issues one create call per chunk. A failing chunk is logged
// and recorded, later chunks still run. Response order is trusted; a response
// of the wrong length fails its chunk.
func CreateInChunks[T any](ctx context.Context, log *logger.Logger, items []T, size int, create CreateFunc[T]) CreateResult {
	result := CreateResult{IDs: make([]string, len(items))}
	offset := 0
	for i, chunk := range Chunk(items, size) {
		ids, err := create(ctx, chunk)
		if err == nil && len(ids) != len(chunk) {
			err = fmt.Errorf("%w: %d ids for %d records", ErrResponseMismatch, len(ids), len(chunk))
		}
		if err != nil {
			chunkErr := ChunkError{Index: i, Offset: offset, Size: len(chunk), Err: err}
			log.WithFields(logrus.Fields{"chunk": i, "size": len(chunk)}).WithError(err).Error("Create call failed, continuing with next chunk")
			result.Failed = append(result.Failed, chunkErr)
		} else {
			copy(result.IDs[offset:], ids)
		}
		offset += len(chunk)
		if ctx.Err() != nil {
			break
		}
	}
	return result
}

// SyncInChunks issues one call per chunk and abandons on the first failure.
func SyncInChunks[T any](ctx context.Context, items []T, size int, sync func(ctx context.Context, chunk []T) error) error {
	offset := 0
	for i, chunk := range Chunk(items, size) {
		if err := sync(ctx, chunk); err != nil {
			return ChunkError{Index: i, Offset: offset, Size: len(chunk), Err: err}
		}
		offset += len(chunk)
	}
	return nil
}
