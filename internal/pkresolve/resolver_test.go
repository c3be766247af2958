package pkresolve_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirbelkuyu/dbsync/internal/mutation"
	"github.com/kadirbelkuyu/dbsync/internal/pkresolve"
	"github.com/kadirbelkuyu/dbsync/internal/value"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

type fakeReader struct {
	rows     map[int64][]value.Scalar
	err      error
	requests []pkresolve.Request
}

func (f *fakeReader) LookupRows(_ context.Context, req pkresolve.Request) ([]mutation.Row, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	var out []mutation.Row
	for _, k := range req.Keys {
		if v, ok := f.rows[k]; ok {
			out = append(out, mutation.Row{Key: k, Values: v})
		}
	}
	return out, nil
}

func TestResolveDedupesAndChunks(t *testing.T) {
	reader := &fakeReader{rows: map[int64][]value.Scalar{
		1: {value.Int(100)},
		2: {value.Int(200)},
		3: {value.Null()},
		5: {value.Int(500)},
	}}
	r := pkresolve.NewResolver(reader, 2, logger.NewLogger(false))

	got, err := r.Resolve(context.Background(), 41, "customers", []string{"id"}, []int64{5, 1, 2, 1, 3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, map[int64][]value.Scalar{
		1: {value.Int(100)},
		2: {value.Int(200)},
		5: {value.Int(500)},
	}, got)

	require.Len(t, reader.requests, 3)
	assert.Equal(t, []int64{1, 2}, reader.requests[0].Keys)
	assert.Equal(t, []int64{3, 4}, reader.requests[1].Keys)
	assert.Equal(t, []int64{5}, reader.requests[2].Keys)
	for _, req := range reader.requests {
		assert.Equal(t, int64(41), req.AsOf)
		assert.Equal(t, "customers", req.Table)
		assert.Equal(t, []string{"id"}, req.Columns)
	}
}

func TestResolveErrors(t *testing.T) {
	t.Run("reader failure", func(t *testing.T) {
		boom := errors.New("unavailable")
		r := pkresolve.NewResolver(&fakeReader{err: boom}, 0, logger.NewLogger(false))

		_, err := r.Resolve(context.Background(), 1, "customers", []string{"id"}, []int64{1})
		require.ErrorIs(t, err, boom)
	})

	t.Run("row width", func(t *testing.T) {
		reader := &fakeReader{rows: map[int64][]value.Scalar{1: {value.Int(1), value.Int(2)}}}
		r := pkresolve.NewResolver(reader, 0, logger.NewLogger(false))

		_, err := r.Resolve(context.Background(), 1, "customers", []string{"id"}, []int64{1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "2 values for 1 key columns")
	})
}

func TestResolveNoKeys(t *testing.T) {
	reader := &fakeReader{}
	r := pkresolve.NewResolver(reader, 10, logger.NewLogger(false))

	got, err := r.Resolve(context.Background(), 1, "customers", []string{"id"}, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, reader.requests)
}
