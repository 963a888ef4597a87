package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 2}

	var counter int64
	n := 1000
	err := For(context.Background(), n, func(_ int) error {
		atomic.AddInt64(&counter, 1)
		return nil
	}, cfg)

	require.NoError(t, err)
	assert.Equal(t, int64(n), counter)
}

func TestForPairs(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}

	rows, cols := 4, 8
	results := make([][]bool, rows)
	for i := range results {
		results[i] = make([]bool, cols)
	}

	err := ForPairs(context.Background(), rows, cols, func(i, j int) error {
		results[i][j] = true
		return nil
	}, cfg)
	require.NoError(t, err)

	for i := range rows {
		for j := range cols {
			assert.True(t, results[i][j], "missing result at [%d][%d]", i, j)
		}
	}
}

func TestFor_Sequential(t *testing.T) {
	cfg := Config{Enabled: false}

	var order []int
	err := For(context.Background(), 5, func(i int) error {
		order = append(order, i)
		return nil
	}, cfg)

	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestFor_FirstErrorWins(t *testing.T) {
	boom := errors.New("boom")

	for _, cfg := range []Config{
		{Enabled: false},
		{Enabled: true, NumWorkers: 8, MinChunkSize: 1},
	} {
		var calls int64
		err := For(context.Background(), 200, func(i int) error {
			atomic.AddInt64(&calls, 1)
			if i == 3 {
				return boom
			}
			return nil
		}, cfg)

		assert.ErrorIs(t, err, boom)
		assert.Less(t, atomic.LoadInt64(&calls), int64(200))
	}
}

func TestFor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := For(ctx, 10, func(_ int) error { return nil }, DefaultConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func BenchmarkFor(b *testing.B) {
	cfg := DefaultConfig()
	n := 10000

	b.Run("parallel", func(b *testing.B) {
		for b.Loop() {
			var sum int64
			_ = For(context.Background(), n, func(i int) error {
				atomic.AddInt64(&sum, int64(i))
				return nil
			}, cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		cfgSeq := cfg
		cfgSeq.Enabled = false
		for b.Loop() {
			var sum int64
			_ = For(context.Background(), n, func(i int) error {
				atomic.AddInt64(&sum, int64(i))
				return nil
			}, cfgSeq)
		}
	})
}
