package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterRepository_Next(t *testing.T) {
	repo := NewCounterRepository()
	ctx := context.Background()

	for want := int64(0); want < 3; want++ {
		got, err := repo.Next(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := repo.Next(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got, "sessions are independent")
}

func TestCounterRepository_Concurrent(t *testing.T) {
	repo := NewCounterRepository()
	ctx := context.Background()

	const n = 100
	seen := make([]bool, n)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := repo.Next(ctx, "s")
			if err != nil || id < 0 || id >= n {
				return
			}
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	for i, ok := range seen {
		assert.True(t, ok, "id %d not allocated", i)
	}
}
