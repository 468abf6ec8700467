// Package memory provides process-local stores.
package memory

import (
	"context"
	"sync"
)

// CounterRepository keeps one counter per session in memory
type CounterRepository struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewCounterRepository creates an empty counter repository
func NewCounterRepository() *CounterRepository {
	return &CounterRepository{counters: make(map[string]int64)}
}

// Next returns the next value of the session counter, starting from 0
func (r *CounterRepository) Next(ctx context.Context, session string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.counters[session]
	if ok {
		id++
	}
	r.counters[session] = id
	return id, nil
}
