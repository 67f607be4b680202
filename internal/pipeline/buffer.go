package pipeline

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// FlushFunc persists a batch of rows and reports how many were written.
type FlushFunc[T any] func(ctx context.Context, rows []T) (int, error)

// Buffer collects rows from concurrent producers and hands them to flush
// once size rows are pending.
type Buffer[T any] struct {
	name    string
	size    int
	flush   FlushFunc[T]
	mu      sync.Mutex
	pending []T
	written int
}

func NewBuffer[T any](name string, size int, flush FlushFunc[T]) *Buffer[T] {
	if size < 1 {
		size = 1
	}
	return &Buffer[T]{
		name:    name,
		size:    size,
		flush:   flush,
		pending: make([]T, 0, size),
	}
}

// Add queues rows and flushes when the buffer is full.
func (b *Buffer[T]) Add(ctx context.Context, rows ...T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, rows...)
	if len(b.pending) >= b.size {
		return b.flushLocked(ctx)
	}
	return nil
}

// Finalize flushes whatever is still pending.
func (b *Buffer[T]) Finalize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.flushLocked(ctx)
}

// Written is the number of rows flushed so far.
func (b *Buffer[T]) Written() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// flushLocked must be called with b.mu held.
func (b *Buffer[T]) flushLocked(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}

	n, err := b.flush(ctx, b.pending)
	b.written += n
	if err != nil {
		return err
	}

	log.Debug().Str("buffer", b.name).Int("rows", n).Int("total", b.written).Msg("buffer flushed")
	b.pending = make([]T, 0, b.size)
	return nil
}
