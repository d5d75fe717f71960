// Package memory provides the bounded hand-off queue between the item
// feeder and the worker pool.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/docscrape/internal/scrape"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations. A single
// producer enqueues and closes; any number of consumers dequeue.
type Queue struct {
	ch      chan scrape.WorkItem
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue holding up to capacity pending items.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan scrape.WorkItem, capacity),
	}
}

// Enqueue blocks until the item is accepted or the context ends.
func (q *Queue) Enqueue(ctx context.Context, item scrape.WorkItem) error {
	q.closeMu.Lock()
	closed := q.closed
	q.closeMu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item. Pending items are still delivered after Close.
func (q *Queue) Dequeue(ctx context.Context) (scrape.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return scrape.WorkItem{}, fmt.Errorf("dequeue canceled: %w", err)
	}
	select {
	case <-ctx.Done():
		return scrape.WorkItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return scrape.WorkItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports the number of buffered items.
func (q *Queue) Len() int { return len(q.ch) }

// Close stops accepting items. Calling it twice is safe.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
