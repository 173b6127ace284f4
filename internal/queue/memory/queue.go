// Package memory provides an in-process page queue.
package memory

import (
	"context"
	"fmt"
)

// Queue is a finite, pre-populated page queue backed by a closed buffered
// channel. Each receive hands an entry to exactly one caller.
type Queue struct {
	ch chan string
}

// NewQueue seeds a queue with urls and seals it; nothing can be added later.
func NewQueue(urls []string) *Queue {
	ch := make(chan string, len(urls))
	for _, u := range urls {
		ch <- u
	}
	close(ch)
	return &Queue{ch: ch}
}

// TryTake returns the next URL, or ok=false once the queue is drained. It
// never waits for new work.
func (q *Queue) TryTake(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, fmt.Errorf("take canceled: %w", err)
	}
	select {
	case url, ok := <-q.ch:
		return url, ok, nil
	default:
		return "", false, nil
	}
}
