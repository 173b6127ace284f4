// Package taskgroup provides a fan-out/join group whose children fail
// independently: one child's error never cancels its siblings, and Wait
// reports every failure.
package taskgroup

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Group runs child tasks tied to one unit of work.
type Group struct {
	ctx  context.Context
	eg   errgroup.Group
	mu   sync.Mutex
	errs []error
}

// New creates a Group whose children receive ctx. A positive limit bounds
// how many children run at once; Go blocks while the group is full.
func New(ctx context.Context, limit int) *Group {
	g := &Group{ctx: ctx}
	if limit > 0 {
		g.eg.SetLimit(limit)
	}
	return g
}

// Go starts task in its own goroutine.
func (g *Group) Go(task func(ctx context.Context) error) {
	g.eg.Go(func() error {
		if err := task(g.ctx); err != nil {
			g.mu.Lock()
			g.errs = append(g.errs, err)
			g.mu.Unlock()
		}
		// Errors are collected above so errgroup never short-circuits.
		return nil
	})
}

// Wait blocks until every child has returned and reports their errors in
// completion order.
func (g *Group) Wait() []error {
	_ = g.eg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]error(nil), g.errs...)
}
