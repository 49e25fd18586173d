package main

import (
	"context"
	"sync"
)

// workerGroup tracks the goroutines that use the database so shutdown can
// wait for them before closing the pool.
type workerGroup struct {
	ctx context.Context
	wg  sync.WaitGroup
}

func newWorkerGroup(ctx context.Context) *workerGroup {
	return &workerGroup{ctx: ctx}
}

// Go runs fn with the group's context in a tracked goroutine.
func (g *workerGroup) Go(fn func(context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn(g.ctx)
	}()
}

// Tracked wraps fn for callers that start their own goroutine, such as
// leadership callbacks.
func (g *workerGroup) Tracked(fn func(context.Context)) func(context.Context) {
	return func(ctx context.Context) {
		g.wg.Add(1)
		defer g.wg.Done()
		fn(ctx)
	}
}

// Wait blocks until every tracked goroutine returned or ctx is done. It
// reports whether all of them returned.
func (g *workerGroup) Wait(ctx context.Context) bool {
	stopped := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		return true
	case <-ctx.Done():
		return false
	}
}
