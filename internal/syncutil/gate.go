package syncutil

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

const gateKey = "scan"

// Gate lets one scan run at a time. A trigger arriving while a scan is in
// flight joins it: it waits for that scan to finish and returns its result
// without scanning again.
type Gate struct {
	group   singleflight.Group
	callers atomic.Int32
}

// NewGate creates an open gate.
func NewGate() *Gate {
	return &Gate{}
}

// Do runs fn unless a call is already running, in which case it waits for
// that call and returns its error. fn receives the ctx of the caller that
// started it. A caller whose ctx ends first returns ctx.Err() while the scan
// carries on.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.callers.Add(1)
	defer g.callers.Add(-1)

	ch := g.group.DoChan(gateKey, func() (any, error) {
		return nil, fn(ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// active reports how many callers are inside Do.
func (g *Gate) active() int {
	return int(g.callers.Load())
}
