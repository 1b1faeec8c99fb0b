package syncutil

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Worker pool bounds.
const (
	MinWorkers = 1
	MaxWorkers = 8
)

// DefaultWorkers returns the CPU count clamped to [MinWorkers, MaxWorkers].
func DefaultWorkers() int {
	return ClampWorkers(runtime.NumCPU())
}

// ClampWorkers clamps n to [MinWorkers, MaxWorkers].
func ClampWorkers(n int) int {
	return min(max(n, MinWorkers), MaxWorkers)
}

// PermitPool is a counting semaphore of fixed size.
type PermitPool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPermitPool creates a pool with size permits. size <= 0 uses
// DefaultWorkers.
func NewPermitPool(size int) *PermitPool {
	if size <= 0 {
		size = DefaultWorkers()
	}
	return &PermitPool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the number of permits.
func (p *PermitPool) Size() int {
	return p.size
}

// Acquire blocks until a permit is free or ctx is done.
func (p *PermitPool) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

// TryAcquire takes a permit without blocking.
func (p *PermitPool) TryAcquire() bool {
	return p.sem.TryAcquire(1)
}

// Release returns a permit.
func (p *PermitPool) Release() {
	p.sem.Release(1)
}
