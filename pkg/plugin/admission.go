package plugin

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// AdmissionGate bounds the number of executions running at once.
type AdmissionGate interface {
	// Acquire blocks until a slot is free or ctx is done.
	Acquire(ctx context.Context) error
	// Release returns a slot obtained by a successful Acquire.
	Release()
	// InUse reports the number of slots currently held.
	InUse() int
	// Capacity reports the total number of slots.
	Capacity() int
}

type semaphoreGate struct {
	sem      *semaphore.Weighted
	capacity int
	inUse    atomic.Int64
}

// NewAdmissionGate returns a gate with n slots backed by a weighted semaphore.
func NewAdmissionGate(n int) AdmissionGate {
	if n <= 0 {
		n = DefaultMaxConcurrentExecutions
	}
	return &semaphoreGate{sem: semaphore.NewWeighted(int64(n)), capacity: n}
}

func (g *semaphoreGate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.inUse.Add(1)
	return nil
}

func (g *semaphoreGate) Release() {
	g.inUse.Add(-1)
	g.sem.Release(1)
}

func (g *semaphoreGate) InUse() int { return int(g.inUse.Load()) }

func (g *semaphoreGate) Capacity() int { return g.capacity }
