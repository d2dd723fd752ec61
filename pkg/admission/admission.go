// Package admission bounds how many work items are analyzed at once.
//
// A Controller owns the in-flight set of one batch. A key is registered when a
// slot is granted and removed when its analysis completes; the set never holds
// more keys than the configured capacity.
package admission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Sentinel errors for admission.
var (
	ErrInvalidCapacity = errors.New("admission capacity must be positive")
	ErrKeyInFlight     = errors.New("key already in flight")
)

// Controller is a bounded gate over an in-flight set keyed by work item.
type Controller struct {
	sem      *semaphore.Weighted
	capacity int
	logger   *slog.Logger

	mu        sync.Mutex
	inflight  map[string]struct{}
	highWater int
}

// New creates a Controller admitting at most capacity keys at once.
// A nil logger discards warnings.
func New(capacity int, logger *slog.Logger) (*Controller, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Controller{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		logger:   logger,
		inflight: make(map[string]struct{}, capacity),
	}, nil
}

// TryAdmit grants a slot to key without blocking. It returns false when the
// set is full or key is already in flight.
func (c *Controller) TryAdmit(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.inflight[key]; dup {
		return false
	}

	if !c.sem.TryAcquire(1) {
		return false
	}

	c.register(key)

	return true
}

// Admit blocks until a slot is free, then registers key. It returns ctx.Err()
// if ctx ends first and ErrKeyInFlight without consuming a slot if key is
// already registered.
func (c *Controller) Admit(ctx context.Context, key string) error {
	if c.contains(key) {
		return fmt.Errorf("%w: %s", ErrKeyInFlight, key)
	}

	err := c.sem.Acquire(ctx, 1)
	if err != nil {
		return fmt.Errorf("admit %s: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.inflight[key]; dup {
		c.sem.Release(1)

		return fmt.Errorf("%w: %s", ErrKeyInFlight, key)
	}

	c.register(key)

	return nil
}

// Release removes key from the in-flight set and frees its slot. Releasing a
// key that was never admitted is a bug in the caller; it is logged and ignored.
func (c *Controller) Release(key string) {
	c.mu.Lock()

	if _, ok := c.inflight[key]; !ok {
		c.mu.Unlock()
		c.logger.Warn("admission: release of key that is not in flight", "key", key)

		return
	}

	delete(c.inflight, key)
	c.mu.Unlock()

	c.sem.Release(1)
}

// InFlight returns the current size of the in-flight set.
func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.inflight)
}

// HighWater returns the largest in-flight size observed so far.
func (c *Controller) HighWater() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.highWater
}

// Capacity returns the configured slot count.
func (c *Controller) Capacity() int {
	return c.capacity
}

func (c *Controller) contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.inflight[key]

	return ok
}

// register must be called with mu held and a slot acquired.
func (c *Controller) register(key string) {
	c.inflight[key] = struct{}{}
	c.highWater = max(c.highWater, len(c.inflight))
}
