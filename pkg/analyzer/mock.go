package analyzer

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sumatoshi-tech/contractscan/pkg/record"
)

// Mock is a deterministic in-process Analyzer for tests and dry runs.
type Mock struct {
	// Respond builds the result for an item. Nil reports no findings.
	Respond func(item record.WorkItem) Result
	// Delay is slept before responding.
	Delay time.Duration

	calls  atomic.Int64
	active atomic.Int64
	peak   atomic.Int64
	mu     sync.Mutex
	keys   []string
}

// Analyze records the call and returns Respond(item).
func (m *Mock) Analyze(_ context.Context, item record.WorkItem) Result {
	m.calls.Add(1)

	n := m.active.Add(1)
	defer m.active.Add(-1)

	for {
		old := m.peak.Load()
		if n <= old || m.peak.CompareAndSwap(old, n) {
			break
		}
	}

	m.mu.Lock()
	m.keys = append(m.keys, item.Key)
	m.mu.Unlock()

	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	if m.Respond == nil {
		return Result{}
	}

	return m.Respond(item)
}

// Calls returns how many items were analyzed.
func (m *Mock) Calls() int {
	return int(m.calls.Load())
}

// Peak returns the largest number of concurrent Analyze calls observed.
func (m *Mock) Peak() int {
	return int(m.peak.Load())
}

// Keys returns the analyzed keys in call order.
func (m *Mock) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.keys)
}
