package analyzer

import (
	"context"
	"sync"

	"github.com/Sumatoshi-tech/contractscan/pkg/record"
)

// Serial shares one inner Analyzer between all callers, one item at a time.
type Serial struct {
	inner Analyzer
	mu    sync.Mutex
}

// NewSerial wraps inner.
func NewSerial(inner Analyzer) *Serial {
	return &Serial{inner: inner}
}

// Analyze waits for the inner analyzer to be free.
func (s *Serial) Analyze(ctx context.Context, item record.WorkItem) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Run(ctx, s.inner, item)
}
