package analyzer

import (
	"context"
	"sync"

	"github.com/Sumatoshi-tech/contractscan/pkg/record"
)

type job struct {
	ctx   context.Context //nolint:containedctx // carried to the worker with the item.
	item  record.WorkItem
	reply chan Result
}

// Pool runs analyses on a fixed set of long-lived workers sharing one inner
// Analyzer. Callers block until a worker has finished their item.
type Pool struct {
	inner Analyzer
	jobs  chan job
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewPool starts workers goroutines delegating to inner. A non-positive
// count starts one worker.
func NewPool(inner Analyzer, workers int) *Pool {
	workers = max(workers, 1)

	p := &Pool{
		inner: inner,
		jobs:  make(chan job),
		done:  make(chan struct{}),
	}

	p.wg.Add(workers)

	for range workers {
		go p.work()
	}

	return p
}

func (p *Pool) work() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case j := <-p.jobs:
			j.reply <- Run(j.ctx, p.inner, j.item)
		}
	}
}

// Analyze hands item to the next idle worker.
func (p *Pool) Analyze(ctx context.Context, item record.WorkItem) Result {
	j := job{ctx: ctx, item: item, reply: make(chan Result, 1)}

	select {
	case <-p.done:
		return Failure(ErrPoolClosed)
	case p.jobs <- j:
	}

	return <-j.reply
}

// Close stops the workers after their current item.
func (p *Pool) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.wg.Wait()
	})

	return nil
}
