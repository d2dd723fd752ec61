// Package analyzer runs the external vulnerability analysis of one contract.
//
// Every strategy implements Analyzer. Failures never escape as Go errors or
// panics: they are folded into Result.Err so the pipeline can always write a
// row for the item.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/contractscan/pkg/record"
)

// Sentinel errors.
var (
	ErrPanic      = errors.New("analyzer panicked")
	ErrPoolClosed = errors.New("analyzer pool closed")
	ErrReport     = errors.New("malformed analysis report")
	ErrStderr     = errors.New("analyzer reported errors")
	ErrExit       = errors.New("analyzer exited abnormally")
)

// Analyzer inspects one work item.
type Analyzer interface {
	Analyze(ctx context.Context, item record.WorkItem) Result
}

// Func adapts a plain function to Analyzer.
type Func func(ctx context.Context, item record.WorkItem) Result

// Analyze calls f.
func (f Func) Analyze(ctx context.Context, item record.WorkItem) Result {
	return f(ctx, item)
}

// Result holds the findings for one contract. Empty strings mean the finding
// was not reported.
type Result struct {
	Err              error
	Callstack        string
	Reentrancy       string
	TimeDependency   string
	IntegerOverflow  string
	IntegerUnderflow string
	MoneyConcurrency string
	Coverage         string
}

// Failure returns a default result carrying err.
func Failure(err error) Result {
	return Result{Err: err}
}

// Failed reports whether the analysis failed.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Columns renders the result in record.AnalysisColumns order.
func (r Result) Columns() []string {
	return []string{
		r.Callstack,
		r.Reentrancy,
		r.TimeDependency,
		r.IntegerOverflow,
		r.IntegerUnderflow,
		r.MoneyConcurrency,
		r.Coverage,
		fmt.Sprint(r.Failed()),
	}
}

// EmptyPayload reports whether the bytecode carries no code.
func EmptyPayload(payload string) bool {
	return strings.TrimPrefix(strings.TrimSpace(payload), "0x") == ""
}

// Run analyzes item with a. Items with an empty payload get a default result
// without invoking a; a panic inside a becomes Result.Err.
func Run(ctx context.Context, a Analyzer, item record.WorkItem) (res Result) {
	if EmptyPayload(item.Payload) {
		return Result{}
	}

	defer func() {
		if r := recover(); r != nil {
			res = Failure(fmt.Errorf("%w: %s: %v", ErrPanic, item.Key, r))
		}
	}()

	return a.Analyze(ctx, item)
}
