package batch

import "time"

// State is the lifecycle position of a batch.
type State int

// Batch states. A batch ends in SKIPPED, CLOSED or FAILED.
const (
	StateInit State = iota
	StateSkipped
	StateStreaming
	StateDraining
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateInit:      "INIT",
	StateSkipped:   "SKIPPED",
	StateStreaming: "STREAMING",
	StateDraining:  "DRAINING",
	StateClosed:    "CLOSED",
	StateFailed:    "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}

	return stateNames[s]
}

// Stats are the counters of one batch.
type Stats struct {
	Rows         int
	Errors       int
	WaitTime     time.Duration
	AnalysisTime time.Duration
	Elapsed      time.Duration
	MaxInFlight  int
	OutputBytes  int64
}

// Report is emitted once per batch when it reaches its final state.
type Report struct {
	Batch Batch
	State State
	Stats Stats
	Err   error
}

// Totals aggregate the reports of a run.
type Totals struct {
	Stats

	Batches int
	Skipped int
	Failed  int
	// FailedRows counts rows analyzed in failed batches. Their output was
	// discarded, so they are not part of Rows.
	FailedRows int
}

// Add folds one report into the totals. Only closed batches contribute
// rows and analysis counters; a failed batch adds its elapsed time.
func (t *Totals) Add(r Report) {
	t.Batches++

	switch r.State {
	case StateSkipped:
		t.Skipped++

		return
	case StateFailed:
		t.Failed++
		t.FailedRows += r.Stats.Rows
		t.Elapsed += r.Stats.Elapsed

		return
	}

	t.Rows += r.Stats.Rows
	t.Errors += r.Stats.Errors
	t.WaitTime += r.Stats.WaitTime
	t.AnalysisTime += r.Stats.AnalysisTime
	t.Elapsed += r.Stats.Elapsed
	t.MaxInFlight = max(t.MaxInFlight, r.Stats.MaxInFlight)
	t.OutputBytes += r.Stats.OutputBytes
}
