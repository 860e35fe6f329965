package types

import (
	"fmt"
	"time"
)

// GroupStatus is the exit status recorded for one test group.
//
// Zero means the group passed. A positive value is the child's exit code
// (or the synthetic failure code when setup or launch itself failed). A
// negative value means the child died from a signal, encoded as the
// negated signal number.
type GroupStatus int

const (
	// GroupStatusPass indicates the child exited 0.
	GroupStatusPass GroupStatus = 0
	// GroupStatusSetupFailed is the synthetic status recorded when setup
	// or launch raised before the child produced a real exit code.
	GroupStatusSetupFailed GroupStatus = 1
	// GroupStatusInterrupted is the negated SIGINT value, recorded when a
	// run is cut short by an interrupt. Observing it stops further
	// scheduling.
	GroupStatusInterrupted GroupStatus = -2
)

// Passed reports whether the group completed successfully.
func (s GroupStatus) Passed() bool {
	return s == GroupStatusPass
}

// Failed reports whether the group counts as failed in the aggregate:
// any nonzero exit code or signal death. Interrupted groups are not
// counted as failures; the run-wide interrupt handling owns that outcome.
func (s GroupStatus) Failed() bool {
	return s != GroupStatusPass && s != GroupStatusInterrupted
}

// Interrupted reports whether the group was cut short by an interrupt.
func (s GroupStatus) Interrupted() bool {
	return s == GroupStatusInterrupted
}

// Signal returns the signal number for signal-death statuses, or 0.
func (s GroupStatus) Signal() int {
	if s < 0 {
		return -int(s)
	}
	return 0
}

func (s GroupStatus) String() string {
	switch {
	case s == GroupStatusPass:
		return "pass"
	case s == GroupStatusInterrupted:
		return "interrupted"
	case s < 0:
		return fmt.Sprintf("signal(%d)", -int(s))
	default:
		return fmt.Sprintf("fail(%d)", int(s))
	}
}

// GroupResult captures the outcome of one test group's lifecycle.
type GroupResult struct {
	Name     string
	Status   GroupStatus
	Duration time.Duration
	Start    time.Time
	End      time.Time

	// Output is the captured combined stdout/stderr, populated when the
	// group ran with output buffering enabled.
	Output []byte

	// LogFile and XUnitFile are artifact paths derived from the group
	// name, empty when the corresponding artifact is disabled.
	LogFile   string
	XUnitFile string
}

// SkippedGroup records a group that was filtered out before execution,
// together with the host requirements it was missing.
type SkippedGroup struct {
	Name    string
	Missing []string
}

// RunStats summarizes a run's partition sizes.
type RunStats struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
}

// RunReport aggregates all group outcomes for a single invocation.
// It exists only in memory for the duration of one run.
type RunReport struct {
	RunID       string
	Passed      []GroupResult
	Failed      []GroupResult
	Skipped     []SkippedGroup
	Duration    time.Duration
	Interrupted bool

	// Coverage records the coverage format requested for this run;
	// rendering the collected data is an external post-processing step.
	Coverage CoverageMode
}

// Stats computes the partition sizes for the report.
func (r *RunReport) Stats() RunStats {
	return RunStats{
		Total:   len(r.Passed) + len(r.Failed) + len(r.Skipped),
		Passed:  len(r.Passed),
		Failed:  len(r.Failed),
		Skipped: len(r.Skipped),
	}
}

// FailedNames returns the names of all failed groups in completion order.
// The list is what the operator needs to re-invoke exactly the failing
// subset.
func (r *RunReport) FailedNames() []string {
	names := make([]string, 0, len(r.Failed))
	for _, g := range r.Failed {
		names = append(names, g.Name)
	}
	return names
}

// Success reports whether every runnable group passed.
func (r *RunReport) Success() bool {
	return len(r.Failed) == 0 && !r.Interrupted
}

// String renders a short human-readable summary of the run.
func (r *RunReport) String() string {
	stats := r.Stats()
	return fmt.Sprintf("Run %s: %d groups, %d passed, %d failed, %d skipped (%s)",
		r.RunID, stats.Total, stats.Passed, stats.Failed, stats.Skipped, r.Duration.Round(time.Millisecond))
}
