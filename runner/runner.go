package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-suite/catalog"
	"github.com/ethereum-optimism/infra/op-suite/metrics"
	"github.com/ethereum-optimism/infra/op-suite/reporting"
	"github.com/ethereum-optimism/infra/op-suite/types"
)

// XUnitFileEnv names the environment variable through which a group's
// xunit artifact path is exported to the child.
const XUnitFileEnv = "OP_SUITE_XUNIT_FILE"

// Config contains scheduler configuration.
type Config struct {
	Catalog *catalog.Catalog
	Log     log.Logger

	// GroupFilter restricts the run to the named groups; empty means all.
	GroupFilter []string
	// IncludeSlow includes groups marked slow in the catalog.
	IncludeSlow bool
	// Concurrency is the resolved worker count; 1 means sequential.
	Concurrency int
	// Capture is the requested output mode. Parallel runs coerce show to
	// capture.
	Capture types.CaptureMode

	XUnit    bool
	Coverage types.CoverageMode
	// ArtifactsDir is the run-scoped artifact directory, already created.
	ArtifactsDir string
	RunID        string

	ReadyTimeout    time.Duration
	ShutdownTimeout time.Duration

	Sinks []reporting.ResultSink
}

// Runner is the scheduler: it partitions catalog groups into runnable and
// skipped, executes the runnable ones sequentially or through a bounded
// worker pool, and aggregates results in completion order.
type Runner struct {
	cfg      Config
	log      log.Logger
	registry *ProcessRegistry
	tracer   trace.Tracer
}

// NewRunner validates the configuration and builds a scheduler.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	return &Runner{
		cfg:      cfg,
		log:      cfg.Log.New("component", "runner"),
		registry: NewProcessRegistry(cfg.Log),
		tracer:   otel.Tracer("suite runner"),
	}, nil
}

// Registry exposes the run's live-process registry.
func (r *Runner) Registry() *ProcessRegistry {
	return r.registry
}

// Run executes the whole suite once: Preparing → Executing →
// Aggregating → Reporting. Only a group-filter or catalog error is fatal;
// individual group failures are recorded, never propagated. An interrupt
// stops further scheduling but lets in-flight cleanups finish.
func (r *Runner) Run(ctx context.Context) (*types.RunReport, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "suite run")
	defer span.End()

	// Preparing: enumeration failure here is the only fatal path.
	groups, err := r.cfg.Catalog.Select(r.cfg.GroupFilter)
	if err != nil {
		return nil, err
	}

	runnable, skipped := r.partition(ctx, groups)
	report := &types.RunReport{RunID: r.cfg.RunID, Skipped: skipped, Coverage: r.cfg.Coverage}

	mode := r.cfg.Capture
	if r.cfg.Concurrency > 1 && mode == types.CaptureShow {
		r.log.Info("Coercing capture mode to buffered for parallel execution")
		mode = types.CaptureBuffer
	}

	r.log.Info("Starting test groups", "runnable", len(runnable), "skipped", len(skipped),
		"concurrency", r.cfg.Concurrency, "capture", mode, "run_id", r.cfg.RunID)

	// Executing.
	var results []types.GroupResult
	if r.cfg.Concurrency > 1 {
		results, report.Interrupted = r.runParallel(ctx, runnable, mode)
	} else {
		results, report.Interrupted = r.runSerial(ctx, runnable, mode)
	}

	// Aggregating.
	for i := range results {
		res := results[i]
		metrics.RecordGroupResult(r.cfg.RunID, res.Name, res.Status.String(), res.Duration)
		for _, sink := range r.cfg.Sinks {
			if err := sink.Consume(&results[i]); err != nil {
				r.log.Error("Result sink failed", "group", res.Name, "err", err)
			}
		}
		switch {
		case res.Status.Passed():
			report.Passed = append(report.Passed, res)
		case res.Status.Interrupted():
			// Accounted for by report.Interrupted, not a failure.
		default:
			report.Failed = append(report.Failed, res)
		}
	}
	for _, sink := range r.cfg.Sinks {
		if err := sink.Complete(r.cfg.RunID); err != nil {
			r.log.Error("Result sink completion failed", "err", err)
		}
	}

	// Anything still alive at this point leaked past its cleanup.
	if leaked := r.registry.Sweep(); len(leaked) > 0 {
		r.log.Warn("Run finished with leaked processes", "count", len(leaked))
	}

	report.Duration = time.Since(start)
	result := "pass"
	if !report.Success() {
		result = "fail"
	}
	metrics.RecordRun(r.cfg.RunID, result, report.Duration)
	return report, nil
}

// partition splits the selected groups into runnable and skipped using a
// single host-capability probe. Skipped groups are reported with the
// reasons that excluded them and are never attempted.
func (r *Runner) partition(ctx context.Context, groups []catalog.Group) ([]catalog.Group, []types.SkippedGroup) {
	tools := make([]string, 0)
	seen := make(map[string]bool)
	for _, g := range groups {
		for _, tool := range g.Requires {
			if !seen[tool] {
				seen[tool] = true
				tools = append(tools, tool)
			}
		}
	}
	caps := catalog.ProbeCapabilities(ctx, r.log, tools)

	var runnable []catalog.Group
	var skipped []types.SkippedGroup
	for _, g := range groups {
		// A skipped group reports every reason that excluded it, matching
		// the list command's runnability output.
		reasons := g.MissingRequirements(caps)
		if g.Slow && !r.cfg.IncludeSlow {
			reasons = append(reasons, "slow (enable with --all)")
		}
		if len(reasons) > 0 {
			r.log.Info("Skipping group", "group", g.Name, "reasons", reasons)
			skipped = append(skipped, types.SkippedGroup{Name: g.Name, Missing: reasons})
			continue
		}
		runnable = append(runnable, g)
	}
	return runnable, skipped
}

// buildController turns one catalog group into its supervised unit,
// attaching the server specialization when the group declares one.
func (r *Runner) buildController(g catalog.Group) GroupController {
	env := make(map[string]string, len(g.Env)+2)
	for k, v := range g.Env {
		env[k] = v
	}
	if r.cfg.XUnit {
		env[XUnitFileEnv] = filepath.Join(r.cfg.ArtifactsDir, g.Name+"_xunit.xml")
	}
	if r.cfg.Coverage.Enabled() {
		covDir := filepath.Join(r.cfg.ArtifactsDir, "coverage", g.Name)
		if err := os.MkdirAll(covDir, 0o755); err != nil {
			r.log.Error("Failed to create coverage dir, coverage disabled for group", "group", g.Name, "err", err)
		} else {
			env["GOCOVERDIR"] = covDir
		}
	}

	base := NewController(ControllerConfig{
		Name:     g.Name,
		Command:  g.Command,
		Env:      env,
		Dir:      g.Dir,
		Log:      r.log,
		Registry: r.registry,
	})
	if g.Server == nil {
		return base
	}
	return NewServerController(base, ServerSpec{
		Command:         g.Server.Command,
		InfoFile:        g.Server.InfoFile,
		URLEnv:          g.Server.URLEnv,
		ReadyTimeout:    r.cfg.ReadyTimeout,
		PollInterval:    DefaultPollInterval,
		ShutdownTimeout: r.cfg.ShutdownTimeout,
	})
}

// runOne owns one controller's full lifecycle. Setup and launch errors
// become the synthetic failure status; Cleanup always runs, and the
// captured output is finalized before the result is returned.
func (r *Runner) runOne(ctx context.Context, gc GroupController, mode types.CaptureMode) (res types.GroupResult) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("group %s", gc.Name()))
	defer span.End()

	start := time.Now()
	res = types.GroupResult{Name: gc.Name(), Start: start}
	defer func() {
		gc.Cleanup()
		res.Output = gc.Output()
		res.End = time.Now()
		res.Duration = res.End.Sub(start)
		if r.cfg.XUnit {
			res.XUnitFile = filepath.Join(r.cfg.ArtifactsDir, gc.Name()+"_xunit.xml")
		}
	}()

	if err := gc.Setup(ctx); err != nil {
		if ctx.Err() != nil {
			res.Status = types.GroupStatusInterrupted
			return
		}
		r.log.Error("Group setup failed", "group", gc.Name(), "err", err)
		res.Status = types.GroupStatusSetupFailed
		return
	}
	if err := gc.Launch(mode); err != nil {
		r.log.Error("Group launch failed", "group", gc.Name(), "err", err)
		res.Status = types.GroupStatusSetupFailed
		return
	}
	res.Status = gc.Wait(ctx)
	return
}

// runSerial executes groups one at a time in catalog order, streaming
// output live per the capture mode. An interrupt stops scheduling
// immediately; the remaining queue is not drained.
func (r *Runner) runSerial(ctx context.Context, groups []catalog.Group, mode types.CaptureMode) ([]types.GroupResult, bool) {
	var results []types.GroupResult
	for _, g := range groups {
		if ctx.Err() != nil {
			r.log.Warn("Interrupted, not scheduling remaining groups", "remaining", len(groups)-len(results))
			return results, true
		}
		fmt.Printf("Running test group: %s\n", g.Name)
		res := r.runOne(ctx, r.buildController(g), mode)
		results = append(results, res)
		// In show mode the failure already streamed live.
		if mode == types.CaptureBuffer {
			r.printFailedOutput(res)
		}
		if res.Status.Interrupted() {
			r.log.Warn("Group interrupted, stopping", "group", g.Name)
			return results, true
		}
	}
	return results, false
}

// runParallel executes groups through a bounded pool of exactly N
// workers, each owning one controller's lifecycle setup-through-cleanup.
// Results are consumed in completion order. On interrupt the dispatcher
// stops feeding work while the collector keeps draining, so every
// dispatched worker finishes its cleanup and delivers before this
// returns.
func (r *Runner) runParallel(ctx context.Context, groups []catalog.Group, mode types.CaptureMode) ([]types.GroupResult, bool) {
	n := r.cfg.Concurrency
	if n > len(groups) {
		n = len(groups)
	}
	if n < 1 {
		return nil, false
	}

	// Pool-scoped cancellation: a child dying from SIGINT must stop further
	// scheduling even when the run-level context is still live.
	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Conservative buffering regardless of group count.
	bufferSize := min(2*n, maxWorkBuffer)
	workChan := make(chan catalog.Group, bufferSize)
	resultChan := make(chan types.GroupResult, bufferSize)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go r.worker(poolCtx, &wg, workChan, resultChan, mode)
	}

	go func() {
		defer close(workChan)
		for _, g := range groups {
			select {
			case workChan <- g:
			case <-poolCtx.Done():
				r.log.Debug("Canceled while dispatching groups")
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	// Drain to closure: workers deliver unconditionally, so the pool can
	// only shut down while the collector keeps consuming. The first
	// interrupt sentinel cancels dispatch; later results are recorded
	// silently.
	var results []types.GroupResult
	interrupted := false
	for res := range resultChan {
		results = append(results, res)
		if res.Status.Interrupted() {
			if !interrupted {
				interrupted = true
				fmt.Println("Interrupted")
				cancel()
			}
			continue
		}
		if !interrupted {
			r.printParallelResult(res, mode)
		}
	}
	return results, interrupted
}

// worker owns one controller lifecycle at a time. The deferred cleanup
// inside runOne runs even when the pool is shutting down. Delivery never
// races against cancellation; the collector drains until the channel
// closes, so an interrupted result is always observed.
func (r *Runner) worker(ctx context.Context, wg *sync.WaitGroup, workChan <-chan catalog.Group, resultChan chan<- types.GroupResult, mode types.CaptureMode) {
	defer wg.Done()
	for g := range workChan {
		resultChan <- r.runOne(ctx, r.buildController(g), mode)
	}
}

// printParallelResult writes one status line per completed group, plus
// the full buffered output for failures only. Printing happens solely on
// the collector goroutine so lines never interleave.
func (r *Runner) printParallelResult(res types.GroupResult, mode types.CaptureMode) {
	verdict := "OK"
	if !res.Status.Passed() {
		verdict = strings.ToUpper(res.Status.String())
	}
	fmt.Printf("Test group: %-30s %s (%s)\n", res.Name, verdict, res.Duration.Round(time.Millisecond))

	if mode != types.CaptureDiscard {
		r.printFailedOutput(res)
	}
}

// printFailedOutput dumps a failed group's buffered output between marker
// lines; passing and interrupted groups print nothing.
func (r *Runner) printFailedOutput(res types.GroupResult) {
	if res.Status.Passed() || res.Status.Interrupted() || len(res.Output) == 0 {
		return
	}
	fmt.Printf("%s\noutput of failed group %s:\n%s\n%s\n",
		strings.Repeat("-", 70), res.Name, res.Output, strings.Repeat("-", 70))
}
