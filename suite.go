package suite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"github.com/honeycombio/otel-config-go/otelconfig"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-suite/catalog"
	"github.com/ethereum-optimism/infra/op-suite/exitcodes"
	"github.com/ethereum-optimism/infra/op-suite/logging"
	"github.com/ethereum-optimism/infra/op-suite/reporting"
	"github.com/ethereum-optimism/infra/op-suite/runner"
	"github.com/ethereum-optimism/infra/op-suite/service"
	"github.com/ethereum-optimism/infra/op-suite/types"
)

// Suite implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &Suite{}

// Suite is the test-suite orchestrator: it loads the catalog, runs every
// selected group once, prints the consolidated report and maps the
// outcome to the process exit code through a typed error.
type Suite struct {
	ctx     context.Context
	config  *Config
	version string
	catalog *catalog.Catalog
	report  *types.RunReport

	monitoring        *service.Service
	telemetryShutdown func()
	running           atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Suite, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating suite with config",
		"catalog", config.CatalogPath,
		"groups", config.Groups,
		"concurrency", config.Concurrency,
		"capture", config.Capture,
		"artifactsDir", config.ArtifactsDir)

	cat, err := catalog.New(catalog.Config{
		Log:         config.Log,
		CatalogFile: config.CatalogPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	return &Suite{
		ctx:              ctx,
		config:           config,
		version:          version,
		catalog:          cat,
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the suite once and resolves the process outcome.
// Start implements the cliapp.Lifecycle interface.
func (s *Suite) Start(ctx context.Context) error {
	// Panic safety net: anything escaping the runner is a runtime error.
	defer func() {
		if r := recover(); r != nil {
			s.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	s.ctx = ctx
	s.running.Store(true)

	if s.config.OtelEnabled {
		tctx, shutdown, err := telemetry.SetupOpenTelemetry(ctx,
			otelconfig.WithServiceName("op-suite"),
			otelconfig.WithServiceVersion(s.version),
		)
		if err != nil {
			return NewRuntimeError(fmt.Errorf("failed to setup open telemetry: %w", err))
		}
		ctx = tctx
		s.telemetryShutdown = shutdown
	}

	if s.config.MonitoringEnabled {
		s.monitoring = service.New(s.config.MonitoringPort, s.config.MetricsPort)
		s.monitoring.Start(ctx)
	}

	s.printRunHeader()

	report, err := s.runSuite(ctx)
	if err != nil {
		s.config.Log.Error("Runtime error running suite", "error", err)
		return NewRuntimeError(err)
	}
	s.report = report

	s.printResultsTable(report)
	fmt.Println(report.String())
	s.printFailureSummary(report)

	if report.Interrupted {
		s.config.Log.Warn("Run interrupted, returning exit code 130")
		return NewInterruptedError(syscall.SIGINT)
	}
	if len(report.Failed) > 0 {
		s.config.Log.Warn("Run completed with failures, returning exit code 1",
			"failed", report.FailedNames())
		return NewTestFailureError(report.String())
	}

	s.config.Log.Info("Run completed", "run_id", report.RunID, "status", "pass")
	go func() {
		s.shutdownCallback(nil)
	}()
	return nil
}

// runSuite executes one full run: artifacts, scheduler, sinks, report.
func (s *Suite) runSuite(ctx context.Context) (*types.RunReport, error) {
	runID := uuid.New().String()

	fileLogger, err := logging.NewFileLogger(s.config.ArtifactsDir, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	testRunner, err := runner.NewRunner(runner.Config{
		Catalog:         s.catalog,
		Log:             s.config.Log,
		GroupFilter:     s.config.Groups,
		IncludeSlow:     s.config.IncludeSlow,
		Concurrency:     s.config.Concurrency,
		Capture:         s.config.Capture,
		XUnit:           s.config.XUnit,
		Coverage:        s.config.Coverage,
		ArtifactsDir:    fileLogger.RunDir(),
		RunID:           runID,
		ReadyTimeout:    s.config.ReadyTimeout,
		ShutdownTimeout: s.config.ShutdownTimeout,
		Sinks:           []reporting.ResultSink{fileLogger},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	report, err := testRunner.Run(ctx)
	if err != nil {
		return nil, err
	}

	for i := range report.Passed {
		report.Passed[i].LogFile = logging.GroupLogPath(s.config.ArtifactsDir, runID, report.Passed[i].Name)
	}
	for i := range report.Failed {
		report.Failed[i].LogFile = logging.GroupLogPath(s.config.ArtifactsDir, runID, report.Failed[i].Name)
	}

	if s.config.XUnit {
		if err := s.writeJUnit(report, fileLogger.RunDir()); err != nil {
			s.config.Log.Error("Failed to write junit report", "err", err)
		}
	}
	return report, nil
}

// writeJUnit renders the consolidated junit.xml from the finished report.
func (s *Suite) writeJUnit(report *types.RunReport, dir string) error {
	sink := reporting.NewJUnitSink(dir)
	sink.AddSkipped(report.Skipped)
	for i := range report.Passed {
		if err := sink.Consume(&report.Passed[i]); err != nil {
			return err
		}
	}
	for i := range report.Failed {
		if err := sink.Consume(&report.Failed[i]); err != nil {
			return err
		}
	}
	return sink.Complete(report.RunID)
}

// printRunHeader prints basic system info before anything runs.
func (s *Suite) printRunHeader() {
	fmt.Printf("op-suite %s on %s/%s, %d CPUs\n",
		s.version, runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
}

// Stop stops the op-suite service.
// Stop implements the cliapp.Lifecycle interface.
func (s *Suite) Stop(ctx context.Context) error {
	s.config.Log.Info("Stopping op-suite")

	if !s.running.Load() {
		s.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	s.running.Store(false)

	if s.monitoring != nil {
		s.monitoring.Shutdown()
	}
	if s.telemetryShutdown != nil {
		s.telemetryShutdown()
	}

	s.config.Log.Info("op-suite stopped successfully")
	return nil
}

// Stopped returns true if the op-suite service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (s *Suite) Stopped() bool {
	return !s.running.Load()
}

// Report returns the last run's report, nil before the run completed.
func (s *Suite) Report() *types.RunReport {
	return s.report
}
