package suite

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-suite/flags"
	"github.com/ethereum-optimism/infra/op-suite/types"
)

// Config holds the application configuration
type Config struct {
	CatalogPath  string             // Path to the group catalog file
	Groups       []string           // Group name filter; empty means all
	IncludeSlow  bool               // Include slow-marked groups
	Concurrency  int                // Resolved worker count; 1 = sequential
	Capture      types.CaptureMode  // Subprocess output mode
	XUnit        bool               // Per-group xunit passthrough + consolidated junit.xml
	Coverage     types.CoverageMode // Coverage collection mode
	ArtifactsDir string             // Root for run artifacts

	ReadyTimeout    time.Duration // Auxiliary server readiness bound
	ShutdownTimeout time.Duration // Per-stage auxiliary server shutdown bound

	MonitoringEnabled bool // Serve healthz + metrics during the run
	MonitoringPort    int
	MetricsPort       int
	OtelEnabled       bool // OpenTelemetry tracing for the run

	Log log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger, groups []string) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	catalogPath, err := filepath.Abs(ctx.String(flags.Catalog.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for catalog '%s': %w", ctx.String(flags.Catalog.Name), err)
	}

	concurrency, err := parseJobs(ctx.String(flags.Jobs.Name))
	if err != nil {
		return nil, err
	}

	capture, err := types.ParseCaptureMode(ctx.String(flags.Capture.Name))
	if err != nil {
		return nil, err
	}

	coverage, err := types.ParseCoverageMode(ctx.String(flags.Coverage.Name))
	if err != nil {
		return nil, err
	}

	artifactsDir, err := filepath.Abs(ctx.String(flags.ArtifactsDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for artifacts dir: %w", err)
	}

	readyTimeout := ctx.Duration(flags.TimeoutReady.Name)
	if readyTimeout <= 0 {
		return nil, fmt.Errorf("timeout-ready must be positive, got %s", readyTimeout)
	}
	shutdownTimeout := ctx.Duration(flags.TimeoutShutdown.Name)
	if shutdownTimeout <= 0 {
		return nil, fmt.Errorf("timeout-shutdown must be positive, got %s", shutdownTimeout)
	}

	return &Config{
		CatalogPath:       catalogPath,
		Groups:            groups,
		IncludeSlow:       ctx.Bool(flags.All.Name),
		Concurrency:       concurrency,
		Capture:           capture,
		XUnit:             ctx.Bool(flags.XUnit.Name),
		Coverage:          coverage,
		ArtifactsDir:      artifactsDir,
		ReadyTimeout:      readyTimeout,
		ShutdownTimeout:   shutdownTimeout,
		MonitoringEnabled: ctx.Bool(flags.MonitoringEnabled.Name),
		MonitoringPort:    ctx.Int(flags.MonitoringPort.Name),
		MetricsPort:       ctx.Int(flags.MetricsPort.Name),
		OtelEnabled:       ctx.Bool(flags.OtelEnabled.Name),
		Log:               log,
	}, nil
}

// parseJobs resolves the --jobs value: a positive integer, or "auto" for
// one worker per available core.
func parseJobs(s string) (int, error) {
	if s == "auto" {
		return runtime.NumCPU(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid jobs value %q, must be a positive integer or 'auto'", s)
	}
	if n < 1 {
		return 0, fmt.Errorf("jobs must be at least 1, got %d", n)
	}
	return n, nil
}
