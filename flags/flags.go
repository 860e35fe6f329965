package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"

	"github.com/ethereum-optimism/infra/op-suite/runner"
)

const EnvVarPrefix = "OP_SUITE"

var (
	Catalog = &cli.StringFlag{
		Name:     "catalog",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "CATALOG"),
		Usage:    "Path to the test group catalog file (eg. 'catalog.yaml')",
	}
	All = &cli.BoolFlag{
		Name:    "all",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ALL"),
		Usage:   "Include test groups marked slow in the catalog",
	}
	Jobs = &cli.StringFlag{
		Name:    "jobs",
		Aliases: []string{"j"},
		Value:   "1",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "JOBS"),
		Usage:   "Number of test groups to run concurrently; 'auto' means one per core, 1 means sequential",
	}
	Capture = &cli.StringFlag{
		Name:    "capture",
		Value:   "show",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CAPTURE"),
		Usage:   "Subprocess output mode: 'capture' (buffer, print failures), 'show' (echo live), 'discard'",
	}
	XUnit = &cli.BoolFlag{
		Name:    "xunit",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "XUNIT"),
		Usage:   "Export per-group xunit file paths to children and write a consolidated junit.xml",
	}
	Coverage = &cli.StringFlag{
		Name:    "coverage",
		Value:   "off",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COVERAGE"),
		Usage:   "Coverage mode: 'off', 'raw', 'html' or 'xml'; rendering is left to an external post-processor",
	}
	ArtifactsDir = &cli.StringFlag{
		Name:    "artifacts-dir",
		Value:   "artifacts",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ARTIFACTS_DIR"),
		Usage:   "Root directory for run artifacts (logs, junit.xml, coverage data)",
	}
	TimeoutReady = &cli.DurationFlag{
		Name:    "timeout-ready",
		Value:   runner.DefaultReadyTimeout,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT_READY"),
		Usage:   "How long to wait for an auxiliary server to publish its connection endpoint",
	}
	TimeoutShutdown = &cli.DurationFlag{
		Name:    "timeout-shutdown",
		Value:   runner.DefaultShutdownTimeout,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT_SHUTDOWN"),
		Usage:   "Bound for each stage of auxiliary server shutdown (terminate, then kill)",
	}
	MonitoringEnabled = &cli.BoolFlag{
		Name:    "monitoring.enabled",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MONITORING_ENABLED"),
		Usage:   "Serve healthz and Prometheus metrics for the duration of the run",
	}
	MonitoringPort = &cli.IntFlag{
		Name:    "monitoring.port",
		Value:   8080,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MONITORING_PORT"),
		Usage:   "Port for the healthz server",
	}
	MetricsPort = &cli.IntFlag{
		Name:    "metrics.port",
		Value:   7300,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "METRICS_PORT"),
		Usage:   "Port for the Prometheus metrics server",
	}
	OtelEnabled = &cli.BoolFlag{
		Name:    "otel.enabled",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OTEL_ENABLED"),
		Usage:   "Enable OpenTelemetry tracing for the run",
	}
)

var requiredFlags = []cli.Flag{
	Catalog,
}

var optionalFlags = []cli.Flag{
	All,
	Jobs,
	Capture,
	XUnit,
	Coverage,
	ArtifactsDir,
	TimeoutReady,
	TimeoutShutdown,
	MonitoringEnabled,
	MonitoringPort,
	MetricsPort,
	OtelEnabled,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
