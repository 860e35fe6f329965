package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"

	suite "github.com/ethereum-optimism/infra/op-suite"
	"github.com/ethereum-optimism/infra/op-suite/flags"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-suite"
	app.Usage = "Test Suite Orchestrator"
	app.Description = "op-suite runs catalogs of test groups as supervised subprocesses"
	app.Commands = []*cli.Command{
		{
			Name:      "run",
			Usage:     "Run the selected test groups once and exit with the aggregate status",
			ArgsUsage: "[groups...]",
			Flags:     cliapp.ProtectFlags(flags.Flags),
			Action:    cliapp.LifecycleCmd(run),
		},
		{
			Name:      "list",
			Usage:     "List catalog groups with their runnability on this host",
			ArgsUsage: "[groups...]",
			Flags:     cliapp.ProtectFlags(flags.Flags),
			Action:    list,
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			// Map typed errors to the exit-code contract
			if suite.IsRuntimeError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), 2))
			} else if suite.IsInterruptedError(err) {
				var intErr *suite.InterruptedError
				errors.As(err, &intErr)
				cli.HandleExitCoder(cli.Exit(err.Error(), intErr.ExitCode()))
			} else if suite.IsTestFailureError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), 1))
			} else {
				// For other unspecified errors, default to exit code 1
				cli.HandleExitCoder(cli.Exit(err.Error(), 1))
			}
		}
	}

	// Start CLI
	ctx := ctxinterrupt.WithSignalWaiterMain(context.Background())
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	cfg, logger, err := newConfig(ctx)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, suite.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	logger.Debug("Config", "config", cfg)

	suiteService, err := suite.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, suite.NewRuntimeError(fmt.Errorf("failed to create suite: %w", err))
	}
	return suiteService, nil
}

func list(ctx *cli.Context) error {
	cfg, _, err := newConfig(ctx)
	if err != nil {
		return suite.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	if err := suite.ListGroups(ctx.Context, cfg); err != nil {
		return suite.NewRuntimeError(err)
	}
	return nil
}

func newConfig(ctx *cli.Context) (*suite.Config, log.Logger, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	logger := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(logger.Handler())
	oplog.SetupDefaults()

	cfg, err := suite.NewConfig(ctx, logger, ctx.Args().Slice())
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
