package suite

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ethereum-optimism/infra/op-suite/catalog"
)

// ListGroups prints every catalog group with its runnability on this
// host. Nothing is executed.
func ListGroups(ctx context.Context, config *Config) error {
	cat, err := catalog.New(catalog.Config{
		Log:         config.Log,
		CatalogFile: config.CatalogPath,
	})
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	groups, err := cat.Select(config.Groups)
	if err != nil {
		return err
	}
	caps := catalog.ProbeCapabilities(ctx, config.Log, cat.RequiredTools())

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Group", "Command", "Requires", "Slow", "Runnable"})
	for _, g := range groups {
		var reasons []string
		if missing := g.MissingRequirements(caps); len(missing) > 0 {
			reasons = append(reasons, "missing: "+strings.Join(missing, ", "))
		}
		if g.Slow && !config.IncludeSlow {
			reasons = append(reasons, "slow, use --all")
		}
		runnable := "yes"
		if len(reasons) > 0 {
			runnable = "no (" + strings.Join(reasons, "; ") + ")"
		}
		t.AppendRow(table.Row{
			g.Name,
			strings.Join(g.Command, " "),
			strings.Join(g.Requires, ", "),
			g.Slow,
			runnable,
		})
	}
	t.Render()
	return nil
}
