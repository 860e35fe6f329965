package suite

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-suite/types"
)

// printResultsTable prints the consolidated run results to the console.
func (s *Suite) printResultsTable(report *types.RunReport) {
	s.config.Log.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Test Suite Results (%s)", formatDuration(report.Duration)))

	t.AppendHeader(table.Row{
		"Group", "Duration", "Status", "Details",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Group", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Details", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, res := range report.Passed {
		t.AppendRow(table.Row{res.Name, formatDuration(res.Duration), "✓ pass", ""})
	}
	for _, res := range report.Failed {
		details := ""
		if res.LogFile != "" {
			details = "log: " + res.LogFile
		}
		t.AppendRow(table.Row{res.Name, formatDuration(res.Duration), "✗ " + res.Status.String(), details})
	}
	for _, sk := range report.Skipped {
		t.AppendRow(table.Row{sk.Name, "-", "- skip", "missing: " + strings.Join(sk.Missing, ", ")})
	}

	stats := report.Stats()
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d groups", stats.Total), "",
		fmt.Sprintf("%d passed, %d failed, %d skipped", stats.Passed, stats.Failed, stats.Skipped), "",
	})
	t.Render()
}

// printFailureSummary names every failed group and the exact command to
// re-run just that subset.
func (s *Suite) printFailureSummary(report *types.RunReport) {
	failed := report.FailedNames()
	if len(failed) == 0 {
		return
	}
	fmt.Printf("\n%d test group(s) failed: %s\n", len(failed), strings.Join(failed, ", "))
	fmt.Printf("Re-run just the failing groups with:\n  op-suite run --catalog %s %s\n",
		s.config.CatalogPath, strings.Join(failed, " "))
}

// formatDuration renders sub-second durations in milliseconds and
// everything else with millisecond precision.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}
