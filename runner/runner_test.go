package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-suite/catalog"
	"github.com/ethereum-optimism/infra/op-suite/reporting"
	"github.com/ethereum-optimism/infra/op-suite/types"
)

type testCatalogFile struct {
	Groups []catalog.Group `yaml:"groups"`
}

func writeTestCatalog(t *testing.T, groups []catalog.Group) *catalog.Catalog {
	t.Helper()
	data, err := yaml.Marshal(testCatalogFile{Groups: groups})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	cat, err := catalog.New(catalog.Config{Log: testLogger(), CatalogFile: path})
	require.NoError(t, err)
	return cat
}

func newTestRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	cfg.Log = testLogger()
	if cfg.Capture == types.CaptureShow {
		cfg.Capture = types.CaptureDiscard
	}
	r, err := NewRunner(cfg)
	require.NoError(t, err)
	return r
}

func shGroup(name, script string) catalog.Group {
	return catalog.Group{Name: name, Command: []string{"sh", "-c", script}}
}

func TestRunAllPass(t *testing.T) {
	cat := writeTestCatalog(t, []catalog.Group{
		shGroup("a", "true"),
		shGroup("b", "echo ok"),
		shGroup("c", "exit 0"),
	})
	r := newTestRunner(t, Config{Catalog: cat})

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Success())
	assert.Len(t, report.Passed, 3)
	assert.Empty(t, report.Failed)
	assert.Empty(t, report.Skipped)
	assert.False(t, report.Interrupted)
}

func TestRunSingleFailure(t *testing.T) {
	cat := writeTestCatalog(t, []catalog.Group{
		shGroup("good", "true"),
		shGroup("bad", "exit 4"),
		shGroup("alsogood", "true"),
	})
	r := newTestRunner(t, Config{Catalog: cat})

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Success())
	assert.Len(t, report.Passed, 2)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "bad", report.Failed[0].Name)
	assert.Equal(t, types.GroupStatus(4), report.Failed[0].Status)
}

func TestRunGroupFilter(t *testing.T) {
	cat := writeTestCatalog(t, []catalog.Group{
		shGroup("a", "true"),
		shGroup("b", "exit 1"),
		shGroup("c", "true"),
	})
	r := newTestRunner(t, Config{Catalog: cat, GroupFilter: []string{"a", "c"}})

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Success())
	assert.Len(t, report.Passed, 2)
}

func TestRunUnknownGroupIsFatal(t *testing.T) {
	cat := writeTestCatalog(t, []catalog.Group{shGroup("a", "true")})
	r := newTestRunner(t, Config{Catalog: cat, GroupFilter: []string{"nope"}})

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestRunSkipsUnmetRequirements(t *testing.T) {
	cat := writeTestCatalog(t, []catalog.Group{
		shGroup("runnable", "true"),
		{Name: "needy", Command: []string{"true"}, Requires: []string{"definitely-not-a-real-tool-xyz"}},
	})
	r := newTestRunner(t, Config{Catalog: cat})

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Passed, 1)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "needy", report.Skipped[0].Name)
	assert.Equal(t, []string{"definitely-not-a-real-tool-xyz"}, report.Skipped[0].Missing)
	// Skips never count against success.
	assert.True(t, report.Success())
}

func TestRunSkipsSlowGroupsByDefault(t *testing.T) {
	groups := []catalog.Group{
		shGroup("fast", "true"),
		{Name: "slow", Command: []string{"true"}, Slow: true},
	}

	cat := writeTestCatalog(t, groups)
	r := newTestRunner(t, Config{Catalog: cat})
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Passed, 1)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "slow", report.Skipped[0].Name)

	cat = writeTestCatalog(t, groups)
	r = newTestRunner(t, Config{Catalog: cat, IncludeSlow: true})
	report, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Passed, 2)
	assert.Empty(t, report.Skipped)
}

func TestRunParallelMatchesSerialOutcome(t *testing.T) {
	groups := []catalog.Group{
		shGroup("p1", "true"),
		shGroup("f1", "exit 1"),
		shGroup("p2", "true"),
		shGroup("f2", "exit 2"),
		shGroup("p3", "true"),
	}

	names := func(results []types.GroupResult) []string {
		out := make([]string, len(results))
		for i, res := range results {
			out[i] = res.Name
		}
		sort.Strings(out)
		return out
	}

	serial := newTestRunner(t, Config{Catalog: writeTestCatalog(t, groups), Concurrency: 1})
	serialReport, err := serial.Run(context.Background())
	require.NoError(t, err)

	parallel := newTestRunner(t, Config{Catalog: writeTestCatalog(t, groups), Concurrency: 4})
	parallelReport, err := parallel.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, names(serialReport.Passed), names(parallelReport.Passed))
	assert.Equal(t, names(serialReport.Failed), names(parallelReport.Failed))
}

func TestRunParallelBoundedConcurrency(t *testing.T) {
	// Each group appends a start marker, waits, then appends an end marker.
	// Replaying the combined log afterwards reveals the peak overlap.
	dir := t.TempDir()
	logFile := filepath.Join(dir, "events.log")

	var groups []catalog.Group
	for i := 0; i < 6; i++ {
		script := fmt.Sprintf(`echo "start" >> %[1]s; sleep 0.3; echo "end" >> %[1]s`, logFile)
		groups = append(groups, shGroup(fmt.Sprintf("g%d", i), script))
	}

	r := newTestRunner(t, Config{Catalog: writeTestCatalog(t, groups), Concurrency: 2})
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Passed, 6)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	inFlight, peak := 0, 0
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		switch line {
		case "start":
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
		case "end":
			inFlight--
		}
	}
	assert.LessOrEqual(t, peak, 2)
	assert.GreaterOrEqual(t, peak, 1)
}

func TestRunSerialInterruptStopsScheduling(t *testing.T) {
	// The second group cancels the run context from within; the third must
	// never start.
	dir := t.TempDir()
	marker := filepath.Join(dir, "third-ran")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cat := writeTestCatalog(t, []catalog.Group{
		shGroup("first", "true"),
		shGroup("second", "sleep 300"),
		shGroup("third", "touch "+marker),
	})
	r := newTestRunner(t, Config{Catalog: cat, Concurrency: 1})

	go func() {
		time.Sleep(500 * time.Millisecond)
		cancel()
	}()

	report, err := r.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Len(t, report.Passed, 1)
	assert.Empty(t, report.Failed)
	assert.NoFileExists(t, marker)
}

func TestRunParallelInterrupt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cat := writeTestCatalog(t, []catalog.Group{
		shGroup("s1", "sleep 300"),
		shGroup("s2", "sleep 300"),
		shGroup("s3", "sleep 300"),
	})
	r := newTestRunner(t, Config{Catalog: cat, Concurrency: 3})

	go func() {
		time.Sleep(500 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	report, err := r.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Empty(t, report.Failed)
	// All in-flight children were killed, not awaited.
	assert.Less(t, time.Since(start), 30*time.Second)
	assert.Zero(t, r.Registry().Len())
}

func TestRunParallelChildSIGINTStopsRun(t *testing.T) {
	// A child dying from SIGINT raises the interrupt sentinel even while
	// the run context stays live; the pool must stop dispatching and the
	// run must still return.
	groups := []catalog.Group{shGroup("killer", "kill -INT $$")}
	for i := 0; i < 10; i++ {
		groups = append(groups, shGroup(fmt.Sprintf("g%d", i), "sleep 0.1"))
	}
	r := newTestRunner(t, Config{Catalog: writeTestCatalog(t, groups), Concurrency: 2})

	type outcome struct {
		report *types.RunReport
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := r.Run(context.Background())
		done <- outcome{report, err}
	}()

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.True(t, out.report.Interrupted)
		assert.Empty(t, out.report.Failed)
	case <-time.After(30 * time.Second):
		t.Fatal("run did not return after a child died from SIGINT")
	}
}

func TestRunSignalDeathCountsAsFailure(t *testing.T) {
	cat := writeTestCatalog(t, []catalog.Group{shGroup("sigterm", "kill -TERM $$")})
	r := newTestRunner(t, Config{Catalog: cat})

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, types.GroupStatus(-15), report.Failed[0].Status)
	assert.True(t, report.Failed[0].Status.Failed())
	assert.False(t, report.Interrupted)
}

func TestRunSkipReasonsCombined(t *testing.T) {
	// A slow group that is also missing tools reports both reasons.
	cat := writeTestCatalog(t, []catalog.Group{
		{Name: "slowneedy", Command: []string{"true"}, Slow: true, Requires: []string{"definitely-not-a-real-tool-xyz"}},
	})
	r := newTestRunner(t, Config{Catalog: cat})

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t,
		[]string{"definitely-not-a-real-tool-xyz", "slow (enable with --all)"},
		report.Skipped[0].Missing)
}

func TestRunExportsXUnitEnv(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "env.txt")

	cat := writeTestCatalog(t, []catalog.Group{
		shGroup("envy", fmt.Sprintf(`echo "$%s" > %s`, XUnitFileEnv, out)),
	})
	r := newTestRunner(t, Config{Catalog: cat, XUnit: true, ArtifactsDir: dir})

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Passed, 1)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "envy_xunit.xml")+"\n", string(data))
	assert.Equal(t, filepath.Join(dir, "envy_xunit.xml"), report.Passed[0].XUnitFile)
}

func TestRunExportsCoverageDir(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "covdir.txt")

	cat := writeTestCatalog(t, []catalog.Group{
		shGroup("covered", fmt.Sprintf(`echo "$GOCOVERDIR" > %s`, out)),
	})
	r := newTestRunner(t, Config{Catalog: cat, Coverage: types.CoverageRaw, ArtifactsDir: dir})

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	want := filepath.Join(dir, "coverage", "covered")
	assert.Equal(t, want+"\n", string(data))
	assert.DirExists(t, want)
}

type recordingSink struct {
	consumed  []string
	completed string
}

func (s *recordingSink) Consume(res *types.GroupResult) error {
	s.consumed = append(s.consumed, res.Name)
	return nil
}

func (s *recordingSink) Complete(runID string) error {
	s.completed = runID
	return nil
}

func TestRunFeedsResultSinks(t *testing.T) {
	cat := writeTestCatalog(t, []catalog.Group{
		shGroup("a", "true"),
		shGroup("b", "exit 1"),
	})
	sink := &recordingSink{}
	r := newTestRunner(t, Config{Catalog: cat, RunID: "run-123", Sinks: []reporting.ResultSink{sink}})

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-123", report.RunID)
	assert.ElementsMatch(t, []string{"a", "b"}, sink.consumed)
	assert.Equal(t, "run-123", sink.completed)
}
