package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeModule(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"),
		[]byte("module example.com/fixture\n\ngo 1.22\n"), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "alpha"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alpha", "alpha.go"),
		[]byte("package alpha\n"), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "beta", "inner"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "beta", "inner", "inner.go"),
		[]byte("package inner\n"), 0o644))

	// No Go sources, should not become a group.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "readme.md"),
		[]byte("# docs\n"), 0o644))

	return dir
}

func TestDiscoverGroups(t *testing.T) {
	dir := writeModule(t)

	groups, err := DiscoverGroups(dir)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "alpha", groups[0].Name)
	assert.Equal(t, []string{"go", "test", "./alpha/..."}, groups[0].Command)
	assert.Equal(t, []string{"go"}, groups[0].Requires)
	assert.Equal(t, dir, groups[0].Dir)

	assert.Equal(t, "beta", groups[1].Name)
}

func TestDiscoverGroupsNoModule(t *testing.T) {
	_, err := DiscoverGroups(t.TempDir())
	assert.Error(t, err)
}

func TestCatalogDiscoveryMerge(t *testing.T) {
	dir := writeModule(t)

	// Explicit group for "alpha" wins over the discovered one.
	content := `
groups:
  - name: alpha
    command: ["go", "test", "-race", "./alpha/..."]
    requires: [go]
discover:
  module_dir: ` + dir + `
`
	cat, err := New(Config{
		Log:         log.NewLogger(log.DiscardHandler()),
		CatalogFile: writeCatalog(t, content),
	})
	require.NoError(t, err)

	groups := cat.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, "alpha", groups[0].Name)
	assert.Equal(t, []string{"go", "test", "-race", "./alpha/..."}, groups[0].Command)
	assert.Equal(t, "beta", groups[1].Name)
}
