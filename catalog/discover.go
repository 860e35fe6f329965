package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"
)

// DiscoverGroups derives one `go test` group per top-level package
// directory of the Go module rooted at moduleDir. The module path is
// resolved from go.mod so the synthesized groups carry meaningful names
// even for nested modules.
func DiscoverGroups(moduleDir string) ([]Group, error) {
	goModPath := filepath.Join(moduleDir, "go.mod")
	goModContent, err := os.ReadFile(goModPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read go.mod: %w", err)
	}

	modFile, err := modfile.Parse(goModPath, goModContent, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse go.mod: %w", err)
	}
	moduleName := modFile.Module.Mod.Path
	if moduleName == "" {
		return nil, fmt.Errorf("could not find module name in go.mod")
	}

	entries, err := os.ReadDir(moduleDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read module directory: %w", err)
	}

	var groups []Group
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || strings.HasPrefix(entry.Name(), "_") {
			continue
		}
		if !containsGoSource(filepath.Join(moduleDir, entry.Name())) {
			continue
		}
		groups = append(groups, Group{
			Name:     entry.Name(),
			Command:  []string{"go", "test", "./" + entry.Name() + "/..."},
			Requires: []string{"go"},
			// Relative package patterns only resolve from the module root.
			Dir: moduleDir,
		})
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

// containsGoSource reports whether the directory tree under dir holds at
// least one .go file.
func containsGoSource(dir string) bool {
	found := false
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".go") {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}
