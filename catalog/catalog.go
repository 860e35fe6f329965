package catalog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

// ServerSpec declares the long-lived backing service a group needs before
// its test command can run.
type ServerSpec struct {
	// Command is the argv used to start the server.
	Command []string `yaml:"command"`
	// InfoFile is the name of the connection-info file the server writes
	// once listening, relative to the server's scoped working directory.
	InfoFile string `yaml:"info_file"`
	// URLEnv is the environment variable through which the discovered
	// server URL is exported to the test command.
	URLEnv string `yaml:"url_env"`
}

// Group is the declared metadata for one independently runnable test
// group. The orchestrator consumes this as read-only input.
type Group struct {
	Name     string   `yaml:"name"`
	Command  []string `yaml:"command"`
	Requires []string `yaml:"requires,omitempty"`
	Slow     bool     `yaml:"slow,omitempty"`
	// Dir pins the command's working directory; empty means a scoped temp
	// directory allocated per run.
	Dir    string            `yaml:"dir,omitempty"`
	Env    map[string]string `yaml:"env,omitempty"`
	Server *ServerSpec       `yaml:"server,omitempty"`
}

// MissingRequirements returns the declared tools that are absent from the
// given host capability set, in declaration order.
func (g Group) MissingRequirements(caps *Capabilities) []string {
	var missing []string
	for _, tool := range g.Requires {
		if !caps.Has(tool) {
			missing = append(missing, tool)
		}
	}
	return missing
}

// DiscoverSpec optionally asks the catalog loader to derive additional
// groups from a Go module's package layout.
type DiscoverSpec struct {
	ModuleDir string `yaml:"module_dir"`
}

type catalogFile struct {
	Groups   []Group       `yaml:"groups"`
	Discover *DiscoverSpec `yaml:"discover,omitempty"`
}

// Catalog holds the declared test groups for one run.
type Catalog struct {
	log    log.Logger
	mu     sync.RWMutex
	groups []Group
}

// Config contains catalog configuration.
type Config struct {
	Log         log.Logger
	CatalogFile string
}

// New loads a catalog from its YAML file, merging in any discovered
// groups. Enumeration failure here is fatal to the run; the caller is
// expected to propagate it.
func New(cfg Config) (*Catalog, error) {
	if cfg.CatalogFile == "" {
		return nil, fmt.Errorf("catalog file is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	data, err := os.ReadFile(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	groups := file.Groups
	if file.Discover != nil && file.Discover.ModuleDir != "" {
		start := time.Now()
		discovered, err := DiscoverGroups(file.Discover.ModuleDir)
		if err != nil {
			return nil, fmt.Errorf("failed to discover groups in %s: %w", file.Discover.ModuleDir, err)
		}
		groups = mergeGroups(groups, discovered)
		cfg.Log.Debug("Catalog discovery complete", "dir", file.Discover.ModuleDir,
			"discovered", len(discovered), "elapsed", time.Since(start))
	}

	if err := validateGroups(groups); err != nil {
		return nil, err
	}

	cfg.Log.Debug("Catalog loaded", "len(groups)", len(groups))

	return &Catalog{
		log:    cfg.Log,
		groups: groups,
	}, nil
}

// validateGroups rejects catalogs with unusable or duplicated entries.
func validateGroups(groups []Group) error {
	if len(groups) == 0 {
		return fmt.Errorf("catalog declares no groups")
	}
	seen := make(map[string]bool, len(groups))
	for _, g := range groups {
		if g.Name == "" {
			return fmt.Errorf("catalog group with empty name")
		}
		if seen[g.Name] {
			return fmt.Errorf("duplicate group name %q in catalog", g.Name)
		}
		seen[g.Name] = true
		if len(g.Command) == 0 {
			return fmt.Errorf("group %q has no command", g.Name)
		}
		if g.Server != nil {
			if len(g.Server.Command) == 0 {
				return fmt.Errorf("group %q declares a server with no command", g.Name)
			}
			if g.Server.InfoFile == "" {
				return fmt.Errorf("group %q declares a server with no info_file", g.Name)
			}
		}
	}
	return nil
}

// mergeGroups appends discovered groups after the explicit list; explicit
// names win on conflict.
func mergeGroups(explicit, discovered []Group) []Group {
	names := make(map[string]bool, len(explicit))
	for _, g := range explicit {
		names[g.Name] = true
	}
	merged := explicit
	for _, g := range discovered {
		if names[g.Name] {
			continue
		}
		merged = append(merged, g)
	}
	return merged
}

// Groups returns a copy of every declared group in catalog order.
func (c *Catalog) Groups() []Group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Group, len(c.groups))
	copy(out, c.groups)
	return out
}

// Select restricts the catalog view to the named groups, preserving
// catalog order. An empty filter selects everything. Unknown names are an
// error so typos surface before anything runs.
func (c *Catalog) Select(names []string) ([]Group, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(names) == 0 {
		out := make([]Group, len(c.groups))
		copy(out, c.groups)
		return out, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []Group
	for _, g := range c.groups {
		if wanted[g.Name] {
			out = append(out, g)
			delete(wanted, g.Name)
		}
	}
	if len(wanted) > 0 {
		unknown := make([]string, 0, len(wanted))
		for n := range wanted {
			unknown = append(unknown, n)
		}
		return nil, fmt.Errorf("unknown group(s) requested: %v", unknown)
	}
	return out, nil
}

// RequiredTools returns the set union of every group's declared
// requirements, suitable for a single host-capability probe per run.
func (c *Catalog) RequiredTools() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	var tools []string
	for _, g := range c.groups {
		for _, tool := range g.Requires {
			if !seen[tool] {
				seen[tool] = true
				tools = append(tools, tool)
			}
		}
	}
	return tools
}
