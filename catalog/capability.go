package catalog

import (
	"context"
	"os/exec"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// Capabilities is the host's tool availability, probed once per run and
// then consulted per group. Requirements are declared statically in the
// catalog; nothing is re-probed at execution time.
type Capabilities struct {
	mu    sync.RWMutex
	tools map[string]bool
}

// Has reports whether the named tool was found on the host.
func (c *Capabilities) Has(tool string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools[tool]
}

// ProbeCapabilities checks every named tool against the host PATH. Probes
// run concurrently; LookPath is pure filesystem inspection so the fan-out
// is bounded only by the tool count.
func ProbeCapabilities(ctx context.Context, logger log.Logger, tools []string) *Capabilities {
	caps := &Capabilities{tools: make(map[string]bool, len(tools))}

	g, _ := errgroup.WithContext(ctx)
	for _, tool := range tools {
		g.Go(func() error {
			path, err := exec.LookPath(tool)
			caps.mu.Lock()
			caps.tools[tool] = err == nil
			caps.mu.Unlock()
			if err != nil {
				logger.Debug("Required tool not found on host", "tool", tool)
			} else {
				logger.Debug("Required tool found", "tool", tool, "path", path)
			}
			return nil
		})
	}
	// Probes never return errors; absence is recorded, not fatal.
	_ = g.Wait()

	return caps
}
