package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-suite/types"
)

// GroupController is the unit of supervision for one test group's full
// lifecycle. The scheduler drives it strictly as
// Setup → Launch → Wait → Cleanup, with Cleanup guaranteed to run even
// when an earlier phase errored.
type GroupController interface {
	// Name returns the group's unique name within the run.
	Name() string
	// Setup prepares scoped resources and finalizes the command. It is
	// only called for groups selected to run and must not have side
	// effects observable to other controllers.
	Setup(ctx context.Context) error
	// Launch spawns the child with the merged environment. At most one
	// call per controller; a second call errors.
	Launch(mode types.CaptureMode) error
	// Wait blocks until the child exits or ctx is canceled, finalizes the
	// captured output, and returns the child's status.
	Wait(ctx context.Context) types.GroupStatus
	// Cleanup force-kills any still-running child and releases every
	// owned resource. Idempotent, safe on a never-launched controller.
	Cleanup()
	// Output returns the captured combined output, valid after Wait or
	// Cleanup.
	Output() []byte
}

// procWaiter reaps a started command exactly once and lets callers
// observe completion without racing over exec.Cmd.Wait.
type procWaiter struct {
	done chan struct{}
	err  error
}

func newProcWaiter(cmd *exec.Cmd) *procWaiter {
	w := &procWaiter{done: make(chan struct{})}
	go func() {
		w.err = cmd.Wait()
		close(w.done)
	}()
	return w
}

// exited reports whether the process has already been reaped.
func (w *procWaiter) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// waitTimeout blocks until the process exits or the timeout elapses,
// reporting whether it exited in time.
func (w *procWaiter) waitTimeout(d time.Duration) bool {
	select {
	case <-w.done:
		return true
	case <-time.After(d):
		return false
	}
}

// ControllerConfig carries everything needed to build a Controller for
// one group.
type ControllerConfig struct {
	Name    string
	Command []string
	// Env is the overlay merged over the ambient environment at launch;
	// the overlay wins on conflict.
	Env map[string]string
	// Dir pins the child's working directory. Empty means a fresh scoped
	// temp directory per run, which is the default isolation model;
	// discovered go-test groups pin their module root instead.
	Dir      string
	Log      log.Logger
	Registry *ProcessRegistry
}

// Controller supervises one test group subprocess. It owns the group's
// scoped temp directories and its captured output; nothing is shared with
// other controllers.
type Controller struct {
	name   string
	cmd    []string
	env    map[string]string
	pinDir string
	log    log.Logger

	registry *ProcessRegistry
	dirs     []*ScopedDir
	workDir  string

	proc     *exec.Cmd
	waiter   *procWaiter
	capturer *StreamCapturer
	launched bool

	mu          sync.Mutex
	output      []byte
	cleanupOnce sync.Once
}

// NewController builds a controller from catalog-derived metadata. The
// command and environment stay mutable until Launch.
func NewController(cfg ControllerConfig) *Controller {
	env := make(map[string]string, len(cfg.Env))
	for k, v := range cfg.Env {
		env[k] = v
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.New()
	}
	return &Controller{
		name:     cfg.Name,
		cmd:      append([]string(nil), cfg.Command...),
		env:      env,
		pinDir:   cfg.Dir,
		log:      logger.New("group", cfg.Name),
		registry: cfg.Registry,
	}
}

func (c *Controller) Name() string { return c.name }

// SetCommand replaces the argv. Only meaningful before Launch; used by
// the server specialization to substitute a guaranteed-failing no-op when
// the backing service never became ready.
func (c *Controller) SetCommand(argv []string) {
	c.cmd = append([]string(nil), argv...)
}

// SetEnv adds or overrides one overlay variable before Launch.
func (c *Controller) SetEnv(key, value string) {
	c.env[key] = value
}

// AddDir transfers ownership of a scoped directory to the controller; it
// will be released during Cleanup.
func (c *Controller) AddDir(d *ScopedDir) {
	c.dirs = append(c.dirs, d)
}

// Setup allocates the group's scoped working directory and validates the
// command. Each controller gets disjoint temp state.
func (c *Controller) Setup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(c.cmd) == 0 {
		return fmt.Errorf("group %s has an empty command", c.name)
	}
	if c.pinDir != "" {
		c.workDir = c.pinDir
	} else {
		work, err := NewScopedDir("op-suite-" + c.name + "-work-")
		if err != nil {
			return fmt.Errorf("failed to allocate working dir for %s: %w", c.name, err)
		}
		c.AddDir(work)
		c.workDir = work.Path
	}
	c.log.Debug("Controller setup complete", "workdir", c.workDir, "cmd", c.cmd)
	return nil
}

// Launch spawns the child with the merged environment and its own process
// group so later kills reach grandchildren too.
func (c *Controller) Launch(mode types.CaptureMode) error {
	if c.launched {
		return fmt.Errorf("group %s already launched", c.name)
	}
	c.launched = true

	cmd := exec.Command(c.cmd[0], c.cmd[1:]...)
	cmd.Dir = c.workDir
	cmd.Env = mergeEnv(os.Environ(), c.env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	switch mode {
	case types.CaptureDiscard:
		// os/exec routes nil streams to the null device.
	default:
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("failed to open output pipe for %s: %w", c.name, err)
		}
		cmd.Stderr = cmd.Stdout
		var echo io.Writer
		if mode == types.CaptureShow {
			echo = os.Stdout
		}
		c.capturer = NewStreamCapturer(echo, 0)
		c.capturer.Start(stdout)
	}

	if err := cmd.Start(); err != nil {
		c.capturer = nil
		return fmt.Errorf("failed to launch %s: %w", c.name, err)
	}
	c.proc = cmd
	c.waiter = newProcWaiter(cmd)
	if c.registry != nil {
		c.registry.Register(cmd.Process.Pid, c.name)
	}
	c.log.Debug("Launched test group", "pid", cmd.Process.Pid, "mode", mode)
	return nil
}

// Wait blocks until the child exits or ctx is canceled. On a normal exit
// the capture is drained and the output finalized before returning. On
// cancellation the interrupt sentinel is returned and the still-running
// child is left for Cleanup to kill.
func (c *Controller) Wait(ctx context.Context) types.GroupStatus {
	if c.waiter == nil {
		return types.GroupStatusSetupFailed
	}

	select {
	case <-c.waiter.done:
		c.finalizeOutput()
		return statusFromWaitErr(c.waiter.err)
	case <-ctx.Done():
		c.log.Debug("Wait interrupted", "group", c.name)
		return types.GroupStatusInterrupted
	}
}

// finalizeOutput drains the capturer and stores the buffered bytes. Must
// only be called once the child has exited or been killed.
func (c *Controller) finalizeOutput() {
	if c.capturer == nil {
		return
	}
	c.capturer.Wait()
	c.mu.Lock()
	c.output = c.capturer.Bytes()
	c.mu.Unlock()
}

// Output returns the captured combined stdout/stderr.
func (c *Controller) Output() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output
}

// Cleanup force-kills any still-running child, drains the capture, and
// releases every owned temp directory. Failures are logged, never
// escalated; the method is idempotent and safe before Launch.
func (c *Controller) Cleanup() {
	c.cleanupOnce.Do(func() {
		c.killChild()
		c.finalizeOutput()
		c.releaseDirs()
	})
}

func (c *Controller) killChild() {
	if c.proc == nil || c.proc.Process == nil {
		return
	}
	pid := c.proc.Process.Pid
	defer func() {
		if c.registry != nil {
			c.registry.Deregister(pid)
		}
		c.proc = nil
	}()

	if c.waiter.exited() {
		return
	}
	c.log.Warn("Killing still-running test group", "pid", pid)
	// Negative pid targets the whole process group.
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		c.log.Error("Failed to kill test group", "pid", pid, "err", err)
		return
	}
	if !c.waiter.waitTimeout(killReapTimeout) {
		c.log.Error("Test group did not die after SIGKILL", "pid", pid)
	}
}

func (c *Controller) releaseDirs() {
	// Reverse order: later dirs may live under earlier ones.
	for i := len(c.dirs) - 1; i >= 0; i-- {
		if err := c.dirs[i].Release(); err != nil {
			c.log.Error("Failed to release scoped dir", "path", c.dirs[i].Path, "err", err)
		}
	}
	c.dirs = nil
}

// statusFromWaitErr maps exec.Cmd.Wait's error into a GroupStatus:
// nil → pass, exit code → that code, signal death → negated signal
// number, anything else → the synthetic failure status.
func statusFromWaitErr(err error) types.GroupStatus {
	if err == nil {
		return types.GroupStatusPass
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return types.GroupStatus(-int(ws.Signal()))
		}
		return types.GroupStatus(exitErr.ExitCode())
	}
	return types.GroupStatusSetupFailed
}

// mergeEnv merges the overlay over the ambient environment; overlay wins
// on conflict.
func mergeEnv(ambient []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return ambient
	}
	merged := make([]string, 0, len(ambient)+len(overlay))
	for _, kv := range ambient {
		key := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			key = kv[:i]
		}
		if _, shadowed := overlay[key]; !shadowed {
			merged = append(merged, kv)
		}
	}
	for k, v := range overlay {
		merged = append(merged, k+"="+v)
	}
	return merged
}
