package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/looplab/fsm"

	"github.com/ethereum-optimism/infra/op-suite/metrics"
)

// Auxiliary server lifecycle states.
const (
	StateNotStarted   = "not_started"
	StateStarting     = "starting"
	StateReady        = "ready"
	StateShuttingDown = "shutting_down"
	StateStopped      = "stopped"
	StateFailed       = "failed"
)

const (
	eventStart    = "start"
	eventReady    = "ready"
	eventFail     = "fail"
	eventShutdown = "shutdown"
	eventStopped  = "stopped"
)

// guaranteedFailCmd replaces a group's command when its backing server
// never became ready, so the group deterministically reports failure
// instead of hanging or crashing the scheduler.
var guaranteedFailCmd = []string{"false"}

// ServerSpec describes the long-lived backing service one group needs.
type ServerSpec struct {
	// Command is the argv used to start the server.
	Command []string
	// InfoFile is the connection-info file name, relative to the server's
	// scoped working directory.
	InfoFile string
	// URLEnv names the environment variable through which the discovered
	// server URL is exported to the test command.
	URLEnv string
	// ReadyTimeout bounds the readiness handshake; zero selects the
	// default.
	ReadyTimeout time.Duration
	// PollInterval is the handshake probe interval; zero selects the
	// default.
	PollInterval time.Duration
	// ShutdownTimeout bounds each of the two shutdown stages; zero
	// selects the default.
	ShutdownTimeout time.Duration
}

// connectionInfo is the structured handshake payload the server writes
// once listening. Port is mandatory; URL is derived when absent.
type connectionInfo struct {
	Port int    `json:"port"`
	URL  string `json:"url,omitempty"`
}

// ServerController supervises a test group that needs a long-lived
// auxiliary server. It wraps the base Controller: Setup additionally
// stands the server up and runs the readiness handshake, Cleanup tears
// the server down with escalating signals before releasing the base
// resources.
type ServerController struct {
	*Controller

	spec    ServerSpec
	machine *fsm.FSM

	srv         *exec.Cmd
	srvWaiter   *procWaiter
	srvCapturer *StreamCapturer
	srvDir      *ScopedDir
	srvPID      int

	info         connectionInfo
	shutdownOnce sync.Once
}

// NewServerController wraps base with the auxiliary server lifecycle.
func NewServerController(base *Controller, spec ServerSpec) *ServerController {
	if spec.ReadyTimeout <= 0 {
		spec.ReadyTimeout = DefaultReadyTimeout
	}
	if spec.PollInterval <= 0 {
		spec.PollInterval = DefaultPollInterval
	}
	if spec.ShutdownTimeout <= 0 {
		spec.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &ServerController{
		Controller: base,
		spec:       spec,
	}
	s.machine = fsm.NewFSM(
		StateNotStarted,
		fsm.Events{
			{Name: eventStart, Src: []string{StateNotStarted}, Dst: StateStarting},
			{Name: eventReady, Src: []string{StateStarting}, Dst: StateReady},
			{Name: eventFail, Src: []string{StateStarting}, Dst: StateFailed},
			{Name: eventShutdown, Src: []string{StateStarting, StateReady, StateFailed}, Dst: StateShuttingDown},
			{Name: eventStopped, Src: []string{StateShuttingDown}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				base.log.Debug("Server state change", "from", e.Src, "to", e.Dst)
			},
		},
	)
	return s
}

// State returns the server lifecycle state.
func (s *ServerController) State() string {
	return s.machine.Current()
}

// Ready reports whether the readiness handshake completed.
func (s *ServerController) Ready() bool {
	return s.machine.Is(StateReady)
}

// Port returns the discovered server port, 0 before readiness.
func (s *ServerController) Port() int {
	return s.info.Port
}

// Endpoint returns the server URL discovered during the handshake, or the
// one derived from the port. Empty before readiness.
func (s *ServerController) Endpoint() string {
	if s.info.URL != "" {
		return s.info.URL
	}
	if s.info.Port != 0 {
		return fmt.Sprintf("http://127.0.0.1:%d", s.info.Port)
	}
	return ""
}

// Setup prepares the base controller, starts the server and runs the
// readiness handshake. A server that exits before becoming ready is a
// setup failure. A readiness timeout with the server still running is
// not: the group's command is replaced with a guaranteed-failing no-op
// and the run continues.
func (s *ServerController) Setup(ctx context.Context) error {
	if err := s.Controller.Setup(ctx); err != nil {
		return err
	}
	if err := s.startServer(ctx); err != nil {
		return err
	}

	err := s.awaitReady(ctx)
	if err == nil {
		if s.spec.URLEnv != "" {
			s.SetEnv(s.spec.URLEnv, s.Endpoint())
		}
		s.log.Info("Auxiliary server ready", "port", s.info.Port, "url", s.Endpoint())
		return nil
	}

	_ = s.machine.Event(ctx, eventFail)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.srvWaiter.exited() {
		s.srvCapturer.Wait()
		s.log.Error("Auxiliary server exited before becoming ready",
			"err", s.srvWaiter.err, "output", string(s.srvCapturer.Bytes()))
		return fmt.Errorf("auxiliary server for %s exited during startup: %w", s.name, err)
	}

	// Server is alive but never published its endpoint. Leave it for
	// shutdown, make the dependent command fail deterministically.
	s.log.Error("Auxiliary server never published a connection endpoint",
		"timeout", s.spec.ReadyTimeout, "info_file", s.spec.InfoFile)
	metrics.RecordReadinessTimeout(s.name)
	s.SetCommand(guaranteedFailCmd)
	return nil
}

// startServer spawns the server child in its own scoped directory and
// process group, with output captured rather than echoed.
func (s *ServerController) startServer(ctx context.Context) error {
	srvDir, err := NewScopedDir("op-suite-" + s.name + "-server-")
	if err != nil {
		return fmt.Errorf("failed to allocate server dir for %s: %w", s.name, err)
	}
	s.srvDir = srvDir

	cmd := exec.Command(s.spec.Command[0], s.spec.Command[1:]...)
	cmd.Dir = srvDir.Path
	cmd.Env = mergeEnv(os.Environ(), s.env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open server output pipe for %s: %w", s.name, err)
	}
	cmd.Stderr = cmd.Stdout
	s.srvCapturer = NewStreamCapturer(nil, 0)
	s.srvCapturer.Start(stdout)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start auxiliary server for %s: %w", s.name, err)
	}
	s.srv = cmd
	s.srvPID = cmd.Process.Pid
	s.srvWaiter = newProcWaiter(cmd)
	if s.registry != nil {
		s.registry.Register(s.srvPID, s.name+"/server")
	}
	_ = s.machine.Event(ctx, eventStart)
	s.log.Debug("Auxiliary server started", "pid", s.srvPID, "dir", srvDir.Path)
	return nil
}

// awaitReady polls for the connection-info file at a fixed interval with
// a bounded retry count. A file observed mid-write parses as truncated
// JSON and is simply retried; a server exit is permanent.
func (s *ServerController) awaitReady(ctx context.Context) error {
	infoPath := filepath.Join(s.srvDir.Path, s.spec.InfoFile)
	maxRetries := uint64(s.spec.ReadyTimeout / s.spec.PollInterval)

	probe := func() error {
		if s.srvWaiter.exited() {
			return backoff.Permanent(fmt.Errorf("server process exited"))
		}
		data, err := os.ReadFile(infoPath)
		if err != nil {
			return fmt.Errorf("connection-info file not readable: %w", err)
		}
		var info connectionInfo
		if err := json.Unmarshal(data, &info); err != nil {
			// Likely observed mid-write; retry.
			return fmt.Errorf("connection-info file not yet valid: %w", err)
		}
		if info.Port == 0 {
			return fmt.Errorf("connection-info file missing port")
		}
		s.info = info
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.spec.PollInterval), maxRetries),
		ctx)
	if err := backoff.Retry(probe, policy); err != nil {
		return err
	}
	return s.machine.Event(ctx, eventReady)
}

// Cleanup shuts the server down with the mandatory two-stage escalation,
// then releases the base controller's resources. Total shutdown latency
// is bounded by 2x the shutdown timeout regardless of how the server
// responds.
func (s *ServerController) Cleanup() {
	s.shutdownOnce.Do(s.shutdownServer)
	s.Controller.Cleanup()
}

func (s *ServerController) shutdownServer() {
	if s.srv == nil {
		s.releaseServerDir()
		return
	}
	ctx := context.Background()
	_ = s.machine.Event(ctx, eventShutdown)

	alive := !s.srvWaiter.exited()
	if alive {
		s.log.Debug("Requesting graceful server shutdown", "pid", s.srvPID)
		if err := syscall.Kill(-s.srvPID, syscall.SIGTERM); err != nil {
			s.log.Warn("Failed to signal server", "pid", s.srvPID, "err", err)
		}
		if !s.srvWaiter.waitTimeout(s.spec.ShutdownTimeout) {
			s.log.Warn("Server ignored SIGTERM, force-killing", "pid", s.srvPID)
			if err := syscall.Kill(-s.srvPID, syscall.SIGKILL); err != nil {
				s.log.Warn("Failed to kill server", "pid", s.srvPID, "err", err)
			}
			if !s.srvWaiter.waitTimeout(s.spec.ShutdownTimeout) {
				// Leave it registered so the end-of-run sweep reports it.
				s.log.Error("Server survived SIGKILL, reporting as leaked", "pid", s.srvPID)
				s.releaseServerDir()
				return
			}
		}
	}

	_ = s.machine.Event(ctx, eventStopped)
	if s.registry != nil {
		s.registry.Deregister(s.srvPID)
	}
	s.srvCapturer.Wait()
	s.releaseServerDir()
	s.log.Debug("Auxiliary server stopped", "pid", s.srvPID)
}

func (s *ServerController) releaseServerDir() {
	if s.srvDir == nil {
		return
	}
	if err := s.srvDir.Release(); err != nil {
		s.log.Error("Failed to release server dir", "path", s.srvDir.Path, "err", err)
	}
}
