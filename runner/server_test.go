package runner

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-suite/types"
)

func newTestServerController(t *testing.T, serverCmd []string, spec ServerSpec) *ServerController {
	t.Helper()
	base := newTestController("srvgroup", "true")
	spec.Command = serverCmd
	if spec.InfoFile == "" {
		spec.InfoFile = "server.json"
	}
	return NewServerController(base, spec)
}

func TestServerReadinessHandshake(t *testing.T) {
	// The server writes its connection info shortly after starting, then
	// stays alive until shut down.
	s := newTestServerController(t,
		[]string{"sh", "-c", `sleep 0.2; echo '{"port": 8123}' > server.json; sleep 300`},
		ServerSpec{
			ReadyTimeout:    10 * time.Second,
			PollInterval:    50 * time.Millisecond,
			ShutdownTimeout: 2 * time.Second,
		})
	defer s.Cleanup()

	require.NoError(t, s.Setup(context.Background()))
	assert.True(t, s.Ready())
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, 8123, s.Port())
	assert.Equal(t, "http://127.0.0.1:8123", s.Endpoint())
}

func TestServerReadinessURLFromInfoFile(t *testing.T) {
	s := newTestServerController(t,
		[]string{"sh", "-c", `echo '{"port": 9000, "url": "http://localhost:9000/app"}' > server.json; sleep 300`},
		ServerSpec{
			ReadyTimeout:    10 * time.Second,
			PollInterval:    50 * time.Millisecond,
			ShutdownTimeout: 2 * time.Second,
		})
	defer s.Cleanup()

	require.NoError(t, s.Setup(context.Background()))
	assert.Equal(t, "http://localhost:9000/app", s.Endpoint())
}

func TestServerToleratesInfoFileMidWrite(t *testing.T) {
	// First a truncated JSON document appears, then the complete one.
	s := newTestServerController(t,
		[]string{"sh", "-c", `printf '{"po' > server.json; sleep 0.3; printf '{"port": 4242}' > server.json; sleep 300`},
		ServerSpec{
			ReadyTimeout:    10 * time.Second,
			PollInterval:    50 * time.Millisecond,
			ShutdownTimeout: 2 * time.Second,
		})
	defer s.Cleanup()

	require.NoError(t, s.Setup(context.Background()))
	assert.True(t, s.Ready())
	assert.Equal(t, 4242, s.Port())
}

func TestServerPrematureExitIsSetupFailure(t *testing.T) {
	s := newTestServerController(t,
		[]string{"sh", "-c", "echo boot failed; exit 3"},
		ServerSpec{
			ReadyTimeout:    5 * time.Second,
			PollInterval:    50 * time.Millisecond,
			ShutdownTimeout: 2 * time.Second,
		})
	defer s.Cleanup()

	err := s.Setup(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, s.State())
}

func TestServerReadinessTimeoutSubstitutesFailingCommand(t *testing.T) {
	// Server stays alive but never writes the info file.
	s := newTestServerController(t,
		[]string{"sleep", "300"},
		ServerSpec{
			ReadyTimeout:    400 * time.Millisecond,
			PollInterval:    50 * time.Millisecond,
			ShutdownTimeout: 2 * time.Second,
		})
	defer s.Cleanup()

	start := time.Now()
	require.NoError(t, s.Setup(context.Background()))
	// Bounded by the polling window, give or take one interval.
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, s.Ready())
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 0, s.Port())

	// The dependent group now fails deterministically instead of running
	// against a server that never came up.
	require.NoError(t, s.Launch(types.CaptureDiscard))
	status := s.Wait(context.Background())
	assert.True(t, status.Failed())
}

func TestServerGracefulShutdown(t *testing.T) {
	s := newTestServerController(t,
		[]string{"sh", "-c", `echo '{"port": 7}' > server.json; sleep 300`},
		ServerSpec{
			ReadyTimeout:    10 * time.Second,
			PollInterval:    50 * time.Millisecond,
			ShutdownTimeout: 5 * time.Second,
		})

	require.NoError(t, s.Setup(context.Background()))
	pid := s.srvPID

	s.Cleanup()
	assert.Equal(t, StateStopped, s.State())
	assert.Error(t, syscall.Kill(pid, 0))
}

func TestServerShutdownEscalation(t *testing.T) {
	// The server ignores SIGTERM; shutdown must escalate to SIGKILL and
	// stay within roughly twice the per-stage timeout.
	shutdownTimeout := 500 * time.Millisecond
	s := newTestServerController(t,
		[]string{"sh", "-c", `trap '' TERM; echo '{"port": 7}' > server.json; while true; do sleep 1; done`},
		ServerSpec{
			ReadyTimeout:    10 * time.Second,
			PollInterval:    50 * time.Millisecond,
			ShutdownTimeout: shutdownTimeout,
		})

	require.NoError(t, s.Setup(context.Background()))
	pid := s.srvPID

	start := time.Now()
	s.Cleanup()
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*shutdownTimeout+2*time.Second)
	assert.Error(t, syscall.Kill(pid, 0))
	assert.Equal(t, StateStopped, s.State())
}

func TestServerCleanupIdempotent(t *testing.T) {
	s := newTestServerController(t,
		[]string{"sh", "-c", `echo '{"port": 7}' > server.json; sleep 300`},
		ServerSpec{
			ReadyTimeout:    10 * time.Second,
			PollInterval:    50 * time.Millisecond,
			ShutdownTimeout: 2 * time.Second,
		})

	require.NoError(t, s.Setup(context.Background()))
	s.Cleanup()
	s.Cleanup()
}
