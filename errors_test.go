package suite

import (
	"errors"
	"fmt"
	"runtime"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	runtimeErr := NewRuntimeError(errors.New("catalog unreadable"))
	testErr := NewTestFailureError("2 groups failed")
	intErr := NewInterruptedError(syscall.SIGINT)

	assert.True(t, IsRuntimeError(runtimeErr))
	assert.False(t, IsRuntimeError(testErr))
	assert.False(t, IsRuntimeError(intErr))
	assert.False(t, IsRuntimeError(nil))

	assert.True(t, IsTestFailureError(testErr))
	assert.False(t, IsTestFailureError(runtimeErr))

	assert.True(t, IsInterruptedError(intErr))
	assert.False(t, IsInterruptedError(testErr))
}

func TestErrorClassificationThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("while starting: %w", NewRuntimeError(errors.New("boom")))
	assert.True(t, IsRuntimeError(wrapped))
	assert.False(t, IsTestFailureError(wrapped))
}

func TestRuntimeErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := NewRuntimeError(inner)
	assert.ErrorIs(t, err, inner)
}

func TestInterruptedErrorExitCode(t *testing.T) {
	assert.Equal(t, 130, NewInterruptedError(syscall.SIGINT).ExitCode())
	assert.Equal(t, 143, NewInterruptedError(syscall.SIGTERM).ExitCode())
}

func TestParseJobs(t *testing.T) {
	n, err := parseJobs("4")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = parseJobs("auto")
	require.NoError(t, err)
	assert.Equal(t, runtime.NumCPU(), n)

	for _, bad := range []string{"0", "-1", "many", ""} {
		_, err := parseJobs(bad)
		assert.Error(t, err, "jobs value %q", bad)
	}
}
