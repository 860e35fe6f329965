package runner

import "time"

const (
	// DefaultReadyTimeout bounds the auxiliary server readiness handshake.
	DefaultReadyTimeout = 30 * time.Second
	// DefaultPollInterval is the readiness probe interval.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultShutdownTimeout bounds each stage of the two-stage server
	// shutdown; total shutdown latency is at most twice this.
	DefaultShutdownTimeout = 10 * time.Second

	// killReapTimeout bounds how long Cleanup waits for a SIGKILLed child
	// to be reaped before giving up and logging.
	killReapTimeout = 5 * time.Second

	// maxWorkBuffer caps the worker pool's channel buffering regardless of
	// concurrency.
	maxWorkBuffer = 100
)
