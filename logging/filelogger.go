// Package logging writes per-group captured output to files under the
// run's artifact directory.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-suite/types"
)

const (
	// RunDirectoryPrefix is the standardized prefix for run directories.
	RunDirectoryPrefix = "testrun-"
	// SummaryFilename collects the one-line outcome of every group.
	SummaryFilename = "summary.log"
)

// RunDir returns the artifact directory for one run.
func RunDir(baseDir, runID string) string {
	return filepath.Join(baseDir, RunDirectoryPrefix+runID)
}

// GroupLogPath returns the captured-output file for one group, derived
// deterministically from its name.
func GroupLogPath(baseDir, runID, group string) string {
	return filepath.Join(RunDir(baseDir, runID), group+".log")
}

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(path string) (*AsyncFile, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100), // Buffer channel to reduce blocking
	}

	af.wg.Add(1)
	go af.processQueue()

	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	// Copy so the caller can reuse its buffer
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	af.queue <- dataCopy
	return nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close stops the async writer and closes the file
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()
	return af.file.Close()
}

// FileLogger persists each group's captured output as
// <artifacts>/testrun-<runID>/<group>.log plus a run summary file. It
// implements reporting.ResultSink.
type FileLogger struct {
	baseDir string
	runID   string
	runDir  string

	mu      sync.Mutex
	summary *AsyncFile
	writers map[string]*AsyncFile
}

// NewFileLogger creates the run directory and the sink writing into it.
func NewFileLogger(baseDir, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID is required")
	}
	runDir := RunDir(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	summary, err := NewAsyncFile(filepath.Join(runDir, SummaryFilename))
	if err != nil {
		return nil, err
	}
	return &FileLogger{
		baseDir: baseDir,
		runID:   runID,
		runDir:  runDir,
		summary: summary,
		writers: make(map[string]*AsyncFile),
	}, nil
}

// RunDir returns the directory this logger writes into.
func (l *FileLogger) RunDir() string {
	return l.runDir
}

// Consume writes one group's captured output to its log file and appends
// a line to the run summary. ANSI escapes are stripped so the files stay
// grep-friendly.
func (l *FileLogger) Consume(result *types.GroupResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.writers[result.Name]
	if !ok {
		var err error
		w, err = NewAsyncFile(GroupLogPath(l.baseDir, l.runID, result.Name))
		if err != nil {
			return err
		}
		l.writers[result.Name] = w
	}

	if len(result.Output) > 0 {
		clean := stripansi.Strip(string(result.Output))
		if err := w.Write([]byte(clean)); err != nil {
			return err
		}
	}
	line := fmt.Sprintf("%s: %s (%s)\n", result.Name, result.Status, result.Duration.Round(time.Millisecond))
	return l.summary.Write([]byte(line))
}

// Complete flushes and closes every file the run produced.
func (l *FileLogger) Complete(runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for name, w := range l.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close log for %s: %w", name, err)
		}
	}
	l.writers = make(map[string]*AsyncFile)
	if err := l.summary.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
