package runner

import (
	"io"
	"sync"
)

const defaultCaptureTailBytes = 5 * 1024 * 1024 // 5MB kept in memory per group

// StreamCapturer drains a child process's combined output pipe from a
// dedicated goroutine into an in-memory buffer, optionally echoing each
// chunk live. The buffer keeps only the last maxBytes so a chatty group
// cannot exhaust memory; the capture is always fully drained before the
// underlying process handle is discarded.
type StreamCapturer struct {
	echo     io.Writer // nil when output is buffered only
	maxBytes int

	mu       sync.Mutex
	total    int64
	contents []byte
	overflow bool

	wg      sync.WaitGroup
	started bool
}

// NewStreamCapturer creates a capturer. echo may be nil to buffer without
// echoing; maxBytes <= 0 selects the default tail size.
func NewStreamCapturer(echo io.Writer, maxBytes int) *StreamCapturer {
	if maxBytes <= 0 {
		maxBytes = defaultCaptureTailBytes
	}
	return &StreamCapturer{
		echo:     echo,
		maxBytes: maxBytes,
		contents: make([]byte, 0, 4096),
	}
}

// Start launches the reader goroutine copying r until EOF or read error.
// The pipe closes when the child exits, which terminates the copy.
func (s *StreamCapturer) Start(r io.Reader) {
	s.started = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		buf := make([]byte, 32*1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				s.append(buf[:n])
				if s.echo != nil {
					_, _ = s.echo.Write(buf[:n])
				}
			}
			if err != nil {
				return
			}
		}
	}()
}

func (s *StreamCapturer) append(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total += int64(len(p))
	s.contents = append(s.contents, p...)
	if len(s.contents) > s.maxBytes {
		// Trim the front to keep the most recent bytes.
		s.contents = s.contents[len(s.contents)-s.maxBytes:]
		s.overflow = true
	}
}

// Wait blocks until the reader goroutine has drained the pipe. It must be
// called after the child has exited (or been killed) so the pipe has an
// EOF to deliver.
func (s *StreamCapturer) Wait() {
	if !s.started {
		return
	}
	s.wg.Wait()
}

// Bytes returns a copy of the captured output collected so far.
func (s *StreamCapturer) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(s.contents))
	copy(cp, s.contents)
	return cp
}

// TotalBytes returns the total number of bytes the child wrote, including
// any trimmed from the front of the tail buffer.
func (s *StreamCapturer) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Truncated reports whether the front of the output was dropped.
func (s *StreamCapturer) Truncated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflow
}
