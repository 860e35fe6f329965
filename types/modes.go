package types

import "fmt"

// CaptureMode controls what happens to a child's combined stdout/stderr.
type CaptureMode int

const (
	// CaptureShow echoes output live to the console while also buffering
	// it. Only valid for sequential execution; parallel runs coerce it to
	// CaptureBuffer so concurrent children never interleave on the
	// console.
	CaptureShow CaptureMode = iota
	// CaptureBuffer collects output into an in-memory buffer and prints
	// nothing live.
	CaptureBuffer
	// CaptureDiscard drops output entirely.
	CaptureDiscard
)

func (m CaptureMode) String() string {
	switch m {
	case CaptureShow:
		return "show"
	case CaptureBuffer:
		return "capture"
	case CaptureDiscard:
		return "discard"
	default:
		return fmt.Sprintf("capture-mode(%d)", int(m))
	}
}

// ParseCaptureMode parses the CLI representation of a capture mode.
func ParseCaptureMode(s string) (CaptureMode, error) {
	switch s {
	case "show":
		return CaptureShow, nil
	case "capture":
		return CaptureBuffer, nil
	case "discard":
		return CaptureDiscard, nil
	default:
		return CaptureShow, fmt.Errorf("invalid capture mode %q, must be one of: capture, show, discard", s)
	}
}

// CoverageMode selects how coverage collection is requested from child
// processes. Rendering of collected data is an external post-processing
// step; the orchestrator only passes the necessary environment through and
// records the requested format.
type CoverageMode string

const (
	CoverageOff  CoverageMode = "off"
	CoverageRaw  CoverageMode = "raw"
	CoverageHTML CoverageMode = "html"
	CoverageXML  CoverageMode = "xml"
)

// Enabled reports whether any coverage collection was requested.
func (m CoverageMode) Enabled() bool {
	return m != CoverageOff && m != ""
}

// ParseCoverageMode parses the CLI representation of a coverage mode.
func ParseCoverageMode(s string) (CoverageMode, error) {
	switch CoverageMode(s) {
	case CoverageOff, CoverageRaw, CoverageHTML, CoverageXML:
		return CoverageMode(s), nil
	case "":
		return CoverageOff, nil
	default:
		return CoverageOff, fmt.Errorf("invalid coverage mode %q, must be one of: off, raw, html, xml", s)
	}
}
