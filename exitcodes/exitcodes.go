// Package exitcodes defines the standard exit codes used by op-suite.
package exitcodes

// Exit code constants used by op-suite
// These constants define the exit codes that the orchestrator uses to
// indicate various states when it exits:
//
// * Success (0): Used when every runnable test group passes
// * TestFailure (1): Used when one or more test groups fail
// * RuntimeErr (2): Used for runtime errors such as an unreadable catalog
//   or invalid configuration
// * Interrupted (130): Used when the run is cut short by SIGINT; 130 is
//   the POSIX shell encoding (128+2) of death-by-SIGINT
const (
	Success     = 0   // All test groups pass
	TestFailure = 1   // One or more test groups failed
	RuntimeErr  = 2   // Runtime errors (catalog, config, artifacts)
	Interrupted = 130 // Run interrupted by SIGINT
)
