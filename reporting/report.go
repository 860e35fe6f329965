// Package reporting consumes per-group results and renders run-level
// artifacts. Sinks receive results in completion order and flush once the
// run is done.
package reporting

import (
	"github.com/ethereum-optimism/infra/op-suite/types"
)

// ResultSink is an interface for different ways of consuming group
// results.
type ResultSink interface {
	// Consume processes a single group result
	Consume(result *types.GroupResult) error
	// Complete is called when all results have been consumed
	Complete(runID string) error
}
