package catalog

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
)

func TestProbeCapabilities(t *testing.T) {
	logger := log.NewLogger(log.DiscardHandler())
	caps := ProbeCapabilities(context.Background(), logger, []string{"sh", "definitely-not-a-real-tool-xyz"})

	assert.True(t, caps.Has("sh"))
	assert.False(t, caps.Has("definitely-not-a-real-tool-xyz"))
	// Never-probed tools read as absent.
	assert.False(t, caps.Has("never-probed"))
}

func TestMissingRequirements(t *testing.T) {
	logger := log.NewLogger(log.DiscardHandler())
	caps := ProbeCapabilities(context.Background(), logger, []string{"sh", "no-such-tool-a", "no-such-tool-b"})

	g := Group{
		Name:     "g",
		Command:  []string{"true"},
		Requires: []string{"sh", "no-such-tool-a", "no-such-tool-b"},
	}
	assert.Equal(t, []string{"no-such-tool-a", "no-such-tool-b"}, g.MissingRequirements(caps))

	ok := Group{Name: "ok", Command: []string{"true"}, Requires: []string{"sh"}}
	assert.Empty(t, ok.MissingRequirements(caps))
}
