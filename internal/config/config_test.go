package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeights_Defaults(t *testing.T) {
	s := &ServerConfig{MCPEnabled: true, RESTEnabled: true}
	mcp, rest := s.Weights()
	assert.InDelta(t, 0.6, mcp, 1e-9)
	assert.InDelta(t, 0.4, rest, 1e-9)
}

func TestWeights_RenormalizeWhenOneDisabled(t *testing.T) {
	s := &ServerConfig{MCPEnabled: true, RESTEnabled: false, MCPPriorityWeight: 0.6, RESTPriorityWeight: 0.4}
	mcp, rest := s.Weights()
	assert.InDelta(t, 1.0, mcp, 1e-9)
	assert.InDelta(t, 0.0, rest, 1e-9)
}

func TestWeightsFor_OverridesConfigFlags(t *testing.T) {
	s := &ServerConfig{MCPEnabled: true, RESTEnabled: true, MCPPriorityWeight: 0.6, RESTPriorityWeight: 0.4}
	// Both enabled in config, but only REST actually ran this cycle.
	mcp, rest := s.WeightsFor(false, true)
	assert.InDelta(t, 0.0, mcp, 1e-9)
	assert.InDelta(t, 1.0, rest, 1e-9)
}

func TestMerge_TracksAddedChangedRemoved(t *testing.T) {
	current := &Config{Servers: []ServerConfig{
		{Name: "a", MCPEnabled: true},
		{Name: "b", MCPEnabled: true},
	}}
	next := &Config{Servers: []ServerConfig{
		{Name: "a", MCPEnabled: false},
		{Name: "c", MCPEnabled: true},
	}}

	merged, added, changed, removed := Merge(current, next)
	assert.Same(t, next, merged)
	assert.Equal(t, []string{"c"}, added)
	assert.Equal(t, []string{"a"}, changed)
	assert.Equal(t, []string{"b"}, removed)
}
