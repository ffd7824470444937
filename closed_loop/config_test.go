package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpc-solution-core/mpcmsg"
)

func TestLoadNodeConfigDefaults(t *testing.T) {
	cfg, err := LoadNodeConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultNodeConfig(), cfg)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50*time.Millisecond, cfg.Cycle())
}

func TestLoadNodeConfigExample(t *testing.T) {
	cfg, err := LoadNodeConfig("node.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":50071", cfg.Listen)
	assert.Equal(t, "mpc_solutions.db", cfg.Record)
	assert.Empty(t, cfg.Interface)

	pc := cfg.ProducerConfig()
	assert.Equal(t, "map", pc.FrameID)
	assert.Equal(t, mpcmsg.ControlsPerInterval, pc.Convention)
	assert.Equal(t, mpcmsg.HeadingSymmetric, pc.Headings)
	assert.Equal(t, 40*time.Millisecond, pc.SolveTimeout)

	fc := cfg.FollowerConfig()
	assert.Equal(t, mpcmsg.ControlsAuto, fc.Convention)
	assert.Equal(t, mpcmsg.HeadingAny, fc.Headings)
	assert.Equal(t, 10, fc.MaxHoldCycles)
	assert.Equal(t, 3.0, fc.StopDecel)
	assert.Equal(t, 500*time.Millisecond, fc.MaxAge)
}

func TestLoadNodeConfigPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cycle_ms: 20\ncontrol_convention: n\nfollower:\n  max_hold_cycles: 3\n"), 0o644))

	cfg, err := LoadNodeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.CycleMS)
	assert.Equal(t, "map", cfg.FrameID)
	assert.Equal(t, mpcmsg.ControlsPerState, cfg.ProducerConfig().Convention)
	assert.Equal(t, 3, cfg.Follower.MaxHoldCycles)
	assert.Equal(t, 3.0, cfg.Follower.StopDecel)
}

func TestLoadNodeConfigErrors(t *testing.T) {
	_, err := LoadNodeConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cycle_ms: [1, 2"), 0o644))
	_, err = LoadNodeConfig(path)
	assert.Error(t, err)
}

func TestNodeConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*NodeConfig)
	}{
		{"zero cycle", func(c *NodeConfig) { c.CycleMS = 0 }},
		{"negative timeout", func(c *NodeConfig) { c.SolveTimeoutMS = -1 }},
		{"no frame", func(c *NodeConfig) { c.FrameID = "" }},
		{"auto producer convention", func(c *NodeConfig) { c.Convention = "auto" }},
		{"unknown convention", func(c *NodeConfig) { c.Convention = "n+1" }},
		{"unknown heading range", func(c *NodeConfig) { c.Headings = "degrees" }},
		{"unknown follower convention", func(c *NodeConfig) { c.Follower.Convention = "sometimes" }},
		{"negative hold", func(c *NodeConfig) { c.Follower.MaxHoldCycles = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultNodeConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
