package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mpc-solution-core/closed_loop/follower"
	"mpc-solution-core/closed_loop/producer"
	"mpc-solution-core/mpcmsg"
)

// NodeConfig is the solver node's YAML configuration. Command-line flags
// override individual fields.
type NodeConfig struct {
	Interface string `yaml:"interface"` // SocketCAN interface, empty disables CAN
	CANMap    string `yaml:"can_map"`   // CSV path, empty selects the embedded map
	Listen    string `yaml:"listen"`    // gRPC address, empty disables streaming
	Record    string `yaml:"record"`    // SQLite file, empty disables recording

	FrameID        string `yaml:"frame_id"`
	CycleMS        int    `yaml:"cycle_ms"`
	SolveTimeoutMS int    `yaml:"solve_timeout_ms"`

	// Convention is the control length the node publishes: "n" or "n-1".
	Convention string `yaml:"control_convention"`
	// Headings is the range psis/psir are wrapped into.
	Headings string `yaml:"heading_range"`

	Follower FollowerSettings `yaml:"follower"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// FollowerSettings configures the in-process reference consumer.
type FollowerSettings struct {
	Convention    string  `yaml:"control_convention"` // "auto" pins the first convention seen
	Headings      string  `yaml:"heading_range"`
	MaxHoldCycles int     `yaml:"max_hold_cycles"`
	StopDecel     float64 `yaml:"stop_decel"`
	MaxAgeMS      int     `yaml:"max_age_ms"`
}

func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		FrameID:        "map",
		CycleMS:        50,
		SolveTimeoutMS: 40,
		Convention:     "n-1",
		Headings:       "symmetric",
		Follower: FollowerSettings{
			Convention:    "auto",
			Headings:      "any",
			MaxHoldCycles: 10,
			StopDecel:     3.0,
			MaxAgeMS:      500,
		},
		LogLevel: "info",
		LogFile:  "closed_loop.log",
	}
}

// LoadNodeConfig reads path over the defaults. An empty path returns the
// defaults.
func LoadNodeConfig(path string) (NodeConfig, error) {
	cfg := DefaultNodeConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("read file: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return NodeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

func (c NodeConfig) Validate() error {
	if c.CycleMS <= 0 {
		return fmt.Errorf("invalid cycle_ms: %d", c.CycleMS)
	}
	if c.SolveTimeoutMS < 0 {
		return fmt.Errorf("invalid solve_timeout_ms: %d", c.SolveTimeoutMS)
	}
	if c.FrameID == "" {
		return fmt.Errorf("frame_id is required")
	}
	conv, err := mpcmsg.ParseControlConvention(c.Convention)
	if err != nil {
		return err
	}
	if conv == mpcmsg.ControlsAuto {
		return fmt.Errorf("control_convention must be n or n-1 for a producer")
	}
	if _, err := mpcmsg.ParseHeadingRange(c.Headings); err != nil {
		return err
	}
	if _, err := mpcmsg.ParseControlConvention(c.Follower.Convention); err != nil {
		return fmt.Errorf("follower: %w", err)
	}
	if _, err := mpcmsg.ParseHeadingRange(c.Follower.Headings); err != nil {
		return fmt.Errorf("follower: %w", err)
	}
	if c.Follower.MaxHoldCycles < 0 || c.Follower.StopDecel < 0 || c.Follower.MaxAgeMS < 0 {
		return fmt.Errorf("follower: limits must be non-negative")
	}
	return nil
}

func (c NodeConfig) Cycle() time.Duration {
	return time.Duration(c.CycleMS) * time.Millisecond
}

// ProducerConfig converts the node settings. Call Validate first.
func (c NodeConfig) ProducerConfig() producer.Config {
	conv, _ := mpcmsg.ParseControlConvention(c.Convention)
	hr, _ := mpcmsg.ParseHeadingRange(c.Headings)
	return producer.Config{
		FrameID:      c.FrameID,
		Convention:   conv,
		Headings:     hr,
		SolveTimeout: time.Duration(c.SolveTimeoutMS) * time.Millisecond,
	}
}

// FollowerConfig converts the follower settings. Call Validate first.
func (c NodeConfig) FollowerConfig() follower.Config {
	conv, _ := mpcmsg.ParseControlConvention(c.Follower.Convention)
	hr, _ := mpcmsg.ParseHeadingRange(c.Follower.Headings)
	return follower.Config{
		Convention:    conv,
		Headings:      hr,
		MaxHoldCycles: c.Follower.MaxHoldCycles,
		StopDecel:     c.Follower.StopDecel,
		MaxAge:        time.Duration(c.Follower.MaxAgeMS) * time.Millisecond,
	}
}
