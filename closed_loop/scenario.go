package main

import (
	"encoding/json"
	"fmt"
	"os"

	"mpc-solution-core/closed_loop/producer"
)

// Scenario defines a complete closed-loop run
type Scenario struct {
	Meta         ScenarioMeta            `json:"meta"`
	Timing       ScenarioTiming          `json:"timing"`
	Solver       producer.TrackingConfig `json:"solver"`
	Path         producer.Path           `json:"path"`
	InitialState InitialState            `json:"initial_state"`
	Faults       []producer.Fault        `json:"faults,omitempty"`
}

// ScenarioMeta contains scenario metadata
type ScenarioMeta struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
}

// ScenarioTiming defines timing parameters
type ScenarioTiming struct {
	DurationS float64 `json:"duration_s"`
	// RealTimeMode paces cycles on the wall clock; otherwise cycles run
	// back to back with simulated time.
	RealTimeMode bool `json:"real_time_mode"`
}

// InitialState is the simulated vehicle pose at t=0.
type InitialState struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Psi float64 `json:"psi"`
	V   float64 `json:"v"`
}

func (s InitialState) vehicle() producer.VehicleState {
	return producer.VehicleState{X: s.X, Y: s.Y, Psi: s.Psi, V: s.V}
}

// LoadScenario loads a scenario from JSON file. Solver fields missing from
// the file keep their defaults.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read file: %w", err)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (Scenario, error) {
	scen := Scenario{Solver: producer.DefaultTrackingConfig()}
	if err := json.Unmarshal(data, &scen); err != nil {
		return Scenario{}, fmt.Errorf("unmarshal: %w", err)
	}

	if scen.Timing.DurationS <= 0 {
		return Scenario{}, fmt.Errorf("invalid duration_s: %f", scen.Timing.DurationS)
	}
	if err := scen.Solver.Validate(); err != nil {
		return Scenario{}, fmt.Errorf("solver: %w", err)
	}
	if err := scen.Path.Validate(); err != nil {
		return Scenario{}, err
	}
	for i, f := range scen.Faults {
		if f.T0 < 0 {
			return Scenario{}, fmt.Errorf("fault %d: invalid t0 %f", i, f.T0)
		}
		if f.T1 >= 0 && f.T1 <= f.T0 {
			return Scenario{}, fmt.Errorf("fault %d: t1 %f not after t0 %f", i, f.T1, f.T0)
		}
		if f.DelayMS < 0 {
			return Scenario{}, fmt.Errorf("fault %d: invalid delay_ms %d", i, f.DelayMS)
		}
	}
	return scen, nil
}

// DefaultScenario follows a straight line along +x for ten seconds.
func DefaultScenario() Scenario {
	return Scenario{
		Meta:   ScenarioMeta{Name: "straight", Version: 1, Description: "straight line, no faults"},
		Timing: ScenarioTiming{DurationS: 10},
		Solver: producer.DefaultTrackingConfig(),
	}
}
