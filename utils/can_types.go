package utils

import (
	"fmt"
	"sort"
)

type SignalDef struct {
	Name       string
	StartBit   int
	BitLength  int
	Signed     bool
	Factor     float64
	Offset     float64
	Min        float64
	Max        float64
	Default    float64
	Unit       string
	Comment    string
	Endianness string // only "little" supported
}

// Resolution is the smallest physical step the signal can carry; it bounds
// the precision lost when a float64 is packed into the frame.
func (s SignalDef) Resolution() float64 {
	return s.Factor
}

type FrameDef struct {
	ID        uint32
	Name      string
	DLC       int
	Direction string
	CycleMS   int
	Signals   []SignalDef
}

// Signal looks up a signal of the frame by name.
func (fd *FrameDef) Signal(name string) (SignalDef, error) {
	for _, s := range fd.Signals {
		if s.Name == name {
			return s, nil
		}
	}
	return SignalDef{}, fmt.Errorf("frame %s has no signal %q", fd.Name, name)
}

type CANMap struct {
	ByID   map[uint32]*FrameDef
	ByName map[string]*FrameDef
}

func (m *CANMap) FrameNames() []string {
	out := make([]string, 0, len(m.ByName))
	for k := range m.ByName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *CANMap) FrameByName(name string) (*FrameDef, error) {
	fd, ok := m.ByName[name]
	if !ok {
		return nil, fmt.Errorf("unknown frame %q (available: %v)", name, m.FrameNames())
	}
	return fd, nil
}

func (m *CANMap) FrameByID(id uint32) (*FrameDef, error) {
	fd, ok := m.ByID[id]
	if !ok {
		return nil, fmt.Errorf("unknown frame id 0x%X", id)
	}
	return fd, nil
}
