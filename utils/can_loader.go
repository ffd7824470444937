package utils

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// mpc_can_map.csv describes the MPC summary frames published on the vehicle
// bus. Factors double as the documented precision of each signal.
//
//go:embed mpc_can_map.csv
var defaultCANMap []byte

// DefaultCANMap parses the embedded MPC summary frame map.
func DefaultCANMap() (*CANMap, error) {
	return ParseCANMap(bytes.NewReader(defaultCANMap))
}

// LoadCANMap reads a can_map CSV from disk. An empty path selects the
// embedded map.
func LoadCANMap(csvPath string) (*CANMap, error) {
	if csvPath == "" {
		return DefaultCANMap()
	}
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := ParseCANMap(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", csvPath, err)
	}
	return m, nil
}

var requiredColumns = []string{
	"direction", "frame_id", "frame_name", "cycle_ms", "dlc",
	"signal_name", "start_bit", "bit_length", "endianness",
	"signed", "factor", "offset", "min", "max", "default", "unit", "comment",
}

// ParseCANMap reads the CSV layout: one row per signal, frames grouped by
// frame_id.
func ParseCANMap(r io.Reader) (*CANMap, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, k := range requiredColumns {
		if _, ok := idx[k]; !ok {
			return nil, fmt.Errorf("can map missing required column: %q", k)
		}
	}

	m := &CANMap{
		ByID:   map[uint32]*FrameDef{},
		ByName: map[string]*FrameDef{},
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		row := csvRow{rec: rec, idx: idx}

		frameID, err := parseHexOrDecUint32(row.get("frame_id"))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid frame_id %q: %w", line, row.get("frame_id"), err)
		}
		frameName := row.get("frame_name")
		cycleMS := row.getInt("cycle_ms")
		dlc := row.getInt("dlc")

		sig := SignalDef{
			Name:       row.get("signal_name"),
			StartBit:   row.getInt("start_bit"),
			BitLength:  row.getInt("bit_length"),
			Endianness: row.get("endianness"),
			Signed:     row.getBool("signed"),
			Factor:     row.getFloat("factor"),
			Offset:     row.getFloat("offset"),
			Min:        row.getFloat("min"),
			Max:        row.getFloat("max"),
			Default:    row.getFloat("default"),
			Unit:       row.get("unit"),
			Comment:    row.get("comment"),
		}
		if row.err != nil {
			return nil, fmt.Errorf("line %d: %w", line, row.err)
		}

		if sig.Endianness != "" && sig.Endianness != "little" {
			return nil, fmt.Errorf("frame %s signal %s: unsupported endianness %q (only little supported)",
				frameName, sig.Name, sig.Endianness)
		}
		if sig.BitLength <= 0 || sig.BitLength > 64 {
			return nil, fmt.Errorf("frame %s signal %s: invalid bit_length %d", frameName, sig.Name, sig.BitLength)
		}
		if sig.StartBit < 0 || sig.StartBit+sig.BitLength > 8*dlc {
			return nil, fmt.Errorf("frame %s signal %s: bits %d..%d exceed dlc %d",
				frameName, sig.Name, sig.StartBit, sig.StartBit+sig.BitLength-1, dlc)
		}
		if sig.Factor == 0 {
			return nil, fmt.Errorf("frame %s signal %s: factor must be non-zero", frameName, sig.Name)
		}
		if dlc <= 0 || dlc > 8 {
			return nil, fmt.Errorf("frame %s (0x%X): invalid dlc %d", frameName, frameID, dlc)
		}

		fd, ok := m.ByID[frameID]
		if !ok {
			fd = &FrameDef{
				ID:        frameID,
				Name:      frameName,
				DLC:       dlc,
				Direction: row.get("direction"),
				CycleMS:   cycleMS,
				Signals:   []SignalDef{},
			}
			m.ByID[frameID] = fd
			m.ByName[frameName] = fd
		}

		if fd.DLC != dlc {
			return nil, fmt.Errorf("frame %s (0x%X) has inconsistent DLC (%d vs %d)", frameName, frameID, fd.DLC, dlc)
		}

		fd.Signals = append(fd.Signals, sig)
	}

	for _, fd := range m.ByID {
		sort.Slice(fd.Signals, func(i, j int) bool { return fd.Signals[i].StartBit < fd.Signals[j].StartBit })
		for i := 1; i < len(fd.Signals); i++ {
			prev, cur := fd.Signals[i-1], fd.Signals[i]
			if prev.StartBit+prev.BitLength > cur.StartBit {
				return nil, fmt.Errorf("frame %s: signals %s and %s overlap", fd.Name, prev.Name, cur.Name)
			}
		}
	}

	return m, nil
}

// csvRow reads typed columns and keeps the first conversion error.
type csvRow struct {
	rec []string
	idx map[string]int
	err error
}

func (r *csvRow) get(col string) string {
	i := r.idx[col]
	if i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r *csvRow) getInt(col string) int {
	v, err := strconv.Atoi(r.get(col))
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("column %s: %w", col, err)
	}
	return v
}

func (r *csvRow) getFloat(col string) float64 {
	v, err := strconv.ParseFloat(r.get(col), 64)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("column %s: %w", col, err)
	}
	return v
}

func (r *csvRow) getBool(col string) bool {
	ss := strings.ToLower(r.get(col))
	return ss == "true" || ss == "1" || ss == "yes"
}

func parseHexOrDecUint32(s string) (uint32, error) {
	ss := strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(ss, "0x") || strings.HasPrefix(ss, "0X") {
		base = 16
		ss = ss[2:]
	}
	u, err := strconv.ParseUint(ss, base, 32)
	if err != nil {
		return 0, err
	}
	return uint32(u), nil
}
