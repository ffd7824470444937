package mpcmsg

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf field numbers of the binary wire format. Numbers are part of the
// compatibility contract: never reuse one, only append.
//
//	message Header   { uint32 seq = 1; sint64 secs = 2; uint32 nsecs = 3; string frame_id = 4; }
//	message Solution {
//	  Header header = 1; string solve_status = 2; double solve_time = 3;
//	  repeated double xs = 4; ys = 5; vs = 6; psis = 7;
//	  repeated double xr = 8; yr = 9; vr = 10; psir = 11;
//	  repeated double df = 12; acc = 13;
//	  double s = 14; e_y = 15; e_psi = 16;
//	  repeated double ay_mdl = 17; double v_ref = 18; repeated double xy_waypoint = 19;
//	}
const (
	fieldHeader      protowire.Number = 1
	fieldSolveStatus protowire.Number = 2
	fieldSolveTime   protowire.Number = 3
	fieldXs          protowire.Number = 4
	fieldYs          protowire.Number = 5
	fieldVs          protowire.Number = 6
	fieldPsis        protowire.Number = 7
	fieldXr          protowire.Number = 8
	fieldYr          protowire.Number = 9
	fieldVr          protowire.Number = 10
	fieldPsir        protowire.Number = 11
	fieldDf          protowire.Number = 12
	fieldAcc         protowire.Number = 13
	fieldS           protowire.Number = 14
	fieldEY          protowire.Number = 15
	fieldEPsi        protowire.Number = 16
	fieldAyMdl       protowire.Number = 17
	fieldVRef        protowire.Number = 18
	fieldXYWaypoint  protowire.Number = 19

	headerSeq     protowire.Number = 1
	headerSecs    protowire.Number = 2
	headerNsecs   protowire.Number = 3
	headerFrameID protowire.Number = 4
)

// ErrTruncated is returned when a wire buffer ends inside a field.
var ErrTruncated = errors.New("truncated solution wire data")

// MarshalWire encodes m in protobuf wire format. Scalars are always written so
// negative zero survives the round trip; empty sequences are omitted.
func MarshalWire(m *Solution) []byte {
	b := make([]byte, 0, wireSizeHint(m))
	return AppendWire(b, m)
}

// AppendWire appends the wire encoding of m to b.
func AppendWire(b []byte, m *Solution) []byte {
	b = protowire.AppendTag(b, fieldHeader, protowire.BytesType)
	b = protowire.AppendBytes(b, appendHeader(nil, m.Header))

	if m.SolveStatus != "" {
		b = protowire.AppendTag(b, fieldSolveStatus, protowire.BytesType)
		b = protowire.AppendString(b, m.SolveStatus)
	}
	b = appendDouble(b, fieldSolveTime, m.SolveTime)

	b = appendPacked(b, fieldXs, m.Xs)
	b = appendPacked(b, fieldYs, m.Ys)
	b = appendPacked(b, fieldVs, m.Vs)
	b = appendPacked(b, fieldPsis, m.Psis)
	b = appendPacked(b, fieldXr, m.Xr)
	b = appendPacked(b, fieldYr, m.Yr)
	b = appendPacked(b, fieldVr, m.Vr)
	b = appendPacked(b, fieldPsir, m.Psir)
	b = appendPacked(b, fieldDf, m.Df)
	b = appendPacked(b, fieldAcc, m.Acc)

	b = appendDouble(b, fieldS, m.S)
	b = appendDouble(b, fieldEY, m.EY)
	b = appendDouble(b, fieldEPsi, m.EPsi)

	b = appendPacked(b, fieldAyMdl, m.AyMdl)
	b = appendDouble(b, fieldVRef, m.VRef)
	b = appendPacked(b, fieldXYWaypoint, m.XYWaypoint)
	return b
}

// UnmarshalWire decodes a solution. Unknown fields are skipped; repeated
// doubles are accepted both packed and unpacked.
func UnmarshalWire(b []byte) (*Solution, error) {
	m := &Solution{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("solution tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		var err error
		switch num {
		case fieldHeader:
			var raw []byte
			if raw, n, err = consumeBytes(b, typ); err == nil {
				m.Header, err = parseHeader(raw)
			}
		case fieldSolveStatus:
			var raw []byte
			raw, n, err = consumeBytes(b, typ)
			m.SolveStatus = string(raw)
		case fieldSolveTime:
			m.SolveTime, n, err = consumeDouble(b, typ)
		case fieldS:
			m.S, n, err = consumeDouble(b, typ)
		case fieldEY:
			m.EY, n, err = consumeDouble(b, typ)
		case fieldEPsi:
			m.EPsi, n, err = consumeDouble(b, typ)
		case fieldVRef:
			m.VRef, n, err = consumeDouble(b, typ)
		default:
			if dst := m.repeatedField(num); dst != nil {
				*dst, n, err = consumeRepeated(*dst, b, typ)
			} else {
				n = protowire.ConsumeFieldValue(num, typ, b)
				if n < 0 {
					err = protowire.ParseError(n)
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("solution field %d: %w", num, err)
		}
		b = b[n:]
	}
	return m, nil
}

func (m *Solution) repeatedField(num protowire.Number) *[]float64 {
	switch num {
	case fieldXs:
		return &m.Xs
	case fieldYs:
		return &m.Ys
	case fieldVs:
		return &m.Vs
	case fieldPsis:
		return &m.Psis
	case fieldXr:
		return &m.Xr
	case fieldYr:
		return &m.Yr
	case fieldVr:
		return &m.Vr
	case fieldPsir:
		return &m.Psir
	case fieldDf:
		return &m.Df
	case fieldAcc:
		return &m.Acc
	case fieldAyMdl:
		return &m.AyMdl
	case fieldXYWaypoint:
		return &m.XYWaypoint
	}
	return nil
}

func appendHeader(b []byte, h Header) []byte {
	b = protowire.AppendTag(b, headerSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.Seq))
	b = protowire.AppendTag(b, headerSecs, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(h.Stamp.Secs))
	b = protowire.AppendTag(b, headerNsecs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.Stamp.Nsecs))
	if h.FrameID != "" {
		b = protowire.AppendTag(b, headerFrameID, protowire.BytesType)
		b = protowire.AppendString(b, h.FrameID)
	}
	return b
}

func parseHeader(b []byte) (Header, error) {
	var h Header
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return h, protowire.ParseError(n)
		}
		b = b[n:]

		var v uint64
		switch {
		case num == headerFrameID && typ == protowire.BytesType:
			var s string
			s, n = protowire.ConsumeString(b)
			h.FrameID = s
		case (num == headerSeq || num == headerSecs || num == headerNsecs) && typ == protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
			switch num {
			case headerSeq:
				h.Seq = uint32(v)
			case headerSecs:
				h.Stamp.Secs = protowire.DecodeZigZag(v)
			case headerNsecs:
				h.Stamp.Nsecs = uint32(v)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return h, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return h, nil
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendPacked(b []byte, num protowire.Number, vs []float64) []byte {
	if len(vs) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(8*len(vs)))
	for _, v := range vs {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

func consumeBytes(b []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("wire type %d, want bytes", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeDouble(b []byte, typ protowire.Type) (float64, int, error) {
	if typ != protowire.Fixed64Type {
		return 0, 0, fmt.Errorf("wire type %d, want fixed64", typ)
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return math.Float64frombits(v), n, nil
}

func consumeRepeated(dst []float64, b []byte, typ protowire.Type) ([]float64, int, error) {
	switch typ {
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return dst, 0, protowire.ParseError(n)
		}
		return append(dst, math.Float64frombits(v)), n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return dst, 0, protowire.ParseError(n)
		}
		if len(packed)%8 != 0 {
			return dst, 0, ErrTruncated
		}
		if dst == nil {
			dst = make([]float64, 0, len(packed)/8)
		}
		for len(packed) > 0 {
			v, k := protowire.ConsumeFixed64(packed)
			if k < 0 {
				return dst, 0, protowire.ParseError(k)
			}
			dst = append(dst, math.Float64frombits(v))
			packed = packed[k:]
		}
		return dst, n, nil
	}
	return dst, 0, fmt.Errorf("wire type %d, want fixed64 or bytes", typ)
}

func wireSizeHint(m *Solution) int {
	n := 64 + len(m.SolveStatus) + len(m.Header.FrameID)
	for _, seq := range m.sequences() {
		n += 8*len(seq.values) + 4
	}
	return n
}
