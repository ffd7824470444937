package bus

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"mpc-solution-core/mpcmsg"
)

// CodecName is the gRPC content subtype of the solution wire format.
const CodecName = "mpcwire"

// SubscribeRequest opens a solution stream.
type SubscribeRequest struct {
	Name   string // client label used in logs
	Buffer uint32 // per-stream queue length, 0 for the server default
}

const (
	reqFieldName   protowire.Number = 1
	reqFieldBuffer protowire.Number = 2
)

func (r *SubscribeRequest) marshal() []byte {
	var b []byte
	if r.Name != "" {
		b = protowire.AppendTag(b, reqFieldName, protowire.BytesType)
		b = protowire.AppendString(b, r.Name)
	}
	if r.Buffer != 0 {
		b = protowire.AppendTag(b, reqFieldBuffer, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Buffer))
	}
	return b
}

func (r *SubscribeRequest) unmarshal(b []byte) error {
	*r = SubscribeRequest{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == reqFieldName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Name = v
			b = b[n:]
		case num == reqFieldBuffer && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Buffer = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

// Codec implements grpc/encoding.Codec for *mpcmsg.Solution and
// *SubscribeRequest using the protobuf wire format.
type Codec struct{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *mpcmsg.Solution:
		return mpcmsg.MarshalWire(m), nil
	case *SubscribeRequest:
		return m.marshal(), nil
	}
	return nil, fmt.Errorf("%s codec: cannot marshal %T", CodecName, v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *mpcmsg.Solution:
		got, err := mpcmsg.UnmarshalWire(data)
		if err != nil {
			return err
		}
		*m = *got
		return nil
	case *SubscribeRequest:
		return m.unmarshal(data)
	}
	return fmt.Errorf("%s codec: cannot unmarshal into %T", CodecName, v)
}
