package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCANMap(t *testing.T) {
	m, err := DefaultCANMap()
	require.NoError(t, err)
	assert.Equal(t, []string{FrameMPCCmd, FrameMPCStatus, FrameMPCTrack}, m.FrameNames())

	fd, err := m.FrameByID(0x401)
	require.NoError(t, err)
	assert.Equal(t, FrameMPCCmd, fd.Name)
	assert.Equal(t, 8, fd.DLC)

	df, err := fd.Signal("mpc_df0")
	require.NoError(t, err)
	assert.True(t, df.Signed)
	assert.Equal(t, 1e-4, df.Resolution())

	_, err = fd.Signal("nope")
	assert.Error(t, err)
	_, err = m.FrameByName("NOPE")
	assert.Error(t, err)
	_, err = m.FrameByID(0x7FF)
	assert.Error(t, err)
}

const mapHeader = "direction,frame_id,frame_name,cycle_ms,dlc,signal_name,start_bit,bit_length,endianness,signed,factor,offset,min,max,default,unit,comment\n"

func TestParseCANMapErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing column",
			body: "frame_id,frame_name\n0x1,A\n",
			want: "missing required column",
		},
		{
			name: "overlap",
			body: mapHeader +
				"tx,0x10,A,10,2,a,0,8,little,false,1,0,0,255,0,,\n" +
				"tx,0x10,A,10,2,b,4,8,little,false,1,0,0,255,0,,\n",
			want: "overlap",
		},
		{
			name: "exceeds dlc",
			body: mapHeader + "tx,0x10,A,10,1,a,4,8,little,false,1,0,0,255,0,,\n",
			want: "exceed dlc",
		},
		{
			name: "zero factor",
			body: mapHeader + "tx,0x10,A,10,1,a,0,8,little,false,0,0,0,255,0,,\n",
			want: "factor must be non-zero",
		},
		{
			name: "big endian",
			body: mapHeader + "tx,0x10,A,10,1,a,0,8,big,false,1,0,0,255,0,,\n",
			want: "unsupported endianness",
		},
		{
			name: "bad number",
			body: mapHeader + "tx,0x10,A,10,1,a,zero,8,little,false,1,0,0,255,0,,\n",
			want: "line 2",
		},
		{
			name: "inconsistent dlc",
			body: mapHeader +
				"tx,0x10,A,10,2,a,0,8,little,false,1,0,0,255,0,,\n" +
				"tx,0x10,A,10,3,b,8,8,little,false,1,0,0,255,0,,\n",
			want: "inconsistent DLC",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCANMap(strings.NewReader(tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEncodeDecodeSignedSignals(t *testing.T) {
	m, err := DefaultCANMap()
	require.NoError(t, err)

	in := map[string]float64{
		"mpc_df0":  -0.1234,
		"mpc_acc0": 1.5,
		"mpc_ay0":  -2.25,
		"mpc_seq":  200,
	}
	f, err := m.EncodeEinrideFrame(FrameMPCCmd, in)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x401), f.ID)
	assert.Equal(t, uint8(8), f.Length)

	out, err := m.DecodeEinrideFrame(f)
	require.NoError(t, err)
	for k, v := range in {
		assert.InDelta(t, v, out[k], 1e-9, k)
	}
}

func TestEncodeSaturatesAndDefaults(t *testing.T) {
	m, err := DefaultCANMap()
	require.NoError(t, err)

	payload, id, err := m.EncodeFrame(FrameMPCStatus, map[string]float64{
		"mpc_solve_time": 12.0,
		"mpc_horizon":    1000,
		"mpc_v_ref":      -3,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x400), id)

	out, err := m.DecodeFrame(id, payload)
	require.NoError(t, err)
	assert.InDelta(t, 6.5535, out["mpc_solve_time"], 1e-9)
	assert.Equal(t, 255.0, out["mpc_horizon"])
	assert.Equal(t, 0.0, out["mpc_v_ref"])
	assert.Equal(t, 0.0, out["mpc_seq"])
}

func TestDecodeShortPayload(t *testing.T) {
	m, err := DefaultCANMap()
	require.NoError(t, err)
	_, err = m.DecodeFrame(0x400, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestBitHelpers(t *testing.T) {
	assert.Equal(t, int64(-1), unsignedToRawInt64(0xFFFF, 16, true))
	assert.Equal(t, int64(0xFFFF), unsignedToRawInt64(0xFFFF, 16, false))
	assert.Equal(t, int64(-32768), clampRaw(-100000, 16, true))
	assert.Equal(t, int64(32767), clampRaw(100000, 16, true))
	assert.Equal(t, int64(0), clampRaw(-5, 8, false))

	var p uint64
	p = setBits(p, 4, 8, 0xAB)
	assert.Equal(t, uint64(0xAB), getBits(p, 4, 8))
	p = setBits(p, 4, 8, 0x01)
	assert.Equal(t, uint64(0x10), p)
}
