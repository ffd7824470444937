package mpcmsg

import (
	"encoding/json"
	"fmt"
)

// solutionJSON breaks the MarshalJSON recursion.
type solutionJSON Solution

// MarshalJSON emits every sequence field, as [] when empty, so consumers that
// address fields by name always find them.
func (m Solution) MarshalJSON() ([]byte, error) {
	out := solutionJSON(m)
	for _, p := range []*[]float64{
		&out.Xs, &out.Ys, &out.Vs, &out.Psis,
		&out.Xr, &out.Yr, &out.Vr, &out.Psir,
		&out.Df, &out.Acc, &out.AyMdl, &out.XYWaypoint,
	} {
		if *p == nil {
			*p = []float64{}
		}
	}
	return json.Marshal(out)
}

// EncodeJSON serializes m. Non-finite floats cannot be represented and
// return an error.
func EncodeJSON(m *Solution) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode solution json: %w", err)
	}
	return b, nil
}

// DecodeJSON parses a solution. Unknown fields are ignored so newer producers
// may append optional fields.
func DecodeJSON(data []byte) (*Solution, error) {
	var m Solution
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode solution json: %w", err)
	}
	return &m, nil
}
