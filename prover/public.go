package prover

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"volatility-prover/circuit"
)

// PublicInputs 是证明中公开的值：波动率、精度、样本数与电路形状。
type PublicInputs struct {
	Volatility  int64       `json:"volatility"`
	Scale       uint8       `json:"scale"`
	SampleCount uint64      `json:"sampleCount"`
	Shape       common.Hash `json:"shape"`
}

// PublicInputsFromTrace reads the committed volatility and sample count
// from the trace's public wires.
func PublicInputsFromTrace(t *circuit.Trace) (PublicInputs, error) {
	values := t.PublicValues()
	if len(values) != 2 {
		return PublicInputs{}, fmt.Errorf("expected 2 public values, got %d", len(values))
	}
	root, count := values[0], values[1]
	if root.Hi != 0 || root.Lo > math.MaxInt64 || count.Hi != 0 {
		return PublicInputs{}, fmt.Errorf("public values out of range: %s, %s", root, count)
	}
	if count.Lo != uint64(t.Header.SampleCount) {
		return PublicInputs{}, fmt.Errorf("public sample count %d, header %d", count.Lo, t.Header.SampleCount)
	}
	return PublicInputs{
		Volatility:  int64(root.Lo),
		Scale:       t.Header.Scale,
		SampleCount: count.Lo,
		Shape:       t.ShapeDigest(),
	}, nil
}

// Encode lays the inputs out as four 32-byte big-endian words, the way an
// on-chain verifier would decode (int256, uint8, uint64, bytes32).
func (p PublicInputs) Encode() []byte {
	out := make([]byte, 128)
	binary.BigEndian.PutUint64(out[24:32], uint64(p.Volatility))
	if p.Volatility < 0 {
		for i := 0; i < 24; i++ {
			out[i] = 0xff
		}
	}
	out[63] = p.Scale
	binary.BigEndian.PutUint64(out[88:96], p.SampleCount)
	copy(out[96:], p.Shape[:])
	return out
}

// Digest is keccak256 of Encode.
func (p PublicInputs) Digest() common.Hash {
	return crypto.Keccak256Hash(p.Encode())
}
