package circuit

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"lukechampine.com/uint128"
)

// Header carries the setup-time constants a trace was built for.
type Header struct {
	SampleCount int
	Scale       uint8
	Iterations  int
}

// Trace is a finished witness plus its gate list.
type Trace struct {
	Header Header
	Values []uint128.Uint128
	Gates  []Gate
	Public []Wire
}

// Rows is the number of gates, compared against 2^degree at setup.
func (t *Trace) Rows() int { return len(t.Gates) }

// PublicValues returns the public wire values in declaration order.
func (t *Trace) PublicValues() []uint128.Uint128 {
	out := make([]uint128.Uint128, len(t.Public))
	for i, w := range t.Public {
		out[i] = t.Values[w]
	}
	return out
}

// ShapeDigest hashes the header and gate wiring, never wire values other
// than constants. Two traces built for the same sample count and
// iteration count share a digest.
func (t *Trace) ShapeDigest() common.Hash {
	buf := make([]byte, 0, 64+len(t.Gates)*24)
	buf = binary.BigEndian.AppendUint64(buf, uint64(t.Header.SampleCount))
	buf = append(buf, t.Header.Scale)
	buf = binary.BigEndian.AppendUint64(buf, uint64(t.Header.Iterations))
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(t.Values)))
	for _, g := range t.Gates {
		buf = append(buf, byte(g.Op))
		buf = appendWires(buf, g.In)
		buf = appendWires(buf, g.Out)
		if g.Op == OpConst {
			buf = binary.BigEndian.AppendUint64(buf, g.Const.Hi)
			buf = binary.BigEndian.AppendUint64(buf, g.Const.Lo)
		}
	}
	buf = appendWires(buf, t.Public)
	return crypto.Keccak256Hash(buf)
}

// WitnessDigest hashes every wire value.
func (t *Trace) WitnessDigest() common.Hash {
	buf := make([]byte, 16*len(t.Values))
	for i, v := range t.Values {
		binary.BigEndian.PutUint64(buf[i*16:], v.Hi)
		binary.BigEndian.PutUint64(buf[i*16+8:], v.Lo)
	}
	return crypto.Keccak256Hash(buf)
}

func appendWires(buf []byte, ws []Wire) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ws)))
	for _, w := range ws {
		buf = binary.BigEndian.AppendUint32(buf, uint32(w))
	}
	return buf
}

// arity is the fixed input/output wire count per op; OpBits varies.
var arity = map[Op][2]int{
	OpInput: {0, 1}, OpConst: {0, 1}, OpAdd: {2, 1}, OpSub: {2, 1}, OpMul: {2, 1},
	OpDivMod: {2, 2}, OpBool: {1, 0}, OpOr: {2, 1}, OpSelect: {3, 1}, OpLess: {2, 1},
	OpAssertLess: {2, 0}, OpPublic: {1, 0},
}

// Check verifies every gate relation against the witness.
func (t *Trace) Check() error {
	for i, g := range t.Gates {
		if err := t.checkGate(g); err != nil {
			return fmt.Errorf("%w: gate %d (%s): %v", ErrConstraintViolation, i, g.Op, err)
		}
	}
	return nil
}

func (t *Trace) checkGate(g Gate) error {
	if want, ok := arity[g.Op]; ok {
		if len(g.In) != want[0] || len(g.Out) != want[1] {
			return fmt.Errorf("arity %d/%d", len(g.In), len(g.Out))
		}
	} else if g.Op != OpBits {
		return fmt.Errorf("unknown op")
	}
	for _, w := range append(append([]Wire(nil), g.In...), g.Out...) {
		if w < 0 || int(w) >= len(t.Values) {
			return fmt.Errorf("wire %d out of range", w)
		}
	}

	in := func(i int) uint128.Uint128 { return t.Values[g.In[i]] }
	out := func(i int) uint128.Uint128 { return t.Values[g.Out[i]] }

	switch g.Op {
	case OpInput:
	case OpConst:
		if !out(0).Equals(g.Const) {
			return fmt.Errorf("const %s != %s", out(0), g.Const)
		}
	case OpAdd:
		sum := in(0).AddWrap(in(1))
		if sum.Cmp(in(0)) < 0 || !sum.Equals(out(0)) {
			return fmt.Errorf("%s + %s != %s", in(0), in(1), out(0))
		}
	case OpSub:
		if in(0).Cmp(in(1)) < 0 || !in(0).SubWrap(in(1)).Equals(out(0)) {
			return fmt.Errorf("%s - %s != %s", in(0), in(1), out(0))
		}
	case OpMul:
		p, ok := mulChecked(in(0), in(1))
		if !ok || !p.Equals(out(0)) {
			return fmt.Errorf("%s * %s != %s", in(0), in(1), out(0))
		}
	case OpDivMod:
		q, r := out(0), out(1)
		if r.Cmp(in(1)) >= 0 {
			return fmt.Errorf("remainder %s not below divisor %s", r, in(1))
		}
		p, ok := mulChecked(q, in(1))
		total := p.AddWrap(r)
		if !ok || total.Cmp(p) < 0 || !total.Equals(in(0)) {
			return fmt.Errorf("%s != %s * %s + %s", in(0), q, in(1), r)
		}
	case OpBool:
		if in(0).Cmp64(1) > 0 {
			return fmt.Errorf("%s is not boolean", in(0))
		}
	case OpOr:
		if in(0).Cmp64(1) > 0 || in(1).Cmp64(1) > 0 || !out(0).Equals(in(0).Or(in(1))) {
			return fmt.Errorf("%s | %s != %s", in(0), in(1), out(0))
		}
	case OpSelect:
		c := in(0)
		want := in(2)
		if c.Equals64(1) {
			want = in(1)
		}
		if c.Cmp64(1) > 0 || !out(0).Equals(want) {
			return fmt.Errorf("select(%s) != %s", c, out(0))
		}
	case OpBits:
		if len(g.In) != 1 || len(g.Out) == 0 || len(g.Out) > 128 {
			return fmt.Errorf("arity %d/%d", len(g.In), len(g.Out))
		}
		var acc uint128.Uint128
		for i := len(g.Out) - 1; i >= 0; i-- {
			bit := out(i)
			if bit.Cmp64(1) > 0 {
				return fmt.Errorf("bit %d is %s", i, bit)
			}
			acc = acc.Lsh(1).Or(bit)
		}
		if !acc.Equals(in(0)) {
			return fmt.Errorf("bits recompose to %s, want %s", acc, in(0))
		}
	case OpLess:
		var want uint64
		if in(0).Cmp(in(1)) < 0 {
			want = 1
		}
		if !out(0).Equals64(want) {
			return fmt.Errorf("less(%s, %s) != %s", in(0), in(1), out(0))
		}
	case OpAssertLess:
		if in(0).Cmp(in(1)) >= 0 {
			return fmt.Errorf("%s not below %s", in(0), in(1))
		}
	case OpPublic:
	}
	return nil
}
