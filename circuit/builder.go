// Package circuit 记录定形（fixed-shape）的算术约束轨迹。
//
// A Builder evaluates every gate as it is recorded and keeps both the
// wire values (the witness) and the gate list (the shape). The gate list
// depends only on how the builder is driven, never on wire values: when a
// gate overflows, the builder remembers the first error and keeps
// recording, so a failing witness still has the same shape as a passing one.
package circuit

import (
	"errors"
	"fmt"

	"lukechampine.com/uint128"

	"volatility-prover/fixed"
)

var (
	ErrConstraintViolation = errors.New("constraint violated")
	ErrDivisionByZero      = errors.New("circuit division by zero")
)

// Op identifies a gate kind.
type Op uint8

const (
	OpInput Op = iota + 1
	OpConst
	OpAdd
	OpSub
	OpMul
	OpDivMod
	OpBool
	OpOr
	OpSelect
	OpBits
	OpLess
	OpAssertLess
	OpPublic
)

var opNames = [...]string{
	OpInput:      "input",
	OpConst:      "const",
	OpAdd:        "add",
	OpSub:        "sub",
	OpMul:        "mul",
	OpDivMod:     "divmod",
	OpBool:       "bool",
	OpOr:         "or",
	OpSelect:     "select",
	OpBits:       "bits",
	OpLess:       "less",
	OpAssertLess: "assert_less",
	OpPublic:     "public",
}

func (o Op) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Wire indexes a value in the witness.
type Wire int

// Gate is one constraint. Const holds the fixed value of an OpConst gate.
type Gate struct {
	Op    Op
	In    []Wire
	Out   []Wire
	Const uint128.Uint128
}

// Builder records gates and evaluates the witness alongside.
type Builder struct {
	values []uint128.Uint128
	gates  []Gate
	public []Wire
	err    error
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Err returns the first failure seen while recording.
func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = fmt.Errorf("gate %d: %w", len(b.gates), err)
	}
}

func (b *Builder) alloc(v uint128.Uint128) Wire {
	b.values = append(b.values, v)
	return Wire(len(b.values) - 1)
}

func (b *Builder) emit(op Op, in []Wire, out ...Wire) {
	b.gates = append(b.gates, Gate{Op: op, In: in, Out: out})
}

// Value returns the current witness value of w.
func (b *Builder) Value(w Wire) uint128.Uint128 { return b.values[w] }

// Input allocates a private witness value.
func (b *Builder) Input(v uint128.Uint128) Wire {
	w := b.alloc(v)
	b.emit(OpInput, nil, w)
	return w
}

// Const allocates a wire fixed to v. The value is part of the shape.
func (b *Builder) Const(v uint128.Uint128) Wire {
	w := b.alloc(v)
	b.gates = append(b.gates, Gate{Op: OpConst, Out: []Wire{w}, Const: v})
	return w
}

func (b *Builder) Const64(v uint64) Wire { return b.Const(uint128.From64(v)) }

func (b *Builder) Add(x, y Wire) Wire {
	sum := b.values[x].AddWrap(b.values[y])
	if sum.Cmp(b.values[x]) < 0 {
		b.fail(fmt.Errorf("%w: add", fixed.ErrOverflow))
	}
	w := b.alloc(sum)
	b.emit(OpAdd, []Wire{x, y}, w)
	return w
}

func (b *Builder) Sub(x, y Wire) Wire {
	if b.values[x].Cmp(b.values[y]) < 0 {
		b.fail(fmt.Errorf("%w: sub underflow", fixed.ErrOverflow))
	}
	w := b.alloc(b.values[x].SubWrap(b.values[y]))
	b.emit(OpSub, []Wire{x, y}, w)
	return w
}

func (b *Builder) Mul(x, y Wire) Wire {
	prod, ok := mulChecked(b.values[x], b.values[y])
	if !ok {
		b.fail(fmt.Errorf("%w: mul", fixed.ErrOverflow))
	}
	w := b.alloc(prod)
	b.emit(OpMul, []Wire{x, y}, w)
	return w
}

// DivMod returns q, r with x = q·y + r and r < y.
func (b *Builder) DivMod(x, y Wire) (Wire, Wire) {
	var q, r uint128.Uint128
	if b.values[y].IsZero() {
		b.fail(ErrDivisionByZero)
	} else {
		q, r = b.values[x].QuoRem(b.values[y])
	}
	qw, rw := b.alloc(q), b.alloc(r)
	b.emit(OpDivMod, []Wire{x, y}, qw, rw)
	return qw, rw
}

// Bool constrains x to 0 or 1.
func (b *Builder) Bool(x Wire) {
	if b.values[x].Cmp64(1) > 0 {
		b.fail(fmt.Errorf("%w: wire %d is not boolean", ErrConstraintViolation, x))
	}
	b.emit(OpBool, []Wire{x})
}

// Or of two boolean wires.
func (b *Builder) Or(x, y Wire) Wire {
	w := b.alloc(b.values[x].Or(b.values[y]))
	b.emit(OpOr, []Wire{x, y}, w)
	return w
}

// Select returns x when c is 1 and y when c is 0.
func (b *Builder) Select(c, x, y Wire) Wire {
	v := b.values[y]
	if b.values[c].Equals64(1) {
		v = b.values[x]
	}
	w := b.alloc(v)
	b.emit(OpSelect, []Wire{c, x, y}, w)
	return w
}

// Bits decomposes x into n little-endian boolean wires.
func (b *Builder) Bits(x Wire, n int) []Wire {
	if n < 128 && !b.values[x].Rsh(uint(n)).IsZero() {
		b.fail(fmt.Errorf("%w: value does not fit in %d bits", fixed.ErrOverflow, n))
	}
	out := make([]Wire, n)
	v := b.values[x]
	for i := range out {
		out[i] = b.alloc(uint128.From64(v.Rsh(uint(i)).Lo & 1))
	}
	b.emit(OpBits, []Wire{x}, out...)
	return out
}

// Less returns the boolean x < y.
func (b *Builder) Less(x, y Wire) Wire {
	var v uint64
	if b.values[x].Cmp(b.values[y]) < 0 {
		v = 1
	}
	w := b.alloc(uint128.From64(v))
	b.emit(OpLess, []Wire{x, y}, w)
	return w
}

// AssertLess range-checks x < y; a violation is reported as overflow.
func (b *Builder) AssertLess(x, y Wire) {
	if b.values[x].Cmp(b.values[y]) >= 0 {
		b.fail(fmt.Errorf("%w: range check %s < %s", fixed.ErrOverflow, b.values[x], b.values[y]))
	}
	b.emit(OpAssertLess, []Wire{x, y})
}

// Public exposes w as a public input, in call order.
func (b *Builder) Public(w Wire) {
	b.public = append(b.public, w)
	b.emit(OpPublic, []Wire{w})
}

// Finish freezes the builder into a Trace. The trace is returned even
// when recording failed so that its shape can still be inspected.
func (b *Builder) Finish(h Header) (*Trace, error) {
	t := &Trace{
		Header: h,
		Values: b.values,
		Gates:  b.gates,
		Public: b.public,
	}
	b.values, b.gates, b.public = nil, nil, nil
	return t, b.err
}

func mulChecked(x, y uint128.Uint128) (uint128.Uint128, bool) {
	if x.Hi != 0 && y.Hi != 0 {
		return x.MulWrap(y), false
	}
	p := x.MulWrap(y)
	if !x.IsZero() && !p.Div(x).Equals(y) {
		return p, false
	}
	return p, true
}
