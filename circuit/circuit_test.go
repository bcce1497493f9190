package circuit_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"volatility-prover/circuit"
	"volatility-prover/fixed"
)

func sqrtTrace(t *testing.T, n uint128.Uint128) (*circuit.Trace, uint128.Uint128) {
	t.Helper()
	b := circuit.NewBuilder()
	root := b.SqrtGadget(b.Input(n), fixed.DefaultIterations)
	b.Public(root)
	trace, err := b.Finish(circuit.Header{Iterations: fixed.DefaultIterations})
	require.NoError(t, err)
	return trace, trace.PublicValues()[0]
}

func TestSqrtGadgetMatchesSqrt128(t *testing.T) {
	inputs := []uint128.Uint128{
		uint128.Zero,
		uint128.From64(1),
		uint128.From64(2),
		uint128.From64(16),
		uint128.From64(17),
		uint128.From64(math.MaxUint64),
		uint128.Max,
	}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		inputs = append(inputs, uint128.New(rng.Uint64(), rng.Uint64()>>uint(rng.Intn(64))))
	}

	for _, n := range inputs {
		trace, got := sqrtTrace(t, n)
		want := fixed.Sqrt128(n, fixed.DefaultIterations)
		require.True(t, got.Equals(want), "sqrt(%s): circuit %s, native %s", n, got, want)
		require.NoError(t, trace.Check())
	}
}

func TestShapeIsIndependentOfValues(t *testing.T) {
	small, _ := sqrtTrace(t, uint128.From64(3))
	large, _ := sqrtTrace(t, uint128.Max)
	assert.Equal(t, small.Rows(), large.Rows())
	assert.Equal(t, small.ShapeDigest(), large.ShapeDigest())
	assert.NotEqual(t, small.WitnessDigest(), large.WitnessDigest())

	// a different iteration count is a different circuit
	b := circuit.NewBuilder()
	b.Public(b.SqrtGadget(b.Input(uint128.From64(3)), 6))
	other, err := b.Finish(circuit.Header{Iterations: 6})
	require.NoError(t, err)
	assert.NotEqual(t, small.ShapeDigest(), other.ShapeDigest())
}

func TestCheckDetectsTamperedWitness(t *testing.T) {
	trace, _ := sqrtTrace(t, uint128.From64(1000))
	require.NoError(t, trace.Check())

	root := trace.Public[0]
	trace.Values[root] = trace.Values[root].Add64(1)
	err := trace.Check()
	assert.ErrorIs(t, err, circuit.ErrConstraintViolation)
}

func TestOverflowIsStickyAndKeepsShape(t *testing.T) {
	build := func(x uint128.Uint128) (*circuit.Trace, error) {
		b := circuit.NewBuilder()
		sum := b.Add(b.Input(x), b.Input(uint128.From64(1)))
		b.Public(b.Mul(sum, b.Const64(2)))
		return b.Finish(circuit.Header{})
	}

	ok, err := build(uint128.From64(5))
	require.NoError(t, err)
	assert.Equal(t, uint128.From64(12), ok.PublicValues()[0])

	bad, err := build(uint128.Max)
	assert.ErrorIs(t, err, fixed.ErrOverflow)
	require.NotNil(t, bad)
	assert.Equal(t, ok.ShapeDigest(), bad.ShapeDigest())
	assert.Error(t, bad.Check())
}

func TestGateSemantics(t *testing.T) {
	b := circuit.NewBuilder()
	seven := b.Input(uint128.From64(7))
	three := b.Const64(3)

	q, r := b.DivMod(seven, three)
	assert.Equal(t, uint128.From64(2), b.Value(q))
	assert.Equal(t, uint128.From64(1), b.Value(r))

	less := b.Less(three, seven)
	assert.Equal(t, uint128.From64(1), b.Value(less))
	assert.Equal(t, uint128.From64(7), b.Value(b.Select(less, seven, three)))
	assert.Equal(t, uint128.From64(4), b.Value(b.Sub(seven, three)))

	bits := b.Bits(seven, 4)
	require.Len(t, bits, 4)
	assert.Equal(t, uint128.From64(0), b.Value(bits[3]))
	assert.Equal(t, uint128.From64(1), b.Value(bits[0]))

	b.AssertLess(three, seven)
	trace, err := b.Finish(circuit.Header{})
	require.NoError(t, err)
	require.NoError(t, trace.Check())
}

func TestBuilderErrors(t *testing.T) {
	b := circuit.NewBuilder()
	b.DivMod(b.Input(uint128.From64(1)), b.Const64(0))
	_, err := b.Finish(circuit.Header{})
	assert.ErrorIs(t, err, circuit.ErrDivisionByZero)

	b = circuit.NewBuilder()
	b.Bits(b.Input(uint128.From64(16)), 4)
	_, err = b.Finish(circuit.Header{})
	assert.ErrorIs(t, err, fixed.ErrOverflow)

	b = circuit.NewBuilder()
	b.AssertLess(b.Const64(3), b.Const64(3))
	_, err = b.Finish(circuit.Header{})
	assert.ErrorIs(t, err, fixed.ErrOverflow)

	b = circuit.NewBuilder()
	b.Bool(b.Input(uint128.From64(2)))
	_, err = b.Finish(circuit.Header{})
	assert.ErrorIs(t, err, circuit.ErrConstraintViolation)
}
