package fixed_test

import (
	"math"
	"math/big"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"volatility-prover/fixed"
)

func mustPoint(t *testing.T, raw int64, s fixed.Scale) fixed.Point {
	t.Helper()
	p, err := fixed.New(raw, s)
	require.NoError(t, err)
	return p
}

func TestFromInt(t *testing.T) {
	p, err := fixed.FromInt(3, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(48), p.Raw())
	assert.Equal(t, "3", p.String())

	_, err = fixed.FromInt(1<<40, 30)
	assert.ErrorIs(t, err, fixed.ErrOverflow)

	_, err = fixed.FromInt(1, 63)
	assert.ErrorIs(t, err, fixed.ErrInvalidScale)
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   func(a, b fixed.Point) (fixed.Point, error)
		a, b int64
		want int64
	}{
		{"add", fixed.Point.Add, 24, 40, 64},
		{"sub", fixed.Point.Sub, 24, 40, -16},
		{"mul", fixed.Point.Mul, 24, 40, 60},
		{"mul truncates toward zero", fixed.Point.Mul, -8, 1, 0},
		{"mul negative", fixed.Point.Mul, -24, 40, -60},
		{"div", fixed.Point.Div, 16, 48, 5},
		{"div negative", fixed.Point.Div, -16, 48, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op(mustPoint(t, tt.a, 4), mustPoint(t, tt.b, 4))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Raw())
		})
	}
}

func TestOverflowIsReported(t *testing.T) {
	top := mustPoint(t, math.MaxInt64, 0)
	one := mustPoint(t, 1, 0)
	two := mustPoint(t, 2, 0)

	_, err := top.Add(one)
	assert.ErrorIs(t, err, fixed.ErrOverflow)
	_, err = mustPoint(t, math.MinInt64, 0).Sub(one)
	assert.ErrorIs(t, err, fixed.ErrOverflow)
	_, err = top.Mul(two)
	assert.ErrorIs(t, err, fixed.ErrOverflow)
	_, err = mustPoint(t, math.MinInt64, 0).Neg()
	assert.ErrorIs(t, err, fixed.ErrOverflow)

	// 2^40 / 2^-20 = 2^60, whose raw form needs 80 bits.
	_, err = mustPoint(t, 1<<60, 20).Div(mustPoint(t, 1, 20))
	assert.ErrorIs(t, err, fixed.ErrOverflow)
}

func TestDivisionByZero(t *testing.T) {
	_, err := mustPoint(t, 5, 8).Div(fixed.Zero(8))
	assert.ErrorIs(t, err, fixed.ErrDivisionByZero)
	_, err = mustPoint(t, 5, 8).DivInt(0)
	assert.ErrorIs(t, err, fixed.ErrDivisionByZero)
}

func TestDivInt(t *testing.T) {
	got, err := mustPoint(t, -7, 0).DivInt(2)
	require.NoError(t, err)
	assert.Equal(t, int64(-3), got.Raw())

	got, err = mustPoint(t, 7, 0).DivInt(-2)
	require.NoError(t, err)
	assert.Equal(t, int64(-3), got.Raw())
}

func TestScaleMismatch(t *testing.T) {
	_, err := mustPoint(t, 1, 4).Add(mustPoint(t, 1, 5))
	assert.ErrorIs(t, err, fixed.ErrScaleMismatch)
	_, err = mustPoint(t, 1, 4).Mul(mustPoint(t, 1, 5))
	assert.ErrorIs(t, err, fixed.ErrScaleMismatch)
}

func TestSqrt(t *testing.T) {
	two, err := fixed.FromInt(2, 16)
	require.NoError(t, err)
	root, err := two.Sqrt(fixed.DefaultIterations)
	require.NoError(t, err)
	assert.Equal(t, int64(92681), root.Raw()) // ⌊√2·2^16⌋

	nine, err := fixed.FromInt(9, 24)
	require.NoError(t, err)
	root, err = nine.Sqrt(fixed.DefaultIterations)
	require.NoError(t, err)
	assert.Equal(t, int64(3)<<24, root.Raw())

	root, err = fixed.Zero(10).Sqrt(fixed.DefaultIterations)
	require.NoError(t, err)
	assert.True(t, root.IsZero())

	_, err = mustPoint(t, -1, 10).Sqrt(fixed.DefaultIterations)
	assert.ErrorIs(t, err, fixed.ErrNegativeSqrt)
}

func TestSquareKeepsSmallValues(t *testing.T) {
	// 0.0001 at scale 24: the square vanishes at S but is exact at 2S
	d := mustPoint(t, -1678, 24)

	atS, err := d.Square(24)
	require.NoError(t, err)
	assert.True(t, atS.IsZero())

	at2S, err := d.Square(48)
	require.NoError(t, err)
	assert.Equal(t, int64(1678*1678), at2S.Raw())
	assert.Equal(t, fixed.Scale(48), at2S.Scale())

	root, err := at2S.SqrtTo(24, fixed.DefaultIterations)
	require.NoError(t, err)
	assert.Equal(t, int64(1678), root.Raw())

	_, err = d.Square(49)
	assert.ErrorIs(t, err, fixed.ErrScaleMismatch)
	_, err = d.Square(23)
	assert.ErrorIs(t, err, fixed.ErrScaleMismatch)
	_, err = at2S.SqrtTo(20, fixed.DefaultIterations)
	assert.ErrorIs(t, err, fixed.ErrScaleMismatch)

	_, err = mustPoint(t, math.MaxInt64, 0).Square(0)
	assert.ErrorIs(t, err, fixed.ErrOverflow)
	_, err = mustPoint(t, 1<<40, 24).Square(48)
	assert.ErrorIs(t, err, fixed.ErrOverflow)
}

func TestSqrt128MatchesBigInt(t *testing.T) {
	check := func(n uint128.Uint128) {
		want := new(big.Int).Sqrt(n.Big())
		got := fixed.Sqrt128(n, fixed.DefaultIterations)
		if got.Big().Cmp(want) != 0 {
			t.Fatalf("Sqrt128(%s) = %s, want %s", n, got, want)
		}
	}

	for _, n := range []uint128.Uint128{
		uint128.Zero,
		uint128.From64(1),
		uint128.From64(2),
		uint128.From64(3),
		uint128.From64(4),
		uint128.From64(15),
		uint128.From64(16),
		uint128.From64(math.MaxUint64),
		uint128.Max,
		uint128.New(0, 1),
	} {
		check(n)
	}

	// perfect squares and their neighbours
	for _, r := range []uint64{3, 255, 65535, 1<<32 - 1, 1 << 40, math.MaxUint64} {
		sq := uint128.From64(r).Mul64(r)
		check(sq)
		check(sq.Sub64(1))
		if sq != uint128.Max {
			check(sq.Add64(1))
		}
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		n := uint128.New(rng.Uint64(), rng.Uint64()>>uint(rng.Intn(64)))
		check(n)
		check(uint128.From64(rng.Uint64() >> uint(rng.Intn(64))))
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	p := mustPoint(t, 3, 1)
	assert.Equal(t, "1.5", p.String())
	assert.True(t, p.Decimal().Equal(decimal.RequireFromString("1.5")))

	q, err := fixed.Parse("-12.5", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(-200), q.Raw())

	// 0.1·16 = 1.6 truncates toward zero in both directions.
	q, err = fixed.Parse("0.1", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.Raw())
	q, err = fixed.Parse("-0.1", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), q.Raw())

	_, err = fixed.Parse("1e30", 4)
	assert.ErrorIs(t, err, fixed.ErrOverflow)
	_, err = fixed.Parse("abc", 4)
	assert.Error(t, err)
}

func TestInt(t *testing.T) {
	assert.Equal(t, int64(-1), mustPoint(t, -25, 4).Int())
	assert.Equal(t, int64(1), mustPoint(t, 25, 4).Int())
	assert.Equal(t, int64(math.MinInt64), mustPoint(t, math.MinInt64, 0).Int())
}
