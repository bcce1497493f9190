package fixed_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volatility-prover/fixed"
)

func TestLog2(t *testing.T) {
	tests := []struct {
		x     *big.Int
		scale fixed.Scale
		want  int64
	}{
		{big.NewInt(1), 8, 0},
		{big.NewInt(8), 4, 48},
		{big.NewInt(3), 8, 405},
		{big.NewInt(3), 16, 103872},
		{new(big.Int).Lsh(big.NewInt(1), 96), 16, 96 << 16},
	}
	for _, tt := range tests {
		got, err := fixed.Log2(tt.x, tt.scale)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.Raw(), "log2(%s)", tt.x)
	}

	_, err := fixed.Log2(big.NewInt(0), 8)
	assert.ErrorIs(t, err, fixed.ErrNonPositiveLog)
	_, err = fixed.Log2(nil, 8)
	assert.ErrorIs(t, err, fixed.ErrNonPositiveLog)
	_, err = fixed.Log2(new(big.Int).Lsh(big.NewInt(1), 159), 60)
	assert.ErrorIs(t, err, fixed.ErrOverflow)
}

func TestMulLn2(t *testing.T) {
	one, err := fixed.FromInt(1, 16)
	require.NoError(t, err)
	got, err := one.MulLn2()
	require.NoError(t, err)
	assert.Equal(t, int64(90852), got.Raw())

	neg, err := fixed.FromInt(-1, 16)
	require.NoError(t, err)
	got, err = neg.MulLn2()
	require.NoError(t, err)
	assert.Equal(t, int64(-90852), got.Raw())
}
