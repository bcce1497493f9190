package fixed

import (
	"fmt"
	"math/big"

	"lukechampine.com/uint128"
)

// ln2Q64 is ln(2)·2^64, truncated.
const ln2Q64 uint64 = 0xB17217F7D1CF79AB

// Log2 returns log2(x) at scale s for a positive integer x.
//
// The integer part is bitlen(x)−1. The fraction comes from exactly S
// squarings of the normalised Q62 mantissa, one output bit per squaring,
// so the result depends only on x and s.
func Log2(x *big.Int, s Scale) (Point, error) {
	if err := s.Validate(); err != nil {
		return Point{}, err
	}
	if x == nil || x.Sign() <= 0 {
		return Point{}, fmt.Errorf("%w: %v", ErrNonPositiveLog, x)
	}
	intPart := x.BitLen() - 1
	whole, err := FromInt(int64(intPart), s)
	if err != nil {
		return Point{}, fmt.Errorf("log2 of %d-bit value: %w", x.BitLen(), err)
	}

	m := new(big.Int).Set(x)
	if intPart > 62 {
		m.Rsh(m, uint(intPart-62))
	} else {
		m.Lsh(m, uint(62-intPart))
	}
	mant := m.Uint64() // [2^62, 2^63)

	var frac int64
	for i := 0; i < int(s); i++ {
		mant = uint128.From64(mant).Mul64(mant).Rsh(62).Lo
		frac <<= 1
		if mant >= 1<<63 {
			frac |= 1
			mant >>= 1
		}
	}
	return whole.Add(Point{raw: frac, scale: s})
}

// MulLn2 multiplies p by 2·ln(2), converting a difference of log2(√P)
// values into a natural-log price ratio.
func (p Point) MulLn2() (Point, error) {
	neg, mag := splitSign(p.raw)
	prod := uint128.From64(mag).Mul64(ln2Q64).Rsh(63)
	out, err := fromMagnitude(neg, prod, p.scale)
	if err != nil {
		return Point{}, fmt.Errorf("%s * 2ln2: %w", p, err)
	}
	return out, nil
}
