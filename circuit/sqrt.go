package circuit

import "lukechampine.com/uint128"

// SqrtGadget constrains the result of fixed.Sqrt128(n, iterations) with
// the same initial guess, the same Newton steps and the same final
// correction, each unrolled into gates.
func (b *Builder) SqrtGadget(n Wire, iterations int) Wire {
	one := b.Const64(1)
	two := b.Const64(2)

	// bit length: number of positions at or below the highest set bit
	bits := b.Bits(n, 128)
	seen := bits[127]
	length := seen
	for i := 126; i >= 0; i-- {
		seen = b.Or(bits[i], seen)
		length = b.Add(length, seen)
	}

	// guess = 2^ceil(len/2), built from the 7 bits of the exponent
	exp, _ := b.DivMod(b.Add(length, one), two)
	expBits := b.Bits(exp, 7)
	guess := one
	for j, bit := range expBits {
		factor := b.Select(bit, b.Const(uint128.From64(1).Lsh(1<<uint(j))), one)
		guess = b.Mul(guess, factor)
	}

	y := guess
	for i := 0; i < iterations; i++ {
		q, _ := b.DivMod(n, y)
		y, _ = b.DivMod(b.Add(b.Add(y, q), one), two)
	}

	q, _ := b.DivMod(n, y)
	return b.Sub(y, b.Less(q, y))
}
