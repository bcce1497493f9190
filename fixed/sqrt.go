package fixed

import "lukechampine.com/uint128"

// DefaultIterations is enough for Sqrt128 to be exact on any 128-bit input.
const DefaultIterations = 8

// Sqrt128 returns ⌊√n⌋.
//
// 初始值取 2^ceil(bitlen(n)/2)，之后固定执行 iterations 次牛顿迭代
// y ← ⌈(y + ⌊n/y⌋)/2⌉，最后做一次固定的修正 y ← y − [⌊n/y⌋ < y]。
// There is no convergence loop, so the same steps run for every input and
// the circuit gadget can mirror them one for one.
func Sqrt128(n uint128.Uint128, iterations int) uint128.Uint128 {
	if n.IsZero() {
		return uint128.Zero
	}
	y := InitialGuess(n)
	for i := 0; i < iterations; i++ {
		y = NewtonStep(n, y)
	}
	if n.Div(y).Cmp(y) < 0 {
		y = y.Sub64(1)
	}
	return y
}

// InitialGuess returns 2^ceil(bitlen(n)/2), which is never below √n.
func InitialGuess(n uint128.Uint128) uint128.Uint128 {
	bitLen := 128 - n.LeadingZeros()
	return uint128.From64(1).Lsh(uint((bitLen + 1) / 2))
}

// NewtonStep performs one rounded-up Newton step.
func NewtonStep(n, y uint128.Uint128) uint128.Uint128 {
	return y.Add(n.Div(y)).Add64(1).Rsh(1)
}
