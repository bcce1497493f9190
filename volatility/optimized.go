package volatility

import (
	"fmt"

	"lukechampine.com/uint128"

	"volatility-prover/fixed"
	"volatility-prover/market"
)

// OptimizedCalculator accumulates exact squares at scale 2S in 128 bits
// and divides once. The square root of the scale-2S mean is already at
// scale S, so no per-element rounding happens at all.
type OptimizedCalculator struct {
	params Params
}

func NewOptimized(p Params) (*OptimizedCalculator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &OptimizedCalculator{params: p}, nil
}

func (c *OptimizedCalculator) Mode() Mode { return Optimized }

func (c *OptimizedCalculator) Compute(series market.ReturnSeries) (Result, error) {
	if err := checkSeries(c.params, series); err != nil {
		return Result{}, err
	}
	var acc uint128.Uint128
	for i := 0; i < series.Len(); i++ {
		_, mag := series.At(i).Magnitude()
		sq := uint128.From64(mag).Mul64(mag)
		next := acc.AddWrap(sq)
		if next.Cmp(acc) < 0 {
			return Result{}, fmt.Errorf("optimized: sum of squares at delta %d: %w", i, fixed.ErrOverflow)
		}
		acc = next
	}
	mean, _ := acc.QuoRem64(uint64(series.Len()))
	root, err := fixed.FromMagnitude(false, fixed.Sqrt128(mean, c.params.Iterations), c.params.Scale)
	if err != nil {
		return Result{}, fmt.Errorf("optimized: sqrt: %w", err)
	}
	return Result{Value: root, SampleCount: series.SampleCount(), Mode: Optimized}, nil
}
