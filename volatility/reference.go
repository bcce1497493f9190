package volatility

import (
	"errors"
	"fmt"

	"volatility-prover/fixed"
	"volatility-prover/market"
)

// ReferenceCalculator is the direct translation of the formula in 64-bit
// points: each square is rounded to a working scale and summed, the sum is
// divided once and the root taken back at scale S.
//
// 工作精度优先取 2S（平方精确，只有 64 位累加器与 Optimized 不同）；
// 2S 放不下时退回 S：此时方差较大，默认精度（S=24）下逐项截断的误差小于 1 个单位。
type ReferenceCalculator struct {
	params Params
}

func NewReference(p Params) (*ReferenceCalculator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &ReferenceCalculator{params: p}, nil
}

func (c *ReferenceCalculator) Mode() Mode { return Reference }

func (c *ReferenceCalculator) Compute(series market.ReturnSeries) (Result, error) {
	if err := checkSeries(c.params, series); err != nil {
		return Result{}, err
	}
	s := c.params.Scale
	work := 2 * s
	if work > fixed.MaxScale {
		work = fixed.MaxScale
	}

	sumSq, err := sumSquares(series, work)
	if errors.Is(err, fixed.ErrOverflow) && work != s {
		sumSq, err = sumSquares(series, s)
	}
	if err != nil {
		return Result{}, err
	}
	mean, err := sumSq.DivInt(int64(series.Len()))
	if err != nil {
		return Result{}, fmt.Errorf("reference: mean: %w", err)
	}
	root, err := mean.SqrtTo(s, c.params.Iterations)
	if err != nil {
		return Result{}, fmt.Errorf("reference: sqrt: %w", err)
	}
	return Result{Value: root, SampleCount: series.SampleCount(), Mode: Reference}, nil
}

// sumSquares sums the deltas' squares, each rounded to scale work.
func sumSquares(series market.ReturnSeries, work fixed.Scale) (fixed.Point, error) {
	sum := fixed.Zero(work)
	for i := 0; i < series.Len(); i++ {
		sq, err := series.At(i).Square(work)
		if err != nil {
			return fixed.Point{}, fmt.Errorf("reference: square of delta %d: %w", i, err)
		}
		if sum, err = sum.Add(sq); err != nil {
			return fixed.Point{}, fmt.Errorf("reference: sum of squares at delta %d: %w", i, err)
		}
	}
	return sum, nil
}
