package market

import (
	"fmt"

	"volatility-prover/fixed"
)

// ReturnSeries 是相邻采样之间的定点增量序列，构造后不可变。
type ReturnSeries struct {
	deltas []fixed.Point
	scale  fixed.Scale
}

// NewReturnSeries copies deltas into a series. Every delta must carry scale s.
func NewReturnSeries(deltas []fixed.Point, s fixed.Scale) (ReturnSeries, error) {
	if err := s.Validate(); err != nil {
		return ReturnSeries{}, err
	}
	out := make([]fixed.Point, len(deltas))
	for i, d := range deltas {
		if d.Scale() != s {
			return ReturnSeries{}, fmt.Errorf("delta %d: %w: %d vs %d", i, fixed.ErrScaleMismatch, d.Scale(), s)
		}
		out[i] = d
	}
	return ReturnSeries{deltas: out, scale: s}, nil
}

// SeriesFromInts is a convenience for integer deltas such as tick differences.
func SeriesFromInts(deltas []int64, s fixed.Scale) (ReturnSeries, error) {
	points := make([]fixed.Point, len(deltas))
	for i, d := range deltas {
		p, err := fixed.FromInt(d, s)
		if err != nil {
			return ReturnSeries{}, fmt.Errorf("delta %d: %w", i, err)
		}
		points[i] = p
	}
	return ReturnSeries{deltas: points, scale: s}, nil
}

func (r ReturnSeries) Len() int             { return len(r.deltas) }
func (r ReturnSeries) At(i int) fixed.Point { return r.deltas[i] }
func (r ReturnSeries) Scale() fixed.Scale   { return r.scale }

// SampleCount is the number of samples the series was derived from.
func (r ReturnSeries) SampleCount() int { return len(r.deltas) + 1 }

// Deltas returns a copy of the underlying deltas.
func (r ReturnSeries) Deltas() []fixed.Point {
	out := make([]fixed.Point, len(r.deltas))
	copy(out, r.deltas)
	return out
}
