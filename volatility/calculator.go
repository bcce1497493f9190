// Package volatility 实现三种已实现波动率计算器：Reference、Optimized、Circuit。
//
// All three compute sqrt(Σ d_i² / (n−1)) over a ReturnSeries of n−1 deltas
// and share one rounding rule (toward zero) and one square root
// (fixed.Sqrt128 with a fixed iteration count). They differ only in how the
// sum of squares and the division are carried out.
package volatility

import (
	"encoding/json"
	"fmt"
	"strings"

	"volatility-prover/circuit"
	"volatility-prover/fixed"
	"volatility-prover/market"
)

// Mode names a calculator.
type Mode int

const (
	Reference Mode = iota + 1
	Optimized
	Circuit
)

func (m Mode) String() string {
	switch m {
	case Reference:
		return "reference"
	case Optimized:
		return "optimized"
	case Circuit:
		return "circuit"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode is the inverse of String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "reference":
		return Reference, nil
	case "optimized":
		return Optimized, nil
	case "circuit":
		return Circuit, nil
	}
	return 0, fmt.Errorf("unknown calculator mode %q", s)
}

func (m Mode) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Result 是一次计算的不可变结果。
type Result struct {
	Value       fixed.Point
	SampleCount int
	Mode        Mode
}

// Params are the setup-time constants shared by every calculator in a run.
type Params struct {
	Scale      fixed.Scale
	Iterations int
}

// DefaultParams uses 24 fractional bits and enough Newton steps for any
// 128-bit radicand.
func DefaultParams() Params {
	return Params{Scale: 24, Iterations: fixed.DefaultIterations}
}

func (p Params) Validate() error {
	if err := p.Scale.Validate(); err != nil {
		return err
	}
	if p.Iterations < 1 || p.Iterations > 64 {
		return fmt.Errorf("iterations must be within [1, 64], got %d", p.Iterations)
	}
	return nil
}

// Calculator computes realized volatility over a return series.
type Calculator interface {
	Mode() Mode
	Compute(series market.ReturnSeries) (Result, error)
}

// Tracer is implemented by calculators that also emit a constraint trace.
type Tracer interface {
	Calculator
	Trace(series market.ReturnSeries) (Result, *circuit.Trace, error)
}

// checkSeries rejects inputs every calculator refuses before computing.
func checkSeries(p Params, series market.ReturnSeries) error {
	if series.Len() == 0 {
		return fmt.Errorf("%w: empty return series", market.ErrInvalidInput)
	}
	if series.Scale() != p.Scale {
		return fmt.Errorf("%w: series scale %d, calculator scale %d", fixed.ErrScaleMismatch, series.Scale(), p.Scale)
	}
	return nil
}
