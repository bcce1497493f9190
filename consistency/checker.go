// Package consistency 对同一输入运行三种计算器并比较结果。
package consistency

import (
	"errors"
	"fmt"

	"volatility-prover/circuit"
	"volatility-prover/market"
	"volatility-prover/volatility"
)

var (
	// ErrDivergenceDefect means Optimized and Circuit disagree. Always fatal.
	ErrDivergenceDefect = errors.New("optimized and circuit results diverge")
	// ErrDivergenceWarning means Reference drifted from Optimized beyond
	// the tolerance. Only returned in strict mode.
	ErrDivergenceWarning = errors.New("reference and optimized results exceed tolerance")
)

// DefaultTolerance is the Reference vs Optimized bound in units of 2^-S.
const DefaultTolerance = 2

// Policy controls how the soft Reference/Optimized gap is treated.
type Policy struct {
	Tolerance uint64 `yaml:"tolerance" json:"tolerance"`
	Strict    bool   `yaml:"strict" json:"strict"`
}

// Report 汇总三种结果及其差值（单位为 2^-S）。
type Report struct {
	Reference            volatility.Result
	Optimized            volatility.Result
	Circuit              volatility.Result
	ReferenceVsOptimized uint64
	OptimizedVsCircuit   uint64
	WithinTolerance      bool
	Trace                *circuit.Trace
}

// Checker runs the three calculators over one series.
type Checker struct {
	Reference volatility.Calculator
	Optimized volatility.Calculator
	Circuit   volatility.Calculator
	Policy    Policy
	// OnWarning, if set, is called when the soft tolerance is exceeded,
	// whether or not the policy is strict.
	OnWarning func(Report)
}

// NewChecker wires the standard calculators for params and the declared
// sample count.
func NewChecker(p volatility.Params, sampleCount int, policy Policy) (*Checker, error) {
	ref, err := volatility.NewReference(p)
	if err != nil {
		return nil, err
	}
	opt, err := volatility.NewOptimized(p)
	if err != nil {
		return nil, err
	}
	circ, err := volatility.NewCircuit(p, sampleCount)
	if err != nil {
		return nil, err
	}
	return &Checker{Reference: ref, Optimized: opt, Circuit: circ, Policy: policy}, nil
}

// Check returns the report together with the first hard failure. A
// defect is reported even when the soft check also failed.
func (c *Checker) Check(series market.ReturnSeries) (Report, error) {
	var report Report
	var err error

	if report.Reference, err = c.Reference.Compute(series); err != nil {
		return report, fmt.Errorf("%s: %w", volatility.Reference, err)
	}
	if report.Optimized, err = c.Optimized.Compute(series); err != nil {
		return report, fmt.Errorf("%s: %w", volatility.Optimized, err)
	}
	if tracer, ok := c.Circuit.(volatility.Tracer); ok {
		report.Circuit, report.Trace, err = tracer.Trace(series)
	} else {
		report.Circuit, err = c.Circuit.Compute(series)
	}
	if err != nil {
		return report, fmt.Errorf("%s: %w", volatility.Circuit, err)
	}

	report.ReferenceVsOptimized = distance(report.Reference.Value.Raw(), report.Optimized.Value.Raw())
	report.OptimizedVsCircuit = distance(report.Optimized.Value.Raw(), report.Circuit.Value.Raw())
	report.WithinTolerance = report.ReferenceVsOptimized <= c.Policy.Tolerance

	if report.OptimizedVsCircuit != 0 || report.Optimized.SampleCount != report.Circuit.SampleCount {
		return report, fmt.Errorf("%w: optimized=%s circuit=%s (%d units)", ErrDivergenceDefect,
			report.Optimized.Value, report.Circuit.Value, report.OptimizedVsCircuit)
	}
	if !report.WithinTolerance {
		if c.OnWarning != nil {
			c.OnWarning(report)
		}
		if c.Policy.Strict {
			return report, fmt.Errorf("%w: %d units > %d", ErrDivergenceWarning,
				report.ReferenceVsOptimized, c.Policy.Tolerance)
		}
	}
	return report, nil
}

func distance(a, b int64) uint64 {
	if a >= b {
		return uint64(a) - uint64(b)
	}
	return uint64(b) - uint64(a)
}
