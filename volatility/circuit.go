package volatility

import (
	"fmt"

	"lukechampine.com/uint128"

	"volatility-prover/circuit"
	"volatility-prover/fixed"
	"volatility-prover/market"
)

// CircuitCalculator re-expresses the Optimized algorithm as a fixed-shape
// constraint trace. The sample count is declared when the calculator is
// built; the gate list then depends only on it and on the iteration count.
type CircuitCalculator struct {
	params      Params
	sampleCount int
}

func NewCircuit(p Params, sampleCount int) (*CircuitCalculator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if sampleCount < 2 {
		return nil, fmt.Errorf("%w: circuit needs at least 2 samples, declared %d", market.ErrInvalidInput, sampleCount)
	}
	return &CircuitCalculator{params: p, sampleCount: sampleCount}, nil
}

func (c *CircuitCalculator) Mode() Mode { return Circuit }

// SampleCount is the declared circuit size.
func (c *CircuitCalculator) SampleCount() int { return c.sampleCount }

func (c *CircuitCalculator) Header() circuit.Header {
	return circuit.Header{
		SampleCount: c.sampleCount,
		Scale:       uint8(c.params.Scale),
		Iterations:  c.params.Iterations,
	}
}

func (c *CircuitCalculator) Compute(series market.ReturnSeries) (Result, error) {
	res, _, err := c.Trace(series)
	return res, err
}

// Trace computes the result and returns the witness trace behind it.
func (c *CircuitCalculator) Trace(series market.ReturnSeries) (Result, *circuit.Trace, error) {
	if err := checkSeries(c.params, series); err != nil {
		return Result{}, nil, err
	}
	if series.SampleCount() != c.sampleCount {
		return Result{}, nil, fmt.Errorf("%w: series has %d samples, circuit declared %d",
			market.ErrSampleCountMismatch, series.SampleCount(), c.sampleCount)
	}

	b := circuit.NewBuilder()
	magLimit := b.Const(uint128.From64(1 << 63).Add64(1))
	acc := b.Const64(0)
	for i := 0; i < series.Len(); i++ {
		// 平方与符号无关，只见证绝对值
		_, mag := series.At(i).Magnitude()
		m := b.Input(uint128.From64(mag))
		b.AssertLess(m, magLimit)
		acc = b.Add(acc, b.Mul(m, m))
	}
	mean, _ := b.DivMod(acc, b.Const64(uint64(c.sampleCount-1)))
	root := b.SqrtGadget(mean, c.params.Iterations)
	b.AssertLess(root, b.Const(uint128.From64(1<<63)))
	b.Public(root)
	b.Public(b.Const64(uint64(c.sampleCount)))

	trace, err := b.Finish(c.Header())
	if err != nil {
		return Result{}, trace, fmt.Errorf("circuit: %w", err)
	}
	public := trace.PublicValues()
	value, err := fixed.FromMagnitude(false, public[0], c.params.Scale)
	if err != nil {
		return Result{}, trace, fmt.Errorf("circuit: %w", err)
	}
	return Result{Value: value, SampleCount: int(public[1].Lo), Mode: Circuit}, trace, nil
}
