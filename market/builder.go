package market

import (
	"fmt"
	"strings"

	"volatility-prover/fixed"
)

// DeltaMode selects how consecutive samples are turned into a delta.
type DeltaMode string

const (
	// DeltaTick uses the raw tick difference.
	DeltaTick DeltaMode = "tick"
	// DeltaLogPrice uses ln(P_i / P_{i-1}) derived from sqrtPriceX96.
	DeltaLogPrice DeltaMode = "logprice"
)

// ParseDeltaMode accepts "tick" or "logprice" (case-insensitive, empty = tick).
func ParseDeltaMode(s string) (DeltaMode, error) {
	switch DeltaMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeltaTick:
		return DeltaTick, nil
	case DeltaLogPrice:
		return DeltaLogPrice, nil
	}
	return "", fmt.Errorf("%w: unknown delta mode %q", ErrInvalidInput, s)
}

// Builder 把有序采样转换成 ReturnSeries。
//
// DeclaredSamples is the sample count fixed at setup time; when it is
// positive the input length must match it exactly.
type Builder struct {
	Scale           fixed.Scale
	Mode            DeltaMode
	DeclaredSamples int
}

// Build validates samples and derives the delta series. All checks run
// before any delta is computed.
func (b Builder) Build(samples []TickSample) (ReturnSeries, error) {
	if err := b.Validate(samples); err != nil {
		return ReturnSeries{}, err
	}
	mode := b.Mode
	if mode == "" {
		mode = DeltaTick
	}

	deltas := make([]fixed.Point, 0, len(samples)-1)
	switch mode {
	case DeltaTick:
		for i := 1; i < len(samples); i++ {
			prev, cur := *samples[i-1].Tick, *samples[i].Tick
			diff := cur - prev
			if (prev < 0 && cur > 0 && diff < 0) || (prev > 0 && cur < 0 && diff > 0) {
				return ReturnSeries{}, fmt.Errorf("sample %d: %w: tick difference", i, fixed.ErrOverflow)
			}
			d, err := fixed.FromInt(diff, b.Scale)
			if err != nil {
				return ReturnSeries{}, fmt.Errorf("sample %d: %w", i, err)
			}
			deltas = append(deltas, d)
		}
	case DeltaLogPrice:
		prev, err := fixed.Log2(samples[0].SqrtPriceX96, b.Scale)
		if err != nil {
			return ReturnSeries{}, fmt.Errorf("sample 0: %w", err)
		}
		for i := 1; i < len(samples); i++ {
			cur, err := fixed.Log2(samples[i].SqrtPriceX96, b.Scale)
			if err != nil {
				return ReturnSeries{}, fmt.Errorf("sample %d: %w", i, err)
			}
			diff, err := cur.Sub(prev)
			if err != nil {
				return ReturnSeries{}, fmt.Errorf("sample %d: %w", i, err)
			}
			d, err := diff.MulLn2()
			if err != nil {
				return ReturnSeries{}, fmt.Errorf("sample %d: %w", i, err)
			}
			deltas = append(deltas, d)
			prev = cur
		}
	default:
		return ReturnSeries{}, fmt.Errorf("%w: unknown delta mode %q", ErrInvalidInput, mode)
	}
	return ReturnSeries{deltas: deltas, scale: b.Scale}, nil
}

// Validate runs the input checks of Build without computing deltas.
func (b Builder) Validate(samples []TickSample) error {
	if err := b.Scale.Validate(); err != nil {
		return err
	}
	if b.DeclaredSamples > 0 && len(samples) != b.DeclaredSamples {
		return fmt.Errorf("%w: got %d samples, declared %d", ErrSampleCountMismatch, len(samples), b.DeclaredSamples)
	}
	if len(samples) < 2 {
		return fmt.Errorf("%w: need at least 2 samples, got %d", ErrInvalidInput, len(samples))
	}
	for i, s := range samples {
		if i > 0 && s.Timestamp < samples[i-1].Timestamp {
			return fmt.Errorf("%w: timestamp of sample %d (%d) precedes sample %d (%d)",
				ErrInvalidInput, i, s.Timestamp, i-1, samples[i-1].Timestamp)
		}
		switch b.Mode {
		case "", DeltaTick:
			if s.Tick == nil {
				return fmt.Errorf("%w: sample %d has no tick", ErrInvalidInput, i)
			}
		case DeltaLogPrice:
			if s.SqrtPriceX96 == nil || s.SqrtPriceX96.Sign() <= 0 {
				return fmt.Errorf("%w: sample %d has no positive sqrtPriceX96", ErrInvalidInput, i)
			}
		}
	}
	return nil
}
