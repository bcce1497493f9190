package volatility_test

import (
	"math/rand"
	"strconv"
	"testing"

	"volatility-prover/market"
	"volatility-prover/volatility"
)

// benchSeries 生成一个随机游走的 tick 差分序列（固定种子）
func benchSeries(b *testing.B, sampleCount int) market.ReturnSeries {
	b.Helper()
	rng := rand.New(rand.NewSource(42))
	deltas := make([]int64, sampleCount-1)
	for i := range deltas {
		deltas[i] = int64(rng.Intn(41) - 20)
	}
	series, err := market.SeriesFromInts(deltas, volatility.DefaultParams().Scale)
	if err != nil {
		b.Fatalf("build series: %v", err)
	}
	return series
}

// BenchmarkReference 基准测试参考实现
func BenchmarkReference(b *testing.B) {
	calc, err := volatility.NewReference(volatility.DefaultParams())
	if err != nil {
		b.Fatal(err)
	}
	series := benchSeries(b, 8192)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = calc.Compute(series)
	}
}

// BenchmarkOptimized 基准测试优化实现
func BenchmarkOptimized(b *testing.B) {
	calc, err := volatility.NewOptimized(volatility.DefaultParams())
	if err != nil {
		b.Fatal(err)
	}
	series := benchSeries(b, 8192)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = calc.Compute(series)
	}
}

// BenchmarkCircuitTrace 基准测试电路实现（含 trace 生成）
func BenchmarkCircuitTrace(b *testing.B) {
	for _, n := range []int{64, 1024, 8192} {
		b.Run(strconv.Itoa(n), func(b *testing.B) {
			calc, err := volatility.NewCircuit(volatility.DefaultParams(), n)
			if err != nil {
				b.Fatal(err)
			}
			series := benchSeries(b, n)

			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, _, _ = calc.Trace(series)
			}
		})
	}
}

