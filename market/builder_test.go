package market_test

import (
	"bytes"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volatility-prover/fixed"
	"volatility-prover/market"
)

func ticks(values ...int64) []market.TickSample {
	out := make([]market.TickSample, len(values))
	for i, v := range values {
		out[i] = market.TickAt(int64(i), v)
	}
	return out
}

func TestBuildTickDeltas(t *testing.T) {
	b := market.Builder{Scale: 8, Mode: market.DeltaTick}
	series, err := b.Build(ticks(100, 102, 100, 102, 100))
	require.NoError(t, err)
	require.Equal(t, 4, series.Len())
	assert.Equal(t, 5, series.SampleCount())

	want := []int64{2, -2, 2, -2}
	for i, w := range want {
		assert.Equal(t, w<<8, series.At(i).Raw(), "delta %d", i)
		assert.Equal(t, fixed.Scale(8), series.At(i).Scale())
	}
}

func TestBuildRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		builder market.Builder
		samples []market.TickSample
		target  error
	}{
		{"empty", market.Builder{}, nil, market.ErrInvalidInput},
		{"single sample", market.Builder{}, ticks(1), market.ErrInvalidInput},
		{
			name:    "timestamps go backwards",
			builder: market.Builder{},
			samples: []market.TickSample{market.TickAt(5, 1), market.TickAt(4, 2)},
			target:  market.ErrInvalidInput,
		},
		{"declared count mismatch", market.Builder{DeclaredSamples: 4}, ticks(1, 2, 3), market.ErrSampleCountMismatch},
		{
			name:    "missing tick",
			builder: market.Builder{},
			samples: []market.TickSample{market.TickAt(1, 1), {Timestamp: 2}},
			target:  market.ErrInvalidInput,
		},
		{
			name:    "missing price",
			builder: market.Builder{Mode: market.DeltaLogPrice},
			samples: ticks(1, 2),
			target:  market.ErrInvalidInput,
		},
		{"tick delta overflows scale", market.Builder{Scale: 62}, ticks(0, 4), fixed.ErrOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build(tt.samples)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestSampleCountMismatchIsInputError(t *testing.T) {
	_, err := market.Builder{DeclaredSamples: 3}.Build(ticks(1, 2))
	assert.ErrorIs(t, err, market.ErrInvalidInput)
}

func TestEqualTimestampsAreAllowed(t *testing.T) {
	samples := []market.TickSample{market.TickAt(7, 1), market.TickAt(7, 3)}
	series, err := market.Builder{}.Build(samples)
	require.NoError(t, err)
	assert.Equal(t, int64(2), series.At(0).Raw())
}

func TestBuildLogPriceDeltas(t *testing.T) {
	q96 := new(big.Int).Lsh(big.NewInt(1), 96)
	double := new(big.Int).Lsh(q96, 1) // √P doubles, P quadruples
	samples := []market.TickSample{
		market.PriceAt(1, q96),
		market.PriceAt(2, double),
		market.PriceAt(3, q96),
	}
	series, err := market.Builder{Scale: 16, Mode: market.DeltaLogPrice}.Build(samples)
	require.NoError(t, err)
	require.Equal(t, 2, series.Len())
	// ln 4 = 2·ln 2 ≈ 1.386294 → 90852 at scale 16
	assert.Equal(t, int64(90852), series.At(0).Raw())
	assert.Equal(t, int64(-90852), series.At(1).Raw())
}

func TestSeriesIsImmutable(t *testing.T) {
	series, err := market.SeriesFromInts([]int64{1, 2, 3}, 4)
	require.NoError(t, err)
	deltas := series.Deltas()
	deltas[0] = fixed.Zero(4)
	assert.Equal(t, int64(16), series.At(0).Raw())
}

func TestNewReturnSeriesRejectsMixedScales(t *testing.T) {
	a, _ := fixed.FromInt(1, 4)
	b, _ := fixed.FromInt(1, 5)
	_, err := market.NewReturnSeries([]fixed.Point{a, b}, 4)
	assert.ErrorIs(t, err, fixed.ErrScaleMismatch)
}

func TestParseDeltaMode(t *testing.T) {
	m, err := market.ParseDeltaMode("LogPrice")
	require.NoError(t, err)
	assert.Equal(t, market.DeltaLogPrice, m)
	m, err = market.ParseDeltaMode("")
	require.NoError(t, err)
	assert.Equal(t, market.DeltaTick, m)
	_, err = market.ParseDeltaMode("price")
	assert.ErrorIs(t, err, market.ErrInvalidInput)
}

func TestJSONRoundTrip(t *testing.T) {
	in := `[
  {"timestamp": 1, "tick": -5},
  {"timestamp": 2, "sqrtPriceX96": "79228162514264337593543950336"},
  {"timestamp": 3, "sqrtPriceX96": 4}
]`
	samples, err := market.ReadJSON(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, samples, 3)
	require.NotNil(t, samples[0].Tick)
	assert.Equal(t, int64(-5), *samples[0].Tick)
	assert.Equal(t, "79228162514264337593543950336", samples[1].SqrtPriceX96.String())
	assert.Equal(t, int64(4), samples[2].SqrtPriceX96.Int64())

	var buf bytes.Buffer
	require.NoError(t, market.WriteJSON(&buf, samples))
	again, err := market.ReadJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, samples, again)

	_, err = market.ReadJSON(strings.NewReader(`[{"timestamp":1,"sqrtPriceX96":"-3"}]`))
	assert.ErrorIs(t, err, market.ErrInvalidInput)
}

func TestReadCSV(t *testing.T) {
	samples, err := market.ReadCSV(strings.NewReader("tick\n100\n-3\n\n7\n"))
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, int64(-3), *samples[1].Tick)
	assert.Equal(t, int64(2), samples[2].Timestamp)

	_, err = market.ReadCSV(strings.NewReader("tick\n1.5\n"))
	assert.ErrorIs(t, err, market.ErrInvalidInput)

	_, err = market.ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, market.ErrInvalidInput)
}
