package market

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// TickSample 是一条池子状态采样：时间戳 + tick 或 sqrtPriceX96。
// Samples are produced by ingestion and read-only to the calculators.
type TickSample struct {
	Timestamp    int64
	Tick         *int64
	SqrtPriceX96 *big.Int
}

// TickAt builds a tick-only sample.
func TickAt(ts, tick int64) TickSample {
	return TickSample{Timestamp: ts, Tick: &tick}
}

// PriceAt builds a sqrtPriceX96-only sample.
func PriceAt(ts int64, sqrtPriceX96 *big.Int) TickSample {
	return TickSample{Timestamp: ts, SqrtPriceX96: new(big.Int).Set(sqrtPriceX96)}
}

type sampleJSON struct {
	Timestamp    int64           `json:"timestamp"`
	Tick         *int64          `json:"tick,omitempty"`
	SqrtPriceX96 json.RawMessage `json:"sqrtPriceX96,omitempty"`
}

// MarshalJSON writes sqrtPriceX96 as a decimal string since it exceeds
// the JSON number range most consumers accept.
func (s TickSample) MarshalJSON() ([]byte, error) {
	out := sampleJSON{Timestamp: s.Timestamp, Tick: s.Tick}
	if s.SqrtPriceX96 != nil {
		out.SqrtPriceX96 = json.RawMessage(`"` + s.SqrtPriceX96.String() + `"`)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts sqrtPriceX96 either as a string or a bare number.
func (s *TickSample) UnmarshalJSON(data []byte) error {
	var in sampleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.Timestamp = in.Timestamp
	s.Tick = in.Tick
	s.SqrtPriceX96 = nil
	if len(in.SqrtPriceX96) > 0 && string(in.SqrtPriceX96) != "null" {
		str := strings.Trim(string(in.SqrtPriceX96), `"`)
		v, ok := new(big.Int).SetString(str, 10)
		if !ok || v.Sign() < 0 {
			return fmt.Errorf("%w: sqrtPriceX96 %q", ErrInvalidInput, str)
		}
		s.SqrtPriceX96 = v
	}
	return nil
}
