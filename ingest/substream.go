// Package ingest 把外部数据源（substream 导出的 Swap 记录、CSV、链上日志）转换成 TickSample。
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"volatility-prover/market"
)

// Swap is one Uniswap V3 Swap event as exported by the substream, one
// JSON object per line.
type Swap struct {
	TxHash       string `json:"evt_tx_hash"`
	Index        uint32 `json:"evt_index"`
	BlockTime    string `json:"evt_block_time"`
	BlockNum     uint64 `json:"evt_block_num"`
	Amount0      string `json:"amount0"`
	Amount1      string `json:"amount1"`
	SqrtPriceX96 string `json:"sqrt_price_x96"`
	Liquidity    string `json:"liquidity"`
	Tick         int64  `json:"tick"`
}

var blockTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

// Sample converts the swap; the block time becomes the timestamp, or the
// block number when the export has no time column.
func (s Swap) Sample() (market.TickSample, error) {
	ts := int64(s.BlockNum)
	if s.BlockTime != "" {
		parsed, err := parseBlockTime(s.BlockTime)
		if err != nil {
			return market.TickSample{}, err
		}
		ts = parsed
	}
	out := market.TickAt(ts, s.Tick)
	if s.SqrtPriceX96 != "" {
		v, ok := new(big.Int).SetString(s.SqrtPriceX96, 10)
		if !ok || v.Sign() <= 0 {
			return market.TickSample{}, fmt.Errorf("%w: sqrt_price_x96 %q", market.ErrInvalidInput, s.SqrtPriceX96)
		}
		out.SqrtPriceX96 = v
	}
	return out, nil
}

func parseBlockTime(v string) (int64, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	for _, layout := range blockTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("%w: evt_block_time %q", market.ErrInvalidInput, v)
}

// ReadJSONL decodes a stream of Swap records.
func ReadJSONL(r io.Reader) ([]market.TickSample, error) {
	dec := json.NewDecoder(r)
	var samples []market.TickSample
	for n := 1; ; n++ {
		var swap Swap
		err := dec.Decode(&swap)
		if errors.Is(err, io.EOF) {
			return samples, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: swap record %d: %v", market.ErrInvalidInput, n, err)
		}
		sample, err := swap.Sample()
		if err != nil {
			return nil, fmt.Errorf("swap record %d: %w", n, err)
		}
		samples = append(samples, sample)
	}
}

// LoadFile picks the decoder by extension: .csv, .jsonl, anything else
// is a JSON sample array.
func LoadFile(path string) ([]market.TickSample, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".jsonl" {
		return market.LoadJSON(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var samples []market.TickSample
	if ext == ".csv" {
		samples, err = market.ReadCSV(f)
	} else {
		samples, err = ReadJSONL(f)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return samples, nil
}
