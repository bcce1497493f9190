package ingest

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"volatility-prover/market"
)

// DefaultPool is the mainnet USDC/WETH 0.05% pool.
const DefaultPool = "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"

const swapEventABI = `[{"anonymous":false,"name":"Swap","type":"event","inputs":[
{"indexed":true,"name":"sender","type":"address"},
{"indexed":true,"name":"recipient","type":"address"},
{"indexed":false,"name":"amount0","type":"int256"},
{"indexed":false,"name":"amount1","type":"int256"},
{"indexed":false,"name":"sqrtPriceX96","type":"uint160"},
{"indexed":false,"name":"liquidity","type":"uint128"},
{"indexed":false,"name":"tick","type":"int24"}]}]`

var swapABI = mustSwapABI()

func mustSwapABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(swapEventABI))
	if err != nil {
		panic(err)
	}
	return parsed
}

// SwapTopic is keccak256("Swap(address,address,int256,int256,uint160,uint128,int24)").
func SwapTopic() common.Hash { return swapABI.Events["Swap"].ID }

// ChainReader is the subset of ethclient.Client used by SwapSource.
type ChainReader interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// SwapSource pulls Swap events of one pool from an RPC node.
type SwapSource struct {
	Client ChainReader
	Pool   common.Address
}

// Dial connects to providerURI.
func Dial(ctx context.Context, providerURI string, pool string) (*SwapSource, *ethclient.Client, error) {
	if !common.IsHexAddress(pool) {
		return nil, nil, fmt.Errorf("invalid pool address %q", pool)
	}
	client, err := ethclient.DialContext(ctx, providerURI)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", providerURI, err)
	}
	return &SwapSource{Client: client, Pool: common.HexToAddress(pool)}, client, nil
}

// Fetch returns one sample per Swap in [from, to], in chain order, stamped
// with the block time.
func (s *SwapSource) Fetch(ctx context.Context, from, to uint64) ([]market.TickSample, error) {
	if from > to {
		return nil, fmt.Errorf("%w: block range %d-%d", market.ErrInvalidInput, from, to)
	}
	logs, err := s.Client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.Pool},
		Topics:    [][]common.Hash{{SwapTopic()}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter swap logs: %w", err)
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	blockTimes := make(map[uint64]int64)
	samples := make([]market.TickSample, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		ts, ok := blockTimes[l.BlockNumber]
		if !ok {
			header, err := s.Client.HeaderByNumber(ctx, new(big.Int).SetUint64(l.BlockNumber))
			if err != nil {
				return nil, fmt.Errorf("header %d: %w", l.BlockNumber, err)
			}
			ts = int64(header.Time)
			blockTimes[l.BlockNumber] = ts
		}
		sample, err := decodeSwap(l, ts)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func decodeSwap(l types.Log, ts int64) (market.TickSample, error) {
	values, err := swapABI.Unpack("Swap", l.Data)
	if err != nil {
		return market.TickSample{}, fmt.Errorf("%w: unpack swap %s#%d: %v", market.ErrInvalidInput, l.TxHash.Hex(), l.Index, err)
	}
	sqrtPrice, ok1 := values[2].(*big.Int)
	tick, ok2 := values[4].(*big.Int)
	if !ok1 || !ok2 || !tick.IsInt64() {
		return market.TickSample{}, fmt.Errorf("%w: malformed swap %s#%d", market.ErrInvalidInput, l.TxHash.Hex(), l.Index)
	}
	out := market.TickAt(ts, tick.Int64())
	out.SqrtPriceX96 = new(big.Int).Set(sqrtPrice)
	return out, nil
}
