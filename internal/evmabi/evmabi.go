// Package evmabi wraps the small, fixed set of contract calls shared by
// the price oracle, reserve loader, and simulator: factory pair lookup,
// pair token/reserve reads, and ERC20 decimals (spec §6.1).
package evmabi

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Caller is the subset of rpcpool.RPCClient these helpers need.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

const factoryABIJSON = `[{
	"constant": true,
	"inputs": [{"name": "tokenA", "type": "address"}, {"name": "tokenB", "type": "address"}],
	"name": "getPair",
	"outputs": [{"name": "pair", "type": "address"}],
	"stateMutability": "view",
	"type": "function"
}]`

const pairABIJSON = `[
	{"constant": true, "inputs": [], "name": "token0", "outputs": [{"name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [], "name": "token1", "outputs": [{"name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [], "name": "getReserves", "outputs": [
		{"name": "reserve0", "type": "uint112"},
		{"name": "reserve1", "type": "uint112"},
		{"name": "blockTimestampLast", "type": "uint32"}
	], "stateMutability": "view", "type": "function"}
]`

const erc20ABIJSON = `[{
	"constant": true,
	"inputs": [],
	"name": "decimals",
	"outputs": [{"name": "", "type": "uint8"}],
	"stateMutability": "view",
	"type": "function"
}]`

const routerABIJSON = `[{
	"constant": true,
	"inputs": [{"name": "amountIn", "type": "uint256"}, {"name": "path", "type": "address[]"}],
	"name": "getAmountsOut",
	"outputs": [{"name": "amounts", "type": "uint256[]"}],
	"stateMutability": "view",
	"type": "function"
}]`

var (
	factoryABI abi.ABI
	pairABI    abi.ABI
	erc20ABI   abi.ABI
	routerABI  abi.ABI
)

func init() {
	var err error
	if factoryABI, err = abi.JSON(strings.NewReader(factoryABIJSON)); err != nil {
		panic(fmt.Sprintf("evmabi: invalid factory ABI: %v", err))
	}
	if pairABI, err = abi.JSON(strings.NewReader(pairABIJSON)); err != nil {
		panic(fmt.Sprintf("evmabi: invalid pair ABI: %v", err))
	}
	if erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON)); err != nil {
		panic(fmt.Sprintf("evmabi: invalid erc20 ABI: %v", err))
	}
	if routerABI, err = abi.JSON(strings.NewReader(routerABIJSON)); err != nil {
		panic(fmt.Sprintf("evmabi: invalid router ABI: %v", err))
	}
}

func call(ctx context.Context, caller Caller, to common.Address, packed []byte) ([]byte, error) {
	return caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: packed}, nil)
}

// GetPair returns the pair address for tokenA/tokenB from factory; the
// zero address means "no pair" (spec §6.1), not an error.
func GetPair(ctx context.Context, caller Caller, factory, tokenA, tokenB common.Address) (common.Address, error) {
	packed, err := factoryABI.Pack("getPair", tokenA, tokenB)
	if err != nil {
		return common.Address{}, fmt.Errorf("evmabi: pack getPair: %w", err)
	}
	raw, err := call(ctx, caller, factory, packed)
	if err != nil {
		return common.Address{}, err
	}
	var pair common.Address
	if err := factoryABI.UnpackIntoInterface(&pair, "getPair", raw); err != nil {
		return common.Address{}, fmt.Errorf("evmabi: unpack getPair: %w", err)
	}
	return pair, nil
}

// Token0 returns the pair's token0.
func Token0(ctx context.Context, caller Caller, pair common.Address) (common.Address, error) {
	return pairAddressCall(ctx, caller, pair, "token0")
}

// Token1 returns the pair's token1.
func Token1(ctx context.Context, caller Caller, pair common.Address) (common.Address, error) {
	return pairAddressCall(ctx, caller, pair, "token1")
}

func pairAddressCall(ctx context.Context, caller Caller, pair common.Address, method string) (common.Address, error) {
	packed, err := pairABI.Pack(method)
	if err != nil {
		return common.Address{}, fmt.Errorf("evmabi: pack %s: %w", method, err)
	}
	raw, err := call(ctx, caller, pair, packed)
	if err != nil {
		return common.Address{}, err
	}
	var addr common.Address
	if err := pairABI.UnpackIntoInterface(&addr, method, raw); err != nil {
		return common.Address{}, fmt.Errorf("evmabi: unpack %s: %w", method, err)
	}
	return addr, nil
}

// GetReserves returns the pair's raw reserve0/reserve1.
func GetReserves(ctx context.Context, caller Caller, pair common.Address) (reserve0, reserve1 *big.Int, err error) {
	packed, err := pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("evmabi: pack getReserves: %w", err)
	}
	raw, err := call(ctx, caller, pair, packed)
	if err != nil {
		return nil, nil, err
	}

	var out struct {
		Reserve0           *big.Int
		Reserve1           *big.Int
		BlockTimestampLast uint32
	}
	if err := pairABI.UnpackIntoInterface(&out, "getReserves", raw); err != nil {
		return nil, nil, fmt.Errorf("evmabi: unpack getReserves: %w", err)
	}
	return out.Reserve0, out.Reserve1, nil
}

// Decimals returns an ERC20 token's decimals.
func Decimals(ctx context.Context, caller Caller, token common.Address) (uint8, error) {
	packed, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("evmabi: pack decimals: %w", err)
	}
	raw, err := call(ctx, caller, token, packed)
	if err != nil {
		return 0, err
	}
	var decimals uint8
	if err := erc20ABI.UnpackIntoInterface(&decimals, "decimals", raw); err != nil {
		return 0, fmt.Errorf("evmabi: unpack decimals: %w", err)
	}
	return decimals, nil
}

// GetAmountsOut calls the router's getAmountsOut. No other package in
// this module calls it; the orchestrator's direct fallback simulates its
// candidates against cached reserves instead.
func GetAmountsOut(ctx context.Context, caller Caller, router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	packed, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("evmabi: pack getAmountsOut: %w", err)
	}
	raw, err := call(ctx, caller, router, packed)
	if err != nil {
		return nil, err
	}
	var amounts []*big.Int
	if err := routerABI.UnpackIntoInterface(&amounts, "getAmountsOut", raw); err != nil {
		return nil, fmt.Errorf("evmabi: unpack getAmountsOut: %w", err)
	}
	return amounts, nil
}

// The Pack*/Decode* helpers below expose raw calldata encode/decode for
// callers that batch these same calls through a multicall client
// instead of calling evmabi's own network-calling functions directly.

func PackToken0() ([]byte, error) { return pairABI.Pack("token0") }
func PackToken1() ([]byte, error) { return pairABI.Pack("token1") }
func PackGetReserves() ([]byte, error) { return pairABI.Pack("getReserves") }

func PackGetPair(factory common.Address, tokenA, tokenB common.Address) ([]byte, error) {
	_ = factory // target, not encoded into calldata
	return factoryABI.Pack("getPair", tokenA, tokenB)
}

// DecodeAddress decodes a single-address return value from a pair or
// factory call (token0, token1, getPair all share this shape).
func DecodeAddress(method string, raw []byte) (common.Address, error) {
	var addr common.Address
	var err error
	switch method {
	case "getPair":
		err = factoryABI.UnpackIntoInterface(&addr, method, raw)
	default:
		err = pairABI.UnpackIntoInterface(&addr, method, raw)
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("evmabi: decode %s: %w", method, err)
	}
	return addr, nil
}

// DecodeReserves decodes a getReserves return value.
func DecodeReserves(raw []byte) (reserve0, reserve1 *big.Int, err error) {
	var out struct {
		Reserve0           *big.Int
		Reserve1           *big.Int
		BlockTimestampLast uint32
	}
	if err := pairABI.UnpackIntoInterface(&out, "getReserves", raw); err != nil {
		return nil, nil, fmt.Errorf("evmabi: decode getReserves: %w", err)
	}
	return out.Reserve0, out.Reserve1, nil
}
