// Package stableswap implements spec §4.4: quoting against the fixed
// three-coin stable pool via its on-chain get_dy view, with an
// address-to-index map cached with TTL and a prior-cache fallback on
// partial load failure.
package stableswap

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/plsx-router/quoteengine/internal/domain"
	"github.com/plsx-router/quoteengine/internal/ttlcache"
)

// MaxCoins is the fixed size of the stable pool's coin set (spec §4.4).
const MaxCoins = 3

const indexMapKey = "stable-index-map"

// Caller is the subset of rpcpool.RPCClient the quoter needs.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

const coinsABIJSON = `[{
	"constant": true,
	"inputs": [{"name": "arg0", "type": "uint256"}],
	"name": "coins",
	"outputs": [{"name": "", "type": "address"}],
	"stateMutability": "view",
	"type": "function"
}]`

const getDyInt128ABIJSON = `[{
	"constant": true,
	"inputs": [
		{"name": "i", "type": "int128"},
		{"name": "j", "type": "int128"},
		{"name": "dx", "type": "uint256"}
	],
	"name": "get_dy",
	"outputs": [{"name": "", "type": "uint256"}],
	"stateMutability": "view",
	"type": "function"
}]`

const getDyUint256ABIJSON = `[{
	"constant": true,
	"inputs": [
		{"name": "i", "type": "uint256"},
		{"name": "j", "type": "uint256"},
		{"name": "dx", "type": "uint256"}
	],
	"name": "get_dy",
	"outputs": [{"name": "", "type": "uint256"}],
	"stateMutability": "view",
	"type": "function"
}]`

var (
	coinsABI        abi.ABI
	getDyInt128ABI  abi.ABI
	getDyUint256ABI abi.ABI
)

func init() {
	var err error
	coinsABI, err = abi.JSON(strings.NewReader(coinsABIJSON))
	if err != nil {
		panic(fmt.Sprintf("stableswap: invalid coins ABI: %v", err))
	}
	getDyInt128ABI, err = abi.JSON(strings.NewReader(getDyInt128ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("stableswap: invalid get_dy(int128) ABI: %v", err))
	}
	getDyUint256ABI, err = abi.JSON(strings.NewReader(getDyUint256ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("stableswap: invalid get_dy(uint256) ABI: %v", err))
	}
}

// Quoter wraps one stable pool, caching its coin index map and trying
// both known get_dy signatures.
type Quoter struct {
	pool   common.Address
	caller Caller
	ttl    time.Duration

	cache *ttlcache.Cache[map[common.Address]uint8]

	mu   sync.Mutex
	last map[common.Address]uint8
}

func New(pool common.Address, caller Caller, ttl time.Duration) *Quoter {
	return &Quoter{
		pool:   pool,
		caller: caller,
		ttl:    ttl,
		cache:  ttlcache.New[map[common.Address]uint8](),
	}
}

// LoadIndexMap returns the cached address→index map, reloading it from
// chain if expired. If a fresh load fails partway through but a prior
// successfully-loaded map exists, the prior map is returned instead of
// the error; only a first-ever load failure surfaces the error, with
// its original message preserved via wrapping.
func (q *Quoter) LoadIndexMap(ctx context.Context) (map[common.Address]uint8, error) {
	if m, ok := q.cache.Get(indexMapKey); ok {
		return m, nil
	}

	m := make(map[common.Address]uint8, MaxCoins)
	for i := uint8(0); i < MaxCoins; i++ {
		addr, err := q.coinAt(ctx, i)
		if err != nil {
			q.mu.Lock()
			prior := q.last
			q.mu.Unlock()
			if prior != nil {
				return prior, nil
			}
			return nil, fmt.Errorf("stableswap: load index map: %w", err)
		}
		m[addr] = i
	}

	q.mu.Lock()
	q.last = m
	q.mu.Unlock()
	q.cache.Set(indexMapKey, m, q.ttl)
	return m, nil
}

func (q *Quoter) coinAt(ctx context.Context, index uint8) (common.Address, error) {
	packed, err := coinsABI.Pack("coins", big.NewInt(int64(index)))
	if err != nil {
		return common.Address{}, fmt.Errorf("stableswap: pack coins(%d): %w", index, err)
	}

	raw, err := q.caller.CallContract(ctx, ethereum.CallMsg{To: &q.pool, Data: packed}, nil)
	if err != nil {
		return common.Address{}, err
	}

	var addr common.Address
	if err := coinsABI.UnpackIntoInterface(&addr, "coins", raw); err != nil {
		return common.Address{}, fmt.Errorf("stableswap: unpack coins(%d): %w", index, err)
	}
	return addr, nil
}

// QuoteByIndices calls get_dy for the given coin indices, trying the
// (int128,int128,uint256) signature first and falling back to
// (uint256,uint256,uint256) on any failure.
func (q *Quoter) QuoteByIndices(ctx context.Context, i, j uint8, amount *big.Int) (*big.Int, error) {
	if amount.Sign() < 0 {
		return nil, domain.ErrStableNegativeAmount
	}
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if i == j {
		return new(big.Int).Set(amount), nil
	}

	iv, jv := big.NewInt(int64(i)), big.NewInt(int64(j))

	out, int128Err := q.callGetDy(ctx, getDyInt128ABI, iv, jv, amount)
	if int128Err == nil {
		return out, nil
	}

	out, uint256Err := q.callGetDy(ctx, getDyUint256ABI, iv, jv, amount)
	if uint256Err == nil {
		return out, nil
	}

	return nil, fmt.Errorf("stableswap: get_dy failed, int128 signature: %v, uint256 signature: %w", int128Err, uint256Err)
}

// QuoteByAddresses resolves both token addresses through the index map
// and defers to QuoteByIndices. Either address missing from the map
// fails with ErrStableTokenUnsupported.
func (q *Quoter) QuoteByAddresses(ctx context.Context, tokenIn, tokenOut common.Address, amount *big.Int) (*big.Int, error) {
	idx, err := q.LoadIndexMap(ctx)
	if err != nil {
		return nil, err
	}

	i, ok := idx[tokenIn]
	if !ok {
		return nil, domain.ErrStableTokenUnsupported
	}
	j, ok := idx[tokenOut]
	if !ok {
		return nil, domain.ErrStableTokenUnsupported
	}

	return q.QuoteByIndices(ctx, i, j, amount)
}

func (q *Quoter) callGetDy(ctx context.Context, a abi.ABI, i, j, amount *big.Int) (*big.Int, error) {
	packed, err := a.Pack("get_dy", i, j, amount)
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}

	raw, err := q.caller.CallContract(ctx, ethereum.CallMsg{To: &q.pool, Data: packed}, nil)
	if err != nil {
		return nil, err
	}

	var out *big.Int
	if err := a.UnpackIntoInterface(&out, "get_dy", raw); err != nil {
		return nil, fmt.Errorf("unpack: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("get_dy: nil result")
	}
	return out, nil
}
