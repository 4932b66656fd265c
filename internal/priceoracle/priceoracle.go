// Package priceoracle implements spec §4.5: USD pricing for the wrapped
// native token and arbitrary tokens, derived from on-chain pair
// reserves with positive and negative TTL caching.
package priceoracle

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/plsx-router/quoteengine/internal/domain"
	"github.com/plsx-router/quoteengine/internal/evmabi"
	"github.com/plsx-router/quoteengine/internal/multicall"
	"github.com/plsx-router/quoteengine/internal/telemetry"
	"github.com/plsx-router/quoteengine/internal/ttlcache"
)

const nativeCacheKey = "native"

// Oracle prices tokens in USD using on-chain pair reserves. It caches
// the native price, per-token USD prices, per-token decimals, and a
// short-lived negative cache for failed lookups.
type Oracle struct {
	cfg    domain.Config
	caller evmabi.Caller
	mc     *multicall.Client // nil disables the multicall batching path

	logger  telemetry.Logger
	metrics *telemetry.Metrics

	nativeCache   *ttlcache.Cache[*big.Float]
	tokenCache    *ttlcache.Cache[*big.Float]
	decimalsCache *ttlcache.Cache[uint8]
	failureCache  *ttlcache.Cache[struct{}]
}

// New constructs an Oracle. mc may be nil, in which case pair data is
// always loaded via individual reads.
func New(cfg domain.Config, caller evmabi.Caller, mc *multicall.Client, logger telemetry.Logger, metrics *telemetry.Metrics) *Oracle {
	return &Oracle{
		cfg:           cfg,
		caller:        caller,
		mc:            mc,
		logger:        logger,
		metrics:       metrics,
		nativeCache:   ttlcache.New[*big.Float](),
		tokenCache:    ttlcache.New[*big.Float](),
		decimalsCache: ttlcache.New[uint8](),
		failureCache:  ttlcache.New[struct{}](),
	}
}

func (o *Oracle) factories() []common.Address {
	return []common.Address{o.cfg.FactoryV2, o.cfg.FactoryV1}
}

// NativePriceUSD returns the wrapped native token's USD price, trying
// factories in {V2, V1} priority order.
func (o *Oracle) NativePriceUSD(ctx context.Context) (*big.Float, error) {
	if v, ok := o.nativeCache.Get(nativeCacheKey); ok {
		return v, nil
	}
	if _, failed := o.failureCache.Get(nativeCacheKey); failed {
		return nil, domain.ErrPriceUnavailable
	}

	for _, factory := range o.factories() {
		if factory == (common.Address{}) {
			continue
		}
		price, err := o.pairPriceRatio(ctx, factory, o.cfg.WrappedNative, o.cfg.USDStable)
		if err != nil {
			continue
		}
		o.nativeCache.Set(nativeCacheKey, price, o.cfg.CacheTTL.Price)
		return price, nil
	}

	o.failureCache.Set(nativeCacheKey, struct{}{}, o.cfg.CacheTTL.PriceNegative)
	return nil, domain.ErrPriceUnavailable
}

// TokenPriceUSD returns addr's USD price. WPLS/native/zero resolve to
// the native price; the configured USD stable resolves to 1.0; every
// other token tries a (token, WPLS) pair first, then a (token, USDC)
// pair, across both factories.
func (o *Oracle) TokenPriceUSD(ctx context.Context, addr common.Address) (*big.Float, error) {
	if addr == o.cfg.WrappedNative || addr == (common.Address{}) || domain.IsNativePseudoAddress(strings.ToLower(addr.Hex())) {
		return o.NativePriceUSD(ctx)
	}
	if addr == o.cfg.USDStable {
		return big.NewFloat(1.0), nil
	}

	key := strings.ToLower(addr.Hex())
	if v, ok := o.tokenCache.Get(key); ok {
		return v, nil
	}
	if _, failed := o.failureCache.Get(key); failed {
		return nil, domain.ErrPriceUnavailable
	}

	for _, factory := range o.factories() {
		if factory == (common.Address{}) {
			continue
		}
		ratio, err := o.pairPriceRatio(ctx, factory, addr, o.cfg.WrappedNative)
		if err != nil {
			continue
		}
		nativePrice, err := o.NativePriceUSD(ctx)
		if err != nil {
			continue
		}
		price := new(big.Float).Mul(ratio, nativePrice)
		o.tokenCache.Set(key, price, o.cfg.CacheTTL.Price)
		return price, nil
	}

	for _, factory := range o.factories() {
		if factory == (common.Address{}) {
			continue
		}
		price, err := o.pairPriceRatio(ctx, factory, addr, o.cfg.USDStable)
		if err != nil {
			continue
		}
		o.tokenCache.Set(key, price, o.cfg.CacheTTL.Price)
		return price, nil
	}

	o.failureCache.Set(key, struct{}{}, o.cfg.CacheTTL.PriceNegative)
	return nil, domain.ErrPriceUnavailable
}

// pairPriceRatio returns how much quoteToken one unit of base is worth,
// i.e. reserve(quoteToken)/reserve(base) adjusted for decimals.
func (o *Oracle) pairPriceRatio(ctx context.Context, factory, base, quoteToken common.Address) (*big.Float, error) {
	pair, err := evmabi.GetPair(ctx, o.caller, factory, base, quoteToken)
	if err != nil {
		return nil, err
	}
	if pair == (common.Address{}) {
		return nil, domain.ErrPriceUnavailable
	}

	token0, token1, r0, r1, err := o.loadPairData(ctx, pair)
	if err != nil {
		return nil, err
	}

	baseDecimals, err := o.getDecimals(ctx, base)
	if err != nil {
		return nil, err
	}
	quoteDecimals, err := o.getDecimals(ctx, quoteToken)
	if err != nil {
		return nil, err
	}

	reserves := domain.PairReserves{Pool: pair, Token0: token0, Token1: token1, Reserve0: r0, Reserve1: r1}
	reserveBase, reserveQuote, ok := reserves.MapReserves(base, quoteToken)
	if !ok {
		return nil, domain.ErrPriceUnavailable
	}

	baseFloat := toFloat(reserveBase, baseDecimals)
	if baseFloat.Sign() <= 0 {
		return nil, domain.ErrPriceUnavailable
	}
	quoteFloat := toFloat(reserveQuote, quoteDecimals)

	return new(big.Float).Quo(quoteFloat, baseFloat), nil
}

// loadPairData prefers a single multicall batch for token0/token1/
// getReserves; on any decode or call failure it falls back to three
// individual reads.
func (o *Oracle) loadPairData(ctx context.Context, pair common.Address) (token0, token1 common.Address, reserve0, reserve1 *big.Int, err error) {
	if o.mc != nil {
		if t0, t1, rr0, rr1, mcErr := o.loadPairDataMulticall(ctx, pair); mcErr == nil {
			return t0, t1, rr0, rr1, nil
		}
	}

	token0, err = evmabi.Token0(ctx, o.caller, pair)
	if err != nil {
		return
	}
	token1, err = evmabi.Token1(ctx, o.caller, pair)
	if err != nil {
		return
	}
	reserve0, reserve1, err = evmabi.GetReserves(ctx, o.caller, pair)
	return
}

func (o *Oracle) loadPairDataMulticall(ctx context.Context, pair common.Address) (token0, token1 common.Address, reserve0, reserve1 *big.Int, err error) {
	p0, err := evmabi.PackToken0()
	if err != nil {
		return
	}
	p1, err := evmabi.PackToken1()
	if err != nil {
		return
	}
	pr, err := evmabi.PackGetReserves()
	if err != nil {
		return
	}

	results, err := o.mc.Execute(ctx, []multicall.Call{
		{Target: pair, CallData: p0},
		{Target: pair, CallData: p1},
		{Target: pair, CallData: pr},
	})
	if err != nil {
		return
	}
	if len(results) != 3 || !results[0].Success || !results[1].Success || !results[2].Success {
		err = domain.ErrPriceUnavailable
		return
	}

	token0, err = evmabi.DecodeAddress("token0", results[0].ReturnData)
	if err != nil {
		return
	}
	token1, err = evmabi.DecodeAddress("token1", results[1].ReturnData)
	if err != nil {
		return
	}
	reserve0, reserve1, err = evmabi.DecodeReserves(results[2].ReturnData)
	return
}

// Decimals returns addr's ERC20 decimals, using the same infinite-TTL
// cache pairPriceRatio relies on internally. Exposed for callers (the
// orchestrator's USD-notional check) that need decimals without going
// through a full price lookup.
func (o *Oracle) Decimals(ctx context.Context, addr common.Address) (uint8, error) {
	return o.getDecimals(ctx, addr)
}

func (o *Oracle) getDecimals(ctx context.Context, addr common.Address) (uint8, error) {
	key := strings.ToLower(addr.Hex())
	if d, ok := o.decimalsCache.Get(key); ok {
		return d, nil
	}
	d, err := evmabi.Decimals(ctx, o.caller, addr)
	if err != nil {
		return 0, err
	}
	o.decimalsCache.Set(key, d, ttlcache.NoExpiration)
	return d, nil
}

func toFloat(amount *big.Int, decimals uint8) *big.Float {
	f := new(big.Float).SetInt(amount)
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	return new(big.Float).Quo(f, divisor)
}
