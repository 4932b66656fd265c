// Package reservecache implements spec §4.7: a TTL cache of on-chain
// pair reserves keyed by "${venue}:${lower(sort(a,b))}", loaded via a
// multicall batch first and falling back to per-endpoint reads, plus a
// two-stage prewarm that resolves an entire quote's CPMM legs in at
// most two batched round trips.
package reservecache

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/plsx-router/quoteengine/internal/domain"
	"github.com/plsx-router/quoteengine/internal/evmabi"
	"github.com/plsx-router/quoteengine/internal/multicall"
	"github.com/plsx-router/quoteengine/internal/telemetry"
	"github.com/plsx-router/quoteengine/internal/ttlcache"
	"github.com/plsx-router/quoteengine/internal/workerpool"
)

// rpcFallbackThreshold is the remaining-budget floor below which Prewarm
// skips the per-endpoint fallback for legs multicall couldn't resolve:
// spec §4.7 names "~1s" explicitly.
const rpcFallbackThreshold = time.Second

// Leg identifies one CPMM leg to resolve: a venue plus an unordered
// token pair.
type Leg struct {
	Venue domain.Venue
	A, B  common.Address
}

func (l Leg) key() string { return domain.ReserveCacheKey(l.Venue, l.A, l.B) }

func (l Leg) factory(cfg domain.Config) common.Address {
	if l.Venue == domain.VenueCPMMV1 {
		return cfg.FactoryV1
	}
	return cfg.FactoryV2
}

// Cache loads and caches PairReserves per (venue, pair), with a
// multicall-first, per-endpoint-fallback loader and a prewarm pass for
// bulk resolution ahead of simulation.
type Cache struct {
	cfg    domain.Config
	caller evmabi.Caller
	mc     *multicall.Client // nil disables the multicall path entirely

	logger  telemetry.Logger
	metrics *telemetry.Metrics

	store *ttlcache.Cache[*domain.PairReserves]
}

// New constructs a Cache. mc may be nil.
func New(cfg domain.Config, caller evmabi.Caller, mc *multicall.Client, logger telemetry.Logger, metrics *telemetry.Metrics) *Cache {
	return &Cache{
		cfg:     cfg,
		caller:  caller,
		mc:      mc,
		logger:  logger,
		metrics: metrics,
		store:   ttlcache.New[*domain.PairReserves](),
	}
}

// GetPairReserves returns cached or freshly-loaded reserves for
// (venue, tokenIn, tokenOut), in the pair's own token0/token1 order;
// callers orient them with PairReserves.MapReserves. A nil *PairReserves
// is a live negative-cache hit, not an error.
func (c *Cache) GetPairReserves(ctx context.Context, venue domain.Venue, tokenIn, tokenOut common.Address) (*domain.PairReserves, error) {
	leg := Leg{Venue: venue, A: tokenIn, B: tokenOut}
	key := leg.key()

	if v, ok := c.store.Get(key); ok {
		c.metrics.CacheHits.WithLabelValues("reserves").Inc()
		return v, nil
	}
	c.metrics.CacheMisses.WithLabelValues("reserves").Inc()

	if c.mc != nil {
		if reserves, ok := c.loadViaMulticall(ctx, leg); ok {
			c.store.Set(key, reserves, c.cfg.CacheTTL.Reserves)
			return reserves, nil
		}
	}

	reserves, err := c.loadViaEndpoints(ctx, leg)
	if err != nil {
		return nil, err
	}
	c.store.Set(key, reserves, c.cfg.CacheTTL.Reserves)
	return reserves, nil
}

// Peek reports whether (venue, tokenIn, tokenOut) is already cached,
// without triggering a load. Used by the orchestrator's pre-scoring
// pass (spec §4.10 step 4's "per already-cached CPMM leg" bonus) to
// prefer candidates whose reserves are already warm.
func (c *Cache) Peek(venue domain.Venue, tokenIn, tokenOut common.Address) bool {
	_, ok := c.store.Get(Leg{Venue: venue, A: tokenIn, B: tokenOut}.key())
	return ok
}

// loadViaMulticall batches getPair + token0/token1/getReserves for one
// leg into a single multicall execution. ok is false if anything about
// the batch failed to decode, in which case the caller should fall back.
func (c *Cache) loadViaMulticall(ctx context.Context, leg Leg) (*domain.PairReserves, bool) {
	packedPair, err := evmabi.PackGetPair(leg.factory(c.cfg), leg.A, leg.B)
	if err != nil {
		return nil, false
	}

	results, err := c.mc.Execute(ctx, []multicall.Call{{Target: leg.factory(c.cfg), CallData: packedPair}})
	if err != nil || len(results) != 1 || !results[0].Success {
		return nil, false
	}
	pair, err := evmabi.DecodeAddress("getPair", results[0].ReturnData)
	if err != nil {
		return nil, false
	}
	if pair == (common.Address{}) {
		return nil, true // resolved: genuinely no pair, a valid negative cache entry
	}

	p0, err := evmabi.PackToken0()
	if err != nil {
		return nil, false
	}
	p1, err := evmabi.PackToken1()
	if err != nil {
		return nil, false
	}
	pr, err := evmabi.PackGetReserves()
	if err != nil {
		return nil, false
	}

	dataResults, err := c.mc.Execute(ctx, []multicall.Call{
		{Target: pair, CallData: p0},
		{Target: pair, CallData: p1},
		{Target: pair, CallData: pr},
	})
	if err != nil || len(dataResults) != 3 || !dataResults[0].Success || !dataResults[1].Success || !dataResults[2].Success {
		return nil, false
	}

	token0, err := evmabi.DecodeAddress("token0", dataResults[0].ReturnData)
	if err != nil {
		return nil, false
	}
	token1, err := evmabi.DecodeAddress("token1", dataResults[1].ReturnData)
	if err != nil {
		return nil, false
	}
	r0, r1, err := evmabi.DecodeReserves(dataResults[2].ReturnData)
	if err != nil {
		return nil, false
	}

	return &domain.PairReserves{Pool: pair, Token0: token0, Token1: token1, Reserve0: r0, Reserve1: r1}, true
}

// pairField is the result of one of the three concurrent per-endpoint
// reads loadViaEndpoints fans out: token is set for the token0/token1
// jobs, reserve0/reserve1 for the getReserves job.
type pairField struct {
	token    common.Address
	reserve0 *big.Int
	reserve1 *big.Int
}

// loadViaEndpoints resolves factory.getPair, then token0/token1/
// getReserves concurrently via individual reads, each under the
// per-call timeout baked into evmabi.Caller's context.
func (c *Cache) loadViaEndpoints(ctx context.Context, leg Leg) (*domain.PairReserves, error) {
	pair, err := evmabi.GetPair(ctx, c.caller, leg.factory(c.cfg), leg.A, leg.B)
	if err != nil {
		return nil, err
	}
	if pair == (common.Address{}) {
		return nil, nil
	}

	jobs := []workerpool.Job[pairField]{
		{Task: func(ctx context.Context) (pairField, error) {
			addr, err := evmabi.Token0(ctx, c.caller, pair)
			return pairField{token: addr}, err
		}},
		{Task: func(ctx context.Context) (pairField, error) {
			addr, err := evmabi.Token1(ctx, c.caller, pair)
			return pairField{token: addr}, err
		}},
		{Task: func(ctx context.Context) (pairField, error) {
			r0, r1, err := evmabi.GetReserves(ctx, c.caller, pair)
			return pairField{reserve0: r0, reserve1: r1}, err
		}},
	}
	results := workerpool.Run(ctx, 3, jobs)

	for _, r := range results {
		if r.TimedOut || r.Err != nil {
			return nil, nil
		}
	}

	return &domain.PairReserves{
		Pool:     pair,
		Token0:   results[0].Result.token,
		Token1:   results[1].Result.token,
		Reserve0: results[2].Result.reserve0,
		Reserve1: results[2].Result.reserve1,
	}, nil
}

// Prewarm resolves every leg in legs in at most two multicall round
// trips (batch 1: getPair; batch 2: token0/token1/getReserves for every
// pair batch 1 resolved), then falls through to per-endpoint reads for
// whatever multicall left unresolved, bounded by deadline. Legs already
// cached are skipped. If fewer than rpcFallbackThreshold remains before
// deadline, the per-endpoint fallback is skipped entirely and those legs
// are simply left uncached for this quote.
func (c *Cache) Prewarm(ctx context.Context, legs []Leg, deadline time.Time) {
	pending := make([]Leg, 0, len(legs))
	for _, leg := range legs {
		if _, ok := c.store.Get(leg.key()); !ok {
			pending = append(pending, leg)
		}
	}
	if len(pending) == 0 {
		return
	}

	unresolved := pending
	if c.mc != nil {
		unresolved = c.prewarmMulticall(ctx, pending)
	}
	if len(unresolved) == 0 {
		return
	}

	if time.Until(deadline) < rpcFallbackThreshold {
		c.logger.Warn("reservecache: skipping per-endpoint prewarm fallback, budget exhausted")
		return
	}

	jobs := make([]workerpool.Job[struct{}], len(unresolved))
	for i, leg := range unresolved {
		leg := leg
		jobs[i] = workerpool.Job[struct{}]{Task: func(ctx context.Context) (struct{}, error) {
			reserves, err := c.loadViaEndpoints(ctx, leg)
			if err == nil {
				c.store.Set(leg.key(), reserves, c.cfg.CacheTTL.Reserves)
			}
			return struct{}{}, err
		}}
	}
	workerpool.Run(ctx, c.cfg.QuoteEvaluation.Concurrency, jobs)
}

// prewarmMulticall runs the two-stage batch and returns the legs it
// could not resolve (pair lookup or pair-data batch failure).
func (c *Cache) prewarmMulticall(ctx context.Context, legs []Leg) []Leg {
	pairCalls := make([]multicall.Call, len(legs))
	for i, leg := range legs {
		packed, err := evmabi.PackGetPair(leg.factory(c.cfg), leg.A, leg.B)
		if err != nil {
			return legs
		}
		pairCalls[i] = multicall.Call{Target: leg.factory(c.cfg), CallData: packed}
	}

	pairResults, err := c.mc.Execute(ctx, pairCalls)
	if err != nil || len(pairResults) != len(legs) {
		return legs
	}

	type resolved struct {
		leg  Leg
		pair common.Address
	}
	var toFetch []resolved
	var unresolved []Leg

	for i, leg := range legs {
		if !pairResults[i].Success {
			unresolved = append(unresolved, leg)
			continue
		}
		pair, err := evmabi.DecodeAddress("getPair", pairResults[i].ReturnData)
		if err != nil {
			unresolved = append(unresolved, leg)
			continue
		}
		if pair == (common.Address{}) {
			c.store.Set(leg.key(), nil, c.cfg.CacheTTL.Reserves)
			continue
		}
		toFetch = append(toFetch, resolved{leg: leg, pair: pair})
	}

	if len(toFetch) == 0 {
		return unresolved
	}

	p0, err0 := evmabi.PackToken0()
	p1, err1 := evmabi.PackToken1()
	pr, err2 := evmabi.PackGetReserves()
	if err0 != nil || err1 != nil || err2 != nil {
		for _, r := range toFetch {
			unresolved = append(unresolved, r.leg)
		}
		return unresolved
	}

	dataCalls := make([]multicall.Call, 0, len(toFetch)*3)
	for _, r := range toFetch {
		dataCalls = append(dataCalls,
			multicall.Call{Target: r.pair, CallData: p0},
			multicall.Call{Target: r.pair, CallData: p1},
			multicall.Call{Target: r.pair, CallData: pr},
		)
	}

	dataResults, err := c.mc.Execute(ctx, dataCalls)
	if err != nil || len(dataResults) != len(dataCalls) {
		for _, r := range toFetch {
			unresolved = append(unresolved, r.leg)
		}
		return unresolved
	}

	for i, r := range toFetch {
		t0res, t1res, rres := dataResults[i*3], dataResults[i*3+1], dataResults[i*3+2]
		if !t0res.Success || !t1res.Success || !rres.Success {
			unresolved = append(unresolved, r.leg)
			continue
		}
		token0, err := evmabi.DecodeAddress("token0", t0res.ReturnData)
		if err != nil {
			unresolved = append(unresolved, r.leg)
			continue
		}
		token1, err := evmabi.DecodeAddress("token1", t1res.ReturnData)
		if err != nil {
			unresolved = append(unresolved, r.leg)
			continue
		}
		reserve0, reserve1, err := evmabi.DecodeReserves(rres.ReturnData)
		if err != nil {
			unresolved = append(unresolved, r.leg)
			continue
		}

		c.store.Set(r.leg.key(), &domain.PairReserves{
			Pool: r.pair, Token0: token0, Token1: token1, Reserve0: reserve0, Reserve1: reserve1,
		}, c.cfg.CacheTTL.Reserves)
	}

	return unresolved
}
