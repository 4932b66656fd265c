// Package orchestrator implements spec §4.10: the end-to-end quote
// algorithm stitching together enumeration, reserve prewarming,
// simulation, ranking, split search, and gas estimation for one
// request.
package orchestrator

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/plsx-router/quoteengine/internal/domain"
	"github.com/plsx-router/quoteengine/internal/ranker"
	"github.com/plsx-router/quoteengine/internal/reservecache"
	"github.com/plsx-router/quoteengine/internal/routeenum"
	"github.com/plsx-router/quoteengine/internal/telemetry"
	"github.com/plsx-router/quoteengine/internal/workerpool"
)

// executionDeadline is spec §6.3's fixed on-chain execution deadline:
// issue time plus 600 seconds, independent of the engine's internal
// evaluation budget.
const executionDeadline = 600 * time.Second

// ReserveCache is the subset of *reservecache.Cache the orchestrator
// needs: bulk prewarming ahead of simulation and a cache peek for
// pre-scoring candidates (spec §4.10 step 4's "already-cached" bonus).
type ReserveCache interface {
	Prewarm(ctx context.Context, legs []reservecache.Leg, deadline time.Time)
	Peek(venue domain.Venue, tokenIn, tokenOut common.Address) bool
}

// StableIndexLoader resolves the stable pool's address→coin-index map,
// narrowed to what's needed from *stableswap.Quoter.
type StableIndexLoader interface {
	LoadIndexMap(ctx context.Context) (map[common.Address]uint8, error)
}

// RouteSimulator runs one candidate at one input amount, narrowed to
// what's needed from *simulator.Simulator (and reused directly as
// ranker.RouteSimulator for split search).
type RouteSimulator interface {
	SimulateRoute(ctx context.Context, candidate domain.RouteCandidate, amountIn *big.Int) (*domain.SimulatedRoute, error)
}

// PriceOracle resolves USD prices and ERC20 decimals, narrowed to what's
// needed from *priceoracle.Oracle.
type PriceOracle interface {
	NativePriceUSD(ctx context.Context) (*big.Float, error)
	TokenPriceUSD(ctx context.Context, addr common.Address) (*big.Float, error)
	Decimals(ctx context.Context, addr common.Address) (uint8, error)
}

// GasClient is the subset of rpcpool.RPCClient the gas estimator needs.
type GasClient interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Orchestrator runs spec §4.10's end-to-end algorithm for one request.
type Orchestrator struct {
	cfg      domain.Config
	reserves ReserveCache
	stable   StableIndexLoader // nil disables stable routing entirely
	sim      RouteSimulator
	prices   PriceOracle
	gas      GasClient

	logger  telemetry.Logger
	metrics *telemetry.Metrics
}

// New constructs an Orchestrator. stable may be nil when the deployment
// has no stable pool configured.
func New(cfg domain.Config, reserves ReserveCache, stable StableIndexLoader, sim RouteSimulator, prices PriceOracle, gas GasClient, logger telemetry.Logger, metrics *telemetry.Metrics) *Orchestrator {
	return &Orchestrator{cfg: cfg, reserves: reserves, stable: stable, sim: sim, prices: prices, gas: gas, logger: logger, metrics: metrics}
}

// Quote runs the full pipeline for req and assembles a QuoteResult.
func (o *Orchestrator) Quote(ctx context.Context, req domain.QuoteRequest) (*domain.QuoteResult, error) {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return nil, domain.ErrAmountNonPositive
	}

	tokenIn, tokenOut := o.normalize(req)

	indexMap := o.loadStableIndexMap(ctx)

	candidates := routeenum.Enumerate(o.cfg, tokenIn, tokenOut, indexMap)
	if len(candidates) == 0 {
		return nil, domain.ErrNoCandidates
	}
	hasStableCandidates := anyStableLeg(candidates)

	candidates = o.preScoreAndSort(candidates)
	candidates = o.truncate(candidates, hasStableCandidates)

	deadline := time.Now().Add(o.cfg.QuoteEvaluation.TotalBudgetMs)
	o.reserves.Prewarm(ctx, cpmmLegs(candidates), deadline)

	simulated := o.evaluate(ctx, candidates, req.AmountIn, deadline)
	if len(simulated) == 0 {
		if fallback := o.directFallback(ctx, tokenIn, tokenOut, req.AmountIn, deadline); fallback != nil {
			simulated = []domain.SimulatedRoute{*fallback}
		}
	}
	if len(simulated) == 0 {
		return nil, domain.ErrNoValidRoutes
	}

	ranked := ranker.Rank(o.cfg, simulated)
	best := ranked[0]

	result := &domain.QuoteResult{
		Request:        req,
		TotalAmountOut: best.AmountOut,
		SingleRoute:    &best,
		Router:         o.routerFor(best.Candidate),
	}

	if split := o.trySplit(ctx, ranked, req); split != nil {
		result.SingleRoute = nil
		result.TotalAmountOut = split.TotalAmountOut
		result.SplitRoutes = []domain.SplitLeg{
			{Route: split.A, ShareBps: split.ShareBpsA, AmountIn: split.AmountInA, AmountOut: split.A.AmountOut},
			{Route: split.B, ShareBps: split.ShareBpsB, AmountIn: split.AmountInB, AmountOut: split.B.AmountOut},
		}
		o.metrics.SplitAccepted.Inc()
	}

	result.Route = o.combinedRoute(result)
	result.MinAmountOut = domain.MinAmountOutFromSlippage(result.TotalAmountOut, req.SlippageBps())
	result.Deadline = time.Now().Add(executionDeadline)
	result.Gas = o.estimateGas(ctx, result)

	return result, nil
}

func (o *Orchestrator) normalize(req domain.QuoteRequest) (tokenIn, tokenOut common.Address) {
	tokenIn, tokenOut = req.TokenIn, req.TokenOut
	if req.TokenInNative {
		tokenIn = o.cfg.WrappedNative
	}
	if req.TokenOutNative {
		tokenOut = o.cfg.WrappedNative
	}
	return tokenIn, tokenOut
}

// loadStableIndexMap is best-effort: a load failure (or stable routing
// being disabled outright) just means no stable candidates are offered,
// not a failed quote (spec §4.10 step 2).
func (o *Orchestrator) loadStableIndexMap(ctx context.Context) map[common.Address]uint8 {
	if !o.cfg.StableRouting.Enabled || o.stable == nil {
		return nil
	}
	m, err := o.stable.LoadIndexMap(ctx)
	if err != nil {
		o.logger.Warn("orchestrator: stable index map unavailable, proceeding without stable candidates")
		return nil
	}
	return m
}

func anyStableLeg(candidates []domain.RouteCandidate) bool {
	for _, c := range candidates {
		if c.CountVenue(domain.VenueStable) > 0 {
			return true
		}
	}
	return false
}

// preScoreAndSort implements spec §4.10 step 4's heuristic ordering,
// used only to decide which candidates survive truncation -- it has no
// bearing on the post-simulation ranking in §4.9.
func (o *Orchestrator) preScoreAndSort(candidates []domain.RouteCandidate) []domain.RouteCandidate {
	type scored struct {
		candidate domain.RouteCandidate
		score     int
	}

	core := make(map[common.Address]bool, 3)
	for _, c := range o.cfg.CoreConnectors() {
		core[c] = true
	}

	out := make([]scored, len(candidates))
	for i, c := range candidates {
		score := 1000
		score -= 50 * c.Hops()
		score -= 25 * c.CountVenue(domain.VenueCPMMV1)
		score += 10 * c.CountVenue(domain.VenueStable)

		for _, node := range intermediateNodes(c) {
			if core[node] {
				score += 15
			}
		}

		for _, leg := range c.Legs {
			if leg.Venue != domain.VenueStable && o.reserves.Peek(leg.Venue, leg.TokenIn, leg.TokenOut) {
				score += 5
			}
		}

		out[i] = scored{candidate: c, score: score}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].candidate.ID() < out[j].candidate.ID()
	})

	result := make([]domain.RouteCandidate, len(out))
	for i, s := range out {
		result[i] = s.candidate
	}
	return result
}

func intermediateNodes(c domain.RouteCandidate) []common.Address {
	if len(c.NodePath) <= 2 {
		return nil
	}
	return c.NodePath[1 : len(c.NodePath)-1]
}

// truncate keeps at most MaxRoutes candidates (already sorted best
// first), but guarantees at least one stable candidate survives when
// hasStableCandidates is true by swapping the best omitted stable
// candidate into the last non-stable slot (spec §4.10 step 5).
func (o *Orchestrator) truncate(candidates []domain.RouteCandidate, hasStableCandidates bool) []domain.RouteCandidate {
	maxRoutes := o.cfg.QuoteEvaluation.MaxRoutes
	if maxRoutes <= 0 || len(candidates) <= maxRoutes {
		return candidates
	}

	kept := append([]domain.RouteCandidate{}, candidates[:maxRoutes]...)
	if !hasStableCandidates {
		return kept
	}

	for _, c := range kept {
		if c.CountVenue(domain.VenueStable) > 0 {
			return kept
		}
	}

	for _, c := range candidates[maxRoutes:] {
		if c.CountVenue(domain.VenueStable) > 0 {
			for i := len(kept) - 1; i >= 0; i-- {
				if kept[i].CountVenue(domain.VenueStable) == 0 {
					kept[i] = c
					return kept
				}
			}
			break
		}
	}
	return kept
}

func cpmmLegs(candidates []domain.RouteCandidate) []reservecache.Leg {
	seen := make(map[string]struct{})
	var out []reservecache.Leg
	for _, c := range candidates {
		for _, leg := range c.Legs {
			if leg.Venue == domain.VenueStable {
				continue
			}
			l := reservecache.Leg{Venue: leg.Venue, A: leg.TokenIn, B: leg.TokenOut}
			key := l.Venue.String() + ":" + l.A.Hex() + ":" + l.B.Hex()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, l)
		}
	}
	return out
}

// evaluate runs candidates through the simulator in bounded-concurrency
// batches, with a per-route timeout that shrinks as the total budget
// drains (spec §4.10 step 7). Candidates that time out or simulate to a
// nil/non-positive result are silently dropped.
func (o *Orchestrator) evaluate(ctx context.Context, candidates []domain.RouteCandidate, amountIn *big.Int, deadline time.Time) []domain.SimulatedRoute {
	baseTimeout := o.cfg.QuoteEvaluation.TimeoutMs

	jobs := make([]workerpool.Job[*domain.SimulatedRoute], len(candidates))
	for i, c := range candidates {
		c := c
		jobs[i] = workerpool.Job[*domain.SimulatedRoute]{
			Task: func(ctx context.Context) (*domain.SimulatedRoute, error) {
				timeout := routeTimeout(baseTimeout, time.Until(deadline))
				callCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				return o.sim.SimulateRoute(callCtx, c, amountIn)
			},
		}
	}

	results := workerpool.Run(ctx, o.cfg.QuoteEvaluation.Concurrency, jobs)

	out := make([]domain.SimulatedRoute, 0, len(results))
	for _, r := range results {
		if r.TimedOut || r.Err != nil || r.Result == nil {
			continue
		}
		if r.Result.AmountOut == nil || r.Result.AmountOut.Sign() <= 0 {
			continue
		}
		out = append(out, *r.Result)
	}
	return out
}

// routeTimeout implements spec §4.10 step 7's shrinking per-route
// timeout: min(baseTimeoutMs, max(200ms, remaining/2)).
func routeTimeout(base, remaining time.Duration) time.Duration {
	floor := remaining / 2
	if floor < 200*time.Millisecond {
		floor = 200 * time.Millisecond
	}
	if base < floor {
		return base
	}
	return floor
}

// directFallback implements spec §4.10 step 8: when zero candidates
// simulated successfully, retry with a minimal hand-built set of
// node-paths of length 2, or length 3 through a core connector, no
// stable legs, returning the first one that simulates successfully.
func (o *Orchestrator) directFallback(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, deadline time.Time) *domain.SimulatedRoute {
	var candidates []domain.RouteCandidate

	for _, venue := range []domain.Venue{domain.VenueCPMMV2, domain.VenueCPMMV1} {
		leg := domain.RouteLeg{Venue: venue, TokenIn: tokenIn, TokenOut: tokenOut}
		candidates = append(candidates, domain.NewRouteCandidate([]domain.RouteLeg{leg}, []common.Address{tokenIn, tokenOut}))
	}

	for _, connector := range o.cfg.CoreConnectors() {
		if connector == tokenIn || connector == tokenOut {
			continue
		}
		for _, v1 := range []domain.Venue{domain.VenueCPMMV2, domain.VenueCPMMV1} {
			for _, v2 := range []domain.Venue{domain.VenueCPMMV2, domain.VenueCPMMV1} {
				legs := []domain.RouteLeg{
					{Venue: v1, TokenIn: tokenIn, TokenOut: connector},
					{Venue: v2, TokenIn: connector, TokenOut: tokenOut},
				}
				candidates = append(candidates, domain.NewRouteCandidate(legs, []common.Address{tokenIn, connector, tokenOut}))
			}
		}
	}

	timeout := routeTimeout(o.cfg.QuoteEvaluation.TimeoutMs, time.Until(deadline))
	for _, c := range candidates {
		if time.Now().After(deadline) {
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := o.sim.SimulateRoute(callCtx, c, amountIn)
		cancel()
		if err != nil || result == nil || result.AmountOut == nil || result.AmountOut.Sign() <= 0 {
			continue
		}
		return result
	}
	return nil
}

func (o *Orchestrator) routerFor(c domain.RouteCandidate) common.Address {
	for _, leg := range c.Legs {
		if leg.Venue != domain.VenueStable {
			return o.cfg.Router(leg.Venue)
		}
	}
	return o.cfg.StablePool
}

// trySplit computes the request's input USD notional and, if split
// search is enabled and the notional clears MinInputUSDValue, searches
// for a better split via the ranker (spec §4.9/§4.10 step 9).
func (o *Orchestrator) trySplit(ctx context.Context, ranked []domain.SimulatedRoute, req domain.QuoteRequest) *ranker.SplitResult {
	if !o.cfg.Split.Enabled {
		return nil
	}

	usdValue, ok := o.inputUSDValue(ctx, req)
	if !ok {
		return nil
	}

	split, err := ranker.FindSplit(ctx, o.cfg.Split, o.sim, ranked, req.AmountIn, usdValue)
	if err != nil {
		o.logger.Warn("orchestrator: split search failed, keeping single route")
		return nil
	}
	return split
}

func (o *Orchestrator) inputUSDValue(ctx context.Context, req domain.QuoteRequest) (float64, bool) {
	tokenIn, _ := o.normalize(req)

	price, err := o.prices.TokenPriceUSD(ctx, tokenIn)
	if err != nil {
		return 0, false
	}
	decimals, err := o.prices.Decimals(ctx, tokenIn)
	if err != nil {
		return 0, false
	}

	amountFloat := new(big.Float).SetInt(req.AmountIn)
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	whole := new(big.Float).Quo(amountFloat, divisor)

	usd := new(big.Float).Mul(whole, price)
	f, _ := usd.Float64()
	return f, true
}

// estimateGas implements spec §4.10 step 10. If no gas price can be
// determined, it returns a zero-value, OK=false estimate; if the native
// USD price is unavailable, Units and NativeWei are still filled in and
// OK is false. The quote itself is returned either way rather than
// failing outright.
func (o *Orchestrator) estimateGas(ctx context.Context, result *domain.QuoteResult) domain.GasEstimate {
	legCount := legCountOf(result)
	units := o.cfg.Gas.BaseUnits + uint64(legCount)*o.cfg.Gas.PerLegUnits

	price, err := o.gasFeeWei(ctx)
	if err != nil {
		return domain.GasEstimate{}
	}

	nativeWei := new(big.Int).Mul(new(big.Int).SetUint64(units), price)

	nativePrice, err := o.prices.NativePriceUSD(ctx)
	if err != nil {
		return domain.GasEstimate{Units: units, NativeWei: nativeWei}
	}

	weiFloat := new(big.Float).SetInt(nativeWei)
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	nativeAmount := new(big.Float).Quo(weiFloat, divisor)
	usd := new(big.Float).Mul(nativeAmount, nativePrice)
	usdFloat, _ := usd.Float64()

	return domain.GasEstimate{Units: units, NativeWei: nativeWei, USD: usdFloat, OK: true}
}

// combinedRoute assembles spec §6.3's combined route: one swap group per
// branch, each carrying its share of the input and its ordered legs
// resolved to a display exchange name.
func (o *Orchestrator) combinedRoute(result *domain.QuoteResult) []domain.SwapGroup {
	if result.SingleRoute != nil {
		return []domain.SwapGroup{{
			PercentBps: 10_000,
			Legs:       o.legDescriptors(result.SingleRoute.Legs),
		}}
	}

	groups := make([]domain.SwapGroup, 0, len(result.SplitRoutes))
	for _, split := range result.SplitRoutes {
		groups = append(groups, domain.SwapGroup{
			PercentBps: split.ShareBps,
			Legs:       o.legDescriptors(split.Route.Legs),
		})
	}
	return groups
}

func (o *Orchestrator) legDescriptors(legs []domain.LegSummary) []domain.LegDescriptor {
	out := make([]domain.LegDescriptor, len(legs))
	for i, leg := range legs {
		out[i] = domain.LegDescriptor{
			TokenIn:      leg.TokenIn,
			TokenOut:     leg.TokenOut,
			Pool:         leg.Pool,
			ExchangeName: o.cfg.ExchangeNames[leg.Venue],
		}
	}
	return out
}

func legCountOf(result *domain.QuoteResult) int {
	if result.SingleRoute != nil {
		return len(result.SingleRoute.Candidate.Legs)
	}
	n := 0
	for _, leg := range result.SplitRoutes {
		n += len(leg.Route.Candidate.Legs)
	}
	return n
}

// gasFeeWei prefers gasPrice, else maxFeePerGas (from the latest
// header's base fee), else maxPriorityFeePerGas, else a 1 gwei default
// (spec §4.10 step 10).
func (o *Orchestrator) gasFeeWei(ctx context.Context) (*big.Int, error) {
	if price, err := o.gas.SuggestGasPrice(ctx); err == nil && price != nil {
		return price, nil
	}

	if header, err := o.gas.HeaderByNumber(ctx, nil); err == nil && header != nil && header.BaseFee != nil {
		if tip, err := o.gas.SuggestGasTipCap(ctx); err == nil && tip != nil {
			return new(big.Int).Add(header.BaseFee, tip), nil
		}
		return header.BaseFee, nil
	}

	if tip, err := o.gas.SuggestGasTipCap(ctx); err == nil && tip != nil {
		return tip, nil
	}

	return big.NewInt(1_000_000_000), nil // 1 gwei default
}
