package ranker

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plsx-router/quoteengine/internal/domain"
)

var (
	wpls = common.HexToAddress("0x1")
	usdc = common.HexToAddress("0x2")
	usdt = common.HexToAddress("0x3")
	plsx = common.HexToAddress("0x4")
)

func baseConfig() domain.Config {
	return domain.Config{StableTokens: []common.Address{usdc, usdt}}
}

func route(venue domain.Venue, tokenIn, tokenOut common.Address, amountOut int64) domain.SimulatedRoute {
	leg := domain.RouteLeg{Venue: venue, TokenIn: tokenIn, TokenOut: tokenOut}
	candidate := domain.NewRouteCandidate([]domain.RouteLeg{leg}, []common.Address{tokenIn, tokenOut})
	return domain.SimulatedRoute{
		Candidate: candidate,
		AmountOut: big.NewInt(amountOut),
		Legs:      []domain.LegSummary{{Venue: venue, TokenIn: tokenIn, TokenOut: tokenOut}},
	}
}

func multiLegRoute(amountOut int64) domain.SimulatedRoute {
	legs := []domain.RouteLeg{
		{Venue: domain.VenueCPMMV2, TokenIn: plsx, TokenOut: wpls},
		{Venue: domain.VenueCPMMV2, TokenIn: wpls, TokenOut: usdc},
	}
	candidate := domain.NewRouteCandidate(legs, []common.Address{plsx, wpls, usdc})
	return domain.SimulatedRoute{Candidate: candidate, AmountOut: big.NewInt(amountOut)}
}

func TestRank_HigherAmountOutWins(t *testing.T) {
	routes := []domain.SimulatedRoute{
		route(domain.VenueCPMMV1, plsx, wpls, 100),
		route(domain.VenueCPMMV2, plsx, wpls, 200),
	}
	ranked := Rank(baseConfig(), routes)
	require.Len(t, ranked, 2)
	assert.Equal(t, int64(200), ranked[0].AmountOut.Int64())
}

func TestRank_TieBreaksOnFewerLegs(t *testing.T) {
	single := route(domain.VenueCPMMV2, plsx, usdc, 100)
	multi := multiLegRoute(100)
	ranked := Rank(baseConfig(), []domain.SimulatedRoute{multi, single})
	assert.Equal(t, single.Candidate.ID(), ranked[0].Candidate.ID())
}

func TestRank_StableVsCPMMTieBothEndpointsStable(t *testing.T) {
	stable := route(domain.VenueStable, usdc, usdt, 1000)
	cpmm := route(domain.VenueCPMMV2, usdc, usdt, 1000)
	ranked := Rank(baseConfig(), []domain.SimulatedRoute{cpmm, stable})
	assert.Equal(t, domain.VenueStable, ranked[0].Candidate.Legs[0].Venue)
}

func TestRank_StableTieBreakIgnoredWhenEndpointsNotBothStable(t *testing.T) {
	stable := route(domain.VenueStable, wpls, usdc, 1000)
	cpmm := route(domain.VenueCPMMV2, wpls, usdc, 1000)
	ranked := Rank(baseConfig(), []domain.SimulatedRoute{cpmm, stable})
	// Neither endpoint pair is both-stable (wpls isn't a stable token), so
	// tiebreak falls through to lexicographic candidate id.
	expected := cpmm.Candidate.ID()
	if stable.Candidate.ID() < expected {
		expected = stable.Candidate.ID()
	}
	assert.Equal(t, expected, ranked[0].Candidate.ID())
}

func TestRank_TruncatesToTopK(t *testing.T) {
	routes := make([]domain.SimulatedRoute, 0, 5)
	for i := int64(1); i <= 5; i++ {
		routes = append(routes, route(domain.VenueCPMMV2, plsx, wpls, i*100))
	}
	ranked := Rank(baseConfig(), routes)
	assert.Len(t, ranked, TopK)
	assert.Equal(t, int64(500), ranked[0].AmountOut.Int64())
}

// fakeSimulator maps a candidate id to a linear amountOut(amountIn)
// function so split search has a deterministic surface to search over.
type fakeSimulator struct {
	fns   map[string]func(*big.Int) *big.Int
	calls int
}

func (f *fakeSimulator) SimulateRoute(ctx context.Context, candidate domain.RouteCandidate, amountIn *big.Int) (*domain.SimulatedRoute, error) {
	f.calls++
	fn, ok := f.fns[candidate.ID()]
	if !ok {
		return nil, nil
	}
	out := fn(amountIn)
	if out == nil || out.Sign() <= 0 {
		return nil, nil
	}
	return &domain.SimulatedRoute{Candidate: candidate, AmountOut: out}, nil
}

func TestFindSplit_DisabledReturnsNil(t *testing.T) {
	cfg := domain.SplitConfig{Enabled: false}
	ranked := []domain.SimulatedRoute{route(domain.VenueCPMMV1, plsx, wpls, 100), route(domain.VenueCPMMV2, plsx, wpls, 90)}
	got, err := FindSplit(context.Background(), cfg, &fakeSimulator{}, ranked, big.NewInt(10000), 1000)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindSplit_BelowMinUSDValueReturnsNil(t *testing.T) {
	cfg := domain.SplitConfig{Enabled: true, MinInputUSDValue: 500, WeightsBps: []int64{5000}}
	ranked := []domain.SimulatedRoute{route(domain.VenueCPMMV1, plsx, wpls, 100), route(domain.VenueCPMMV2, plsx, wpls, 90)}
	got, err := FindSplit(context.Background(), cfg, &fakeSimulator{}, ranked, big.NewInt(10000), 100)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindSplit_SplitBeatsSingle(t *testing.T) {
	routeA := route(domain.VenueCPMMV1, plsx, wpls, 10000)
	routeB := route(domain.VenueCPMMV2, plsx, wpls, 9000)

	sim := &fakeSimulator{fns: map[string]func(*big.Int) *big.Int{
		routeA.Candidate.ID(): func(in *big.Int) *big.Int { return new(big.Int).Set(in) },
		routeB.Candidate.ID(): func(in *big.Int) *big.Int {
			switch in.Int64() {
			case 5000:
				return big.NewInt(5200)
			case 10000:
				return big.NewInt(9700)
			default:
				return big.NewInt(0)
			}
		},
	}}

	cfg := domain.SplitConfig{
		Enabled:           true,
		WeightsBps:        []int64{5000},
		MinImprovementBps: 0,
	}
	ranked := []domain.SimulatedRoute{routeA, routeB}

	got, err := FindSplit(context.Background(), cfg, sim, ranked, big.NewInt(10000), 1000)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(10200), got.TotalAmountOut.Int64())
	assert.Equal(t, int64(5000), got.ShareBpsA)
	assert.Equal(t, int64(5000), got.ShareBpsB)
}

func TestFindSplit_RejectsWhenImprovementBelowThreshold(t *testing.T) {
	routeA := route(domain.VenueCPMMV1, plsx, wpls, 10000)
	routeB := route(domain.VenueCPMMV2, plsx, wpls, 9000)

	sim := &fakeSimulator{fns: map[string]func(*big.Int) *big.Int{
		routeA.Candidate.ID(): func(in *big.Int) *big.Int { return new(big.Int).Set(in) },
		routeB.Candidate.ID(): func(in *big.Int) *big.Int { return big.NewInt(1) },
	}}

	cfg := domain.SplitConfig{
		Enabled:           true,
		WeightsBps:        []int64{5000},
		MinImprovementBps: 10_000, // impossibly high bar
	}
	ranked := []domain.SimulatedRoute{routeA, routeB}

	got, err := FindSplit(context.Background(), cfg, sim, ranked, big.NewInt(10000), 1000)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindSplit_MemoizesEqualPartitions(t *testing.T) {
	routeA := route(domain.VenueCPMMV1, plsx, wpls, 10000)
	routeB := route(domain.VenueCPMMV2, plsx, usdc, 9000)
	routeC := route(domain.VenueStable, usdc, usdt, 8000)

	sim := &fakeSimulator{fns: map[string]func(*big.Int) *big.Int{
		routeA.Candidate.ID(): func(in *big.Int) *big.Int { return new(big.Int).Set(in) },
		routeB.Candidate.ID(): func(in *big.Int) *big.Int { return new(big.Int).Set(in) },
		routeC.Candidate.ID(): func(in *big.Int) *big.Int { return new(big.Int).Set(in) },
	}}

	cfg := domain.SplitConfig{
		Enabled:           true,
		WeightsBps:        []int64{5000},
		MinImprovementBps: 0,
	}
	ranked := []domain.SimulatedRoute{routeA, routeB, routeC}

	_, err := FindSplit(context.Background(), cfg, sim, ranked, big.NewInt(10000), 1000)
	require.NoError(t, err)
	// 3 pairs x 1 weight x 2 routes = 6 simulations if unmemoized; the
	// 5000-bps partition (5000 in, 5000 in) recurs across pairs sharing a
	// route, so memoization should cut the call count below the naive 6.
	assert.Less(t, sim.calls, 6)
}

func TestFindSplit_NoAmountOutReturnsNil(t *testing.T) {
	routeA := route(domain.VenueCPMMV1, plsx, wpls, 0)
	routeB := route(domain.VenueCPMMV2, plsx, wpls, 0)
	ranked := []domain.SimulatedRoute{routeA, routeB}
	cfg := domain.SplitConfig{Enabled: true, WeightsBps: []int64{5000}}
	got, err := FindSplit(context.Background(), cfg, &fakeSimulator{}, ranked, big.NewInt(10000), 1000)
	require.NoError(t, err)
	assert.Nil(t, got)
}
