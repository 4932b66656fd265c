package simulator

import (
	"context"
	"errors"
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
	plsx = common.HexToAddress("0x3")
	pool = common.HexToAddress("0xF00D")
)

type fakeReserves struct {
	byLeg map[string]*domain.PairReserves
	err   error
}

func legKey(v domain.Venue, a, b common.Address) string { return domain.ReserveCacheKey(v, a, b) }

func (f *fakeReserves) GetPairReserves(ctx context.Context, venue domain.Venue, tokenIn, tokenOut common.Address) (*domain.PairReserves, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byLeg[legKey(venue, tokenIn, tokenOut)], nil
}

type fakeStable struct {
	byIndices map[[2]uint8]*big.Int
	indexMap  map[common.Address]uint8
	err       error
}

func (f *fakeStable) QuoteByIndices(ctx context.Context, i, j uint8, amount *big.Int) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byIndices[[2]uint8{i, j}], nil
}

func (f *fakeStable) QuoteByAddresses(ctx context.Context, tokenIn, tokenOut common.Address, amount *big.Int) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	i, iok := f.indexMap[tokenIn]
	j, jok := f.indexMap[tokenOut]
	if !iok || !jok {
		return nil, domain.ErrStableTokenUnsupported
	}
	return f.QuoteByIndices(ctx, i, j, amount)
}

func baseConfig() domain.Config {
	return domain.Config{
		FeeBpsV1:   30,
		FeeBpsV2:   29,
		StablePool: pool,
	}
}

func candidate(legs ...domain.RouteLeg) domain.RouteCandidate {
	path := []common.Address{legs[0].TokenIn}
	for _, l := range legs {
		path = append(path, l.TokenOut)
	}
	return domain.NewRouteCandidate(legs, path)
}

func TestSimulateRoute_SingleCPMMLeg(t *testing.T) {
	reserves := &fakeReserves{byLeg: map[string]*domain.PairReserves{
		legKey(domain.VenueCPMMV2, plsx, wpls): {Token0: plsx, Token1: wpls, Reserve0: big.NewInt(1_000_000), Reserve1: big.NewInt(2_000_000)},
	}}
	sim := New(baseConfig(), reserves, nil)

	c := candidate(domain.RouteLeg{Venue: domain.VenueCPMMV2, TokenIn: plsx, TokenOut: wpls})
	got, err := sim.SimulateRoute(context.Background(), c, big.NewInt(10000))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.AmountOut.Sign() > 0)
	require.Len(t, got.Legs, 1)
	assert.Equal(t, domain.VenueCPMMV2, got.Legs[0].Venue)
}

func TestSimulateRoute_MultiLegChainsOutput(t *testing.T) {
	reserves := &fakeReserves{byLeg: map[string]*domain.PairReserves{
		legKey(domain.VenueCPMMV2, plsx, wpls): {Token0: plsx, Token1: wpls, Reserve0: big.NewInt(1_000_000), Reserve1: big.NewInt(2_000_000)},
		legKey(domain.VenueCPMMV2, wpls, usdc): {Token0: wpls, Token1: usdc, Reserve0: big.NewInt(2_000_000), Reserve1: big.NewInt(4_000_000)},
	}}
	sim := New(baseConfig(), reserves, nil)

	c := candidate(
		domain.RouteLeg{Venue: domain.VenueCPMMV2, TokenIn: plsx, TokenOut: wpls},
		domain.RouteLeg{Venue: domain.VenueCPMMV2, TokenIn: wpls, TokenOut: usdc},
	)
	got, err := sim.SimulateRoute(context.Background(), c, big.NewInt(10000))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Legs, 2)
}

func TestSimulateRoute_NilReservesAbortsWithNoError(t *testing.T) {
	reserves := &fakeReserves{byLeg: map[string]*domain.PairReserves{}} // no entry: nil reserves
	sim := New(baseConfig(), reserves, nil)

	c := candidate(domain.RouteLeg{Venue: domain.VenueCPMMV1, TokenIn: plsx, TokenOut: wpls})
	got, err := sim.SimulateRoute(context.Background(), c, big.NewInt(10000))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSimulateRoute_ReserveErrorPropagates(t *testing.T) {
	reserves := &fakeReserves{err: errors.New("rpc exhausted")}
	sim := New(baseConfig(), reserves, nil)

	c := candidate(domain.RouteLeg{Venue: domain.VenueCPMMV1, TokenIn: plsx, TokenOut: wpls})
	_, err := sim.SimulateRoute(context.Background(), c, big.NewInt(10000))
	assert.ErrorContains(t, err, "rpc exhausted")
}

func TestSimulateRoute_StableLegWithEncodedIndices(t *testing.T) {
	stable := &fakeStable{byIndices: map[[2]uint8]*big.Int{{0, 1}: big.NewInt(9990)}}
	sim := New(baseConfig(), &fakeReserves{}, stable)

	leg := domain.RouteLeg{Venue: domain.VenueStable, TokenIn: usdc, TokenOut: wpls, LegData: domain.StableLegData(0, 1)}
	c := candidate(leg)

	got, err := sim.SimulateRoute(context.Background(), c, big.NewInt(10000))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, big.NewInt(9990), got.AmountOut)
	assert.Equal(t, pool, got.Legs[0].Pool)
	assert.Equal(t, domain.StableLegData(0, 1), got.Legs[0].LegData)
}

func TestSimulateRoute_StableLegResolvesThroughAddressMap(t *testing.T) {
	stable := &fakeStable{
		indexMap:  map[common.Address]uint8{usdc: 0, wpls: 1},
		byIndices: map[[2]uint8]*big.Int{{0, 1}: big.NewInt(9990)},
	}
	sim := New(baseConfig(), &fakeReserves{}, stable)

	leg := domain.RouteLeg{Venue: domain.VenueStable, TokenIn: usdc, TokenOut: wpls}
	c := candidate(leg)

	got, err := sim.SimulateRoute(context.Background(), c, big.NewInt(10000))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, big.NewInt(9990), got.AmountOut)
}

func TestSimulateRoute_StableLegNonPositiveQuoteAbortsWithNoError(t *testing.T) {
	stable := &fakeStable{byIndices: map[[2]uint8]*big.Int{{0, 1}: big.NewInt(0)}}
	sim := New(baseConfig(), &fakeReserves{}, stable)

	leg := domain.RouteLeg{Venue: domain.VenueStable, TokenIn: usdc, TokenOut: wpls, LegData: domain.StableLegData(0, 1)}
	c := candidate(leg)

	got, err := sim.SimulateRoute(context.Background(), c, big.NewInt(10000))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSimulateRoute_NoStableQuoterConfiguredAbortsStableLeg(t *testing.T) {
	sim := New(baseConfig(), &fakeReserves{}, nil)

	leg := domain.RouteLeg{Venue: domain.VenueStable, TokenIn: usdc, TokenOut: wpls, LegData: domain.StableLegData(0, 1)}
	c := candidate(leg)

	got, err := sim.SimulateRoute(context.Background(), c, big.NewInt(10000))
	require.NoError(t, err)
	assert.Nil(t, got)
}
