// Package simulator implements spec §4.8: running one route candidate
// leg by leg against current reserves/stable quotes to produce a
// SimulatedRoute, aborting on the first leg that can't produce a
// positive output.
package simulator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/plsx-router/quoteengine/internal/cpmm"
	"github.com/plsx-router/quoteengine/internal/domain"
	"github.com/plsx-router/quoteengine/internal/reservecache"
	"github.com/plsx-router/quoteengine/internal/stableswap"
)

// ReserveSource resolves CPMM reserves, narrowed to what the simulator
// needs from *reservecache.Cache.
type ReserveSource interface {
	GetPairReserves(ctx context.Context, venue domain.Venue, tokenIn, tokenOut common.Address) (*domain.PairReserves, error)
}

// StableQuoter resolves stable-pool quotes, narrowed to what the
// simulator needs from *stableswap.Quoter.
type StableQuoter interface {
	QuoteByIndices(ctx context.Context, i, j uint8, amount *big.Int) (*big.Int, error)
	QuoteByAddresses(ctx context.Context, tokenIn, tokenOut common.Address, amount *big.Int) (*big.Int, error)
}

var _ ReserveSource = (*reservecache.Cache)(nil)
var _ StableQuoter = (*stableswap.Quoter)(nil)

// Simulator runs route candidates against live reserves/stable quotes.
type Simulator struct {
	cfg      domain.Config
	reserves ReserveSource
	stable   StableQuoter
}

// New constructs a Simulator. stable may be nil when stable routing is
// disabled; candidates with a STABLE leg then always fail to simulate.
func New(cfg domain.Config, reserves ReserveSource, stable StableQuoter) *Simulator {
	return &Simulator{cfg: cfg, reserves: reserves, stable: stable}
}

// SimulateRoute runs candidate leg by leg starting from amountIn. A nil
// result with a nil error means the route produced no usable output
// (e.g. empty reserves, negative stable quote) — this is not itself an
// error condition, the caller simply discards the candidate.
func (s *Simulator) SimulateRoute(ctx context.Context, candidate domain.RouteCandidate, amountIn *big.Int) (*domain.SimulatedRoute, error) {
	cursor := amountIn
	legs := make([]domain.LegSummary, 0, len(candidate.Legs))

	for _, leg := range candidate.Legs {
		var (
			out     *big.Int
			summary domain.LegSummary
			err     error
		)

		switch leg.Venue {
		case domain.VenueStable:
			out, summary, err = s.simulateStableLeg(ctx, leg, cursor)
		case domain.VenueCPMMV1, domain.VenueCPMMV2:
			out, summary, err = s.simulateCPMMLeg(ctx, leg, cursor)
		default:
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}

		cursor = out
		legs = append(legs, summary)
	}

	return &domain.SimulatedRoute{
		Candidate: candidate,
		AmountIn:  amountIn,
		AmountOut: cursor,
		Legs:      legs,
	}, nil
}

// simulateStableLeg decodes leg indices if the candidate carries them
// (set by a prior enumeration pass), otherwise resolves them through
// the stable quoter's index map.
func (s *Simulator) simulateStableLeg(ctx context.Context, leg domain.RouteLeg, amountIn *big.Int) (*big.Int, domain.LegSummary, error) {
	if s.stable == nil {
		return nil, domain.LegSummary{}, nil
	}

	var out *big.Int
	var err error

	if i, j, ok := domain.DecodeStableLegData(leg.LegData); ok {
		out, err = s.stable.QuoteByIndices(ctx, i, j, amountIn)
	} else {
		out, err = s.stable.QuoteByAddresses(ctx, leg.TokenIn, leg.TokenOut, amountIn)
	}
	if err != nil {
		return nil, domain.LegSummary{}, err
	}
	if out == nil || out.Sign() <= 0 {
		return nil, domain.LegSummary{}, nil
	}

	summary := domain.LegSummary{
		Venue:    domain.VenueStable,
		TokenIn:  leg.TokenIn,
		TokenOut: leg.TokenOut,
		Pool:     s.cfg.StablePool,
		LegData:  leg.LegData,
	}
	return out, summary, nil
}

// simulateCPMMLeg fetches current reserves, orients them onto the leg's
// direction, and applies the CPMM formula with the venue's fee.
func (s *Simulator) simulateCPMMLeg(ctx context.Context, leg domain.RouteLeg, amountIn *big.Int) (*big.Int, domain.LegSummary, error) {
	reserves, err := s.reserves.GetPairReserves(ctx, leg.Venue, leg.TokenIn, leg.TokenOut)
	if err != nil {
		return nil, domain.LegSummary{}, err
	}
	if reserves == nil {
		return nil, domain.LegSummary{}, nil
	}

	reserveIn, reserveOut, ok := reserves.MapReserves(leg.TokenIn, leg.TokenOut)
	if !ok || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, domain.LegSummary{}, nil
	}

	out, err := cpmm.AmountOut(amountIn, reserveIn, reserveOut, s.cfg.FeeBps(leg.Venue))
	if err != nil {
		return nil, domain.LegSummary{}, err
	}
	if out.Sign() <= 0 {
		return nil, domain.LegSummary{}, nil
	}

	summary := domain.LegSummary{
		Venue:    leg.Venue,
		TokenIn:  leg.TokenIn,
		TokenOut: leg.TokenOut,
		Pool:     reserves.Pool,
		LegData:  nil,
	}
	return out, summary, nil
}
