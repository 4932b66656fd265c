// Package ranker implements spec §4.9: ordering simulated routes by the
// four-tier rule, keeping the top K, and searching pairwise splits
// across a configured set of weights.
package ranker

import (
	"context"
	"math/big"
	"sort"

	"github.com/plsx-router/quoteengine/internal/domain"
)

// TopK is the number of ranked candidates retained for split search.
const TopK = 3

const bps = int64(10_000)

// RouteSimulator resimulates a single candidate at an arbitrary input
// amount, narrowed to what split search needs from *simulator.Simulator.
type RouteSimulator interface {
	SimulateRoute(ctx context.Context, candidate domain.RouteCandidate, amountIn *big.Int) (*domain.SimulatedRoute, error)
}

// Rank orders routes by spec §4.9's four tiers and returns at most TopK
// of them. The input slice is not mutated.
func Rank(cfg domain.Config, routes []domain.SimulatedRoute) []domain.SimulatedRoute {
	ranked := make([]domain.SimulatedRoute, len(routes))
	copy(ranked, routes)

	sort.SliceStable(ranked, func(i, j int) bool {
		return less(cfg, ranked[i], ranked[j])
	})

	if len(ranked) > TopK {
		ranked = ranked[:TopK]
	}
	return ranked
}

// less reports whether a should sort before b (a ranks better).
func less(cfg domain.Config, a, b domain.SimulatedRoute) bool {
	cmp := a.AmountOut.Cmp(b.AmountOut)
	if cmp != 0 {
		return cmp > 0
	}

	hopsA, hopsB := len(a.Candidate.Legs), len(b.Candidate.Legs)
	if hopsA != hopsB {
		return hopsA < hopsB
	}

	if bothEndpointsStable(cfg, a.Candidate) {
		stableA := a.Candidate.CountVenue(domain.VenueStable)
		stableB := b.Candidate.CountVenue(domain.VenueStable)
		if stableA != stableB {
			return stableA > stableB
		}
	}

	return a.Candidate.ID() < b.Candidate.ID()
}

func bothEndpointsStable(cfg domain.Config, c domain.RouteCandidate) bool {
	return cfg.IsStable(c.TokenIn()) && cfg.IsStable(c.TokenOut())
}

// SplitResult is the accepted pairwise split, carrying enough to build
// the two domain.SplitLeg entries the orchestrator assembles into a
// QuoteResult.
type SplitResult struct {
	A, B           domain.SimulatedRoute
	AmountInA      *big.Int
	AmountInB      *big.Int
	ShareBpsA      int64
	ShareBpsB      int64
	TotalAmountOut *big.Int
}

// memo caches one route's resimulated output keyed by input amount, so
// that equal partitions across different (i, j, w) combinations are
// only simulated once per route.
type memo struct {
	sim   RouteSimulator
	cache map[string]map[string]*big.Int
}

func newMemo(sim RouteSimulator) *memo {
	return &memo{sim: sim, cache: make(map[string]map[string]*big.Int)}
}

func (m *memo) amountOut(ctx context.Context, route domain.SimulatedRoute, amountIn *big.Int) (*big.Int, error) {
	id := route.Candidate.ID()
	key := amountIn.String()

	perRoute, ok := m.cache[id]
	if !ok {
		perRoute = make(map[string]*big.Int)
		m.cache[id] = perRoute
	}
	if out, ok := perRoute[key]; ok {
		return out, nil
	}

	result, err := m.sim.SimulateRoute(ctx, route.Candidate, amountIn)
	if err != nil {
		return nil, err
	}

	var out *big.Int
	if result != nil {
		out = result.AmountOut
	}
	perRoute[key] = out
	return out, nil
}

// FindSplit searches every unordered pair among ranked (at most TopK)
// for the best pairwise split across cfg.WeightsBps, per spec §4.9.
// Returns nil, nil when split search is disabled, the input is below
// cfg.MinInputUSDValue, fewer than two ranked routes are available, or
// no split clears the acceptance gate.
func FindSplit(ctx context.Context, cfg domain.SplitConfig, sim RouteSimulator, ranked []domain.SimulatedRoute, amountIn *big.Int, inputUSDValue float64) (*SplitResult, error) {
	if !cfg.Enabled || inputUSDValue < cfg.MinInputUSDValue || len(ranked) < 2 {
		return nil, nil
	}

	bestSingle := ranked[0].AmountOut
	if bestSingle == nil || bestSingle.Sign() <= 0 {
		return nil, nil
	}

	m := newMemo(sim)
	var best *SplitResult

	considered := ranked
	if cfg.MaxRoutesConsidered > 0 && len(considered) > cfg.MaxRoutesConsidered {
		considered = considered[:cfg.MaxRoutesConsidered]
	}

	for i := 0; i < len(considered); i++ {
		for j := i + 1; j < len(considered); j++ {
			routeA, routeB := considered[i], considered[j]

			for _, w := range cfg.WeightsBps {
				if w <= 0 || w >= bps {
					continue
				}

				inA := new(big.Int).Div(new(big.Int).Mul(amountIn, big.NewInt(w)), big.NewInt(bps))
				inB := new(big.Int).Sub(amountIn, inA)
				if inA.Sign() <= 0 || inB.Sign() <= 0 {
					continue
				}

				outA, err := m.amountOut(ctx, routeA, inA)
				if err != nil {
					return nil, err
				}
				outB, err := m.amountOut(ctx, routeB, inB)
				if err != nil {
					return nil, err
				}
				if outA == nil || outB == nil || outA.Sign() <= 0 || outB.Sign() <= 0 {
					continue
				}

				total := new(big.Int).Add(outA, outB)
				if best != nil && total.Cmp(best.TotalAmountOut) <= 0 {
					continue
				}

				best = &SplitResult{
					A:              routeA,
					B:              routeB,
					AmountInA:      inA,
					AmountInB:      inB,
					ShareBpsA:      w,
					ShareBpsB:      bps - w,
					TotalAmountOut: total,
				}
			}
		}
	}

	if best == nil {
		return nil, nil
	}
	if best.TotalAmountOut.Cmp(bestSingle) <= 0 {
		return nil, nil
	}

	improvement := new(big.Int).Sub(best.TotalAmountOut, bestSingle)
	improvement.Mul(improvement, big.NewInt(bps))
	improvement.Div(improvement, bestSingle)
	if improvement.Cmp(big.NewInt(cfg.MinImprovementBps)) < 0 {
		return nil, nil
	}

	return best, nil
}
