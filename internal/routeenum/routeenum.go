// Package routeenum implements spec §4.6: node-path generation via DFS
// with a no-repeat-per-path invariant, leg-option expansion into the
// Cartesian product of venues per node path, and the stable-pivot
// candidate variants.
package routeenum

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/plsx-router/quoteengine/internal/domain"
)

// Enumerate returns a deduplicated list of route candidates from
// tokenIn to tokenOut under cfg's connector/stable configuration.
func Enumerate(cfg domain.Config, tokenIn, tokenOut common.Address, stableIndexMap map[common.Address]uint8) []domain.RouteCandidate {
	seen := make(map[string]struct{})
	var out []domain.RouteCandidate

	add := func(c domain.RouteCandidate) {
		if _, ok := seen[c.ID()]; ok {
			return
		}
		seen[c.ID()] = struct{}{}
		out = append(out, c)
	}

	connectors := connectorSet(cfg, tokenIn, tokenOut)
	for _, path := range nodePaths(connectors, tokenIn, tokenOut, cfg.MaxConnectorHops) {
		for _, legs := range expandLegOptions(cfg, path, stableIndexMap) {
			add(domain.NewRouteCandidate(legs, path))
		}
	}

	if cfg.StableRouting.Enabled && len(stableIndexMap) > 0 {
		for _, c := range stablePivotCandidates(cfg, tokenIn, tokenOut, stableIndexMap) {
			add(c)
		}
	}

	return out
}

// connectorSet returns cfg's configured connectors minus tokenIn and
// tokenOut.
func connectorSet(cfg domain.Config, tokenIn, tokenOut common.Address) []common.Address {
	var out []common.Address
	for _, c := range cfg.Connectors {
		if c == tokenIn || c == tokenOut {
			continue
		}
		out = append(out, c)
	}
	return out
}

// nodePaths returns every distinct tokenIn -> c1 -> ... -> ck -> tokenOut
// sequence with 0 <= k <= maxHops, no token repeated within a path, and
// no connector equal to tokenOut. DFS, deduped by lowercase-address join.
func nodePaths(connectors []common.Address, tokenIn, tokenOut common.Address, maxHops int) [][]common.Address {
	seen := make(map[string]struct{})
	var out [][]common.Address

	var visit func(path []common.Address, used map[common.Address]bool)
	visit = func(path []common.Address, used map[common.Address]bool) {
		full := append(append([]common.Address{}, path...), tokenOut)
		key := pathKey(full)
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			out = append(out, full)
		}

		if len(path)-1 >= maxHops {
			return
		}

		for _, c := range connectors {
			if c == tokenOut || used[c] {
				continue
			}
			used[c] = true
			visit(append(path, c), used)
			delete(used, c)
		}
	}

	visit([]common.Address{tokenIn}, map[common.Address]bool{tokenIn: true})
	return out
}

func pathKey(path []common.Address) string {
	var sb strings.Builder
	for i, a := range path {
		if i > 0 {
			sb.WriteByte('-')
		}
		sb.WriteString(strings.ToLower(a.Hex()))
	}
	return sb.String()
}

// legOptions returns the venues offered for adjacent pair (a, b).
func legOptions(cfg domain.Config, a, b common.Address, stableIndexMap map[common.Address]uint8) []domain.Venue {
	opts := []domain.Venue{domain.VenueCPMMV1, domain.VenueCPMMV2}
	if cfg.StableRouting.Enabled && cfg.IsStable(a) && cfg.IsStable(b) {
		if _, ok := stableIndexMap[a]; ok {
			if _, ok := stableIndexMap[b]; ok {
				opts = append(opts, domain.VenueStable)
			}
		}
	}
	return opts
}

// stableLegData packs a's and b's pool coin indices if both are present
// in stableIndexMap, so the simulator can resolve the leg without a
// separate index lookup (spec §4.8's packed leg data).
func stableLegData(a, b common.Address, stableIndexMap map[common.Address]uint8) []byte {
	i, iok := stableIndexMap[a]
	j, jok := stableIndexMap[b]
	if !iok || !jok {
		return nil
	}
	return domain.StableLegData(i, j)
}

// expandLegOptions builds the Cartesian product of leg-venue options
// across every adjacent pair in path, one []RouteLeg per combination.
func expandLegOptions(cfg domain.Config, path []common.Address, stableIndexMap map[common.Address]uint8) [][]domain.RouteLeg {
	if len(path) < 2 {
		return nil
	}

	combos := [][]domain.RouteLeg{{}}
	for i := 0; i < len(path)-1; i++ {
		a, b := path[i], path[i+1]
		opts := legOptions(cfg, a, b, stableIndexMap)

		next := make([][]domain.RouteLeg, 0, len(combos)*len(opts))
		for _, combo := range combos {
			for _, v := range opts {
				leg := domain.RouteLeg{Venue: v, TokenIn: a, TokenOut: b}
				if v == domain.VenueStable {
					leg.LegData = stableLegData(a, b, stableIndexMap)
				}
				extended := make([]domain.RouteLeg, len(combo)+1)
				copy(extended, combo)
				extended[len(combo)] = leg
				next = append(next, extended)
			}
		}
		combos = next
	}
	return combos
}

// stablePivotCandidates builds the single-leg stable-to-stable candidate
// and the stable-pivot connector candidates of spec §4.6.
func stablePivotCandidates(cfg domain.Config, tokenIn, tokenOut common.Address, stableIndexMap map[common.Address]uint8) []domain.RouteCandidate {
	var out []domain.RouteCandidate

	inStable := cfg.IsStable(tokenIn)
	outStable := cfg.IsStable(tokenOut)

	if inStable && outStable && cfg.StableForStableToStable() {
		leg := domain.RouteLeg{Venue: domain.VenueStable, TokenIn: tokenIn, TokenOut: tokenOut, LegData: stableLegData(tokenIn, tokenOut, stableIndexMap)}
		out = append(out, domain.NewRouteCandidate([]domain.RouteLeg{leg}, []common.Address{tokenIn, tokenOut}))
		return out
	}

	if !cfg.StableAsConnector() {
		return out
	}

	pivots := stablePivots(cfg, tokenIn, tokenOut, stableIndexMap)

	if inStable && !outStable {
		for _, pivot := range pivots {
			stableLeg := domain.RouteLeg{Venue: domain.VenueStable, TokenIn: tokenIn, TokenOut: pivot, LegData: stableLegData(tokenIn, pivot, stableIndexMap)}
			for _, tailLegs := range boundedExpansions(cfg, pivot, tokenOut, stableIndexMap) {
				legs := append([]domain.RouteLeg{stableLeg}, tailLegs...)
				path := append([]common.Address{tokenIn}, legPath(tailLegs)...)
				out = append(out, domain.NewRouteCandidate(legs, path))
			}
		}
		return out
	}

	if outStable && !inStable {
		for _, pivot := range pivots {
			stableLeg := domain.RouteLeg{Venue: domain.VenueStable, TokenIn: pivot, TokenOut: tokenOut, LegData: stableLegData(pivot, tokenOut, stableIndexMap)}
			for _, headLegs := range boundedExpansions(cfg, tokenIn, pivot, stableIndexMap) {
				legs := append(append([]domain.RouteLeg{}, headLegs...), stableLeg)
				path := append(legPath(headLegs), tokenOut)
				out = append(out, domain.NewRouteCandidate(legs, path))
			}
		}
		return out
	}

	return out
}

// stablePivots returns stable tokens eligible as a pivot for the given
// (tokenIn, tokenOut), up to cfg's configured maxStablePivots: every
// stable token other than whichever of tokenIn/tokenOut is itself stable.
func stablePivots(cfg domain.Config, tokenIn, tokenOut common.Address, stableIndexMap map[common.Address]uint8) []common.Address {
	stableEndpoint := tokenIn
	if !cfg.IsStable(tokenIn) {
		stableEndpoint = tokenOut
	}

	max := cfg.StableRouting.MaxStablePivots
	var out []common.Address
	for _, t := range cfg.StableTokens {
		if t == stableEndpoint {
			continue
		}
		if _, ok := stableIndexMap[t]; !ok {
			continue
		}
		out = append(out, t)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// boundedExpansions enumerates direct (no-connector) leg expansions
// between a and b, bounded by MaxStableConnectorRouteOptions.
func boundedExpansions(cfg domain.Config, a, b common.Address, stableIndexMap map[common.Address]uint8) [][]domain.RouteLeg {
	combos := expandLegOptions(cfg, []common.Address{a, b}, stableIndexMap)
	if len(combos) > domain.MaxStableConnectorRouteOptions {
		combos = combos[:domain.MaxStableConnectorRouteOptions]
	}
	return combos
}

func legPath(legs []domain.RouteLeg) []common.Address {
	if len(legs) == 0 {
		return nil
	}
	path := make([]common.Address, 0, len(legs)+1)
	path = append(path, legs[0].TokenIn)
	for _, l := range legs {
		path = append(path, l.TokenOut)
	}
	return path
}
