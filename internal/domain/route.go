package domain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// RouteLeg is one swap step on one venue. For a stable leg, LegData
// encodes the two pool coin indices as two bytes (i, j); CPMM legs carry
// empty LegData until resolved against a concrete pair by the
// simulator/reserve loader.
type RouteLeg struct {
	Venue    Venue
	TokenIn  common.Address
	TokenOut common.Address
	Pool     common.Address
	LegData  []byte
}

// StableLegData packs two stable-pool coin indices into the two-byte
// encoding RouteLeg.LegData uses for stable legs.
func StableLegData(i, j uint8) []byte {
	return []byte{i, j}
}

// DecodeStableLegData unpacks indices packed by StableLegData. ok is
// false if data isn't exactly two bytes.
func DecodeStableLegData(data []byte) (i, j uint8, ok bool) {
	if len(data) != 2 {
		return 0, 0, false
	}
	return data[0], data[1], true
}

// legID renders one leg as "protocol:tokenIn->tokenOut" using the
// lowercase canonical addresses, the atom from which RouteCandidate ids
// are built.
func legID(leg RouteLeg) string {
	var sb strings.Builder
	sb.WriteString(leg.Venue.String())
	sb.WriteByte(':')
	sb.WriteString(strings.ToLower(leg.TokenIn.Hex()))
	sb.WriteString("->")
	sb.WriteString(strings.ToLower(leg.TokenOut.Hex()))
	return sb.String()
}

// RouteCandidate is an ordered sequence of legs from TokenIn to
// TokenOut. ID is a pure, order-sensitive function of the legs, stable
// across runs, used both for deduplication and for the ranker's
// lexicographic tiebreak.
type RouteCandidate struct {
	Legs     []RouteLeg
	NodePath []common.Address
	id       string
}

// NewRouteCandidate builds a candidate and computes its id eagerly so
// later comparisons (dedup, ranking tiebreaks) are cheap.
func NewRouteCandidate(legs []RouteLeg, nodePath []common.Address) RouteCandidate {
	return RouteCandidate{
		Legs:     legs,
		NodePath: nodePath,
		id:       computeCandidateID(legs),
	}
}

func computeCandidateID(legs []RouteLeg) string {
	var sb strings.Builder
	for i, leg := range legs {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(legID(leg))
	}
	return sb.String()
}

// ID returns the candidate's deduplication/ordering key.
func (c RouteCandidate) ID() string {
	if c.id == "" {
		return computeCandidateID(c.Legs)
	}
	return c.id
}

// Hops returns the number of intermediate connector tokens, i.e.
// len(Legs)-1.
func (c RouteCandidate) Hops() int {
	if len(c.Legs) == 0 {
		return 0
	}
	return len(c.Legs) - 1
}

// CountVenue returns how many legs use the given venue.
func (c RouteCandidate) CountVenue(v Venue) int {
	n := 0
	for _, leg := range c.Legs {
		if leg.Venue == v {
			n++
		}
	}
	return n
}

// TokenIn/TokenOut return the candidate's overall endpoints.
func (c RouteCandidate) TokenIn() common.Address {
	if len(c.Legs) == 0 {
		return common.Address{}
	}
	return c.Legs[0].TokenIn
}

func (c RouteCandidate) TokenOut() common.Address {
	if len(c.Legs) == 0 {
		return common.Address{}
	}
	return c.Legs[len(c.Legs)-1].TokenOut
}

// LegSummary is a normalised per-leg result attached to a SimulatedRoute:
// resolved pool address and leg data, stripped of anything the client
// doesn't need to build calldata -- mirrors how a result pool is
// stripped down before being handed back to a caller.
type LegSummary struct {
	Venue    Venue
	TokenIn  common.Address
	TokenOut common.Address
	Pool     common.Address
	LegData  []byte
}

// SimulatedRoute is a RouteCandidate plus the outcome of running it
// against current reserves.
type SimulatedRoute struct {
	Candidate RouteCandidate
	AmountIn  *big.Int
	AmountOut *big.Int
	Legs      []LegSummary
}
