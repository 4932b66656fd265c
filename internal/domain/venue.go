package domain

// Venue is the tagged sum over the three liquidity venues the engine
// knows how to quote against. The simulator switches on it, the
// enumerator uses it to generate leg candidates, and the fee table keys
// on it -- no inheritance hierarchy is needed (spec design note §9).
type Venue int

const (
	VenueCPMMV1 Venue = iota
	VenueCPMMV2
	VenueStable
)

func (v Venue) String() string {
	switch v {
	case VenueCPMMV1:
		return "CPMM_V1"
	case VenueCPMMV2:
		return "CPMM_V2"
	case VenueStable:
		return "STABLE"
	default:
		return "UNKNOWN"
	}
}
