package domain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// PairReserves is the cached on-chain state for one AMM pair. Token0 and
// Token1 are in the pair contract's canonical order; Reserve0/Reserve1
// correspond positionally. A *PairReserves of nil is a valid, live
// negative-cache entry meaning "no pair exists for this (protocol, pair)
// key", not "not yet looked up".
type PairReserves struct {
	Pool     common.Address
	Token0   common.Address
	Token1   common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// ReserveCacheKey formats the cache key "protocol:lower(sorted(a,b))"
// used by the reserve cache and the multicall prewarm batches.
func ReserveCacheKey(venue Venue, a, b common.Address) string {
	lowerA := strings.ToLower(a.Hex())
	lowerB := strings.ToLower(b.Hex())
	if lowerA > lowerB {
		lowerA, lowerB = lowerB, lowerA
	}

	var sb strings.Builder
	sb.WriteString(venue.String())
	sb.WriteByte(':')
	sb.WriteString(lowerA)
	sb.WriteByte(',')
	sb.WriteString(lowerB)
	return sb.String()
}

// MapReserves orients (Reserve0, Reserve1) onto (tokenIn, tokenOut)
// order. Returns ok=false if the pair's canonical tokens don't contain
// both given tokens.
func (p *PairReserves) MapReserves(tokenIn, tokenOut common.Address) (reserveIn, reserveOut *big.Int, ok bool) {
	if p == nil {
		return nil, nil, false
	}

	switch {
	case p.Token0 == tokenIn && p.Token1 == tokenOut:
		return p.Reserve0, p.Reserve1, true
	case p.Token0 == tokenOut && p.Token1 == tokenIn:
		return p.Reserve1, p.Reserve0, true
	default:
		return nil, nil, false
	}
}
