package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// QuoteRequest is the logical, already-parsed form of spec §6.2. The
// HTTP request-parsing/validation layer that produces this value is an
// external collaborator; this engine only consumes it.
type QuoteRequest struct {
	TokenIn         common.Address
	TokenOut        common.Address
	TokenInNative   bool
	TokenOutNative  bool
	AmountIn        *big.Int
	AllowedSlippage float64 // percentage, e.g. 0.5 means 0.5%
	Account         common.Address
}

// SlippageBps clamps AllowedSlippage to [0, 100] and converts to basis
// points.
func (r QuoteRequest) SlippageBps() int64 {
	pct := r.AllowedSlippage
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return int64(pct * 100)
}

// GasEstimate is the engine's estimate of what executing the quoted
// route will cost. OK is false when the price oracle couldn't price the
// native currency; in that case the quote is still returned but gas
// fields are omitted (spec §4.10 step 10).
type GasEstimate struct {
	Units      uint64
	NativeWei  *big.Int
	USD        float64
	OK         bool
}

// LegDescriptor is a client-facing swap leg: just enough to let a
// caller understand and display the route, not enough to reconstruct
// the simulation.
type LegDescriptor struct {
	TokenIn      common.Address
	TokenOut     common.Address
	Pool         common.Address
	ExchangeName string
}

// SwapGroup is one parallel branch of a (possibly split) route.
type SwapGroup struct {
	PercentBps int64 // 0-10000
	Legs       []LegDescriptor
}

// QuoteResult is the final response. Exactly one of SingleRoute and
// SplitRoutes is non-nil; if split, percentages sum to 10000 bps and the
// constituent amounts sum to Request.AmountIn (spec §3 invariant).
type QuoteResult struct {
	Request        QuoteRequest
	TotalAmountOut *big.Int
	SingleRoute    *SimulatedRoute
	SplitRoutes    []SplitLeg
	Router         common.Address
	Route          []SwapGroup
	MinAmountOut   *big.Int
	Deadline       time.Time
	Gas            GasEstimate
}

// SplitLeg is one branch of a split quote: a simulated sub-route plus
// the share of the original input it consumed.
type SplitLeg struct {
	Route     SimulatedRoute
	ShareBps  int64
	AmountIn  *big.Int
	AmountOut *big.Int
}

// MinAmountOutFromSlippage applies spec §6.3's
// minAmountOut = outputAmount * (10000 - slippageBps) / 10000, floor
// division.
func MinAmountOutFromSlippage(outputAmount *big.Int, slippageBps int64) *big.Int {
	bps := big.NewInt(10_000)
	factor := new(big.Int).Sub(bps, big.NewInt(slippageBps))
	result := new(big.Int).Mul(outputAmount, factor)
	return result.Div(result, bps)
}
