// Package cpmm implements the constant-product (x*y=k) swap formula with
// a basis-point fee, on arbitrary-precision integers.
package cpmm

import (
	"math/big"

	"github.com/plsx-router/quoteengine/internal/domain"
)

// BPS is the basis-point denominator (100%).
const BPS = 10_000

// AmountOut computes the output of swapping amountIn against a pool with
// the given reserves and fee (in basis points), using floor division
// throughout:
//
//	out = amountIn * (BPS-fee) * reserveOut / (reserveIn*BPS + amountIn*(BPS-fee))
//
// amountIn <= 0 returns 0 with no error. Non-positive reserves or a fee
// outside [0, BPS) are precondition failures.
func AmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint16) (*big.Int, error) {
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, domain.ErrCPMMInvalidReserves
	}
	if feeBps >= BPS {
		return nil, domain.ErrCPMMInvalidFee
	}
	if amountIn.Sign() <= 0 {
		return big.NewInt(0), nil
	}

	feeFactor := big.NewInt(int64(BPS - feeBps))

	amountInWithFee := new(big.Int).Mul(amountIn, feeFactor)

	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)

	denominator := new(big.Int).Mul(reserveIn, big.NewInt(BPS))
	denominator.Add(denominator, amountInWithFee)

	out := new(big.Int).Quo(numerator, denominator)
	return out, nil
}
