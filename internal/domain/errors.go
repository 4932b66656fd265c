package domain

import "errors"

// Sentinel errors, one per row of spec §7's error kind table. Callers
// use errors.Is against these after any fmt.Errorf("%w: ...", ErrX, ...)
// wrapping done closer to the failure site.
var (
	ErrCPMMInvalidReserves = errors.New("CPMM_INVALID_RESERVES")
	ErrCPMMInvalidFee      = errors.New("CPMM_INVALID_FEE")

	ErrStableTokenUnsupported = errors.New("STABLE_TOKEN_UNSUPPORTED")
	ErrStableNegativeAmount   = errors.New("STABLE_NEGATIVE_AMOUNT")

	ErrRPCCooldown  = errors.New("RPC_COOLDOWN")
	ErrRPCExhausted = errors.New("RPC_EXHAUSTED")
	ErrRPCUnavailable     = errors.New("RPC_UNAVAILABLE")
	ErrRPCNotInitialized  = errors.New("RPC_NOT_INITIALIZED")

	ErrMulticallDisabled = errors.New("MULTICALL_DISABLED")
	ErrMulticallTimeout  = errors.New("MULTICALL_TIMEOUT")
	ErrMulticallEmpty    = errors.New("MULTICALL_EMPTY")

	ErrPriceUnavailable = errors.New("PRICE_UNAVAILABLE")

	ErrQuoteTimeout = errors.New("QUOTE_TIMEOUT")

	ErrNoCandidates   = errors.New("NO_CANDIDATES")
	ErrNoValidRoutes  = errors.New("NO_VALID_ROUTES")

	ErrAmountNonPositive = errors.New("AMOUNT_NON_POSITIVE")
)
