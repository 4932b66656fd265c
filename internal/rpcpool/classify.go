package rpcpool

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// transientCodes are the JSON-RPC error codes spec §4.1's classifier
// table treats as transient regardless of message content.
var transientCodes = map[int]struct{}{
	-32000: {}, // SERVER_ERROR (ethers convention reused for go-ethereum rpc.Error codes)
	-32001: {}, // NETWORK_ERROR
	-32002: {}, // OFFLINE
	-32003: {}, // TIMEOUT
	-32004: {}, // FETCH_ERROR
	-32005: {}, // BAD_DATA
}

// transientMessagePattern and rateLimitPattern are kept as package
// variables rather than constants so a deployment can override them,
// per spec §9's "keep the regex patterns configurable" design note.
var (
	transientMessagePattern = regexp.MustCompile(`(?i)timeout|network|ECONN|EAI_AGAIN|ENOTFOUND|temporarily unavailable`)
	rateLimitPattern        = regexp.MustCompile(`(?i)429|rate limit`)
)

// Classification is the pure result of inspecting one error, computed
// without consulting or mutating breaker state.
type Classification struct {
	Transient   bool
	RateLimited bool
}

// httpError is the minimal shape needed to detect a 429 from an
// HTTP-transport JSON-RPC error without importing a concrete HTTP error
// type.
type httpError interface {
	ErrorCode() int
}

// Classify implements the spec §4.1 table as a pure function of the
// error alone, so it can be unit tested with injected fake errors
// instead of real network failures (spec §9 design note).
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	msg := err.Error()

	if rateLimitPattern.MatchString(msg) {
		return Classification{Transient: true, RateLimited: true}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		if _, ok := transientCodes[rpcErr.ErrorCode()]; ok {
			return Classification{Transient: true}
		}
	}

	var httpErr httpError
	if errors.As(err, &httpErr) && httpErr.ErrorCode() == 429 {
		return Classification{Transient: true, RateLimited: true}
	}

	if transientMessagePattern.MatchString(msg) {
		return Classification{Transient: true}
	}

	if strings.Contains(msg, string(ErrCooldownMessage)) {
		return Classification{Transient: true}
	}

	return Classification{}
}

// ErrCooldownMessage is the substring carried by a cooldown-rejection
// error (see breaker.go); it is itself always transient, since the pool
// treats a cooldown rejection as something worth retrying against
// another endpoint rather than as an endpoint-level failure.
const ErrCooldownMessage errString = "RPC_COOLDOWN"

type errString string
