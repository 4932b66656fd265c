package rpcpool

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/plsx-router/quoteengine/internal/telemetry"
)

// RPCClient is the subset of *ethclient.Client the engine needs. Kept
// narrow and interface-typed so endpoints and the composite provider are
// interchangeable, and so tests can supply fakes.
type RPCClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// endpoint pairs one RPCClient with its circuit breaker. It is the unit
// the pool validates, cools down, and retries across.
type endpoint struct {
	url     string
	client  RPCClient
	breaker breaker

	cooldown          time.Duration
	rateLimitCooldown time.Duration

	logger  telemetry.Logger
	metrics *telemetry.Metrics
}

// call wraps fn with the endpoint's circuit breaker: rejects locally
// without invoking fn while cooled down, otherwise runs fn and updates
// breaker state from the classified result.
func (e *endpoint) call(ctx context.Context, fn func(ctx context.Context, client RPCClient) error) error {
	now := time.Now()
	if e.breaker.cooledDown(now) {
		return &cooldownError{endpoint: e.url, until: time.Unix(0, e.breaker.failedUntilNano.Load())}
	}

	err := fn(ctx, e.client)
	if err == nil {
		if e.breaker.recordSuccess() {
			e.logger.Info("rpc endpoint recovered", zap.String("endpoint", e.url))
			e.metrics.RPCBreakerRecoveries.WithLabelValues(e.url).Inc()
		}
		return nil
	}

	class := Classify(err)
	if class.Transient {
		e.breaker.recordFailure(now, e.cooldown, e.rateLimitCooldown, class.RateLimited)
		e.logger.Warn("rpc endpoint call failed, breaker tripped",
			zap.String("endpoint", e.url), zap.Bool("rate_limited", class.RateLimited), zap.Error(err))
		e.metrics.RPCBreakerTrips.WithLabelValues(e.url).Inc()
	}
	// Non-transient errors propagate without changing breaker state.
	return err
}
