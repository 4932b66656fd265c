// Package rpcpool implements spec §4.1: a prioritized set of JSON-RPC
// endpoints wrapped in a fallback provider, each with a circuit breaker
// that cools the endpoint down after transient failures.
package rpcpool

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/plsx-router/quoteengine/internal/domain"
	"github.com/plsx-router/quoteengine/internal/telemetry"
)

// Dialer creates an RPCClient for one endpoint URL. Implemented over
// ethclient.DialContext in production; swappable in tests.
type Dialer func(ctx context.Context, url string) (RPCClient, error)

// Pool validates and holds a set of endpoints and hands out the
// composite fallback provider. Initialize is idempotent and memoised;
// on failure the memoised attempt is cleared so the next call
// re-validates from scratch.
type Pool struct {
	cfg     domain.RPCPoolConfig
	dial    Dialer
	logger  telemetry.Logger
	metrics *telemetry.Metrics

	mu        sync.Mutex
	endpoints []*endpoint
	ready     bool
}

// New constructs a Pool. Call Initialize before Get.
func New(cfg domain.RPCPoolConfig, dial Dialer, logger telemetry.Logger, metrics *telemetry.Metrics) *Pool {
	return &Pool{cfg: cfg, dial: dial, logger: logger, metrics: metrics}
}

// Initialize validates every configured endpoint by fetching its chain
// id (must equal wantChainID) and a current block number (must be a
// finite non-negative integer). Endpoints failing validation are
// dropped; if none pass, returns ErrRPCUnavailable.
func (p *Pool) Initialize(ctx context.Context, wantChainID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ready {
		return nil
	}

	validated := make([]*endpoint, 0, len(p.cfg.Endpoints))
	for _, url := range p.cfg.Endpoints {
		client, err := p.dial(ctx, url)
		if err != nil {
			p.logger.Warn("rpc endpoint dial failed, dropping", zap.String("endpoint", url), zap.Error(err))
			continue
		}

		ep := &endpoint{
			url:               url,
			client:            client,
			cooldown:          p.cfg.CooldownMs,
			rateLimitCooldown: p.cfg.RateLimitCooldownMs,
			logger:            p.logger,
			metrics:           p.metrics,
		}

		if err := validateEndpoint(ctx, client, wantChainID); err != nil {
			p.logger.Warn("rpc endpoint validation failed, dropping", zap.String("endpoint", url), zap.Error(err))
			continue
		}

		validated = append(validated, ep)
	}

	if len(validated) == 0 {
		return domain.ErrRPCUnavailable
	}

	p.endpoints = validated
	p.ready = true
	return nil
}

func validateEndpoint(ctx context.Context, client RPCClient, wantChainID int64) error {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id check: %w", err)
	}
	if chainID == nil || chainID.Cmp(big.NewInt(wantChainID)) != 0 {
		return fmt.Errorf("chain id mismatch: got %v want %d", chainID, wantChainID)
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number check: %w", err)
	}
	// BlockNumber's return type is already a finite, non-negative
	// uint64; the check exists to confirm the node is actually synced
	// and answering, not to validate the type.
	_ = blockNumber

	return nil
}

// Reset clears the memoised validation state, forcing the next
// Initialize call to re-validate every endpoint from scratch.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = false
	p.endpoints = nil
}

// Get returns the composite provider over all validated endpoints.
// Fails with ErrRPCNotInitialized if Initialize has not succeeded.
func (p *Pool) Get() (RPCClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		return nil, domain.ErrRPCNotInitialized
	}

	return &compositeProvider{
		endpoints:    p.endpoints,
		stallTimeout: p.cfg.StallTimeoutMs,
		retryCount:   p.cfg.RetryCount,
		retryDelay:   p.cfg.RetryDelayMs,
		logger:       p.logger,
	}, nil
}

// compositeProvider fans a logical call out across endpoints in
// priority order with a quorum of one: the first endpoint that answers
// wins. Each logical operation gets up to retryCount+1 attempts; only
// transient errors (including cooldown rejections) are retried, with a
// fixed inter-attempt delay.
var _ RPCClient = (*compositeProvider)(nil)

type compositeProvider struct {
	endpoints    []*endpoint
	stallTimeout time.Duration
	retryCount   int
	retryDelay   time.Duration
	logger       telemetry.Logger
}

// execute runs fn against endpoints in priority order under a per-call
// stall timeout, retrying transient failures up to retryCount+1 total
// attempts before surfacing the last error wrapped in ErrRPCExhausted.
func (c *compositeProvider) execute(ctx context.Context, fn func(ctx context.Context, client RPCClient) error) error {
	var lastErr error

	attempts := c.retryCount + 1
	for attempt := 0; attempt < attempts; attempt++ {
		for _, ep := range c.endpoints {
			callCtx, cancel := context.WithTimeout(ctx, c.stallTimeout)
			err := ep.call(callCtx, fn)
			cancel()

			if err == nil {
				return nil
			}

			lastErr = err
			if !Classify(err).Transient {
				// Non-transient: surface immediately, no point trying
				// other endpoints or retrying.
				return err
			}
		}

		if attempt < attempts-1 {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if lastErr == nil {
		return domain.ErrRPCExhausted
	}
	return fmt.Errorf("%w: %s", domain.ErrRPCExhausted, lastErr)
}

func (c *compositeProvider) ChainID(ctx context.Context) (*big.Int, error) {
	var result *big.Int
	err := c.execute(ctx, func(ctx context.Context, client RPCClient) error {
		v, err := client.ChainID(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func (c *compositeProvider) BlockNumber(ctx context.Context) (uint64, error) {
	var result uint64
	err := c.execute(ctx, func(ctx context.Context, client RPCClient) error {
		v, err := client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func (c *compositeProvider) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var result []byte
	err := c.execute(ctx, func(ctx context.Context, client RPCClient) error {
		v, err := client.CallContract(ctx, msg, blockNumber)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func (c *compositeProvider) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var result *big.Int
	err := c.execute(ctx, func(ctx context.Context, client RPCClient) error {
		v, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func (c *compositeProvider) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var result *big.Int
	err := c.execute(ctx, func(ctx context.Context, client RPCClient) error {
		v, err := client.SuggestGasTipCap(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func (c *compositeProvider) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var result *types.Header
	err := c.execute(ctx, func(ctx context.Context, client RPCClient) error {
		v, err := client.HeaderByNumber(ctx, number)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
