// Package multicall implements spec §4.2: batching independent read-only
// contract calls into as few eth_call round trips as possible.
package multicall

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/plsx-router/quoteengine/internal/domain"
	"github.com/plsx-router/quoteengine/internal/telemetry"
	"github.com/plsx-router/quoteengine/internal/workerpool"
)

// Call is one read-only call to batch: target contract and ABI-encoded
// call data.
type Call struct {
	Target   common.Address
	CallData []byte
}

// Result is the per-call outcome. A false Success with non-empty
// ReturnData can happen (a revert reason); callers decode ReturnData
// themselves via the relevant ABI.
type Result struct {
	Success    bool
	ReturnData []byte
}

// Caller is the subset of rpcpool.RPCClient the multicall client needs.
// Kept narrow so either a single endpoint or the composite fallback
// provider can be passed in.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

const tryAggregateABI = `[{
	"constant": false,
	"inputs": [
		{"name": "requireSuccess", "type": "bool"},
		{"name": "calls", "type": "tuple[]", "components": [
			{"name": "target", "type": "address"},
			{"name": "callData", "type": "bytes"}
		]}
	],
	"name": "tryAggregate",
	"outputs": [
		{"name": "returnData", "type": "tuple[]", "components": [
			{"name": "success", "type": "bool"},
			{"name": "returnData", "type": "bytes"}
		]}
	],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

var multicallABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(tryAggregateABI))
	if err != nil {
		panic(fmt.Sprintf("multicall: invalid embedded ABI: %v", err))
	}
	multicallABI = parsed
}

// Client executes batched calls against the configured multicall
// contract, chunking by MaxBatchSize and running chunks concurrently
// through the same worker pool used for route evaluation (spec §9's
// "reuse the bounded-concurrency primitive" design note).
type Client struct {
	cfg     domain.MulticallConfig
	caller  Caller
	logger  telemetry.Logger
	metrics *telemetry.Metrics
}

func New(cfg domain.MulticallConfig, caller Caller, logger telemetry.Logger, metrics *telemetry.Metrics) *Client {
	return &Client{cfg: cfg, caller: caller, logger: logger, metrics: metrics}
}

type callArg struct {
	Target   common.Address
	CallData []byte
}

type resultArg struct {
	Success    bool
	ReturnData []byte
}

// Execute runs calls in one or more chunks of at most cfg.MaxBatchSize,
// each as a single tryAggregate eth_call. Returns results in the same
// order as calls. Empty input returns an empty, nil-error result.
func (c *Client) Execute(ctx context.Context, calls []Call) ([]Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	if !c.cfg.Enabled {
		return nil, domain.ErrMulticallDisabled
	}

	chunks := chunkCalls(calls, c.cfg.MaxBatchSize)

	jobs := make([]workerpool.Job[[]Result], len(chunks))
	for i, chunk := range chunks {
		chunk := chunk
		jobs[i] = workerpool.Job[[]Result]{
			Task: func(ctx context.Context) ([]Result, error) {
				return c.executeChunk(ctx, chunk)
			},
		}
	}

	concurrency := len(chunks)
	results := workerpool.Run(ctx, concurrency, jobs)

	out := make([]Result, 0, len(calls))
	for i, r := range results {
		if r.Err != nil {
			if r.TimedOut {
				return nil, fmt.Errorf("%w: chunk %d: %s", domain.ErrMulticallTimeout, i, r.Err)
			}
			return nil, r.Err
		}
		out = append(out, r.Result...)
	}

	c.metrics.MulticallBatchSize.Observe(float64(len(calls)))
	return out, nil
}

func (c *Client) executeChunk(ctx context.Context, calls []Call) ([]Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.TimeoutMs)
	defer cancel()

	args := make([]callArg, len(calls))
	for i, call := range calls {
		args[i] = callArg{Target: call.Target, CallData: call.CallData}
	}

	packed, err := multicallABI.Pack("tryAggregate", false, args)
	if err != nil {
		return nil, fmt.Errorf("multicall: pack tryAggregate: %w", err)
	}

	to := c.cfg.Address
	raw, err := c.caller.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: packed}, nil)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrMulticallTimeout, err)
		}
		return nil, err
	}

	return c.unpackResults(raw, len(calls))
}

func (c *Client) unpackResults(raw []byte, want int) ([]Result, error) {
	if len(raw) == 0 {
		return nil, domain.ErrMulticallEmpty
	}

	var decoded []resultArg
	if err := multicallABI.UnpackIntoInterface(&decoded, "tryAggregate", raw); err != nil {
		return nil, domain.ErrMulticallEmpty
	}
	if len(decoded) == 0 {
		return nil, domain.ErrMulticallEmpty
	}

	out := make([]Result, want)
	for i := range out {
		if i >= len(decoded) {
			// Per-entry normalisation for a short response: missing
			// success defaults to false, missing returnData to empty.
			out[i] = Result{Success: false, ReturnData: []byte{}}
			continue
		}
		returnData := decoded[i].ReturnData
		if returnData == nil {
			returnData = []byte{}
		}
		out[i] = Result{Success: decoded[i].Success, ReturnData: returnData}
	}
	return out, nil
}

func chunkCalls(calls []Call, maxBatchSize int) [][]Call {
	if maxBatchSize <= 0 {
		maxBatchSize = len(calls)
	}
	var chunks [][]Call
	for start := 0; start < len(calls); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(calls) {
			end = len(calls)
		}
		chunks = append(chunks, calls[start:end])
	}
	return chunks
}
