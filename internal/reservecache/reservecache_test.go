package reservecache

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plsx-router/quoteengine/internal/domain"
	"github.com/plsx-router/quoteengine/internal/multicall"
	"github.com/plsx-router/quoteengine/internal/telemetry"
)

var (
	tokenA    = common.HexToAddress("0x1")
	tokenB    = common.HexToAddress("0x2")
	factoryV2 = common.HexToAddress("0xFAC2")
	factoryV1 = common.HexToAddress("0xFAC1")
	pairAB    = common.HexToAddress("0xFEED")
	mcAddr    = common.HexToAddress("0xCCCC")
)

// --- local mirrors of the ABI fragments needed to drive the fakes ---

var testFactoryABI, testPairABI, testTryAggregateABI abi.ABI

func init() {
	var err error
	testFactoryABI, err = abi.JSON(strings.NewReader(`[{"constant":true,"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"name":"getPair","outputs":[{"name":"pair","type":"address"}],"stateMutability":"view","type":"function"}]`))
	if err != nil {
		panic(err)
	}
	testPairABI, err = abi.JSON(strings.NewReader(`[
		{"constant":true,"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
		{"constant":true,"inputs":[],"name":"token1","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
		{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"}
	]`))
	if err != nil {
		panic(err)
	}
	testTryAggregateABI, err = abi.JSON(strings.NewReader(`[{
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
	}]`))
	if err != nil {
		panic(err)
	}
}

type testCallArg struct {
	Target   common.Address
	CallData []byte
}

type testResultArg struct {
	Success    bool
	ReturnData []byte
}

// fakeChain answers getPair/token0/token1/getReserves calls keyed by
// (target, calldata) and additionally understands calls sent to the
// multicall contract address (mcAddr), dispatching each inner sub-call
// the same way.
type fakeChain struct {
	byCalldata map[string][]byte
	errFor     map[string]error

	mcCalls int // number of calls that reached the multicall contract
}

func newFakeChain() *fakeChain {
	return &fakeChain{byCalldata: map[string][]byte{}, errFor: map[string]error{}}
}

func key(to common.Address, data []byte) string {
	return to.Hex() + ":" + common.Bytes2Hex(data)
}

func (f *fakeChain) setGetPair(factory, a, b, pair common.Address) {
	packed, _ := testFactoryABI.Pack("getPair", a, b)
	resp, _ := testFactoryABI.Methods["getPair"].Outputs.Pack(pair)
	f.byCalldata[key(factory, packed)] = resp
}

func (f *fakeChain) setPairData(pair, token0, token1 common.Address, r0, r1 *big.Int) {
	t0, _ := testPairABI.Methods["token0"].Outputs.Pack(token0)
	t1, _ := testPairABI.Methods["token1"].Outputs.Pack(token1)
	rr, _ := testPairABI.Methods["getReserves"].Outputs.Pack(r0, r1, uint32(0))
	f.byCalldata[key(pair, testPairABI.Methods["token0"].ID)] = t0
	f.byCalldata[key(pair, testPairABI.Methods["token1"].ID)] = t1
	f.byCalldata[key(pair, testPairABI.Methods["getReserves"].ID)] = rr
}

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if *msg.To == mcAddr {
		f.mcCalls++
		return f.answerMulticall(msg.Data)
	}
	k := key(*msg.To, msg.Data)
	if err, ok := f.errFor[k]; ok {
		return nil, err
	}
	if resp, ok := f.byCalldata[k]; ok {
		return resp, nil
	}
	return nil, errors.New("fakeChain: unhandled call to " + msg.To.Hex())
}

func (f *fakeChain) answerMulticall(data []byte) ([]byte, error) {
	args, err := testTryAggregateABI.Methods["tryAggregate"].Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return nil, errors.New("bad tryAggregate input")
	}
	// abi.Unpack yields a slice of anonymous structs; ConvertType copies
	// it field by field into []testCallArg.
	converted, ok := abi.ConvertType(args[1], new([]testCallArg)).(*[]testCallArg)
	if !ok {
		return nil, errors.New("bad tryAggregate calls arg")
	}
	calls := *converted

	results := make([]testResultArg, len(calls))
	for i, c := range calls {
		k := key(c.Target, c.CallData)
		if err, ok := f.errFor[k]; ok {
			results[i] = testResultArg{Success: false, ReturnData: []byte(err.Error())}
			continue
		}
		resp, ok := f.byCalldata[k]
		if !ok {
			results[i] = testResultArg{Success: false, ReturnData: []byte{}}
			continue
		}
		results[i] = testResultArg{Success: true, ReturnData: resp}
	}

	return testTryAggregateABI.Methods["tryAggregate"].Outputs.Pack(results)
}

func baseConfig() domain.Config {
	return domain.Config{
		FactoryV1: factoryV1,
		FactoryV2: factoryV2,
		CacheTTL:  domain.CacheTTLConfig{Reserves: time.Minute},
		QuoteEvaluation: domain.QuoteEvaluationConfig{
			Concurrency: 4,
		},
		Multicall: domain.MulticallConfig{
			Enabled:      true,
			Address:      mcAddr,
			MaxBatchSize: 10,
			TimeoutMs:    time.Second,
		},
	}
}

func newMulticallClient(cfg domain.Config, chain *fakeChain) *multicall.Client {
	return multicall.New(cfg.Multicall, chain, telemetry.NewNop(), telemetry.NewMetrics())
}

func TestGetPairReserves_CacheHit(t *testing.T) {
	chain := newFakeChain() // no entries registered: any real call errors
	cache := New(baseConfig(), chain, nil, telemetry.NewNop(), telemetry.NewMetrics())

	want := &domain.PairReserves{Pool: pairAB, Token0: tokenA, Token1: tokenB, Reserve0: big.NewInt(1), Reserve1: big.NewInt(2)}
	cache.store.Set(Leg{Venue: domain.VenueCPMMV2, A: tokenA, B: tokenB}.key(), want, time.Minute)

	got, err := cache.GetPairReserves(context.Background(), domain.VenueCPMMV2, tokenA, tokenB)
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestPeek_ReportsCacheStateWithoutLoading(t *testing.T) {
	chain := newFakeChain() // no entries registered: any real call errors
	cache := New(baseConfig(), chain, nil, telemetry.NewNop(), telemetry.NewMetrics())

	assert.False(t, cache.Peek(domain.VenueCPMMV2, tokenA, tokenB))

	cache.store.Set(Leg{Venue: domain.VenueCPMMV2, A: tokenA, B: tokenB}.key(), &domain.PairReserves{}, time.Minute)
	assert.True(t, cache.Peek(domain.VenueCPMMV2, tokenA, tokenB))
}

func TestGetPairReserves_NoPairIsValidNegativeCache(t *testing.T) {
	chain := newFakeChain()
	chain.setGetPair(factoryV2, tokenA, tokenB, common.Address{})
	cache := New(baseConfig(), chain, nil, telemetry.NewNop(), telemetry.NewMetrics())

	got, err := cache.GetPairReserves(context.Background(), domain.VenueCPMMV2, tokenA, tokenB)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Must be cached: a second call shouldn't need any further setup.
	got2, err := cache.GetPairReserves(context.Background(), domain.VenueCPMMV2, tokenA, tokenB)
	require.NoError(t, err)
	assert.Nil(t, got2)
}

func TestGetPairReserves_PerEndpointPath(t *testing.T) {
	chain := newFakeChain()
	chain.setGetPair(factoryV2, tokenA, tokenB, pairAB)
	chain.setPairData(pairAB, tokenA, tokenB, big.NewInt(1000), big.NewInt(2000))
	cache := New(baseConfig(), chain, nil, telemetry.NewNop(), telemetry.NewMetrics())

	got, err := cache.GetPairReserves(context.Background(), domain.VenueCPMMV2, tokenA, tokenB)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pairAB, got.Pool)
	in, out, ok := got.MapReserves(tokenA, tokenB)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(1000), in)
	assert.Equal(t, big.NewInt(2000), out)
}

func TestGetPairReserves_MulticallPath(t *testing.T) {
	chain := newFakeChain()
	chain.setGetPair(factoryV2, tokenA, tokenB, pairAB)
	chain.setPairData(pairAB, tokenA, tokenB, big.NewInt(1000), big.NewInt(2000))
	cfg := baseConfig()
	cache := New(cfg, chain, newMulticallClient(cfg, chain), telemetry.NewNop(), telemetry.NewMetrics())

	got, err := cache.GetPairReserves(context.Background(), domain.VenueCPMMV2, tokenA, tokenB)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pairAB, got.Pool)
	assert.Equal(t, 2, chain.mcCalls) // one getPair batch, one token/reserves batch
}

func TestGetPairReserves_FallsBackWhenMulticallFails(t *testing.T) {
	chain := newFakeChain()
	chain.setGetPair(factoryV2, tokenA, tokenB, pairAB)
	chain.setPairData(pairAB, tokenA, tokenB, big.NewInt(1000), big.NewInt(2000))
	cfg := baseConfig()
	mc := newMulticallClient(cfg, brokenCaller{chain})
	cache := New(cfg, chain, mc, telemetry.NewNop(), telemetry.NewMetrics())

	got, err := cache.GetPairReserves(context.Background(), domain.VenueCPMMV2, tokenA, tokenB)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pairAB, got.Pool)
}

// brokenCaller always fails multicall contract calls, forcing
// reservecache onto its per-endpoint fallback, while still delegating
// non-multicall calls (there are none expected, but this keeps the type
// usable as a plain evmabi.Caller too).
type brokenCaller struct {
	inner *fakeChain
}

func (b brokenCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if *msg.To == mcAddr {
		return nil, errors.New("multicall contract unreachable")
	}
	return b.inner.CallContract(ctx, msg, blockNumber)
}

func TestPrewarm_ResolvesViaMulticall(t *testing.T) {
	chain := newFakeChain()
	chain.setGetPair(factoryV2, tokenA, tokenB, pairAB)
	chain.setPairData(pairAB, tokenA, tokenB, big.NewInt(1000), big.NewInt(2000))
	cfg := baseConfig()
	cache := New(cfg, chain, newMulticallClient(cfg, chain), telemetry.NewNop(), telemetry.NewMetrics())

	cache.Prewarm(context.Background(), []Leg{{Venue: domain.VenueCPMMV2, A: tokenA, B: tokenB}}, time.Now().Add(time.Minute))

	v, ok := cache.store.Get(Leg{Venue: domain.VenueCPMMV2, A: tokenA, B: tokenB}.key())
	require.True(t, ok)
	require.NotNil(t, v)
	assert.Equal(t, pairAB, v.Pool)
}

func TestPrewarm_FallsBackPerLegWhenMulticallPartiallyFails(t *testing.T) {
	chain := newFakeChain()
	chain.setGetPair(factoryV2, tokenA, tokenB, pairAB)
	chain.setPairData(pairAB, tokenA, tokenB, big.NewInt(1000), big.NewInt(2000))
	cfg := baseConfig()

	cache := New(cfg, chain, newMulticallClient(cfg, brokenCaller{chain}), telemetry.NewNop(), telemetry.NewMetrics())

	cache.Prewarm(context.Background(), []Leg{{Venue: domain.VenueCPMMV2, A: tokenA, B: tokenB}}, time.Now().Add(time.Minute))

	v, ok := cache.store.Get(Leg{Venue: domain.VenueCPMMV2, A: tokenA, B: tokenB}.key())
	require.True(t, ok)
	require.NotNil(t, v)
	assert.Equal(t, pairAB, v.Pool)
}

func TestPrewarm_SkipsFallbackWhenBudgetExhausted(t *testing.T) {
	chain := newFakeChain() // deliberately empty: any real call errors
	cfg := baseConfig()
	cache := New(cfg, chain, newMulticallClient(cfg, brokenCaller{chain}), telemetry.NewNop(), telemetry.NewMetrics())

	leg := Leg{Venue: domain.VenueCPMMV2, A: tokenA, B: tokenB}
	cache.Prewarm(context.Background(), []Leg{leg}, time.Now().Add(-time.Second))

	_, ok := cache.store.Get(leg.key())
	assert.False(t, ok)
}

func TestPrewarm_SkipsLegsAlreadyCached(t *testing.T) {
	chain := newFakeChain() // no entries: would error if queried
	cfg := baseConfig()
	cache := New(cfg, chain, nil, telemetry.NewNop(), telemetry.NewMetrics())

	leg := Leg{Venue: domain.VenueCPMMV2, A: tokenA, B: tokenB}
	want := &domain.PairReserves{Pool: pairAB}
	cache.store.Set(leg.key(), want, time.Minute)

	cache.Prewarm(context.Background(), []Leg{leg}, time.Now().Add(time.Minute))

	got, ok := cache.store.Get(leg.key())
	require.True(t, ok)
	assert.Same(t, want, got)
}
