package config

import (
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plsx-router/quoteengine/internal/domain"
)

func TestLoad_DefaultsAppliedWithoutConfigFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(369), cfg.ChainID)
	assert.Equal(t, 1200*time.Millisecond, cfg.RPC.StallTimeoutMs)
	assert.Equal(t, 2, cfg.RPC.RetryCount)
	assert.Equal(t, 30*time.Second, cfg.RPC.CooldownMs)
	assert.Equal(t, 6, cfg.QuoteEvaluation.Concurrency)
	assert.Equal(t, 40, cfg.QuoteEvaluation.MaxRoutes)
	assert.True(t, cfg.Split.Enabled)
	assert.True(t, cfg.Multicall.Enabled)
	assert.Equal(t, 50, cfg.Multicall.MaxBatchSize)
	assert.Equal(t, uint16(30), cfg.FeeBpsV1)
	assert.Equal(t, uint16(29), cfg.FeeBpsV2)
	assert.Equal(t, "PulseX V1", cfg.ExchangeNames[domain.VenueCPMMV1])
}

func TestLoad_EnvOverridesBoundKeys(t *testing.T) {
	t.Setenv("CHAIN_ID", "943")
	t.Setenv("QUOTE_CONCURRENCY", "12")
	t.Setenv("SPLIT_ROUTES_ENABLED", "false")
	t.Setenv("FACTORY_V2", "0x0000000000000000000000000000000000000001")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(943), cfg.ChainID)
	assert.Equal(t, 12, cfg.QuoteEvaluation.Concurrency)
	assert.False(t, cfg.Split.Enabled)
	assert.Equal(t, common.HexToAddress("0x1"), cfg.FactoryV2)
}

func TestLoad_CommaSeparatedEnvAddressList(t *testing.T) {
	t.Setenv("CONNECTORS", "0x0000000000000000000000000000000000000001,0x0000000000000000000000000000000000000002")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Len(t, cfg.Connectors, 2)
	assert.Equal(t, common.HexToAddress("0x1"), cfg.Connectors[0])
	assert.Equal(t, common.HexToAddress("0x2"), cfg.Connectors[1])
}

func TestLoad_ConfigFileOverridesDefaults(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "quoteengine-*.json")
	require.NoError(t, err)
	_, err = f.WriteString(`{"chain-id": 1, "wrapped-native": "0x0000000000000000000000000000000000000009"}`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(f.Name())
	require.NoError(t, err)

	assert.Equal(t, int64(1), cfg.ChainID)
	assert.Equal(t, common.HexToAddress("0x9"), cfg.WrappedNative)
	// Defaults not touched by the file still apply.
	assert.Equal(t, 6, cfg.QuoteEvaluation.Concurrency)
}

func TestLoad_RejectsInvalidAddress(t *testing.T) {
	t.Setenv("WRAPPED_NATIVE", "not-an-address")
	_, err := Load("")
	assert.Error(t, err)
}
