// Package config loads the process-wide domain.Config via viper,
// binding each env-overridable knob in spec §6.4 to its nested
// mapstructure path and filling in the documented defaults.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/plsx-router/quoteengine/internal/domain"
)

// Load reads path (if non-empty) as a config file, then overlays
// environment variables per spec §6.4, and unmarshals the result into a
// domain.Config. An empty path skips file loading entirely so a
// deployment can run off env vars alone.
func Load(path string) (domain.Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return domain.Config{}, fmt.Errorf("config: bind env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return domain.Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg domain.Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToAddressHookFunc(),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return domain.Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.ExchangeNames = map[domain.Venue]string{
		domain.VenueCPMMV1: v.GetString("exchange-names.v1"),
		domain.VenueCPMMV2: v.GetString("exchange-names.v2"),
		domain.VenueStable: v.GetString("exchange-names.stable"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("chain-id", 369)

	v.SetDefault("rpc.stall-timeout-ms", "1200ms")
	v.SetDefault("rpc.retry-count", 2)
	v.SetDefault("rpc.retry-delay-ms", "200ms")
	v.SetDefault("rpc.cooldown-ms", "30s")
	v.SetDefault("rpc.rate-limit-cooldown-ms", "60s")

	v.SetDefault("max-connector-hops", 1)
	v.SetDefault("cache-ttl.reserves-ms", "15s")
	v.SetDefault("cache-ttl.stable-index-ms", "5m")
	v.SetDefault("cache-ttl.price-ms", "15s")
	v.SetDefault("cache-ttl.price-negative-ms", "30s")

	v.SetDefault("quote-evaluation.timeout-ms", "3s")
	v.SetDefault("quote-evaluation.concurrency", 6)
	v.SetDefault("quote-evaluation.max-routes", 40)
	v.SetDefault("quote-evaluation.total-budget-ms", "6s")

	v.SetDefault("split.enabled", true)
	v.SetDefault("split.weights-bps", []int64{1000, 2000, 3000, 4000, 5000, 6000, 7000, 8000, 9000})
	v.SetDefault("split.max-routes-considered", 3)
	v.SetDefault("split.min-improvement-bps", 0)
	v.SetDefault("split.min-input-usd-value", 1000.0)

	v.SetDefault("multicall.enabled", true)
	v.SetDefault("multicall.max-batch-size", 50)
	v.SetDefault("multicall.timeout-ms", "3s")

	v.SetDefault("stable-routing.enabled", true)
	v.SetDefault("stable-routing.max-stable-pivots", domain.MaxStableConnectorRouteOptions)

	v.SetDefault("fee-bps-v1", 30)
	v.SetDefault("fee-bps-v2", 29)

	v.SetDefault("gas.base-units", 120_000)
	v.SetDefault("gas.per-leg-units", 90_000)

	v.SetDefault("exchange-names.v1", "PulseX V1")
	v.SetDefault("exchange-names.v2", "PulseX V2")
	v.SetDefault("exchange-names.stable", "StableSwap")
}

// bindEnv maps each flat env var name from spec §6.4 onto its nested
// mapstructure key, since the keys don't share a naming convention
// AutomaticEnv's dash/underscore replacement alone could bridge.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"CHAIN_ID": "chain-id",

		"RPC_ENDPOINTS":              "rpc.endpoints",
		"RPC_STALL_TIMEOUT_MS":       "rpc.stall-timeout-ms",
		"RPC_RETRY_COUNT":            "rpc.retry-count",
		"RPC_RETRY_DELAY_MS":         "rpc.retry-delay-ms",
		"RPC_COOLDOWN_MS":            "rpc.cooldown-ms",
		"RPC_RATE_LIMIT_COOLDOWN_MS": "rpc.rate-limit-cooldown-ms",

		"MAX_CONNECTOR_HOPS":  "max-connector-hops",
		"RESERVES_CACHE_TTL_MS": "cache-ttl.reserves-ms",
		"STABLE_INDEX_TTL_MS":   "cache-ttl.stable-index-ms",
		"PRICE_CACHE_TTL_MS":    "cache-ttl.price-ms",

		"QUOTE_TIMEOUT_MS":       "quote-evaluation.timeout-ms",
		"QUOTE_CONCURRENCY":      "quote-evaluation.concurrency",
		"QUOTE_MAX_ROUTES":       "quote-evaluation.max-routes",
		"QUOTE_TOTAL_TIMEOUT_MS": "quote-evaluation.total-budget-ms",

		"SPLIT_ROUTES_ENABLED":  "split.enabled",
		"MULTICALL_ENABLED":     "multicall.enabled",
		"MULTICALL_ADDRESS":     "multicall.address",
		"MULTICALL_MAX_BATCH":   "multicall.max-batch-size",
		"MULTICALL_TIMEOUT_MS":  "multicall.timeout-ms",

		"FACTORY_V1":     "factory-v1",
		"FACTORY_V2":     "factory-v2",
		"ROUTER_V1":      "router-v1",
		"ROUTER_V2":      "router-v2",
		"STABLE_POOL":    "stable-pool",
		"WRAPPED_NATIVE": "wrapped-native",
		"USD_STABLE":     "usd-stable",
		"CONNECTORS":     "connectors",
		"STABLE_TOKENS":  "stable-tokens",
		"FEE_BPS_V1":     "fee-bps-v1",
		"FEE_BPS_V2":     "fee-bps-v2",
	}

	for env, key := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

// stringToAddressHookFunc lets viper unmarshal a hex string directly
// into go-ethereum's common.Address, since mapstructure has no built-in
// decoder for it. Combined with StringToSliceHookFunc, a comma-separated
// env var also unmarshals into []common.Address.
func stringToAddressHookFunc() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(common.Address{}) {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if !common.IsHexAddress(s) {
			return data, fmt.Errorf("config: %q is not a valid address", s)
		}
		return common.HexToAddress(s), nil
	}
}
