package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the process-wide configuration, immutable after Load.
// Field names mirror the env knobs in spec §6.4; mapstructure tags let
// internal/config bind it with viper.
type Config struct {
	ChainID int64 `mapstructure:"chain-id"`

	FactoryV1 common.Address `mapstructure:"factory-v1"`
	FactoryV2 common.Address `mapstructure:"factory-v2"`
	RouterV1  common.Address `mapstructure:"router-v1"`
	RouterV2  common.Address `mapstructure:"router-v2"`
	StablePool common.Address `mapstructure:"stable-pool"`

	// ExchangeNames maps each venue to a display name used in the
	// response's combined route (SPEC_FULL §3 supplementary entities).
	ExchangeNames map[Venue]string `mapstructure:"-"`

	// Connectors is the ordered connector token list; element 0 must be
	// the wrapped native token.
	Connectors []common.Address `mapstructure:"connectors"`
	// StableTokens is a proper subset of Connectors, including the
	// canonical USD stablecoin.
	StableTokens []common.Address `mapstructure:"stable-tokens"`

	WrappedNative common.Address `mapstructure:"wrapped-native"`
	USDStable     common.Address `mapstructure:"usd-stable"`

	FeeBpsV1     uint16 `mapstructure:"fee-bps-v1"`
	FeeBpsV2     uint16 `mapstructure:"fee-bps-v2"`
	MaxConnectorHops int `mapstructure:"max-connector-hops"`

	CacheTTL CacheTTLConfig `mapstructure:"cache-ttl"`

	QuoteEvaluation QuoteEvaluationConfig `mapstructure:"quote-evaluation"`

	Split SplitConfig `mapstructure:"split"`

	Gas GasConfig `mapstructure:"gas"`

	Multicall MulticallConfig `mapstructure:"multicall"`

	StableRouting StableRoutingConfig `mapstructure:"stable-routing"`

	RPC RPCPoolConfig `mapstructure:"rpc"`
}

// CacheTTLConfig holds the three TTLs named in spec §3/§6.4.
type CacheTTLConfig struct {
	Reserves    time.Duration `mapstructure:"reserves-ms"`
	StableIndex time.Duration `mapstructure:"stable-index-ms"`
	Price       time.Duration `mapstructure:"price-ms"`
	// PriceNegative is the shorter TTL (~30s) for failed price lookups.
	PriceNegative time.Duration `mapstructure:"price-negative-ms"`
}

// QuoteEvaluationConfig holds the per-call/per-quote timing and fan-out
// knobs from spec §6.4.
type QuoteEvaluationConfig struct {
	TimeoutMs      time.Duration `mapstructure:"timeout-ms"`
	Concurrency    int           `mapstructure:"concurrency"`
	TotalBudgetMs  time.Duration `mapstructure:"total-budget-ms"`
	MaxRoutes      int           `mapstructure:"max-routes"`
}

// SplitConfig controls the pairwise split search of spec §4.9.
type SplitConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	WeightsBps         []int64 `mapstructure:"weights-bps"`
	MaxRoutesConsidered int    `mapstructure:"max-routes-considered"`
	MinImprovementBps  int64   `mapstructure:"min-improvement-bps"`
	MinInputUSDValue   float64 `mapstructure:"min-input-usd-value"`
}

// GasConfig holds the per-route/per-leg unit estimates of spec §3.
type GasConfig struct {
	BaseUnits  uint64 `mapstructure:"base-units"`
	PerLegUnits uint64 `mapstructure:"per-leg-units"`
}

// MulticallConfig mirrors spec §4.2/§6.4.
type MulticallConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	Address      common.Address `mapstructure:"address"`
	MaxBatchSize int            `mapstructure:"max-batch-size"`
	TimeoutMs    time.Duration  `mapstructure:"timeout-ms"`
}

// StableRoutingConfig is the spec §9 Open Question resolution: a single
// Enabled flag plus a pivot-count bound, with the original finer-grained
// flags preserved as optional overrides (both default to Enabled).
type StableRoutingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	MaxStablePivots int `mapstructure:"max-stable-pivots"`

	// UseStableForStableToStable and UseStableAsConnector preserve the
	// original implementation's finer-grained flags; nil means "inherit
	// Enabled".
	UseStableForStableToStable *bool `mapstructure:"use-stable-for-stable-to-stable"`
	UseStableAsConnector       *bool `mapstructure:"use-stable-as-connector"`
}

func (s StableRoutingConfig) stableForStableToStable() bool {
	if s.UseStableForStableToStable != nil {
		return *s.UseStableForStableToStable
	}
	return s.Enabled
}

func (s StableRoutingConfig) stableAsConnector() bool {
	if s.UseStableAsConnector != nil {
		return *s.UseStableAsConnector
	}
	return s.Enabled
}

// MaxStableConnectorRouteOptions is the spec §4.6 constant bounding how
// many leg-option expansions a stable-pivot candidate contributes on its
// non-stable side.
const MaxStableConnectorRouteOptions = 4

// RPCPoolConfig mirrors spec §6.4's RPC_* knobs.
type RPCPoolConfig struct {
	Endpoints            []string      `mapstructure:"endpoints"`
	StallTimeoutMs       time.Duration `mapstructure:"stall-timeout-ms"`
	RetryCount           int           `mapstructure:"retry-count"`
	RetryDelayMs         time.Duration `mapstructure:"retry-delay-ms"`
	CooldownMs           time.Duration `mapstructure:"cooldown-ms"`
	RateLimitCooldownMs  time.Duration `mapstructure:"rate-limit-cooldown-ms"`
}

// StableForStableToStable reports whether stable legs should be offered
// between two stable endpoints.
func (c Config) StableForStableToStable() bool {
	return c.StableRouting.stableForStableToStable()
}

// StableAsConnector reports whether a stable token may be used as a
// pivot connector when exactly one endpoint is stable.
func (c Config) StableAsConnector() bool {
	return c.StableRouting.stableAsConnector()
}

// FeeBps returns the basis-point fee configured for a CPMM venue. Panics
// for VenueStable, which has no CPMM fee.
func (c Config) FeeBps(v Venue) uint16 {
	switch v {
	case VenueCPMMV1:
		return c.FeeBpsV1
	case VenueCPMMV2:
		return c.FeeBpsV2
	default:
		panic("FeeBps called with non-CPMM venue")
	}
}

// Router returns the router address associated with a CPMM venue, used
// to populate QuoteResult.Router.
func (c Config) Router(v Venue) common.Address {
	if v == VenueCPMMV1 {
		return c.RouterV1
	}
	return c.RouterV2
}

// IsStable reports whether addr (already normalised) is in the
// configured stable token set.
func (c Config) IsStable(addr common.Address) bool {
	for _, t := range c.StableTokens {
		if t == addr {
			return true
		}
	}
	return false
}

// IsConnector reports whether addr (already normalised) is in the
// configured connector set.
func (c Config) IsConnector(addr common.Address) bool {
	for _, t := range c.Connectors {
		if t == addr {
			return true
		}
	}
	return false
}

// CoreConnectors is the fixed fallback set spec §4.10 step 8 names for
// the direct-fallback route search: WPLS, USDC, PLSX. The first entry is
// always WrappedNative; the remaining entries are the first two other
// configured connectors, taken in configured order. Connectors are not
// matched by symbol, so with a different connector order the set is not
// USDC and PLSX.
func (c Config) CoreConnectors() []common.Address {
	core := []common.Address{c.WrappedNative}
	for _, t := range c.Connectors {
		if t != c.WrappedNative {
			core = append(core, t)
		}
		if len(core) >= 3 {
			break
		}
	}
	return core
}
