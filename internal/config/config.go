// Package config loads the flat configuration namespace from
// environment variables. It is kept thin: cmd/copytrader is its only
// caller, and it never reaches into component internals.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TakeProfitTarget is one profit_pct:sell_pct rung, parsed from the
// `exit.take_profit_targets` env var.
type TakeProfitTarget struct {
	ProfitPct float64
	SellPct   float64
}

// Config is the single flat configuration namespace.
type Config struct {
	StreamEndpoint    string
	StreamReconnectMs int
	StreamMaxAttempts int // 0 = unbounded

	RPCEndpoint string

	WatchedWallets []string // seed membership for internal/watchlist.Set; the subscription manager mutates it thereafter

	TradeAmountUsdc               float64
	TradeAllowedTokens            []string
	TradeSlippageBps              int
	TradePriorityFeeMicroLamports uint64
	TradeUseBundleRelay           bool
	TradeBundleTipLamports        uint64

	RiskMaxPositionUsdc      float64
	RiskMaxTotalExposureUsdc float64
	RiskMaxOpenPositions     int
	RiskMinUsdcReserve       float64

	FilterEnabled            bool
	FilterMinLiquidityUsdc   float64
	FilterMaxPriceImpactPct  float64
	FilterMinTokenAgeSeconds int64
	FilterMin24hVolumeUsdc   float64
	FilterMaxRecentPumpPct   float64

	ExitEnabled               bool
	ExitTakeProfitTargets     []TakeProfitTarget
	ExitStopLossPct           float64
	ExitMaxHoldHours          float64
	ExitTrailingStopPct       *float64
	ExitTrailingActivationPct *float64
	ExitCheckIntervalSeconds  int

	// Environment ("production" | "development"), governs internal/logging.
	Env string

	QuoteAPIBaseURL     string
	QuoteAPIKey         string
	PriceAPIBaseURL     string
	MetadataAPIBaseURL  string
	RelayEndpoint       string
	WalletPrivateKeyEnv string // name of the env var holding the base58 private key

	FlowctlEnabled           bool
	FlowctlEndpoint          string
	FlowctlHeartbeatInterval time.Duration
	FlowctlComponentID       string
}

// Load populates a Config from environment variables, applying each
// key's default when unset.
func Load() (*Config, error) {
	cfg := &Config{
		StreamEndpoint:    getEnvOrDefault("STREAM_ENDPOINT", "18.234.24.82:50051"),
		StreamReconnectMs: getIntEnv("STREAM_RECONNECT_MS", 5000),
		StreamMaxAttempts: getIntEnv("STREAM_MAX_ATTEMPTS", 0),

		RPCEndpoint: getEnvOrDefault("RPC_ENDPOINT", ""),

		WatchedWallets: getWatchedWalletsEnv("WATCHED_WALLETS"),

		TradeAmountUsdc:               getFloatEnv("TRADE_AMOUNT_USDC", 2),
		TradeAllowedTokens:            getStringSliceEnv("TRADE_ALLOWED_TOKENS", ","),
		TradeSlippageBps:              getIntEnv("TRADE_SLIPPAGE_BPS", 100),
		TradePriorityFeeMicroLamports: getUint64Env("TRADE_PRIORITY_FEE_MICROLAMPORTS", 200000),
		TradeUseBundleRelay:           getBoolEnv("TRADE_USE_BUNDLE_RELAY", false),
		TradeBundleTipLamports:        getUint64Env("TRADE_BUNDLE_TIP_LAMPORTS", 1000000),

		RiskMaxPositionUsdc:      getFloatEnv("RISK_MAX_POSITION_USDC", 50),
		RiskMaxTotalExposureUsdc: getFloatEnv("RISK_MAX_TOTAL_EXPOSURE_USDC", 200),
		RiskMaxOpenPositions:     getIntEnv("RISK_MAX_OPEN_POSITIONS", 10),
		RiskMinUsdcReserve:       getFloatEnv("RISK_MIN_USDC_RESERVE", 10),

		FilterEnabled:            getBoolEnv("FILTER_ENABLED", true),
		FilterMinLiquidityUsdc:   getFloatEnv("FILTER_MIN_LIQUIDITY_USDC", 50000),
		FilterMaxPriceImpactPct:  getFloatEnv("FILTER_MAX_PRICE_IMPACT_PCT", 2),
		FilterMinTokenAgeSeconds: getInt64Env("FILTER_MIN_TOKEN_AGE_SECONDS", 3600),
		FilterMin24hVolumeUsdc:   getFloatEnv("FILTER_MIN_24H_VOLUME_USDC", 10000),
		FilterMaxRecentPumpPct:   getFloatEnv("FILTER_MAX_RECENT_PUMP_PCT", 50),

		ExitEnabled:               getBoolEnv("EXIT_ENABLED", false),
		ExitTakeProfitTargets:     parseTakeProfitTargets(getEnvOrDefault("EXIT_TAKE_PROFIT_TARGETS", "50:25,100:50,300:100")),
		ExitStopLossPct:           getFloatEnv("EXIT_STOP_LOSS_PCT", -30),
		ExitMaxHoldHours:          getFloatEnv("EXIT_MAX_HOLD_HOURS", 24),
		ExitTrailingStopPct:       getOptionalFloatEnv("EXIT_TRAILING_STOP_PCT"),
		ExitTrailingActivationPct: getOptionalFloatEnv("EXIT_TRAILING_ACTIVATION_PCT"),
		ExitCheckIntervalSeconds:  getIntEnv("EXIT_CHECK_INTERVAL_SECONDS", 30),

		Env: getEnvOrDefault("ENV", "production"),

		QuoteAPIBaseURL:     getEnvOrDefault("QUOTE_API_BASE_URL", ""),
		QuoteAPIKey:         getEnvOrDefault("QUOTE_API_KEY", ""),
		PriceAPIBaseURL:     getEnvOrDefault("PRICE_API_BASE_URL", ""),
		MetadataAPIBaseURL:  getEnvOrDefault("METADATA_API_BASE_URL", ""),
		RelayEndpoint:       getEnvOrDefault("RELAY_ENDPOINT", ""),
		WalletPrivateKeyEnv: getEnvOrDefault("WALLET_PRIVATE_KEY_ENV", "WALLET_PRIVATE_KEY"),

		FlowctlEnabled:           getBoolEnv("ENABLE_FLOWCTL", false),
		FlowctlEndpoint:          getEnvOrDefault("FLOWCTL_ENDPOINT", "localhost:8080"),
		FlowctlHeartbeatInterval: getDurationEnv("FLOWCTL_HEARTBEAT_INTERVAL", 10*time.Second),
		FlowctlComponentID:       getEnvOrDefault("FLOWCTL_COMPONENT_ID", ""),
	}

	if cfg.RPCEndpoint == "" {
		return nil, fmt.Errorf("config: RPC_ENDPOINT is required")
	}

	return cfg, nil
}

// ReconnectDelay converts StreamReconnectMs to a time.Duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.StreamReconnectMs) * time.Millisecond
}

// MaxHold converts ExitMaxHoldHours to a time.Duration.
func (c *Config) MaxHold() time.Duration {
	return time.Duration(c.ExitMaxHoldHours * float64(time.Hour))
}

// CheckInterval converts ExitCheckIntervalSeconds to a time.Duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.ExitCheckIntervalSeconds) * time.Second
}

func parseTakeProfitTargets(raw string) []TakeProfitTarget {
	var out []TakeProfitTarget
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		profit, err1 := strconv.ParseFloat(parts[0], 64)
		sell, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, TakeProfitTarget{ProfitPct: profit, SellPct: sell})
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return result
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return result
}

func getInt64Env(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return result
}

func getUint64Env(key string, defaultValue uint64) uint64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return result
}

func getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return result
}

func getOptionalFloatEnv(key string) *float64 {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &result
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return result
}

func getStringSliceEnv(key, separator string) []string {
	value := os.Getenv(key)
	if value == "" {
		return []string{"WIF"}
	}
	return strings.Split(value, separator)
}

// getWatchedWalletsEnv parses the seed watchlist membership: empty
// when unset, since the subscription manager (external to this core)
// is expected to populate internal/watchlist.Set at runtime.
func getWatchedWalletsEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, addr := range strings.Split(value, ",") {
		addr = strings.TrimSpace(addr)
		if addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
