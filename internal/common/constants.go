package common

// Environment variable keys read at config load time (spec §6.1); a set
// environment variable overrides the matching YAML config value.
const (
	EnvAPIKey           = "EXCHANGE_API_KEY"
	EnvSecretKey        = "EXCHANGE_SECRET_KEY"
	EnvForceLiveTrading = "FORCE_LIVE_TRADING"
	EnvSymbols          = "SYMBOLS"
	EnvBaseURL          = "BASE_URL"
	EnvDataPath         = "DATA_PATH"
	EnvModelPath        = "MODEL_PATH"
	EnvDryRun           = "DRY_RUN"
	EnvMetricsPort      = "METRICS_PORT"
	EnvConfigPath       = "CONFIG_PATH"
	EnvWsURL            = "WS_URL"
	EnvTestnet          = "EXCHANGE_TESTNET"
)

// Configuration defaults (spec §6.1).
const (
	DefaultBaseURL     = "https://api.exchange.example"
	DefaultWsURL       = "wss://ws.exchange.example"
	DefaultModelPath   = "models/model.json"
	DefaultMetricsPort = 8080
)

// Margin ratio thresholds, percent (spec §4.6 BalanceMonitor). Below
// MarginRatioWarning is CRITICAL.
const (
	MarginRatioSafe    = 200.0
	MarginRatioCaution = 150.0
	MarginRatioWarning = 100.0
)

// PositionLimits gate defaults (spec §4.7), overridable via
// position_management.* config keys.
const (
	DefaultMaxConcurrentPositions = 3
	DefaultMaxExposureUSD         = 500.0
	DefaultMaxPerSymbolPositions  = 1
)

// CooldownManager defaults (spec §4.8): composite trend strength is
// 0.5*adx + 0.3*di + 0.2*ema, bypassing cooldown at or above the min.
const (
	DefaultCooldownSeconds = 300
	TrendStrengthADXWeight = 0.5
	TrendStrengthDIWeight  = 0.3
	TrendStrengthEMAWeight = 0.2
	TrendStrengthBypassMin = 0.7
)

// ResilienceManager circuit breaker defaults (spec §4.1).
const (
	DefaultBreakerErrorThreshold = 5
	DefaultBreakerWindowSeconds  = 60
	DefaultBreakerCooldown       = 300
	DefaultErrorHistoryCap       = 1000
	EmergencyStopCriticalCount   = 3
)

// AtomicEntryManager retry/backoff defaults (spec §4.11, original_source
// atomic_entry_manager.py place_tp_with_retry/place_sl_with_retry):
// backoff = EntryRetryBackoffBaseS ** (attempt-1), seconds.
const (
	DefaultEntryMaxRetries = 3
	EntryRetryBackoffBaseS = 2
)

// StopManager defaults (spec §4.12, original_source stop_manager.py).
const (
	DefaultStopCheckIntervalSeconds = 5
	SLSafetyMarginBuy               = 1.015
	SLSafetyMarginSell              = 0.985
	OrphanSLJournalCap              = 500
	OrphanSLTTLDays                 = 7
	DefaultMinHoldMinutes           = 1
	DefaultMaxLossThreshold         = 0.05
)

// OrderStrategy / TPSLCalculator defaults (spec §4.9, §4.10).
const (
	DefaultMakerWalkAttempts = 3
	DefaultMakerWalkTicks    = 1
	DefaultATRFallbackPct    = 0.01
)

// Common error messages surfaced by config validation (spec §6.1).
const (
	ErrMsgAPIKeyRequired    = "API key and secret are required for live trading"
	ErrMsgBaseURLRequired   = "baseURL is required"
	ErrMsgSymbolRequired    = "at least one trading symbol is required"
	ErrMsgForceLiveRequired = "live trading requires FORCE_LIVE_TRADING=true environment variable"
)
