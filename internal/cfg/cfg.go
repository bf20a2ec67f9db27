// Package cfg loads tradecore's runtime configuration: exchange credentials
// from the environment (spec §6 — "nothing else is required by the core"),
// and the full thresholds document from YAML, with environment variables
// taking precedence over YAML, which takes precedence over hard defaults.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tradecore/internal/atomicentry"
	"tradecore/internal/balance"
	"tradecore/internal/common"
	"tradecore/internal/orderstrategy"
	"tradecore/internal/position"
	"tradecore/internal/stopmanager"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings is the flattened, typed configuration tradecore runs with. Every
// nested group mirrors a key group from spec §6's thresholds document.
type Settings struct {
	APIKey    string
	APISecret string
	Testnet   bool

	BaseURL     string
	WsURL       string
	RESTTimeout time.Duration

	Symbols     []string
	DryRun      bool
	MetricsPort int
	DataPath    string
	ModelPath   string

	PositionManagement PositionManagement
	OrderExecution      OrderExecution
	Margin              Margin
	Risk                Risk
	Trading             Trading
	BalanceAlert        BalanceAlert
	TPSLVerification    TPSLVerification
	TPSLAutoDetection   bool
}

// PositionManagement mirrors spec §6's position_management.* group.
type PositionManagement struct {
	MinAccountBalance     float64
	MinTradeSize          float64
	MaxOpenPositions      int
	CooldownMinutes       float64
	MaxDailyTrades        int
	LowConfidenceRatio    float64
	MediumConfidenceRatio float64
	HighConfidenceRatio   float64
	EnforceMinimum        bool
	DynamicSizingEnabled  bool

	TakeProfit        TakeProfit
	StopLoss          StopLoss
	EmergencyStopLoss EmergencyStopLoss
	Trailing          Trailing
	Cleanup           Cleanup
}

// TakeProfit mirrors position_management.take_profit.*.
type TakeProfit struct {
	Enabled        bool
	MinProfitRatio float64
	DefaultRatio   float64
	FixedAmount    FixedAmount
}

// FixedAmount mirrors take_profit.fixed_amount.*.
type FixedAmount struct {
	Enabled              bool
	TargetNetProfit      float64
	IncludeEntryFee      bool
	IncludeExitFeeRebate bool
	IncludeInterest      bool
}

// StopLoss mirrors position_management.stop_loss.*.
type StopLoss struct {
	Enabled              bool
	MaxLossRatio         float64
	DefaultATRMultiplier float64
	MinDistanceRatio     float64
	OrderType            string
	SkipBotMonitoring    bool
	StopLimitTimeout     time.Duration
	RetryOnUnfilled      RetryOnUnfilled
	FillConfirmation     FillConfirmation
}

// RetryOnUnfilled mirrors stop_loss.retry_on_unfilled.*.
type RetryOnUnfilled struct {
	Enabled                  bool
	MaxRetries               int
	SlippageIncreasePerRetry float64
}

// FillConfirmation mirrors stop_loss.fill_confirmation.*.
type FillConfirmation struct {
	Enabled              bool
	TimeoutSeconds       int
	CheckIntervalSeconds int
}

// EmergencyStopLoss mirrors position_management.emergency_stop_loss.*.
type EmergencyStopLoss struct {
	Enable               bool
	MaxLossThreshold     float64
	MinHoldMinutes       int
	PriceChangeThreshold float64
}

// Trailing mirrors position_management.trailing.*. Recognized so a
// thresholds document that sets it validates cleanly; no component
// currently consumes trailing-stop adjustment (see DESIGN.md).
type Trailing struct {
	Enabled             bool
	ActivationProfit    float64
	TrailingPercent     float64
	MinUpdateDistance   float64
	MinProfitLock       float64
	CancelTPWhenExceeds bool
}

// Cleanup mirrors position_management.cleanup.*.
type Cleanup struct {
	MaxAgeHours    int
	ThresholdCount int
}

// OrderExecution mirrors spec §6's order_execution.* group.
type OrderExecution struct {
	SmartOrderEnabled          bool
	DefaultOrderType           string
	EntryPriceStrategy         string
	GuaranteedExecutionPremium float64
	PriceImprovementRatio      float64
	HighConfidenceThreshold    float64
	LowConfidenceThreshold     float64
	MaxSpreadRatioForLimit     float64
	MakerStrategy              MakerStrategy
}

// MakerStrategy mirrors order_execution.maker_strategy.*.
type MakerStrategy struct {
	Enabled                 bool
	MaxRetries              int
	RetryIntervalMs         int
	TimeoutSeconds          int
	MinSpreadForMaker       float64
	VolatilityThreshold     float64
	PriceAdjustmentTick     float64
	MaxPriceAdjustmentRatio float64
}

// Margin mirrors spec §6's margin.* group.
type Margin struct {
	SafeThreshold      float64
	CautionThreshold   float64
	WarningThreshold   float64
	CriticalThreshold  float64
	MinPositionValue   float64
	MaxRatioCap        float64
	LargeDropThreshold float64
	MaxHistoryCount    int
}

// Risk mirrors spec §6's risk.* group.
type Risk struct {
	RequireTPSLRecalculation bool
	FallbackATR              float64
}

// Trading mirrors spec §6's trading.* group.
type Trading struct {
	FallbackPrice  float64
	EntryTakerRate float64
	ExitTakerRate  float64
}

// BalanceAlert mirrors spec §6's balance_alert.* group.
type BalanceAlert struct {
	Enabled           bool
	MinRequiredMargin float64
}

// TPSLVerification mirrors spec §6's tp_sl_verification.* group.
type TPSLVerification struct {
	Enabled          bool
	DelaySeconds     int
	RebuildOnMissing bool
	DefaultRegime    string
}

// PositionLimitsConfig builds position.Limits's config from Settings.
func (s Settings) PositionLimitsConfig() position.LimitsConfig {
	return position.LimitsConfig{
		DynamicSizingEnabled:    s.PositionManagement.DynamicSizingEnabled,
		MinAccountBalance:       s.PositionManagement.MinAccountBalance,
		MinTradeSize:            s.PositionManagement.MinTradeSize,
		CooldownMinutes:         s.PositionManagement.CooldownMinutes,
		MaxOpenPositionsDefault: s.PositionManagement.MaxOpenPositions,
		MaxCapitalUsageRatio:    0.30,
		MaxDailyTrades:          s.PositionManagement.MaxDailyTrades,
		LowConfidenceRatio:      s.PositionManagement.LowConfidenceRatio,
		MediumConfidenceRatio:   s.PositionManagement.MediumConfidenceRatio,
		HighConfidenceRatio:     s.PositionManagement.HighConfidenceRatio,
		EnforceMinimum:          s.PositionManagement.EnforceMinimum,
	}
}

// CooldownConfig builds position.CooldownManager's config from Settings.
func (s Settings) CooldownConfig() position.CooldownConfig {
	return position.CooldownConfig{
		Enabled:                true,
		FlexibleModeEnabled:    true,
		TrendStrengthThreshold: common.TrendStrengthBypassMin,
	}
}

// TPSLConfig builds orderstrategy.Calculator's config from Settings.
func (s Settings) TPSLConfig() orderstrategy.TPSLConfig {
	return orderstrategy.TPSLConfig{
		ATRMultiplier:        s.PositionManagement.StopLoss.DefaultATRMultiplier,
		MinDistanceRatio:     s.PositionManagement.StopLoss.MinDistanceRatio,
		MaxLossRatio:         s.PositionManagement.StopLoss.MaxLossRatio,
		MinProfitRatio:       s.PositionManagement.TakeProfit.MinProfitRatio,
		TakeProfitRatio:      s.PositionManagement.TakeProfit.DefaultRatio,
		FallbackATR:          s.Risk.FallbackATR,
		RequireRecalculation: s.Risk.RequireTPSLRecalculation,
	}
}

// OrderStrategyConfig builds orderstrategy.Strategy's config from Settings.
func (s Settings) OrderStrategyConfig() orderstrategy.Config {
	mode := orderstrategy.PriceModeGuaranteedFill
	if s.OrderExecution.EntryPriceStrategy == "unfavorable" {
		mode = orderstrategy.PriceModePriceImprovement
	}
	return orderstrategy.Config{
		SmartOrderEnabled:       s.OrderExecution.SmartOrderEnabled,
		EntryPriceStrategy:      mode,
		GuaranteedExecutionPrem: s.OrderExecution.GuaranteedExecutionPremium,
		PriceImprovementRatio:   s.OrderExecution.PriceImprovementRatio,
		HighConfidenceThreshold: s.OrderExecution.HighConfidenceThreshold,
		LowConfidenceThreshold:  s.OrderExecution.LowConfidenceThreshold,
		MaxSpreadRatioForLimit:  s.OrderExecution.MaxSpreadRatioForLimit,
		MakerEnabled:            s.OrderExecution.MakerStrategy.Enabled,
	}
}

// BalanceConfig builds balance.Monitor's config from Settings.
func (s Settings) BalanceConfig() balance.Config {
	return balance.Config{
		SafeThreshold:     s.Margin.SafeThreshold,
		CautionThreshold:  s.Margin.CautionThreshold,
		WarningThreshold:  s.Margin.WarningThreshold,
		CriticalThreshold: s.Margin.CriticalThreshold,
		MinPositionValue:  s.Margin.MinPositionValue,
		MaxRatioCap:       s.Margin.MaxRatioCap,
		AuthErrorRetryMax: common.DefaultBreakerErrorThreshold - 2,
	}
}

// StopManagerConfig builds stopmanager.Manager's config from Settings.
func (s Settings) StopManagerConfig() stopmanager.Config {
	return stopmanager.Config{
		CheckInterval:         common.DefaultStopCheckIntervalSeconds * time.Second,
		StopLimitTimeout:      s.PositionManagement.StopLoss.StopLimitTimeout,
		EmergencyEnabled:      s.PositionManagement.EmergencyStopLoss.Enable,
		MinHoldMinutes:        s.PositionManagement.EmergencyStopLoss.MinHoldMinutes,
		MaxLossThreshold:      s.PositionManagement.EmergencyStopLoss.MaxLossThreshold,
		EntryTakerRate:        s.Trading.EntryTakerRate,
		ExitTakerRate:         s.Trading.ExitTakerRate,
		CleanupMaxAgeHours:    s.PositionManagement.Cleanup.MaxAgeHours,
		CleanupThresholdCount: s.PositionManagement.Cleanup.ThresholdCount,
		SkipBotMonitoring:     s.PositionManagement.StopLoss.SkipBotMonitoring,
		SLOrderType:           s.PositionManagement.StopLoss.OrderType,
	}
}

// AtomicEntryConfig builds atomicentry.Manager's config from Settings.
func (s Settings) AtomicEntryConfig() atomicentry.Config {
	return atomicentry.Config{
		MaxRetries:       s.PositionManagement.StopLoss.RetryOnUnfilled.MaxRetries,
		BackoffBaseSec:   common.EntryRetryBackoffBaseS,
		CleanupThreshold: s.PositionManagement.Cleanup.ThresholdCount,
	}
}

// configFile is the raw YAML shape (string durations, spec §6's key
// groups verbatim) before it is flattened into Settings.
type configFile struct {
	API struct {
		BaseURL string `yaml:"baseURL"`
		WsURL   string `yaml:"wsURL"`
	} `yaml:"api"`

	System struct {
		RESTTimeout string `yaml:"restTimeout"`
		MetricsPort int    `yaml:"metricsPort"`
		DataPath    string `yaml:"dataPath"`
		ModelPath   string `yaml:"modelPath"`
	} `yaml:"system"`

	Trading struct {
		Symbols []string `yaml:"symbols"`
		DryRun  bool     `yaml:"dryRun"`
	} `yaml:"tradingMode"`

	PositionManagement struct {
		MinAccountBalance float64 `yaml:"min_account_balance"`
		MinTradeSize      float64 `yaml:"min_trade_size"`
		MaxOpenPositions  int     `yaml:"max_open_positions"`
		CooldownMinutes   float64 `yaml:"cooldown_minutes"`
		MaxDailyTrades    int     `yaml:"max_daily_trades"`

		MaxPositionRatioPerTrade struct {
			LowConfidence    float64 `yaml:"low_confidence"`
			MediumConfidence float64 `yaml:"medium_confidence"`
			HighConfidence   float64 `yaml:"high_confidence"`
			EnforceMinimum   bool    `yaml:"enforce_minimum"`
		} `yaml:"max_position_ratio_per_trade"`

		DynamicPositionSizing struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"dynamic_position_sizing"`

		TakeProfit struct {
			Enabled        bool    `yaml:"enabled"`
			MinProfitRatio float64 `yaml:"min_profit_ratio"`
			DefaultRatio   float64 `yaml:"default_ratio"`
			FixedAmount    struct {
				Enabled              bool    `yaml:"enabled"`
				TargetNetProfit      float64 `yaml:"target_net_profit"`
				IncludeEntryFee      bool    `yaml:"include_entry_fee"`
				IncludeExitFeeRebate bool    `yaml:"include_exit_fee_rebate"`
				IncludeInterest      bool    `yaml:"include_interest"`
			} `yaml:"fixed_amount"`
		} `yaml:"take_profit"`

		StopLoss struct {
			Enabled              bool    `yaml:"enabled"`
			MaxLossRatio         float64 `yaml:"max_loss_ratio"`
			DefaultATRMultiplier float64 `yaml:"default_atr_multiplier"`
			MinDistance          struct {
				Ratio float64 `yaml:"ratio"`
			} `yaml:"min_distance"`
			OrderType         string `yaml:"order_type"`
			SkipBotMonitoring bool   `yaml:"skip_bot_monitoring"`
			StopLimitTimeout  int    `yaml:"stop_limit_timeout"`
			RetryOnUnfilled   struct {
				Enabled                  bool    `yaml:"enabled"`
				MaxRetries               int     `yaml:"max_retries"`
				SlippageIncreasePerRetry float64 `yaml:"slippage_increase_per_retry"`
			} `yaml:"retry_on_unfilled"`
			FillConfirmation struct {
				Enabled              bool `yaml:"enabled"`
				TimeoutSeconds       int  `yaml:"timeout_seconds"`
				CheckIntervalSeconds int  `yaml:"check_interval_seconds"`
			} `yaml:"fill_confirmation"`
		} `yaml:"stop_loss"`

		EmergencyStopLoss struct {
			Enable               bool    `yaml:"enable"`
			MaxLossThreshold     float64 `yaml:"max_loss_threshold"`
			MinHoldMinutes       int     `yaml:"min_hold_minutes"`
			PriceChangeThreshold float64 `yaml:"price_change_threshold"`
		} `yaml:"emergency_stop_loss"`

		Trailing struct {
			Enabled             bool    `yaml:"enabled"`
			ActivationProfit    float64 `yaml:"activation_profit"`
			TrailingPercent     float64 `yaml:"trailing_percent"`
			MinUpdateDistance   float64 `yaml:"min_update_distance"`
			MinProfitLock       float64 `yaml:"min_profit_lock"`
			CancelTPWhenExceeds bool    `yaml:"cancel_tp_when_exceeds"`
		} `yaml:"trailing"`

		Cleanup struct {
			MaxAgeHours    int `yaml:"max_age_hours"`
			ThresholdCount int `yaml:"threshold_count"`
		} `yaml:"cleanup"`
	} `yaml:"position_management"`

	OrderExecution struct {
		SmartOrderEnabled          bool    `yaml:"smart_order_enabled"`
		DefaultOrderType           string  `yaml:"default_order_type"`
		EntryPriceStrategy         string  `yaml:"entry_price_strategy"`
		GuaranteedExecutionPremium float64 `yaml:"guaranteed_execution_premium"`
		PriceImprovementRatio      float64 `yaml:"price_improvement_ratio"`
		HighConfidenceThreshold    float64 `yaml:"high_confidence_threshold"`
		LowConfidenceThreshold     float64 `yaml:"low_confidence_threshold"`
		MaxSpreadRatioForLimit     float64 `yaml:"max_spread_ratio_for_limit"`
		MakerStrategy              struct {
			Enabled                 bool    `yaml:"enabled"`
			MaxRetries              int     `yaml:"max_retries"`
			RetryIntervalMs         int     `yaml:"retry_interval_ms"`
			TimeoutSeconds          int     `yaml:"timeout_seconds"`
			MinSpreadForMaker       float64 `yaml:"min_spread_for_maker"`
			VolatilityThreshold     float64 `yaml:"volatility_threshold"`
			PriceAdjustmentTick     float64 `yaml:"price_adjustment_tick"`
			MaxPriceAdjustmentRatio float64 `yaml:"max_price_adjustment_ratio"`
		} `yaml:"maker_strategy"`
	} `yaml:"order_execution"`

	Margin struct {
		Thresholds struct {
			Safe     float64 `yaml:"safe"`
			Caution  float64 `yaml:"caution"`
			Warning  float64 `yaml:"warning"`
			Critical float64 `yaml:"critical"`
		} `yaml:"thresholds"`
		MinPositionValue   float64 `yaml:"min_position_value"`
		MaxRatioCap        float64 `yaml:"max_ratio_cap"`
		LargeDropThreshold float64 `yaml:"large_drop_threshold"`
		MaxHistoryCount    int     `yaml:"max_history_count"`
	} `yaml:"margin"`

	Risk struct {
		RequireTPSLRecalculation bool    `yaml:"require_tpsl_recalculation"`
		FallbackATR              float64 `yaml:"fallback_atr"`
	} `yaml:"risk"`

	TradingThresholds struct {
		FallbackPrice float64 `yaml:"fallback_btc_jpy"`
		Fees          struct {
			EntryTakerRate float64 `yaml:"entry_taker_rate"`
			ExitTakerRate  float64 `yaml:"exit_taker_rate"`
		} `yaml:"fees"`
	} `yaml:"trading"`

	BalanceAlert struct {
		Enabled           bool    `yaml:"enabled"`
		MinRequiredMargin float64 `yaml:"min_required_margin"`
	} `yaml:"balance_alert"`

	TPSLVerification struct {
		Enabled          bool   `yaml:"enabled"`
		DelaySeconds     int    `yaml:"delay_seconds"`
		RebuildOnMissing bool   `yaml:"rebuild_on_missing"`
		DefaultRegime    string `yaml:"default_regime"`
	} `yaml:"tp_sl_verification"`

	TPSLAutoDetection struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"tp_sl_auto_detection"`
}

// Load loads configuration: .env for local dev secrets, the CONFIG_PATH
// thresholds document if set, environment overrides, then validation.
func Load() (Settings, error) {
	_ = godotenv.Load()

	key, err := getEnvRequired(common.EnvAPIKey)
	if err != nil {
		return Settings{}, err
	}
	secret, err := getEnvRequired(common.EnvSecretKey)
	if err != nil {
		return Settings{}, err
	}

	var raw configFile
	if path := os.Getenv(common.EnvConfigPath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("cfg: reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Settings{}, fmt.Errorf("cfg: parsing config file: %w", err)
		}
	}

	s := flatten(raw)
	s.APIKey = key
	s.APISecret = secret
	s.Testnet = getBoolOrDefault(common.EnvTestnet, false)

	s.BaseURL = getEnvOrDefault(common.EnvBaseURL, orDefault(s.BaseURL, common.DefaultBaseURL))
	s.WsURL = getEnvOrDefault(common.EnvWsURL, orDefault(s.WsURL, common.DefaultWsURL))
	s.DataPath = getEnvOrDefault(common.EnvDataPath, s.DataPath)
	s.ModelPath = getEnvOrDefault(common.EnvModelPath, orDefault(s.ModelPath, common.DefaultModelPath))
	s.MetricsPort = getIntOrDefault(common.EnvMetricsPort, orDefaultInt(s.MetricsPort, common.DefaultMetricsPort))
	s.DryRun = getBoolOrDefault(common.EnvDryRun, s.DryRun)
	if env := os.Getenv(common.EnvSymbols); env != "" {
		s.Symbols = strings.Split(env, ",")
	}
	if len(s.Symbols) == 0 {
		s.Symbols = []string{"BTCUSDT"}
	}

	if err := validate(&s); err != nil {
		return Settings{}, fmt.Errorf("cfg: configuration validation failed: %w", err)
	}
	return s, nil
}

func flatten(raw configFile) Settings {
	s := Settings{
		BaseURL:     raw.API.BaseURL,
		WsURL:       raw.API.WsURL,
		RESTTimeout: parseDurationOrDefault(raw.System.RESTTimeout, 5*time.Second),
		MetricsPort: raw.System.MetricsPort,
		DataPath:    raw.System.DataPath,
		ModelPath:   raw.System.ModelPath,
		Symbols:     raw.Trading.Symbols,
		DryRun:      raw.Trading.DryRun,
	}

	pm := &s.PositionManagement
	pm.MinAccountBalance = raw.PositionManagement.MinAccountBalance
	pm.MinTradeSize = raw.PositionManagement.MinTradeSize
	pm.MaxOpenPositions = raw.PositionManagement.MaxOpenPositions
	pm.CooldownMinutes = raw.PositionManagement.CooldownMinutes
	pm.MaxDailyTrades = raw.PositionManagement.MaxDailyTrades
	pm.LowConfidenceRatio = raw.PositionManagement.MaxPositionRatioPerTrade.LowConfidence
	pm.MediumConfidenceRatio = raw.PositionManagement.MaxPositionRatioPerTrade.MediumConfidence
	pm.HighConfidenceRatio = raw.PositionManagement.MaxPositionRatioPerTrade.HighConfidence
	pm.EnforceMinimum = raw.PositionManagement.MaxPositionRatioPerTrade.EnforceMinimum
	pm.DynamicSizingEnabled = raw.PositionManagement.DynamicPositionSizing.Enabled

	pm.TakeProfit = TakeProfit{
		Enabled:        raw.PositionManagement.TakeProfit.Enabled,
		MinProfitRatio: raw.PositionManagement.TakeProfit.MinProfitRatio,
		DefaultRatio:   raw.PositionManagement.TakeProfit.DefaultRatio,
		FixedAmount: FixedAmount{
			Enabled:              raw.PositionManagement.TakeProfit.FixedAmount.Enabled,
			TargetNetProfit:      raw.PositionManagement.TakeProfit.FixedAmount.TargetNetProfit,
			IncludeEntryFee:      raw.PositionManagement.TakeProfit.FixedAmount.IncludeEntryFee,
			IncludeExitFeeRebate: raw.PositionManagement.TakeProfit.FixedAmount.IncludeExitFeeRebate,
			IncludeInterest:      raw.PositionManagement.TakeProfit.FixedAmount.IncludeInterest,
		},
	}

	pm.StopLoss = StopLoss{
		Enabled:              raw.PositionManagement.StopLoss.Enabled,
		MaxLossRatio:         raw.PositionManagement.StopLoss.MaxLossRatio,
		DefaultATRMultiplier: raw.PositionManagement.StopLoss.DefaultATRMultiplier,
		MinDistanceRatio:     raw.PositionManagement.StopLoss.MinDistance.Ratio,
		OrderType:            raw.PositionManagement.StopLoss.OrderType,
		SkipBotMonitoring:    raw.PositionManagement.StopLoss.SkipBotMonitoring,
		StopLimitTimeout:     time.Duration(raw.PositionManagement.StopLoss.StopLimitTimeout) * time.Second,
		RetryOnUnfilled: RetryOnUnfilled{
			Enabled:                  raw.PositionManagement.StopLoss.RetryOnUnfilled.Enabled,
			MaxRetries:               raw.PositionManagement.StopLoss.RetryOnUnfilled.MaxRetries,
			SlippageIncreasePerRetry: raw.PositionManagement.StopLoss.RetryOnUnfilled.SlippageIncreasePerRetry,
		},
		FillConfirmation: FillConfirmation{
			Enabled:              raw.PositionManagement.StopLoss.FillConfirmation.Enabled,
			TimeoutSeconds:       raw.PositionManagement.StopLoss.FillConfirmation.TimeoutSeconds,
			CheckIntervalSeconds: raw.PositionManagement.StopLoss.FillConfirmation.CheckIntervalSeconds,
		},
	}

	pm.EmergencyStopLoss = EmergencyStopLoss{
		Enable:               raw.PositionManagement.EmergencyStopLoss.Enable,
		MaxLossThreshold:     raw.PositionManagement.EmergencyStopLoss.MaxLossThreshold,
		MinHoldMinutes:       raw.PositionManagement.EmergencyStopLoss.MinHoldMinutes,
		PriceChangeThreshold: raw.PositionManagement.EmergencyStopLoss.PriceChangeThreshold,
	}

	pm.Trailing = Trailing{
		Enabled:             raw.PositionManagement.Trailing.Enabled,
		ActivationProfit:    raw.PositionManagement.Trailing.ActivationProfit,
		TrailingPercent:     raw.PositionManagement.Trailing.TrailingPercent,
		MinUpdateDistance:   raw.PositionManagement.Trailing.MinUpdateDistance,
		MinProfitLock:       raw.PositionManagement.Trailing.MinProfitLock,
		CancelTPWhenExceeds: raw.PositionManagement.Trailing.CancelTPWhenExceeds,
	}

	pm.Cleanup = Cleanup{
		MaxAgeHours:    raw.PositionManagement.Cleanup.MaxAgeHours,
		ThresholdCount: raw.PositionManagement.Cleanup.ThresholdCount,
	}

	s.OrderExecution = OrderExecution{
		SmartOrderEnabled:          raw.OrderExecution.SmartOrderEnabled,
		DefaultOrderType:           raw.OrderExecution.DefaultOrderType,
		EntryPriceStrategy:         raw.OrderExecution.EntryPriceStrategy,
		GuaranteedExecutionPremium: raw.OrderExecution.GuaranteedExecutionPremium,
		PriceImprovementRatio:      raw.OrderExecution.PriceImprovementRatio,
		HighConfidenceThreshold:    raw.OrderExecution.HighConfidenceThreshold,
		LowConfidenceThreshold:     raw.OrderExecution.LowConfidenceThreshold,
		MaxSpreadRatioForLimit:     raw.OrderExecution.MaxSpreadRatioForLimit,
		MakerStrategy: MakerStrategy{
			Enabled:                 raw.OrderExecution.MakerStrategy.Enabled,
			MaxRetries:              raw.OrderExecution.MakerStrategy.MaxRetries,
			RetryIntervalMs:         raw.OrderExecution.MakerStrategy.RetryIntervalMs,
			TimeoutSeconds:          raw.OrderExecution.MakerStrategy.TimeoutSeconds,
			MinSpreadForMaker:       raw.OrderExecution.MakerStrategy.MinSpreadForMaker,
			VolatilityThreshold:     raw.OrderExecution.MakerStrategy.VolatilityThreshold,
			PriceAdjustmentTick:     raw.OrderExecution.MakerStrategy.PriceAdjustmentTick,
			MaxPriceAdjustmentRatio: raw.OrderExecution.MakerStrategy.MaxPriceAdjustmentRatio,
		},
	}

	s.Margin = Margin{
		SafeThreshold:      raw.Margin.Thresholds.Safe,
		CautionThreshold:   raw.Margin.Thresholds.Caution,
		WarningThreshold:   raw.Margin.Thresholds.Warning,
		CriticalThreshold:  raw.Margin.Thresholds.Critical,
		MinPositionValue:   raw.Margin.MinPositionValue,
		MaxRatioCap:        raw.Margin.MaxRatioCap,
		LargeDropThreshold: raw.Margin.LargeDropThreshold,
		MaxHistoryCount:    raw.Margin.MaxHistoryCount,
	}

	s.Risk = Risk{
		RequireTPSLRecalculation: raw.Risk.RequireTPSLRecalculation,
		FallbackATR:              raw.Risk.FallbackATR,
	}

	s.Trading = Trading{
		FallbackPrice:  raw.TradingThresholds.FallbackPrice,
		EntryTakerRate: raw.TradingThresholds.Fees.EntryTakerRate,
		ExitTakerRate:  raw.TradingThresholds.Fees.ExitTakerRate,
	}

	s.BalanceAlert = BalanceAlert{
		Enabled:           raw.BalanceAlert.Enabled,
		MinRequiredMargin: raw.BalanceAlert.MinRequiredMargin,
	}

	s.TPSLVerification = TPSLVerification{
		Enabled:          raw.TPSLVerification.Enabled,
		DelaySeconds:     raw.TPSLVerification.DelaySeconds,
		RebuildOnMissing: raw.TPSLVerification.RebuildOnMissing,
		DefaultRegime:    raw.TPSLVerification.DefaultRegime,
	}

	s.TPSLAutoDetection = raw.TPSLAutoDetection.Enabled

	applyDefaults(&s)
	return s
}

// applyDefaults fills zero-valued fields with spec §6's literal examples,
// so an absent or partial YAML document still produces a runnable config.
func applyDefaults(s *Settings) {
	pm := &s.PositionManagement
	pm.MinAccountBalance = orDefaultF(pm.MinAccountBalance, 10000)
	pm.MinTradeSize = orDefaultF(pm.MinTradeSize, 0.0001)
	pm.MaxOpenPositions = orDefaultInt(pm.MaxOpenPositions, 3)
	pm.CooldownMinutes = orDefaultF(pm.CooldownMinutes, 30)
	pm.MaxDailyTrades = orDefaultInt(pm.MaxDailyTrades, 20)
	pm.LowConfidenceRatio = orDefaultF(pm.LowConfidenceRatio, 0.03)
	pm.MediumConfidenceRatio = orDefaultF(pm.MediumConfidenceRatio, 0.05)
	pm.HighConfidenceRatio = orDefaultF(pm.HighConfidenceRatio, 0.10)

	pm.TakeProfit.MinProfitRatio = orDefaultF(pm.TakeProfit.MinProfitRatio, 0.009)
	pm.TakeProfit.DefaultRatio = orDefaultF(pm.TakeProfit.DefaultRatio, 1.29)

	pm.StopLoss.MaxLossRatio = orDefaultF(pm.StopLoss.MaxLossRatio, 0.007)
	pm.StopLoss.DefaultATRMultiplier = orDefaultF(pm.StopLoss.DefaultATRMultiplier, 2.0)
	pm.StopLoss.MinDistanceRatio = orDefaultF(pm.StopLoss.MinDistanceRatio, 0.001)
	if pm.StopLoss.OrderType == "" {
		pm.StopLoss.OrderType = "stop"
	}
	if pm.StopLoss.StopLimitTimeout == 0 {
		pm.StopLoss.StopLimitTimeout = 300 * time.Second
	}
	pm.StopLoss.RetryOnUnfilled.MaxRetries = orDefaultInt(pm.StopLoss.RetryOnUnfilled.MaxRetries, 3)

	pm.EmergencyStopLoss.MaxLossThreshold = orDefaultF(pm.EmergencyStopLoss.MaxLossThreshold, common.DefaultMaxLossThreshold)
	pm.EmergencyStopLoss.MinHoldMinutes = orDefaultInt(pm.EmergencyStopLoss.MinHoldMinutes, common.DefaultMinHoldMinutes)

	pm.Cleanup.MaxAgeHours = orDefaultInt(pm.Cleanup.MaxAgeHours, 24)
	pm.Cleanup.ThresholdCount = orDefaultInt(pm.Cleanup.ThresholdCount, 25)

	oe := &s.OrderExecution
	if oe.DefaultOrderType == "" {
		oe.DefaultOrderType = "market"
	}
	if oe.EntryPriceStrategy == "" {
		oe.EntryPriceStrategy = "favorable"
	}
	oe.GuaranteedExecutionPremium = orDefaultF(oe.GuaranteedExecutionPremium, 0.0005)
	oe.PriceImprovementRatio = orDefaultF(oe.PriceImprovementRatio, 0.001)
	oe.HighConfidenceThreshold = orDefaultF(oe.HighConfidenceThreshold, 0.75)
	oe.LowConfidenceThreshold = orDefaultF(oe.LowConfidenceThreshold, 0.40)
	oe.MaxSpreadRatioForLimit = orDefaultF(oe.MaxSpreadRatioForLimit, 0.005)
	oe.MakerStrategy.MaxRetries = orDefaultInt(oe.MakerStrategy.MaxRetries, 3)

	m := &s.Margin
	m.SafeThreshold = orDefaultF(m.SafeThreshold, common.MarginRatioSafe)
	m.CautionThreshold = orDefaultF(m.CautionThreshold, common.MarginRatioCaution)
	m.WarningThreshold = orDefaultF(m.WarningThreshold, common.MarginRatioWarning)
	m.CriticalThreshold = orDefaultF(m.CriticalThreshold, 80)
	m.MinPositionValue = orDefaultF(m.MinPositionValue, 1000)
	m.MaxRatioCap = orDefaultF(m.MaxRatioCap, 10000)

	s.Risk.FallbackATR = orDefaultF(s.Risk.FallbackATR, 500000)

	s.Trading.FallbackPrice = orDefaultF(s.Trading.FallbackPrice, 16500000)
	s.Trading.EntryTakerRate = orDefaultF(s.Trading.EntryTakerRate, 0.001)
	s.Trading.ExitTakerRate = orDefaultF(s.Trading.ExitTakerRate, 0.001)

	s.BalanceAlert.MinRequiredMargin = orDefaultF(s.BalanceAlert.MinRequiredMargin, 14000)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultF(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func parseDurationOrDefault(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func getEnvRequired(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("cfg: required environment variable %s is missing", key)
	}
	return v, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// validate dispatches to one validator per spec §6 key group, mirroring
// the teacher's validateSettings fan-out.
func validate(s *Settings) error {
	if s.APIKey == "" || s.APISecret == "" {
		return fmt.Errorf(common.ErrMsgAPIKeyRequired)
	}
	if s.BaseURL == "" {
		return fmt.Errorf(common.ErrMsgBaseURLRequired)
	}
	if len(s.Symbols) == 0 {
		return fmt.Errorf(common.ErrMsgSymbolRequired)
	}
	if !s.DryRun && os.Getenv(common.EnvForceLiveTrading) != "true" {
		return fmt.Errorf(common.ErrMsgForceLiveRequired)
	}

	if err := validatePositionManagement(s); err != nil {
		return fmt.Errorf("position_management: %w", err)
	}
	if err := validateOrderExecution(s); err != nil {
		return fmt.Errorf("order_execution: %w", err)
	}
	if err := validateMargin(s); err != nil {
		return fmt.Errorf("margin: %w", err)
	}
	if err := validateRisk(s); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if err := validateTrading(s); err != nil {
		return fmt.Errorf("trading: %w", err)
	}
	if err := validateBalanceAlert(s); err != nil {
		return fmt.Errorf("balance_alert: %w", err)
	}
	if err := validateTPSLVerification(s); err != nil {
		return fmt.Errorf("tp_sl_verification: %w", err)
	}
	return nil
}

func validatePositionManagement(s *Settings) error {
	pm := s.PositionManagement
	if pm.MinAccountBalance < 0 {
		return fmt.Errorf("min_account_balance must not be negative")
	}
	if pm.MaxOpenPositions <= 0 {
		return fmt.Errorf("max_open_positions must be positive")
	}
	if pm.LowConfidenceRatio <= 0 || pm.MediumConfidenceRatio <= 0 || pm.HighConfidenceRatio <= 0 {
		return fmt.Errorf("confidence-tier position ratios must be positive")
	}
	if pm.LowConfidenceRatio > pm.MediumConfidenceRatio || pm.MediumConfidenceRatio > pm.HighConfidenceRatio {
		return fmt.Errorf("confidence-tier position ratios must be non-decreasing with confidence")
	}
	if pm.StopLoss.MaxLossRatio <= 0 || pm.StopLoss.MaxLossRatio >= 1 {
		return fmt.Errorf("stop_loss.max_loss_ratio must be between 0 and 1")
	}
	if pm.TakeProfit.MinProfitRatio <= 0 {
		return fmt.Errorf("take_profit.min_profit_ratio must be positive")
	}
	if pm.EmergencyStopLoss.MaxLossThreshold <= 0 || pm.EmergencyStopLoss.MaxLossThreshold >= 1 {
		return fmt.Errorf("emergency_stop_loss.max_loss_threshold must be between 0 and 1")
	}
	return nil
}

func validateOrderExecution(s *Settings) error {
	oe := s.OrderExecution
	if oe.HighConfidenceThreshold <= oe.LowConfidenceThreshold {
		return fmt.Errorf("high_confidence_threshold must exceed low_confidence_threshold")
	}
	if oe.MaxSpreadRatioForLimit <= 0 {
		return fmt.Errorf("max_spread_ratio_for_limit must be positive")
	}
	switch oe.DefaultOrderType {
	case "market", "limit", "stop", "stop_limit":
	default:
		return fmt.Errorf("default_order_type %q is not a recognized order type", oe.DefaultOrderType)
	}
	return nil
}

func validateMargin(s *Settings) error {
	m := s.Margin
	if !(m.SafeThreshold > m.CautionThreshold && m.CautionThreshold > m.WarningThreshold && m.WarningThreshold > m.CriticalThreshold) {
		return fmt.Errorf("thresholds must be strictly descending: safe > caution > warning > critical")
	}
	if m.CriticalThreshold <= 0 {
		return fmt.Errorf("thresholds.critical must be positive")
	}
	return nil
}

func validateRisk(s *Settings) error {
	if s.Risk.FallbackATR <= 0 {
		return fmt.Errorf("fallback_atr must be positive")
	}
	return nil
}

func validateTrading(s *Settings) error {
	if s.Trading.EntryTakerRate < 0 || s.Trading.ExitTakerRate < 0 {
		return fmt.Errorf("fee rates must not be negative")
	}
	return nil
}

func validateBalanceAlert(s *Settings) error {
	if s.BalanceAlert.Enabled && s.BalanceAlert.MinRequiredMargin <= 0 {
		return fmt.Errorf("min_required_margin must be positive when enabled")
	}
	return nil
}

func validateTPSLVerification(s *Settings) error {
	if s.TPSLVerification.Enabled && s.TPSLVerification.DelaySeconds < 0 {
		return fmt.Errorf("delay_seconds must not be negative")
	}
	return nil
}
