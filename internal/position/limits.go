package position

import (
	"time"

	"tradecore/internal/common"
)

// LimitsConfig carries the position_management.* thresholds the six gates
// read (spec §6 key list).
type LimitsConfig struct {
	DynamicSizingEnabled bool
	MinAccountBalance    float64 // default 10_000
	MinTradeSize         float64 // default 0.0001
	CooldownMinutes      float64 // default 30
	MaxOpenPositionsByRegime map[string]int
	MaxOpenPositionsDefault  int // default 3
	MaxCapitalUsageRatio     float64 // default 0.30
	MaxDailyTrades           int     // default 20
	LowConfidenceRatio       float64 // default 0.03
	MediumConfidenceRatio    float64 // default 0.05
	HighConfidenceRatio      float64 // default 0.10
	EnforceMinimum           bool
}

// DefaultLimitsConfig mirrors spec §6's literal examples.
func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		MinAccountBalance:       10000,
		MinTradeSize:            0.0001,
		CooldownMinutes:         30,
		MaxOpenPositionsDefault: common.DefaultMaxConcurrentPositions,
		MaxCapitalUsageRatio:    0.30,
		MaxDailyTrades:          20,
		LowConfidenceRatio:      0.03,
		MediumConfidenceRatio:   0.05,
		HighConfidenceRatio:     0.10,
		EnforceMinimum:          true,
	}
}

// CheckResult is PositionLimits.check's verdict (spec §4.7).
type CheckResult struct {
	Allowed       bool
	DeniedReason  string
	ApprovedSize  float64 // fraction of balance, after gate 6
}

// Limits implements the six ordered admission gates (spec §4.7).
type Limits struct {
	cfg      LimitsConfig
	cooldown *CooldownManager
}

// NewLimits builds a gate evaluator over cfg, delegating strong-trend
// bypass decisions to cooldown.
func NewLimits(cfg LimitsConfig, cooldown *CooldownManager) *Limits {
	return &Limits{cfg: cfg, cooldown: cooldown}
}

// CheckInput bundles everything the six gates read.
type CheckInput struct {
	Evaluation      common.TradeEvaluation
	Positions       []common.VirtualPosition
	LastOrderTime   time.Time
	Balance         float64
	FallbackPrice   float64
	Regime          string
	InitialBalance  float64
	CurrentBalance  float64
	TodayTradeCount int
	Market          MarketSnapshot
}

// Check runs the six gates in order, short-circuiting on first denial
// (spec §4.7).
func (l *Limits) Check(in CheckInput) CheckResult {
	if r := l.checkMinimumBalance(in); !r.Allowed {
		return r
	}
	if r := l.checkCooldown(in); !r.Allowed {
		return r
	}
	if r := l.checkMaxOpenPositions(in); !r.Allowed {
		return r
	}
	if r := l.checkCapitalUsage(in); !r.Allowed {
		return r
	}
	if r := l.checkDailyTradeCount(in); !r.Allowed {
		return r
	}
	return l.checkTradeSizeByConfidence(in)
}

// gate 1: minimum balance.
func (l *Limits) checkMinimumBalance(in CheckInput) CheckResult {
	if !l.cfg.DynamicSizingEnabled {
		if in.Balance < l.cfg.MinAccountBalance {
			return CheckResult{Allowed: false, DeniedReason: "balance below minimum account balance"}
		}
		return CheckResult{Allowed: true}
	}
	required := l.cfg.MinTradeSize * in.FallbackPrice * 1.1
	if in.Balance < required {
		return CheckResult{Allowed: false, DeniedReason: "balance below dynamic minimum trade requirement"}
	}
	return CheckResult{Allowed: true}
}

// gate 2: cooldown, with CooldownManager's strong-trend bypass.
func (l *Limits) checkCooldown(in CheckInput) CheckResult {
	if l.cfg.CooldownMinutes <= 0 || in.LastOrderTime.IsZero() {
		return CheckResult{Allowed: true}
	}
	elapsed := time.Since(in.LastOrderTime)
	if elapsed >= time.Duration(l.cfg.CooldownMinutes*float64(time.Minute)) {
		return CheckResult{Allowed: true}
	}
	if l.cooldown != nil && !l.cooldown.ShouldApplyCooldown(in.Market) {
		return CheckResult{Allowed: true}
	}
	return CheckResult{Allowed: false, DeniedReason: "cooldown active"}
}

// gate 3: max open positions, regime-specific with global fallback.
func (l *Limits) checkMaxOpenPositions(in CheckInput) CheckResult {
	max := l.cfg.MaxOpenPositionsDefault
	if l.cfg.MaxOpenPositionsByRegime != nil {
		if v, ok := l.cfg.MaxOpenPositionsByRegime[in.Regime]; ok {
			max = v
		}
	}
	if len(in.Positions) >= max {
		return CheckResult{Allowed: false, DeniedReason: "max open positions reached"}
	}
	return CheckResult{Allowed: true}
}

// gate 4: capital usage.
func (l *Limits) checkCapitalUsage(in CheckInput) CheckResult {
	if in.InitialBalance <= 0 {
		return CheckResult{Allowed: true}
	}
	used := (in.InitialBalance - in.CurrentBalance) / in.InitialBalance
	if used >= l.cfg.MaxCapitalUsageRatio {
		return CheckResult{Allowed: false, DeniedReason: "capital usage threshold exceeded"}
	}
	return CheckResult{Allowed: true}
}

// gate 5: daily trade count.
func (l *Limits) checkDailyTradeCount(in CheckInput) CheckResult {
	if in.TodayTradeCount >= l.cfg.MaxDailyTrades {
		return CheckResult{Allowed: false, DeniedReason: "daily trade count limit reached"}
	}
	return CheckResult{Allowed: true}
}

// gate 6: trade size by ML confidence band, with minimum-lot override. A
// trade at or below the minimum tradeable lot is always allowed regardless
// of the confidence-band cap; otherwise the notional must fit within
// ratio*balance or the gate denies it.
func (l *Limits) checkTradeSizeByConfidence(in CheckInput) CheckResult {
	conf := in.Evaluation.ConfidenceLevel
	var ratio float64
	switch {
	case conf < 0.60:
		ratio = l.cfg.LowConfidenceRatio
	case conf < 0.75:
		ratio = l.cfg.MediumConfidenceRatio
	default:
		ratio = l.cfg.HighConfidenceRatio
	}

	minLotNotional := l.cfg.MinTradeSize * in.FallbackPrice
	tradeNotional := in.Evaluation.PositionSize * in.FallbackPrice
	if l.cfg.EnforceMinimum && tradeNotional <= minLotNotional {
		return CheckResult{Allowed: true, ApprovedSize: ratio}
	}

	maxAllowedNotional := in.Balance * ratio
	if tradeNotional > maxAllowedNotional {
		return CheckResult{Allowed: false, DeniedReason: "trade size exceeds confidence-band cap", ApprovedSize: ratio}
	}
	return CheckResult{Allowed: true, ApprovedSize: ratio}
}
