package orderstrategy

import (
	"context"
	"fmt"
	"math"

	"tradecore/internal/common"
)

// TPSLConfig carries position_management.take_profit/stop_loss.* and
// risk.* thresholds (spec §6).
type TPSLConfig struct {
	ATRMultiplier          float64 // default 2.0
	MinDistanceRatio       float64 // default 0.001
	MaxLossRatio           float64 // default 0.007
	MinProfitRatio         float64 // default 0.009
	TakeProfitRatio        float64 // default 1.29
	FallbackATR            float64 // default 500_000
	RequireRecalculation   bool    // default true
	RegimeOverrides        map[string]RegimeOverride
}

// RegimeOverride replaces the ATR multiplier/ratios for a named regime
// (spec §4.10 "regime_based.<regime_name>").
type RegimeOverride struct {
	ATRMultiplier    *float64
	MinDistanceRatio *float64
	MaxLossRatio     *float64
}

// DefaultTPSLConfig mirrors spec §6's literal examples.
func DefaultTPSLConfig() TPSLConfig {
	return TPSLConfig{
		ATRMultiplier:        2.0,
		MinDistanceRatio:     0.001,
		MaxLossRatio:         0.007,
		MinProfitRatio:       0.009,
		TakeProfitRatio:      1.29,
		FallbackATR:          500000,
		RequireRecalculation: true,
	}
}

// ATRSource fetches a 15m ATR window directly when it's absent from the
// evaluation's cached market_conditions (spec §4.10 chain step 2).
type ATRSource interface {
	FetchATR15m(ctx context.Context, symbol string) (float64, error)
}

// Calculator is TPSLCalculator.
type Calculator struct {
	cfg    TPSLConfig
	source ATRSource
}

// NewCalculator builds a calculator; source may be nil if no direct-fetch
// fallback is wired.
func NewCalculator(cfg TPSLConfig, source ATRSource) *Calculator {
	return &Calculator{cfg: cfg, source: source}
}

// resolveATR implements the three-tier fallback chain (spec §4.10).
func (c *Calculator) resolveATR(ctx context.Context, eval common.TradeEvaluation, symbol string) (float64, error) {
	if mc, ok := eval.MarketConditions["market_data"].(map[string]any); ok {
		for _, tf := range []string{"15m", "4h"} {
			if bar, ok := mc[tf].(map[string]any); ok {
				if atr, ok := bar["atr_14"].(float64); ok && atr > 0 {
					return atr, nil
				}
			}
		}
	}
	if c.source != nil {
		atr, err := c.source.FetchATR15m(ctx, symbol)
		if err == nil && atr > 0 {
			return atr, nil
		}
	}
	if c.cfg.FallbackATR > 0 {
		return c.cfg.FallbackATR, nil
	}
	return 0, fmt.Errorf("orderstrategy: unable to resolve ATR for %s", symbol)
}

func (c *Calculator) regimeFor(regime string) (atrMult, minDist, maxLoss float64) {
	atrMult, minDist, maxLoss = c.cfg.ATRMultiplier, c.cfg.MinDistanceRatio, c.cfg.MaxLossRatio
	override, ok := c.cfg.RegimeOverrides[regime]
	if !ok {
		return
	}
	if override.ATRMultiplier != nil {
		atrMult = *override.ATRMultiplier
	}
	if override.MinDistanceRatio != nil {
		minDist = *override.MinDistanceRatio
	}
	if override.MaxLossRatio != nil {
		maxLoss = *override.MaxLossRatio
	}
	return
}

// Result is the recomputed TP/SL pair (spec §4.10).
type Result struct {
	StopLoss   float64
	TakeProfit float64
}

// Calculate recomputes TP/SL from the actual fill price, not the pre-trade
// estimate (spec §4.10). Returns an error when RequireRecalculation is set
// and ATR resolution fails — the caller must abort the entry and roll back.
func (c *Calculator) Calculate(ctx context.Context, eval common.TradeEvaluation, symbol string, side common.Side, fillPrice float64) (Result, error) {
	atr, err := c.resolveATR(ctx, eval, symbol)
	if err != nil {
		if c.cfg.RequireRecalculation {
			return Result{}, fmt.Errorf("tpsl: required recalculation failed: %w", err)
		}
		atr = c.cfg.FallbackATR
	}

	atrMult, minDist, maxLoss := c.regimeFor(eval.Regime)
	stopDistance := math.Max(atr*atrMult, math.Max(fillPrice*minDist, fillPrice*maxLoss))
	takeDistance := math.Max(fillPrice*c.cfg.MinProfitRatio, stopDistance*c.cfg.TakeProfitRatio)

	if side == common.SideBuy {
		return Result{StopLoss: fillPrice - stopDistance, TakeProfit: fillPrice + takeDistance}, nil
	}
	return Result{StopLoss: fillPrice + stopDistance, TakeProfit: fillPrice - takeDistance}, nil
}

// FixedAmountTP solves for a TP price that nets targetProfit exactly after
// fees/interest (spec §4.10 "Fixed-amount TP variant").
func FixedAmountTP(side common.Side, entry, amount, targetNetProfit, entryFee, interest, exitFeeRebate float64) float64 {
	delta := (targetNetProfit + entryFee + interest - exitFeeRebate) / amount
	if side == common.SideBuy {
		return entry + delta
	}
	return entry - delta
}
