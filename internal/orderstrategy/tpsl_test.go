package orderstrategy

import (
	"context"
	"testing"

	"tradecore/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateUsesCachedATRFromMarketConditions(t *testing.T) {
	c := NewCalculator(DefaultTPSLConfig(), nil)
	eval := common.TradeEvaluation{
		MarketConditions: map[string]any{
			"market_data": map[string]any{"15m": map[string]any{"atr_14": 100.0}},
		},
	}
	r, err := c.Calculate(context.Background(), eval, "BTCUSDT", common.SideBuy, 1000)
	require.NoError(t, err)
	assert.Less(t, r.StopLoss, 1000.0)
	assert.Greater(t, r.TakeProfit, 1000.0)
}

func TestCalculateFallsBackToConstantATR(t *testing.T) {
	cfg := DefaultTPSLConfig()
	c := NewCalculator(cfg, nil)
	r, err := c.Calculate(context.Background(), common.TradeEvaluation{}, "BTCUSDT", common.SideSell, 1000)
	require.NoError(t, err)
	assert.Greater(t, r.StopLoss, 1000.0, "sell SL sits above entry")
	assert.Less(t, r.TakeProfit, 1000.0, "sell TP sits below entry")
}

func TestCalculateAbortsWhenRecalculationRequiredAndATRUnavailable(t *testing.T) {
	cfg := DefaultTPSLConfig()
	cfg.FallbackATR = 0
	cfg.RequireRecalculation = true
	c := NewCalculator(cfg, nil)
	_, err := c.Calculate(context.Background(), common.TradeEvaluation{}, "BTCUSDT", common.SideBuy, 1000)
	assert.Error(t, err)
}

func TestCalculateAppliesRegimeOverride(t *testing.T) {
	mult := 5.0
	cfg := DefaultTPSLConfig()
	cfg.RegimeOverrides = map[string]RegimeOverride{"breakout": {ATRMultiplier: &mult}}
	c := NewCalculator(cfg, nil)
	eval := common.TradeEvaluation{Regime: "breakout", MarketConditions: map[string]any{
		"market_data": map[string]any{"15m": map[string]any{"atr_14": 100.0}},
	}}
	r, err := c.Calculate(context.Background(), eval, "BTCUSDT", common.SideBuy, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 1000-500, r.StopLoss, 1e-6, "5x ATR multiplier override must drive the stop distance")
}

func TestFixedAmountTPSolvesForSide(t *testing.T) {
	tp := FixedAmountTP(common.SideBuy, 100, 1, 10, 0.1, 0, 0)
	assert.InDelta(t, 110.1, tp, 1e-9)

	tpSell := FixedAmountTP(common.SideSell, 100, 1, 10, 0.1, 0, 0)
	assert.InDelta(t, 89.9, tpSell, 1e-9)
}
