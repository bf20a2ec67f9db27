package position

import (
	"testing"
	"time"

	"tradecore/internal/common"

	"github.com/stretchr/testify/assert"
)

func TestCheckDeniesBelowMinimumBalance(t *testing.T) {
	cfg := DefaultLimitsConfig()
	l := NewLimits(cfg, NewCooldownManager(DefaultCooldownConfig()))
	r := l.Check(CheckInput{Balance: 100, FallbackPrice: 100})
	assert.False(t, r.Allowed)
	assert.Contains(t, r.DeniedReason, "minimum")
}

func TestCheckGatesShortCircuitInOrder(t *testing.T) {
	cfg := DefaultLimitsConfig()
	cfg.MaxOpenPositionsDefault = 1
	l := NewLimits(cfg, NewCooldownManager(DefaultCooldownConfig()))
	in := CheckInput{
		Balance:       20000,
		FallbackPrice: 100,
		Positions:     []common.VirtualPosition{{OrderID: "p1"}},
		LastOrderTime: time.Time{},
	}
	r := l.Check(in)
	assert.False(t, r.Allowed)
	assert.Contains(t, r.DeniedReason, "open positions")
}

func TestCooldownBlocksWithinWindowUnlessStrongTrend(t *testing.T) {
	cfg := DefaultLimitsConfig()
	l := NewLimits(cfg, NewCooldownManager(DefaultCooldownConfig()))
	in := CheckInput{
		Balance:       20000,
		FallbackPrice: 100,
		LastOrderTime: time.Now().Add(-1 * time.Minute),
		Market:        MarketSnapshot{ADX14: 5, PlusDI: 10, MinusDI: 10, EMA20: 100, EMA50: 100},
	}
	r := l.Check(in)
	assert.False(t, r.Allowed)
	assert.Equal(t, "cooldown active", r.DeniedReason)
}

func TestCooldownBypassedByStrongTrend(t *testing.T) {
	cfg := DefaultLimitsConfig()
	l := NewLimits(cfg, NewCooldownManager(DefaultCooldownConfig()))
	in := CheckInput{
		Balance:         20000,
		FallbackPrice:   100,
		LastOrderTime:   time.Now().Add(-1 * time.Minute),
		Market:          MarketSnapshot{ADX14: 50, PlusDI: 60, MinusDI: 10, EMA20: 110, EMA50: 100},
		Evaluation:      common.TradeEvaluation{ConfidenceLevel: 0.5},
		TodayTradeCount: 0,
	}
	r := l.Check(in)
	assert.True(t, r.Allowed, "a strong 4h trend must bypass the cooldown gate")
}

func TestCapitalUsageGateDenies(t *testing.T) {
	cfg := DefaultLimitsConfig()
	l := NewLimits(cfg, NewCooldownManager(DefaultCooldownConfig()))
	in := CheckInput{
		Balance:        20000,
		FallbackPrice:  100,
		InitialBalance: 1000,
		CurrentBalance: 600, // 40% drawdown >= 30% threshold
	}
	r := l.Check(in)
	assert.False(t, r.Allowed)
	assert.Contains(t, r.DeniedReason, "capital usage")
}

func TestTradeSizeBandsByConfidence(t *testing.T) {
	cfg := DefaultLimitsConfig()
	l := NewLimits(cfg, NewCooldownManager(DefaultCooldownConfig()))
	in := CheckInput{Balance: 20000, FallbackPrice: 100, Evaluation: common.TradeEvaluation{ConfidenceLevel: 0.8}}
	r := l.Check(in)
	assert.True(t, r.Allowed)
	assert.Equal(t, cfg.HighConfidenceRatio, r.ApprovedSize)
}

func TestTrendStrengthWeightsSumCorrectly(t *testing.T) {
	s := TrendStrength(MarketSnapshot{ADX14: 50, PlusDI: 50, MinusDI: 10, EMA20: 105, EMA50: 100})
	assert.InDelta(t, 0.5*1.0+0.3*1.0+0.2*1.0, s, 1e-9)
}
