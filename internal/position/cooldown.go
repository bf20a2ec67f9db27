package position

import (
	"math"

	"tradecore/internal/common"
)

// MarketSnapshot is the subset of 4h-bar indicators trendStrength reads
// (spec §4.8). Values are precomputed upstream by the feature generator.
type MarketSnapshot struct {
	ADX14   float64
	PlusDI  float64
	MinusDI float64
	EMA20   float64
	EMA50   float64
}

// CooldownConfig configures CooldownManager's bypass behavior.
type CooldownConfig struct {
	Enabled               bool
	FlexibleModeEnabled    bool
	TrendStrengthThreshold float64 // default 0.7
}

// DefaultCooldownConfig mirrors spec §4.8's defaults.
func DefaultCooldownConfig() CooldownConfig {
	return CooldownConfig{
		Enabled:                true,
		FlexibleModeEnabled:    true,
		TrendStrengthThreshold: common.TrendStrengthBypassMin,
	}
}

// CooldownManager decides whether a strong trend should bypass the
// inter-trade cooldown window (spec §4.8).
type CooldownManager struct {
	cfg CooldownConfig
}

// NewCooldownManager builds a manager with the given configuration.
func NewCooldownManager(cfg CooldownConfig) *CooldownManager {
	return &CooldownManager{cfg: cfg}
}

// TrendStrength computes the composite 0.5*adx + 0.3*di + 0.2*ema score on
// the 4h bar (spec §4.8).
func TrendStrength(m MarketSnapshot) float64 {
	adxScore := math.Min(1, m.ADX14/50)
	diScore := math.Min(1, math.Abs(m.PlusDI-m.MinusDI)/40)
	emaScore := 0.0
	if m.EMA50 != 0 {
		emaScore = math.Min(1, math.Abs(m.EMA20-m.EMA50)/m.EMA50/0.05)
	}
	return common.TrendStrengthADXWeight*adxScore +
		common.TrendStrengthDIWeight*diScore +
		common.TrendStrengthEMAWeight*emaScore
}

// ShouldApplyCooldown reports whether the cooldown gate should still deny
// admission (false means: strong trend, skip the cooldown) (spec §4.8).
func (c *CooldownManager) ShouldApplyCooldown(market MarketSnapshot) bool {
	if !c.cfg.Enabled {
		return false
	}
	if !c.cfg.FlexibleModeEnabled {
		return true
	}
	strength := TrendStrength(market)
	return strength < c.cfg.TrendStrengthThreshold
}
