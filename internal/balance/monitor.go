// Package balance implements BalanceMonitor: margin-ratio computation with
// an API-first/formula-fallback strategy, status thresholds, future-ratio
// prediction, and margin-sufficiency validation (spec §4.6).
package balance

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"tradecore/internal/common"
	"tradecore/internal/exchange"
	"tradecore/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Config carries the margin.* thresholds (spec §6).
type Config struct {
	SafeThreshold     float64 // default 200
	CautionThreshold  float64 // default 150
	WarningThreshold  float64 // default 100
	CriticalThreshold float64 // default 80, admission floor
	MinPositionValue  float64 // default 1000
	MaxRatioCap       float64 // default 10000
	AuthErrorRetryMax int     // default 3
}

// DefaultConfig mirrors spec §6's literal examples.
func DefaultConfig() Config {
	return Config{
		SafeThreshold:     common.MarginRatioSafe,
		CautionThreshold:  common.MarginRatioCaution,
		WarningThreshold:  common.MarginRatioWarning,
		CriticalThreshold: 80,
		MinPositionValue:  1000,
		MaxRatioCap:       10000,
		AuthErrorRetryMax: 3,
	}
}

// Monitor is BalanceMonitor.
type Monitor struct {
	cfg     Config
	client  exchange.Client
	mode    common.Mode
	mu      sync.Mutex
	authErr int
	metrics *metrics.Registry
}

// NewMonitor builds a monitor against client, operating in mode (API calls
// are skipped entirely in backtest mode per spec §4.6 "API-first: when not
// in backtest mode...").
func NewMonitor(cfg Config, client exchange.Client, mode common.Mode) *Monitor {
	return &Monitor{cfg: cfg, client: client, mode: mode}
}

// SetMetrics attaches a metrics Registry so every Evaluate call reports the
// current margin ratio. Optional.
func (m *Monitor) SetMetrics(reg *metrics.Registry) {
	m.metrics = reg
}

func (m *Monitor) reportRatio(ratio float64) {
	if m.metrics != nil {
		m.metrics.MarginRatio().Set(ratio)
	}
}

// marginRatio applies the formula and its edge cases (spec §4.6).
func marginRatio(balance, positionValue, minPositionValue, cap float64) float64 {
	if positionValue <= 0 {
		return math.Inf(1)
	}
	if positionValue < minPositionValue {
		return 500 // safe sentinel
	}
	ratio := (balance / positionValue) * 100
	if ratio > cap {
		return cap
	}
	return ratio
}

func (c Config) status(ratio float64) common.MarginStatusLevel {
	switch {
	case ratio >= c.SafeThreshold:
		return common.MarginSafe
	case ratio >= c.CautionThreshold:
		return common.MarginCaution
	case ratio >= c.WarningThreshold:
		return common.MarginWarning
	default:
		return common.MarginCritical
	}
}

// Evaluate computes the current MarginData, preferring the exchange's
// reported margin_ratio (API-first) and falling back to the formula on
// failure or in backtest mode.
func (m *Monitor) Evaluate(ctx context.Context, balance, positionValue float64) (common.MarginData, error) {
	now := time.Now()
	if m.mode != common.ModeBacktest {
		status, err := m.client.FetchMarginStatus(ctx)
		if err == nil && status.MarginRatio != nil {
			m.resetAuthErrors()
			ratio := *status.MarginRatio
			if ratio > m.cfg.MaxRatioCap {
				ratio = m.cfg.MaxRatioCap
			}
			m.reportRatio(ratio)
			return common.MarginData{
				Balance: balance, PositionValue: positionValue,
				MarginRatioPct: ratio, Status: m.cfg.status(ratio), Timestamp: now,
			}, nil
		}
		if err != nil {
			m.recordAuthErrorIfApplicable(err)
			log.Warn().Err(err).Msg("margin status API failed, using formula fallback")
		}
	}
	ratio := marginRatio(balance, positionValue, m.cfg.MinPositionValue, m.cfg.MaxRatioCap)
	m.reportRatio(ratio)
	return common.MarginData{
		Balance: balance, PositionValue: positionValue,
		MarginRatioPct: ratio, Status: m.cfg.status(ratio), Timestamp: now,
	}, nil
}

// PredictFutureRatio estimates the margin ratio after adding a proposed
// position of newAmount at price (spec §4.6 "Future-ratio prediction").
// Zero-position detection takes precedence over any cached estimate.
func (m *Monitor) PredictFutureRatio(ctx context.Context, balance float64, newAmount, price float64, exchangePositions []exchange.MarginPosition) (float64, error) {
	hasOpenPosition := false
	for _, p := range exchangePositions {
		if p.Amount != 0 {
			hasOpenPosition = true
			break
		}
	}

	var currentValue float64
	if hasOpenPosition && m.mode != common.ModeBacktest {
		status, err := m.client.FetchMarginStatus(ctx)
		if err == nil && status.MarginRatio != nil && *status.MarginRatio > 0 && !math.IsInf(*status.MarginRatio, 1) {
			currentValue = (balance / *status.MarginRatio) * 100
		}
	}
	if !hasOpenPosition {
		currentValue = 0
	}

	newValue := currentValue + newAmount*price
	ratio := marginRatio(balance, newValue, m.cfg.MinPositionValue, m.cfg.MaxRatioCap)
	if m.cfg.status(ratio) == common.MarginCritical {
		log.Warn().Float64("predicted_ratio", ratio).Msg("proposed trade would drive margin ratio into critical territory")
	}
	return ratio, nil
}

// ValidationResult is validateMargin's return value (spec §4.6).
type ValidationResult struct {
	Sufficient bool
	Available  float64
	Required   float64
}

// ValidateMargin checks whether available balance covers required margin,
// halting trading after AuthErrorRetryMax consecutive auth errors (spec
// §4.6).
func (m *Monitor) ValidateMargin(ctx context.Context, required float64) (ValidationResult, error) {
	bal, err := m.client.FetchBalance(ctx)
	if err != nil {
		if apiErr := asAPIErrCode(err); apiErr == exchange.CodeAuth {
			m.mu.Lock()
			m.authErr++
			tripped := m.authErr >= m.cfg.AuthErrorRetryMax
			m.mu.Unlock()
			if tripped {
				return ValidationResult{}, fmt.Errorf("balance: %d consecutive auth errors, trading halted: %w", m.authErr, err)
			}
		}
		return ValidationResult{}, fmt.Errorf("fetch balance: %w", err)
	}
	m.resetAuthErrors()
	return ValidationResult{
		Sufficient: bal.Free >= required,
		Available:  bal.Free,
		Required:   required,
	}, nil
}

func (m *Monitor) resetAuthErrors() {
	m.mu.Lock()
	m.authErr = 0
	m.mu.Unlock()
}

func (m *Monitor) recordAuthErrorIfApplicable(err error) {
	if asAPIErrCode(err) == exchange.CodeAuth {
		m.mu.Lock()
		m.authErr++
		m.mu.Unlock()
	}
}

func asAPIErrCode(err error) int {
	var apiErr *exchange.APIError
	for err != nil {
		if ae, ok := err.(*exchange.APIError); ok {
			apiErr = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if apiErr == nil {
		return 0
	}
	return apiErr.Code
}
