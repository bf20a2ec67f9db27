// Package stopmanager owns the runtime TP/SL monitoring loop: bot-side
// exit triggers, exchange-native stop-limit timeout fallback, emergency
// exits, exchange-triggered auto-exec detection, and orphan-SL persistence
// (spec §4.12, grounded on original_source's stop_manager.py).
package stopmanager

import (
	"context"
	"fmt"
	"time"

	"tradecore/internal/common"
	"tradecore/internal/exchange"
	"tradecore/internal/metrics"
	"tradecore/internal/position"
	"tradecore/internal/resilience"

	"github.com/rs/zerolog/log"
)

const resilienceComponent = "stopmanager"

// OrphanStore persists SL cancels that failed with a non-recoverable
// error, so a startup routine can retry them (spec §4.12).
type OrphanStore interface {
	SaveOrphan(ctx context.Context, o common.OrphanSL) error
	ListOrphans(ctx context.Context) ([]common.OrphanSL, error)
	RemoveOrphan(ctx context.Context, slOrderID string) error
}

// Config carries stop-loss/emergency-stop-loss/cleanup thresholds (spec §6).
type Config struct {
	CheckInterval         time.Duration // default 5s
	StopLimitTimeout       time.Duration // default 300s
	EmergencyEnabled       bool
	MinHoldMinutes         int     // default 1
	MaxLossThreshold       float64 // default 0.05
	EntryTakerRate         float64 // default 0.001
	ExitTakerRate          float64 // default 0.001
	CleanupMaxAgeHours     int     // default 24
	CleanupThresholdCount  int     // default 25
	SkipBotMonitoring      bool    // position_management.stop_loss.skip_bot_monitoring
	SLOrderType            string  // position_management.stop_loss.order_type ("stop" or "stop_limit")
}

// DefaultConfig mirrors spec §6's literal examples.
func DefaultConfig() Config {
	return Config{
		CheckInterval:         common.DefaultStopCheckIntervalSeconds * time.Second,
		StopLimitTimeout:      300 * time.Second,
		EmergencyEnabled:      true,
		MinHoldMinutes:        common.DefaultMinHoldMinutes,
		MaxLossThreshold:      common.DefaultMaxLossThreshold,
		EntryTakerRate:        0.001,
		ExitTakerRate:         0.001,
		CleanupMaxAgeHours:    24,
		CleanupThresholdCount: 25,
		SkipBotMonitoring:     false,
		SLOrderType:           string(exchange.OrderTypeStop),
	}
}

// PriceSource fetches the current price for a symbol, falling back to a
// configured constant when the ticker call fails (spec §4.12 step 1).
type PriceSource interface {
	FetchTicker(ctx context.Context, symbol string) (exchange.Ticker, error)
}

// Manager is StopManager.
type Manager struct {
	cfg      Config
	client   exchange.Client
	tracker  *position.Tracker
	res      *resilience.Manager
	store    OrphanStore
	mode     common.Mode
	fallback float64 // trading.fallback_btc_jpy equivalent constant
	metrics  *metrics.Registry
}

// NewManager builds a monitoring manager. In ModeBacktest, CheckStopConditions
// is a no-op (spec §4.12 / original_source "if mode == backtest: return None").
func NewManager(cfg Config, client exchange.Client, tracker *position.Tracker, res *resilience.Manager, store OrphanStore, mode common.Mode, fallbackPrice float64) *Manager {
	return &Manager{cfg: cfg, client: client, tracker: tracker, res: res, store: store, mode: mode, fallback: fallbackPrice}
}

// SetMetrics attaches a metrics Registry for TP/SL auto-execution counters.
// Optional; nil leaves the manager fully functional but unobserved.
func (m *Manager) SetMetrics(reg *metrics.Registry) {
	m.metrics = reg
}

// Run drives the primary monitoring loop on a ticker until ctx is
// cancelled (spec §5 "StopManager's monitoring loop runs as one
// goroutine driven by a time.Ticker").
func (m *Manager) Run(ctx context.Context, symbol string) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Tick(ctx, symbol); err != nil {
				log.Warn().Err(err).Msg("stopmanager tick failed")
			}
		}
	}
}

func (m *Manager) currentPrice(ctx context.Context, symbol string) float64 {
	t, err := m.client.FetchTicker(ctx, symbol)
	if err != nil || t.Last <= 0 {
		m.res.RecordError(resilienceComponent, common.SeverityWarning)
		return m.fallback
	}
	m.res.RecordSuccess(resilienceComponent)
	return t.Last
}

// Tick runs one pass of the primary loop over every tracked position (spec
// §4.12). Backtest mode skips entirely — its own driver runs equivalent
// checks (spec §9).
func (m *Manager) Tick(ctx context.Context, symbol string) error {
	if m.mode == common.ModeBacktest {
		return nil
	}
	price := m.currentPrice(ctx, symbol)
	for _, p := range m.tracker.GetAll() {
		if err := m.evaluatePosition(ctx, symbol, p, price); err != nil {
			log.Warn().Err(err).Str("position", p.OrderID).Msg("evaluate position exit failed")
		}
	}
	return nil
}

func (m *Manager) evaluatePosition(ctx context.Context, symbol string, p common.VirtualPosition, price float64) error {
	if m.cfg.EmergencyEnabled {
		if exited, err := m.checkEmergencyExit(ctx, symbol, p, price); exited || err != nil {
			return err
		}
	}
	if exited, err := m.checkTakeProfit(ctx, symbol, p, price); exited || err != nil {
		return err
	}
	return m.checkStopLoss(ctx, symbol, p, price)
}

func crossedFavorably(side common.Side, price, target float64) bool {
	if side == common.SideBuy {
		return price >= target
	}
	return price <= target
}

func crossedAdversely(side common.Side, price, target float64) bool {
	if side == common.SideBuy {
		return price <= target
	}
	return price >= target
}

// checkTakeProfit executes a favorable-direction exit and cleans up the
// paired SL (spec §4.12 step 2).
func (m *Manager) checkTakeProfit(ctx context.Context, symbol string, p common.VirtualPosition, price float64) (bool, error) {
	if p.TakeProfit == nil || !crossedFavorably(p.Side, price, *p.TakeProfit) {
		return false, nil
	}
	if err := m.executeExit(ctx, symbol, p, price, "take_profit"); err != nil {
		return false, err
	}
	if p.SLOrderID != nil {
		m.cancelBestEffort(ctx, symbol, *p.SLOrderID)
	}
	return true, nil
}

// checkStopLoss defers to the exchange-native stop-limit when
// skip_bot_monitoring is in effect, otherwise triggers a bot-side exit on
// adverse crossing, with a timeout-fallback safety check (spec §4.12 steps
// 3-4).
func (m *Manager) checkStopLoss(ctx context.Context, symbol string, p common.VirtualPosition, price float64) error {
	if p.StopLoss == nil {
		return nil
	}
	if m.shouldSkipBotMonitoring(p) {
		return m.checkStopLimitTimeout(ctx, symbol, p, price)
	}
	if crossedAdversely(p.Side, price, *p.StopLoss) {
		return m.executeExit(ctx, symbol, p, price, "stop_loss")
	}
	return nil
}

// shouldSkipBotMonitoring mirrors original_source's
// _should_skip_bot_sl_monitoring: bot-side price-cross exits defer to the
// exchange-native stop-limit order only when skip_bot_monitoring is
// configured AND this particular SL was actually placed as a stop_limit
// order. A plain stop order still needs the bot-side watch, since the
// exchange provides no intermediate "triggered but not yet filled" state
// to fall back on (spec §4.12).
func (m *Manager) shouldSkipBotMonitoring(p common.VirtualPosition) bool {
	if !m.cfg.SkipBotMonitoring {
		return false
	}
	if p.SLOrderID == nil || p.SLPlacedAt == nil {
		return false
	}
	return p.SLOrderType == string(exchange.OrderTypeStopLimit)
}

// checkStopLimitTimeout falls back to a market exit only when the native
// SL's exchange status is neither open, closed, nor cancelled AND price is
// inside the ±1.5% safety margin — preventing spurious fallback during
// transient API errors (spec §4.12 step 4).
func (m *Manager) checkStopLimitTimeout(ctx context.Context, symbol string, p common.VirtualPosition, price float64) error {
	if time.Since(*p.SLPlacedAt) <= m.cfg.StopLimitTimeout {
		return nil
	}
	order, err := m.client.FetchOrder(ctx, *p.SLOrderID, symbol)
	if err != nil {
		log.Warn().Err(err).Str("sl_order_id", *p.SLOrderID).Msg("stop-limit timeout: status check failed, skipping fallback")
		return nil
	}
	switch order.Status {
	case exchange.OrderOpen, exchange.OrderClosed, exchange.OrderCanceled:
		return nil
	}
	if !withinSafetyMargin(p.Side, price, *p.StopLoss) {
		return nil
	}
	log.Warn().Str("position", p.OrderID).Msg("stop-limit timeout fallback triggered")
	return m.executeExit(ctx, symbol, p, price, "stop_limit_timeout_fallback")
}

func withinSafetyMargin(side common.Side, price, stopPrice float64) bool {
	if side == common.SideBuy {
		return price <= stopPrice*common.SLSafetyMarginBuy
	}
	return price >= stopPrice*common.SLSafetyMarginSell
}

// checkEmergencyExit exits immediately, regardless of cooldown, when an
// open position has aged past min_hold_minutes and its unrealized loss
// exceeds max_loss_threshold (spec §4.12 step 5).
func (m *Manager) checkEmergencyExit(ctx context.Context, symbol string, p common.VirtualPosition, price float64) (bool, error) {
	if time.Since(p.Timestamp) < time.Duration(m.cfg.MinHoldMinutes)*time.Minute {
		return false, nil
	}
	lossRatio := unrealizedLossRatio(p.Side, p.EntryPrice, price)
	if lossRatio <= m.cfg.MaxLossThreshold {
		return false, nil
	}
	log.Warn().Str("position", p.OrderID).Float64("loss_ratio", lossRatio).Msg("emergency exit triggered")
	if err := m.executeExit(ctx, symbol, p, price, "emergency_stop_loss"); err != nil {
		return false, err
	}
	return true, nil
}

func unrealizedLossRatio(side common.Side, entry, price float64) float64 {
	if entry == 0 {
		return 0
	}
	if side == common.SideBuy {
		return (entry - price) / entry
	}
	return (price - entry) / entry
}

// executeExit issues the real closing order, removes the position from the
// tracker, and records realized PnL (spec §4.12 "_execute_position_exit").
func (m *Manager) executeExit(ctx context.Context, symbol string, p common.VirtualPosition, price float64, reason string) error {
	order, err := m.client.CreateOrder(ctx, exchange.CreateOrderRequest{
		Symbol: symbol, Side: exchange.Side(p.Side.Opposite()), Type: exchange.OrderTypeMarket,
		Amount: p.Amount, IsClosingOrder: true,
	})
	if err != nil {
		m.res.RecordError(resilienceComponent, common.SeverityWarning)
		if m.metrics != nil {
			m.metrics.OrdersFailed().Inc()
		}
		return fmt.Errorf("stopmanager: execute exit (%s): %w", reason, err)
	}
	m.res.RecordSuccess(resilienceComponent)
	if m.metrics != nil {
		m.metrics.OrdersPlaced().Inc()
	}

	pnl := RealizedPnL(p.Side, p.EntryPrice, price, p.Amount, m.cfg.EntryTakerRate, m.cfg.ExitTakerRate)
	log.Info().Str("position", p.OrderID).Str("reason", reason).Float64("pnl", pnl).
		Str("order_id", order.ID).Msg("position exit executed")
	m.tracker.Remove(p.OrderID)
	return nil
}

// RealizedPnL computes gross PnL minus entry/exit taker fees (spec §4.12).
func RealizedPnL(side common.Side, entry, exit, amount, entryTakerRate, exitTakerRate float64) float64 {
	var gross float64
	if side == common.SideBuy {
		gross = (exit - entry) * amount
	} else {
		gross = (entry - exit) * amount
	}
	fees := entry*amount*entryTakerRate + exit*amount*exitTakerRate
	return gross - fees
}

func (m *Manager) cancelBestEffort(ctx context.Context, symbol, orderID string) {
	if err := m.client.CancelOrder(ctx, orderID, symbol); err != nil && !exchange.IsOrderNotFound(err) {
		m.markOrphan(ctx, orderID, err)
	}
}

func (m *Manager) markOrphan(ctx context.Context, slOrderID string, cause error) {
	if m.store == nil {
		return
	}
	o := common.OrphanSL{SLOrderID: slOrderID, Reason: cause.Error(), Timestamp: time.Now()}
	if err := m.store.SaveOrphan(ctx, o); err != nil {
		log.Error().Err(err).Str("sl_order_id", slOrderID).Msg("failed to persist orphan SL record")
	}
}

// DrainOrphans is the startup routine: re-attempt every persisted orphan
// cancel, removing entries that now succeed (spec §4.12).
func (m *Manager) DrainOrphans(ctx context.Context, symbol string) error {
	if m.store == nil {
		return nil
	}
	orphans, err := m.store.ListOrphans(ctx)
	if err != nil {
		return fmt.Errorf("stopmanager: list orphans: %w", err)
	}
	for _, o := range orphans {
		if err := m.client.CancelOrder(ctx, o.SLOrderID, symbol); err != nil && !exchange.IsOrderNotFound(err) {
			log.Warn().Err(err).Str("sl_order_id", o.SLOrderID).Msg("orphan SL cancel retry failed")
			continue
		}
		if err := m.store.RemoveOrphan(ctx, o.SLOrderID); err != nil {
			log.Warn().Err(err).Str("sl_order_id", o.SLOrderID).Msg("failed to remove drained orphan record")
		}
	}
	return nil
}

// DetectAutoExecuted compares tracked positions to the exchange's reported
// open positions and records TP/SL auto-executions for any that
// disappeared, cancelling the paired order (spec §4.12 "Exchange-triggered
// TP/SL detection").
func (m *Manager) DetectAutoExecuted(ctx context.Context, symbol string) error {
	actual, err := m.client.FetchMarginPositions(ctx, symbol)
	if err != nil {
		return fmt.Errorf("stopmanager: fetch margin positions: %w", err)
	}
	disappeared := m.tracker.GetOrphanedPositions(actual)

	for _, p := range disappeared {
		if p.TPOrderID != nil {
			if order, err := m.client.FetchOrder(ctx, *p.TPOrderID, symbol); err == nil && order.Status == exchange.OrderClosed {
				log.Info().Str("position", p.OrderID).Msg("TP auto-executed at exchange")
				if m.metrics != nil {
					m.metrics.TPAutoExecuted().Inc()
				}
				if p.SLOrderID != nil {
					m.cancelBestEffort(ctx, symbol, *p.SLOrderID)
				}
				m.tracker.Remove(p.OrderID)
				continue
			}
		}
		if p.SLOrderID != nil {
			if order, err := m.client.FetchOrder(ctx, *p.SLOrderID, symbol); err == nil && order.Status == exchange.OrderClosed {
				log.Info().Str("position", p.OrderID).Msg("SL auto-executed at exchange")
				if m.metrics != nil {
					m.metrics.SLAutoExecuted().Inc()
				}
				if p.TPOrderID != nil {
					m.cancelBestEffort(ctx, symbol, *p.TPOrderID)
				}
				m.tracker.Remove(p.OrderID)
			}
		}
	}
	return nil
}

// CleanupStaleOrders cancels every active order once the active-order count
// exceeds the threshold, excluding any TP/SL protected by a live virtual
// position (spec §4.12). Orders are not filtered by age: exchange.Order
// carries no creation time, and CleanupMaxAgeHours is not read here.
func (m *Manager) CleanupStaleOrders(ctx context.Context, symbol string) error {
	active, err := m.client.FetchActiveOrders(ctx, symbol, 100)
	if err != nil {
		return fmt.Errorf("stopmanager: fetch active orders: %w", err)
	}
	if len(active) <= m.cfg.CleanupThresholdCount {
		return nil
	}
	protected := make(map[string]bool)
	for _, p := range m.tracker.GetAll() {
		if p.TPOrderID != nil {
			protected[*p.TPOrderID] = true
		}
		if p.SLOrderID != nil {
			protected[*p.SLOrderID] = true
		}
	}
	for _, o := range active {
		if protected[o.ID] {
			continue
		}
		if err := m.client.CancelOrder(ctx, o.ID, symbol); err != nil && !exchange.IsOrderNotFound(err) {
			log.Warn().Err(err).Str("order_id", o.ID).Msg("stale order cleanup cancel failed")
		}
	}
	return nil
}
