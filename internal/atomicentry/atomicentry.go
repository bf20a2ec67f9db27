// Package atomicentry implements AtomicEntryManager: pre-entry cleanup of
// stale TP/SL orders, retrying TP/SL placement, and all-or-nothing rollback
// of a filled entry (spec §4.11, grounded on original_source's
// atomic_entry_manager.py).
package atomicentry

import (
	"context"
	"fmt"
	"time"

	"tradecore/internal/common"
	"tradecore/internal/exchange"
	"tradecore/internal/position"
	"tradecore/internal/resilience"

	"github.com/rs/zerolog/log"
)

const resilienceComponent = "atomicentry"

// Config carries position_management.cleanup.* thresholds (spec §6).
type Config struct {
	MaxRetries       int // default 3
	BackoffBaseSec   int // default 2, backoff = base**(attempt-1)
	CleanupThreshold int // default 25, fires once active orders exceed this
}

// DefaultConfig mirrors spec defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       common.DefaultEntryMaxRetries,
		BackoffBaseSec:   common.EntryRetryBackoffBaseS,
		CleanupThreshold: 25,
	}
}

// Manager is AtomicEntryManager.
type Manager struct {
	cfg     Config
	client  exchange.Client
	tracker *position.Tracker
	res     *resilience.Manager
	sleep   func(time.Duration)
}

// NewManager builds a manager; sleep is injectable for deterministic tests.
func NewManager(cfg Config, client exchange.Client, tracker *position.Tracker, res *resilience.Manager) *Manager {
	return &Manager{cfg: cfg, client: client, tracker: tracker, res: res, sleep: time.Sleep}
}

// CleanupOldTPSL scans active orders once their count exceeds
// CleanupThreshold and cancels every order that is neither entryID nor a
// TP/SL of a currently tracked position, protecting against the exchange's
// order cap (spec §4.11 "Pre-entry cleanup"). Orders are not told apart by
// type or side (exchange.Order carries neither), so any other untracked
// active order is cancelled as well.
func (m *Manager) CleanupOldTPSL(ctx context.Context, symbol string, d common.Side, entryID string) error {
	active, err := m.client.FetchActiveOrders(ctx, symbol, 100)
	if err != nil {
		return fmt.Errorf("atomicentry: fetch active orders: %w", err)
	}
	if len(active) <= m.cfg.CleanupThreshold {
		return nil
	}

	tracked := make(map[string]bool)
	for _, p := range m.tracker.GetAll() {
		if p.OrderID == entryID {
			continue
		}
		if p.TPOrderID != nil {
			tracked[*p.TPOrderID] = true
		}
		if p.SLOrderID != nil {
			tracked[*p.SLOrderID] = true
		}
	}

	for _, o := range active {
		if o.ID == entryID || tracked[o.ID] {
			continue
		}
		if err := m.client.CancelOrder(ctx, o.ID, symbol); err != nil && !exchange.IsOrderNotFound(err) {
			log.Warn().Err(err).Str("order_id", o.ID).Msg("atomic entry pre-cleanup cancel failed")
		}
	}
	return nil
}

// placeWithRetry implements the exponential-backoff retry loop shared by
// TP and SL placement (spec §4.11 "Place-with-retry").
func (m *Manager) placeWithRetry(ctx context.Context, place func(ctx context.Context) (exchange.Order, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		order, err := place(ctx)
		if err == nil {
			m.res.RecordSuccess(resilienceComponent)
			return order.ID, nil
		}
		lastErr = err
		m.res.RecordError(resilienceComponent, common.SeverityWarning)
		if attempt < m.cfg.MaxRetries {
			backoff := time.Duration(1) * time.Second
			for i := 1; i < attempt; i++ {
				backoff *= time.Duration(m.cfg.BackoffBaseSec)
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			default:
				m.sleep(backoff)
			}
		}
	}
	return "", fmt.Errorf("atomicentry: exhausted %d attempts: %w", m.cfg.MaxRetries, lastErr)
}

// PlaceTP places the take-profit limit order with retry.
func (m *Manager) PlaceTP(ctx context.Context, symbol string, side common.Side, amount, price float64) (string, error) {
	return m.placeWithRetry(ctx, func(ctx context.Context) (exchange.Order, error) {
		return m.client.CreateOrder(ctx, exchange.CreateOrderRequest{
			Symbol: symbol, Side: exchange.Side(side.Opposite()), Type: exchange.OrderTypeLimit,
			Amount: amount, Price: price, IsClosingOrder: true,
		})
	})
}

// PlaceSL places the stop-loss order with retry.
func (m *Manager) PlaceSL(ctx context.Context, symbol string, side common.Side, amount, triggerPrice float64, orderType exchange.OrderType) (string, error) {
	return m.placeWithRetry(ctx, func(ctx context.Context) (exchange.Order, error) {
		return m.client.CreateOrder(ctx, exchange.CreateOrderRequest{
			Symbol: symbol, Side: exchange.Side(side.Opposite()), Type: orderType,
			Amount: amount, TriggerPrice: triggerPrice, IsClosingOrder: true,
		})
	})
}

// PlaceAndProtect runs the atomic entry protocol: place TP, place SL,
// record both in the tracker. Any failure triggers Rollback and returns a
// non-nil err — never a panic (spec §9 typed-result modeling).
func (m *Manager) PlaceAndProtect(ctx context.Context, symbol string, entryID string, side common.Side, amount, tpPrice, slPrice float64, slOrderType exchange.OrderType) (tpID, slID string, err error) {
	tpID, err = m.PlaceTP(ctx, symbol, side, amount, tpPrice)
	if err != nil {
		m.Rollback(ctx, symbol, entryID, "", "")
		return "", "", fmt.Errorf("atomicentry: place TP: %w", err)
	}

	slID, err = m.PlaceSL(ctx, symbol, side, amount, slPrice, slOrderType)
	if err != nil {
		m.Rollback(ctx, symbol, entryID, tpID, "")
		return "", "", fmt.Errorf("atomicentry: place SL: %w", err)
	}

	if ok := m.tracker.UpdateTPSL(entryID, &tpID, &slID, string(slOrderType)); !ok {
		m.Rollback(ctx, symbol, entryID, tpID, slID)
		return "", "", fmt.Errorf("atomicentry: entry %s vanished from tracker mid-protect", entryID)
	}
	return tpID, slID, nil
}

// Rollback cancels TP (if placed), then SL (if placed), then the entry
// itself; each cancel is best-effort. If the entry-cancel fails, it is
// logged at CRITICAL with manual_intervention_required (spec §4.11).
func (m *Manager) Rollback(ctx context.Context, symbol, entryID, tpID, slID string) {
	if tpID != "" {
		if err := m.client.CancelOrder(ctx, tpID, symbol); err != nil && !exchange.IsOrderNotFound(err) {
			log.Warn().Err(err).Str("order_id", tpID).Msg("rollback: TP cancel failed")
		}
	}
	if slID != "" {
		if err := m.client.CancelOrder(ctx, slID, symbol); err != nil && !exchange.IsOrderNotFound(err) {
			log.Warn().Err(err).Str("order_id", slID).Msg("rollback: SL cancel failed")
		}
	}
	if err := m.client.CancelOrder(ctx, entryID, symbol); err != nil && !exchange.IsOrderNotFound(err) {
		m.res.RecordError(resilienceComponent, common.SeverityCritical)
		log.Error().Err(err).Str("order_id", entryID).Bool("manual_intervention_required", true).
			Msg("rollback: entry cancel failed, manual intervention required")
	}
}
