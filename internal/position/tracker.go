// Package position owns the locally-tracked virtual position registry
// (spec §4.5), the six-gate admission control (§4.7), and the ADX/DI/EMA
// cooldown bypass (§4.8).
package position

import (
	"sync"
	"time"

	"tradecore/internal/common"
	"tradecore/internal/exchange"

	"github.com/rs/zerolog/log"
)

// Exposure is the total notional split by side (spec §4.5 totalExposure).
type Exposure struct {
	BuyNotional  float64
	SellNotional float64
	Total        float64
}

// Tracker is PositionTracker: a single-writer, defensive-copy-read registry
// of VirtualPosition records (spec §4.5, §5).
type Tracker struct {
	mu        sync.RWMutex
	positions []common.VirtualPosition
}

// NewTracker constructs an empty registry.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Add appends a new virtual position and logs its identity (spec §4.5).
func (t *Tracker) Add(p common.VirtualPosition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions = append(t.positions, p)
	log.Info().Str("id", p.OrderID).Str("side", string(p.Side)).
		Float64("amount", p.Amount).Float64("price", p.EntryPrice).
		Str("strategy", p.StrategyName).Msg("position tracked")
}

// Remove deletes the position with the given id and returns the removed
// record (spec §4.5 "O(n) scan").
func (t *Tracker) Remove(id string) (common.VirtualPosition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.positions {
		if p.OrderID == id {
			t.positions = append(t.positions[:i], t.positions[i+1:]...)
			return p, true
		}
	}
	return common.VirtualPosition{}, false
}

// CleanupIDs is the TP/SL order-ID pair RemoveWithCleanup returns for
// caller-driven exchange cleanup (spec §4.5).
type CleanupIDs struct {
	TPOrderID string
	SLOrderID string
}

// RemoveWithCleanup removes the position and additionally surfaces its
// TP/SL order IDs so the caller can cancel them at the exchange.
func (t *Tracker) RemoveWithCleanup(id string) (common.VirtualPosition, CleanupIDs, bool) {
	p, ok := t.Remove(id)
	if !ok {
		return p, CleanupIDs{}, false
	}
	var ids CleanupIDs
	if p.TPOrderID != nil {
		ids.TPOrderID = *p.TPOrderID
	}
	if p.SLOrderID != nil {
		ids.SLOrderID = *p.SLOrderID
	}
	return p, ids, true
}

// Find returns the position with the given id.
func (t *Tracker) Find(id string) (common.VirtualPosition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.positions {
		if p.OrderID == id {
			return p, true
		}
	}
	return common.VirtualPosition{}, false
}

// FindBySide returns every tracked position on side s.
func (t *Tracker) FindBySide(s common.Side) []common.VirtualPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]common.VirtualPosition, 0)
	for _, p := range t.positions {
		if p.Side == s {
			out = append(out, p)
		}
	}
	return out
}

// GetAll returns a defensive copy of every tracked position.
func (t *Tracker) GetAll() []common.VirtualPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]common.VirtualPosition, len(t.positions))
	copy(out, t.positions)
	return out
}

// Count returns the number of tracked positions.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}

// TotalExposure sums notional (amount * entryPrice) split by side.
func (t *Tracker) TotalExposure() Exposure {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var e Exposure
	for _, p := range t.positions {
		notional := p.Amount * p.EntryPrice
		if p.Side == common.SideBuy {
			e.BuyNotional += notional
		} else {
			e.SellNotional += notional
		}
	}
	e.Total = e.BuyNotional + e.SellNotional
	return e
}

// UpdateTPSL partially updates a position's tracked TP/SL order IDs,
// returning false if no such position exists. slOrderType records how the
// SL was placed ("stop" or "stop_limit") so StopManager can tell whether
// skip_bot_monitoring applies to this particular SL (spec §4.12).
func (t *Tracker) UpdateTPSL(id string, tpID, slID *string, slOrderType string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.positions {
		if t.positions[i].OrderID != id {
			continue
		}
		if tpID != nil {
			t.positions[i].TPOrderID = tpID
		}
		if slID != nil {
			t.positions[i].SLOrderID = slID
			now := time.Now()
			t.positions[i].SLPlacedAt = &now
			t.positions[i].SLOrderType = slOrderType
		}
		return true
	}
	return false
}

// GetOrphanedPositions returns tracked positions whose side has no matching
// open position at the exchange — side-equal AND a nonzero exchange amount
// is required on that side; per-record amount need not match exactly (spec
// §4.5).
func (t *Tracker) GetOrphanedPositions(actual []exchange.MarginPosition) []common.VirtualPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()

	hasSide := map[common.Side]bool{}
	for _, a := range actual {
		if a.Amount == 0 {
			continue
		}
		switch a.Side {
		case exchange.PositionLong:
			hasSide[common.SideBuy] = true
		case exchange.PositionShort:
			hasSide[common.SideSell] = true
		}
	}

	var orphaned []common.VirtualPosition
	for _, p := range t.positions {
		if !hasSide[p.Side] {
			orphaned = append(orphaned, p)
		}
	}
	return orphaned
}
