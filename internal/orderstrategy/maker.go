package orderstrategy

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/common"
	"tradecore/internal/exchange"
)

// MakerConfig carries order_execution.maker_strategy.* thresholds (spec §6).
type MakerConfig struct {
	MaxRetries              int           // default 3
	RetryInterval           time.Duration // default 500ms
	Timeout                 time.Duration // default 30s
	PriceAdjustmentTick     float64       // default 1 tick
	MaxPriceAdjustmentRatio float64       // default 0.001
}

// DefaultMakerConfig mirrors spec §6's literal examples.
func DefaultMakerConfig(tickSize float64) MakerConfig {
	return MakerConfig{
		MaxRetries:              3,
		RetryInterval:           500 * time.Millisecond,
		Timeout:                 30 * time.Second,
		PriceAdjustmentTick:     tickSize,
		MaxPriceAdjustmentRatio: 0.001,
	}
}

// PlaceMakerOrder places a post-only limit at best_bid+1tick (buy) or
// best_ask-1tick (sell), walking the price one tick in the unfavorable
// direction on each PostOnlyCancelled rejection, bounded by max retries,
// wall-clock timeout, and max total price adjustment (spec §4.9).
//
// CreateOrder's post-only rejection is trusted as-is: a cancelled attempt
// walks the price on the next retry without a follow-up FetchOrder call to
// rule out a fill/cancel race on the exchange side. That race (spec §9's
// open question) is left unresolved here; see DESIGN.md.
func PlaceMakerOrder(ctx context.Context, client exchange.Client, cfg MakerConfig, symbol string, side common.Side, amount float64, book exchange.OrderBook) (exchange.Order, error) {
	deadline := time.Now().Add(cfg.Timeout)
	bestBid, okB := book.BestBid()
	bestAsk, okA := book.BestAsk()
	if !okB || !okA {
		return exchange.Order{}, fmt.Errorf("orderstrategy: empty order book, cannot place maker order")
	}

	// Price walks by PriceAdjustmentTick on every rejection; decimal keeps
	// that repeated addition exact instead of drifting off the tick grid
	// the way repeated float64 += would over several retries.
	tick := decimal.NewFromFloat(cfg.PriceAdjustmentTick)
	var price decimal.Decimal
	if side == common.SideBuy {
		price = decimal.NewFromFloat(bestBid).Add(tick)
	} else {
		price = decimal.NewFromFloat(bestAsk).Sub(tick)
	}
	basePrice := price
	maxAdjustment := basePrice.Mul(decimal.NewFromFloat(cfg.MaxPriceAdjustmentRatio)).Abs()

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		if time.Now().After(deadline) {
			return exchange.Order{}, fmt.Errorf("orderstrategy: maker order timed out after %d attempts", attempt-1)
		}

		order, err := client.CreateOrder(ctx, exchange.CreateOrderRequest{
			Symbol: symbol, Side: exchange.Side(side), Type: exchange.OrderTypeLimit,
			Amount: amount, Price: price.InexactFloat64(), PostOnly: true,
		})
		if err == nil {
			return order, nil
		}
		if !isPostOnlyCancelled(err) {
			return exchange.Order{}, fmt.Errorf("place maker order: %w", err)
		}

		if side == common.SideBuy {
			price = price.Sub(tick)
		} else {
			price = price.Add(tick)
		}
		if walked := price.Sub(basePrice).Abs(); walked.GreaterThan(maxAdjustment) {
			return exchange.Order{}, fmt.Errorf("orderstrategy: maker price walk exceeded max adjustment ratio")
		}

		select {
		case <-ctx.Done():
			return exchange.Order{}, ctx.Err()
		case <-time.After(cfg.RetryInterval):
		}
	}
	return exchange.Order{}, fmt.Errorf("orderstrategy: maker order exhausted %d retries", cfg.MaxRetries)
}

// isPostOnlyCancelled reports whether err is treated as the exchange
// rejecting a post-only order (spec §4.9 "If post-only is cancelled by the
// exchange"): every *exchange.APIError counts as such except
// insufficient-funds and auth failures, which are not retryable via
// price-walk and must bubble immediately.
func isPostOnlyCancelled(err error) bool {
	apiErr, ok := err.(*exchange.APIError)
	if !ok {
		return false
	}
	switch apiErr.Code {
	case exchange.CodeInsufficientFunds, exchange.CodeAuth:
		return false
	default:
		return true
	}
}
