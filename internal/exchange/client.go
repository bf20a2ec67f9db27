// Package exchange defines the polymorphic exchange-client capability the
// execution core is built against (spec §6) and a resty-based concrete
// implementation of it.
package exchange

import (
	"context"
	"time"
)

// Side is the order side, "buy" or "sell".
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the opposing side, used throughout exit/rollback logic.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType enumerates the order types the core places.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// OrderStatus mirrors the exchange-native statuses fetchOrder can report.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderClosed    OrderStatus = "closed"
	OrderCanceled  OrderStatus = "canceled"
	OrderExpired   OrderStatus = "expired"
	OrderUnknown   OrderStatus = "unknown"
)

// CreateOrderRequest is the request shape for createOrder (spec §6).
type CreateOrderRequest struct {
	Symbol            string
	Side              Side
	Type              OrderType
	Amount            float64
	Price             float64 // required for limit/stop_limit
	PostOnly          bool
	TriggerPrice      float64 // required for stop/stop_limit
	IsClosingOrder    bool
	EntryPositionSide Side
	ClientOrderID     string
}

// Order is the response shape for createOrder/fetchOrder.
type Order struct {
	ID       string
	Status   OrderStatus
	Price    float64
	Amount   float64
	Filled   float64
	Average  float64
	Fee      float64
}

// Bar is one OHLCV candle, [ts_ms, o, h, l, c, v].
type Bar struct {
	TimestampMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
}

// Ticker is the minimal last-price view the core consumes.
type Ticker struct {
	Last float64
}

// OrderBookLevel is one [price, quantity] level.
type OrderBookLevel struct {
	Price float64
	Qty   float64
}

// OrderBook is the top-of-book snapshot fetchOrderBook returns.
type OrderBook struct {
	Bids []OrderBookLevel
	Asks []OrderBookLevel
}

func (b OrderBook) BestBid() (float64, bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	return b.Bids[0].Price, true
}

func (b OrderBook) BestAsk() (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	return b.Asks[0].Price, true
}

// MarginPositionSide mirrors the exchange's long/short position vocabulary.
type MarginPositionSide string

const (
	PositionLong  MarginPositionSide = "long"
	PositionShort MarginPositionSide = "short"
)

// MarginPosition is one entry of fetchMarginPositions.
type MarginPosition struct {
	Side   MarginPositionSide
	Amount float64
}

// MarginStatus is the response shape for fetchMarginStatus; MarginRatio is
// nil when the exchange does not report one (formula fallback applies).
type MarginStatus struct {
	MarginRatio      *float64
	AvailableBalance *float64
}

// Balance is the response shape for fetchBalance, narrowed to what the core
// needs (quote-currency free balance).
type Balance struct {
	Free float64
}

// Client is the polymorphic exchange capability set from spec §6. Every
// method may fail; callers route failures through ResilienceManager.
type Client interface {
	FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMs int64, limit int) ([]Bar, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)
	CreateOrder(ctx context.Context, req CreateOrderRequest) (Order, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	FetchOrder(ctx context.Context, id, symbol string) (Order, error)
	FetchActiveOrders(ctx context.Context, symbol string, limit int) ([]Order, error)
	FetchMarginPositions(ctx context.Context, symbol string) ([]MarginPosition, error)
	FetchMarginStatus(ctx context.Context) (MarginStatus, error)
	FetchBalance(ctx context.Context) (Balance, error)
}

// DefaultRateLimit is the minimum spacing the exchange declares between calls of the
// same kind; MarketDataFetcher's pagination loop honors it (spec §5).
const DefaultRateLimit = 200 * time.Millisecond
