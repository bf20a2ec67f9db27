package backtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"tradecore/internal/exchange"
)

// simSpread is the synthetic half-spread FetchOrderBook quotes around the
// last known price, close enough to real top-of-book that OrderStrategy's
// spread-ratio gate and maker/limit pricing behave the same as in live
// trading.
const simSpread = 0.0005

// SimClient is the in-memory exchange.Client Engine drives ExecutionService
// against. Market orders fill immediately at the current bar price and
// entry limit orders at their limit price; TP/SL orders placed by
// AtomicEntryManager (closing limit orders and stop/stop_limit orders) are
// accepted but left resting — Engine's own per-tick check closes positions
// directly instead of waiting on them (spec §10).
type SimClient struct {
	mu       sync.Mutex
	price    map[string]float64
	balance  float64
	commRate float64
	orders   map[string]exchange.Order
	nextID   int64
}

// NewSimClient builds a client seeded with initialBalance and a flat
// commission rate (e.g. 0.001 for 10bps).
func NewSimClient(initialBalance, commissionRate float64) *SimClient {
	return &SimClient{
		price:    make(map[string]float64),
		balance:  initialBalance,
		commRate: commissionRate,
		orders:   make(map[string]exchange.Order),
	}
}

// SetPrice updates the last-traded price Engine replays for symbol.
func (c *SimClient) SetPrice(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.price[symbol] = price
}

// Balance returns the client's current cash balance.
func (c *SimClient) Balance() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance
}

func (c *SimClient) genID() string {
	id := atomic.AddInt64(&c.nextID, 1)
	return fmt.Sprintf("sim-%d", id)
}

func (c *SimClient) FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMs int64, limit int) ([]exchange.Bar, error) {
	return nil, fmt.Errorf("simclient: FetchOHLCV unsupported, bars are fed by the replay loop")
}

func (c *SimClient) FetchTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return exchange.Ticker{Last: c.price[symbol]}, nil
}

func (c *SimClient) FetchOrderBook(ctx context.Context, symbol string, depth int) (exchange.OrderBook, error) {
	c.mu.Lock()
	p := c.price[symbol]
	c.mu.Unlock()
	if p <= 0 {
		return exchange.OrderBook{}, nil
	}
	return exchange.OrderBook{
		Bids: []exchange.OrderBookLevel{{Price: p * (1 - simSpread), Qty: 1000}},
		Asks: []exchange.OrderBookLevel{{Price: p * (1 + simSpread), Qty: 1000}},
	}, nil
}

func (c *SimClient) CreateOrder(ctx context.Context, req exchange.CreateOrderRequest) (exchange.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.genID()

	switch {
	case req.Type == exchange.OrderTypeStop, req.Type == exchange.OrderTypeStopLimit,
		req.Type == exchange.OrderTypeLimit && req.IsClosingOrder:
		// TP/SL resting orders: accepted, never auto-filled. Engine's own
		// per-tick check closes the position directly.
		restPrice := req.TriggerPrice
		if restPrice == 0 {
			restPrice = req.Price
		}
		order := exchange.Order{ID: id, Status: exchange.OrderOpen, Price: restPrice, Amount: req.Amount}
		c.orders[id] = order
		return order, nil
	}

	price := req.Price
	if price <= 0 {
		price = c.price[req.Symbol]
	}
	if price <= 0 {
		return exchange.Order{}, fmt.Errorf("simclient: no price known for %s", req.Symbol)
	}

	fee := price * req.Amount * c.commRate
	c.balance -= fee

	order := exchange.Order{
		ID: id, Status: exchange.OrderClosed, Price: price,
		Amount: req.Amount, Filled: req.Amount, Average: price, Fee: fee,
	}
	c.orders[id] = order
	return order, nil
}

func (c *SimClient) CancelOrder(ctx context.Context, id, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.orders, id)
	return nil
}

func (c *SimClient) FetchOrder(ctx context.Context, id, symbol string) (exchange.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.orders[id]
	if !ok {
		return exchange.Order{ID: id, Status: exchange.OrderUnknown}, nil
	}
	return order, nil
}

func (c *SimClient) FetchActiveOrders(ctx context.Context, symbol string, limit int) ([]exchange.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var open []exchange.Order
	for _, o := range c.orders {
		if o.Status == exchange.OrderOpen {
			open = append(open, o)
		}
		if len(open) >= limit {
			break
		}
	}
	return open, nil
}

func (c *SimClient) FetchMarginPositions(ctx context.Context, symbol string) ([]exchange.MarginPosition, error) {
	return nil, nil
}

func (c *SimClient) FetchMarginStatus(ctx context.Context) (exchange.MarginStatus, error) {
	return exchange.MarginStatus{}, nil
}

func (c *SimClient) FetchBalance(ctx context.Context) (exchange.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return exchange.Balance{Free: c.balance}, nil
}
