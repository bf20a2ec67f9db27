package backtest

import (
	"context"
	"testing"

	"tradecore/internal/exchange"
)

func TestSimClient_CreateOrder_MarketFillsAtCurrentPrice(t *testing.T) {
	c := NewSimClient(10000, 0.001)
	c.SetPrice("BTCUSDT", 100)

	order, err := c.CreateOrder(context.Background(), exchange.CreateOrderRequest{
		Symbol: "BTCUSDT", Side: exchange.SideBuy, Type: exchange.OrderTypeMarket, Amount: 2,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Status != exchange.OrderClosed {
		t.Errorf("expected market order to fill immediately, got status %v", order.Status)
	}
	if order.Average != 100 || order.Filled != 2 {
		t.Errorf("expected fill at 100 x2, got average %v filled %v", order.Average, order.Filled)
	}

	wantFee := 100.0 * 2 * 0.001
	if order.Fee != wantFee {
		t.Errorf("expected fee %v, got %v", wantFee, order.Fee)
	}
	if got := c.Balance(); got != 10000-wantFee {
		t.Errorf("expected balance debited by fee, got %v", got)
	}
}

func TestSimClient_CreateOrder_LimitFillsAtRequestPrice(t *testing.T) {
	c := NewSimClient(10000, 0)
	c.SetPrice("BTCUSDT", 100)

	order, err := c.CreateOrder(context.Background(), exchange.CreateOrderRequest{
		Symbol: "BTCUSDT", Side: exchange.SideSell, Type: exchange.OrderTypeLimit, Amount: 1, Price: 105,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Average != 105 {
		t.Errorf("expected limit order to fill at its requested price 105, got %v", order.Average)
	}
}

func TestSimClient_CreateOrder_NoPriceKnown(t *testing.T) {
	c := NewSimClient(10000, 0.001)
	_, err := c.CreateOrder(context.Background(), exchange.CreateOrderRequest{
		Symbol: "XYZUSDT", Side: exchange.SideBuy, Type: exchange.OrderTypeMarket, Amount: 1,
	})
	if err == nil {
		t.Error("expected error when no price has been seeded for the symbol")
	}
}

func TestSimClient_CreateOrder_StopRestsOpen(t *testing.T) {
	c := NewSimClient(10000, 0.001)
	c.SetPrice("BTCUSDT", 100)

	order, err := c.CreateOrder(context.Background(), exchange.CreateOrderRequest{
		Symbol: "BTCUSDT", Side: exchange.SideSell, Type: exchange.OrderTypeStop, Amount: 1, TriggerPrice: 95,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Status != exchange.OrderOpen {
		t.Errorf("expected stop order to remain open (not auto-filled), got %v", order.Status)
	}
	if got := c.Balance(); got != 10000 {
		t.Errorf("expected no fee charged for a resting stop order, got balance %v", got)
	}

	fetched, err := c.FetchOrder(context.Background(), order.ID, "BTCUSDT")
	if err != nil {
		t.Fatalf("FetchOrder: %v", err)
	}
	if fetched.Status != exchange.OrderOpen {
		t.Errorf("expected fetched stop order still open, got %v", fetched.Status)
	}

	active, err := c.FetchActiveOrders(context.Background(), "BTCUSDT", 10)
	if err != nil {
		t.Fatalf("FetchActiveOrders: %v", err)
	}
	if len(active) != 1 || active[0].ID != order.ID {
		t.Errorf("expected the stop order to show up as active, got %+v", active)
	}
}

func TestSimClient_CancelOrder(t *testing.T) {
	c := NewSimClient(10000, 0)
	c.SetPrice("BTCUSDT", 100)
	order, _ := c.CreateOrder(context.Background(), exchange.CreateOrderRequest{
		Symbol: "BTCUSDT", Side: exchange.SideBuy, Type: exchange.OrderTypeStop, Amount: 1, TriggerPrice: 90,
	})

	if err := c.CancelOrder(context.Background(), order.ID, "BTCUSDT"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}

	fetched, err := c.FetchOrder(context.Background(), order.ID, "BTCUSDT")
	if err != nil {
		t.Fatalf("FetchOrder: %v", err)
	}
	if fetched.Status != exchange.OrderUnknown {
		t.Errorf("expected canceled order to be unknown afterward, got %v", fetched.Status)
	}
}

func TestSimClient_FetchOrder_Unknown(t *testing.T) {
	c := NewSimClient(10000, 0)
	order, err := c.FetchOrder(context.Background(), "never-placed", "BTCUSDT")
	if err != nil {
		t.Fatalf("FetchOrder: %v", err)
	}
	if order.Status != exchange.OrderUnknown {
		t.Errorf("expected unknown status for an order ID that was never placed, got %v", order.Status)
	}
}

func TestSimClient_FetchOrderBook(t *testing.T) {
	c := NewSimClient(10000, 0)
	c.SetPrice("BTCUSDT", 100)

	book, err := c.FetchOrderBook(context.Background(), "BTCUSDT", 5)
	if err != nil {
		t.Fatalf("FetchOrderBook: %v", err)
	}
	bid, okB := book.BestBid()
	ask, okA := book.BestAsk()
	if !okB || !okA {
		t.Fatal("expected both a bid and ask level")
	}
	if bid >= 100 || ask <= 100 {
		t.Errorf("expected bid below and ask above the last price, got bid %v ask %v", bid, ask)
	}
}

func TestSimClient_FetchOrderBook_NoPrice(t *testing.T) {
	c := NewSimClient(10000, 0)
	book, err := c.FetchOrderBook(context.Background(), "BTCUSDT", 5)
	if err != nil {
		t.Fatalf("FetchOrderBook: %v", err)
	}
	if len(book.Bids) != 0 || len(book.Asks) != 0 {
		t.Errorf("expected an empty book when no price has been seeded, got %+v", book)
	}
}

func TestSimClient_FetchBalance(t *testing.T) {
	c := NewSimClient(5000, 0)
	bal, err := c.FetchBalance(context.Background())
	if err != nil {
		t.Fatalf("FetchBalance: %v", err)
	}
	if bal.Free != 5000 {
		t.Errorf("expected free balance 5000, got %v", bal.Free)
	}
}

func TestSimClient_FetchMarginStatusAndPositions_AreNoops(t *testing.T) {
	c := NewSimClient(5000, 0)
	status, err := c.FetchMarginStatus(context.Background())
	if err != nil {
		t.Fatalf("FetchMarginStatus: %v", err)
	}
	if status.MarginRatio != nil {
		t.Error("expected nil margin ratio from the sim client")
	}
	positions, err := c.FetchMarginPositions(context.Background(), "BTCUSDT")
	if err != nil || positions != nil {
		t.Errorf("expected no margin positions, got %+v err %v", positions, err)
	}
}
