package execution

import (
	"context"
	"testing"

	"tradecore/internal/atomicentry"
	"tradecore/internal/balance"
	"tradecore/internal/common"
	"tradecore/internal/exchange"
	"tradecore/internal/orderstrategy"
	"tradecore/internal/position"
	"tradecore/internal/resilience"

	"github.com/stretchr/testify/assert"
)

type fakeClient struct {
	exchange.Client
	createCalls int
	activeOrders []exchange.Order
}

func (f *fakeClient) CreateOrder(ctx context.Context, req exchange.CreateOrderRequest) (exchange.Order, error) {
	f.createCalls++
	return exchange.Order{ID: "entry1", Status: exchange.OrderClosed, Average: req.Price, Price: req.Price}, nil
}

func (f *fakeClient) CancelOrder(ctx context.Context, id, symbol string) error { return nil }

func (f *fakeClient) FetchActiveOrders(ctx context.Context, symbol string, limit int) ([]exchange.Order, error) {
	return f.activeOrders, nil
}

func book(bid, ask float64) exchange.OrderBook {
	return exchange.OrderBook{
		Bids: []exchange.OrderBookLevel{{Price: bid, Qty: 1}},
		Asks: []exchange.OrderBookLevel{{Price: ask, Qty: 1}},
	}
}

func newService(t *testing.T, client exchange.Client, res *resilience.Manager, limitsCfg position.LimitsConfig) (*Service, *position.Tracker) {
	tracker := position.NewTracker()
	limits := position.NewLimits(limitsCfg, position.NewCooldownManager(position.DefaultCooldownConfig()))
	strategy := orderstrategy.NewStrategy(orderstrategy.DefaultConfig())
	tpsl := orderstrategy.NewCalculator(orderstrategy.DefaultTPSLConfig(), nil)
	entryMgr := atomicentry.NewManager(atomicentry.DefaultConfig(), client, tracker, res)
	bm := balance.NewMonitor(balance.DefaultConfig(), client, common.ModeLive)
	svc := New(common.ModePaper, client, bm, limits, strategy, tpsl, entryMgr, tracker, res)
	return svc, tracker
}

func TestExecuteTradeHappyPathFillsAndTracksPosition(t *testing.T) {
	client := &fakeClient{}
	res := resilience.NewManager()
	cfg := position.DefaultLimitsConfig()
	cfg.MinAccountBalance = 0
	svc, tracker := newService(t, client, res, cfg)

	eval := common.TradeEvaluation{
		Side: common.SideBuy, PositionSize: 0.001, ConfidenceLevel: 0.75,
		StrategyName: "s1",
	}
	result := svc.ExecuteTrade(context.Background(), "BTCUSDT", eval, book(13600000, 13600100))

	assert.True(t, result.Success)
	assert.Equal(t, common.ExecFilled, result.Status)
	assert.NotEmpty(t, result.OrderID)
	assert.Equal(t, 1, tracker.Count())
	p, ok := tracker.Find("entry1")
	assert.True(t, ok)
	assert.NotNil(t, p.TPOrderID)
	assert.NotNil(t, p.SLOrderID)
}

func TestExecuteTradeDeniedByMaxOpenPositions(t *testing.T) {
	client := &fakeClient{}
	res := resilience.NewManager()
	cfg := position.DefaultLimitsConfig()
	cfg.MinAccountBalance = 0
	cfg.MaxOpenPositionsByRegime = map[string]int{"tight_range": 2}
	svc, tracker := newService(t, client, res, cfg)
	tracker.Add(common.VirtualPosition{OrderID: "existing1", Side: common.SideBuy, Amount: 1, EntryPrice: 100})
	tracker.Add(common.VirtualPosition{OrderID: "existing2", Side: common.SideBuy, Amount: 1, EntryPrice: 100})

	eval := common.TradeEvaluation{Side: common.SideBuy, PositionSize: 0.001, ConfidenceLevel: 0.75, Regime: "tight_range"}
	result := svc.ExecuteTrade(context.Background(), "BTCUSDT", eval, book(100, 100.1))

	assert.False(t, result.Success)
	assert.Equal(t, common.ExecRejected, result.Status)
	assert.Contains(t, result.ErrorMessage, "max")
	assert.Equal(t, 2, tracker.Count(), "a denied evaluation must not mutate the tracker")
	assert.Equal(t, 0, client.createCalls, "a denied evaluation must place no orders")
}

func TestExecuteTradeRejectedDuringResilienceCascadeEmergencyStop(t *testing.T) {
	client := &fakeClient{}
	res := resilience.NewManager()
	for i := 0; i < 3; i++ {
		res.RecordError("market_data_fetcher", common.SeverityCritical)
	}
	cfg := position.DefaultLimitsConfig()
	cfg.MinAccountBalance = 0
	svc, _ := newService(t, client, res, cfg)

	eval := common.TradeEvaluation{Side: common.SideBuy, PositionSize: 0.001, ConfidenceLevel: 0.75}
	result := svc.ExecuteTrade(context.Background(), "BTCUSDT", eval, book(100, 100.1))

	assert.False(t, result.Success)
	assert.Equal(t, common.ExecRejected, result.Status)
	assert.Contains(t, result.ErrorMessage, "emergency stop")
	assert.Equal(t, 0, client.createCalls)
}

func TestExecuteTradeCancelledWhenSideIsNotActionable(t *testing.T) {
	client := &fakeClient{}
	res := resilience.NewManager()
	svc, _ := newService(t, client, res, position.DefaultLimitsConfig())

	result := svc.ExecuteTrade(context.Background(), "BTCUSDT", common.TradeEvaluation{}, book(100, 100.1))
	assert.True(t, result.Success)
	assert.Equal(t, common.ExecCancelled, result.Status)
}
