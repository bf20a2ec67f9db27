package atomicentry

import (
	"context"
	"testing"
	"time"

	"tradecore/internal/common"
	"tradecore/internal/exchange"
	"tradecore/internal/position"
	"tradecore/internal/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	exchange.Client
	createFail   int
	createCalls  int
	cancelled    []string
	activeOrders []exchange.Order
}

func (f *fakeClient) CreateOrder(ctx context.Context, req exchange.CreateOrderRequest) (exchange.Order, error) {
	f.createCalls++
	if f.createCalls <= f.createFail {
		return exchange.Order{}, &exchange.APIError{Code: 30101, Message: "trigger required"}
	}
	return exchange.Order{ID: "order-" + req.Symbol, Status: exchange.OrderOpen}, nil
}

func (f *fakeClient) CancelOrder(ctx context.Context, id, symbol string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeClient) FetchActiveOrders(ctx context.Context, symbol string, limit int) ([]exchange.Order, error) {
	return f.activeOrders, nil
}

func noSleep(time.Duration) {}

func TestPlaceAndProtectSucceeds(t *testing.T) {
	client := &fakeClient{}
	tracker := position.NewTracker()
	tracker.Add(common.VirtualPosition{OrderID: "entry1", Side: common.SideBuy})
	m := NewManager(DefaultConfig(), client, tracker, resilience.NewManager())
	m.sleep = noSleep

	tpID, slID, err := m.PlaceAndProtect(context.Background(), "BTCUSDT", "entry1", common.SideBuy, 1, 110, 90, exchange.OrderTypeStop)
	require.NoError(t, err)
	assert.NotEmpty(t, tpID)
	assert.NotEmpty(t, slID)

	p, _ := tracker.Find("entry1")
	require.NotNil(t, p.TPOrderID)
	require.NotNil(t, p.SLOrderID)
}

func TestPlaceWithRetryRecoversWithinMaxRetries(t *testing.T) {
	client := &fakeClient{createFail: 1}
	tracker := position.NewTracker()
	tracker.Add(common.VirtualPosition{OrderID: "entry1"})
	m := NewManager(DefaultConfig(), client, tracker, resilience.NewManager())
	m.sleep = noSleep

	id, err := m.PlaceTP(context.Background(), "BTCUSDT", common.SideBuy, 1, 110)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 2, client.createCalls)
}

func TestPlaceAndProtectRollsBackWhenTPExhaustsRetries(t *testing.T) {
	tracker := position.NewTracker()
	tracker.Add(common.VirtualPosition{OrderID: "entry1"})
	client := &alwaysFailClient{}
	m := NewManager(Config{MaxRetries: 1, BackoffBaseSec: 2, CleanupThreshold: 25}, client, tracker, resilience.NewManager())
	m.sleep = noSleep

	_, _, err := m.PlaceAndProtect(context.Background(), "BTCUSDT", "entry1", common.SideBuy, 1, 110, 90, exchange.OrderTypeStop)
	assert.Error(t, err)
	assert.Contains(t, client.cancelled, "entry1", "a failed TP placement must still roll back the already-filled entry")
}

type alwaysFailClient struct {
	exchange.Client
	cancelled []string
}

func (f *alwaysFailClient) CreateOrder(ctx context.Context, req exchange.CreateOrderRequest) (exchange.Order, error) {
	return exchange.Order{}, &exchange.APIError{Code: 30101, Message: "always fails"}
}

func (f *alwaysFailClient) CancelOrder(ctx context.Context, id, symbol string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func TestRollbackAttemptsEveryCancelWhenEntryCancelFails(t *testing.T) {
	client := &entryCancelFailsClient{}
	tracker := position.NewTracker()
	res := resilience.NewManager()
	m := NewManager(DefaultConfig(), client, tracker, res)

	m.Rollback(context.Background(), "BTCUSDT", "entry1", "tp1", "sl1")
	assert.Contains(t, client.cancelled, "tp1")
	assert.Contains(t, client.cancelled, "sl1")
	assert.Contains(t, client.cancelled, "entry1")
}

type entryCancelFailsClient struct {
	exchange.Client
	cancelled []string
}

func (f *entryCancelFailsClient) CancelOrder(ctx context.Context, id, symbol string) error {
	f.cancelled = append(f.cancelled, id)
	if id == "entry1" {
		return &exchange.APIError{Code: 500, Message: "network error"}
	}
	return nil
}
