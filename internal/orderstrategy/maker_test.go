package orderstrategy

import (
	"context"
	"testing"

	"tradecore/internal/common"
	"tradecore/internal/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type makerFakeClient struct {
	exchange.Client
	rejectsBeforeFill int
	calls             int
	lastPrice         float64
}

func (f *makerFakeClient) CreateOrder(ctx context.Context, req exchange.CreateOrderRequest) (exchange.Order, error) {
	f.calls++
	f.lastPrice = req.Price
	if f.calls <= f.rejectsBeforeFill {
		return exchange.Order{}, &exchange.APIError{Code: 30101, Message: "post only would cross"}
	}
	return exchange.Order{ID: "maker1", Status: exchange.OrderClosed, Average: req.Price, Price: req.Price}, nil
}

func TestPlaceMakerOrderFillsOnFirstAttempt(t *testing.T) {
	client := &makerFakeClient{}
	cfg := DefaultMakerConfig(0.5)
	order, err := PlaceMakerOrder(context.Background(), client, cfg, "BTCUSDT", common.SideBuy, 1, book(100, 101))

	require.NoError(t, err)
	assert.Equal(t, "maker1", order.ID)
	assert.Equal(t, 100.5, order.Price, "buy side rests one tick above best bid")
}

func TestPlaceMakerOrderWalksPriceOnRejection(t *testing.T) {
	client := &makerFakeClient{rejectsBeforeFill: 1}
	cfg := DefaultMakerConfig(0.5)
	cfg.MaxPriceAdjustmentRatio = 1 // isolate the walk from the adjustment-ratio guard
	cfg.RetryInterval = 0
	order, err := PlaceMakerOrder(context.Background(), client, cfg, "BTCUSDT", common.SideSell, 1, book(100, 101))

	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
	assert.Equal(t, 101.0, order.Price, "sell side walks one tick further from the book on a post-only reject")
}

func TestPlaceMakerOrderExhaustsRetries(t *testing.T) {
	client := &makerFakeClient{rejectsBeforeFill: 10}
	cfg := DefaultMakerConfig(0.5)
	cfg.MaxPriceAdjustmentRatio = 1
	cfg.RetryInterval = 0
	_, err := PlaceMakerOrder(context.Background(), client, cfg, "BTCUSDT", common.SideBuy, 1, book(100, 101))

	assert.Error(t, err)
	assert.Equal(t, cfg.MaxRetries, client.calls)
}

func TestPlaceMakerOrderEmptyBookErrors(t *testing.T) {
	client := &makerFakeClient{}
	cfg := DefaultMakerConfig(0.5)
	_, err := PlaceMakerOrder(context.Background(), client, cfg, "BTCUSDT", common.SideBuy, 1, exchange.OrderBook{})
	assert.Error(t, err)
}

func TestPlaceMakerOrderNonRetryableErrorBubbles(t *testing.T) {
	client := &fundsErrClient{}
	cfg := DefaultMakerConfig(0.5)
	_, err := PlaceMakerOrder(context.Background(), client, cfg, "BTCUSDT", common.SideBuy, 1, book(100, 101))
	require.Error(t, err)
	assert.Equal(t, 1, client.calls)
}

type fundsErrClient struct {
	exchange.Client
	calls int
}

func (f *fundsErrClient) CreateOrder(ctx context.Context, req exchange.CreateOrderRequest) (exchange.Order, error) {
	f.calls++
	return exchange.Order{}, &exchange.APIError{Code: exchange.CodeInsufficientFunds, Message: "insufficient funds"}
}
