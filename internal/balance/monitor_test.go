package balance

import (
	"context"
	"testing"

	"tradecore/internal/common"
	"tradecore/internal/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	exchange.Client
	marginStatus exchange.MarginStatus
	marginErr    error
	balance      exchange.Balance
	balanceErr   error
}

func (f *fakeClient) FetchMarginStatus(ctx context.Context) (exchange.MarginStatus, error) {
	return f.marginStatus, f.marginErr
}

func (f *fakeClient) FetchBalance(ctx context.Context) (exchange.Balance, error) {
	return f.balance, f.balanceErr
}

func ptr(f float64) *float64 { return &f }

func TestMarginRatioEdgeCaseLowPositionValue(t *testing.T) {
	r := marginRatio(1000, 500, 1000, 10000)
	assert.Equal(t, 500.0, r)
}

func TestMarginRatioEdgeCaseZeroPosition(t *testing.T) {
	r := marginRatio(1000, 0, 1000, 10000)
	assert.True(t, r > 1e300, "zero position value must report +inf")
}

func TestMarginRatioClampsToCap(t *testing.T) {
	r := marginRatio(1_000_000, 1500, 1000, 10000)
	assert.Equal(t, 10000.0, r)
}

func TestEvaluatePrefersAPIReportedRatio(t *testing.T) {
	client := &fakeClient{marginStatus: exchange.MarginStatus{MarginRatio: ptr(180)}}
	m := NewMonitor(DefaultConfig(), client, common.ModeLive)
	data, err := m.Evaluate(context.Background(), 1000, 2000)
	require.NoError(t, err)
	assert.Equal(t, 180.0, data.MarginRatioPct)
	assert.Equal(t, common.MarginCaution, data.Status)
}

func TestEvaluateFallsBackToFormulaOnAPIFailure(t *testing.T) {
	client := &fakeClient{marginErr: &exchange.APIError{Code: 500}}
	m := NewMonitor(DefaultConfig(), client, common.ModeLive)
	data, err := m.Evaluate(context.Background(), 4000, 2000)
	require.NoError(t, err)
	assert.Equal(t, 200.0, data.MarginRatioPct)
	assert.Equal(t, common.MarginSafe, data.Status)
}

func TestEvaluateSkipsAPIInBacktestMode(t *testing.T) {
	client := &fakeClient{marginStatus: exchange.MarginStatus{MarginRatio: ptr(999)}}
	m := NewMonitor(DefaultConfig(), client, common.ModeBacktest)
	data, err := m.Evaluate(context.Background(), 4000, 2000)
	require.NoError(t, err)
	assert.Equal(t, 200.0, data.MarginRatioPct, "backtest mode must use the formula, not the stubbed API value")
}

func TestValidateMarginHaltsAfterThreeAuthErrors(t *testing.T) {
	client := &fakeClient{balanceErr: &exchange.APIError{Code: exchange.CodeAuth}}
	m := NewMonitor(DefaultConfig(), client, common.ModeLive)
	for i := 0; i < 2; i++ {
		_, err := m.ValidateMargin(context.Background(), 100)
		require.Error(t, err)
	}
	_, err := m.ValidateMargin(context.Background(), 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trading halted")
}

func TestValidateMarginResetsCounterOnSuccess(t *testing.T) {
	client := &fakeClient{balanceErr: &exchange.APIError{Code: exchange.CodeAuth}}
	m := NewMonitor(DefaultConfig(), client, common.ModeLive)
	_, _ = m.ValidateMargin(context.Background(), 100)
	client.balanceErr = nil
	client.balance = exchange.Balance{Free: 500}
	res, err := m.ValidateMargin(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, res.Sufficient)
	assert.Equal(t, 0, m.authErr)
}

func TestPredictFutureRatioTreatsNoPositionsAsZeroValue(t *testing.T) {
	client := &fakeClient{marginStatus: exchange.MarginStatus{MarginRatio: ptr(50)}}
	m := NewMonitor(DefaultConfig(), client, common.ModeLive)
	ratio, err := m.PredictFutureRatio(context.Background(), 4000, 2, 1000, nil)
	require.NoError(t, err)
	assert.Equal(t, 200.0, ratio, "with no open positions the cached/API ratio must be ignored")
}
