// Package backtest replays historical OHLCV bars through the live
// execution pipeline in common.ModeBacktest, running its own TP/SL exit
// check per tick instead of StopManager, which is a no-op in that mode
// (spec §10).
package backtest

import (
	"context"
	"math"
	"sync"
	"time"

	"tradecore/internal/common"
	"tradecore/internal/exchange"
	"tradecore/internal/execution"
	"tradecore/internal/features"
	"tradecore/internal/ml"
	"tradecore/internal/position"

	"github.com/rs/zerolog/log"
)

// Trade represents a completed trade.
type Trade struct {
	Symbol     string
	Side       common.Side
	EntryPrice float64
	ExitPrice  float64
	Size       float64
	EntryTime  time.Time
	ExitTime   time.Time
	PnL        float64
	PnLPercent float64
	Commission float64
	ExitReason string // "stop_loss", "take_profit", "end_of_data"
}

// Results holds backtesting results.
type Results struct {
	Trades          []Trade
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	TotalPnL        float64
	TotalCommission float64
	MaxDrawdown     float64
	SharpeRatio     float64
	WinRate         float64
	ProfitFactor    float64
	StartTime       time.Time
	EndTime         time.Time
	InitialBalance  float64
	FinalBalance    float64
	mu              sync.RWMutex
}

// Config carries the knobs Engine needs that aren't already owned by one
// of the wired production components.
type Config struct {
	Symbols        []string
	Timeframe      string
	VWAPWindow     time.Duration
	VWAPSize       int
	TickWindow     int
	ProbThreshold  float64
	CommissionRate float64
	InitialBalance float64
}

// DefaultConfig mirrors reasonable literal defaults for a standalone run.
func DefaultConfig() Config {
	return Config{
		Timeframe:      "1m",
		VWAPWindow:     5 * time.Minute,
		VWAPSize:       500,
		TickWindow:     50,
		ProbThreshold:  0.6,
		CommissionRate: 0.001,
		InitialBalance: 10000,
	}
}

// Engine replays bars through execution.Service, generating its own
// mean-reversion trade evaluations (the strategy-signal layer itself is
// out of scope; this is the minimal signal needed to exercise the
// pipeline end to end, adapted from the teacher's VWAP deviation engine).
type Engine struct {
	config  Config
	client  *SimClient
	exec    *execution.Service
	tracker *position.Tracker
	adapter *ml.Adapter
	data    *DataLoader
	results *Results

	vwapMap   map[string]*features.VWAP
	ticksMap  map[string]*features.TickImb
	lastPrice map[string]float64
}

// NewEngine wires an Engine out of already-constructed production
// components plus the data it will replay.
func NewEngine(config Config, client *SimClient, exec *execution.Service, tracker *position.Tracker, adapter *ml.Adapter, data *DataLoader) *Engine {
	e := &Engine{
		config:  config,
		client:  client,
		exec:    exec,
		tracker: tracker,
		adapter: adapter,
		data:    data,
		results: &Results{
			Trades:         make([]Trade, 0),
			InitialBalance: config.InitialBalance,
		},
		vwapMap:   make(map[string]*features.VWAP),
		ticksMap:  make(map[string]*features.TickImb),
		lastPrice: make(map[string]float64),
	}
	for _, symbol := range config.Symbols {
		e.vwapMap[symbol] = features.NewVWAP(config.VWAPWindow, config.VWAPSize)
		e.ticksMap[symbol] = features.NewTickImb(config.TickWindow)
	}
	return e
}

// Run executes the backtest end to end and returns the accumulated
// results.
func (e *Engine) Run(ctx context.Context) (*Results, error) {
	log.Info().
		Time("start", e.data.StartTime).
		Time("end", e.data.EndTime).
		Strs("symbols", e.config.Symbols).
		Msg("starting backtest")

	for e.data.HasNext() {
		bar := e.data.Next()
		e.client.SetPrice(bar.Symbol, bar.Close)
		e.updateFeatures(bar)
		e.checkExits(ctx, bar)
		e.evaluateEntry(ctx, bar)
	}

	e.closeAll(ctx, "end_of_data")
	e.calculateMetrics()
	return e.results, nil
}

// updateFeatures feeds the rolling VWAP and tick-imbalance windows.
func (e *Engine) updateFeatures(bar Bar) {
	vwap, ok := e.vwapMap[bar.Symbol]
	if !ok {
		vwap = features.NewVWAP(e.config.VWAPWindow, e.config.VWAPSize)
		e.vwapMap[bar.Symbol] = vwap
	}
	vwap.Add(bar.Close, bar.Volume)

	ticks, ok := e.ticksMap[bar.Symbol]
	if !ok {
		ticks = features.NewTickImb(e.config.TickWindow)
		e.ticksMap[bar.Symbol] = ticks
	}
	if prev := e.lastPrice[bar.Symbol]; prev > 0 {
		sign := int8(0)
		if bar.Close > prev {
			sign = 1
		} else if bar.Close < prev {
			sign = -1
		}
		ticks.Add(sign)
	}
	e.lastPrice[bar.Symbol] = bar.Close
}

// depthProxy approximates order-book pressure from a bar's own range,
// since backtest replay has OHLCV only, no live depth snapshots: a close
// near the high reads as bid-heavy, a close near the low as ask-heavy.
func depthProxy(bar Bar) float64 {
	rng := bar.High - bar.Low
	if rng <= 0 {
		return 0
	}
	return ((bar.Close-bar.Low)-(bar.High-bar.Close))/rng
}

// alreadyHolding reports whether symbol already has an open position.
func (e *Engine) alreadyHolding(symbol string) bool {
	for _, p := range e.tracker.GetAll() {
		if p.StrategyName == symbol {
			return true
		}
	}
	return false
}

// evaluateEntry builds a feature vector, asks the model, and if it
// clears probThreshold and the symbol isn't already held, evaluates a
// trade through ExecutionService exactly as the live path would.
func (e *Engine) evaluateEntry(ctx context.Context, bar Bar) {
	if e.alreadyHolding(bar.Symbol) {
		return
	}

	vwap, stdDev := e.vwapMap[bar.Symbol].Calc()
	if stdDev == 0 {
		return // not enough data yet
	}
	tickRatio := e.ticksMap[bar.Symbol].Ratio()
	depthRatio := depthProxy(bar)
	priceDist := (bar.Close - vwap) / stdDev

	x := common.FeatureVector{tickRatio, depthRatio, priceDist}
	class, err := e.adapter.Predict(ctx, x)
	if err != nil || class == ml.ClassHold {
		return
	}
	probs, err := e.adapter.PredictProba(ctx, x)
	if err != nil || probs[class] < e.config.ProbThreshold {
		return
	}

	side := common.SideBuy
	if class == ml.ClassSell {
		side = common.SideSell
	}

	stopDistance := math.Max(stdDev*1.5, bar.Close*0.002)
	const accountRisk = 0.01
	size := (e.client.Balance() * accountRisk) / stopDistance
	if size <= 0 {
		return
	}

	eval := common.TradeEvaluation{
		Decision:        common.DecisionApproved,
		Side:            side,
		PositionSize:    size,
		ConfidenceLevel: probs[class],
		// VirtualPosition carries no symbol field, only StrategyName;
		// backtest repurposes it to correlate tracked positions back to
		// the bar stream they belong to.
		StrategyName:     bar.Symbol,
		Regime:           "default",
		MarketConditions: map[string]any{"adequate_liquidity": true},
	}

	book, err := e.client.FetchOrderBook(ctx, bar.Symbol, 5)
	if err != nil {
		return
	}
	result := e.exec.ExecuteTrade(ctx, bar.Symbol, eval, book)
	if !result.Success {
		log.Debug().Str("symbol", bar.Symbol).Str("reason", result.ErrorMessage).Msg("backtest entry rejected")
	}
}

// checkExits runs Engine's own TP/SL check against the current bar's
// high/low for every tracked position on this symbol (not StopManager,
// which no-ops in ModeBacktest). When both levels fall inside the same
// bar, the stop is assumed to trigger first — the conservative ordering.
func (e *Engine) checkExits(ctx context.Context, bar Bar) {
	for _, p := range e.tracker.GetAll() {
		if p.StrategyName != bar.Symbol || p.StopLoss == nil || p.TakeProfit == nil {
			continue
		}

		var exitPrice float64
		var reason string
		switch {
		case p.Side == common.SideBuy && bar.Low <= *p.StopLoss:
			exitPrice, reason = *p.StopLoss, "stop_loss"
		case p.Side == common.SideSell && bar.High >= *p.StopLoss:
			exitPrice, reason = *p.StopLoss, "stop_loss"
		case p.Side == common.SideBuy && bar.High >= *p.TakeProfit:
			exitPrice, reason = *p.TakeProfit, "take_profit"
		case p.Side == common.SideSell && bar.Low <= *p.TakeProfit:
			exitPrice, reason = *p.TakeProfit, "take_profit"
		default:
			continue
		}

		e.closePosition(ctx, p, exitPrice, reason, time.UnixMilli(bar.TimestampMs))
	}
}

func (e *Engine) closePosition(ctx context.Context, p common.VirtualPosition, exitPrice float64, reason string, exitTime time.Time) {
	_, cleanup, ok := e.tracker.RemoveWithCleanup(p.OrderID)
	if !ok {
		return
	}
	if cleanup.TPOrderID != "" {
		_ = e.client.CancelOrder(ctx, cleanup.TPOrderID, p.StrategyName)
	}
	if cleanup.SLOrderID != "" {
		_ = e.client.CancelOrder(ctx, cleanup.SLOrderID, p.StrategyName)
	}

	closeSide := exchange.Side(p.Side.Opposite())
	order, err := e.client.CreateOrder(ctx, exchange.CreateOrderRequest{
		Symbol: p.StrategyName, Side: closeSide, Type: exchange.OrderTypeMarket,
		Amount: p.Amount, IsClosingOrder: true,
	})
	if err != nil {
		log.Warn().Err(err).Str("symbol", p.StrategyName).Msg("backtest close order failed")
		return
	}

	var pnl float64
	if p.Side == common.SideBuy {
		pnl = (exitPrice - p.EntryPrice) * p.Amount
	} else {
		pnl = (p.EntryPrice - exitPrice) * p.Amount
	}
	pnl -= order.Fee

	trade := Trade{
		Symbol: p.StrategyName, Side: p.Side, EntryPrice: p.EntryPrice, ExitPrice: exitPrice,
		Size: p.Amount, EntryTime: p.Timestamp, ExitTime: exitTime,
		PnL: pnl, PnLPercent: (pnl / (p.EntryPrice * p.Amount)) * 100,
		Commission: order.Fee, ExitReason: reason,
	}
	e.results.mu.Lock()
	e.results.Trades = append(e.results.Trades, trade)
	e.results.mu.Unlock()

	log.Debug().Str("symbol", p.StrategyName).Str("side", string(p.Side)).
		Float64("entry", p.EntryPrice).Float64("exit", exitPrice).
		Float64("pnl", pnl).Str("reason", reason).Msg("backtest position closed")
}

// closeAll force-closes every remaining open position at its last known
// price once the data stream runs out.
func (e *Engine) closeAll(ctx context.Context, reason string) {
	for _, p := range e.tracker.GetAll() {
		exitPrice := e.lastPrice[p.StrategyName]
		if exitPrice == 0 {
			exitPrice = p.EntryPrice
		}
		e.closePosition(ctx, p, exitPrice, reason, time.Now())
	}
}

// calculateMetrics computes final performance metrics over e.results.Trades.
func (e *Engine) calculateMetrics() {
	e.results.mu.Lock()
	defer e.results.mu.Unlock()

	e.results.FinalBalance = e.client.Balance()
	e.results.TotalTrades = len(e.results.Trades)
	if e.results.TotalTrades == 0 {
		return
	}

	var totalProfit, totalLoss float64
	var returns []float64
	for _, trade := range e.results.Trades {
		e.results.TotalPnL += trade.PnL
		e.results.TotalCommission += trade.Commission
		if trade.PnL > 0 {
			e.results.WinningTrades++
			totalProfit += trade.PnL
		} else {
			e.results.LosingTrades++
			totalLoss += math.Abs(trade.PnL)
		}
		returns = append(returns, trade.PnLPercent)
	}

	e.results.WinRate = float64(e.results.WinningTrades) / float64(e.results.TotalTrades)
	if totalLoss > 0 {
		e.results.ProfitFactor = totalProfit / totalLoss
	}
	e.results.MaxDrawdown = e.calculateMaxDrawdown()
	e.results.SharpeRatio = calculateSharpeRatio(returns)

	e.results.StartTime = e.results.Trades[0].EntryTime
	e.results.EndTime = e.results.Trades[len(e.results.Trades)-1].ExitTime
}

func (e *Engine) calculateMaxDrawdown() float64 {
	if len(e.results.Trades) == 0 {
		return 0
	}
	peak := e.results.InitialBalance
	maxDrawdown := 0.0
	running := e.results.InitialBalance
	for _, trade := range e.results.Trades {
		running += trade.PnL
		if running > peak {
			peak = running
		}
		if drawdown := (peak - running) / peak; drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown * 100
}

// calculateSharpeRatio computes an annualized Sharpe ratio assuming a 0%
// risk-free rate and 252 trading-day periods.
func calculateSharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += math.Pow(r-mean, 2)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)-1))
	if stdDev == 0 {
		return 0
	}
	return (mean / stdDev) * math.Sqrt(252)
}

// GetResults returns the accumulated backtesting results.
func (e *Engine) GetResults() *Results {
	return e.results
}
