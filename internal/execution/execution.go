// Package execution implements ExecutionService: the top-level
// orchestrator sequencing admission checks, entry, TP/SL placement, and
// tracker updates for one trade evaluation (spec §4.13).
package execution

import (
	"context"
	"fmt"
	"time"

	"tradecore/internal/atomicentry"
	"tradecore/internal/balance"
	"tradecore/internal/common"
	"tradecore/internal/exchange"
	"tradecore/internal/metrics"
	"tradecore/internal/orderstrategy"
	"tradecore/internal/position"
	"tradecore/internal/resilience"

	"github.com/rs/zerolog/log"
)

const resilienceComponent = "execution"

// MinimumTradeSize is the floor ensureMinimumTradeSize enforces when an
// evaluation's sized amount would otherwise round to an unplaceable lot
// (spec §4.13 "ensureMinimumTradeSize").
const MinimumTradeSize = 0.0001

// Service is ExecutionService.
type Service struct {
	mode     common.Mode
	client   exchange.Client
	balance  *balance.Monitor
	limits   *position.Limits
	strategy *orderstrategy.Strategy
	tpsl     *orderstrategy.Calculator
	entry    *atomicentry.Manager
	tracker  *position.Tracker
	res      *resilience.Manager
	metrics  *metrics.Registry

	slOrderType   exchange.OrderType
	lastOrderTime time.Time
}

// SetMetrics attaches a metrics Registry so ExecuteTrade reports order
// outcomes. Optional.
func (s *Service) SetMetrics(reg *metrics.Registry) {
	s.metrics = reg
}

// SetSLOrderType overrides the order type PlaceAndProtect uses for the
// stop-loss leg (position_management.stop_loss.order_type: "stop" or
// "stop_limit"). Optional; the zero value defaults to OrderTypeStop.
func (s *Service) SetSLOrderType(t exchange.OrderType) {
	s.slOrderType = t
}

// New wires the full executeTrade orchestration out of its components.
func New(mode common.Mode, client exchange.Client, bm *balance.Monitor, limits *position.Limits,
	strategy *orderstrategy.Strategy, tpsl *orderstrategy.Calculator, entry *atomicentry.Manager,
	tracker *position.Tracker, res *resilience.Manager) *Service {
	return &Service{
		mode: mode, client: client, balance: bm, limits: limits,
		strategy: strategy, tpsl: tpsl, entry: entry, tracker: tracker, res: res,
		slOrderType: exchange.OrderTypeStop,
	}
}

func ensureMinimumTradeSize(eval common.TradeEvaluation) common.TradeEvaluation {
	if eval.PositionSize > 0 && eval.PositionSize < MinimumTradeSize {
		eval.PositionSize = MinimumTradeSize
	}
	return eval
}

// ExecuteTrade runs one evaluation through the full sequence: admission,
// entry, TP/SL computation, atomic protection, tracker update (spec
// §4.13). Strictly sequential per-symbol — no internal concurrency.
func (s *Service) ExecuteTrade(ctx context.Context, symbol string, eval common.TradeEvaluation, book exchange.OrderBook) common.ExecutionResult {
	if eval.Side != common.SideBuy && eval.Side != common.SideSell {
		return common.ExecutionResult{Success: true, Mode: s.mode, Status: common.ExecCancelled, ErrorMessage: "no actionable side"}
	}

	if emergency, reason := s.res.IsEmergencyStopped(); emergency {
		return common.ExecutionResult{Success: false, Mode: s.mode, Status: common.ExecRejected, ErrorMessage: "emergency stop: " + reason}
	}

	var availableBalance, fallbackPrice float64
	if s.mode == common.ModeLive {
		price := marketPrice(book, eval.Side)
		required := eval.PositionSize * price
		result, err := s.balance.ValidateMargin(ctx, required)
		if err != nil || !result.Sufficient {
			return common.ExecutionResult{Success: false, Mode: s.mode, Status: common.ExecRejected, ErrorMessage: "insufficient margin"}
		}
		availableBalance = result.Available
		fallbackPrice = price
	}

	check := s.limits.Check(position.CheckInput{
		Evaluation:    eval,
		Positions:     s.tracker.GetAll(),
		LastOrderTime: s.lastOrderTime,
		Regime:        eval.Regime,
		Balance:       availableBalance,
		FallbackPrice: fallbackPrice,
	})
	if !check.Allowed {
		return common.ExecutionResult{Success: false, Mode: s.mode, Status: common.ExecRejected, ErrorMessage: check.DeniedReason}
	}

	eval = ensureMinimumTradeSize(eval)

	style := s.strategy.ChooseExecution(eval, book)
	entryOrder, err := s.placeEntry(ctx, symbol, eval, style, book)
	if err != nil {
		s.res.RecordError(resilienceComponent, common.SeverityWarning)
		if s.metrics != nil {
			s.metrics.OrdersFailed().Inc()
		}
		return common.ExecutionResult{Success: false, Mode: s.mode, Status: common.ExecFailed, ErrorMessage: err.Error()}
	}
	s.res.RecordSuccess(resilienceComponent)
	if s.metrics != nil {
		s.metrics.OrdersPlaced().Inc()
	}

	fillPrice := entryOrder.Average
	if fillPrice == 0 {
		fillPrice = entryOrder.Price
	}

	tpsl, err := s.tpsl.Calculate(ctx, eval, symbol, eval.Side, fillPrice)
	if err != nil {
		s.entry.Rollback(ctx, symbol, entryOrder.ID, "", "")
		if s.metrics != nil {
			s.metrics.OrdersCancelled().Inc()
		}
		return common.ExecutionResult{Success: false, Mode: s.mode, Status: common.ExecFailed, ErrorMessage: "tpsl recalculation: " + err.Error()}
	}

	s.tracker.Add(common.VirtualPosition{
		OrderID: entryOrder.ID, Side: eval.Side, StrategyName: eval.StrategyName,
		Amount: eval.PositionSize, EntryPrice: fillPrice, Timestamp: time.Now(),
		TakeProfit: &tpsl.TakeProfit, StopLoss: &tpsl.StopLoss,
	})

	if err := s.entry.CleanupOldTPSL(ctx, symbol, eval.Side, entryOrder.ID); err != nil {
		log.Warn().Err(err).Msg("pre-entry TP/SL cleanup failed, continuing")
	}

	tpID, slID, err := s.entry.PlaceAndProtect(ctx, symbol, entryOrder.ID, eval.Side, eval.PositionSize, tpsl.TakeProfit, tpsl.StopLoss, s.slOrderType)
	if err != nil {
		s.tracker.Remove(entryOrder.ID)
		return common.ExecutionResult{Success: false, Mode: s.mode, Status: common.ExecFailed, ErrorMessage: "atomic entry: " + err.Error()}
	}

	s.lastOrderTime = time.Now()
	log.Info().Str("entry_id", entryOrder.ID).Str("tp_id", tpID).Str("sl_id", slID).
		Str("symbol", symbol).Msg("trade executed")

	return common.ExecutionResult{
		Success: true, Mode: s.mode, OrderID: entryOrder.ID,
		FilledPrice: fillPrice, FilledAmount: eval.PositionSize, Status: common.ExecFilled,
	}
}

func (s *Service) placeEntry(ctx context.Context, symbol string, eval common.TradeEvaluation, style orderstrategy.Style, book exchange.OrderBook) (exchange.Order, error) {
	switch style {
	case orderstrategy.StyleMaker:
		return orderstrategy.PlaceMakerOrder(ctx, s.client, orderstrategy.DefaultMakerConfig(0), symbol, eval.Side, eval.PositionSize, book)
	case orderstrategy.StyleLimit:
		price, ok := s.strategy.LimitPrice(eval.Side, book)
		if !ok {
			return exchange.Order{}, fmt.Errorf("execution: empty order book, cannot place limit entry")
		}
		return s.client.CreateOrder(ctx, exchange.CreateOrderRequest{
			Symbol: symbol, Side: exchange.Side(eval.Side), Type: exchange.OrderTypeLimit,
			Amount: eval.PositionSize, Price: price,
		})
	default:
		return s.client.CreateOrder(ctx, exchange.CreateOrderRequest{
			Symbol: symbol, Side: exchange.Side(eval.Side), Type: exchange.OrderTypeMarket,
			Amount: eval.PositionSize,
		})
	}
}

func marketPrice(book exchange.OrderBook, side common.Side) float64 {
	if side == common.SideBuy {
		if ask, ok := book.BestAsk(); ok {
			return ask
		}
	}
	if bid, ok := book.BestBid(); ok {
		return bid
	}
	return 0
}
