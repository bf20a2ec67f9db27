// Command tradecore runs the live/paper execution core: polls OHLCV bars
// over REST (there is no exchange websocket feed in this build), feeds
// FeatureCatalog's VWAP/tick-imbalance windows, asks MLAdapter for a
// decision, and routes approved evaluations through ExecutionService.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"tradecore/internal/atomicentry"
	"tradecore/internal/balance"
	"tradecore/internal/cfg"
	"tradecore/internal/common"
	"tradecore/internal/exchange"
	"tradecore/internal/execution"
	"tradecore/internal/features"
	"tradecore/internal/marketdata"
	"tradecore/internal/metrics"
	"tradecore/internal/ml"
	"tradecore/internal/orderstrategy"
	"tradecore/internal/position"
	"tradecore/internal/resilience"
	"tradecore/internal/stopmanager"
	"tradecore/internal/storage"

	"github.com/rs/zerolog/log"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := metrics.New()

	var store *storage.Store
	if c.DataPath != "" {
		store, err = storage.New(c.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
		} else {
			defer store.Close()
		}
	}

	res := resilience.NewManager()
	res.SetMetrics(reg)

	client := exchange.NewRESTClient(c.BaseURL, c.APIKey, c.APISecret)

	mode := common.ModePaper
	if !c.DryRun {
		mode = common.ModeLive
	}

	catalog, err := features.Load(filepath.Join(filepath.Dir(c.ModelPath), "manifest.json"))
	if err != nil {
		log.Fatal().Err(err).Msg("feature catalog load failed")
	}
	stackingEnabled := catalog.HasLevel("stacking")

	loader := ml.NewLoader(filepath.Dir(c.ModelPath), stackingEnabled)
	adapter := ml.NewAdapter(loader, res)
	adapter.SetMetrics(reg)

	tracker := position.NewTracker()
	limits := position.NewLimits(c.PositionLimitsConfig(), position.NewCooldownManager(c.CooldownConfig()))
	bm := balance.NewMonitor(c.BalanceConfig(), client, mode)
	bm.SetMetrics(reg)
	strategy := orderstrategy.NewStrategy(c.OrderStrategyConfig())
	tpsl := orderstrategy.NewCalculator(c.TPSLConfig(), nil)
	entry := atomicentry.NewManager(c.AtomicEntryConfig(), client, tracker, res)

	exec := execution.New(mode, client, bm, limits, strategy, tpsl, entry, tracker, res)
	exec.SetMetrics(reg)
	exec.SetSLOrderType(exchange.OrderType(c.PositionManagement.StopLoss.OrderType))

	var orphanStore stopmanager.OrphanStore
	if store != nil {
		orphanStore = store
	}
	stopMgr := stopmanager.NewManager(c.StopManagerConfig(), client, tracker, res, orphanStore, mode, c.Trading.FallbackPrice)
	stopMgr.SetMetrics(reg)

	fetcher := marketdata.NewFetcher(marketdata.DefaultConfig(), client, res)
	fetcher.SetMetrics(reg)

	var wg sync.WaitGroup

	// Metrics server.
	wg.Add(1)
	go func() {
		defer wg.Done()
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		server := &http.Server{Addr: fmt.Sprintf(":%d", c.MetricsPort), Handler: mux}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	if store != nil {
		for _, symbol := range c.Symbols {
			if err := stopMgr.DrainOrphans(ctx, symbol); err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("orphan SL drain failed")
			}
		}
	}

	// One polling/monitoring loop per symbol.
	for _, symbol := range c.Symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			runSymbol(ctx, symbol, c, client, fetcher, adapter, exec, store)
		}(symbol)

		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			stopMgr.Run(ctx, symbol)
		}(symbol)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context cancelled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}

// runSymbol polls bars for symbol on a fixed interval, feeds the rolling
// VWAP/tick-imbalance windows, and evaluates one trade decision per poll,
// on the newest bar, through the same feature/predict/execute path the backtest engine runs.
func runSymbol(ctx context.Context, symbol string, c cfg.Settings, client exchange.Client, fetcher *marketdata.Fetcher, adapter *ml.Adapter, exec *execution.Service, store *storage.Store) {
	const timeframe = "1m"
	vwap := features.NewVWAP(5*time.Minute, 500)
	ticks := features.NewTickImb(50)
	var lastPrice float64

	ticker := time.NewTicker(c.RESTTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := fetcher.GetPriceFrame(ctx, symbol, timeframe, marketdata.Options{Limit: 10})
			if err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("price frame fetch failed")
				continue
			}
			for _, bar := range frame.Bars {
				vwap.Add(bar.Close, bar.Volume)
				if lastPrice > 0 {
					sign := int8(0)
					if bar.Close > lastPrice {
						sign = 1
					} else if bar.Close < lastPrice {
						sign = -1
					}
					ticks.Add(sign)
				}
				lastPrice = bar.Close
				if store != nil {
					_ = store.SaveBar(symbol, timeframe, bar)
				}
			}
			if len(frame.Bars) == 0 {
				continue
			}
			evaluate(ctx, symbol, frame.Bars[len(frame.Bars)-1], vwap, ticks, client, adapter, exec, c)
		}
	}
}

func evaluate(ctx context.Context, symbol string, bar exchange.Bar, vwap *features.VWAP, ticks *features.TickImb, client exchange.Client, adapter *ml.Adapter, exec *execution.Service, c cfg.Settings) {
	vwapValue, stdDev := vwap.Calc()
	if stdDev == 0 {
		return
	}

	book, err := client.FetchOrderBook(ctx, symbol, 5)
	if err != nil {
		return
	}
	var depthRatio float64
	if len(book.Bids) > 0 && len(book.Asks) > 0 {
		depthRatio = features.DepthImb(book.Bids[0].Qty, book.Asks[0].Qty)
	}

	tickRatio := ticks.Ratio()
	priceDist := (bar.Close - vwapValue) / stdDev

	x := common.FeatureVector{tickRatio, depthRatio, priceDist}
	class, err := adapter.Predict(ctx, x)
	if err != nil || class == ml.ClassHold {
		return
	}
	probs, err := adapter.PredictProba(ctx, x)
	if err != nil {
		return
	}

	side := common.SideBuy
	if class == ml.ClassSell {
		side = common.SideSell
	}

	stopDistance := stdDev * 1.5
	if min := bar.Close * 0.002; stopDistance < min {
		stopDistance = min
	}
	const accountRisk = 0.01
	size := (c.Trading.FallbackPrice * accountRisk) / stopDistance
	if size <= 0 {
		return
	}

	eval := common.TradeEvaluation{
		Decision:         common.DecisionApproved,
		Side:             side,
		PositionSize:     size,
		ConfidenceLevel:  probs[class],
		StrategyName:     symbol,
		Regime:           c.TPSLVerification.DefaultRegime,
		MarketConditions: map[string]any{"adequate_liquidity": true},
	}

	result := exec.ExecuteTrade(ctx, symbol, eval, book)
	if !result.Success {
		log.Debug().Str("symbol", symbol).Str("reason", result.ErrorMessage).Msg("trade entry rejected")
	}
}
