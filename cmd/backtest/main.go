// Command backtest replays historical bars (CSV or a bbolt bar cache)
// through the same production pipeline cmd/tradecore wires, then prints a
// results summary. Report rendering (HTML/plot output) is out of scope.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"tradecore/internal/atomicentry"
	"tradecore/internal/backtest"
	"tradecore/internal/balance"
	"tradecore/internal/cfg"
	"tradecore/internal/common"
	"tradecore/internal/exchange"
	"tradecore/internal/execution"
	"tradecore/internal/ml"
	"tradecore/internal/orderstrategy"
	"tradecore/internal/position"
	"tradecore/internal/resilience"
	"tradecore/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		dataPath      = flag.String("data", "data", "path to a CSV bar file, or a bbolt data directory when -format=boltdb")
		modelPath     = flag.String("model", "", "model directory (overrides config)")
		logLevel      = flag.String("log-level", "info", "log level: debug, info, warn, error")
		symbols       = flag.String("symbols", "", "comma-separated symbols to replay (overrides config)")
		startDate     = flag.String("start", "", "start date (YYYY-MM-DD)")
		endDate       = flag.String("end", "", "end date (YYYY-MM-DD)")
		dataFormat    = flag.String("format", "csv", "data format: csv or boltdb")
		balanceFlag   = flag.Float64("balance", 10000, "initial simulated balance")
		commission    = flag.Float64("commission", 0.001, "flat commission rate per fill")
		probThreshold = flag.Float64("prob-threshold", 0.01, "minimum predicted-class probability required to act")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	fmt.Println("=== Backtest Configuration ===")
	fmt.Printf("Data Path: %s\n", *dataPath)
	fmt.Printf("Data Format: %s\n", *dataFormat)
	fmt.Printf("Log Level: %s\n", *logLevel)
	fmt.Println("==============================")

	config, err := cfg.Load()
	if err != nil {
		log.Warn().Err(err).Msg("config load failed, continuing with defaults")
	}
	if *modelPath != "" {
		config.ModelPath = *modelPath
	}
	if *symbols != "" {
		config.Symbols = parseSymbols(*symbols)
	}
	if len(config.Symbols) == 0 {
		config.Symbols = []string{"BTCUSDT"}
	}

	var startTime, endTime time.Time
	if *startDate != "" {
		startTime, err = time.Parse("2006-01-02", *startDate)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid start date format")
		}
	} else {
		startTime = time.Now().AddDate(0, -1, 0)
	}
	if *endDate != "" {
		endTime, err = time.Parse("2006-01-02", *endDate)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid end date format")
		}
	} else {
		endTime = time.Now()
	}

	loader := backtest.NewDataLoader()
	switch *dataFormat {
	case "csv":
		err = loader.LoadFromCSV(*dataPath)
	case "boltdb":
		var store *storage.Store
		store, err = storage.New(*dataPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open bbolt data directory")
		}
		defer store.Close()
		err = loader.LoadFromBoltDB(store, config.Symbols, "1m", startTime, endTime)
	default:
		log.Fatal().Str("format", *dataFormat).Msg("unsupported data format, expected csv or boltdb")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load data")
	}
	if loader.GetDataCount() == 0 {
		log.Fatal().Msg("no bars loaded, nothing to replay")
	}

	client := backtest.NewSimClient(*balanceFlag, *commission)

	res := resilience.NewManager()
	tracker := position.NewTracker()
	limits := position.NewLimits(config.PositionLimitsConfig(), position.NewCooldownManager(config.CooldownConfig()))
	bm := balance.NewMonitor(balance.DefaultConfig(), client, common.ModeBacktest)
	strategy := orderstrategy.NewStrategy(config.OrderStrategyConfig())
	tpsl := orderstrategy.NewCalculator(config.TPSLConfig(), nil)
	entry := atomicentry.NewManager(config.AtomicEntryConfig(), client, tracker, res)
	exec := execution.New(common.ModeBacktest, client, bm, limits, strategy, tpsl, entry, tracker, res)
	exec.SetSLOrderType(exchange.OrderType(config.PositionManagement.StopLoss.OrderType))

	adapter := ml.NewAdapter(ml.NewLoader(config.ModelPath, false), res)

	engineCfg := backtest.DefaultConfig()
	engineCfg.Symbols = config.Symbols
	engineCfg.InitialBalance = *balanceFlag
	engineCfg.CommissionRate = *commission
	engineCfg.ProbThreshold = *probThreshold

	engine := backtest.NewEngine(engineCfg, client, exec, tracker, adapter, loader)

	log.Info().Msg("starting backtest")
	results, err := engine.Run(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("backtest failed")
	}

	printSummary(results)
	log.Info().Msg("backtest completed successfully")
}

// parseSymbols parses comma-separated symbols.
func parseSymbols(symbols string) []string {
	var result []string
	for _, s := range strings.Split(symbols, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

func printSummary(r *backtest.Results) {
	fmt.Println("=== Backtest Results ===")
	fmt.Printf("Period:           %s -> %s\n", r.StartTime.Format(time.RFC3339), r.EndTime.Format(time.RFC3339))
	fmt.Printf("Initial balance:  %.2f\n", r.InitialBalance)
	fmt.Printf("Final balance:    %.2f\n", r.FinalBalance)
	fmt.Printf("Total trades:     %d (win %d / loss %d)\n", r.TotalTrades, r.WinningTrades, r.LosingTrades)
	fmt.Printf("Total PnL:        %.2f\n", r.TotalPnL)
	fmt.Printf("Total commission: %.2f\n", r.TotalCommission)
	fmt.Printf("Win rate:         %.2f%%\n", r.WinRate*100)
	fmt.Printf("Profit factor:    %.2f\n", r.ProfitFactor)
	fmt.Printf("Max drawdown:     %.2f%%\n", r.MaxDrawdown)
	fmt.Printf("Sharpe ratio:     %.2f\n", r.SharpeRatio)
}
