// Package orderstrategy chooses an order's execution style (market vs
// limit vs maker-only) and computes TP/SL prices from the actual fill
// price (spec §4.9, §4.10).
package orderstrategy

import (
	"tradecore/internal/common"
	"tradecore/internal/exchange"
)

// Style is the chosen execution style (spec §4.9).
type Style string

const (
	StyleMarket Style = "market"
	StyleLimit  Style = "limit"
	StyleMaker  Style = "maker"
)

// PriceMode selects the limit-price formula (spec §4.9).
type PriceMode string

const (
	PriceModeGuaranteedFill    PriceMode = "favorable"
	PriceModePriceImprovement  PriceMode = "unfavorable"
)

// Config carries order_execution.* thresholds (spec §6).
type Config struct {
	SmartOrderEnabled        bool
	EntryPriceStrategy       PriceMode
	GuaranteedExecutionPrem  float64 // default 0.0005
	PriceImprovementRatio    float64 // default 0.001
	HighConfidenceThreshold  float64 // default 0.75
	LowConfidenceThreshold   float64 // default 0.40
	MaxSpreadRatioForLimit   float64 // default 0.005
	MakerEnabled             bool
}

// DefaultConfig mirrors spec §6's literal examples.
func DefaultConfig() Config {
	return Config{
		EntryPriceStrategy:      PriceModeGuaranteedFill,
		GuaranteedExecutionPrem: 0.0005,
		PriceImprovementRatio:   0.001,
		HighConfidenceThreshold: 0.75,
		LowConfidenceThreshold:  0.40,
		MaxSpreadRatioForLimit:  0.005,
	}
}

// Strategy is OrderStrategy.
type Strategy struct {
	cfg Config
}

// NewStrategy builds a strategy evaluator over cfg.
func NewStrategy(cfg Config) *Strategy {
	return &Strategy{cfg: cfg}
}

// IsEmergencyExit and adequate-liquidity are read off evaluation's market
// conditions map by convention; callers populate these keys upstream.
const (
	condEmergencyExit    = "emergency_exit"
	condAdequateLiquidity = "adequate_liquidity"
)

func spreadRatio(book exchange.OrderBook) (float64, bool) {
	bid, okB := book.BestBid()
	ask, okA := book.BestAsk()
	if !okB || !okA || bid <= 0 {
		return 0, false
	}
	return (ask - bid) / bid, true
}

// ChooseExecution selects the order style for evaluation (spec §4.9
// decision tree).
func (s *Strategy) ChooseExecution(eval common.TradeEvaluation, book exchange.OrderBook) Style {
	if emergency, _ := eval.MarketConditions[condEmergencyExit].(bool); emergency {
		return StyleMarket
	}
	if eval.ConfidenceLevel < s.cfg.LowConfidenceThreshold {
		return StyleMarket
	}
	ratio, ok := spreadRatio(book)
	if ok && ratio > s.cfg.MaxSpreadRatioForLimit {
		return StyleMarket
	}
	liquid, _ := eval.MarketConditions[condAdequateLiquidity].(bool)
	if eval.ConfidenceLevel >= s.cfg.HighConfidenceThreshold && liquid {
		if s.cfg.MakerEnabled {
			return StyleMaker
		}
		return StyleLimit
	}
	return StyleMarket
}

// LimitPrice computes the limit price for side given the current book
// (spec §4.9 "Limit price").
func (s *Strategy) LimitPrice(side common.Side, book exchange.OrderBook) (float64, bool) {
	bestBid, okB := book.BestBid()
	bestAsk, okA := book.BestAsk()
	if !okB || !okA {
		return 0, false
	}

	if s.cfg.EntryPriceStrategy == PriceModePriceImprovement {
		if side == common.SideBuy {
			price := bestBid * (1 + s.cfg.PriceImprovementRatio)
			if price > bestAsk {
				price = bestAsk
			}
			return price, true
		}
		price := bestAsk * (1 - s.cfg.PriceImprovementRatio)
		if price < bestBid {
			price = bestBid
		}
		return price, true
	}

	// guaranteed-fill (default)
	if side == common.SideBuy {
		return bestAsk * (1 + s.cfg.GuaranteedExecutionPrem), true
	}
	return bestBid * (1 - s.cfg.GuaranteedExecutionPrem), true
}
