package common

import "time"

// Side is the trading side of a position or order (spec §3).
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the opposing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// VirtualPosition is PositionTracker's locally-owned view of an open
// position (spec §3); PositionTracker exclusively mutates these.
type VirtualPosition struct {
	OrderID      string
	Side         Side
	StrategyName string
	Amount       float64
	EntryPrice   float64
	Timestamp    time.Time
	TakeProfit   *float64
	StopLoss     *float64
	TPOrderID    *string
	SLOrderID    *string
	SLPlacedAt   *time.Time
	SLOrderType  string // "stop" or "stop_limit"; set when SLOrderID is recorded
}

// Decision is PositionLimits/ExecutionService's admission verdict.
type Decision string

const (
	DecisionApproved    Decision = "approved"
	DecisionDenied      Decision = "denied"
	DecisionConditional Decision = "conditional"
)

// TradeEvaluation is the model+strategy output ExecutionService consumes
// (spec §3).
type TradeEvaluation struct {
	Decision         Decision
	Side             Side
	PositionSize     float64
	StopLoss         float64
	TakeProfit       float64
	ConfidenceLevel  float64
	StrategyName     string
	Regime           string
	MarketConditions map[string]any
}

// ExecStatus is ExecutionResult's terminal state (spec §3).
type ExecStatus string

const (
	ExecPending    ExecStatus = "pending"
	ExecSubmitted  ExecStatus = "submitted"
	ExecFilled     ExecStatus = "filled"
	ExecCancelled  ExecStatus = "cancelled"
	ExecFailed     ExecStatus = "failed"
	ExecRejected   ExecStatus = "rejected"
)

// Mode is the execution environment ExecutionService runs in (spec §4.13).
type Mode string

const (
	ModeLive     Mode = "live"
	ModePaper    Mode = "paper"
	ModeBacktest Mode = "backtest"
)

// ExecutionResult is executeTrade's return value (spec §3).
type ExecutionResult struct {
	Success      bool
	Mode         Mode
	OrderID      string
	FilledPrice  float64
	FilledAmount float64
	Fee          float64
	Status       ExecStatus
	ErrorMessage string
	PnL          *float64
}

// MarginStatusLevel is BalanceMonitor's threshold classification (spec §3,
// §4.6).
type MarginStatusLevel string

const (
	MarginSafe     MarginStatusLevel = "safe"
	MarginCaution  MarginStatusLevel = "caution"
	MarginWarning  MarginStatusLevel = "warning"
	MarginCritical MarginStatusLevel = "critical"
)

// MarginData is BalanceMonitor's computed snapshot (spec §3).
type MarginData struct {
	Balance        float64
	PositionValue  float64
	MarginRatioPct float64
	Status         MarginStatusLevel
	Timestamp      time.Time
}

// OrphanSL is one entry of the orphan-SL journal (spec §3, §4.12).
type OrphanSL struct {
	SLOrderID string
	Reason    string
	Timestamp time.Time
}

// FeatureVector is an ordered feature value sequence matching
// FeatureCatalog's declared order (spec §3, §4.3).
type FeatureVector []float64
