package common

import "fmt"

// Severity classifies an ErrorRecord/TradingError for ResilienceManager's
// emergency-stop latch (spec §3, §4.1).
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Kind classifies the failing concern, independent of which component raised
// it, so ResilienceManager can key circuit breakers per component while
// still letting callers branch on the failure family.
type Kind string

const (
	KindExchange    Kind = "exchange"
	KindData        Kind = "data"
	KindModel       Kind = "model"
	KindRisk        Kind = "risk"
	KindPersistence Kind = "persistence"
	KindInternal    Kind = "internal"
)

// TradingError is the taxonomy type every component wraps exchange/storage/
// model failures in before handing them to ResilienceManager (spec §7).
type TradingError struct {
	Kind      Kind
	Component string
	Severity  Severity
	Err       error
}

func (e *TradingError) Error() string {
	return fmt.Sprintf("%s[%s/%s]: %v", e.Kind, e.Component, e.Severity, e.Err)
}

func (e *TradingError) Unwrap() error {
	return e.Err
}

// NewTradingError wraps err with the component/severity context ResilienceManager
// classifies on.
func NewTradingError(kind Kind, component string, severity Severity, err error) *TradingError {
	return &TradingError{Kind: kind, Component: component, Severity: severity, Err: err}
}
