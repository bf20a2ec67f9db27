package ml

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradecore/internal/common"
	"tradecore/internal/metrics"
	"tradecore/internal/resilience"

	"github.com/rs/zerolog/log"
)

const resilienceComponent = "ml"

// Adapter wraps the currently-loaded model with feature-count drift
// detection and transactional reload (spec §4.4).
type Adapter struct {
	mu      sync.RWMutex
	loader  *Loader
	model   Predictor
	level   Level
	res     *resilience.Manager
	metrics *metrics.Registry
}

// NewAdapter loads the initial model via loader and wraps it.
func NewAdapter(loader *Loader, res *resilience.Manager) *Adapter {
	model, level := loader.Load()
	return &Adapter{loader: loader, model: model, level: level, res: res}
}

// SetMetrics attaches a metrics Registry so Predict/PredictProba report
// inference latency. Optional.
func (a *Adapter) SetMetrics(reg *metrics.Registry) {
	a.metrics = reg
}

// Predict returns the integer class label, falling back to DummyModel on
// any ensemble error (spec §4.4 "on exception during an ensemble call,
// falls back to DummyModel").
func (a *Adapter) Predict(ctx context.Context, x common.FeatureVector) (int, error) {
	a.mu.RLock()
	model := a.model
	a.mu.RUnlock()

	start := time.Now()
	class, err := model.Predict(ctx, x)
	a.observeLatency(start)
	if err != nil {
		a.res.RecordError(resilienceComponent, common.SeverityWarning)
		log.Warn().Err(err).Msg("ml predict failed, falling back to dummy model")
		return DummyModel{}.Predict(ctx, x)
	}
	a.res.RecordSuccess(resilienceComponent)
	return class, nil
}

// PredictProba returns the K=3 probability vector, with the same
// dummy-model fallback as Predict.
func (a *Adapter) PredictProba(ctx context.Context, x common.FeatureVector) ([]float64, error) {
	a.mu.RLock()
	model := a.model
	a.mu.RUnlock()

	start := time.Now()
	probs, err := model.PredictProba(ctx, x)
	a.observeLatency(start)
	if err != nil {
		a.res.RecordError(resilienceComponent, common.SeverityWarning)
		log.Warn().Err(err).Msg("ml predictProba failed, falling back to dummy model")
		return DummyModel{}.PredictProba(ctx, x)
	}
	a.res.RecordSuccess(resilienceComponent)
	return probs, nil
}

func (a *Adapter) observeLatency(start time.Time) {
	if a.metrics != nil {
		a.metrics.MLPredictionLatency().Observe(time.Since(start).Seconds())
	}
}

// Level reports the currently-active fallback level, for metrics/logging.
func (a *Adapter) Level() Level {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.level
}

// EnsureCorrectModel reloads when the observed feature count no longer
// matches the loaded ensemble's declared count (spec §4.4). The reload goes
// through ReloadModel, which keeps the first level of the fallback chain
// that loads; that level's feature count is not compared with the observed
// count.
func (a *Adapter) EnsureCorrectModel(observedFeatureCount int) error {
	a.mu.RLock()
	ensemble, ok := a.model.(*EnsembleModel)
	mismatch := ok && ensemble.FeatureCount() != observedFeatureCount
	a.mu.RUnlock()
	if !mismatch {
		return nil
	}
	log.Warn().Int("observed", observedFeatureCount).Int("expected", ensemble.FeatureCount()).
		Msg("ml feature count drift, reloading model")
	return a.ReloadModel()
}

// ReloadModel re-runs the fallback chain and swaps in the result only on
// success; a reload that finds no loadable level (the chain ends at
// DummyModel) returns an error and keeps the previously-loaded model in
// place.
func (a *Adapter) ReloadModel() error {
	model, level := a.loader.Load()
	if level == LevelDummy {
		return fmt.Errorf("ml: reload found no loadable model level, keeping %s model", a.Level())
	}
	a.mu.Lock()
	a.model = model
	a.level = level
	a.mu.Unlock()
	return nil
}

// WarmupInterval is how often ExecutionService re-checks feature-count
// drift against the active model (operational default, not exchange-rate
// bound).
const WarmupInterval = 5 * time.Minute
