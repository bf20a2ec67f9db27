// Package ml loads and serves the trade-classification model: a leveled
// ensemble with a deterministic fallback chain down to a dummy hold-only
// model, wrapped by MLAdapter for feature-count drift and transactional
// reload (spec §4.4).
package ml

import (
	"context"

	"tradecore/internal/common"
)

// Predictor is the capability MLAdapter wraps and DummyModel / every loaded
// ensemble level satisfies.
type Predictor interface {
	Predict(ctx context.Context, x common.FeatureVector) (class int, err error)
	PredictProba(ctx context.Context, x common.FeatureVector) (probs []float64, err error)
}

// Classes, fixed at K=3 (spec §4.4 ensemble evaluation).
const (
	ClassSell = 0
	ClassHold = 1
	ClassBuy  = 2
)

// DummyModel is level 5 of the fallback chain: always hold, with
// probabilities split so the hold slot carries 0.5 and buy/sell share the
// remainder evenly.
type DummyModel struct{}

func (DummyModel) Predict(ctx context.Context, x common.FeatureVector) (int, error) {
	return ClassHold, nil
}

func (DummyModel) PredictProba(ctx context.Context, x common.FeatureVector) ([]float64, error) {
	return []float64{0.25, 0.5, 0.25}, nil
}
