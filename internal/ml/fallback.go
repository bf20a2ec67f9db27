package ml

import (
	"context"
	"math"
	"sync"

	"tradecore/internal/common"
)

// HeuristicModel is the level-4 "rebuilt" fallback. It reads no model
// artifact, so that level always loads; it is a mean-reversion scorer over
// the first three feature slots
// (tick ratio, depth ratio, price distance), adapted from the teacher's
// tick/depth/price-distance fallback predictor but reshaped to the 3-class
// buy/hold/sell output MLAdapter expects everywhere else.
type HeuristicModel struct {
	mu         sync.RWMutex
	lastScores map[string]float64
	threshold  float64
}

// NewHeuristicModel builds a scorer with the given dead-zone threshold.
func NewHeuristicModel(threshold float64) *HeuristicModel {
	return &HeuristicModel{lastScores: make(map[string]float64), threshold: threshold}
}

func (m *HeuristicModel) score(x common.FeatureVector) float64 {
	if len(x) < 3 {
		return 0
	}
	tickScore := math.Tanh(x[0])
	depthScore := math.Tanh(x[1])
	priceScore := -math.Tanh(x[2]) // mean reversion: further from fair value scores opposite
	score := 0.4*tickScore + 0.3*depthScore + 0.3*priceScore
	if math.Abs(score) < m.threshold {
		return 0
	}
	return score
}

func (m *HeuristicModel) Predict(ctx context.Context, x common.FeatureVector) (int, error) {
	s := m.score(x)
	switch {
	case s > 0:
		return ClassBuy, nil
	case s < 0:
		return ClassSell, nil
	default:
		return ClassHold, nil
	}
}

func (m *HeuristicModel) PredictProba(ctx context.Context, x common.FeatureVector) ([]float64, error) {
	s := m.score(x)
	p := sigmoid(s)
	buy := p * 0.5
	sell := (1 - p) * 0.5
	hold := 1 - buy - sell
	return []float64{sell, hold, buy}, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// RecordOutcome feeds realized outcomes into the model's rolling metrics for
// offline threshold tuning; the heuristic itself never adapts online.
func (m *HeuristicModel) RecordOutcome(key string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastScores[key] = score
}

// Metrics returns a defensive copy of recorded outcomes.
func (m *HeuristicModel) Metrics() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.lastScores))
	for k, v := range m.lastScores {
		out[k] = v
	}
	return out
}
