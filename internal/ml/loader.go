package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"tradecore/internal/common"

	"github.com/rs/zerolog/log"
)

// Level is one rung of MLLoader's fallback chain (spec §4.4).
type Level int

const (
	LevelStacking Level = iota + 1
	LevelFull
	LevelBasic
	LevelRebuilt
	LevelDummy
)

func (l Level) String() string {
	switch l {
	case LevelStacking:
		return "stacking"
	case LevelFull:
		return "full"
	case LevelBasic:
		return "basic"
	case LevelRebuilt:
		return "rebuilt"
	case LevelDummy:
		return "dummy"
	default:
		return "unknown"
	}
}

// BaseLearner is one artifact's weighted contribution inside an ensemble
// envelope (spec §4.4 "weighted average... weights sum to 1.0").
type BaseLearner struct {
	Name   string    `json:"name"`
	Weight float64   `json:"weight"`
	Coefs  []float64 `json:"coefficients"` // logistic-style per-feature weights, one row per class
	Bias   []float64 `json:"bias"`
}

// ensembleArtifact is the on-disk JSON+gob envelope adapted from the
// teacher's ModelManager version records (spec §6.2).
type ensembleArtifact struct {
	Level        Level         `json:"level"`
	FeatureCount int           `json:"feature_count"`
	Learners     []BaseLearner `json:"learners"`
}

// EnsembleModel evaluates a weighted-average probability across its base
// learners, argmax for Predict (spec §4.4 "Ensemble evaluation").
type EnsembleModel struct {
	level        Level
	featureCount int
	learners     []BaseLearner
}

func (e *EnsembleModel) FeatureCount() int { return e.featureCount }
func (e *EnsembleModel) Level() Level      { return e.level }

func (e *EnsembleModel) PredictProba(ctx context.Context, x common.FeatureVector) ([]float64, error) {
	if len(x) != e.featureCount {
		return nil, fmt.Errorf("ml: feature count mismatch: got %d want %d", len(x), e.featureCount)
	}
	probs := make([]float64, 3)
	var weightSum float64
	for _, learner := range e.learners {
		scores := make([]float64, 3)
		for k := 0; k < 3; k++ {
			s := learner.Bias[k]
			for i, v := range x {
				s += learner.Coefs[k*e.featureCount+i] * v
			}
			scores[k] = s
		}
		soft := softmax(scores)
		for k := range probs {
			probs[k] += learner.Weight * soft[k]
		}
		weightSum += learner.Weight
	}
	if weightSum == 0 {
		return nil, fmt.Errorf("ml: ensemble has no weighted learners")
	}
	for k := range probs {
		probs[k] /= weightSum
	}
	return probs, nil
}

func (e *EnsembleModel) Predict(ctx context.Context, x common.FeatureVector) (int, error) {
	probs, err := e.PredictProba(ctx, x)
	if err != nil {
		return 0, err
	}
	best, bestP := 0, -1.0
	for k, p := range probs {
		if p > bestP {
			best, bestP = k, p
		}
	}
	return best, nil
}

func softmax(scores []float64) []float64 {
	max := scores[0]
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	var sum float64
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = expClamped(s - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func expClamped(x float64) float64 {
	if x < -50 {
		return 0
	}
	return math.Exp(x)
}

// Loader walks spec §4.4's five-level fallback chain: stacking -> full ->
// basic -> rebuilt -> dummy, stopping at the first artifact that loads and
// exposes Predict/PredictProba.
type Loader struct {
	modelsDir      string
	stackingEnabled bool
}

// NewLoader builds a loader rooted at modelsDir (spec §6.2's configured
// model directory).
func NewLoader(modelsDir string, stackingEnabled bool) *Loader {
	return &Loader{modelsDir: modelsDir, stackingEnabled: stackingEnabled}
}

// Load attempts each level in order, returning the first Predictor that
// loads successfully, never erroring — level 5 (DummyModel) always
// succeeds.
func (l *Loader) Load() (Predictor, Level) {
	order := []Level{}
	if l.stackingEnabled {
		order = append(order, LevelStacking)
	}
	order = append(order, LevelFull, LevelBasic, LevelRebuilt)

	for _, level := range order {
		model, err := l.loadLevel(level)
		if err != nil {
			log.Warn().Err(err).Str("level", level.String()).Msg("ml model level unavailable, falling back")
			continue
		}
		log.Info().Str("level", level.String()).Msg("ml model loaded")
		return model, level
	}
	log.Warn().Msg("ml: no ensemble level available, serving DummyModel")
	return DummyModel{}, LevelDummy
}

func (l *Loader) loadLevel(level Level) (Predictor, error) {
	if level == LevelRebuilt {
		return NewHeuristicModel(0.05), nil
	}
	path := filepath.Join(l.modelsDir, level.String()+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s artifact: %w", level, err)
	}
	var artifact ensembleArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("decode %s artifact: %w", level, err)
	}
	if len(artifact.Learners) == 0 {
		return nil, fmt.Errorf("%s artifact has no learners", level)
	}
	var weightSum float64
	for _, learner := range artifact.Learners {
		weightSum += learner.Weight
	}
	if weightSum <= 0 {
		return nil, fmt.Errorf("%s artifact weights sum to %v, want > 0", level, weightSum)
	}
	return &EnsembleModel{level: level, featureCount: artifact.FeatureCount, learners: artifact.Learners}, nil
}

// LoadLevel loads one specific level on demand, without walking the
// fallback chain. Adapter.EnsureCorrectModel does not use it; it reloads
// through Load.
func (l *Loader) LoadLevel(level Level) (Predictor, error) {
	return l.loadLevel(level)
}
