// Package features provides order-book/price microstructure indicators
// (VWAP, imbalance) and the FeatureCatalog manifest reader that tells
// MLAdapter which ordered feature names feed which model level (spec §4.3).
package features

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Level is one feature-level declared in the manifest (e.g. "full", "basic",
// "stacking").
type Level struct {
	Features []string `json:"features"`
	Count    int      `json:"count"`
	Model    string   `json:"model_file"`
}

type manifest struct {
	TotalFeatures int                    `json:"total_features"`
	FeatureLevels map[string]Level       `json:"feature_levels"`
	Categories    map[string]CategoryDef `json:"feature_categories"`
}

// CategoryDef groups feature names under a semantic label (basic, momentum,
// volatility, trend, volume, breakout, regime, strategy_signals).
type CategoryDef struct {
	Features []string `json:"features"`
}

// baseline15 is the hard-coded fallback used when the manifest file is
// missing (spec §4.3 "Fallback: hard-coded 15-feature baseline").
var baseline15 = []string{
	"tick_imbalance", "depth_imbalance", "price_distance", "vwap_deviation",
	"rsi_14", "atr_14", "adx_14", "plus_di", "minus_di",
	"ema_20", "ema_50", "volume_ratio", "spread_ratio", "bid_ask_ratio", "momentum_5",
}

// Catalog is the process-cached manifest reader FeatureCatalog exposes.
type Catalog struct {
	mu     sync.RWMutex
	levels map[string]Level
	cats   map[string]CategoryDef
}

// Load reads the manifest at path; when the file cannot be read, or it
// declares no feature levels, it serves the 15-feature baseline under level
// name "basic" instead of failing. A manifest that fails to decode is
// returned as an error.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Catalog{
			levels: map[string]Level{"basic": {Features: baseline15, Count: len(baseline15)}},
			cats:   map[string]CategoryDef{},
		}, nil
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("features: decode manifest %s: %w", path, err)
	}
	if len(m.FeatureLevels) == 0 {
		return &Catalog{
			levels: map[string]Level{"basic": {Features: baseline15, Count: len(baseline15)}},
			cats:   map[string]CategoryDef{},
		}, nil
	}
	return &Catalog{levels: m.FeatureLevels, cats: m.Categories}, nil
}

// Names returns the ordered feature-name list for level (e.g. "full").
func (c *Catalog) Names(level string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.levels[level]
	if !ok {
		return nil, fmt.Errorf("features: unknown level %q", level)
	}
	return l.Features, nil
}

// Count returns the declared feature count for level.
func (c *Catalog) Count(level string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.levels[level]
	if !ok {
		return 0, fmt.Errorf("features: unknown level %q", level)
	}
	return l.Count, nil
}

// Levels returns the full level map (name -> Level), a defensive copy.
func (c *Catalog) Levels() map[string]Level {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Level, len(c.levels))
	for k, v := range c.levels {
		out[k] = v
	}
	return out
}

// Categories returns the categorized feature-name view.
func (c *Catalog) Categories() map[string]CategoryDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]CategoryDef, len(c.cats))
	for k, v := range c.cats {
		out[k] = v
	}
	return out
}

// HasLevel reports whether the manifest declares level (used to decide
// whether MLLoader may attempt level 1, stacking).
func (c *Catalog) HasLevel(level string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.levels[level]
	return ok
}
