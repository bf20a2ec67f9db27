package features

import (
	"container/ring"
	"math"
	"sync"
	"time"
)

// sample is a single price-volume observation with timestamp.
type sample struct {
	p, v float64
	t    time.Time
}

// VWAP computes a sliding-window volume-weighted average price and its
// volume-weighted standard deviation, feeding the "basic" and "full"
// feature levels FeatureCatalog exposes (spec §4.3).
type VWAP struct {
	win         time.Duration
	ring        *ring.Ring
	mu          sync.RWMutex
	maxSize     int
	currentSize int
	samplePool  *sync.Pool
}

// NewVWAP creates a calculator over the given time window and sample cap.
func NewVWAP(win time.Duration, size int) *VWAP {
	if size <= 0 {
		size = 1
	}
	if win <= 0 {
		win = time.Minute
	}
	return &VWAP{
		win:     win,
		ring:    ring.New(size),
		maxSize: size,
		samplePool: &sync.Pool{
			New: func() interface{} { return &sample{} },
		},
	}
}

// Add records a price-volume sample; invalid (NaN/Inf/negative) values are
// silently dropped.
func (v *VWAP) Add(price, volume float64) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return
	}
	if math.IsNaN(volume) || math.IsInf(volume, 0) || volume < 0 {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	s := v.samplePool.Get().(*sample)
	s.p, s.v, s.t = price, volume, time.Now()

	if old, ok := v.ring.Value.(*sample); ok && old != nil {
		v.samplePool.Put(old)
	}
	v.ring.Value = s
	v.ring = v.ring.Next()

	if v.currentSize < v.maxSize {
		v.currentSize++
	}
}

// Calc returns the current VWAP and its volume-weighted standard deviation
// over samples still inside the time window.
func (v *VWAP) Calc() (value, std float64) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.currentSize == 0 {
		return 0, 0
	}

	cutoff := time.Now().Add(-v.win)
	var pv, vv float64
	var count int
	valid := make([]sample, 0, v.currentSize)
	v.ring.Do(func(x any) {
		s, ok := x.(*sample)
		if !ok || s == nil || !s.t.After(cutoff) {
			return
		}
		pv += s.p * s.v
		vv += s.v
		valid = append(valid, *s)
		count++
	})

	if vv == 0 || count == 0 {
		return 0, 0
	}
	value = pv / vv
	if count == 1 {
		return value, 0
	}

	var weightedVariance float64
	for _, s := range valid {
		d := s.p - value
		weightedVariance += s.v * d * d
	}
	variance := weightedVariance / vv
	if variance > 0 {
		std = math.Sqrt(variance)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, 0
	}
	if math.IsNaN(std) || math.IsInf(std, 0) {
		std = 0
	}
	return value, std
}

// GetCurrentSize returns the number of samples currently held.
func (v *VWAP) GetCurrentSize() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.currentSize
}

// Reset clears all stored samples.
func (v *VWAP) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	current := v.ring
	for i := 0; i < v.maxSize; i++ {
		if s, ok := current.Value.(*sample); ok && s != nil {
			v.samplePool.Put(s)
		}
		current.Value = nil
		current = current.Next()
	}
	v.currentSize = 0
}
