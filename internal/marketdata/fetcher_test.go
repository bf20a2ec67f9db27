package marketdata

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"tradecore/internal/exchange"
	"tradecore/internal/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
}

func noSleepCtx(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestHardenTimestampRejectsNonFinite(t *testing.T) {
	_, ok := HardenTimestamp(math.NaN(), fixedNow())
	assert.False(t, ok)
	_, ok = HardenTimestamp(math.Inf(1), fixedNow())
	assert.False(t, ok)
}

func TestHardenTimestampPromotesSecondsToMilliseconds(t *testing.T) {
	now := fixedNow()
	secs := float64(now.Add(-time.Hour).Unix())
	ms, ok := HardenTimestamp(secs, now)
	require.True(t, ok)
	assert.InDelta(t, secs*1000, float64(ms), 1000)
}

func TestHardenTimestampRejectsUnrealisticRange(t *testing.T) {
	now := fixedNow()
	_, ok := HardenTimestamp(float64(time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()), now)
	assert.False(t, ok)
}

func TestHardenTimestampClampsToExchangeWindow(t *testing.T) {
	now := fixedNow()
	tooOld := float64(now.Add(-200 * time.Hour).UnixMilli())
	ms, ok := HardenTimestamp(tooOld, now)
	require.True(t, ok)
	floor := now.Add(-167 * time.Hour).UnixMilli()
	assert.Equal(t, floor, ms)
}

func TestHardenTimestampClampsFuture(t *testing.T) {
	now := fixedNow()
	tooFuture := float64(now.Add(48 * time.Hour).UnixMilli())
	ms, ok := HardenTimestamp(tooFuture, now)
	require.True(t, ok)
	assert.Equal(t, now.Add(24*time.Hour).UnixMilli(), ms)
}

func TestSmartBackoffClampsToBounds(t *testing.T) {
	d := SmartBackoff(1, 0, KindEmpty, 500*time.Millisecond)
	assert.GreaterOrEqual(t, d, 500*time.Millisecond)
	d = SmartBackoff(20, 50, KindRateLimit, 500*time.Millisecond)
	assert.LessOrEqual(t, d, 15*time.Second)
}

type pagedClient struct {
	exchange.Client
	pages [][]exchange.Bar
	calls int
}

func (c *pagedClient) FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMs int64, limit int) ([]exchange.Bar, error) {
	if c.calls >= len(c.pages) {
		return nil, nil
	}
	p := c.pages[c.calls]
	c.calls++
	return p, nil
}

func TestGetPriceFrameDedupsAcrossPages(t *testing.T) {
	base := fixedNow().Add(-2 * time.Hour).UnixMilli()
	client := &pagedClient{pages: [][]exchange.Bar{
		{{TimestampMs: base, Close: 100}, {TimestampMs: base + 60000, Close: 101}},
		{{TimestampMs: base + 60000, Close: 101}, {TimestampMs: base + 120000, Close: 102}},
	}}
	f := NewFetcher(DefaultConfig(), client, resilience.NewManager())
	f.now = fixedNow
	f.sleep = noSleepCtx

	since := base
	frame, err := f.GetPriceFrame(context.Background(), "BTCUSDT", "1m", Options{Since: &since, Limit: 3, Paginate: true})
	require.NoError(t, err)
	assert.Len(t, frame.Bars, 3)
}

func TestGetPriceFrameReturnsPartialAfterExhaustingEmptyRetries(t *testing.T) {
	client := &pagedClient{pages: nil}
	f := NewFetcher(Config{PerPage: 10, RateLimit: time.Millisecond, BackoffBase: time.Millisecond, RaceTimeout: time.Second}, client, resilience.NewManager())
	f.now = fixedNow
	f.sleep = noSleepCtx

	frame, err := f.GetPriceFrame(context.Background(), "BTCUSDT", "1m", Options{Limit: 5, Paginate: true})
	require.NoError(t, err)
	assert.Empty(t, frame.Bars)
	assert.True(t, frame.Partial)
}

func TestGetPriceFrameRejectsUnknownTimeframe(t *testing.T) {
	client := &pagedClient{}
	f := NewFetcher(DefaultConfig(), client, resilience.NewManager())
	_, err := f.GetPriceFrame(context.Background(), "BTCUSDT", "3m", Options{})
	assert.Error(t, err)
}

func TestCleanReindexesGapsOnTimeframeGrid(t *testing.T) {
	bars := []exchange.Bar{
		{TimestampMs: 0, Close: 100},
		{TimestampMs: 180000, Close: 103}, // 3-minute gap on a 1m grid
	}
	cleaned := Clean(bars, time.Minute)
	assert.Len(t, cleaned, 4)
	assert.Equal(t, 100.0, cleaned[1].Close, "forward-filled bar must carry the prior close")
}

func TestCleanDropsOutlierSpike(t *testing.T) {
	bars := make([]exchange.Bar, 0, 25)
	for i := 0; i < 24; i++ {
		bars = append(bars, exchange.Bar{TimestampMs: int64(i) * 60000, Close: 100})
	}
	bars = append(bars, exchange.Bar{TimestampMs: 24 * 60000, Close: 100000})
	cleaned := Clean(bars, time.Minute)
	assert.InDelta(t, 100.0, cleaned[len(cleaned)-1].Close, 1e-9, "an extreme spike must be replaced by the prior close")
}

type racingClient struct {
	exchange.Client
	mu          sync.Mutex
	sinceCursor int64
	sinceFrame  []exchange.Bar
	latestFrame []exchange.Bar
	sentSince   bool
	sentLatest  bool
}

func (c *racingClient) FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMs int64, limit int) ([]exchange.Bar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sinceMs == c.sinceCursor {
		if c.sentSince {
			return nil, nil
		}
		c.sentSince = true
		return c.sinceFrame, nil
	}
	if c.sentLatest {
		return nil, nil
	}
	c.sentLatest = true
	return c.latestFrame, nil
}

func TestFetchRacePicksFresherFrame(t *testing.T) {
	base := fixedNow().Add(-time.Hour).UnixMilli()
	client := &racingClient{
		sinceCursor: base,
		sinceFrame:  []exchange.Bar{{TimestampMs: base, Close: 1}},
		latestFrame: []exchange.Bar{{TimestampMs: base + 600000, Close: 2}},
	}
	f := NewFetcher(Config{PerPage: 10, RateLimit: time.Millisecond, BackoffBase: time.Millisecond, RaceTimeout: time.Second}, client, resilience.NewManager())
	f.now = fixedNow
	f.sleep = noSleepCtx

	frame, err := f.FetchRace(context.Background(), "BTCUSDT", "1m", base, 10)
	require.NoError(t, err)
	require.NotEmpty(t, frame.Bars)
	assert.Equal(t, 2.0, frame.Bars[len(frame.Bars)-1].Close, "the fresher (latest-only) race leg must win")
}
