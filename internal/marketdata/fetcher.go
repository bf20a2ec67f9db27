package marketdata

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"tradecore/internal/common"
	"tradecore/internal/exchange"
	"tradecore/internal/metrics"
	"tradecore/internal/resilience"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const resilienceComponent = "marketdata"

const (
	maxPaginationAttempts = 25
	maxConsecutiveEmpty   = 15
	maxFetchSpan          = 30 * 24 * time.Hour
)

// Config carries MarketDataFetcher's tunables (spec §6).
type Config struct {
	PerPage       int
	RateLimit     time.Duration
	BackoffBase   time.Duration
	RaceTimeout   time.Duration
}

// DefaultConfig mirrors spec §4.2's literal examples.
func DefaultConfig() Config {
	return Config{
		PerPage:     500,
		RateLimit:   exchange.DefaultRateLimit,
		BackoffBase: 500 * time.Millisecond,
		RaceTimeout: 90 * time.Second,
	}
}

// Fetcher is MarketDataFetcher.
type Fetcher struct {
	cfg     Config
	client  exchange.Client
	res     *resilience.Manager
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
	limiter *rate.Limiter
	metrics *metrics.Registry
}

// NewFetcher builds a fetcher; now/sleep are injectable for deterministic tests.
// Steady-state pagination is paced by a token-bucket limiter at one request
// per cfg.RateLimit, burst 1, so a slow consumer can't build up a backlog of
// permits and then fire a burst at the exchange.
func NewFetcher(cfg Config, client exchange.Client, res *resilience.Manager) *Fetcher {
	limit := rate.Every(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	return &Fetcher{cfg: cfg, client: client, res: res, now: time.Now, sleep: ctxSleep, limiter: rate.NewLimiter(limit, 1)}
}

// SetMetrics attaches a metrics Registry so GetPriceFrame reports
// pagination attempts. Optional.
func (f *Fetcher) SetMetrics(reg *metrics.Registry) {
	f.metrics = reg
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Options configures one getPriceFrame call (spec §4.2).
type Options struct {
	Since    *int64 // ms; defaults to now-24h
	Limit    int    // defaults to PerPage
	Paginate bool
	PerPage  int
}

// Frame is the validated, dense OHLCV result (spec §4.2's "DataFrame with
// UTC datetime index").
type Frame struct {
	Bars    []exchange.Bar
	Partial bool
}

// GetPriceFrame is getPriceFrame: the paginated retrieval algorithm with
// timestamp hardening, partial-data rescue, and post-fetch cleaning (spec
// §4.2).
func (f *Fetcher) GetPriceFrame(ctx context.Context, symbol, timeframe string, opts Options) (Frame, error) {
	interval, ok := TimeframeInterval(timeframe)
	if !ok {
		return Frame{}, fmt.Errorf("marketdata: unknown timeframe %q", timeframe)
	}

	now := f.now()
	limit := opts.Limit
	if limit <= 0 {
		limit = f.cfg.PerPage
	}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = f.cfg.PerPage
	}

	var cursor int64
	if opts.Since != nil {
		hardened, okH := HardenTimestamp(float64(*opts.Since), now)
		if !okH {
			return Frame{}, fmt.Errorf("marketdata: invalid since timestamp")
		}
		cursor = hardened
	} else {
		cursor = now.Add(-24 * time.Hour).UnixMilli()
	}
	spanStart := cursor

	var records []exchange.Bar
	seen := make(map[int64]bool)
	consecutiveEmpty := 0

	for attempt := 0; len(records) < limit && attempt < maxPaginationAttempts; attempt++ {
		if f.metrics != nil {
			f.metrics.FetchPaginationAttempts().Inc()
		}
		batch, err := f.client.FetchOHLCV(ctx, symbol, timeframe, cursor, perPage)
		if err != nil {
			f.res.RecordError(resilienceComponent, common.SeverityWarning)
			consecutiveEmpty++
			if f.shouldAbort(consecutiveEmpty, cursor, spanStart, now, attempt) {
				break
			}
			if sleepErr := f.sleep(ctx, SmartBackoff(attempt, consecutiveEmpty, KindAPIError, f.cfg.BackoffBase)); sleepErr != nil {
				return partialFrame(records), sleepErr
			}
			continue
		}
		f.res.RecordSuccess(resilienceComponent)

		if len(batch) == 0 {
			consecutiveEmpty++
			if f.shouldAbort(consecutiveEmpty, cursor, spanStart, now, attempt) {
				break
			}
			if sleepErr := f.sleep(ctx, SmartBackoff(attempt, consecutiveEmpty, KindEmpty, f.cfg.BackoffBase)); sleepErr != nil {
				return partialFrame(records), sleepErr
			}
			continue
		}
		consecutiveEmpty = 0

		futureCeilMs := now.Add(futureClamp).UnixMilli()
		lastTs := cursor
		for _, bar := range batch {
			if bar.TimestampMs > futureCeilMs || bar.TimestampMs <= 0 {
				continue
			}
			if seen[bar.TimestampMs] {
				continue
			}
			seen[bar.TimestampMs] = true
			records = append(records, bar)
			if bar.TimestampMs > lastTs {
				lastTs = bar.TimestampMs
			}
		}

		nextCursor := lastTs + interval.Milliseconds()
		nowMs := now.UnixMilli()
		if nextCursor > nowMs {
			nextCursor = nowMs
		}
		cursor = nextCursor

		if !opts.Paginate {
			break
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return partialFrame(records), err
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].TimestampMs < records[j].TimestampMs })
	cleaned := Clean(records, interval)
	return Frame{Bars: cleaned, Partial: len(cleaned) < limit}, nil
}

func (f *Fetcher) shouldAbort(consecutiveEmpty int, cursor, spanStart int64, now time.Time, attempt int) bool {
	if consecutiveEmpty >= maxConsecutiveEmpty {
		return true
	}
	if time.Duration(cursor-spanStart)*time.Millisecond > maxFetchSpan {
		return true
	}
	if attempt >= maxPaginationAttempts-1 {
		return true
	}
	return false
}

func partialFrame(records []exchange.Bar) Frame {
	sort.Slice(records, func(i, j int) bool { return records[i].TimestampMs < records[j].TimestampMs })
	if len(records) > 0 {
		log.Warn().Int("bars", len(records)).Msg("marketdata: returning partial frame after retry exhaustion")
	}
	return Frame{Bars: records, Partial: true}
}

// Clean applies the data-quality pass: dedups (already de-duped by the
// pagination loop's seen-set, but re-asserted here for callers that bypass
// pagination), reindexes to the timeframe grid via forward-fill, and drops
// MAD-based outliers (spec §4.2 "clean(df, timeframe)").
func Clean(bars []exchange.Bar, interval time.Duration) []exchange.Bar {
	if len(bars) == 0 {
		return bars
	}
	deduped := dedup(bars)
	reindexed := reindex(deduped, interval)
	return removeOutliers(reindexed)
}

func dedup(bars []exchange.Bar) []exchange.Bar {
	seen := make(map[int64]bool, len(bars))
	out := make([]exchange.Bar, 0, len(bars))
	for _, b := range bars {
		if seen[b.TimestampMs] {
			continue
		}
		seen[b.TimestampMs] = true
		out = append(out, b)
	}
	return out
}

// reindex forward-fills any gap on the timeframe grid between consecutive
// bars, carrying the prior close as a flat OHLC and zero volume.
func reindex(bars []exchange.Bar, interval time.Duration) []exchange.Bar {
	if len(bars) < 2 {
		return bars
	}
	stepMs := interval.Milliseconds()
	out := make([]exchange.Bar, 0, len(bars))
	out = append(out, bars[0])
	for i := 1; i < len(bars); i++ {
		prev := out[len(out)-1]
		for ts := prev.TimestampMs + stepMs; ts < bars[i].TimestampMs; ts += stepMs {
			out = append(out, exchange.Bar{
				TimestampMs: ts, Open: prev.Close, High: prev.Close,
				Low: prev.Close, Close: prev.Close, Volume: 0,
			})
		}
		out = append(out, bars[i])
	}
	return out
}

// removeOutliers drops bars whose close fails a rolling modified z-score
// test (MAD-based, threshold 3.5, window 20), replacing each with the
// preceding bar's close to keep the series dense (spec §4.2).
func removeOutliers(bars []exchange.Bar) []exchange.Bar {
	const window = 20
	const threshold = 3.5
	out := make([]exchange.Bar, len(bars))
	copy(out, bars)

	for i := range out {
		lo := i - window
		if lo < 0 {
			lo = 0
		}
		if i-lo < 5 {
			continue // not enough history for a meaningful MAD
		}
		slice := out[lo:i]
		closes := make([]float64, len(slice))
		for j, b := range slice {
			closes[j] = b.Close
		}
		med := median(closes)
		mad := medianAbsDeviation(closes, med)
		if mad == 0 {
			continue
		}
		z := 0.6745 * (out[i].Close - med) / mad
		if math.Abs(z) > threshold {
			prevClose := out[i-1].Close
			out[i].Open, out[i].High, out[i].Low, out[i].Close = prevClose, prevClose, prevClose, prevClose
		}
	}
	return out
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func medianAbsDeviation(xs []float64, med float64) float64 {
	devs := make([]float64, len(xs))
	for i, x := range xs {
		devs[i] = math.Abs(x - med)
	}
	return median(devs)
}
