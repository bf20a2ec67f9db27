package marketdata

import (
	"context"
)

// FetchRace runs GetPriceFrame twice concurrently — once from the
// caller-supplied since cursor, once latest-only (since=nil) — under a
// shared timeout, and returns whichever non-empty frame has the fresher
// max timestamp. The losing goroutine's context is cancelled immediately
// once a winner is picked (spec §4.2 "Parallel race", spec §9's
// errgroup/spawn+join instruction).
func (f *Fetcher) FetchRace(ctx context.Context, symbol, timeframe string, since int64, perPage int) (Frame, error) {
	raceCtx, cancel := context.WithTimeout(ctx, f.cfg.RaceTimeout)
	defer cancel()

	type result struct {
		frame Frame
		err   error
	}
	results := make(chan result, 2)

	go func() {
		frame, err := f.GetPriceFrame(raceCtx, symbol, timeframe, Options{Since: &since, Paginate: true, PerPage: perPage})
		results <- result{frame, err}
	}()
	go func() {
		frame, err := f.GetPriceFrame(raceCtx, symbol, timeframe, Options{Paginate: true, PerPage: perPage})
		results <- result{frame, err}
	}()

	var best Frame
	haveBest := false
collect:
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if r.err != nil || len(r.frame.Bars) == 0 {
				continue
			}
			if !haveBest || maxTimestamp(r.frame) > maxTimestamp(best) {
				best = r.frame
				haveBest = true
			}
		case <-raceCtx.Done():
			break collect
		}
	}
	cancel() // release the losing fetch's context immediately

	if !haveBest {
		return Frame{Partial: true}, raceCtx.Err()
	}
	return best, nil
}

func maxTimestamp(f Frame) int64 {
	var max int64
	for _, b := range f.Bars {
		if b.TimestampMs > max {
			max = b.TimestampMs
		}
	}
	return max
}
