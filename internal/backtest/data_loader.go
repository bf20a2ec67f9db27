package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"tradecore/internal/exchange"
	"tradecore/internal/storage"

	"github.com/rs/zerolog/log"
)

// Bar is one OHLCV candle tagged with the symbol it belongs to, so a
// single DataLoader can replay several symbols in timestamp order.
type Bar struct {
	Symbol string
	exchange.Bar
}

func (b Bar) timestamp() time.Time {
	return time.UnixMilli(b.TimestampMs)
}

// DataLoader handles loading and serving historical bars to Engine.
type DataLoader struct {
	data      []Bar
	index     int
	StartTime time.Time
	EndTime   time.Time
}

// NewDataLoader creates a new data loader.
func NewDataLoader() *DataLoader {
	return &DataLoader{data: make([]Bar, 0)}
}

// LoadFromBoltDB loads bars for symbols/timeframe in [startTime, endTime]
// from the bar cache populated by internal/storage.
func (dl *DataLoader) LoadFromBoltDB(store *storage.Store, symbols []string, timeframe string, startTime, endTime time.Time) error {
	log.Info().
		Time("start", startTime).
		Time("end", endTime).
		Strs("symbols", symbols).
		Msg("loading bars from bbolt")

	for _, symbol := range symbols {
		bars, err := store.GetBars(symbol, timeframe, startTime, endTime)
		if err != nil {
			return fmt.Errorf("backtest: load bars for %s: %w", symbol, err)
		}
		for _, bar := range bars {
			dl.data = append(dl.data, Bar{Symbol: symbol, Bar: bar})
		}
	}

	dl.sortAndBound()
	log.Info().Int("total_bars", len(dl.data)).Time("data_start", dl.StartTime).
		Time("data_end", dl.EndTime).Msg("bars loaded from bbolt")
	return nil
}

// LoadFromCSV loads bars from a CSV file with columns
// timestamp,symbol,open,high,low,close,volume. timestamp is parsed as
// "2006-01-02 15:04:05".
func (dl *DataLoader) LoadFromCSV(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("backtest: open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("backtest: read CSV header: %w", err)
	}
	indices := make(map[string]int)
	for i, col := range header {
		indices[col] = i
	}

	for {
		record, err := reader.Read()
		if err != nil {
			break // EOF or malformed row
		}

		ts, err := time.Parse("2006-01-02 15:04:05", record[indices["timestamp"]])
		if err != nil {
			continue
		}
		open, err := strconv.ParseFloat(record[indices["open"]], 64)
		if err != nil {
			continue
		}
		high, _ := strconv.ParseFloat(record[indices["high"]], 64)
		low, _ := strconv.ParseFloat(record[indices["low"]], 64)
		closePrice, err := strconv.ParseFloat(record[indices["close"]], 64)
		if err != nil {
			continue
		}
		volume := 0.0
		if idx, ok := indices["volume"]; ok {
			volume, _ = strconv.ParseFloat(record[idx], 64)
		}

		dl.data = append(dl.data, Bar{
			Symbol: record[indices["symbol"]],
			Bar: exchange.Bar{
				TimestampMs: ts.UnixMilli(),
				Open:        open,
				High:        high,
				Low:         low,
				Close:       closePrice,
				Volume:      volume,
			},
		})
	}

	dl.sortAndBound()
	log.Info().Str("file", filePath).Int("total_bars", len(dl.data)).Msg("bars loaded from CSV")
	return nil
}

func (dl *DataLoader) sortAndBound() {
	sort.Slice(dl.data, func(i, j int) bool {
		return dl.data[i].timestamp().Before(dl.data[j].timestamp())
	})
	if len(dl.data) > 0 {
		dl.StartTime = dl.data[0].timestamp()
		dl.EndTime = dl.data[len(dl.data)-1].timestamp()
	}
}

// Reset rewinds the loader to the beginning.
func (dl *DataLoader) Reset() {
	dl.index = 0
}

// HasNext reports whether more bars remain.
func (dl *DataLoader) HasNext() bool {
	return dl.index < len(dl.data)
}

// Next returns the next bar in timestamp order.
func (dl *DataLoader) Next() Bar {
	if dl.index >= len(dl.data) {
		return Bar{}
	}
	bar := dl.data[dl.index]
	dl.index++
	return bar
}

// GetDataCount returns the total number of loaded bars.
func (dl *DataLoader) GetDataCount() int {
	return len(dl.data)
}

// GetProgress returns replay progress as a percentage.
func (dl *DataLoader) GetProgress() float64 {
	if len(dl.data) == 0 {
		return 100.0
	}
	return float64(dl.index) / float64(len(dl.data)) * 100.0
}
