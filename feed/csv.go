// Package feed replays historical candles as market snapshots. It stands in
// for the live market-data and indicator provider in backtests.
package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/bullion/market"
)

// CSVCandles reads candle CSV rows:
//
//	time,open,high,low,close[,volume]
//
// where time is RFC3339 or RFC3339Nano. A header row ("time,...") is
// allowed, empty or short rows are skipped, and rows outside [From, To) are
// filtered out when the bounds are set.
type CSVCandles struct {
	c    io.Closer
	r    *csv.Reader
	from time.Time
	to   time.Time

	sawFirst bool
}

func OpenCSV(path string, from, to time.Time) (*CSVCandles, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewCSV(f, from, to), nil
}

// NewCSV reads from r. r is closed by Close when it is an io.Closer.
func NewCSV(r io.Reader, from, to time.Time) *CSVCandles {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	f := &CSVCandles{r: cr, from: from, to: to}
	if c, ok := r.(io.Closer); ok {
		f.c = c
	}
	return f
}

func (f *CSVCandles) Close() error {
	if f.c != nil {
		return f.c.Close()
	}
	return nil
}

// Next returns the next candle, or ok=false at EOF.
func (f *CSVCandles) Next() (market.Candle, bool, error) {
	for {
		row, err := f.r.Read()
		if err == io.EOF {
			return market.Candle{}, false, nil
		}
		if err != nil {
			return market.Candle{}, false, err
		}
		if len(row) == 0 {
			continue
		}

		if !f.sawFirst {
			f.sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}

		c, ok, err := parseCandleRow(row)
		if err != nil {
			return market.Candle{}, false, err
		}
		if !ok || !inRange(c.Time, f.from, f.to) {
			continue
		}
		return c, true, nil
	}
}

// ReadAll drains the feed.
func (f *CSVCandles) ReadAll() ([]market.Candle, error) {
	var out []market.Candle
	for {
		c, ok, err := f.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, c)
	}
}

func parseCandleRow(row []string) (market.Candle, bool, error) {
	if len(row) < 5 {
		return market.Candle{}, false, nil
	}

	ts := strings.TrimSpace(row[0])
	if ts == "" {
		return market.Candle{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339Nano, ts)
		if err2 != nil {
			return market.Candle{}, false, fmt.Errorf("bad time %q: %w", ts, err)
		}
		t = t2
	}

	var v [4]float64
	for i, name := range []string{"open", "high", "low", "close"} {
		x, err := strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
		if err != nil {
			return market.Candle{}, false, fmt.Errorf("bad %s %q: %w", name, row[i+1], err)
		}
		v[i] = x
	}

	c := market.Candle{Time: t, Open: v[0], High: v[1], Low: v[2], Close: v[3]}
	if len(row) > 5 && strings.TrimSpace(row[5]) != "" {
		vol, err := strconv.ParseFloat(strings.TrimSpace(row[5]), 64)
		if err != nil {
			return market.Candle{}, false, fmt.Errorf("bad volume %q: %w", row[5], err)
		}
		c.Volume = vol
	}
	if !c.Valid() {
		return market.Candle{}, false, fmt.Errorf("inconsistent candle at %s", ts)
	}
	return c, true, nil
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
