package feed

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ulikunitz/xz/lzma"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/bullion/market"
)

// DukascopyBase is the public tick datafeed.
const DukascopyBase = "https://datafeed.dukascopy.com/datafeed"

// bi5 records are big-endian: ms offset, ask, bid, ask volume, bid volume.
const bi5RecordSize = 20

// dukascopyScales are the integer price divisors used by the datafeed.
var dukascopyScales = map[string]float64{
	"XAU_USD": 1_000,
	"EUR_USD": 100_000,
}

// DukascopySymbol maps an instrument name to the datafeed symbol, XAU_USD -> XAUUSD.
func DukascopySymbol(instrument string) string {
	return strings.ToUpper(strings.ReplaceAll(instrument, "_", ""))
}

// DukascopyScale is the price divisor for instrument.
func DukascopyScale(instrument string) (float64, error) {
	s, ok := dukascopyScales[instrument]
	if !ok {
		return 0, fmt.Errorf("feed: no dukascopy scale for %q", instrument)
	}
	return s, nil
}

// DukascopyURL is the tick file for the hour containing t. The datafeed
// numbers months from zero.
func DukascopyURL(base, symbol string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%02dh_ticks.bi5",
		strings.TrimRight(base, "/"), symbol,
		t.Year(), int(t.Month())-1, t.Day(), t.Hour())
}

// DukascopyPath is where the hour containing t is cached under dir.
// Months on disk are numbered from one.
func DukascopyPath(dir, symbol string, t time.Time) string {
	t = t.UTC()
	return filepath.Join(dir, symbol,
		fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", t.Month()), fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("%02dh_ticks.bi5", t.Hour()))
}

// DecodeBI5 decompresses one hour of ticks. An empty file is an hour
// without ticks.
func DecodeBI5(r io.Reader, instrument string, hour time.Time, scale float64) ([]market.Tick, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	lr, err := lzma.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("bi5: %w", err)
	}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, fmt.Errorf("bi5: %w", err)
	}
	if len(data)%bi5RecordSize != 0 {
		return nil, fmt.Errorf("bi5: %d bytes is not a whole number of records", len(data))
	}

	hour = hour.UTC().Truncate(time.Hour)
	ticks := make([]market.Tick, 0, len(data)/bi5RecordSize)
	for off := 0; off < len(data); off += bi5RecordSize {
		rec := data[off : off+bi5RecordSize]
		ms := binary.BigEndian.Uint32(rec[0:4])
		ask := float64(binary.BigEndian.Uint32(rec[4:8])) / scale
		bid := float64(binary.BigEndian.Uint32(rec[8:12])) / scale
		ticks = append(ticks, market.Tick{
			Instrument: instrument,
			Time:       hour.Add(time.Duration(ms) * time.Millisecond),
			Bid:        bid,
			Ask:        ask,
		})
	}
	return ticks, nil
}

// EncodeBI5 is the inverse of DecodeBI5. Volumes are written as zero.
func EncodeBI5(w io.Writer, hour time.Time, scale float64, ticks []market.Tick) error {
	lw, err := lzma.NewWriter(w)
	if err != nil {
		return err
	}
	hour = hour.UTC().Truncate(time.Hour)
	rec := make([]byte, bi5RecordSize)
	for _, t := range ticks {
		binary.BigEndian.PutUint32(rec[0:4], uint32(t.Time.Sub(hour)/time.Millisecond))
		binary.BigEndian.PutUint32(rec[4:8], uint32(math.Round(t.Ask*scale)))
		binary.BigEndian.PutUint32(rec[8:12], uint32(math.Round(t.Bid*scale)))
		binary.BigEndian.PutUint32(rec[12:16], math.Float32bits(0))
		binary.BigEndian.PutUint32(rec[16:20], math.Float32bits(0))
		if _, err := lw.Write(rec); err != nil {
			return err
		}
	}
	return lw.Close()
}

// bucket folds bid ticks into one candle per period.
type bucket struct {
	period time.Duration
	cur    market.Candle
	open   bool
}

// add folds t in and returns the previous candle when t starts a new period.
func (b *bucket) add(t market.Tick) (market.Candle, bool) {
	start := t.Time.UTC().Truncate(b.period)
	var done market.Candle
	emitted := false
	if b.open && !start.Equal(b.cur.Time) {
		done, emitted = b.cur, true
		b.open = false
	}
	if !b.open {
		b.cur = market.Candle{Time: start, Open: t.Bid, High: t.Bid, Low: t.Bid, Close: t.Bid, Volume: 1}
		b.open = true
		return done, emitted
	}
	b.cur.High = math.Max(b.cur.High, t.Bid)
	b.cur.Low = math.Min(b.cur.Low, t.Bid)
	b.cur.Close = t.Bid
	b.cur.Volume++
	return done, emitted
}

func (b *bucket) flush() (market.Candle, bool) {
	if !b.open {
		return market.Candle{}, false
	}
	b.open = false
	return b.cur, true
}

// AggregateTicks builds bid candles of the given period. Periods without
// ticks produce no candle.
func AggregateTicks(ticks []market.Tick, period time.Duration) []market.Candle {
	b := bucket{period: period}
	var out []market.Candle
	for _, t := range ticks {
		if c, ok := b.add(t); ok {
			out = append(out, c)
		}
	}
	if c, ok := b.flush(); ok {
		out = append(out, c)
	}
	return out
}

// DukascopyCandles reads cached hourly tick files and yields candles in
// time order. Missing hours are skipped.
type DukascopyCandles struct {
	dir        string
	instrument string
	symbol     string
	scale      float64
	from, to   time.Time
	hour       time.Time

	b     bucket
	queue []market.Candle
	done  bool
}

// OpenDukascopy reads [from, to) from the cache under dir. Period must
// divide a day.
func OpenDukascopy(dir, instrument string, from, to time.Time, period time.Duration) (*DukascopyCandles, error) {
	if from.IsZero() || to.IsZero() || !to.After(from) {
		return nil, errors.New("feed: dukascopy needs a from < to range")
	}
	if period <= 0 || (24*time.Hour)%period != 0 {
		return nil, fmt.Errorf("feed: period %s does not divide a day", period)
	}
	scale, err := DukascopyScale(instrument)
	if err != nil {
		return nil, err
	}
	return &DukascopyCandles{
		dir:        dir,
		instrument: instrument,
		symbol:     DukascopySymbol(instrument),
		scale:      scale,
		from:       from.UTC(),
		hour:       from.UTC().Truncate(time.Hour),
		to:         to.UTC(),
		b:          bucket{period: period},
	}, nil
}

func (d *DukascopyCandles) Close() error { return nil }

func (d *DukascopyCandles) Next() (market.Candle, bool, error) {
	for len(d.queue) == 0 {
		if d.done {
			return market.Candle{}, false, nil
		}
		if !d.hour.Before(d.to) {
			d.done = true
			if c, ok := d.b.flush(); ok {
				d.queue = append(d.queue, c)
			}
			continue
		}
		ticks, err := d.load(d.hour)
		if err != nil {
			return market.Candle{}, false, err
		}
		d.hour = d.hour.Add(time.Hour)
		for _, t := range ticks {
			if inRange(t.Time, d.from, d.to) {
				if c, ok := d.b.add(t); ok {
					d.queue = append(d.queue, c)
				}
			}
		}
	}
	c := d.queue[0]
	d.queue = d.queue[1:]
	return c, true, nil
}

func (d *DukascopyCandles) load(hour time.Time) ([]market.Tick, error) {
	f, err := os.Open(DukascopyPath(d.dir, d.symbol, hour))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ticks, err := DecodeBI5(f, d.instrument, hour, d.scale)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name(), err)
	}
	return ticks, nil
}

// Fetcher downloads tick files into a local cache.
type Fetcher struct {
	Client  *http.Client
	Base    string
	Limiter *rate.Limiter
}

// Fetch downloads the hour containing t unless it is already cached.
// It reports whether a file was written; a 404 is not an error.
func (f *Fetcher) Fetch(ctx context.Context, dir, symbol string, t time.Time) (bool, error) {
	dst := DukascopyPath(dir, symbol, t)
	if st, err := os.Stat(dst); err == nil && st.Size() > 0 {
		return false, nil
	}
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return false, err
		}
	}
	base := f.Base
	if base == "" {
		base = DukascopyBase
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, DukascopyURL(base, symbol, t), nil)
	if err != nil {
		return false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("GET %s: http status %d", req.URL, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}
	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return false, err
	}
	_, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	return true, nil
}
