package cmd

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/bullion/feed"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Manage historical market data",
}

var dataFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download hourly Dukascopy tick files into a local cache",
	Long: `Download hourly tick files for an instrument. Files already in the cache are
skipped and hours the datafeed does not have (weekends) are ignored.

Example:
  bullion data fetch --instrument XAU_USD --from 2024-01-01 --to 2024-02-01 --out ./dukas
  bullion run --source dukascopy --candles ./dukas --from 2024-01-01 --to 2024-02-01`,
	Args: cobra.NoArgs,
	RunE: runDataFetch,
}

var (
	dataInstrument string
	dataFrom       string
	dataTo         string
	dataOut        string
	dataBase       string
	dataWorkers    int
	dataPerSecond  float64
	dataTimeout    time.Duration
)

func init() {
	rootCmd.AddCommand(dataCmd)
	dataCmd.AddCommand(dataFetchCmd)

	f := dataFetchCmd.Flags()
	f.StringVarP(&dataInstrument, "instrument", "i", "XAU_USD", "instrument to download")
	f.StringVar(&dataFrom, "from", "", "first hour, YYYY-MM-DD or RFC3339 (required)")
	f.StringVar(&dataTo, "to", "", "end hour, exclusive (required)")
	f.StringVarP(&dataOut, "out", "o", "./dukas", "cache directory")
	f.StringVar(&dataBase, "base", feed.DukascopyBase, "datafeed base URL")
	f.IntVar(&dataWorkers, "workers", 4, "parallel downloads")
	f.Float64Var(&dataPerSecond, "rate", 20, "max requests per second")
	f.DurationVar(&dataTimeout, "timeout", 45*time.Second, "HTTP timeout")
	_ = dataFetchCmd.MarkFlagRequired("from")
	_ = dataFetchCmd.MarkFlagRequired("to")
}

func runDataFetch(cmd *cobra.Command, args []string) error {
	from, err := parseBound(dataFrom)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := parseBound(dataTo)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	if !to.After(from) {
		return fmt.Errorf("--to must be after --from")
	}
	if _, err := feed.DukascopyScale(dataInstrument); err != nil {
		return err
	}
	if dataWorkers < 1 {
		dataWorkers = 1
	}

	symbol := feed.DukascopySymbol(dataInstrument)
	fetcher := &feed.Fetcher{
		Client:  &http.Client{Timeout: dataTimeout},
		Base:    dataBase,
		Limiter: rate.NewLimiter(rate.Limit(dataPerSecond), 1),
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	hours := make(chan time.Time)
	var (
		wg             sync.WaitGroup
		mu             sync.Mutex
		wrote, skipped int
		failed         []error
	)
	for i := 0; i < dataWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for h := range hours {
				ok, err := fetcher.Fetch(ctx, dataOut, symbol, h)
				mu.Lock()
				switch {
				case err != nil:
					failed = append(failed, err)
					fmt.Fprintf(out, "FAIL  %s  (%v)\n", h.Format("2006-01-02T15"), err)
				case ok:
					wrote++
				default:
					skipped++
				}
				mu.Unlock()
			}
		}()
	}

	start := from.UTC().Truncate(time.Hour)
	for h := start; h.Before(to); h = h.Add(time.Hour) {
		select {
		case hours <- h:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(hours)
	wg.Wait()

	fmt.Fprintf(out, "Done. %s: wrote=%d skipped=%d failed=%d\n", symbol, wrote, skipped, len(failed))
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d downloads failed: %w", len(failed), failed[0])
	}
	return nil
}
