package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/bullion/backtest"
	"github.com/rustyeddy/bullion/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query trade journal data",
	Long: `Query and display records from the SQLite trade journal.

Subcommands:
  trade    - Print one trade as an Org-mode block
  today    - List trades closed today
  day      - List trades closed on a specific day
  run      - List the trades of one backtest run

Examples:
  bullion journal trade 01HV6Z...
  bullion journal day 2024-01-15 --org
  bullion journal run 01HV6Y...`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Print details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today (UTC)",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day (UTC)",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalRunCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Show a backtest run and its trades",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalRun,
}

var (
	journalDBPath string
	journalOrg    bool
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalRunCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./bullion.sqlite", "path to SQLite journal DB")
	journalCmd.PersistentFlags().BoolVar(&journalOrg, "org", false, "print trades as Org-mode blocks instead of a table")
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	rec, err := j.GetTrade(args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradeOrg(rec))
	return nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	start, end := dayBounds(time.Now().UTC())
	return listClosedBetween(cmd.OutOrStdout(), start, end)
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	day, err := time.Parse("2006-01-02", args[0])
	if err != nil {
		return fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", args[0], err)
	}
	start, end := dayBounds(day)
	return listClosedBetween(cmd.OutOrStdout(), start, end)
}

func runJournalRun(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	out := cmd.OutOrStdout()
	run, err := j.GetBacktestRun(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	trades, err := j.ListTradesByRunID(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}
	if journalOrg {
		s, err := run.FormatOrg()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
		if len(trades) > 0 {
			fmt.Fprintln(out, journal.FormatTradesOrg(trades))
		}
		return nil
	}
	backtest.PrintResult(out, run)
	if len(trades) > 0 {
		printTrades(out, trades)
	}
	return nil
}

func listClosedBetween(w io.Writer, start, end time.Time) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	trades, err := j.ListTradesClosedBetween(start, end)
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}
	if len(trades) == 0 {
		fmt.Fprintf(w, "No trades closed between %s and %s\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
		return nil
	}
	if journalOrg {
		fmt.Fprintln(w, journal.FormatTradesOrg(trades))
		return nil
	}
	printTrades(w, trades)
	return nil
}

func printTrades(w io.Writer, trades []journal.TradeRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Trade", "Dir", "Pattern", "Q", "Lots", "Entry", "Exit", "Closed", "P/L", "Reason"})
	var net float64
	for _, tr := range trades {
		t.AppendRow(table.Row{
			tr.TradeID, tr.Direction, tr.Pattern, tr.Quality,
			fmt.Sprintf("%.2f", tr.Lots),
			fmt.Sprintf("%.2f", tr.EntryPrice),
			fmt.Sprintf("%.2f", tr.ExitPrice),
			tr.CloseTime.UTC().Format("2006-01-02 15:04"),
			fmt.Sprintf("%.2f", tr.RealizedPL),
			tr.Reason,
		})
		net += tr.RealizedPL
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d trades", len(trades)), "", "", "", "", "", "", "", fmt.Sprintf("%.2f", net), ""})
	t.Render()
}

// dayBounds returns [00:00, next 00:00) of t's UTC day.
func dayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
