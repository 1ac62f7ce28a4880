package backtest

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/rustyeddy/bullion/broker"
	"github.com/rustyeddy/bullion/journal"
)

// Result is a summary of a backtest run.
type Result struct {
	Start time.Time
	End   time.Time
	Bars  int

	StartBalance float64
	EndBalance   float64
	Equity       float64

	Trades int
	Wins   int
	Losses int

	NetPL        float64
	ReturnPct    float64
	WinRate      float64 // 0-1
	ProfitFactor float64
	MaxDDPct     float64

	OpenPositions int
	TickErrors    int
}

func (r *Result) summarize(trades []broker.ClosedTrade) {
	var gross, loss float64
	r.Trades = len(trades)
	for _, t := range trades {
		switch {
		case t.Profit > 0:
			r.Wins++
			gross += t.Profit
		case t.Profit < 0:
			r.Losses++
			loss -= t.Profit
		}
	}
	if r.Trades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.Trades)
	}
	switch {
	case loss > 0:
		r.ProfitFactor = gross / loss
	case gross > 0:
		r.ProfitFactor = math.Inf(1)
	}
	r.NetPL = r.EndBalance - r.StartBalance
	if r.StartBalance > 0 {
		r.ReturnPct = r.NetPL / r.StartBalance * 100
	}
}

// BacktestRun converts the result into a journal record.
func (r Result) BacktestRun(runID, instrument, dataset string, cfg []byte) journal.BacktestRun {
	pf := r.ProfitFactor
	if math.IsInf(pf, 1) {
		pf = 0
	}
	return journal.BacktestRun{
		RunID:        runID,
		Created:      time.Now().UTC(),
		Instrument:   instrument,
		Dataset:      dataset,
		Config:       cfg,
		Start:        r.Start,
		End:          r.End,
		Trades:       r.Trades,
		Wins:         r.Wins,
		Losses:       r.Losses,
		StartBalance: r.StartBalance,
		EndBalance:   r.EndBalance,
		NetPL:        r.NetPL,
		ReturnPct:    r.ReturnPct,
		WinRate:      r.WinRate,
		ProfitFactor: pf,
		MaxDDPct:     r.MaxDDPct,
	}
}

// PrintResult renders the run as a two-column table.
func PrintResult(w io.Writer, run journal.BacktestRun) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Backtest %s", run.RunID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Instrument", run.Instrument},
		{"Dataset", run.Dataset},
		{"Start", run.Start.Format(time.RFC3339)},
		{"End", run.End.Format(time.RFC3339)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Trades", run.Trades},
		{"Wins", run.Wins},
		{"Losses", run.Losses},
		{"Win Rate", fmt.Sprintf("%.2f%%", run.WinRate*100)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Start Balance", fmt.Sprintf("%.2f", run.StartBalance)},
		{"End Balance", fmt.Sprintf("%.2f", run.EndBalance)},
		{"Net P/L", fmt.Sprintf("%.2f", run.NetPL)},
		{"Return", fmt.Sprintf("%.2f%%", run.ReturnPct)},
		{"Profit Factor", fmt.Sprintf("%.2f", run.ProfitFactor)},
		{"Max Drawdown", fmt.Sprintf("%.2f%%", run.MaxDDPct)},
	})
	for _, n := range run.Notes {
		t.AppendFooter(table.Row{"Note", n})
	}
	t.Render()
}
