package journal

import (
	"bytes"
	"os"
	"text/template"
	"time"
)

// BacktestRun mirrors the backtest_runs table plus the fields only the Org
// report uses.
type BacktestRun struct {
	RunID      string
	Created    time.Time
	Instrument string
	Dataset    string
	Config     []byte

	Start time.Time
	End   time.Time

	Trades int
	Wins   int
	Losses int

	StartBalance float64
	EndBalance   float64

	NetPL        float64
	ReturnPct    float64
	WinRate      float64
	ProfitFactor float64
	MaxDDPct     float64

	Rejections map[string]int
	Notes      []string
}

var backtestOrgFuncs = template.FuncMap{
	"mul100": func(x float64) float64 { return x * 100.0 },
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
}

var backtestOrg = template.Must(template.New("backtest").Funcs(backtestOrgFuncs).Parse(BacktestOrgTemplate))

// FormatOrg renders the run as an Org-mode section.
func (r *BacktestRun) FormatOrg() (string, error) {
	var buf bytes.Buffer
	if err := backtestOrg.Execute(&buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (r *BacktestRun) WriteOrg(path string) error {
	s, err := r.FormatOrg()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(s), 0o644)
}

const BacktestOrgTemplate = `* BACKTEST: {{.Instrument}}
:PROPERTIES:
:RUN_ID:      {{if .RunID}}{{.RunID}}{{else}}(run-id?){{end}}
:INSTRUMENT:  {{.Instrument}}
:DATASET:     {{if .Dataset}}{{.Dataset}}{{else}}(dataset?){{end}}
:START_DATE:  {{.Start.Format "2006-01-02"}}
:END_DATE:    {{.End.Format "2006-01-02"}}
:START_BAL:   {{printf "%.2f" .StartBalance}}
:END_BAL:     {{printf "%.2f" .EndBalance}}
:NET_PL:      {{printf "%.2f" .NetPL}}
:RETURN_PCT:  {{printf "%.2f" .ReturnPct}}
:MAX_DD_PCT:  {{printf "%.2f" .MaxDDPct}}
:TRADES:      {{.Trades}}
:WINS:        {{.Wins}}
:LOSSES:      {{.Losses}}
:WIN_RATE:    {{printf "%.2f" (mul100 .WinRate)}}
:PROFIT_FAC:  {{printf "%.2f" .ProfitFactor}}
:CREATED:     [{{(orTime .Created).Format "2006-01-02 Mon 15:04"}}]
:END:

** Performance Summary
- Net P/L:          *{{printf "%.2f" .NetPL}}*
- Return:           *{{printf "%.2f" .ReturnPct}}%*
- Max Drawdown:     *{{printf "%.2f" .MaxDDPct}}%*
- Win Rate:         *{{printf "%.2f" (mul100 .WinRate)}}%*
- Profit Factor:    *{{printf "%.2f" .ProfitFactor}}*

** Trade Distribution
| Outcome | Count |
|---------+-------|
| Wins    | {{.Wins}} |
| Losses  | {{.Losses}} |
| Total   | {{.Trades}} |
{{- if .Rejections }}

** Rejections
| Code | Count |
|------+-------|
{{- range $code, $n := .Rejections }}
| {{$code}} | {{$n}} |
{{- end }}
{{- end }}
{{- if .Config }}

** Configuration
#+begin_src yaml
{{printf "%s" .Config}}#+end_src
{{- end }}
{{- if .Notes }}

** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}
`
