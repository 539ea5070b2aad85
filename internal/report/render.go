package report

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var reportTemplate = template.Must(
	template.New("report.html.tmpl").Funcs(template.FuncMap{
		"xp":    formatXP,
		"pct":   formatPercent,
		"count": formatCount,
		"date":  func(p DailyPoint) string { return p.Day.Format("2006-01-02") },
		"inc":   func(i int) int { return i + 1 },
		"ranking": func(header string, ranks []WalletRank) rankingView {
			return rankingView{Header: header, Ranks: ranks}
		},
	}).ParseFS(templateFS, "templates/report.html.tmpl"),
)

// Chart geometry in SVG user units.
const (
	chartWidth   = 900
	chartHeight  = 320
	chartPadding = 48
	maxXLabels   = 8
)

// AxisLabel is a date tick under the chart.
type AxisLabel struct {
	X    float64
	Text string
}

// Chart holds the precomputed polylines of the daily volume and count chart.
type Chart struct {
	Width, Height int
	Left, Right   int
	Top, Bottom   int
	VolumePoints  string
	CountPoints   string
	Labels        []AxisLabel
	MaxVolume     decimal.Decimal
	MaxCount      int
}

// BuildChart scales the daily series into the chart area. It returns nil
// when there is nothing to plot.
func BuildChart(daily []DailyPoint) *Chart {
	if len(daily) == 0 {
		return nil
	}

	c := &Chart{
		Width:  chartWidth,
		Height: chartHeight,
		Left:   chartPadding,
		Right:  chartWidth - chartPadding,
		Top:    chartPadding / 2,
		Bottom: chartHeight - chartPadding,
	}
	for _, p := range daily {
		if p.Volume.GreaterThan(c.MaxVolume) {
			c.MaxVolume = p.Volume
		}
		if p.Count > c.MaxCount {
			c.MaxCount = p.Count
		}
	}

	maxVolume := c.MaxVolume.InexactFloat64()
	span := float64(c.Right - c.Left)
	plotHeight := float64(c.Bottom - c.Top)

	x := func(i int) float64 {
		if len(daily) == 1 {
			return float64(c.Left) + span/2
		}
		return float64(c.Left) + span*float64(i)/float64(len(daily)-1)
	}
	y := func(v, max float64) float64 {
		if max <= 0 {
			return float64(c.Bottom)
		}
		return float64(c.Bottom) - plotHeight*v/max
	}

	volume := make([]string, 0, len(daily))
	count := make([]string, 0, len(daily))
	for i, p := range daily {
		xi := x(i)
		volume = append(volume, point(xi, y(p.Volume.InexactFloat64(), maxVolume)))
		count = append(count, point(xi, y(float64(p.Count), float64(c.MaxCount))))
	}
	c.VolumePoints = strings.Join(volume, " ")
	c.CountPoints = strings.Join(count, " ")

	step := 1
	if len(daily) > maxXLabels {
		step = (len(daily) + maxXLabels - 1) / maxXLabels
	}
	for i := 0; i < len(daily); i += step {
		c.Labels = append(c.Labels, AxisLabel{X: x(i), Text: daily[i].Day.Format("01-02")})
	}
	return c
}

func point(x, y float64) string {
	return strconv.FormatFloat(x, 'f', 1, 64) + "," + strconv.FormatFloat(y, 'f', 1, 64)
}

type rankingView struct {
	Header string
	Ranks  []WalletRank
}

type htmlView struct {
	Analysis
	Chart *Chart
}

// RenderHTML writes the analysis as a standalone HTML document.
func RenderHTML(w io.Writer, a Analysis) error {
	if err := reportTemplate.Execute(w, htmlView{Analysis: a, Chart: BuildChart(a.Daily)}); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

// WriteSummary prints the headline numbers and rankings as terminal tables.
func WriteSummary(w io.Writer, a Analysis) {
	overview := newTable(w, "Transactions "+a.Corpus)
	overview.AppendRows([]table.Row{
		{"Records in corpus", formatCount(a.Records)},
		{"Valid transactions", formatCount(a.Valid)},
		{"Dropped rows", formatCount(a.Dropped)},
		{"Total volume (XP)", formatXP(a.TotalVolume)},
		{"Total fees (XP)", formatXP(a.TotalFees)},
		{"Unique senders", formatCount(a.UniqueSenders)},
		{"Unique receivers", formatCount(a.UniqueReceivers)},
		{"Unique wallets", formatCount(a.UniqueWallets)},
		{"Top-2 sender share", formatPercent(a.TopTwoSenderShare)},
	})
	overview.Render()

	writeRanking(w, "Top senders by count", "Wallet", a.TopSendersByCount)
	writeRanking(w, "Top receivers by count", "Wallet", a.TopReceiversByCount)
	writeRanking(w, "Top senders by amount", "Wallet", a.TopSendersByAmount)
	writeRanking(w, "Top receivers by amount", "Wallet", a.TopReceiversByAmount)
	writeRanking(w, "Top methods", "Method", a.TopMethods)
}

func writeRanking(w io.Writer, title, keyHeader string, ranks []WalletRank) {
	if len(ranks) == 0 {
		return
	}
	t := newTable(w, title)
	t.AppendHeader(table.Row{"#", keyHeader, "Transactions", "Amount (XP)"})
	for i, r := range ranks {
		t.AppendRow(table.Row{i + 1, r.Key, formatCount(r.Count), formatXP(r.Amount)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	t.Render()
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	t.SetTitle(title)
	return t
}

func formatXP(d decimal.Decimal) string { return groupThousands(d.StringFixed(4)) }

func formatCount(n int) string { return groupThousands(strconv.Itoa(n)) }

func formatPercent(f float64) string { return strconv.FormatFloat(f*100, 'f', 1, 64) + "%" }

// groupThousands inserts commas into the integer part of a decimal string.
func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + frac
}
