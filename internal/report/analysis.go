// Package report analyzes a collected transactions corpus and renders the
// result as an HTML document and a terminal summary.
package report

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
)

// Field names read from transaction records.
const (
	FieldID     = "txId"
	FieldTime   = "txTime"
	FieldFrom   = "txFrom"
	FieldTo     = "txTo"
	FieldAmount = "amount"
	FieldFee    = "txFee"
	FieldMethod = "method"
)

// Ranking sizes.
const (
	TopWallets = 10
	TopMethods = 15
)

// weiExponent converts wei strings to XP.
const weiExponent = 18

// Transaction is one parsed transaction row. Amount and Fee are in XP.
type Transaction struct {
	ID      string
	Time    time.Time
	HasTime bool
	From    string
	To      string
	Method  string
	Amount  decimal.Decimal
	Fee     decimal.Decimal
	HasFee  bool
}

// ParseTransactions converts corpus records and drops rows without a
// parseable amount, sender or receiver. It returns the number dropped.
func ParseTransactions(records []collection.Record) ([]Transaction, int) {
	out := make([]Transaction, 0, len(records))
	dropped := 0
	for _, rec := range records {
		tx, ok := parseTransaction(rec)
		if !ok {
			dropped++
			continue
		}
		out = append(out, tx)
	}
	return out, dropped
}

func parseTransaction(rec collection.Record) (Transaction, bool) {
	tx := Transaction{
		ID:     strings.TrimSpace(rec.Text(FieldID)),
		From:   strings.TrimSpace(rec.Text(FieldFrom)),
		To:     strings.TrimSpace(rec.Text(FieldTo)),
		Method: strings.TrimSpace(rec.Text(FieldMethod)),
	}
	if tx.From == "" || tx.To == "" {
		return Transaction{}, false
	}

	amount, ok := parseWei(rec.Text(FieldAmount))
	if !ok {
		return Transaction{}, false
	}
	tx.Amount = amount
	tx.Fee, tx.HasFee = parseWei(rec.Text(FieldFee))
	tx.Time, tx.HasTime = parseUnix(rec.Text(FieldTime))
	return tx, true
}

func parseWei(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d.Shift(-weiExponent), true
}

func parseUnix(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(int64(f), 0).UTC(), true
}

// WalletRank is one entry of a wallet or method ranking.
type WalletRank struct {
	Key    string
	Count  int
	Amount decimal.Decimal
}

// DailyPoint aggregates the transactions of one UTC day.
type DailyPoint struct {
	Day    time.Time
	Volume decimal.Decimal
	Count  int
}

// Analysis is the aggregate view of a transactions corpus.
type Analysis struct {
	Corpus      string
	Records     int
	Dropped     int
	Valid       int
	TotalVolume decimal.Decimal
	TotalFees   decimal.Decimal

	TopSendersByCount    []WalletRank
	TopReceiversByCount  []WalletRank
	TopSendersByAmount   []WalletRank
	TopReceiversByAmount []WalletRank
	TopMethods           []WalletRank

	UniqueSenders   int
	UniqueReceivers int
	UniqueWallets   int

	// TopTwoSenderShare is the fraction of transactions sent by the two
	// most active senders.
	TopTwoSenderShare float64

	Daily []DailyPoint

	GeneratedAt time.Time
}

type tally struct {
	key   string
	count int
	sum   decimal.Decimal
}

type tallies struct {
	byKey map[string]*tally
	order []*tally
}

func newTallies() *tallies { return &tallies{byKey: make(map[string]*tally)} }

func (t *tallies) add(key string, amount decimal.Decimal) {
	e, ok := t.byKey[key]
	if !ok {
		e = &tally{key: key}
		t.byKey[key] = e
		t.order = append(t.order, e)
	}
	e.count++
	e.sum = e.sum.Add(amount)
}

func (t *tallies) len() int { return len(t.order) }

// top returns the n largest entries; ties keep first-appearance order.
func (t *tallies) top(n int, byAmount bool) []WalletRank {
	sorted := make([]*tally, len(t.order))
	copy(sorted, t.order)
	sort.SliceStable(sorted, func(i, j int) bool {
		if byAmount {
			return sorted[i].sum.GreaterThan(sorted[j].sum)
		}
		return sorted[i].count > sorted[j].count
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	out := make([]WalletRank, 0, len(sorted))
	for _, e := range sorted {
		out = append(out, WalletRank{Key: e.key, Count: e.count, Amount: e.sum})
	}
	return out
}

// Analyze aggregates txs. records is the size of the corpus before
// invalid rows were dropped.
func Analyze(corpus string, records int, txs []Transaction, now time.Time) Analysis {
	a := Analysis{
		Corpus:      corpus,
		Records:     records,
		Valid:       len(txs),
		Dropped:     records - len(txs),
		GeneratedAt: now,
	}

	senders, receivers, methods := newTallies(), newTallies(), newTallies()
	wallets := make(map[string]struct{})
	days := make(map[int64]*DailyPoint)

	for _, tx := range txs {
		a.TotalVolume = a.TotalVolume.Add(tx.Amount)
		if tx.HasFee {
			a.TotalFees = a.TotalFees.Add(tx.Fee)
		}
		senders.add(tx.From, tx.Amount)
		receivers.add(tx.To, tx.Amount)
		if tx.Method != "" {
			methods.add(tx.Method, tx.Amount)
		}
		wallets[tx.From] = struct{}{}
		wallets[tx.To] = struct{}{}

		if !tx.HasTime {
			continue
		}
		day := dayIndex(tx.Time)
		p, ok := days[day]
		if !ok {
			p = &DailyPoint{Day: dayStart(day)}
			days[day] = p
		}
		p.Volume = p.Volume.Add(tx.Amount)
		if tx.ID != "" {
			p.Count++
		}
	}

	a.TopSendersByCount = senders.top(TopWallets, false)
	a.TopReceiversByCount = receivers.top(TopWallets, false)
	a.TopSendersByAmount = senders.top(TopWallets, true)
	a.TopReceiversByAmount = receivers.top(TopWallets, true)
	a.TopMethods = methods.top(TopMethods, false)

	a.UniqueSenders = senders.len()
	a.UniqueReceivers = receivers.len()
	a.UniqueWallets = len(wallets)

	if len(txs) > 0 {
		topTwo := 0
		for _, r := range senders.top(2, false) {
			topTwo += r.Count
		}
		a.TopTwoSenderShare = float64(topTwo) / float64(len(txs))
	}

	a.Daily = dailySeries(days)
	return a
}

const secondsPerDay = 24 * 60 * 60

func dayIndex(t time.Time) int64 {
	secs := t.Unix()
	day := secs / secondsPerDay
	if secs < 0 && secs%secondsPerDay != 0 {
		day--
	}
	return day
}

func dayStart(day int64) time.Time { return time.Unix(day*secondsPerDay, 0).UTC() }

// dailySeries orders the days and fills the gaps between the first and the
// last day with empty points.
func dailySeries(days map[int64]*DailyPoint) []DailyPoint {
	if len(days) == 0 {
		return nil
	}
	first, last := int64(0), int64(0)
	started := false
	for d := range days {
		if !started || d < first {
			first = d
		}
		if !started || d > last {
			last = d
		}
		started = true
	}

	out := make([]DailyPoint, 0, last-first+1)
	for d := first; d <= last; d++ {
		if p, ok := days[d]; ok {
			out = append(out, *p)
			continue
		}
		out = append(out, DailyPoint{Day: dayStart(d)})
	}
	return out
}
