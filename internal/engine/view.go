package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type TeamView struct {
	Name     string `json:"name"`
	Budget   int64  `json:"budget"`
	Acquired int    `json:"acquired"`
}

// View is the read-only projection the presentation layer renders.
type View struct {
	Phase      Phase      `json:"phase"`
	Item       *Item      `json:"item,omitempty"`
	Price      int64      `json:"current_price"`
	Leader     string     `json:"leader,omitempty"`
	Remaining  int        `json:"remaining"`
	Countdown  int        `json:"countdown"`
	Paused     bool       `json:"paused"`
	Teams      []TeamView `json:"teams"`
	Log        []string   `json:"log"`
	Version    uint64     `json:"version"`
	Generation uint64     `json:"generation"`
}

func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.state
	v := View{
		Phase:      s.Phase,
		Countdown:  s.Rules.CountdownTicks,
		Teams:      make([]TeamView, 0, len(s.Ledger.Teams)),
		Log:        logLines(s.Log),
		Version:    e.version,
		Generation: s.Generation,
	}
	if s.Cursor < len(s.Ledger.Items) {
		it := s.Ledger.Items[s.Cursor]
		v.Item = &it
		v.Price = OpeningPrice(it.BasePrice, s.Rules)
		v.Remaining = s.Rules.CountdownTicks
	}
	if s.Session != nil {
		v.Price = s.Session.Price
		v.Leader = s.Session.Leader
		v.Remaining = s.Session.Remaining
		v.Paused = s.Session.Paused
	}
	for _, t := range s.Ledger.Teams {
		v.Teams = append(v.Teams, TeamView{Name: t.Name, Budget: t.Budget, Acquired: len(t.Acquired)})
	}
	return v
}

// Log returns the event log as text lines, oldest first.
func (e *Engine) Log() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return logLines(e.state.Log)
}

func logLines(events []Event) []string {
	lines := make([]string, len(events))
	for i, ev := range events {
		lines[i] = ev.Line
	}
	return lines
}

type SoldItem struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Price int64  `json:"price"`
}

type TeamStats struct {
	Name   string     `json:"name"`
	Budget int64      `json:"budget"`
	Spent  int64      `json:"spent"`
	Bought int        `json:"bought"`
	Items  []SoldItem `json:"items"`
}

type Stats struct {
	Teams            []TeamStats     `json:"teams"`
	TotalSpent       int64           `json:"total_spent"`
	SoldCount        int             `json:"sold_count"`
	AverageSalePrice decimal.Decimal `json:"average_sale_price"`
	Currency         string          `json:"currency"`
}

// Stats summarises the auction. Overall totals come from the sale events in
// the log; per-team figures come from the ledger.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.state
	st := Stats{
		Teams:    make([]TeamStats, 0, len(s.Ledger.Teams)),
		Currency: s.Rules.Currency,
	}
	for _, t := range s.Ledger.Teams {
		ts := TeamStats{Name: t.Name, Budget: t.Budget, Spent: t.Spent(), Bought: len(t.Acquired), Items: []SoldItem{}}
		for _, name := range t.Acquired {
			it, _ := s.Ledger.Item(name)
			ts.Items = append(ts.Items, SoldItem{Name: it.Name, Role: it.Role, Price: it.FinalPrice})
		}
		st.Teams = append(st.Teams, ts)
	}
	for _, ev := range s.Log {
		if ev.Type == EvtItemSold {
			st.TotalSpent += ev.Price
			st.SoldCount++
		}
	}
	if st.SoldCount > 0 {
		st.AverageSalePrice = decimal.NewFromInt(st.TotalSpent).Div(decimal.NewFromInt(int64(st.SoldCount)))
	}
	return st
}

// Report renders the statistics as plain text.
func (st Stats) Report() string {
	var b strings.Builder
	b.WriteString("Auction Statistics\n\n")
	for _, t := range st.Teams {
		fmt.Fprintf(&b, "%s:\n", t.Name)
		fmt.Fprintf(&b, "Budget Remaining: %s\n", FormatAmount(st.Currency, t.Budget))
		fmt.Fprintf(&b, "Players Bought: %d\n", t.Bought)
		if len(t.Items) > 0 {
			b.WriteString("Players:\n")
			for _, it := range t.Items {
				fmt.Fprintf(&b, "- %s (%s) - %s\n", it.Name, it.Role, FormatAmount(st.Currency, it.Price))
			}
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nTotal Amount Spent: %s\n", FormatAmount(st.Currency, st.TotalSpent))
	if st.SoldCount > 0 {
		fmt.Fprintf(&b, "Average Player Cost: %s\n", FormatAmount(st.Currency, st.AverageSalePrice.Floor().IntPart()))
	}
	return b.String()
}
