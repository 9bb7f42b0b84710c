package engine

import (
	"fmt"

	"go.uber.org/multierr"
)

// Item is one player in the catalog. FinalPrice and PurchasedBy are written
// once, when the item is sold.
type Item struct {
	Name        string `yaml:"name" cbor:"name" json:"name"`
	Role        string `yaml:"role" cbor:"role" json:"role"`
	Nationality string `yaml:"nationality" cbor:"nationality" json:"nationality"`
	BasePrice   int64  `yaml:"base_price" cbor:"base_price" json:"base_price"`
	FinalPrice  int64  `yaml:"-" cbor:"final_price" json:"final_price,omitempty"`
	PurchasedBy string `yaml:"-" cbor:"purchased_by,omitempty" json:"purchased_by,omitempty"`
}

func (it Item) Sold() bool { return it.PurchasedBy != "" }

type Team struct {
	Name           string   `cbor:"name"`
	StartingBudget int64    `cbor:"starting_budget"`
	Budget         int64    `cbor:"budget"`
	Acquired       []string `cbor:"acquired"`
}

func (t Team) Spent() int64 { return t.StartingBudget - t.Budget }

// Ledger is the authoritative record of budgets and acquisitions. Resolved
// holds every item whose outcome (sold or unsold) has been decided.
type Ledger struct {
	Items    []Item          `cbor:"items"`
	Teams    []Team          `cbor:"teams"`
	Resolved map[string]bool `cbor:"resolved"`
}

func NewLedger(items []Item, teams []string, budget int64) Ledger {
	l := Ledger{
		Items:    make([]Item, len(items)),
		Teams:    make([]Team, 0, len(teams)),
		Resolved: map[string]bool{},
	}
	copy(l.Items, items)
	for _, name := range teams {
		l.Teams = append(l.Teams, Team{Name: name, StartingBudget: budget, Budget: budget, Acquired: []string{}})
	}
	return l
}

func (l Ledger) teamIndex(name string) (int, bool) {
	for i, t := range l.Teams {
		if t.Name == name {
			return i, true
		}
	}
	return -1, false
}

func (l Ledger) itemIndex(name string) (int, bool) {
	for i, it := range l.Items {
		if it.Name == name {
			return i, true
		}
	}
	return -1, false
}

func (l Ledger) Team(name string) (Team, bool) {
	i, ok := l.teamIndex(name)
	if !ok {
		return Team{}, false
	}
	return l.Teams[i], true
}

func (l Ledger) Item(name string) (Item, bool) {
	i, ok := l.itemIndex(name)
	if !ok {
		return Item{}, false
	}
	return l.Items[i], true
}

// Sell transfers price from team's budget into the item and records it as
// acquired. Nothing is mutated on error.
func (l *Ledger) Sell(item, team string, price int64) error {
	ii, ok := l.itemIndex(item)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownItem, item)
	}
	ti, ok := l.teamIndex(team)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTeam, team)
	}
	if l.Resolved[item] {
		return fmt.Errorf("%w: %q already resolved", ErrLedgerInconsistent, item)
	}
	if price <= 0 {
		return fmt.Errorf("%w: non-positive sale price %d", ErrLedgerInconsistent, price)
	}
	if l.Teams[ti].Budget < price {
		return fmt.Errorf("%w: %q cannot cover %d", ErrLedgerInconsistent, team, price)
	}

	l.Items[ii].FinalPrice = price
	l.Items[ii].PurchasedBy = team
	l.Teams[ti].Budget -= price
	l.Teams[ti].Acquired = append(l.Teams[ti].Acquired, item)
	l.Resolved[item] = true
	return nil
}

func (l *Ledger) MarkUnsold(item string) error {
	if _, ok := l.itemIndex(item); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownItem, item)
	}
	if l.Resolved[item] {
		return fmt.Errorf("%w: %q already resolved", ErrLedgerInconsistent, item)
	}
	l.Resolved[item] = true
	return nil
}

// NextPending returns the first unresolved item at or after from, wrapping
// around to the start of the catalog.
func (l Ledger) NextPending(from int) (int, bool) {
	n := len(l.Items)
	if from < 0 {
		from = 0
	}
	for k := 0; k < n; k++ {
		i := (from + k) % n
		if !l.Resolved[l.Items[i].Name] {
			return i, true
		}
	}
	return -1, false
}

// Reopen returns unsold items to the pending set and reports how many.
func (l *Ledger) Reopen() int {
	n := 0
	for _, it := range l.Items {
		if l.Resolved[it.Name] && !it.Sold() {
			delete(l.Resolved, it.Name)
			n++
		}
	}
	return n
}

func (l Ledger) Clone() Ledger {
	out := Ledger{
		Items:    append([]Item(nil), l.Items...),
		Teams:    make([]Team, len(l.Teams)),
		Resolved: make(map[string]bool, len(l.Resolved)),
	}
	for i, t := range l.Teams {
		t.Acquired = append([]string{}, t.Acquired...)
		out.Teams[i] = t
	}
	for k, v := range l.Resolved {
		if v {
			out.Resolved[k] = true
		}
	}
	return out
}

// Validate reports every broken ledger invariant at once.
func (l Ledger) Validate() error {
	var errs error
	fail := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf("%w: "+format, append([]any{ErrLedgerInconsistent}, args...)...))
	}

	items := make(map[string]Item, len(l.Items))
	for _, it := range l.Items {
		if it.Name == "" {
			fail("item with empty name")
			continue
		}
		if _, dup := items[it.Name]; dup {
			fail("duplicate item %q", it.Name)
		}
		items[it.Name] = it
		if it.BasePrice <= 0 {
			fail("item %q has non-positive base price", it.Name)
		}
		if it.Sold() != (it.FinalPrice > 0) {
			fail("item %q has final price %d but buyer %q", it.Name, it.FinalPrice, it.PurchasedBy)
		}
		if it.Sold() && !l.Resolved[it.Name] {
			fail("sold item %q is not resolved", it.Name)
		}
	}
	for name, ok := range l.Resolved {
		if _, known := items[name]; ok && !known {
			fail("resolved item %q is not in the catalog", name)
		}
	}

	owner := map[string]string{}
	seen := map[string]bool{}
	for _, t := range l.Teams {
		if seen[t.Name] {
			fail("duplicate team %q", t.Name)
		}
		seen[t.Name] = true
		if t.Budget < 0 {
			fail("team %q has negative budget %d", t.Name, t.Budget)
		}
		var spent int64
		for _, name := range t.Acquired {
			it, ok := items[name]
			if !ok {
				fail("team %q owns unknown item %q", t.Name, name)
				continue
			}
			if prev, dup := owner[name]; dup {
				fail("item %q owned by both %q and %q", name, prev, t.Name)
			}
			owner[name] = t.Name
			if it.PurchasedBy != t.Name {
				fail("item %q listed under %q but bought by %q", name, t.Name, it.PurchasedBy)
			}
			spent += it.FinalPrice
		}
		if t.Budget != t.StartingBudget-spent {
			fail("team %q budget %d != %d - %d", t.Name, t.Budget, t.StartingBudget, spent)
		}
	}
	for _, it := range l.Items {
		if it.Sold() && owner[it.Name] != it.PurchasedBy {
			fail("item %q bought by %q is missing from its squad", it.Name, it.PurchasedBy)
		}
	}
	return errs
}
