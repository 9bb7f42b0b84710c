package engine

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	DefaultStartingBudget  int64 = 100000
	DefaultIncrement       int64 = 500
	DefaultMinOpeningPrice int64 = 2000
	DefaultCountdownTicks        = 30
	DefaultMaxSquadSize          = 25
	DefaultCurrency              = "₹"
)

func DefaultRules() Rules {
	return Rules{
		StartingBudget:  DefaultStartingBudget,
		Increment:       DefaultIncrement,
		MinOpeningPrice: DefaultMinOpeningPrice,
		CountdownTicks:  DefaultCountdownTicks,
		MaxSquadSize:    DefaultMaxSquadSize,
		Currency:        DefaultCurrency,
	}
}

func (r Rules) Validate() error {
	switch {
	case r.StartingBudget <= 0:
		return fmt.Errorf("%w: starting budget must be positive", ErrInvalidConfig)
	case r.Increment <= 0:
		return fmt.Errorf("%w: increment must be positive", ErrInvalidConfig)
	case r.MinOpeningPrice < 0:
		return fmt.Errorf("%w: minimum opening price must not be negative", ErrInvalidConfig)
	case r.CountdownTicks <= 0:
		return fmt.Errorf("%w: countdown must be positive", ErrInvalidConfig)
	case r.MaxSquadSize < 0:
		return fmt.Errorf("%w: squad size must not be negative", ErrInvalidConfig)
	}
	return nil
}

// NewState builds a fresh idle auction over items with every team on the
// starting budget.
func NewState(items []Item, teams []string, rules Rules) (State, error) {
	if err := rules.Validate(); err != nil {
		return State{}, err
	}
	if len(items) == 0 {
		return State{}, fmt.Errorf("%w: no items", ErrInvalidConfig)
	}
	if len(teams) == 0 {
		return State{}, fmt.Errorf("%w: no teams", ErrInvalidConfig)
	}

	clean := make([]Item, len(items))
	for i, it := range items {
		it.FinalPrice = 0
		it.PurchasedBy = ""
		clean[i] = it
	}

	s := State{
		Phase:  PhaseIdle,
		Cursor: 0,
		Ledger: NewLedger(clean, teams, rules.StartingBudget),
		Log:    []Event{},
		Rules:  rules,
	}
	if err := s.Validate(); err != nil {
		return State{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return s, nil
}

// OpeningPrice is the price a session starts at: the item's base price, raised
// to the configured floor when the base is below it.
func OpeningPrice(base int64, r Rules) int64 {
	if base < r.MinOpeningPrice {
		return r.MinOpeningPrice
	}
	return base
}

// FormatAmount renders an amount with digit grouping, e.g. "₹20,500".
func FormatAmount(currency string, amount int64) string {
	return currency + message.NewPrinter(language.English).Sprintf("%d", amount)
}
