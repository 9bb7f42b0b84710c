package engine

import "fmt"

// Session is the live auction for one item. It exists from the moment the item
// becomes active until Resolve folds it into the ledger.
type Session struct {
	Item      string `cbor:"item"`
	Price     int64  `cbor:"price"`
	Leader    string `cbor:"leader,omitempty"`
	Remaining int    `cbor:"remaining"`
	Paused    bool   `cbor:"paused"`
	Bids      int    `cbor:"bids"`
	Resolved  bool   `cbor:"resolved"`
}

// Outcome is what a resolved session hands to the ledger.
type Outcome struct {
	Item  string
	Sold  bool
	Team  string
	Price int64
}

func NewSession(item Item, r Rules) Session {
	return Session{
		Item:      item.Name,
		Price:     OpeningPrice(item.BasePrice, r),
		Remaining: r.CountdownTicks,
	}
}

// Active reports whether the session accepts bids and countdown ticks.
func (s Session) Active() bool {
	return !s.Resolved && !s.Paused && s.Remaining > 0
}

// NextPrice is the price the next accepted bid would set.
func (s Session) NextPrice(r Rules) int64 { return s.Price + r.Increment }

// PlaceBid applies one ascending bid for t. On rejection the session is unchanged.
func (s *Session) PlaceBid(t Team, r Rules) error {
	if !s.Active() {
		return &RejectedBid{Team: t.Name, Reason: ReasonNotAccepting, Price: s.NextPrice(r), Budget: t.Budget}
	}
	if err := checkBid(*s, t, r); err != nil {
		return err
	}
	s.Price += r.Increment
	s.Leader = t.Name
	s.Bids++
	return nil
}

// Tick consumes one countdown unit and reports whether the countdown expired.
func (s *Session) Tick() bool {
	if !s.Active() {
		return false
	}
	s.Remaining--
	return s.Remaining == 0
}

// Resolve finalizes the session. It may be called exactly once.
func (s *Session) Resolve() (Outcome, error) {
	if s.Resolved {
		return Outcome{}, fmt.Errorf("%w: %q", ErrSessionResolved, s.Item)
	}
	s.Resolved = true
	if s.Leader == "" {
		return Outcome{Item: s.Item}, nil
	}
	return Outcome{Item: s.Item, Sold: true, Team: s.Leader, Price: s.Price}, nil
}

func (s Session) validate(item Item, l Ledger, r Rules) error {
	switch {
	case s.Item != item.Name:
		return fmt.Errorf("%w: session item %q is not the cursor item %q", ErrInvalidState, s.Item, item.Name)
	case s.Resolved:
		return fmt.Errorf("%w: persisted session is already resolved", ErrInvalidState)
	case s.Remaining <= 0 || s.Remaining > r.CountdownTicks:
		return fmt.Errorf("%w: session countdown %d out of range", ErrInvalidState, s.Remaining)
	case s.Bids < 0:
		return fmt.Errorf("%w: negative bid count", ErrInvalidState)
	}

	opening := OpeningPrice(item.BasePrice, r)
	if s.Price != opening+int64(s.Bids)*r.Increment {
		return fmt.Errorf("%w: session price %d does not follow from %d bids", ErrInvalidState, s.Price, s.Bids)
	}
	if (s.Leader == "") != (s.Bids == 0) {
		return fmt.Errorf("%w: session leader %q with %d bids", ErrInvalidState, s.Leader, s.Bids)
	}
	if s.Leader != "" {
		t, ok := l.Team(s.Leader)
		if !ok {
			return fmt.Errorf("%w: session leader %q", ErrUnknownTeam, s.Leader)
		}
		if t.Budget < s.Price {
			return fmt.Errorf("%w: leader %q cannot cover %d", ErrInvalidState, s.Leader, s.Price)
		}
	}
	return nil
}
