package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrInvalidState = errors.New("invalid engine state")
var ErrNoSession = fmt.Errorf("%w: no active session", ErrInvalidState)
var ErrSessionResolved = fmt.Errorf("%w: session already resolved", ErrInvalidState)
var ErrAuctionComplete = fmt.Errorf("%w: auction complete", ErrInvalidState)
var ErrInvalidTransition = fmt.Errorf("%w: invalid transition", ErrInvalidState)
var ErrLedgerInconsistent = fmt.Errorf("%w: ledger inconsistent", ErrInvalidState)
var ErrUnknownTeam = errors.New("unknown team")
var ErrUnknownItem = errors.New("unknown item")
var ErrInvalidConfig = errors.New("invalid auction configuration")

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhasePaused    Phase = "paused"
	PhaseResolving Phase = "resolving"
	PhaseComplete  Phase = "complete"
)

type EventType string

const (
	EvtBidPlaced       EventType = "BidPlaced"
	EvtItemSold        EventType = "ItemSold"
	EvtItemUnsold      EventType = "ItemUnsold"
	EvtCycleRestarted  EventType = "CycleRestarted"
	EvtAuctionComplete EventType = "AuctionComplete"
)

/*
	SubmitBid / SyntheticBid -> EvtBidPlaced
	Tick (countdown hits 0)  -> EvtItemSold | EvtItemUnsold -> next session, or EvtAuctionComplete
	SkipToNext               -> same as a countdown expiry, at any time
	WrapOnComplete           -> EvtCycleRestarted before the cursor wraps
*/

type Event struct {
	Seq   uint64    `cbor:"seq" json:"seq"`
	Type  EventType `cbor:"type" json:"type"`
	Item  string    `cbor:"item,omitempty" json:"item,omitempty"`
	Team  string    `cbor:"team,omitempty" json:"team,omitempty"`
	Price int64     `cbor:"price,omitempty" json:"price,omitempty"`
	At    time.Time `cbor:"at" json:"at"`
	Line  string    `cbor:"line" json:"line"`
}

type Rules struct {
	StartingBudget  int64  `yaml:"starting_budget" cbor:"starting_budget"`
	Increment       int64  `yaml:"increment" cbor:"increment"`
	MinOpeningPrice int64  `yaml:"min_opening_price" cbor:"min_opening_price"`
	CountdownTicks  int    `yaml:"countdown_ticks" cbor:"countdown_ticks"`
	MaxSquadSize    int    `yaml:"max_squad_size" cbor:"max_squad_size"`
	WrapOnComplete  bool   `yaml:"wrap_on_complete" cbor:"wrap_on_complete"`
	Currency        string `yaml:"currency" cbor:"currency"`
}

// State is everything the engine owns. It is a plain value so the snapshot
// codec can persist it and tests can build one by hand.
type State struct {
	Phase      Phase    `cbor:"phase"`
	Cursor     int      `cbor:"cursor"`
	Ledger     Ledger   `cbor:"ledger"`
	Session    *Session `cbor:"session,omitempty"`
	Log        []Event  `cbor:"log"`
	Rules      Rules    `cbor:"rules"`
	Generation uint64   `cbor:"generation"`
}

// Engine is the auction controller. Every exported method takes the same lock,
// so ticks, synthetic bids, user bids and snapshot reads never interleave.
type Engine struct {
	mu      sync.Mutex
	state   State
	initial State
	version uint64
	bidder  *SyntheticBidder
	clock   clockwork.Clock
	logger  *zap.Logger
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithBidder installs the synthetic bidder. A nil bidder disables it.
func WithBidder(b *SyntheticBidder) Option {
	return func(e *Engine) { e.bidder = b }
}

func New(initial State, opts ...Option) (*Engine, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		state:   initial.Clone(),
		initial: initial.Clone(),
		clock:   clockwork.NewRealClock(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start begins the countdown for the current item, opening a session at the
// item's opening price if none exists. A paused engine is resumed.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state.Phase {
	case PhaseRunning:
		return nil
	case PhasePaused:
		return e.resumeLocked()
	case PhaseComplete:
		return ErrAuctionComplete
	case PhaseIdle:
		if e.state.Session == nil {
			e.openSessionLocked(false)
		}
		e.state.Session.Paused = false
		e.state.Phase = PhaseRunning
		e.bump()
		e.logger.Info("auction started",
			zap.String("item", e.state.Session.Item),
			zap.Int64("price", e.state.Session.Price))
		return nil
	default:
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, e.state.Phase)
	}
}

func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseRunning {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, e.state.Phase)
	}
	e.state.Session.Paused = true
	e.state.Phase = PhasePaused
	e.bump()
	e.logger.Info("auction paused", zap.Int("remaining", e.state.Session.Remaining))
	return nil
}

func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resumeLocked()
}

func (e *Engine) resumeLocked() error {
	if e.state.Phase != PhasePaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, e.state.Phase)
	}
	e.state.Session.Paused = false
	e.state.Phase = PhaseRunning
	e.bump()
	e.logger.Info("auction resumed", zap.Int("remaining", e.state.Session.Remaining))
	return nil
}

// SubmitBid raises the current price by one increment on behalf of team.
// Rejections come back as *RejectedBid and leave the state untouched.
func (e *Engine) SubmitBid(team string) (Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.placeBidLocked(team)
}

func (e *Engine) placeBidLocked(team string) (Event, error) {
	if e.state.Phase != PhaseRunning && e.state.Phase != PhasePaused {
		return Event{}, ErrNoSession
	}
	s := e.state.Session
	idx, ok := e.state.Ledger.teamIndex(team)
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownTeam, team)
	}

	if err := s.PlaceBid(e.state.Ledger.Teams[idx], e.state.Rules); err != nil {
		e.logger.Warn("bid rejected", zap.String("team", team), zap.Error(err))
		return Event{}, err
	}

	ev := e.appendLocked(Event{
		Type:  EvtBidPlaced,
		Item:  s.Item,
		Team:  team,
		Price: s.Price,
		Line:  fmt.Sprintf("%s bids %s", team, FormatAmount(e.state.Rules.Currency, s.Price)),
	})
	e.bump()
	e.logger.Debug("bid accepted", zap.String("team", team), zap.Int64("price", s.Price))
	return ev, nil
}

// Tick advances the countdown by one unit. It reports whether anything changed;
// ticks outside the running phase are no-ops.
func (e *Engine) Tick() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseRunning {
		return false, nil
	}
	expired := e.state.Session.Tick()
	e.bump()
	if expired {
		return true, e.resolveLocked(PhaseRunning)
	}
	return true, nil
}

// SyntheticBid lets the synthetic bidder try one draw. The chosen team goes
// through the same placement path as a user bid.
func (e *Engine) SyntheticBid() (Event, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseRunning || e.bidder == nil {
		return Event{}, false, nil
	}
	team, ok := e.bidder.Choose(e.state.Ledger.Teams, *e.state.Session, e.state.Rules)
	if !ok {
		return Event{}, false, nil
	}
	ev, err := e.placeBidLocked(team)
	if err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

// SkipToNext force-resolves the current item as if its countdown had expired.
// From idle the current item is passed as unsold and the engine stays idle.
func (e *Engine) SkipToNext() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state.Phase {
	case PhaseComplete:
		return ErrAuctionComplete
	case PhaseIdle:
		if e.state.Session == nil {
			e.openSessionLocked(false)
		}
		return e.resolveLocked(PhaseIdle)
	case PhaseRunning, PhasePaused:
		return e.resolveLocked(e.state.Phase)
	default:
		return fmt.Errorf("%w: skip from %s", ErrInvalidTransition, e.state.Phase)
	}
}

// Reset rebuilds the engine from the state it was constructed with.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	gen := e.state.Generation
	e.state = e.initial.Clone()
	e.state.Generation = gen + 1
	e.bump()
	e.logger.Info("auction reset")
	return nil
}

// Snapshot returns a deep copy of the engine state for persistence.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Restore replaces the engine state. The candidate is validated in full first;
// on error nothing is changed.
func (e *Engine) Restore(st State) error {
	if err := st.Validate(); err != nil {
		return err
	}
	next := st.Clone()

	e.mu.Lock()
	defer e.mu.Unlock()
	next.Generation = max(e.state.Generation, st.Generation) + 1
	e.state = next
	e.bump()
	e.logger.Info("auction restored",
		zap.String("phase", string(next.Phase)),
		zap.Int("cursor", next.Cursor),
		zap.Int("events", len(next.Log)))
	return nil
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Phase
}

// Version increments on every mutation.
func (e *Engine) Version() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// Generation identifies the current session. It changes whenever a session is
// opened or the state is replaced, which is when clock timers must be re-armed.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Generation
}

// Events returns the log entries with Seq greater than after.
func (e *Engine) Events(after uint64) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Event
	for _, ev := range e.state.Log {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out
}

func (e *Engine) resolveLocked(next Phase) error {
	s := e.state.Session
	if s == nil {
		return ErrNoSession
	}
	prev := e.state.Phase
	e.state.Phase = PhaseResolving

	out, err := s.Resolve()
	if err != nil {
		e.state.Phase = prev
		e.logger.Error("resolve failed", zap.String("item", s.Item), zap.Error(err))
		return err
	}

	if out.Sold {
		if err := e.state.Ledger.Sell(out.Item, out.Team, out.Price); err != nil {
			e.state.Phase = prev
			e.logger.Error("sale could not be applied", zap.String("item", out.Item), zap.Error(err))
			return fmt.Errorf("%w: %w", ErrInvalidState, err)
		}
		e.appendLocked(Event{
			Type:  EvtItemSold,
			Item:  out.Item,
			Team:  out.Team,
			Price: out.Price,
			Line:  fmt.Sprintf("%s sold to %s for %s", out.Item, out.Team, FormatAmount(e.state.Rules.Currency, out.Price)),
		})
		e.logger.Info("item sold", zap.String("item", out.Item), zap.String("team", out.Team), zap.Int64("price", out.Price))
	} else {
		if err := e.state.Ledger.MarkUnsold(out.Item); err != nil {
			e.state.Phase = prev
			return fmt.Errorf("%w: %w", ErrInvalidState, err)
		}
		e.appendLocked(Event{
			Type: EvtItemUnsold,
			Item: out.Item,
			Line: fmt.Sprintf("%s went unsold", out.Item),
		})
		e.logger.Info("item unsold", zap.String("item", out.Item))
	}

	e.state.Session = nil
	e.advanceLocked(next)
	e.bump()
	return nil
}

func (e *Engine) advanceLocked(next Phase) {
	l := &e.state.Ledger
	idx, ok := l.NextPending(e.state.Cursor + 1)
	if !ok && e.state.Rules.WrapOnComplete {
		if n := l.Reopen(); n > 0 {
			e.appendLocked(Event{Type: EvtCycleRestarted, Line: "Auction cycle restarted"})
			e.logger.Info("auction cycle restarted", zap.Int("reopened", n))
		}
		idx, ok = l.NextPending(0)
	}
	if !ok {
		e.state.Cursor = len(l.Items)
		e.state.Phase = PhaseComplete
		e.appendLocked(Event{Type: EvtAuctionComplete, Line: "Auction complete"})
		e.logger.Info("auction complete")
		return
	}

	e.state.Cursor = idx
	if next == PhaseIdle {
		e.state.Phase = PhaseIdle
		return
	}
	e.openSessionLocked(next == PhasePaused)
	e.state.Phase = next
}

func (e *Engine) openSessionLocked(paused bool) {
	s := NewSession(e.state.Ledger.Items[e.state.Cursor], e.state.Rules)
	s.Paused = paused
	e.state.Session = &s
	e.state.Generation++
}

func (e *Engine) appendLocked(ev Event) Event {
	var seq uint64 = 1
	if n := len(e.state.Log); n > 0 {
		seq = e.state.Log[n-1].Seq + 1
	}
	ev.Seq = seq
	ev.At = e.clock.Now().UTC()
	e.state.Log = append(e.state.Log, ev)
	return ev
}

func (e *Engine) bump() { e.version++ }

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Ledger = s.Ledger.Clone()
	if s.Session != nil {
		sess := *s.Session
		out.Session = &sess
	}
	out.Log = append([]Event(nil), s.Log...)
	return out
}

// Validate checks every invariant a reachable state satisfies.
func (s State) Validate() error {
	if err := s.Rules.Validate(); err != nil {
		return err
	}
	if err := s.Ledger.Validate(); err != nil {
		return err
	}
	n := len(s.Ledger.Items)
	if s.Cursor < 0 || s.Cursor > n {
		return fmt.Errorf("%w: cursor %d out of range", ErrInvalidState, s.Cursor)
	}
	if s.Cursor < n && s.Ledger.Resolved[s.Ledger.Items[s.Cursor].Name] {
		return fmt.Errorf("%w: cursor points at resolved item %q", ErrInvalidState, s.Ledger.Items[s.Cursor].Name)
	}

	switch s.Phase {
	case PhaseIdle:
	case PhaseRunning, PhasePaused:
		if s.Session == nil {
			return fmt.Errorf("%w: %s without a session", ErrInvalidState, s.Phase)
		}
		if s.Session.Paused != (s.Phase == PhasePaused) {
			return fmt.Errorf("%w: session paused flag disagrees with phase %s", ErrInvalidState, s.Phase)
		}
	case PhaseComplete:
		if s.Session != nil || s.Cursor != n {
			return fmt.Errorf("%w: complete with pending session or cursor", ErrInvalidState)
		}
		if _, ok := s.Ledger.NextPending(0); ok {
			return fmt.Errorf("%w: complete with pending items", ErrInvalidState)
		}
	default:
		return fmt.Errorf("%w: phase %q", ErrInvalidState, s.Phase)
	}

	if s.Session != nil {
		if s.Cursor >= n {
			return fmt.Errorf("%w: session past the end of the catalog", ErrInvalidState)
		}
		if err := s.Session.validate(s.Ledger.Items[s.Cursor], s.Ledger, s.Rules); err != nil {
			return err
		}
	}

	var last uint64
	for _, ev := range s.Log {
		if ev.Seq <= last {
			return fmt.Errorf("%w: log sequence not increasing at %d", ErrInvalidState, ev.Seq)
		}
		last = ev.Seq
	}
	return nil
}
