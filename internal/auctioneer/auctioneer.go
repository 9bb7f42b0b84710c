package auctioneer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/ipl-auction-backend/internal/engine"
	"github.com/DoyleJ11/ipl-auction-backend/internal/snapshot"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("auctioneer closed")
var ErrNoSnapshotPath = errors.New("no snapshot path configured")
var ErrUnknownOp = errors.New("unknown command")

const (
	DefaultTickInterval   = time.Second
	DefaultSyntheticEvery = 2
	sinkTimeout           = 2 * time.Second
	minTimerDelay         = time.Millisecond
)

type Msg interface{ isAuctioneerMsg() }

type Op string

const (
	OpStart  Op = "start"
	OpPause  Op = "pause"
	OpResume Op = "resume"
	OpBid    Op = "bid"
	OpSkip   Op = "skip"
	OpReset  Op = "reset"
	OpSave   Op = "save"
	OpLoad   Op = "load"
)

// Command runs one engine operation inside the loop. Reply must be buffered.
type Command struct {
	Op    Op
	Team  string // OpBid
	Path  string // OpSave, OpLoad; a name inside the snapshot dir, empty means the configured name
	Reply chan Result
}

func (Command) isAuctioneerMsg() {}

type Result struct {
	Event engine.Event
	Meta  snapshot.Meta
	Err   error
}

type Subscribe struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Subscribe) isAuctioneerMsg() {}

type Unsubscribe struct{ ClientID string }

func (Unsubscribe) isAuctioneerMsg() {}

type GetView struct {
	Reply chan View
}

func (GetView) isAuctioneerMsg() {}

type GetStats struct {
	Reply chan engine.Stats
}

func (GetStats) isAuctioneerMsg() {}

type Shutdown struct{}

func (Shutdown) isAuctioneerMsg() {}

type tickKind int

const (
	tickCountdown tickKind = iota
	tickSynthetic
)

// tick is posted by the timer forwarder. seq identifies the arming it came
// from; anything but the current arming is dropped. at is the fire time.
type tick struct {
	kind tickKind
	seq  uint64
	at   time.Time
}

func (tick) isAuctioneerMsg() {}

type Snapshot struct {
	Version uint64
	State   engine.View
}

type View struct {
	Version    uint64
	NumClients int
	ArmedSeq   uint64 // zero when no timers run
	State      engine.View
}

// Sink receives every new log event in order, e.g. a message bus mirror.
type Sink interface {
	Publish(ctx context.Context, ev engine.Event) error
}

type Config struct {
	TickInterval time.Duration
	// SyntheticEvery is the synthetic bid interval in countdown ticks; 0 disables it.
	SyntheticEvery int
	// Snapshots are read and written only inside SnapshotDir. SnapshotName is
	// used when a command names no file.
	SnapshotDir  string
	SnapshotName string
	Codec        *snapshot.Codec
	Clock        clockwork.Clock
	Logger       *zap.Logger
	Sinks        []Sink
}

// arming is one set of running timers. The last* fields mark where the
// current interval of each timer began.
type arming struct {
	seq           uint64
	gen           uint64
	countdown     clockwork.Timer
	synthetic     clockwork.Timer
	lastCountdown time.Time
	lastSynthetic time.Time
	stop          chan struct{}
}

// progress is the part of each interval already run when timers were
// stopped. It carries over only to a re-arm of the same session.
type progress struct {
	gen       uint64
	countdown time.Duration
	synthetic time.Duration
}

type Auctioneer struct {
	id        string
	inbox     chan Msg
	eng       *engine.Engine
	codec     *snapshot.Codec
	clock     clockwork.Clock
	logger    *zap.Logger
	sinks     []Sink
	interval  time.Duration
	synthetic int
	dir       string
	name      string

	clients   map[string]chan Snapshot
	version   uint64 // last broadcast engine version
	published uint64 // last event seq handed to sinks
	armed     *arming
	armSeq    uint64
	carry     *progress

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, eng *engine.Engine, cfg Config) *Auctioneer {
	ctx, cancel := context.WithCancel(parent)
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.SyntheticEvery < 0 {
		cfg.SyntheticEvery = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Codec == nil {
		cfg.Codec = snapshot.NewCodec(cfg.Clock)
	}

	id := uuid.NewString()
	a := &Auctioneer{
		id:        id,
		inbox:     make(chan Msg, 64),
		eng:       eng,
		codec:     cfg.Codec,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With(zap.String("auctioneer", id)),
		sinks:     cfg.Sinks,
		interval:  cfg.TickInterval,
		synthetic: cfg.SyntheticEvery,
		dir:       cfg.SnapshotDir,
		name:      cfg.SnapshotName,
		clients:   make(map[string]chan Snapshot),
		version:   eng.Version(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if evs := eng.Events(0); len(evs) > 0 {
		a.published = evs[len(evs)-1].Seq
	}

	go a.loop()
	return a
}

func (a *Auctioneer) ID() string { return a.id }

// Inbox exposes the message channel for tests and transports.
func (a *Auctioneer) Inbox() chan<- Msg { return a.inbox }

// Done is closed once the loop has exited.
func (a *Auctioneer) Done() <-chan struct{} { return a.done }

func (a *Auctioneer) loop() {
	defer close(a.done)
	a.sync()
	for {
		select {
		case <-a.ctx.Done():
			a.shutdown()
			return

		case m := <-a.inbox:
			switch msg := m.(type) {
			case Command:
				res := a.apply(msg)
				if msg.Reply != nil {
					msg.Reply <- res
				}

			case Subscribe:
				if old, ok := a.clients[msg.ClientID]; ok && old != msg.Outbox {
					close(old)
				}
				a.clients[msg.ClientID] = msg.Outbox
				select {
				case msg.Outbox <- a.current():
				default:
				}

			case Unsubscribe:
				if ch, ok := a.clients[msg.ClientID]; ok {
					close(ch)
					delete(a.clients, msg.ClientID)
				}

			case GetView:
				v := View{Version: a.eng.Version(), NumClients: len(a.clients), State: a.eng.View()}
				if a.armed != nil {
					v.ArmedSeq = a.armed.seq
				}
				msg.Reply <- v

			case GetStats:
				msg.Reply <- a.eng.Stats()

			case tick:
				a.onTick(msg)

			case Shutdown:
				a.shutdown()
				return
			}
			a.sync()
		}
	}
}

func (a *Auctioneer) apply(cmd Command) Result {
	var res Result
	switch cmd.Op {
	case OpStart:
		res.Err = a.eng.Start()
	case OpPause:
		res.Err = a.eng.Pause()
	case OpResume:
		res.Err = a.eng.Resume()
	case OpBid:
		res.Event, res.Err = a.eng.SubmitBid(cmd.Team)
	case OpSkip:
		res.Err = a.eng.SkipToNext()
	case OpReset:
		if res.Err = a.eng.Reset(); res.Err == nil {
			a.published = 0
		}
	case OpSave:
		res.Meta, res.Err = a.save(cmd.Path)
	case OpLoad:
		res.Meta, res.Err = a.load(cmd.Path)
	default:
		res.Err = fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)
	}
	return res
}

func (a *Auctioneer) resolvePath(name string) (string, error) {
	if name == "" {
		name = a.name
	}
	if name == "" {
		return "", ErrNoSnapshotPath
	}
	return snapshot.ResolvePath(a.dir, name)
}

func (a *Auctioneer) save(path string) (snapshot.Meta, error) {
	p, err := a.resolvePath(path)
	if err != nil {
		return snapshot.Meta{}, err
	}
	meta, err := a.codec.Save(p, a.eng.Snapshot())
	if err != nil {
		a.logger.Error("snapshot save failed", zap.String("path", p), zap.Error(err))
		return snapshot.Meta{}, err
	}
	a.logger.Info("snapshot saved", zap.String("path", p), zap.String("snapshot", meta.ID))
	return meta, nil
}

// load replaces the engine state only when the file decodes and validates.
func (a *Auctioneer) load(path string) (snapshot.Meta, error) {
	p, err := a.resolvePath(path)
	if err != nil {
		return snapshot.Meta{}, err
	}
	st, meta, err := a.codec.Load(p)
	if err != nil {
		a.logger.Error("snapshot load failed", zap.String("path", p), zap.Error(err))
		return snapshot.Meta{}, err
	}
	if err := a.eng.Restore(st); err != nil {
		a.logger.Error("snapshot restore failed", zap.String("path", p), zap.Error(err))
		return snapshot.Meta{}, fmt.Errorf("%w: %w", snapshot.ErrCorruptSnapshot, err)
	}
	// Restored history is not replayed to sinks.
	a.published = 0
	if evs := a.eng.Events(0); len(evs) > 0 {
		a.published = evs[len(evs)-1].Seq
	}
	a.logger.Info("snapshot loaded", zap.String("path", p), zap.String("snapshot", meta.ID))
	return meta, nil
}

func (a *Auctioneer) onTick(t tick) {
	if a.armed == nil || t.seq != a.armed.seq {
		a.logger.Debug("stale tick dropped", zap.Uint64("seq", t.seq))
		return
	}
	at := t.at
	if at.IsZero() {
		at = a.clock.Now()
	}
	switch t.kind {
	case tickCountdown:
		a.armed.lastCountdown = at
		a.armed.countdown.Reset(a.until(at, a.interval))
		if _, err := a.eng.Tick(); err != nil {
			a.logger.Error("countdown tick failed", zap.Error(err))
		}
	case tickSynthetic:
		if a.armed.synthetic == nil {
			return
		}
		a.armed.lastSynthetic = at
		a.armed.synthetic.Reset(a.until(at, a.syntheticPeriod()))
		ev, ok, err := a.eng.SyntheticBid()
		switch {
		case err != nil:
			a.logger.Debug("synthetic bid rejected", zap.Error(err))
		case ok:
			a.logger.Debug("synthetic bid placed", zap.String("team", ev.Team), zap.Int64("price", ev.Price))
		}
	}
}

// sync brings timers, subscribers and sinks in line with the engine after a
// message was handled.
func (a *Auctioneer) sync() {
	if a.eng.Phase() == engine.PhaseRunning {
		if gen := a.eng.Generation(); a.armed == nil || a.armed.gen != gen {
			a.arm(gen)
		}
	} else {
		a.disarm()
	}

	if v := a.eng.Version(); v != a.version {
		a.version = v
		a.broadcast(a.current())
	}

	for _, ev := range a.eng.Events(a.published) {
		a.publish(ev)
		a.published = ev.Seq
	}
}

func (a *Auctioneer) current() Snapshot {
	return Snapshot{Version: a.eng.Version(), State: a.eng.View()}
}

func (a *Auctioneer) syntheticPeriod() time.Duration {
	return a.interval * time.Duration(a.synthetic)
}

// until is the delay from now to one period after from. A deadline already
// passed fires almost at once rather than being skipped.
func (a *Auctioneer) until(from time.Time, period time.Duration) time.Duration {
	return max(from.Add(period).Sub(a.clock.Now()), minTimerDelay)
}

// arm starts the timers for session gen. A session resumed after a pause
// continues each interval where it stopped.
func (a *Auctioneer) arm(gen uint64) {
	a.disarm()
	now := a.clock.Now()
	var done progress
	if a.carry != nil && a.carry.gen == gen {
		done = *a.carry
	}
	a.carry = nil

	a.armSeq++
	ar := &arming{
		seq:           a.armSeq,
		gen:           gen,
		lastCountdown: now.Add(-done.countdown),
		lastSynthetic: now.Add(-done.synthetic),
		stop:          make(chan struct{}),
	}
	ar.countdown = a.clock.NewTimer(a.until(ar.lastCountdown, a.interval))
	if a.synthetic > 0 {
		ar.synthetic = a.clock.NewTimer(a.until(ar.lastSynthetic, a.syntheticPeriod()))
	}
	a.armed = ar
	go a.forward(ar)
	a.logger.Debug("timers armed",
		zap.Uint64("seq", ar.seq),
		zap.Uint64("generation", gen),
		zap.Duration("carried", done.countdown))
}

func (a *Auctioneer) disarm() {
	ar := a.armed
	if ar == nil {
		return
	}
	now := a.clock.Now()
	a.carry = &progress{
		gen:       ar.gen,
		countdown: now.Sub(ar.lastCountdown),
		synthetic: now.Sub(ar.lastSynthetic),
	}
	ar.countdown.Stop()
	if ar.synthetic != nil {
		ar.synthetic.Stop()
	}
	close(ar.stop)
	a.logger.Debug("timers stopped", zap.Uint64("seq", ar.seq))
	a.armed = nil
}

// forward turns timer fires into inbox messages tagged with the arming seq.
// The loop re-arms each timer when it handles the tick.
func (a *Auctioneer) forward(ar *arming) {
	var synth <-chan time.Time
	if ar.synthetic != nil {
		synth = ar.synthetic.Chan()
	}
	for {
		var t tick
		select {
		case <-ar.stop:
			return
		case <-a.ctx.Done():
			return
		case at := <-ar.countdown.Chan():
			t = tick{kind: tickCountdown, seq: ar.seq, at: at}
		case at := <-synth:
			t = tick{kind: tickSynthetic, seq: ar.seq, at: at}
		}
		select {
		case a.inbox <- t:
		case <-ar.stop:
			return
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *Auctioneer) publish(ev engine.Event) {
	for _, s := range a.sinks {
		ctx, cancel := context.WithTimeout(a.ctx, sinkTimeout)
		if err := s.Publish(ctx, ev); err != nil {
			a.logger.Warn("event publish failed", zap.Uint64("seq", ev.Seq), zap.String("type", string(ev.Type)), zap.Error(err))
		}
		cancel()
	}
}

func (a *Auctioneer) shutdown() {
	a.disarm()
	// Closing an outbox ends that subscriber's stream.
	for id, ch := range a.clients {
		close(ch)
		delete(a.clients, id)
	}
	a.cancel()
	a.logger.Info("auctioneer stopped")
}

func (a *Auctioneer) broadcast(snap Snapshot) {
	for id, ch := range a.clients {
		select {
		case ch <- snap:
		default:
			// Outbox full; drop the subscriber.
			close(ch)
			delete(a.clients, id)
			a.logger.Warn("slow subscriber dropped", zap.String("client", id))
		}
	}
}
