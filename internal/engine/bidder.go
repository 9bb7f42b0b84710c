package engine

import (
	"math/rand"
	"time"
)

const (
	DefaultSyntheticProbability  = 0.6
	DefaultSyntheticMinRemaining = 2
)

// RandomSource is the subset of *rand.Rand the synthetic bidder draws from.
type RandomSource interface {
	Float64() float64
	Intn(n int) int
}

// Eligibility decides whether a team may be picked for a synthetic bid.
type Eligibility func(t Team, s Session, r Rules) bool

// SyntheticBidder places bids for idle teams to keep the auction moving.
// It only proposes a team; placement goes through the normal bid rules.
type SyntheticBidder struct {
	probability  float64
	minRemaining int
	rng          RandomSource
	eligible     Eligibility
}

type BidderOption func(*SyntheticBidder)

func WithProbability(p float64) BidderOption {
	return func(b *SyntheticBidder) { b.probability = p }
}

// WithMinRemaining sets the countdown value at or below which no synthetic
// bids are drawn.
func WithMinRemaining(n int) BidderOption {
	return func(b *SyntheticBidder) { b.minRemaining = n }
}

func WithEligibility(fn Eligibility) BidderOption {
	return func(b *SyntheticBidder) {
		if fn != nil {
			b.eligible = fn
		}
	}
}

// NewSyntheticBidder builds a bidder over rng. A nil rng gets its own
// time-seeded source.
func NewSyntheticBidder(rng RandomSource, opts ...BidderOption) *SyntheticBidder {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	b := &SyntheticBidder{
		probability:  DefaultSyntheticProbability,
		minRemaining: DefaultSyntheticMinRemaining,
		rng:          rng,
		eligible:     CanBid,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Choose draws once. With the configured probability it picks uniformly among
// eligible teams; it reports false when no bid should be placed.
func (b *SyntheticBidder) Choose(teams []Team, s Session, r Rules) (string, bool) {
	if !s.Active() || s.Remaining <= b.minRemaining {
		return "", false
	}
	if b.rng.Float64() >= b.probability {
		return "", false
	}

	eligible := make([]string, 0, len(teams))
	for _, t := range teams {
		if b.eligible(t, s, r) {
			eligible = append(eligible, t.Name)
		}
	}
	if len(eligible) == 0 {
		return "", false
	}
	return eligible[b.rng.Intn(len(eligible))], true
}
