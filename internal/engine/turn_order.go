package engine

import (
	"errors"
	"fmt"
)

var ErrRejectedBid = errors.New("bid rejected")
var ErrSameBidder = errors.New("the same team cannot place consecutive bids")
var ErrInsufficientFunds = errors.New("insufficient budget for this bid")
var ErrSquadFull = errors.New("squad is full")
var ErrNotAccepting = errors.New("session is not accepting bids")

type RejectReason string

const (
	ReasonSameBidder        RejectReason = "same_bidder"
	ReasonInsufficientFunds RejectReason = "insufficient_funds"
	ReasonSquadFull         RejectReason = "squad_full"
	ReasonNotAccepting      RejectReason = "not_accepting"
)

func (r RejectReason) err() error {
	switch r {
	case ReasonSameBidder:
		return ErrSameBidder
	case ReasonInsufficientFunds:
		return ErrInsufficientFunds
	case ReasonSquadFull:
		return ErrSquadFull
	default:
		return ErrNotAccepting
	}
}

// RejectedBid is returned for a bid that broke a turn or budget rule. It
// matches ErrRejectedBid and the sentinel for its reason under errors.Is.
type RejectedBid struct {
	Team   string
	Reason RejectReason
	Price  int64 // price the bid would have set
	Budget int64
}

func (e *RejectedBid) Error() string {
	return fmt.Sprintf("bid by %s rejected: %v", e.Team, e.Reason.err())
}

func (e *RejectedBid) Unwrap() []error { return []error{ErrRejectedBid, e.Reason.err()} }

// checkBid applies the turn rules in order: no consecutive self-raise, then
// budget, then squad size.
func checkBid(s Session, t Team, r Rules) error {
	next := s.NextPrice(r)
	switch {
	case t.Name == s.Leader:
		return &RejectedBid{Team: t.Name, Reason: ReasonSameBidder, Price: next, Budget: t.Budget}
	case t.Budget < next:
		return &RejectedBid{Team: t.Name, Reason: ReasonInsufficientFunds, Price: next, Budget: t.Budget}
	case r.MaxSquadSize > 0 && len(t.Acquired) >= r.MaxSquadSize:
		return &RejectedBid{Team: t.Name, Reason: ReasonSquadFull, Price: next, Budget: t.Budget}
	}
	return nil
}

// CanBid is the default synthetic-bidder eligibility: the bid would be accepted.
func CanBid(t Team, s Session, r Rules) bool {
	return s.Active() && checkBid(s, t, r) == nil
}
