package types

import (
	"context"
	"errors"

	"github.com/DoyleJ11/ipl-auction-backend/internal/auctioneer"
	"github.com/DoyleJ11/ipl-auction-backend/internal/engine"
	"github.com/DoyleJ11/ipl-auction-backend/internal/snapshot"
)

// Client -> Server
//   Bid:    team: string
//   Start | Pause | Resume | Skip: {}
//
// Server -> Client
//   StateSnapshot: version, state (engine.View)
//   Error:         error, code

const (
	MsgStateSnapshot = "StateSnapshot"
	MsgError         = "Error"

	IntentBid    = "Bid"
	IntentStart  = "Start"
	IntentPause  = "Pause"
	IntentResume = "Resume"
	IntentSkip   = "Skip"
)

type ClientMessage struct {
	Type string `json:"type"`
	Team string `json:"team,omitempty"`
}

type ServerMessage struct {
	Type    string       `json:"type"` // "StateSnapshot" | "Error"
	Version uint64       `json:"version,omitempty"`
	State   *engine.View `json:"state,omitempty"`
	Error   string       `json:"error,omitempty"`
	Code    string       `json:"code,omitempty"`
}

const (
	CodeInvalidState       = "invalid_state"
	CodeUnknownTeam        = "unknown_team"
	CodeCorruptSnapshot    = "corrupt_snapshot"
	CodeUnsupportedVersion = "unsupported_version"
	CodeIO                 = "io_error"
	CodeNoSnapshotPath     = "no_snapshot_path"
	CodeInvalidPath        = "invalid_path"
	CodeUnavailable        = "unavailable"
	CodeBadRequest         = "bad_request"
	CodeInternal           = "internal"
)

// ErrorCode classifies err for clients. Rejected bids report their reason.
func ErrorCode(err error) string {
	var rejected *engine.RejectedBid
	switch {
	case errors.As(err, &rejected):
		return string(rejected.Reason)
	case errors.Is(err, engine.ErrUnknownTeam):
		return CodeUnknownTeam
	case errors.Is(err, snapshot.ErrUnsupportedVersion):
		return CodeUnsupportedVersion
	case errors.Is(err, snapshot.ErrCorruptSnapshot):
		return CodeCorruptSnapshot
	case errors.Is(err, snapshot.ErrIO):
		return CodeIO
	case errors.Is(err, snapshot.ErrInvalidPath):
		return CodeInvalidPath
	case errors.Is(err, engine.ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, auctioneer.ErrNoSnapshotPath):
		return CodeNoSnapshotPath
	case errors.Is(err, auctioneer.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

func ErrorMessage(err error) ServerMessage {
	return ServerMessage{Type: MsgError, Error: err.Error(), Code: ErrorCode(err)}
}

func SnapshotMessage(snap auctioneer.Snapshot) ServerMessage {
	return ServerMessage{Type: MsgStateSnapshot, Version: snap.Version, State: &snap.State}
}
