package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/DoyleJ11/ipl-auction-backend/internal/auctioneer"
	"github.com/DoyleJ11/ipl-auction-backend/internal/engine"
	"github.com/DoyleJ11/ipl-auction-backend/internal/snapshot"
	"github.com/DoyleJ11/ipl-auction-backend/internal/types"
	"go.uber.org/zap"
)

type stateResponse struct {
	Version uint64      `json:"version"`
	State   engine.View `json:"state"`
}

type bidRequest struct {
	Team string `json:"team"`
}

type bidResponse struct {
	Event engine.Event `json:"event"`
	stateResponse
}

type snapshotRequest struct {
	Path string `json:"path"`
}

type snapshotResponse struct {
	ID      string `json:"id"`
	Version int    `json:"format_version"`
	SavedAt string `json:"saved_at"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error class to its HTTP status.
func statusFor(code string) int {
	switch code {
	case string(engine.ReasonSameBidder), string(engine.ReasonInsufficientFunds),
		string(engine.ReasonSquadFull), string(engine.ReasonNotAccepting):
		return http.StatusUnprocessableEntity
	case types.CodeInvalidState:
		return http.StatusConflict
	case types.CodeUnknownTeam:
		return http.StatusNotFound
	case types.CodeCorruptSnapshot, types.CodeUnsupportedVersion, types.CodeNoSnapshotPath, types.CodeInvalidPath, types.CodeBadRequest:
		return http.StatusBadRequest
	case types.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	msg := types.ErrorMessage(err)
	status := statusFor(msg.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("code", msg.Code), zap.Error(err))
	}
	writeJSON(w, status, msg)
}

func badRequest(w http.ResponseWriter, text string) {
	writeJSON(w, http.StatusBadRequest, types.ServerMessage{Type: types.MsgError, Error: text, Code: types.CodeBadRequest})
}

func writeState(w http.ResponseWriter, r *http.Request, a *auctioneer.Auctioneer, logger *zap.Logger, status int) {
	v, err := a.View(r.Context())
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, status, stateResponse{Version: v.Version, State: v.State})
}

func GetAuction(a *auctioneer.Auctioneer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeState(w, r, a, logger, http.StatusOK)
	}
}

func GetLog(a *auctioneer.Auctioneer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := a.View(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Log []string `json:"log"`
		}{Log: v.State.Log})
	}
}

// GetStats renders JSON, or the plain text report with ?format=text.
func GetStats(a *auctioneer.Auctioneer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := a.Stats(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if r.URL.Query().Get("format") == "text" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, st.Report())
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// Command wraps a no-argument operator action and answers with the new state.
func Command(a *auctioneer.Auctioneer, logger *zap.Logger, op func(*auctioneer.Auctioneer, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(a, r); err != nil {
			writeError(w, logger, err)
			return
		}
		writeState(w, r, a, logger, http.StatusOK)
	}
}

func start(a *auctioneer.Auctioneer, r *http.Request) error { return a.Start(r.Context()) }
func pause(a *auctioneer.Auctioneer, r *http.Request) error { return a.Pause(r.Context()) }
func resume(a *auctioneer.Auctioneer, r *http.Request) error { return a.Resume(r.Context()) }
func skip(a *auctioneer.Auctioneer, r *http.Request) error { return a.Skip(r.Context()) }
func reset(a *auctioneer.Auctioneer, r *http.Request) error { return a.Reset(r.Context()) }

func PlaceBid(a *auctioneer.Auctioneer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bidRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Team == "" {
			badRequest(w, "body must be {\"team\": \"<name>\"}")
			return
		}
		ev, err := a.SubmitBid(r.Context(), req.Team)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		v, err := a.View(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, bidResponse{Event: ev, stateResponse: stateResponse{Version: v.Version, State: v.State}})
	}
}

// Snapshot handles save and load. The body is optional; without a path the
// configured snapshot file is used.
func Snapshot(a *auctioneer.Auctioneer, logger *zap.Logger, load bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req snapshotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(w, "body must be empty or {\"path\": \"<name>\"}")
			return
		}
		var (
			meta snapshot.Meta
			err  error
		)
		if load {
			meta, err = a.Load(r.Context(), req.Path)
		} else {
			meta, err = a.Save(r.Context(), req.Path)
		}
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshotResponse{
			ID:      meta.ID,
			Version: meta.Version,
			SavedAt: meta.SavedAt.Format(time.RFC3339Nano),
		})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
