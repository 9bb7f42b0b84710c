package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/ipl-auction-backend/internal/auctioneer"
	"github.com/DoyleJ11/ipl-auction-backend/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	writeTimeout = 3 * time.Second
	readTimeout  = 5 * time.Minute
	outboxSize   = 8
)

var errUnknownIntent = errors.New("unknown message type")

func Handler(a *auctioneer.Auctioneer, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Warn("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		log := logger.With(zap.String("client", clientID))

		out := make(chan auctioneer.Snapshot, outboxSize)
		if err := a.Subscribe(r.Context(), clientID, out); err != nil {
			conn.Close(websocket.StatusTryAgainLater, "auction unavailable")
			return
		}
		defer func() { _ = a.Unsubscribe(context.Background(), clientID) }()
		log.Info("websocket client joined")

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		errs := make(chan types.ServerMessage, outboxSize)
		go func() {
			defer writeCancel()
			for {
				var msg types.ServerMessage
				select {
				case snap, ok := <-out:
					if !ok {
						// Dropped for falling behind, or the auction shut down.
						conn.Close(websocket.StatusGoingAway, "subscription ended")
						return
					}
					msg = types.SnapshotMessage(snap)
				case msg = <-errs:
				case <-writeCtx.Done():
					return
				}
				if err := write(writeCtx, conn, msg); err != nil {
					log.Debug("websocket write failed", zap.Error(err))
					return
				}
			}
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(writeCtx, readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("websocket read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				reply(errs, types.ServerMessage{Type: types.MsgError, Error: "bad json", Code: types.CodeBadRequest})
				continue
			}
			if err := dispatch(r.Context(), a, cm); err != nil {
				msg := types.ErrorMessage(err)
				if errors.Is(err, errUnknownIntent) {
					msg.Code = types.CodeBadRequest
				}
				reply(errs, msg)
			}
		}
	}
}

func reply(errs chan<- types.ServerMessage, msg types.ServerMessage) {
	select {
	case errs <- msg:
	default:
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

// dispatch turns a client intent into an auctioneer call.
func dispatch(ctx context.Context, a *auctioneer.Auctioneer, m types.ClientMessage) error {
	switch m.Type {
	case types.IntentBid:
		_, err := a.SubmitBid(ctx, m.Team)
		return err
	case types.IntentStart:
		return a.Start(ctx)
	case types.IntentPause:
		return a.Pause(ctx)
	case types.IntentResume:
		return a.Resume(ctx)
	case types.IntentSkip:
		return a.Skip(ctx)
	default:
		return errUnknownIntent
	}
}
