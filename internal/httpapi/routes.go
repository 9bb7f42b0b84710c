package httpapi

import (
	"net/http"
	"time"

	"github.com/DoyleJ11/ipl-auction-backend/internal/auctioneer"
	"github.com/DoyleJ11/ipl-auction-backend/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func SetupRoutes(a *auctioneer.Auctioneer, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Route("/auction", func(r chi.Router) {
		r.Get("/", GetAuction(a, logger))
		r.Get("/log", GetLog(a, logger))
		r.Get("/stats", GetStats(a, logger))

		r.Post("/start", Command(a, logger, start))
		r.Post("/pause", Command(a, logger, pause))
		r.Post("/resume", Command(a, logger, resume))
		r.Post("/skip", Command(a, logger, skip))
		r.Post("/reset", Command(a, logger, reset))
		r.Post("/bids", PlaceBid(a, logger))

		r.Post("/snapshot/save", Snapshot(a, logger, false))
		r.Post("/snapshot/load", Snapshot(a, logger, true))
	})

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(a, logger))
	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			began := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(began)))
		})
	}
}
