package main

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/ipl-auction-backend/internal/auctioneer"
	"github.com/DoyleJ11/ipl-auction-backend/internal/catalog"
	"github.com/DoyleJ11/ipl-auction-backend/internal/config"
	"github.com/DoyleJ11/ipl-auction-backend/internal/engine"
	"github.com/DoyleJ11/ipl-auction-backend/internal/eventbus"
	"github.com/DoyleJ11/ipl-auction-backend/internal/httpapi"
	"github.com/DoyleJ11/ipl-auction-backend/internal/snapshot"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	if cfg.WrapOnComplete {
		cat.Rules.WrapOnComplete = true
	}
	st, err := cat.State()
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	opts := []engine.Option{engine.WithLogger(logger.Named("engine")), engine.WithClock(clock)}
	if cfg.Synthetic {
		var rng engine.RandomSource
		if cfg.Seed != 0 {
			rng = rand.New(rand.NewSource(cfg.Seed))
		}
		opts = append(opts, engine.WithBidder(engine.NewSyntheticBidder(rng)))
	}
	eng, err := engine.New(st, opts...)
	if err != nil {
		return err
	}

	source, _ := os.Hostname()
	var sinks []auctioneer.Sink
	if cfg.NATSURL != "" {
		nc := eventbus.DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		nc.SubjectPrefix = cfg.NATSPrefix
		nc.Source = source
		pub, err := eventbus.NewNATSPublisher(nc, logger.Named("eventbus"))
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
		sinks = append(sinks, pub)
	}
	if cfg.AMQPURL != "" {
		ac := eventbus.DefaultAMQPConfig()
		ac.URL = cfg.AMQPURL
		ac.Exchange = cfg.AMQPExchange
		ac.Source = source
		pub, err := eventbus.NewAMQPPublisher(ac, logger.Named("eventbus"))
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
		sinks = append(sinks, pub)
	}

	synthEvery := 0
	if cfg.Synthetic {
		synthEvery = cfg.SyntheticEvery
	}
	a := auctioneer.New(ctx, eng, auctioneer.Config{
		TickInterval:   cfg.TickInterval,
		SyntheticEvery: synthEvery,
		SnapshotDir:    cfg.SnapshotDir,
		SnapshotName:   cfg.SnapshotName,
		Codec:          snapshot.NewCodec(clock),
		Clock:          clock,
		Logger:         logger.Named("auctioneer"),
		Sinks:          sinks,
	})
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(a, logger.Named("http")),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", cfg.Addr),
			zap.Int("items", len(cat.Items)),
			zap.Int("teams", len(cat.Teams)),
			zap.Bool("synthetic", cfg.Synthetic))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
