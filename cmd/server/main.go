package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"custodia/internal/dispatch"
	"custodia/internal/domain"
	"custodia/internal/eligibility"
	"custodia/internal/events"
	"custodia/internal/idempotency"
	"custodia/internal/identity"
	"custodia/internal/ledger"
	"custodia/internal/market"
	"custodia/internal/platform/config"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/logger"
	"custodia/internal/platform/metrics"
	platformredis "custodia/internal/platform/redis"
	"custodia/internal/policy"
	"custodia/internal/token"
	httptransport "custodia/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and runs
// the event worker next to the server. Business logic lives in the
// internal component packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	directory := identity.NewDirectory()
	engine := policy.NewEngine(directory, nil)
	ledg := ledger.New(engine, directory)
	gate := eligibility.NewGate(nil)

	treasury := domain.Account(cfg.TreasuryAccount)
	privacyCustody := domain.Account(cfg.PrivacyCustodyAccount)

	rail := market.NewMemoryRail()
	mkt := market.New(market.Config{
		Rail:              rail,
		Verifier:          directory,
		Policy:            engine,
		Treasury:          treasury,
		SettlementTimeout: cfg.SettlementTimeout,
	})

	// Operational accounts are verified and trusted so infrastructure
	// transfers clear policy.
	for _, account := range []domain.Account{treasury, privacyCustody} {
		if err := directory.Register(account, "infra-"+string(account), 0); err != nil {
			log.Error("register operational account", "account", account, "error", err)
			os.Exit(1)
		}
		engine.SetTrusted(account, true)
	}

	publisher := events.NewPublisher(cfg.EventBuffer, nil)
	sink, closeSinks, err := buildSink(cfg)
	if err != nil {
		log.Error("event sink setup failed", "error", err)
		os.Exit(1)
	}
	defer closeSinks()
	worker := events.NewWorker(sink, publisher.Inbox(), log)

	dispatcher := dispatch.New(dispatch.Config{
		Directory:      directory,
		Policy:         engine,
		Ledger:         ledg,
		Gate:           gate,
		Market:         mkt,
		Emitter:        publisher,
		Metrics:        m,
		Logger:         log,
		PrivacyCustody: privacyCustody,
	})

	var idem idempotency.Store = idempotency.NewMemoryStore(nil)
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis setup failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		idem = idempotency.NewRedisStore(redisClient.Client)
	}

	tokens := token.NewService(cfg.JWTSigningKey, "custodia", "custodia-api")
	router := httptransport.NewRouter(httptransport.RouterConfig{
		Dispatcher:     dispatcher,
		Directory:      directory,
		Policy:         engine,
		Ledger:         ledg,
		Market:         mkt,
		Idempotency:    idem,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Validator:      tokens,
		Logger:         log,
		Gatherer:       registry,
	})

	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting custodia", "addr", cfg.Addr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// buildSink assembles the event egress: the in-memory sink is always
// present for local inspection, postgres and kafka join when
// configured.
func buildSink(cfg config.Server) (events.Sink, func(), error) {
	sinks := []events.Sink{events.NewMemorySink()}
	var closers []func()

	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, err
		}
		if _, err := db.Exec(events.Schema); err != nil {
			db.Close()
			return nil, nil, err
		}
		sinks = append(sinks, events.NewPostgresSink(db))
		closers = append(closers, func() { db.Close() })
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, kafka)
		closers = append(closers, kafka.Close)
	}

	closeAll := func() {
		for _, fn := range closers {
			fn()
		}
	}
	if len(sinks) == 1 {
		return sinks[0], closeAll, nil
	}
	return events.NewMultiSink(sinks...), closeAll, nil
}
