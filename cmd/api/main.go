package main

import (
	"context"
	"errors"
	"github.com/ariefcatur/resto-pos/internal/app"
	"github.com/ariefcatur/resto-pos/internal/clock"
	"github.com/ariefcatur/resto-pos/internal/config"
	"github.com/ariefcatur/resto-pos/internal/httpx"
	kafkax "github.com/ariefcatur/resto-pos/internal/kafka"
	"github.com/ariefcatur/resto-pos/internal/logger"
	"github.com/ariefcatur/resto-pos/internal/memstore"
	"github.com/ariefcatur/resto-pos/internal/notify"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/ariefcatur/resto-pos/internal/postgres"
	"github.com/ariefcatur/resto-pos/internal/postgres/migrations"
	"github.com/ariefcatur/resto-pos/internal/realtime"
	"github.com/ariefcatur/resto-pos/internal/redisx"
	"github.com/joho/godotenv"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// store is what the API needs from a backing store: the use-case repository
// plus the outbox read side and a commit hook.
type store interface {
	app.Repository
	outbox.Store
	OnCommit(fn func())
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.ServiceName, cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		fatal(log, "load policy", err)
	}

	var (
		repo    store
		sinks   []outbox.Broadcaster
		cache   httpx.ViewCache
		idem    httpx.Idempotency
		closers []func()
	)
	hub := realtime.NewHub(log)
	sinks = append(sinks, hub)

	switch cfg.Store {
	case "memory":
		// local mode: no Postgres, Kafka or Redis
		repo = memstore.New(memstore.WithLockTimeout(cfg.LockTimeout))
		log.Warn("using in-memory store; state is lost on exit")
	default:
		// DB
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			fatal(log, "db connect", err)
		}
		closers = append(closers, db.Close)
		applied, err := migrations.Apply(ctx, db)
		if err != nil {
			fatal(log, "migrate", err)
		}
		for _, name := range applied {
			log.Info("migration applied", slog.String("name", name))
		}
		repo = postgres.NewStore(db, postgres.WithLockTimeout(cfg.LockTimeout))

		// Redis
		rdb := redisx.New(cfg.RedisAddr)
		closers = append(closers, func() { _ = rdb.Close() })
		if err := redisx.Ping(ctx, rdb); err != nil {
			log.Warn("redis unavailable; views are computed per request", slog.String("error", err.Error()))
		}
		views := redisx.NewViewCache(rdb, log)
		cache = views
		idem = redisx.NewIdempotency(rdb)

		// Kafka producer
		prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.ServiceName)
		closers = append(closers, func() { _ = prod.Close() })
		// cache view dihapus dulu sebelum event diumumkan, walau Kafka mati
		sinks = append([]outbox.Broadcaster{views}, sinks...)
		sinks = append(sinks, prod)

		// relay notifikasi -> hub
		relay := kafkax.NewConsumer(cfg.KafkaBrokers, relayGroup(cfg.ServiceName),
			[]string{kafkax.BrokerTopic(pos.TopicNotifications)}, 1, log)
		go func() {
			if err := relay.Start(ctx, notify.Relay(hub, log)); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("notification relay stopped", slog.String("error", err.Error()))
			}
		}()
	}

	svc := app.NewServices(repo, clock.NewSystem(), policy.Pricing, policy.Orders, log)

	dispatcher := outbox.NewDispatcher(repo, realtime.NewFanout(sinks...), log,
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize))
	repo.OnCommit(dispatcher.Notify)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("dispatcher stopped", slog.String("error", err.Error()))
		}
	}()

	tables := &httpx.TablesHandler{Tables: svc.Tables, Views: svc.Views, Cache: cache, Log: log}
	orders := &httpx.OrdersHandler{Orders: svc.Orders, Tables: svc.Tables, Settlement: svc.Settlement, Idem: idem, Log: log}
	router := httpx.NewRouter(tables, orders, &httpx.StreamHandler{Hub: hub, Token: cfg.StreamToken})

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http listening", slog.String("addr", cfg.HTTPAddr), slog.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "listen", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)

	cancel()
	<-dispatchDone
	// kirim sisa event dari request terakhir
	if _, err := dispatcher.Drain(shutdownCtx); err != nil {
		log.Warn("outbox drain incomplete", slog.String("error", err.Error()))
	}
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// relayGroup gives every API instance its own consumer group so each one
// sees every notification.
func relayGroup(service string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return service + "-relay-" + host
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}
