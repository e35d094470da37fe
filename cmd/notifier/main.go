package main

import (
	"context"
	"errors"
	"github.com/ariefcatur/resto-pos/internal/amqpx"
	"github.com/ariefcatur/resto-pos/internal/clock"
	"github.com/ariefcatur/resto-pos/internal/config"
	kafkax "github.com/ariefcatur/resto-pos/internal/kafka"
	"github.com/ariefcatur/resto-pos/internal/logger"
	"github.com/ariefcatur/resto-pos/internal/notify"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/ariefcatur/resto-pos/internal/postgres"
	"github.com/ariefcatur/resto-pos/internal/redisx"
	"github.com/joho/godotenv"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-notifier"
	log := logger.New(service, cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.WithMaxConns(int32(cfg.NotifierWorkers)))
	if err != nil {
		fatal(log, "db connect", err)
	}
	defer db.Close()

	// Redis (dedup)
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producers: Kafka wajib, RabbitMQ opsional
	prod := kafkax.NewProducer(cfg.KafkaBrokers, service)
	defer prod.Close()

	var fanout notify.FanoutPublisher
	if cfg.AMQPURL != "" {
		pub, err := amqpx.Dial(cfg.AMQPURL, log)
		if err != nil {
			fatal(log, "amqp dial", err)
		}
		defer pub.Close()
		fanout = pub
	}

	svc := notify.NewService(
		postgres.NewStore(db),
		redisx.NewDeduper(rdb, service),
		prod,
		fanout,
		clock.NewSystem(),
		log,
	)

	// Consumer
	topics := []string{kafkax.BrokerTopic(pos.TopicOrders), kafkax.BrokerTopic(pos.TopicKitchen)}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, topics, cfg.NotifierWorkers, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("notifier consumer started",
			slog.String("group", cfg.NotifierGroup),
			slog.Any("topics", topics),
			slog.Int("workers", cfg.NotifierWorkers))
		if err := cons.Start(ctx, svc.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("consumer exit", slog.String("error", err.Error()))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	<-done
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}
