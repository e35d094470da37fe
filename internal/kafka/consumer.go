package kafka

import (
	"context"
	"errors"
	"github.com/segmentio/kafka-go"
	"log/slog"
	"sync"
	"time"
)

// Handler returns nil only when the message was processed and its offset may
// be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	workers int
	retry   time.Duration
	log     *slog.Logger
}

// NewConsumer joins group on the given broker topics (already prefixed).
func NewConsumer(brokers []string, group string, topics []string, workers int, log *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *slog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{r: r, workers: workers, retry: 200 * time.Millisecond, log: log.With("component", "kafka-consumer")}
}

// Start fetches until ctx is done. Each partition is pinned to one worker so
// messages of one aggregate are handled, and committed, in offset order. A
// failing message is retried until it succeeds or ctx ends.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	// workers get their own context so a failed fetch can stop handlers
	// stuck retrying
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				c.handle(wctx, h, m)
			}
		}(jobs[i])
	}
	stop := func() {
		cancel()
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case jobs[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) {
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
				c.log.Warn("commit failed", slog.String("topic", m.Topic), slog.Int64("offset", m.Offset), slog.String("error", err.Error()))
			}
			return
		}
		c.log.Warn("handler failed",
			slog.String("topic", m.Topic),
			slog.Int("partition", m.Partition),
			slog.Int64("offset", m.Offset),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retry):
		}
	}
}
