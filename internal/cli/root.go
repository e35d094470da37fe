// Package cli implements posctl, the operator tool for provisioning and
// maintenance.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/app"
	"github.com/ariefcatur/resto-pos/internal/clock"
	"github.com/ariefcatur/resto-pos/internal/config"
	kafkax "github.com/ariefcatur/resto-pos/internal/kafka"
	"github.com/ariefcatur/resto-pos/internal/logger"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"github.com/ariefcatur/resto-pos/internal/postgres"
	"github.com/spf13/cobra"
	"io"
	"log/slog"
)

// Backend is the store posctl operates on.
type Backend interface {
	app.Repository
	outbox.Store
}

// RootOptions holds global flags and the wiring shared by all commands.
type RootOptions struct {
	DSN      string
	Brokers  []string
	Format   string // "text" | "json"
	LogLevel string

	// Open and Sink are replaceable for tests.
	Open func(ctx context.Context, dsn string) (Backend, func(), error)
	Sink func(brokers []string) (outbox.Broadcaster, func(), error)
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Open: openPostgres, Sink: kafkaSink})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cfg := config.Load()
	cmd := &cobra.Command{
		Use:   "posctl",
		Short: "Operator tool for the restaurant POS",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", cfg.PostgresDSN, "postgres connection string")
	cmd.PersistentFlags().StringSliceVar(&opts.Brokers, "brokers", cfg.KafkaBrokers, "kafka brokers")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", cfg.LogLevel, "log level")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewTableCommand(opts))
	cmd.AddCommand(NewDishCommand(opts))
	cmd.AddCommand(NewVoucherCommand(opts))
	cmd.AddCommand(NewMemberCommand(opts))
	cmd.AddCommand(NewOutboxCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	return logger.NewWithWriter(w, "posctl", o.LogLevel)
}

// catalog opens the backend and returns the provisioning service over it.
func (o *RootOptions) catalog(ctx context.Context) (*app.CatalogService, func(), error) {
	b, closeFn, err := o.Open(ctx, o.DSN)
	if err != nil {
		return nil, nil, err
	}
	return app.NewCatalogService(b, clock.NewSystem()), closeFn, nil
}

// print writes v as JSON, or calls text for the text format.
func (o *RootOptions) print(cmd *cobra.Command, v any, text func(w io.Writer) error) error {
	w := cmd.OutOrStdout()
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}

func openPostgres(ctx context.Context, dsn string) (Backend, func(), error) {
	pool, err := postgres.Connect(ctx, dsn, postgres.WithMaxConns(2))
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return postgres.NewStore(pool), pool.Close, nil
}

func kafkaSink(brokers []string) (outbox.Broadcaster, func(), error) {
	if len(brokers) == 0 {
		return nil, nil, fmt.Errorf("no kafka brokers configured")
	}
	p := kafkax.NewProducer(brokers, "posctl")
	return p, func() { _ = p.Close() }, nil
}
