package cli

import (
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"github.com/spf13/cobra"
	"io"
)

func NewOutboxCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "outbox", Short: "Inspect and flush the event outbox"}
	cmd.AddCommand(newOutboxPendingCommand(opts), newOutboxDrainCommand(opts))
	return cmd
}

type pendingRow struct {
	Position    int64  `json:"position"`
	Kind        string `json:"kind"`
	AggregateID string `json:"aggregate_id"`
	Sequence    int64  `json:"sequence"`
}

func newOutboxPendingCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List undispatched events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := opts.Open(cmd.Context(), opts.DSN)
			if err != nil {
				return err
			}
			defer closeFn()

			events, err := b.PendingEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}
			rows := make([]pendingRow, 0, len(events))
			for _, ev := range events {
				rows = append(rows, pendingRow{Position: ev.Position, Kind: ev.Kind, AggregateID: ev.AggregateID, Sequence: ev.Sequence})
			}
			return opts.print(cmd, rows, func(w io.Writer) error {
				for _, r := range rows {
					if _, err := fmt.Fprintf(w, "#%d %s %s seq=%d\n", r.Position, r.Kind, r.AggregateID, r.Sequence); err != nil {
						return err
					}
				}
				_, err := fmt.Fprintf(w, "%d pending\n", len(rows))
				return err
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to show, 0 for all")
	return cmd
}

// Drain publishes pending events once and exits; for when the API is down
// and events must reach Kafka anyway.
func newOutboxDrainCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Publish all pending events to Kafka",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := opts.Open(cmd.Context(), opts.DSN)
			if err != nil {
				return err
			}
			defer closeFn()

			sink, closeSink, err := opts.Sink(opts.Brokers)
			if err != nil {
				return err
			}
			defer closeSink()

			d := outbox.NewDispatcher(b, sink, opts.logger(cmd.ErrOrStderr()))
			sent, err := d.Drain(cmd.Context())
			if err != nil {
				return fmt.Errorf("drained %d events before failing: %w", sent, err)
			}
			return opts.print(cmd, map[string]int{"dispatched": sent}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "dispatched %d events\n", sent)
				return err
			})
		},
	}
}
