package cli

import (
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/postgres"
	"github.com/ariefcatur/resto-pos/internal/postgres/migrations"
	"github.com/spf13/cobra"
	"io"
)

func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := postgres.Connect(ctx, opts.DSN, postgres.WithMaxConns(1))
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()

			applied, err := migrations.Apply(ctx, pool)
			if err != nil {
				return err
			}
			return opts.print(cmd, map[string]any{"applied": applied}, func(w io.Writer) error {
				if len(applied) == 0 {
					_, err := fmt.Fprintln(w, "schema up to date")
					return err
				}
				for _, name := range applied {
					if _, err := fmt.Fprintf(w, "applied %s\n", name); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}
