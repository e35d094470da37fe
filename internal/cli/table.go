package cli

import (
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/spf13/cobra"
	"io"
	"text/tabwriter"
)

func NewTableCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Manage dining tables",
	}
	cmd.AddCommand(newTableAddCommand(opts), newTableDisableCommand(opts), newTableListCommand(opts))
	return cmd
}

func newTableAddCommand(opts *RootOptions) *cobra.Command {
	var t pos.Table
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if t.Capacity <= 0 {
				return fmt.Errorf("capacity must be positive, got %d", t.Capacity)
			}
			svc, closeFn, err := opts.catalog(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			out, err := svc.AddTable(cmd.Context(), t)
			if err != nil {
				return err
			}
			return opts.print(cmd, out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "table %s (%s) added\n", out.Name, out.ID)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&t.ID, "id", "", "table id (generated when empty)")
	cmd.Flags().StringVar(&t.Name, "name", "", "display name (required)")
	cmd.Flags().IntVar(&t.Capacity, "capacity", 4, "seats")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newTableDisableCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <id>",
		Short: "Take an available table out of service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := opts.catalog(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			out, err := svc.DisableTable(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.print(cmd, out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "table %s disabled\n", out.ID)
				return err
			})
		},
	}
}

func newTableListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := opts.catalog(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			tables, err := svc.ListTables(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd, tables, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tCAPACITY\tSTATUS\tMERGED INTO\tDISABLED")
				for _, t := range tables {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%t\n", t.ID, t.Name, t.Capacity, t.Status, t.MergedRootID, t.Disabled)
				}
				return tw.Flush()
			})
		},
	}
}
