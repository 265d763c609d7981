package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/stockbook/stockbook/internal/backfill"
	"github.com/stockbook/stockbook/internal/orders"
	"github.com/stockbook/stockbook/jobs"
)

func newLedgerCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Initialise, sync and repair the stock ledger",
	}
	cmd.AddCommand(newLedgerInitCommand(opts))
	cmd.AddCommand(newLedgerSyncCommand(opts))
	cmd.AddCommand(newLedgerRecomputeCommand(opts))
	cmd.AddCommand(newLedgerNormalizeCommand(opts))
	cmd.AddCommand(newLedgerEnqueueCommand(opts))
	return cmd
}

func newLedgerInitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write opening balances into an empty ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, release, err := opts.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			res, err := rt.Maintenance.InitializeLedger(cmd.Context(), opts.Actor)
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), res, func(w io.Writer) {
				if res.Skipped {
					fmt.Fprintln(w, "ledger already has entries, nothing written")
					return
				}
				fmt.Fprintf(w, "wrote %d opening entries dated %s\n", len(res.Entries), res.Inception.Format("2006-01-02"))
			})
		},
	}
}

func newLedgerSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Backfill ledger entries for order deductions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, release, err := opts.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			res, err := rt.Maintenance.SyncOrderLedger(cmd.Context(), opts.Actor)
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "orders: %d  applied: %d  unresolved: %d\n", res.Orders, res.Applied, res.Unresolved)
				for _, line := range res.Lines {
					if line.Action != orders.ActionUnresolved {
						continue
					}
					fmt.Fprintf(w, "  unresolved material %q\n", line.MaterialName)
				}
			})
		},
	}
}

func newLedgerRecomputeCommand(opts *RootOptions) *cobra.Command {
	var rawMode string
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Compare current_stock with the ledger and optionally rewrite it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := backfill.ParseMode(rawMode)
			if err != nil {
				return err
			}
			if mode == backfill.ModeApply {
				if err := opts.confirmed(cmd, "Rewrite current_stock from the ledger?"); err != nil {
					return err
				}
			}
			rt, release, err := opts.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			res, err := rt.Maintenance.RecomputeStock(cmd.Context(), mode, opts.Actor)
			if err != nil {
				return err
			}
			if err := opts.write(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "mode: %s  checked: %d  drifted: %d\n", res.Mode, res.Checked, len(res.Drifts))
				for _, d := range res.Drifts {
					fmt.Fprintf(w, "  %s  cached %s  ledger %s  (%s)\n", d.Name, d.Cached, d.Derived, d.Difference)
				}
				if len(res.Anomalies) > 0 {
					fmt.Fprintf(w, "  %d ledger rows skipped: unclassified type\n", len(res.Anomalies))
				}
			}); err != nil {
				return err
			}
			if mode == backfill.ModeDry && len(res.Drifts) > 0 {
				return ErrDriftFound
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rawMode, "mode", "dry", "dry or apply")
	return cmd
}

func newLedgerNormalizeCommand(opts *RootOptions) *cobra.Command {
	var rawMode string
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Rewrite legacy transaction types to in/out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := backfill.ParseMode(rawMode)
			if err != nil {
				return err
			}
			if mode == backfill.ModeApply {
				if err := opts.confirmed(cmd, "Rewrite legacy transaction types?"); err != nil {
					return err
				}
			}
			rt, release, err := opts.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			res, err := rt.Maintenance.NormalizeTypes(cmd.Context(), mode, opts.Actor)
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "mode: %s\n", res.Mode)
				writeCounts(w, res.Rewritten)
				if len(res.Unclassified) > 0 {
					fmt.Fprintf(w, "  %d rows left untouched: unclassified type\n", len(res.Unclassified))
				}
			})
		},
	}
	cmd.Flags().StringVar(&rawMode, "mode", "dry", "dry or apply")
	return cmd
}

var enqueueTasks = map[string]string{
	"initialize":  jobs.TaskLedgerInitialize,
	"sync-orders": jobs.TaskLedgerSyncOrders,
	"recompute":   jobs.TaskLedgerRecompute,
}

func newLedgerEnqueueCommand(opts *RootOptions) *cobra.Command {
	var rawMode string
	cmd := &cobra.Command{
		Use:       "enqueue <initialize|sync-orders|recompute>",
		Short:     "Hand a ledger task to the worker",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"initialize", "sync-orders", "recompute"},
		RunE: func(cmd *cobra.Command, args []string) error {
			taskType, ok := enqueueTasks[args[0]]
			if !ok {
				return fmt.Errorf("unknown task %q", args[0])
			}
			if _, err := backfill.ParseMode(rawMode); err != nil {
				return err
			}
			rt, release, err := opts.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			info, err := rt.Jobs.EnqueueLedger(cmd.Context(), taskType, jobs.LedgerPayload{Actor: opts.Actor, Mode: rawMode})
			if err != nil {
				return err
			}
			out := map[string]string{"id": info.ID, "type": taskType, "queue": info.Queue}
			return opts.write(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "enqueued %s as %s on %s\n", taskType, info.ID, info.Queue)
			})
		},
	}
	cmd.Flags().StringVar(&rawMode, "mode", "dry", "recompute mode (dry or apply)")
	return cmd
}
