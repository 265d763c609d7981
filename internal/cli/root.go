// Package cli implements stockctl, the operator command line for backups and
// ledger maintenance.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/stockbook/stockbook/internal/backfill"
	"github.com/stockbook/stockbook/internal/backup"
	"github.com/stockbook/stockbook/jobs"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// ErrDriftFound is returned by a dry-run recompute that found drift.
var ErrDriftFound = errors.New("stock drift found")

// ErrCancelled is returned when the operator declines a confirmation.
var ErrCancelled = errors.New("cancelled by user")

// BackupService is the backup surface stockctl drives.
type BackupService interface {
	Export(ctx context.Context) (backup.Document, error)
	Restore(ctx context.Context, doc backup.Document, actor string) (map[string]int, error)
}

// Maintenance is the ledger repair surface stockctl drives.
type Maintenance interface {
	InitializeLedger(ctx context.Context, actor string) (backfill.InitResult, error)
	SyncOrderLedger(ctx context.Context, actor string) (backfill.SyncResult, error)
	RecomputeStock(ctx context.Context, mode backfill.Mode, actor string) (backfill.RecomputeResult, error)
	NormalizeTypes(ctx context.Context, mode backfill.Mode, actor string) (backfill.NormalizeResult, error)
}

// Enqueuer submits ledger tasks to the worker.
type Enqueuer interface {
	EnqueueLedger(ctx context.Context, taskType string, payload jobs.LedgerPayload) (*asynq.TaskInfo, error)
}

// Runtime holds the services a command needs.
type Runtime struct {
	Backup      BackupService
	Maintenance Maintenance
	Jobs        Enqueuer
	// Migrate applies pending schema migrations and returns their names.
	Migrate func(ctx context.Context) ([]string, error)
}

// Opener connects to the database and redis lazily, so commands that need
// neither (backup validate) run without them. The returned func releases the
// connections.
type Opener func(ctx context.Context) (*Runtime, func(), error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string
	Actor  string
	Yes    bool

	open    Opener
	confirm func(io.Reader, io.Writer, string) (bool, error)
}

// NewRootCommand creates the stockctl command tree.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open, confirm: defaultConfirm}

	cmd := &cobra.Command{
		Use:           "stockctl",
		Short:         "Stockbook operator tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Actor, "actor", "stockctl", "identity recorded in the audit log")
	cmd.PersistentFlags().BoolVarP(&opts.Yes, "yes", "y", false, "skip confirmation prompts")

	cmd.AddCommand(newBackupCommand(opts))
	cmd.AddCommand(newLedgerCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

// ExitCode maps a command error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrDriftFound):
		return 10
	default:
		return 1
	}
}

func (o *RootOptions) runtime(ctx context.Context) (*Runtime, func(), error) {
	if o.open == nil {
		return nil, nil, errors.New("stockctl: no backend configured")
	}
	return o.open(ctx)
}

// confirmed asks the operator unless --yes was given.
func (o *RootOptions) confirmed(cmd *cobra.Command, prompt string) error {
	if o.Yes {
		return nil
	}
	ok, err := o.confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), prompt)
	if err != nil {
		return fmt.Errorf("confirmation failed: %w", err)
	}
	if !ok {
		return ErrCancelled
	}
	return nil
}

func defaultConfirm(r io.Reader, w io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(w, "%s Type YES to confirm: ", prompt)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.TrimSpace(line) == "YES", nil
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, release, err := opts.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			if rt.Migrate == nil {
				return errors.New("stockctl: migrations not configured")
			}
			applied, err := rt.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), map[string][]string{"applied": applied}, func(w io.Writer) {
				if len(applied) == 0 {
					fmt.Fprintln(w, "schema is up to date")
					return
				}
				for _, name := range applied {
					fmt.Fprintf(w, "applied %s\n", name)
				}
			})
		},
	}
}
