package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stockbook/stockbook/internal/backup"
)

func newBackupCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export, validate and restore the full dataset",
	}
	cmd.AddCommand(newBackupExportCommand(opts))
	cmd.AddCommand(newBackupValidateCommand(opts))
	cmd.AddCommand(newBackupRestoreCommand(opts))
	return cmd
}

func newBackupExportCommand(opts *RootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a backup document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, release, err := opts.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			doc, err := rt.Backup.Export(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(doc); err != nil {
				return err
			}
			if out != "" && out != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "backup written to %s\n", out)
				writeCounts(cmd.ErrOrStderr(), doc.Counts())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

type validateSummary struct {
	Valid    bool             `json:"valid"`
	Counts   map[string]int   `json:"counts,omitempty"`
	Problems []backup.Problem `json:"problems,omitempty"`
}

func newBackupValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file|->",
		Short: "Check every record of a backup without touching data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, args[0])
			if err == nil {
				err = backup.Validate(doc)
			}
			var verr *backup.ValidationError
			if err != nil && !errors.As(err, &verr) {
				return err
			}
			summary := validateSummary{Valid: err == nil, Counts: doc.Counts()}
			if verr != nil {
				summary.Problems = verr.Problems
			}
			if werr := opts.write(cmd.OutOrStdout(), summary, func(w io.Writer) {
				if summary.Valid {
					fmt.Fprintln(w, "backup is valid")
					writeCounts(w, summary.Counts)
					return
				}
				fmt.Fprintf(w, "backup is invalid (%d problems)\n", len(summary.Problems))
				for _, p := range summary.Problems {
					fmt.Fprintf(w, "  %s\n", p)
				}
			}); werr != nil {
				return werr
			}
			return err
		},
	}
}

func newBackupRestoreCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file|->",
		Short: "Replace every table with the contents of a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, args[0])
			if err != nil {
				return err
			}
			if err := backup.Validate(doc); err != nil {
				return err
			}
			if err := opts.confirmed(cmd, "Restore deletes all current data."); err != nil {
				return err
			}
			rt, release, err := opts.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			counts, err := rt.Backup.Restore(cmd.Context(), doc, opts.Actor)
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), map[string]any{"restored": counts}, func(w io.Writer) {
				fmt.Fprintln(w, "restore complete")
				writeCounts(w, counts)
			})
		},
	}
}

func readDocument(cmd *cobra.Command, path string) (backup.Document, error) {
	if path == "-" {
		return backup.Parse(cmd.InOrStdin())
	}
	f, err := os.Open(path)
	if err != nil {
		return backup.Document{}, err
	}
	defer f.Close()
	return backup.Parse(f)
}
