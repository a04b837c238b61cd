package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/roach88/partnum/internal/legacy"
)

// ImportOutput is the JSON payload of import-legacy.
type ImportOutput struct {
	*legacy.Report
	Problems []string `json:"problems,omitempty"`
}

// NewImportLegacyCommand creates the import-legacy command.
func NewImportLegacyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import-legacy <mappings.json>",
		Short: "Import a legacy flat mapping file",
		Long: `Import a legacy JSON mapping file of path -> {base, revision} or
path -> "123456789001" entries.

Paths are grouped by identity. Entries that are malformed or clash with
each other or with the store are reported and skipped; everything else is
imported in one transaction.

Exit codes:
  0 - Everything imported
  1 - Some entries were skipped
  2 - Command error (unreadable file, bad config)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportLegacy(rootOpts, cmd, args[0])
		},
	}
}

func runImportLegacy(opts *RootOptions, cmd *cobra.Command, path string) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	file, err := os.Open(path)
	if err != nil {
		return fail(f, ExitCommandError, err)
	}
	entries, parseErr := legacy.Parse(file)
	file.Close()
	if parseErr != nil && entries == nil {
		return fail(f, ExitCommandError, parseErr)
	}

	return withSession(cmd, opts, f, func(ctx context.Context, s *session) error {
		importer := legacy.NewImporter(s.store, s.cfg.Normalizer())
		report, importErr := importer.Import(ctx, entries)
		if report == nil {
			return fail(f, ExitFailure, importErr)
		}

		problems := multierror.Append(nil, flatten(parseErr)...)
		problems = multierror.Append(problems, flatten(importErr)...)

		out := ImportOutput{Report: report}
		for _, p := range problems.WrappedErrors() {
			out.Problems = append(out.Problems, p.Error())
		}

		if f.Format == "json" {
			if err := f.Success(out); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(f.Writer, "imported %d entries: %d part(s) created, %d merged, %d skipped\n",
				report.Entries, report.Created, report.Merged, len(out.Problems))
			for _, p := range out.Problems {
				fmt.Fprintf(f.Writer, "  skipped: %s\n", p)
			}
		}

		if len(out.Problems) > 0 {
			return WrapExitError(ExitFailure, fmt.Sprintf("%d legacy entries skipped", len(out.Problems)), problems)
		}
		return nil
	})
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the mapping store's integrity",
		Long: `Reload the mapping store from disk and check every invariant: unique
bases, revision bounds and order, known filenames, index consistency.
Every problem is reported, not just the first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return withSession(cmd, rootOpts, f, func(ctx context.Context, s *session) error {
				err := s.store.Verify(ctx)
				if err == nil {
					if f.Format == "json" {
						return f.Success(map[string]bool{"valid": true})
					}
					fmt.Fprintln(f.Writer, "✓ store is consistent")
					return nil
				}

				var problems []string
				for _, e := range flatten(err) {
					problems = append(problems, e.Error())
				}
				_ = f.Error("E_INTEGRITY", fmt.Sprintf("%d integrity problem(s)", len(problems)), problems)
				if f.Format != "json" {
					for _, p := range problems {
						fmt.Fprintf(f.Writer, "  %s\n", p)
					}
				}
				return WrapExitError(ExitFailure, "store failed verification", err)
			})
		},
	}
}

// flatten returns the errors a *multierror.Error holds, or err alone.
func flatten(err error) []error {
	var me *multierror.Error
	if errors.As(err, &me) {
		return me.Errors
	}
	if err != nil {
		return []error{err}
	}
	return nil
}
