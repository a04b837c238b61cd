package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/partnum/internal/part"
)

// RecordOutput is a record plus its derived current part number.
type RecordOutput struct {
	*part.Record
	CurrentRevision int    `json:"currentRevision"`
	FullPartNumber  string `json:"fullPartNumber"`
}

func recordOutput(rec *part.Record) RecordOutput {
	return RecordOutput{
		Record:          rec,
		CurrentRevision: rec.CurrentRevision(),
		FullPartNumber:  rec.FullPartNumber(),
	}
}

// ReviseOptions holds flags for the revise command.
type ReviseOptions struct {
	*RootOptions
	Revision   int  // requested revision; 0 means next
	ByIdentity bool // treat the argument as an identity
}

// NewReviseCommand creates the revise command.
func NewReviseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReviseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "revise <file>",
		Short: "Issue a new revision of a part",
		Long: `Issue the next revision of the part a file resolves to. A file named
after a part number revises the part it was renamed from.

Example:
  partnum revise bracket.sldprt
  partnum revise bracket.sldprt --revision 5
  partnum revise --identity bracket`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevise(opts, cmd, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.Revision, "revision", 0, "revision to issue (default: current + 1)")
	cmd.Flags().BoolVar(&opts.ByIdentity, "identity", false, "argument is a logical identity, not a filename")

	return cmd
}

func runRevise(opts *ReviseOptions, cmd *cobra.Command, target string) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if opts.Revision < 0 || opts.Revision > part.MaxRevision {
		_ = f.Error(ErrCodeArgs, fmt.Sprintf("--revision must be between 1 and %d", part.MaxRevision), nil)
		return NewExitError(ExitCommandError, ErrCodeArgs)
	}

	return withSession(cmd, opts.RootOptions, f, func(ctx context.Context, s *session) error {
		var (
			rec *part.Record
			err error
		)
		if opts.ByIdentity {
			rec, err = s.orch.CreateRevisionForIdentity(ctx, part.LogicalIdentity(target), opts.Revision)
		} else {
			rec, err = s.orch.CreateRevision(ctx, target, opts.Revision)
		}
		if err != nil {
			return fail(f, ExitFailure, err)
		}

		if f.Format == "json" {
			return f.Success(recordOutput(rec))
		}
		fmt.Fprintf(f.Writer, "%s\t%s (revision %d)\n", rec.Identity, rec.FullPartNumber(), rec.CurrentRevision())
		return nil
	})
}

// NewAdoptCommand creates the adopt command.
func NewAdoptCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "adopt <file> <part-number>",
		Short: "Record a part number already written into a file",
		Long: `Record a 12-digit part number found in a file's properties as the
assignment for the file's identity.

The base must be free, or already owned by the same identity. A higher
revision of an owned base is appended.

Example:
  partnum adopt bracket.sldprt 703958945002`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return withSession(cmd, rootOpts, f, func(ctx context.Context, s *session) error {
				res, err := s.orch.Adopt(ctx, args[0], args[1])
				if err != nil {
					return fail(f, ExitFailure, err)
				}
				if f.Format == "json" {
					return f.Success(res)
				}
				state := "mapped"
				if res.IsNew {
					state = "new"
				}
				fmt.Fprintf(f.Writer, "%s\t%s\t%s\n", res.Filename, res.FullPartNumber, state)
				return nil
			})
		},
	}
}

// NewLookupCommand creates the lookup command.
func NewLookupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <part-number>",
		Short: "Show the part a 12-digit part number was issued for",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return withSession(cmd, rootOpts, f, func(ctx context.Context, s *session) error {
				rec, err := s.orch.Lookup(ctx, args[0])
				if err != nil {
					return fail(f, ExitFailure, err)
				}
				if f.Format == "json" {
					return f.Success(recordOutput(rec))
				}
				writeRecordText(f.Writer, rec)
				return nil
			})
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every mapping, sorted by identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return withSession(cmd, rootOpts, f, func(ctx context.Context, s *session) error {
				recs, err := s.orch.List(ctx)
				if err != nil {
					return fail(f, ExitFailure, err)
				}
				if f.Format == "json" {
					out := make([]RecordOutput, len(recs))
					for i, rec := range recs {
						out[i] = recordOutput(rec)
					}
					return f.Success(out)
				}

				tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "IDENTITY\tPART NUMBER\tFILES")
				for _, rec := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%d\n", rec.Identity, rec.FullPartNumber(), len(rec.KnownFilenames))
				}
				tw.Flush()
				fmt.Fprintf(f.Writer, "\n%d part(s)\n", len(recs))
				return nil
			})
		},
	}
}

func writeRecordText(w io.Writer, rec *part.Record) {
	revs := make([]string, len(rec.Revisions))
	for i, r := range rec.Revisions {
		revs[i] = fmt.Sprintf("%03d", r.Number)
	}
	fmt.Fprintf(w, "identity:  %s\n", rec.Identity)
	fmt.Fprintf(w, "base:      %s\n", rec.Base)
	fmt.Fprintf(w, "current:   %s\n", rec.FullPartNumber())
	fmt.Fprintf(w, "revisions: %s\n", strings.Join(revs, ", "))
	for _, name := range rec.KnownFilenames {
		fmt.Fprintf(w, "file:      %s\n", name)
	}
}
