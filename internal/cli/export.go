package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/partnum/internal/export"
	"github.com/roach88/partnum/internal/part"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Parts  bool   // write the unique part list instead of the mapping table
	Output string // output file; "" writes to stdout
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export [file...]",
		Short: "Export mappings or the part list as CSV",
		Long: `Export the mapping table (one row per known file) as CSV.

With --parts, export the unique part list instead. Files given as
arguments limit the part list to what they resolve to, without assigning
anything.

Example:
  partnum export -o mappings.csv
  partnum export --parts -o parts.csv
  partnum export --parts bracket.sldprt housing.sldasm`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd, args)
		},
	}

	cmd.Flags().BoolVar(&opts.Parts, "parts", false, "export the unique part list")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command, files []string) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if len(files) > 0 && !opts.Parts {
		_ = f.Error(ErrCodeArgs, "file arguments need --parts", nil)
		return NewExitError(ExitCommandError, ErrCodeArgs)
	}

	return withSession(cmd, opts.RootOptions, f, func(ctx context.Context, s *session) error {
		write, err := exportWriter(ctx, s, opts.Parts, files)
		if err != nil {
			return fail(f, ExitFailure, err)
		}

		if opts.Output == "" {
			if err := write(f.Writer); err != nil {
				return fail(f, ExitFailure, err)
			}
			return nil
		}

		out, err := os.Create(opts.Output)
		if err != nil {
			return fail(f, ExitCommandError, err)
		}
		if err := write(out); err != nil {
			out.Close()
			return fail(f, ExitFailure, err)
		}
		if err := out.Close(); err != nil {
			return fail(f, ExitFailure, err)
		}

		if f.Format == "json" {
			return f.Success(map[string]string{"output": opts.Output})
		}
		fmt.Fprintf(f.GetErrWriter(), "wrote %s\n", opts.Output)
		return nil
	})
}

// exportWriter gathers what to export and returns the CSV writer for it.
func exportWriter(ctx context.Context, s *session, parts bool, files []string) (func(io.Writer) error, error) {
	if len(files) > 0 {
		descs := make([]part.Descriptor, len(files))
		for i, file := range files {
			descs[i] = part.Descriptor{Filename: file}
		}
		batch, err := s.orch.Status(ctx, descs)
		if err != nil {
			return nil, err
		}
		numbers := export.ResultPartNumbers(batch.Results)
		return func(w io.Writer) error { return export.WritePartList(w, numbers) }, nil
	}

	recs, err := s.orch.List(ctx)
	if err != nil {
		return nil, err
	}
	if parts {
		numbers := export.CurrentPartNumbers(recs)
		return func(w io.Writer) error { return export.WritePartList(w, numbers) }, nil
	}
	return func(w io.Writer) error { return export.WriteMappings(w, recs) }, nil
}
