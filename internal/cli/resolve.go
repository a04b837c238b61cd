package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/partnum/internal/assign"
	"github.com/roach88/partnum/internal/part"
)

// BatchOutput is the JSON payload of resolve and status.
type BatchOutput struct {
	BatchID string         `json:"batchId"`
	Results []ResultOutput `json:"results"`
	Summary assign.Summary `json:"summary"`
}

// ResultOutput is one file's outcome with its warning spelled out.
type ResultOutput struct {
	part.Result
	Warning     string `json:"warning,omitempty"`
	WarningCode string `json:"warningCode,omitempty"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <file>...",
		Short: "Resolve files to part numbers, assigning new ones",
		Long: `Resolve every file to its part number in one batch.

Files whose identity was never seen get a new base and revision 001. Files
named after an issued part number map back to the part they came from.
The whole batch is committed at once or not at all.

Example:
  partnum resolve bracket.sldprt housing.sldasm
  partnum resolve --format json ./parts/*.sldprt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(rootOpts, cmd, args, true)
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <file>...",
		Short: "Report mappings without assigning anything",
		Long: `Report what resolve would find for each file without allocating or
recording anything.

Example:
  partnum status ./parts/*.sldprt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(rootOpts, cmd, args, false)
		},
	}
}

func runBatch(opts *RootOptions, cmd *cobra.Command, files []string, create bool) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	descs := make([]part.Descriptor, len(files))
	for i, file := range files {
		descs[i] = part.Descriptor{Filename: file}
	}

	return withSession(cmd, opts, f, func(ctx context.Context, s *session) error {
		call := s.orch.Status
		if create {
			call = s.orch.ResolveOrCreate
		}
		batch, err := call(ctx, descs)
		if err != nil {
			return fail(f, ExitFailure, err)
		}

		out := BatchOutput{
			BatchID: batch.ID,
			Results: make([]ResultOutput, len(batch.Results)),
			Summary: batch.Summary(),
		}
		for i, r := range batch.Results {
			out.Results[i] = ResultOutput{Result: r, Warning: r.Warning()}
			if r.Err != nil {
				out.Results[i].WarningCode = string(part.CodeOf(r.Err))
			}
		}

		if f.Format == "json" {
			return f.Success(out)
		}
		writeBatchText(f.Writer, out, create)
		return nil
	})
}

func writeBatchText(w io.Writer, out BatchOutput, create bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tPART NUMBER\tSTATUS")
	for _, r := range out.Results {
		number := r.FullPartNumber
		if number == "" {
			number = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Filename, number, describe(r.Result, create))
	}
	tw.Flush()

	sum := out.Summary
	fmt.Fprintf(w, "\n%d file(s): %d new, %d already mapped, %d warning(s) [batch %s]\n",
		sum.Total, sum.New, sum.Processed, sum.Warnings, out.BatchID)
}

// describe renders a result's status column.
func describe(r part.Result, create bool) string {
	switch {
	case r.Err != nil:
		return "warning: " + r.Warning()
	case r.IsRenamedFile:
		if len(r.OriginalFilenames) == 0 {
			return "renamed"
		}
		return "renamed from " + strings.Join(r.OriginalFilenames, ", ")
	case r.IsNew:
		return "new"
	case r.HasMapping:
		return "mapped"
	case !create:
		return "unassigned"
	}
	return ""
}
