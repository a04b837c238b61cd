// Package export renders mapping records as the CSV files downstream
// tooling imports: the full mapping table and the unique part list.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/roach88/partnum/internal/part"
)

// MappingHeader is the header row of WriteMappings.
var MappingHeader = []string{"File Path", "Base Part Number", "Revision", "Vendor Part Number"}

// PartListHeader is the header row of WritePartList.
var PartListHeader = []string{"ITEM NO.", "PART NUMBER", "QTY"}

// WriteMappings writes one row per known filename of every record, using
// the record's current revision. Records without known filenames get one
// row with an empty path so no assignment is silently dropped. Rows follow
// record order, then first-seen filename order.
func WriteMappings(w io.Writer, recs []*part.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(MappingHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, rec := range recs {
		full := rec.FullPartNumber()
		rev := strconv.Itoa(rec.CurrentRevision())
		names := rec.KnownFilenames
		if len(names) == 0 {
			names = []string{""}
		}
		for _, name := range names {
			if err := cw.Write([]string{name, rec.Base, rev, full}); err != nil {
				return fmt.Errorf("write row for %q: %w", rec.Identity, err)
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

// WritePartList writes the unique part numbers in ascending order with a
// running item number. QTY is left blank for manual entry.
func WritePartList(w io.Writer, partNumbers []string) error {
	unique := make(map[string]struct{}, len(partNumbers))
	for _, pn := range partNumbers {
		if pn != "" {
			unique[pn] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(unique))
	for pn := range unique {
		sorted = append(sorted, pn)
	}
	sort.Strings(sorted)

	cw := csv.NewWriter(w)
	if err := cw.Write(PartListHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, pn := range sorted {
		if err := cw.Write([]string{strconv.Itoa(i + 1), pn, ""}); err != nil {
			return fmt.Errorf("write part %s: %w", pn, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// CurrentPartNumbers returns each record's current full part number.
func CurrentPartNumbers(recs []*part.Record) []string {
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.FullPartNumber())
	}
	return out
}

// ResultPartNumbers returns the full part numbers a batch resolved to,
// skipping files that did not resolve.
func ResultPartNumbers(results []part.Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		if r.Err == nil && r.FullPartNumber != "" {
			out = append(out, r.FullPartNumber)
		}
	}
	return out
}
