package part

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// BaseDigits is the width of a base part number.
	BaseDigits = 9
	// RevisionDigits is the width of the revision suffix.
	RevisionDigits = 3
	// FullDigits is the width of a full part number.
	FullDigits = BaseDigits + RevisionDigits

	// MinRevision is the first revision issued for a new identity.
	MinRevision = 1
	// MaxRevision is the last revision that fits in RevisionDigits.
	MaxRevision = 999

	// BaseSpace is the number of distinct base part numbers.
	BaseSpace uint64 = 1_000_000_000
)

// Format joins a base and a revision into a full part number.
// Revision 0 is accepted so that Format inverts Parse on every
// well-formed 12-digit string; revisions are only issued from MinRevision.
func Format(base string, revision int) (string, error) {
	if !isDigits(base, BaseDigits) {
		return "", &Error{Code: CodeMalformedPartNumber, Op: "format", PartNumber: base, Err: ErrMalformedPartNumber}
	}
	if revision < 0 || revision > MaxRevision {
		return "", &Error{Code: CodeRevisionOverflow, Op: "format", PartNumber: base, Err: ErrRevisionOverflow}
	}
	return fmt.Sprintf("%s%03d", base, revision), nil
}

// Parse splits a full part number into its base and revision. Anything
// other than exactly 12 ASCII digits fails with ErrMalformedPartNumber.
func Parse(full string) (string, int, error) {
	if !isDigits(full, FullDigits) {
		return "", 0, &Error{Code: CodeMalformedPartNumber, Op: "parse", PartNumber: full, Err: ErrMalformedPartNumber}
	}
	rev, err := strconv.Atoi(full[BaseDigits:])
	if err != nil {
		return "", 0, &Error{Code: CodeMalformedPartNumber, Op: "parse", PartNumber: full, Err: ErrMalformedPartNumber}
	}
	return full[:BaseDigits], rev, nil
}

// FormatBase renders n as a zero-padded base part number.
func FormatBase(n uint64) string {
	return fmt.Sprintf("%0*d", BaseDigits, n%BaseSpace)
}

// ValidBase reports whether s is a well-formed base part number.
func ValidBase(s string) bool {
	return isDigits(s, BaseDigits)
}

// PartNumberName returns the part number a file is named after, if its
// stem is exactly 12 ASCII digits ("004213377002.step").
func PartNumberName(filename string) (string, bool) {
	stem := Stem(filename)
	if !isDigits(stem, FullDigits) {
		return "", false
	}
	return stem, true
}

// BaseName strips any directory prefix. Both '/' and '\' separate
// directories so Windows paths recorded on another host still resolve.
func BaseName(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		return filename[i+1:]
	}
	return filename
}

// Stem returns the base name without its final extension. Leading dots do
// not start an extension, so ".step" has the stem ".step".
func Stem(filename string) string {
	name := BaseName(filename)
	lead := len(name) - len(strings.TrimLeft(name, "."))
	if i := strings.LastIndexByte(name[lead:], '.'); i > 0 {
		return name[:lead+i]
	}
	return name
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
