package part

import (
	"errors"
	"fmt"
)

// Sentinel errors for the assignment engine. Match with errors.Is.
var (
	ErrAllocationExhausted = errors.New("base part number space exhausted")
	ErrRevisionOverflow    = errors.New("revision exceeds 999")
	ErrInvalidRevision     = errors.New("revision must be greater than the current revision")
	ErrMalformedPartNumber = errors.New("malformed part number")
	ErrDuplicateIdentity   = errors.New("identity already has an assignment")
	ErrUnknownIdentity     = errors.New("identity has no assignment")
	ErrOrphanedPartNumber  = errors.New("part number is not owned by any record")
	ErrBaseConflict        = errors.New("base part number belongs to another identity")
	ErrStoreBusy           = errors.New("mapping store is busy")
	ErrNormalizerMismatch  = errors.New("normalization rules differ from the rules the store was built with")
)

// Code classifies an Error for reporting.
type Code string

const (
	CodeAllocationExhausted Code = "ALLOCATION_EXHAUSTED"
	CodeRevisionOverflow    Code = "REVISION_OVERFLOW"
	CodeInvalidRevision     Code = "INVALID_REVISION"
	CodeMalformedPartNumber Code = "MALFORMED_PART_NUMBER"
	CodeDuplicateIdentity   Code = "DUPLICATE_IDENTITY"
	CodeUnknownIdentity     Code = "UNKNOWN_IDENTITY"
	CodeOrphanedPartNumber  Code = "ORPHANED_PART_NUMBER"
	CodeBaseConflict        Code = "BASE_CONFLICT"
	CodeStoreBusy           Code = "STORE_BUSY"
	CodeNormalizerMismatch  Code = "NORMALIZER_MISMATCH"
	CodeStoreIO             Code = "STORE_IO"
)

// Error is a classified engine error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op names the operation that failed ("parse", "append revision", ...).
	Op string

	// Identity is the affected identity, if any.
	Identity LogicalIdentity

	// PartNumber is the affected base or full part number, if any.
	PartNumber string

	// Err is the underlying sentinel or I/O error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op + ": "
	if e.Err != nil {
		msg += e.Err.Error()
	} else {
		msg += string(e.Code)
	}
	switch {
	case e.Identity != "" && e.PartNumber != "":
		return fmt.Sprintf("%s (identity=%q, part=%s)", msg, e.Identity, e.PartNumber)
	case e.Identity != "":
		return fmt.Sprintf("%s (identity=%q)", msg, e.Identity)
	case e.PartNumber != "":
		return fmt.Sprintf("%s (part=%s)", msg, e.PartNumber)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the Code of the first *Error in err's chain. Errors that
// carry no code are reported as CodeStoreIO, since everything else the
// engine returns is classified.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeStoreIO
}

// IsWarning reports whether err is a per-file condition that does not
// abort a batch.
func IsWarning(err error) bool {
	return errors.Is(err, ErrOrphanedPartNumber) || errors.Is(err, ErrMalformedPartNumber)
}
