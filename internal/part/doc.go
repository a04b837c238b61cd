// Package part defines the data model shared by the part-number engine.
//
// A LogicalIdentity names "the same part" across export formats and
// renames. Each identity owns exactly one Record, which carries an
// immutable 9-digit base part number, the ordered history of issued
// revisions and every filename ever seen for the identity.
//
// # Part numbers
//
// A full part number is 12 ASCII digits: the 9-digit base followed by the
// zero-padded 3-digit revision.
//
//	full, _ := part.Format("004213377", 2) // "004213377002"
//	base, rev, _ := part.Parse(full)      // "004213377", 2
//
// Format and Parse are pure and mutually inverse for all well-formed input.
//
// # Errors
//
// Every failure the engine can report is a sentinel in this package
// (ErrRevisionOverflow, ErrOrphanedPartNumber, ...), usually wrapped in an
// *Error that records the operation and the identity involved. Use
// errors.Is against the sentinels and Code to classify.
package part
