// Package harness runs conformance scenarios against a scratch mapping
// store.
//
// A scenario is a YAML file listing steps (resolve, status, revise,
// adopt), per-file expectations for each step, and assertions on the
// final store. Every scenario runs against a fresh in-memory SQLite store
// with a deterministic clock and a fixed batch ID, so the trace it
// produces is byte-stable and can be compared against a golden file.
//
// Example:
//
//	name: rename_roundtrip
//	description: A file renamed to its part number maps back to its origin
//	flow:
//	  - resolve: [bracket.sldprt]
//	    expect:
//	      - {file: bracket.sldprt, is_new: true, revision: 1}
//	  - resolve: [703958945001.sldprt]
//	    expect:
//	      - file: 703958945001.sldprt
//	        is_renamed_file: true
//	        original_filenames: [bracket.sldprt]
//	assertions:
//	  - type: record_count
//	    count: 1
package harness
