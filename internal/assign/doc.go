// Package assign is the Assignment Orchestrator: the entry point external
// collaborators (folder scans, upload handlers, the CLI) use to turn files
// into part numbers.
//
// # Batch protocol
//
// ResolveOrCreate runs a whole batch inside one store.Update, so the store
// lock is held from the first lookup to the final flush. Two files of one
// batch that share an identity ("part.sldprt", "part.step") therefore see
// each other's assignment and get the same base number.
//
// Per-file problems (a file named after a part number nobody issued) are
// attached to that file's part.Result and do not stop the batch. Allocation
// exhaustion and store failures abort the batch; nothing it did is kept.
//
// # Identity resolution
//
// For every file, in order:
//  1. A name that is itself a 12-digit part number is resolved through the
//     store's reverse index (see package rename)
//  2. Otherwise the caller's identity is used, or the filename is normalized
//  3. A known identity reuses its record; an unknown one is allocated a base
//     and revision 1
package assign
