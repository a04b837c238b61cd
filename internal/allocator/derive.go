// Package allocator mints base part numbers and sequences revisions.
//
// Base numbers come from a pure derivation (Derive) and an explicit,
// bounded collision policy (Allocator.AllocateBase). Derivation uses
// SHA-256 with domain separation:
//
//	SHA256("partnum/base/v1" || 0x00 || identity || 0x00 || salt)
//
// reduced modulo the base space. The first candidate uses salt 0; on
// collision the salt is incremented and the identity re-hashed, up to a
// configured number of attempts. After that the allocator falls back to
// a linear probe from the last candidate, so a free number is always
// found while one exists.
package allocator

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/roach88/partnum/internal/part"
)

// DomainBase is the hash domain for base part numbers. The version suffix
// allows a future derivation change without ambiguity.
const DomainBase = "partnum/base/v1"

// Derive returns the base part number candidate for identity under salt.
// It is pure: the same inputs always give the same 9-digit string.
func Derive(identity part.LogicalIdentity, salt uint32) string {
	return part.FormatBase(derive(identity, salt, part.BaseSpace))
}

func derive(identity part.LogicalIdentity, salt uint32, space uint64) uint64 {
	var saltBytes [4]byte
	binary.BigEndian.PutUint32(saltBytes[:], salt)

	h := sha256.New()
	h.Write([]byte(DomainBase))
	h.Write([]byte{0x00})
	h.Write([]byte(identity))
	h.Write([]byte{0x00})
	h.Write(saltBytes[:])
	sum := h.Sum(nil)

	return binary.BigEndian.Uint64(sum[:8]) % space
}
