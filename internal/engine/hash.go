package engine

import (
	"crypto/sha256"
	"encoding/binary"
)

// Bucket maps a (salt, subject) pair to an integer in [0, 100).
//
// The hash input is the byte sequence "salt:subject". The leading 32 bits of
// the SHA-256 digest, read big-endian, are scaled down to the bucket range.
// Identical input yields an identical bucket on every process, forever; this
// is the only determinism primitive used by percentage rollouts and variant
// assignment, so the algorithm must never change.
func Bucket(salt, subject string) int {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte{':'})
	h.Write([]byte(subject))

	var sum [sha256.Size]byte
	head := binary.BigEndian.Uint32(h.Sum(sum[:0])[:4])

	// floor(head / 2^32 * 100), computed without floating point.
	return int(uint64(head) * 100 >> 32)
}
