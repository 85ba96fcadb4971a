// Package cryptox computes and verifies content digests for cached blobs.
package cryptox

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// DigestPrefix tags digests so the algorithm can change without a schema bump.
const DigestPrefix = "blake2b-256:"

var ErrDigestMismatch = errors.New("digest mismatch")

// Digest returns the prefixed hex BLAKE2b-256 sum of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return DigestPrefix + hex.EncodeToString(sum[:])
}

// Verify recomputes the digest of data and compares it with want in
// constant time.
func Verify(data []byte, want string) error {
	got := Digest(data)
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return fmt.Errorf("%w: want %s, got %s", ErrDigestMismatch, want, got)
	}
	return nil
}
