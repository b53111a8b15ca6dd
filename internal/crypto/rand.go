// Package crypto implements the cryptographic primitives the router
// core builds on: ElGamal encryption, AES-256-CBC, SHA-256, the
// per-algorithm signature suites of RouterIdentity, and CSPRNG
// helpers. Every exported function here is dual-use by construction —
// callers choose the algorithm; this package never decides policy
// about which suite a new identity should use (see identity.Generate).
package crypto

import (
	"crypto/rand"
	"fmt"
	"io"
)

// RandBytes fills out with cryptographically secure random bytes.
func RandBytes(out []byte) error {
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return fmt.Errorf("crypto: read random bytes: %w", err)
	}
	return nil
}

// RandUint32In returns a uniform random uint32 in [lo, hi). Panics if
// hi <= lo, matching the package's policy of failing fast on caller
// bugs rather than returning a zero-value that could silently skew
// downstream selection.
func RandUint32In(lo, hi uint32) uint32 {
	if hi <= lo {
		panic("crypto: RandUint32In requires hi > lo")
	}
	span := uint64(hi - lo)
	// Rejection sampling to avoid modulo bias.
	limit := (uint64(1) << 32) - (uint64(1)<<32)%span
	for {
		var buf [4]byte
		if err := RandBytes(buf[:]); err != nil {
			// CSPRNG failure is not recoverable; the process
			// cannot make progress without randomness.
			panic(err)
		}
		v := uint64(buf[0])<<24 | uint64(buf[1])<<16 | uint64(buf[2])<<8 | uint64(buf[3])
		if v < limit {
			return lo + uint32(v%span)
		}
	}
}

// Shuffle randomly permutes s in place using a Fisher-Yates shuffle
// driven by the package CSPRNG.
func Shuffle[T any](s []T) {
	for i := len(s) - 1; i > 0; i-- {
		j := RandUint32In(0, uint32(i+1))
		s[i], s[int(j)] = s[int(j)], s[i]
	}
}

// Permutation returns a random permutation of [0, n).
func Permutation(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	Shuffle(p)
	return p
}
