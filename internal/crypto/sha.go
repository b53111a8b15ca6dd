package crypto

import "crypto/sha256"

// SHA256 returns the SHA-256 digest of data.
func SHA256(data ...[]byte) [32]byte {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
