package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"

	"github.com/go-i2p/kovri/internal/crypto"
)

// GenerateFromSeed derives a deterministic PrivateKeys bundle from a
// seed string: the same seed always yields the same identity. Meant
// for the keygen command's --seed mode and for reproducible test
// fixtures; live routers use Generate's CSPRNG path.
func GenerateFromSeed(seed string) (*PrivateKeys, error) {
	signPriv := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(seed), nil, []byte("signing")), signPriv); err != nil {
		return nil, fmt.Errorf("identity: derive signing key: %w", err)
	}
	key := ed25519.NewKeyFromSeed(signPriv)
	signPub := key.Public().(ed25519.PublicKey)

	cryptoPub, cryptoPriv, err := elGamalFromSeed(seed)
	if err != nil {
		return nil, err
	}

	ident, err := New(cryptoPub, crypto.SigTypeEdDSASHA512Ed25519, signPub)
	if err != nil {
		return nil, err
	}
	return &PrivateKeys{Identity: ident, CryptoPriv: cryptoPriv, SigningPriv: []byte(key)}, nil
}

// elGamalFromSeed derives the ElGamal exponent from the seed with a
// distinct HKDF label and reduces it into the group's exponent range.
func elGamalFromSeed(seed string) (crypto.ElGamalPublicKey, crypto.ElGamalPrivateKey, error) {
	raw := make([]byte, 256)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(seed), nil, []byte("elgamal")), raw); err != nil {
		return crypto.ElGamalPublicKey{}, crypto.ElGamalPrivateKey{}, fmt.Errorf("identity: derive elgamal key: %w", err)
	}
	x := new(big.Int).SetBytes(raw)
	pub, priv, err := crypto.ElGamalKeyPairFromExponent(x)
	if err != nil {
		return crypto.ElGamalPublicKey{}, crypto.ElGamalPrivateKey{}, fmt.Errorf("identity: derive elgamal key: %w", err)
	}
	return pub, priv, nil
}
