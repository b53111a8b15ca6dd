package identity

import (
	"fmt"

	"github.com/go-i2p/kovri/internal/crypto"
)

// PrivateKeys bundles a RouterIdentity with the private halves of its
// ElGamal and signing key pairs (§6 persisted state: "router.keys").
// Sign is only meaningful when signingPriv is non-empty; identities
// parsed from a RouterInfo/LeaseSet on the wire never carry private
// material and so have no PrivateKeys counterpart (§4.3: "sign(msg)
// is available only on PrivateKeys variants that carry a signer").
type PrivateKeys struct {
	Identity     *RouterIdentity
	CryptoPriv   crypto.ElGamalPrivateKey
	SigningPriv  []byte
}

// Generate creates a fresh PrivateKeys bundle using EdDSA-Ed25519,
// the required default signing algorithm for new identities (§3).
func Generate() (*PrivateKeys, error) {
	cryptoPub, cryptoPriv, err := crypto.GenerateElGamalKeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate elgamal key pair: %w", err)
	}
	signPub, signPriv, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, fmt.Errorf("identity: generate signing key pair: %w", err)
	}
	ident, err := New(cryptoPub, crypto.SigTypeEdDSASHA512Ed25519, signPub)
	if err != nil {
		return nil, err
	}
	return &PrivateKeys{Identity: ident, CryptoPriv: cryptoPriv, SigningPriv: signPriv}, nil
}

// Sign signs msg with the bundle's signing private key.
func (pk *PrivateKeys) Sign(msg []byte) ([]byte, error) {
	suite, err := crypto.SuiteFor(pk.Identity.SigType)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	sig, err := suite.Sign(pk.SigningPriv, msg)
	if err != nil {
		return nil, fmt.Errorf("identity: sign: %w", err)
	}
	return sig, nil
}

// Decrypt decrypts an ElGamal ciphertext addressed to this identity's
// crypto public key.
func (pk *PrivateKeys) Decrypt(ciphertext []byte) ([]byte, error) {
	pt, err := crypto.ElGamalDecrypt(pk.CryptoPriv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("identity: decrypt: %w", err)
	}
	return pt, nil
}

// Bytes serializes the bundle as identity ‖ elgamal_private[256] ‖
// signing_private (§6).
func (pk *PrivateKeys) Bytes() []byte {
	out := append([]byte(nil), pk.Identity.Bytes()...)
	out = append(out, pk.CryptoPriv[:]...)
	out = append(out, pk.SigningPriv...)
	return out
}

// ParsePrivateKeys decodes a PrivateKeys bundle previously produced by
// Bytes. The signing private key length is derived from the
// identity's declared signing algorithm.
func ParsePrivateKeys(buf []byte) (*PrivateKeys, error) {
	// RouterIdentity has a variable length; parse it first to learn
	// where the fixed-size ElGamal private key begins.
	ident, err := Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("identity: parse private keys: %w", err)
	}
	identLen := ident.TotalSize()
	rest := buf[identLen:]
	if len(rest) < 256 {
		return nil, fmt.Errorf("identity: private key bundle truncated before elgamal private key")
	}
	var cryptoPriv crypto.ElGamalPrivateKey
	copy(cryptoPriv[:], rest[:256])
	rest = rest[256:]

	suite, err := crypto.SuiteFor(ident.SigType)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	if len(rest) < suite.PrivateKeySize() {
		return nil, fmt.Errorf("identity: private key bundle truncated before signing private key")
	}
	signingPriv := append([]byte(nil), rest[:suite.PrivateKeySize()]...)

	return &PrivateKeys{Identity: ident, CryptoPriv: cryptoPriv, SigningPriv: signingPriv}, nil
}
