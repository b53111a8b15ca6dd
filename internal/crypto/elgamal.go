package crypto

import (
	"crypto/sha256"
	"fmt"
	"math/big"
)

// ElGamal over the 2048-bit MODP group (RFC 3526 Group 14, generator
// 2), matching the modulus size I2P's ElGamal keys use on the wire:
// public/private keys and the two ciphertext components are each
// exactly 256 bytes.
//
// ElGamalEncrypt is not constant-time (math/big.Int.Exp is
// variable-time in the exponent); nothing here processes a secret bit
// width large enough for that to be a practical side channel on the
// public-key operation, but ElGamalDecrypt, which exponentiates by
// the private key, should be treated as best-effort only until pinned
// to a constant-time modexp implementation.
const (
	// PlaintextSize is the fixed size of an ElGamal cleartext block
	// as used by the tunnel build protocol (§3 TunnelBuildRecord).
	PlaintextSize = 222
	// keySize is the byte width of the ElGamal modulus, public key,
	// private key, and each ciphertext component.
	keySize = 256
	// CiphertextSize is the size of an ElGamal ciphertext as used on
	// the wire by TunnelBuildRecord: the two 256-byte components
	// concatenated.
	CiphertextSize = 2 * keySize
)

var (
	elgP, elgG *big.Int
)

func init() {
	const pHex = "" +
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD" +
		"129024E088A67CC74020BBEA63B139B22514A08798E3404" +
		"DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C" +
		"245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406" +
		"B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE" +
		"45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD" +
		"24CF5F83655D23DCA3AD961C62F356208552BB9ED529077" +
		"096966D670C354E4ABC9804F1746C08CA18217C32905E46" +
		"2E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF" +
		"06F4C52C9DE2BCBF6955817183995497CEA956AE515D226" +
		"1898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF"
	var ok bool
	elgP, ok = new(big.Int).SetString(pHex, 16)
	if !ok {
		panic("crypto: invalid ElGamal prime")
	}
	elgG = big.NewInt(2)
}

// ElGamalPublicKey is the 256-byte big-endian encoding of y = g^x mod p.
type ElGamalPublicKey [keySize]byte

// ElGamalPrivateKey is the 256-byte big-endian encoding of the
// exponent x.
type ElGamalPrivateKey [keySize]byte

// GenerateElGamalKeyPair generates a fresh ElGamal key pair.
func GenerateElGamalKeyPair() (ElGamalPublicKey, ElGamalPrivateKey, error) {
	var priv ElGamalPrivateKey
	for {
		var buf [keySize]byte
		if err := RandBytes(buf[:]); err != nil {
			return ElGamalPublicKey{}, ElGamalPrivateKey{}, err
		}
		x := new(big.Int).SetBytes(buf[:])
		two := big.NewInt(2)
		pMinus2 := new(big.Int).Sub(elgP, two)
		if x.Cmp(two) >= 0 && x.Cmp(pMinus2) <= 0 {
			putBig(priv[:], x)
			y := new(big.Int).Exp(elgG, x, elgP)
			var pub ElGamalPublicKey
			putBig(pub[:], y)
			return pub, priv, nil
		}
	}
}

// ElGamalEncrypt encrypts a fixed PlaintextSize-byte message under
// pub, returning a CiphertextSize-byte ciphertext (the two ElGamal
// components, each left-zero-padded to keySize bytes).
func ElGamalEncrypt(pub ElGamalPublicKey, plaintext []byte) ([]byte, error) {
	if len(plaintext) != PlaintextSize {
		return nil, fmt.Errorf("crypto: elgamal plaintext must be %d bytes, got %d", PlaintextSize, len(plaintext))
	}

	padded := padPlaintext(plaintext)
	m := new(big.Int).SetBytes(padded)

	y := new(big.Int).SetBytes(pub[:])

	var kbuf [32]byte
	if err := RandBytes(kbuf[:]); err != nil {
		return nil, err
	}
	k := new(big.Int).SetBytes(kbuf[:])
	k.Mod(k, new(big.Int).Sub(elgP, big.NewInt(2)))
	k.Add(k, big.NewInt(1))

	a := new(big.Int).Exp(elgG, k, elgP)
	s := new(big.Int).Exp(y, k, elgP)
	b := new(big.Int).Mod(new(big.Int).Mul(m, s), elgP)

	out := make([]byte, CiphertextSize)
	putBig(out[:keySize], a)
	putBig(out[keySize:], b)
	return out, nil
}

// ElGamalDecrypt decrypts a CiphertextSize-byte ciphertext under priv,
// returning the original PlaintextSize-byte message. Returns an error
// (never panics) if the padding or embedded checksum does not
// validate, per §7's Crypto error-kind policy.
func ElGamalDecrypt(priv ElGamalPrivateKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != CiphertextSize {
		return nil, fmt.Errorf("crypto: elgamal ciphertext must be %d bytes, got %d", CiphertextSize, len(ciphertext))
	}

	a := new(big.Int).SetBytes(ciphertext[:keySize])
	b := new(big.Int).SetBytes(ciphertext[keySize:])
	x := new(big.Int).SetBytes(priv[:])

	s := new(big.Int).Exp(a, x, elgP)
	sInv := new(big.Int).ModInverse(s, elgP)
	if sInv == nil {
		return nil, fmt.Errorf("crypto: elgamal decrypt: non-invertible shared secret")
	}
	m := new(big.Int).Mod(new(big.Int).Mul(b, sInv), elgP)

	padded := make([]byte, 1+32+PlaintextSize)
	mb := m.Bytes()
	if len(mb) > len(padded) {
		return nil, fmt.Errorf("crypto: elgamal decrypt: plaintext does not conform")
	}
	copy(padded[len(padded)-len(mb):], mb)

	return unpadPlaintext(padded)
}

// padPlaintext builds the 255-byte padded message block: a leading
// 0xFF marker (ensures the integer value is unambiguously large and
// the high byte survives big.Int's minimal encoding), the SHA-256
// checksum of the plaintext, and the plaintext itself. 1 + 32 + 222 =
// 255 bytes, safely below the 256-byte modulus width.
func padPlaintext(plaintext []byte) []byte {
	sum := sha256.Sum256(plaintext)
	padded := make([]byte, 1+32+PlaintextSize)
	padded[0] = 0xFF
	copy(padded[1:33], sum[:])
	copy(padded[33:], plaintext)
	return padded
}

// unpadPlaintext reverses padPlaintext, validating the marker byte
// and checksum.
func unpadPlaintext(padded []byte) ([]byte, error) {
	if len(padded) != 1+32+PlaintextSize {
		return nil, fmt.Errorf("crypto: elgamal decrypt: unexpected padded length %d", len(padded))
	}
	if padded[0] != 0xFF {
		return nil, fmt.Errorf("crypto: elgamal decrypt: bad marker byte")
	}
	plaintext := padded[33:]
	sum := sha256.Sum256(plaintext)
	if !bytesEqual(sum[:], padded[1:33]) {
		return nil, fmt.Errorf("crypto: elgamal decrypt: checksum mismatch")
	}
	out := make([]byte, PlaintextSize)
	copy(out, plaintext)
	return out, nil
}

func putBig(dst []byte, v *big.Int) {
	b := v.Bytes()
	if len(b) > len(dst) {
		// Should not happen for values reduced mod p, but guard
		// rather than silently truncate a secret.
		panic("crypto: big.Int does not fit destination width")
	}
	copy(dst[len(dst)-len(b):], b)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

// ElGamalKeyPairFromExponent builds a key pair from a caller-supplied
// exponent, reduced into [2, p-2]. Deterministic derivation paths
// (seeded test fixtures, keygen --seed) use this; live key generation
// goes through GenerateElGamalKeyPair.
func ElGamalKeyPairFromExponent(x *big.Int) (ElGamalPublicKey, ElGamalPrivateKey, error) {
	span := new(big.Int).Sub(elgP, big.NewInt(3))
	reduced := new(big.Int).Mod(x, span)
	reduced.Add(reduced, big.NewInt(2))

	var priv ElGamalPrivateKey
	putBig(priv[:], reduced)
	y := new(big.Int).Exp(elgG, reduced, elgP)
	var pub ElGamalPublicKey
	putBig(pub[:], y)
	return pub, priv, nil
}
