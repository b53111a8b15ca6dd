package crypto

import (
	"bytes"
	"testing"
)

func TestElGamalRoundTrip(t *testing.T) {
	pub, priv, err := GenerateElGamalKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	plaintext := make([]byte, PlaintextSize)
	if err := RandBytes(plaintext); err != nil {
		t.Fatal(err)
	}

	ct, err := ElGamalEncrypt(pub, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if len(ct) != CiphertextSize {
		t.Fatalf("ciphertext size = %d, want %d", len(ct), CiphertextSize)
	}

	got, err := ElGamalDecrypt(priv, ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch")
	}
}

func TestElGamalDecryptRejectsTamperedCiphertext(t *testing.T) {
	pub, priv, err := GenerateElGamalKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	plaintext := make([]byte, PlaintextSize)
	RandBytes(plaintext)
	ct, err := ElGamalEncrypt(pub, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	ct[0] ^= 0xFF
	if _, err := ElGamalDecrypt(priv, ct); err == nil {
		t.Fatal("expected decryption of tampered ciphertext to fail")
	}
}

func TestAES256CBCRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	iv := make([]byte, AESBlockSize)
	RandBytes(key)
	RandBytes(iv)

	buf := make([]byte, 64)
	RandBytes(buf)
	original := append([]byte(nil), buf...)

	ivCopy := append([]byte(nil), iv...)
	if err := AES256CBCEncrypt(key, ivCopy, buf); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(buf, original) {
		t.Fatal("ciphertext equals plaintext")
	}

	ivCopy = append([]byte(nil), iv...)
	if err := AES256CBCDecrypt(key, ivCopy, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, original) {
		t.Fatal("round trip mismatch")
	}
}

// TestEd25519SignVerify exercises invariant 2 of spec.md §8: for a
// freshly generated key pair, verify(pk, m, sign(sk, m)) == true, and
// flipping any bit of the message or signature makes it false. This
// mirrors scenario S2 (signing "From anonimal, with love <3" with an
// EdDSA-Ed25519 key) without depending on the literal test vector,
// which spec.md elides to a prefix/suffix.
func TestEd25519SignVerify(t *testing.T) {
	suite, err := SuiteFor(SigTypeEdDSASHA512Ed25519)
	if err != nil {
		t.Fatal(err)
	}
	pub, priv, err := GenerateEd25519()
	if err != nil {
		t.Fatal(err)
	}

	msg := []byte("From anonimal, with love <3")
	sig, err := suite.Sign(priv, msg)
	if err != nil {
		t.Fatal(err)
	}
	if len(sig) != suite.SignatureSize() {
		t.Fatalf("signature size = %d, want %d", len(sig), suite.SignatureSize())
	}
	if !suite.Verify(pub, msg, sig) {
		t.Fatal("expected valid signature to verify")
	}

	zeroMsg := make([]byte, len(msg))
	if suite.Verify(pub, zeroMsg, sig) {
		t.Fatal("expected verification against a different message to fail")
	}

	zeroSig := make([]byte, len(sig))
	if suite.Verify(pub, msg, zeroSig) {
		t.Fatal("expected verification with a zeroed signature to fail")
	}

	tampered := append([]byte(nil), sig...)
	tampered[0] ^= 0x01
	if suite.Verify(pub, msg, tampered) {
		t.Fatal("expected verification with a tampered signature to fail")
	}
}

func TestECDSASignVerifyAllCurves(t *testing.T) {
	for _, typ := range []SigType{SigTypeECDSASHA256P256, SigTypeECDSASHA384P384, SigTypeECDSASHA512P521} {
		suite, err := SuiteFor(typ)
		if err != nil {
			t.Fatal(err)
		}
		priv := make([]byte, suite.PrivateKeySize())
		RandBytes(priv)
		// Derive a valid scalar in range by reducing is skipped here;
		// ecdsaSuite.Sign derives the public key from the scalar
		// directly via ScalarBaseMult, so any nonzero scalar works.
		msg := []byte("round trip message")
		sig, err := suite.Sign(priv, msg)
		if err != nil {
			t.Fatalf("sigtype %d sign: %v", typ, err)
		}

		// Recompute the matching public key the same way Sign did.
		pub := recomputeECDSAPub(t, typ, priv)
		if !suite.Verify(pub, msg, sig) {
			t.Fatalf("sigtype %d: expected valid signature to verify", typ)
		}
		flipped := append([]byte(nil), msg...)
		flipped[0] ^= 1
		if suite.Verify(pub, flipped, sig) {
			t.Fatalf("sigtype %d: expected verification against altered message to fail", typ)
		}
	}
}

func recomputeECDSAPub(t *testing.T, typ SigType, priv []byte) []byte {
	t.Helper()
	s, err := SuiteFor(typ)
	if err != nil {
		t.Fatal(err)
	}
	es := s.(ecdsaSuite)
	x, y := es.curve.ScalarBaseMult(priv)
	pub := make([]byte, es.PublicKeySize())
	putBig(pub[:es.size], x)
	putBig(pub[es.size:], y)
	return pub
}

func TestRandUint32InUniformRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		v := RandUint32In(5, 9)
		if v < 5 || v >= 9 {
			t.Fatalf("RandUint32In(5,9) = %d, out of range", v)
		}
	}
}

func TestShuffleIsPermutation(t *testing.T) {
	s := []int{0, 1, 2, 3, 4, 5, 6, 7}
	orig := append([]int(nil), s...)
	Shuffle(s)
	seen := make(map[int]bool)
	for _, v := range s {
		seen[v] = true
	}
	for _, v := range orig {
		if !seen[v] {
			t.Fatalf("shuffle lost element %d", v)
		}
	}
}
