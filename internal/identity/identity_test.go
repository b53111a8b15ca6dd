package identity

import (
	"bytes"
	"testing"
	"time"

	"github.com/go-i2p/kovri/internal/crypto"
)

// TestParseSerializeRoundTrip exercises invariant 1 of spec.md §8: for
// every RouterIdentity, parse(serialize(I)) == I and
// ident_hash(I) == SHA-256(serialize(I)).
func TestParseSerializeRoundTrip(t *testing.T) {
	for _, sigType := range []crypto.SigType{
		crypto.SigTypeEdDSASHA512Ed25519,
		crypto.SigTypeECDSASHA256P256,
		crypto.SigTypeECDSASHA384P384,
		crypto.SigTypeECDSASHA512P521,
		crypto.SigTypeDSASHA1,
	} {
		t.Run(sigTypeName(sigType), func(t *testing.T) {
			id := generateIdentity(t, sigType)

			serialized := id.Bytes()
			parsed, err := Parse(serialized)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if !bytes.Equal(parsed.Bytes(), serialized) {
				t.Fatalf("re-serialized bytes differ")
			}
			if parsed.IdentHash() != id.IdentHash() {
				t.Fatalf("ident hash mismatch")
			}
			want := crypto.SHA256(serialized)
			if [32]byte(parsed.IdentHash()) != want {
				t.Fatalf("ident hash != SHA-256(serialize(I))")
			}
		})
	}
}

func TestParseRejectsShortCertificateExtension(t *testing.T) {
	id := generateIdentity(t, crypto.SigTypeECDSASHA512P521) // 132-byte pubkey needs extension bytes
	serialized := id.Bytes()
	truncated := serialized[:len(serialized)-1]
	if _, err := Parse(truncated); err == nil {
		t.Fatal("expected parse to reject a buffer that under-runs the declared extension length")
	}
}

func TestIdentHashXORCompare(t *testing.T) {
	var a, b IdentHash
	a[0] = 0x01
	b[0] = 0x02
	if a.Compare(b) >= 0 {
		t.Fatal("expected a < b")
	}
	x := a.XOR(b)
	if x[0] != 0x03 {
		t.Fatalf("xor = %x, want 0x03", x[0])
	}
}

// TestRoutingKeyRejectsZeroHash exercises scenario S3: routing_key(0)
// is an error.
func TestRoutingKeyRejectsZeroHash(t *testing.T) {
	if _, err := RoutingKey(IdentHash{}, time.Now()); err == nil {
		t.Fatal("expected routing_key(0) to fail")
	}
}

func TestRoutingKeyIsDateDependent(t *testing.T) {
	var h IdentHash
	h[0] = 0x42

	day1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 2, 0, 30, 0, 0, time.UTC)

	k1, err := RoutingKey(h, day1)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := RoutingKey(h, day2)
	if err != nil {
		t.Fatal(err)
	}
	if k1 == k2 {
		t.Fatal("expected routing key to rotate across a UTC day boundary")
	}

	k1Again, err := RoutingKey(h, day1.Add(6*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k1Again {
		t.Fatal("expected routing key to stay stable within the same UTC day")
	}
}

func generateIdentity(t *testing.T, sigType crypto.SigType) *RouterIdentity {
	t.Helper()
	cryptoPub, _, err := crypto.GenerateElGamalKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	suite, err := crypto.SuiteFor(sigType)
	if err != nil {
		t.Fatal(err)
	}
	signPub := make([]byte, suite.PublicKeySize())
	crypto.RandBytes(signPub)
	id, err := New(cryptoPub, sigType, signPub)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func sigTypeName(t crypto.SigType) string {
	switch t {
	case crypto.SigTypeEdDSASHA512Ed25519:
		return "ed25519"
	case crypto.SigTypeECDSASHA256P256:
		return "ecdsa-p256"
	case crypto.SigTypeECDSASHA384P384:
		return "ecdsa-p384"
	case crypto.SigTypeECDSASHA512P521:
		return "ecdsa-p521"
	case crypto.SigTypeDSASHA1:
		return "dsa-sha1"
	default:
		return "unknown"
	}
}

func FuzzParse(f *testing.F) {
	keys, err := Generate()
	if err != nil {
		f.Fatal(err)
	}
	f.Add(keys.Identity.Bytes())
	f.Add([]byte{})
	f.Add(make([]byte, fixedPrefixSize+certHeaderSize))

	f.Fuzz(func(t *testing.T, data []byte) {
		id, err := Parse(data)
		if err != nil {
			return
		}
		// A parsed identity must re-serialize to something that
		// parses to the same ident hash.
		again, err := Parse(id.Bytes())
		if err != nil {
			t.Fatalf("re-serialized identity does not parse: %v", err)
		}
		if again.IdentHash() != id.IdentHash() {
			t.Fatal("re-serialization changed the ident hash")
		}
	})
}
