package su3

import (
	"archive/zip"
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/go-i2p/kovri/internal/identity"
	"github.com/go-i2p/kovri/internal/netdb"
	"github.com/go-i2p/kovri/internal/netdb/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildSU3 assembles a syntactically valid SU3 container around
// content, signed by key under signerID.
func buildSU3(t *testing.T, content []byte, signerID string, key *rsa.PrivateKey) []byte {
	t.Helper()

	version := make([]byte, minVersionLength)
	copy(version, "1")

	buf := make([]byte, headerFixedSize)
	copy(buf[0:6], "I2Psu3")
	binary.BigEndian.PutUint16(buf[8:10], uint16(SigTypeRSASHA5124096))
	binary.BigEndian.PutUint16(buf[10:12], uint16(key.Size()))
	buf[13] = byte(len(version))
	buf[15] = byte(len(signerID))
	binary.BigEndian.PutUint64(buf[16:24], uint64(len(content)))
	buf[25] = byte(FileTypeZip)
	buf[27] = byte(ContentTypeReseed)

	buf = append(buf, version...)
	buf = append(buf, signerID...)
	buf = append(buf, content...)

	h := crypto.SHA512.New()
	h.Write(buf)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA512, h.Sum(nil))
	if err != nil {
		t.Fatal(err)
	}
	return append(buf, sig...)
}

func newSignerCert(t *testing.T, cn string) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return cert, key
}

func reseedZip(t *testing.T, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 0; i < n; i++ {
		keys, err := identity.Generate()
		if err != nil {
			t.Fatal(err)
		}
		ri := &types.RouterInfo{
			Identity:    keys.Identity,
			TimestampMs: uint64(time.Now().UnixMilli()),
			Options:     map[string]string{"caps": "OR"},
		}
		if err := ri.Sign(keys); err != nil {
			t.Fatal(err)
		}
		w, err := zw.Create("routerInfo-" + string(rune('a'+i)) + ".dat")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(ri.Bytes()); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestParseRejectsBadMagic(t *testing.T) {
	raw := make([]byte, 64)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected bad-magic error")
	}
}

func TestParseAndVerifyRoundTrip(t *testing.T) {
	cert, key := newSignerCert(t, "reseed@example.i2p")
	content := reseedZip(t, 1)
	raw := buildSU3(t, content, "reseed@example.i2p", key)

	f, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if f.SignerID != "reseed@example.i2p" || f.ContentType != ContentTypeReseed || f.FileType != FileTypeZip {
		t.Fatalf("parsed header mangled: %+v", f)
	}
	if !bytes.Equal(f.Content, content) {
		t.Fatal("content mangled")
	}

	signers := &SignerStore{certs: map[string]*x509.Certificate{}}
	signers.Add(cert)
	if err := signers.Verify(f); err != nil {
		t.Fatal(err)
	}

	// Tampering with the content must break the signature.
	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-key.Size()-1] ^= 0x01 // last content byte
	f2, err := Parse(tampered)
	if err != nil {
		t.Fatal(err)
	}
	if err := signers.Verify(f2); err == nil {
		t.Fatal("tampered file passed verification")
	}
}

func TestVerifyRejectsUnknownSigner(t *testing.T) {
	_, key := newSignerCert(t, "reseed@example.i2p")
	raw := buildSU3(t, reseedZip(t, 1), "reseed@example.i2p", key)
	f, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}

	signers := &SignerStore{certs: map[string]*x509.Certificate{}}
	if err := signers.Verify(f); err == nil {
		t.Fatal("unknown signer accepted")
	}
}

func TestProcessImportsRouterInfos(t *testing.T) {
	cert, key := newSignerCert(t, "reseed@example.i2p")
	raw := buildSU3(t, reseedZip(t, 3), "reseed@example.i2p", key)

	store := netdb.New(t.TempDir())
	signers := &SignerStore{certs: map[string]*x509.Certificate{}}
	signers.Add(cert)

	r := NewReseeder(store, signers, testLogger())
	added, err := r.Process(raw)
	if err != nil {
		t.Fatal(err)
	}
	if added != 3 {
		t.Fatalf("imported %d routers, want 3", added)
	}
	if store.RouterCount() != 3 {
		t.Fatalf("store holds %d routers, want 3", store.RouterCount())
	}
}

func TestProcessRejectsWrongContentType(t *testing.T) {
	_, key := newSignerCert(t, "x")
	raw := buildSU3(t, reseedZip(t, 1), "x", key)
	// Patch the content type to plugin.
	raw[27] = byte(ContentTypePlugin)

	store := netdb.New(t.TempDir())
	r := NewReseeder(store, &SignerStore{certs: map[string]*x509.Certificate{}}, testLogger())
	if _, err := r.Process(raw); err == nil {
		t.Fatal("non-reseed content type accepted")
	}
}
