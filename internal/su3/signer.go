package su3

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// SignerStore holds the X.509 certificates of the known reseed
// signers, keyed by the signer ID (the certificate's common name).
// Certificates ship with the router install; an SU3 whose signer is
// not in the store is rejected.
type SignerStore struct {
	certs map[string]*x509.Certificate
}

// LoadSigners reads every PEM certificate under dir. Files that fail
// to parse are skipped with a log line; a missing directory yields an
// empty store (reseed then only works with verification disabled).
func LoadSigners(dir string, log *slog.Logger) (*SignerStore, error) {
	s := &SignerStore{certs: make(map[string]*x509.Certificate)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("su3: read signer directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".crt") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Warn("skipping unreadable signer certificate", "file", e.Name(), "error", err)
			continue
		}
		block, _ := pem.Decode(raw)
		if block == nil {
			log.Warn("skipping non-PEM signer certificate", "file", e.Name())
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			log.Warn("skipping unparseable signer certificate", "file", e.Name(), "error", err)
			continue
		}
		s.certs[cert.Subject.CommonName] = cert
	}
	return s, nil
}

// Add registers a signer certificate directly (tests, pinned
// signers).
func (s *SignerStore) Add(cert *x509.Certificate) {
	s.certs[cert.Subject.CommonName] = cert
}

// Len reports the number of known signers.
func (s *SignerStore) Len() int { return len(s.certs) }

// Verify checks f's signature against the signer the file names.
// Reseed files are RSA-signed; the ECDSA/DSA SU3 signature types are
// not accepted here.
func (s *SignerStore) Verify(f *File) error {
	cert, ok := s.certs[f.SignerID]
	if !ok {
		return fmt.Errorf("su3: unknown signer %q", f.SignerID)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("su3: signer %q does not hold an RSA key", f.SignerID)
	}

	var hash crypto.Hash
	switch f.SigType {
	case SigTypeRSASHA2562048:
		hash = crypto.SHA256
	case SigTypeRSASHA3843072:
		hash = crypto.SHA384
	case SigTypeRSASHA5124096:
		hash = crypto.SHA512
	default:
		return fmt.Errorf("su3: unsupported signature type %#04x for reseed", uint16(f.SigType))
	}

	h := hash.New()
	h.Write(f.signedRegion)
	if err := rsa.VerifyPKCS1v15(pub, hash, h.Sum(nil), f.Signature); err != nil {
		return fmt.Errorf("su3: signature verification failed for signer %q: %w", f.SignerID, err)
	}
	return nil
}
