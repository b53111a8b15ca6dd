package addressbook

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/identity"
)

func validEncodedIdentity(t *testing.T) string {
	t.Helper()
	cryptoPub, _, err := crypto.GenerateElGamalKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	pub, _, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatal(err)
	}
	id, err := identity.New(cryptoPub, crypto.SigTypeEdDSASHA512Ed25519, pub)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(id.Bytes())
}

func TestValidateLineAccepted(t *testing.T) {
	enc := validEncodedIdentity(t)
	line := "anonimal.i2p=" + enc
	entry, err := ValidateLine(line)
	if err != nil {
		t.Fatalf("expected valid line to parse, got %v", err)
	}
	if entry.Host != "anonimal.i2p" {
		t.Errorf("host = %q", entry.Host)
	}
}

func TestValidateLineRejectsGarbage(t *testing.T) {
	if _, err := ValidateLine("not a valid line at all"); err == nil {
		t.Fatal("expected garbage line to be rejected")
	}
}

func TestValidateLineRejectsOverlength(t *testing.T) {
	line := "a.i2p=" + strings.Repeat("A", 700)
	if _, err := ValidateLine(line); err == nil {
		t.Fatal("expected overlength line to be rejected")
	}
}

func TestValidateLineRejectsNonI2PHost(t *testing.T) {
	enc := validEncodedIdentity(t)
	if _, err := ValidateLine("host.com=" + enc); err == nil {
		t.Fatal("expected non-.i2p host to be rejected")
	}
}

func TestValidateLineRejectsEmptyHost(t *testing.T) {
	enc := validEncodedIdentity(t)
	if _, err := ValidateLine("=" + enc); err == nil {
		t.Fatal("expected empty host to be rejected")
	}
}

func TestValidateLineRejectsEmptyAddress(t *testing.T) {
	if _, err := ValidateLine("anonimal.i2p="); err == nil {
		t.Fatal("expected empty address to be rejected")
	}
}
