// Package addressbook validates address-book subscription lines
// (`hostname=base64(RouterIdentity)`). Fetching and storing
// subscriptions is out of scope (an external collaborator's concern,
// spec.md §1); this package only implements the pure validation rule
// the core exercises directly (scenario S4).
package addressbook

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-i2p/kovri/internal/identity"
)

// maxLineLength rejects obviously-malformed or abusive subscription
// lines before attempting to base64-decode them.
const maxLineLength = 600

// Entry is a validated address-book line.
type Entry struct {
	Host     string
	Identity *identity.RouterIdentity
}

// ValidateLine parses and validates one address-book subscription
// line of the form "hostname=base64(identity)". It rejects garbage,
// lines over ~600 characters, non-".i2p" hostnames, and empty host or
// address fields (S4).
func ValidateLine(line string) (*Entry, error) {
	if len(line) > maxLineLength {
		return nil, fmt.Errorf("addressbook: line exceeds %d characters", maxLineLength)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("addressbook: empty line")
	}

	idx := strings.IndexByte(line, '=')
	if idx < 0 {
		return nil, fmt.Errorf("addressbook: missing '=' separator")
	}
	host := strings.TrimSpace(line[:idx])
	encoded := strings.TrimSpace(line[idx+1:])

	if host == "" {
		return nil, fmt.Errorf("addressbook: empty host")
	}
	if encoded == "" {
		return nil, fmt.Errorf("addressbook: empty address")
	}
	if !strings.HasSuffix(host, ".i2p") {
		return nil, fmt.Errorf("addressbook: host %q is not a .i2p name", host)
	}

	raw, err := decodeI2PBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("addressbook: decode address: %w", err)
	}

	id, err := identity.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("addressbook: parse identity: %w", err)
	}

	return &Entry{Host: host, Identity: id}, nil
}

// decodeI2PBase64 decodes I2P's "~-" variant of unpadded standard
// base64 used for RouterIdentity/LeaseSet encodings on the wire's text
// surfaces.
func decodeI2PBase64(s string) ([]byte, error) {
	replacer := strings.NewReplacer("~", "/", "-", "+")
	std := replacer.Replace(s)
	if data, err := base64.StdEncoding.DecodeString(std); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(std)
}
