package types

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/identity"
)

// LeaseThreshold is how far ahead of EndDateMs a lease is treated as
// already expired when GetNonExpiredLeases is asked for the
// conservative variant (§4.4, §4.7).
const LeaseThreshold = 60 * time.Second

// Lease is one inbound-tunnel endpoint a destination advertises.
type Lease struct {
	TunnelGateway [identity.IdentHashSize]byte
	TunnelID      uint32
	EndDateMs     uint64
}

// End returns l's expiration time.
func (l Lease) End() time.Time {
	return time.UnixMilli(int64(l.EndDateMs))
}

// LeaseSet is the signed descriptor advertising a destination's
// inbound tunnel endpoints (§4.4).
type LeaseSet struct {
	Identity              *identity.RouterIdentity
	EncryptionKey         crypto.ElGamalPublicKey
	SigningKeyPlaceholder []byte
	Leases                []Lease
	Signature             []byte

	unreachable bool
}

// Unreachable reports whether signature verification previously failed.
func (ls *LeaseSet) Unreachable() bool {
	return ls.unreachable
}

// GetNonExpiredLeases returns the leases not yet expired at now. When
// withThreshold is true, LeaseThreshold is subtracted from each
// lease's EndDateMs before comparison, so a lease about to expire is
// treated as already gone (§4.4: "threshold variant is a subset").
func (ls *LeaseSet) GetNonExpiredLeases(now time.Time, withThreshold bool) []Lease {
	var out []Lease
	for _, l := range ls.Leases {
		deadline := l.End()
		if withThreshold {
			deadline = deadline.Add(-LeaseThreshold)
		}
		if deadline.After(now) {
			out = append(out, l)
		}
	}
	return out
}

func (ls *LeaseSet) signedBytes() []byte {
	var out []byte
	out = append(out, ls.Identity.Bytes()...)
	out = append(out, ls.EncryptionKey[:]...)
	out = append(out, ls.SigningKeyPlaceholder...)
	out = append(out, byte(len(ls.Leases)))
	for _, l := range ls.Leases {
		out = append(out, l.TunnelGateway[:]...)
		out = binary.BigEndian.AppendUint32(out, l.TunnelID)
		out = binary.BigEndian.AppendUint64(out, l.EndDateMs)
	}
	return out
}

// Bytes serializes the full LeaseSet including its signature.
func (ls *LeaseSet) Bytes() []byte {
	return append(ls.signedBytes(), ls.Signature...)
}

// Sign computes ls.Signature over signedBytes using priv.
func (ls *LeaseSet) Sign(priv *identity.PrivateKeys) error {
	sig, err := priv.Sign(ls.signedBytes())
	if err != nil {
		return fmt.Errorf("netdb: sign lease set: %w", err)
	}
	ls.Signature = sig
	ls.unreachable = false
	return nil
}

// Verify checks ls.Signature against ls.Identity; it never panics.
func (ls *LeaseSet) Verify() bool {
	ok := ls.Identity.Verify(ls.signedBytes(), ls.Signature)
	ls.unreachable = !ok
	return ok
}

// ParseLeaseSet decodes a canonical LeaseSet from buf (§4.4, §6).
// num_leases must be > 0 (§4.4 invariant).
func ParseLeaseSet(buf []byte) (*LeaseSet, error) {
	id, err := identity.Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("netdb: parse lease set identity: %w", err)
	}
	off := id.TotalSize()
	ls := &LeaseSet{Identity: id}

	if len(buf) < off+256 {
		return nil, fmt.Errorf("netdb: lease set truncated before encryption key")
	}
	copy(ls.EncryptionKey[:], buf[off:off+256])
	off += 256

	suite, err := crypto.SuiteFor(id.SigType)
	if err != nil {
		return nil, fmt.Errorf("netdb: %w", err)
	}
	signingKeyLen := suite.PublicKeySize()
	if len(buf) < off+signingKeyLen+1 {
		return nil, fmt.Errorf("netdb: lease set truncated before signing key placeholder")
	}
	ls.SigningKeyPlaceholder = append([]byte(nil), buf[off:off+signingKeyLen]...)
	off += signingKeyLen

	numLeases := int(buf[off])
	off++
	if numLeases == 0 {
		return nil, fmt.Errorf("netdb: lease set declares zero leases")
	}

	for i := 0; i < numLeases; i++ {
		const leaseSize = identity.IdentHashSize + 4 + 8
		if len(buf) < off+leaseSize {
			return nil, fmt.Errorf("netdb: lease set truncated in lease %d", i)
		}
		var l Lease
		copy(l.TunnelGateway[:], buf[off:off+identity.IdentHashSize])
		off += identity.IdentHashSize
		l.TunnelID = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
		l.EndDateMs = binary.BigEndian.Uint64(buf[off : off+8])
		off += 8
		ls.Leases = append(ls.Leases, l)
	}

	sigLen := suite.SignatureSize()
	if len(buf) < off+sigLen {
		return nil, fmt.Errorf("netdb: lease set truncated before signature")
	}
	ls.Signature = append([]byte(nil), buf[off:off+sigLen]...)
	return ls, nil
}
