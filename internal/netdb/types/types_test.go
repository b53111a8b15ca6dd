package types

import (
	"testing"
	"time"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/identity"
)

func generateKeys(t *testing.T) *identity.PrivateKeys {
	t.Helper()
	keys, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	return keys
}

// TestRouterInfoRoundTrip exercises invariant 3 of spec.md §8: for
// every RouterInfo constructed through the writer, it re-parses to an
// equal RouterInfo and its signature verifies.
func TestRouterInfoRoundTrip(t *testing.T) {
	keys := generateKeys(t)

	ri := &RouterInfo{
		Identity:    keys.Identity,
		TimestampMs: uint64(time.Now().UnixMilli()),
		Addresses: []RouterAddress{
			{
				Cost:      10,
				Date:      0,
				Transport: TransportNTCP,
				Host:      "203.0.113.7",
				Port:      12345,
			},
			{
				Cost:      30,
				Date:      0,
				Transport: TransportSSU,
				Host:      "203.0.113.7",
				Port:      12346,
				Key:       "somebase64key",
				NumIntroducers: 2,
				Introducers: [MaxIntroducers]Introducer{
					{Host: "198.51.100.1", Port: 1000, Tag: "tag0", Key: "k0"},
					{Host: "198.51.100.2", Port: 1001, Tag: "tag1", Key: "k1"},
				},
			},
		},
		Options: map[string]string{
			"caps":   "fO",
			"netId":  "2",
		},
	}
	if err := ri.Sign(keys); err != nil {
		t.Fatal(err)
	}

	encoded := ri.Bytes()
	parsed, err := ParseRouterInfo(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Verify() {
		t.Fatal("expected signature to verify")
	}
	if parsed.TimestampMs != ri.TimestampMs {
		t.Errorf("timestamp mismatch")
	}
	if len(parsed.Addresses) != 2 {
		t.Fatalf("expected 2 addresses, got %d", len(parsed.Addresses))
	}
	if parsed.Addresses[1].NumIntroducers != 2 {
		t.Fatalf("expected 2 introducers, got %d", parsed.Addresses[1].NumIntroducers)
	}
	if parsed.Addresses[1].Introducers[1].Host != "198.51.100.2" {
		t.Errorf("introducer 1 host = %q", parsed.Addresses[1].Introducers[1].Host)
	}
	if !parsed.IsFloodfill() {
		t.Error("expected floodfill cap")
	}

	reEncoded := parsed.Bytes()
	if string(reEncoded) != string(encoded) {
		t.Error("re-encoding a parsed RouterInfo should reproduce the same bytes")
	}
}

func TestRouterInfoVerifyFailureMarksUnreachable(t *testing.T) {
	keys := generateKeys(t)
	ri := &RouterInfo{Identity: keys.Identity, TimestampMs: 1, Options: map[string]string{}}
	if err := ri.Sign(keys); err != nil {
		t.Fatal(err)
	}
	ri.Signature[0] ^= 0xFF
	if ri.Verify() {
		t.Fatal("expected tampered signature to fail verification")
	}
	if !ri.Unreachable() {
		t.Fatal("expected Unreachable() to be set after failed verification")
	}
}

func TestCapsForBandwidth(t *testing.T) {
	cases := []struct {
		kbps int
		want BandwidthTier
	}{
		{1, TierK}, {20, TierL}, {50, TierM}, {100, TierN},
		{200, TierO}, {1000, TierP}, {10000, TierX},
	}
	for _, c := range cases {
		if got := CapsForBandwidth(c.kbps); got != c.want {
			t.Errorf("CapsForBandwidth(%d) = %c, want %c", c.kbps, got, c.want)
		}
	}
}

// TestLeaseSetNonExpiredSubset exercises invariant 4 of spec.md §8:
// |GetNonExpiredLeases(false)| >= |GetNonExpiredLeases(true)|.
func TestLeaseSetNonExpiredSubset(t *testing.T) {
	keys := generateKeys(t)
	now := time.Now()

	ls := &LeaseSet{
		Identity:              keys.Identity,
		EncryptionKey:         crypto.ElGamalPublicKey{},
		SigningKeyPlaceholder: make([]byte, 32),
		Leases: []Lease{
			{TunnelID: 1, EndDateMs: uint64(now.Add(5 * time.Minute).UnixMilli())},
			{TunnelID: 2, EndDateMs: uint64(now.Add(30 * time.Second).UnixMilli())}, // within threshold window
			{TunnelID: 3, EndDateMs: uint64(now.Add(-time.Minute).UnixMilli())},     // already expired
		},
	}
	if err := ls.Sign(keys); err != nil {
		t.Fatal(err)
	}

	withoutThreshold := ls.GetNonExpiredLeases(now, false)
	withThreshold := ls.GetNonExpiredLeases(now, true)
	if len(withThreshold) > len(withoutThreshold) {
		t.Fatalf("threshold variant returned more leases (%d) than unconstrained (%d)", len(withThreshold), len(withoutThreshold))
	}
	if len(withoutThreshold) != 2 {
		t.Fatalf("expected 2 non-expired leases, got %d", len(withoutThreshold))
	}
	if len(withThreshold) != 1 {
		t.Fatalf("expected 1 lease past the threshold, got %d", len(withThreshold))
	}
}

func TestLeaseSetRoundTrip(t *testing.T) {
	keys := generateKeys(t)
	pub, _, err := crypto.GenerateElGamalKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	ls := &LeaseSet{
		Identity:              keys.Identity,
		EncryptionKey:         pub,
		SigningKeyPlaceholder: make([]byte, 32),
		Leases: []Lease{
			{TunnelID: 99, EndDateMs: uint64(time.Now().Add(time.Hour).UnixMilli())},
		},
	}
	if err := ls.Sign(keys); err != nil {
		t.Fatal(err)
	}
	encoded := ls.Bytes()
	parsed, err := ParseLeaseSet(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Verify() {
		t.Fatal("expected signature to verify")
	}
	if len(parsed.Leases) != 1 || parsed.Leases[0].TunnelID != 99 {
		t.Fatalf("lease round trip mismatch: %+v", parsed.Leases)
	}
}

func TestParseLeaseSetRejectsZeroLeases(t *testing.T) {
	keys := generateKeys(t)
	ls := &LeaseSet{
		Identity:              keys.Identity,
		EncryptionKey:         crypto.ElGamalPublicKey{},
		SigningKeyPlaceholder: make([]byte, 32),
	}
	if err := ls.Sign(keys); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseLeaseSet(ls.Bytes()); err == nil {
		t.Fatal("expected parse to reject a lease set declaring zero leases")
	}
}

func FuzzParseRouterInfo(f *testing.F) {
	keys, err := identity.Generate()
	if err != nil {
		f.Fatal(err)
	}
	ri := &RouterInfo{
		Identity:    keys.Identity,
		TimestampMs: uint64(time.Now().UnixMilli()),
		Options:     map[string]string{"caps": "OR"},
	}
	if err := ri.Sign(keys); err != nil {
		f.Fatal(err)
	}
	f.Add(ri.Bytes())
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		parsed, err := ParseRouterInfo(data)
		if err != nil {
			return
		}
		// Whatever parses must re-serialize and re-parse cleanly.
		if _, err := ParseRouterInfo(parsed.Bytes()); err != nil {
			t.Fatalf("re-serialized router info does not parse: %v", err)
		}
	})
}
