package netdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/go-i2p/kovri/internal/identity"
	"github.com/go-i2p/kovri/internal/netdb/types"
)

func newSignedRouterInfo(t *testing.T, caps string, published time.Time) (*types.RouterInfo, *identity.PrivateKeys) {
	t.Helper()
	keys, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	ri := &types.RouterInfo{
		Identity:    keys.Identity,
		TimestampMs: uint64(published.UnixMilli()),
		Options:     map[string]string{"caps": caps},
	}
	if err := ri.Sign(keys); err != nil {
		t.Fatal(err)
	}
	return ri, keys
}

func TestStoreAddAndLookupRouterInfo(t *testing.T) {
	s := New(t.TempDir())
	ri, keys := newSignedRouterInfo(t, "", time.Now())
	if err := s.AddRouterInfo(ri); err != nil {
		t.Fatal(err)
	}
	got, ok := s.RouterInfo(keys.Identity.IdentHash())
	if !ok || got != ri {
		t.Fatal("expected to find the stored router info")
	}
}

func TestStoreRejectsBadSignature(t *testing.T) {
	s := New(t.TempDir())
	ri, _ := newSignedRouterInfo(t, "", time.Now())
	ri.Signature[0] ^= 0xFF
	if err := s.AddRouterInfo(ri); err == nil {
		t.Fatal("expected a tampered router info to be rejected")
	}
}

func TestClosestFloodfillExcludesAndOrders(t *testing.T) {
	s := New(t.TempDir())
	now := time.Now()

	var hashes []identity.IdentHash
	for i := 0; i < 5; i++ {
		ri, keys := newSignedRouterInfo(t, "f", now)
		if err := s.AddRouterInfo(ri); err != nil {
			t.Fatal(err)
		}
		hashes = append(hashes, keys.Identity.IdentHash())
	}

	target := hashes[0]
	excluded := map[identity.IdentHash]bool{}
	ff, ok := s.ClosestFloodfill(target, now, excluded)
	if !ok {
		t.Fatal("expected a floodfill result")
	}

	excluded[ff.Identity.IdentHash()] = true
	ff2, ok := s.ClosestFloodfill(target, now, excluded)
	if !ok {
		t.Fatal("expected a second floodfill result")
	}
	if ff2.Identity.IdentHash() == ff.Identity.IdentHash() {
		t.Fatal("expected excluded floodfill to be skipped")
	}

	all := s.ClosestFloodfills(target, 10, now, nil)
	if len(all) != 5 {
		t.Fatalf("expected all 5 floodfills, got %d", len(all))
	}
}

func TestApplyExpiryPolicyIntroducerAge(t *testing.T) {
	s := New(t.TempDir())
	old := time.Now().Add(-2 * time.Hour)
	keys, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	ri := &types.RouterInfo{
		Identity:    keys.Identity,
		TimestampMs: uint64(old.UnixMilli()),
		Addresses: []types.RouterAddress{
			{Transport: types.TransportSSU, NumIntroducers: 1},
		},
		Options: map[string]string{},
	}
	if err := ri.Sign(keys); err != nil {
		t.Fatal(err)
	}
	if err := s.AddRouterInfo(ri); err != nil {
		t.Fatal(err)
	}

	removed := s.ApplyExpiryPolicy(time.Now(), false)
	if len(removed) != 1 {
		t.Fatalf("expected the introducer-aged router to be expired, got %d removed", len(removed))
	}
	if _, ok := s.RouterInfo(keys.Identity.IdentHash()); ok {
		t.Fatal("expected expired router to be removed from the store")
	}
}

func TestApplyExpiryPolicyKeepsFreshRouters(t *testing.T) {
	s := New(t.TempDir())
	ri, keys := newSignedRouterInfo(t, "", time.Now())
	if err := s.AddRouterInfo(ri); err != nil {
		t.Fatal(err)
	}
	removed := s.ApplyExpiryPolicy(time.Now(), false)
	if len(removed) != 0 {
		t.Fatal("expected a freshly published router to survive expiry")
	}
	if _, ok := s.RouterInfo(keys.Identity.IdentHash()); !ok {
		t.Fatal("expected router to remain in the store")
	}
}

func TestNeedsReseed(t *testing.T) {
	s := New(t.TempDir())
	if !s.NeedsReseed() {
		t.Fatal("expected an empty store to need reseed")
	}
	for i := 0; i < reseedThreshold; i++ {
		ri, _ := newSignedRouterInfo(t, "", time.Now())
		if err := s.AddRouterInfo(ri); err != nil {
			t.Fatal(err)
		}
	}
	if s.NeedsReseed() {
		t.Fatal("expected a store with enough routers to not need reseed")
	}
}

func TestSweepExpiredLeaseSets(t *testing.T) {
	s := New(t.TempDir())
	keys, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	ls := &types.LeaseSet{
		Identity:              keys.Identity,
		SigningKeyPlaceholder: make([]byte, 32),
		Leases: []types.Lease{
			{TunnelID: 1, EndDateMs: uint64(time.Now().Add(-time.Minute).UnixMilli())},
		},
	}
	if err := ls.Sign(keys); err != nil {
		t.Fatal(err)
	}
	if err := s.AddLeaseSet(ls); err != nil {
		t.Fatal(err)
	}
	removed := s.SweepExpiredLeaseSets(time.Now())
	if removed != 1 {
		t.Fatalf("expected 1 expired lease set removed, got %d", removed)
	}
	if _, ok := s.LeaseSet(keys.Identity.IdentHash()); ok {
		t.Fatal("expected expired lease set to be gone")
	}
}

func TestSaveAndLoadRouterInfo(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ri, keys := newSignedRouterInfo(t, "f", time.Now())
	if err := s.AddRouterInfo(ri); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRouterInfo(ri); err != nil {
		t.Fatal(err)
	}

	path := descriptorPath(dir, keys.Identity.IdentHash())
	if filepath.Dir(path) == dir {
		t.Fatalf("expected descriptor to live under a netDb shard, got %s", path)
	}

	s2 := New(dir)
	loaded, skipped, err := s2.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if loaded != 1 || skipped != 0 {
		t.Fatalf("loaded=%d skipped=%d, want 1/0", loaded, skipped)
	}
	if _, ok := s2.RouterInfo(keys.Identity.IdentHash()); !ok {
		t.Fatal("expected reloaded store to contain the saved router info")
	}
}
