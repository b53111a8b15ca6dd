package netdb

import (
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/kovri/internal/i2np"
	"github.com/go-i2p/kovri/internal/identity"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []struct {
		dest identity.IdentHash
		typ  i2np.Type
	}
}

func (f *fakeTransport) SendToRouter(dest identity.IdentHash, typ i2np.Type, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, struct {
		dest identity.IdentHash
		typ  i2np.Type
	}{dest, typ})
	return nil
}

func TestHandleDatabaseStoreRouterInfoFloods(t *testing.T) {
	s := New(t.TempDir())
	// Seed a couple of floodfills so the just-stored RI has somewhere
	// to flood to.
	for i := 0; i < 2; i++ {
		ri, _ := newSignedRouterInfo(t, "f", time.Now())
		if err := s.AddRouterInfo(ri); err != nil {
			t.Fatal(err)
		}
	}
	selfKeys, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	transport := &fakeTransport{}
	reqs := NewRequests(s, &fakeSender{})
	h := NewHandler(s, reqs, transport, selfKeys.Identity.IdentHash())

	stored, storedKeys := newSignedRouterInfo(t, "", time.Now())
	gz, err := i2np.GzipRouterInfo(stored.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	p := i2np.DatabaseStorePayload{
		Key:  [32]byte(storedKeys.Identity.IdentHash()),
		Kind: i2np.DatabaseStoreRouterInfo,
		Data: gz,
	}
	if err := h.HandleDatabaseStore(selfKeys.Identity.IdentHash(), p); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.RouterInfo(storedKeys.Identity.IdentHash()); !ok {
		t.Fatal("expected stored router info to be added")
	}
	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.sent) != 2 {
		t.Fatalf("expected flooding to 2 floodfills, got %d sends", len(transport.sent))
	}
}

func TestHandleDatabaseLookupReturnsStoredRecord(t *testing.T) {
	s := New(t.TempDir())
	selfKeys, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	transport := &fakeTransport{}
	reqs := NewRequests(s, &fakeSender{})
	h := NewHandler(s, reqs, transport, selfKeys.Identity.IdentHash())

	ri, keys := newSignedRouterInfo(t, "", time.Now())
	if err := s.AddRouterInfo(ri); err != nil {
		t.Fatal(err)
	}

	lookup := i2np.DatabaseLookupPayload{Key: [32]byte(keys.Identity.IdentHash())}
	typ, payload, encReply, err := h.HandleDatabaseLookup(selfKeys.Identity.IdentHash(), lookup)
	if err != nil {
		t.Fatal(err)
	}
	if typ != i2np.TypeDatabaseStore {
		t.Fatalf("expected a DatabaseStore reply, got type %d", typ)
	}
	if encReply {
		t.Fatal("did not request an encrypted reply")
	}
	dec, err := i2np.DecodeDatabaseStore(payload)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Kind != i2np.DatabaseStoreRouterInfo {
		t.Fatalf("expected RouterInfo kind, got %d", dec.Kind)
	}
}

func TestHandleDatabaseLookupReturnsSearchReplyWhenMissing(t *testing.T) {
	s := New(t.TempDir())
	for i := 0; i < 3; i++ {
		ri, _ := newSignedRouterInfo(t, "f", time.Now())
		if err := s.AddRouterInfo(ri); err != nil {
			t.Fatal(err)
		}
	}
	selfKeys, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	transport := &fakeTransport{}
	reqs := NewRequests(s, &fakeSender{})
	h := NewHandler(s, reqs, transport, selfKeys.Identity.IdentHash())

	var missing identity.IdentHash
	missing[0] = 0xAB
	lookup := i2np.DatabaseLookupPayload{Key: [32]byte(missing)}
	typ, payload, _, err := h.HandleDatabaseLookup(selfKeys.Identity.IdentHash(), lookup)
	if err != nil {
		t.Fatal(err)
	}
	if typ != i2np.TypeDatabaseSearchReply {
		t.Fatalf("expected a DatabaseSearchReply, got type %d", typ)
	}
	reply, err := i2np.DecodeDatabaseSearchReply(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(reply.Peers) != 3 {
		t.Fatalf("expected 3 peer hints, got %d", len(reply.Peers))
	}
}
