package runtime

import (
	"bytes"
	"testing"
	"time"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/identity"
	"github.com/go-i2p/kovri/internal/tunnel/build"
)

func newHop(t *testing.T) Hop {
	t.Helper()
	var h Hop
	if err := crypto.RandBytes(h.Ident[:]); err != nil {
		t.Fatal(err)
	}
	crypto.RandBytes(h.LayerKey[:])
	crypto.RandBytes(h.IVKey[:])
	return h
}

func randomDataMessage(t *testing.T, tunnelID uint32) *DataMessage {
	t.Helper()
	m := &DataMessage{TunnelID: tunnelID}
	crypto.RandBytes(m.IV[:])
	crypto.RandBytes(m.Payload[:])
	return m
}

func TestDataMessageEncodeDecodeRoundTrip(t *testing.T) {
	m := randomDataMessage(t, 42)
	decoded, err := DecodeDataMessage(m.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if decoded.TunnelID != m.TunnelID || decoded.IV != m.IV || decoded.Payload != m.Payload {
		t.Fatal("decoded message differs from original")
	}

	if _, err := DecodeDataMessage(make([]byte, DataMessageSize-1)); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestHopTransformInverse(t *testing.T) {
	hop := newHop(t)
	m := randomDataMessage(t, 7)
	orig := *m

	if err := hop.InverseTransform(m); err != nil {
		t.Fatal(err)
	}
	if m.Payload == orig.Payload {
		t.Fatal("inverse transform left payload unchanged")
	}
	if err := hop.Transform(m); err != nil {
		t.Fatal(err)
	}
	if m.IV != orig.IV || m.Payload != orig.Payload {
		t.Fatal("transform did not invert inverse transform")
	}
}

// TestOutboundLayeringPeelsPerHop walks a gateway-encrypted message
// through each hop's forward transform and expects the plaintext to
// emerge at the endpoint.
func TestOutboundLayeringPeelsPerHop(t *testing.T) {
	hops := []Hop{newHop(t), newHop(t), newHop(t)}
	tun := NewTunnel(1, false, hops, time.Now())

	m := randomDataMessage(t, 1)
	orig := *m

	if err := tun.LayerEncrypt(m); err != nil {
		t.Fatal(err)
	}
	for _, hop := range hops {
		if err := hop.Transform(m); err != nil {
			t.Fatal(err)
		}
	}
	if m.IV != orig.IV || m.Payload != orig.Payload {
		t.Fatal("plaintext did not survive the full hop chain")
	}
}

// TestInboundLayeringUnwrapsAtEndpoint applies each hop's transform
// in path order (what the network does to an inbound message) and
// expects LayerDecrypt to recover the gateway's plaintext.
func TestInboundLayeringUnwrapsAtEndpoint(t *testing.T) {
	hops := []Hop{newHop(t), newHop(t)}
	tun := NewTunnel(2, true, hops, time.Now())

	m := randomDataMessage(t, 2)
	orig := *m

	for _, hop := range hops {
		if err := hop.Transform(m); err != nil {
			t.Fatal(err)
		}
	}
	if err := tun.LayerDecrypt(m); err != nil {
		t.Fatal(err)
	}
	if m.IV != orig.IV || m.Payload != orig.Payload {
		t.Fatal("endpoint did not recover the gateway plaintext")
	}
}

func collectBlocks(ep **Endpoint) (*Endpoint, *[]TunnelMessageBlock) {
	var got []TunnelMessageBlock
	e := NewEndpoint(func(b TunnelMessageBlock) { got = append(got, b) })
	*ep = e
	return e, &got
}

func TestGatewayEndpointRoundTripSmallMessages(t *testing.T) {
	var ep *Endpoint
	_, got := collectBlocks(&ep)

	var sent []*DataMessage
	gw := &Gateway{TunnelID: 9, Send: func(m *DataMessage) error {
		sent = append(sent, m)
		return nil
	}}

	var dest identity.IdentHash
	crypto.RandBytes(dest[:])

	gw.Queue(TunnelMessageBlock{Delivery: DeliveryLocal, Payload: []byte("first payload")})
	gw.Queue(TunnelMessageBlock{Delivery: DeliveryTunnel, DestHash: dest, DestTunnelID: 77, Payload: []byte("second payload")})
	gw.Queue(TunnelMessageBlock{Delivery: DeliveryRouter, DestHash: dest, Payload: []byte("third payload")})
	if err := gw.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(sent) == 0 {
		t.Fatal("flush produced no messages")
	}

	for _, m := range sent {
		if err := ep.HandleDecrypted(m); err != nil {
			t.Fatal(err)
		}
	}

	if len(*got) != 3 {
		t.Fatalf("delivered %d blocks, want 3", len(*got))
	}
	b := (*got)[1]
	if b.Delivery != DeliveryTunnel || b.DestTunnelID != 77 || b.DestHash != dest {
		t.Fatalf("tunnel block instructions mangled: %+v", b)
	}
	if !bytes.Equal(b.Payload, []byte("second payload")) {
		t.Fatal("tunnel block payload mangled")
	}
}

func TestGatewayEndpointRoundTripFragmented(t *testing.T) {
	var ep *Endpoint
	_, got := collectBlocks(&ep)

	var sent []*DataMessage
	gw := &Gateway{TunnelID: 3, Send: func(m *DataMessage) error {
		sent = append(sent, m)
		return nil
	}}

	payload := make([]byte, 5000)
	crypto.RandBytes(payload)
	gw.Queue(TunnelMessageBlock{Delivery: DeliveryLocal, Payload: payload})
	if err := gw.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(sent) < 2 {
		t.Fatalf("a 5000-byte payload should fragment across messages, got %d", len(sent))
	}

	for _, m := range sent {
		if err := ep.HandleDecrypted(m); err != nil {
			t.Fatal(err)
		}
	}
	if len(*got) != 1 {
		t.Fatalf("delivered %d blocks, want 1", len(*got))
	}
	if !bytes.Equal((*got)[0].Payload, payload) {
		t.Fatal("reassembled payload differs from original")
	}
}

func TestEndpointRejectsTamperedChecksum(t *testing.T) {
	var ep *Endpoint
	collectBlocks(&ep)

	var sent []*DataMessage
	gw := &Gateway{TunnelID: 4, Send: func(m *DataMessage) error {
		sent = append(sent, m)
		return nil
	}}
	gw.Queue(TunnelMessageBlock{Delivery: DeliveryLocal, Payload: []byte("tamper me")})
	if err := gw.Flush(); err != nil {
		t.Fatal(err)
	}

	sent[0].Payload[PayloadSize-1] ^= 0x01
	if err := ep.HandleDecrypted(sent[0]); err == nil {
		t.Fatal("expected checksum failure")
	}
}

type captureForwarder struct {
	next identity.IdentHash
	msg  *DataMessage
}

func (c *captureForwarder) ForwardTunnelData(next identity.IdentHash, msg *DataMessage) error {
	c.next = next
	c.msg = msg
	return nil
}

func TestTransitTableTransformsAndForwards(t *testing.T) {
	fwd := &captureForwarder{}
	table := NewTransitTable(fwd)

	tt := &build.TransitTunnel{ReceiveTunnelID: 10, NextTunnelID: 20}
	crypto.RandBytes(tt.NextIdent[:])
	crypto.RandBytes(tt.LayerKey[:])
	crypto.RandBytes(tt.IVKey[:])
	table.Add(tt)

	// Pre-apply the inverse so the hop's forward transform restores
	// a recognizable payload.
	m := randomDataMessage(t, 10)
	want := m.Payload
	hop := Hop{LayerKey: tt.LayerKey, IVKey: tt.IVKey}
	if err := hop.InverseTransform(m); err != nil {
		t.Fatal(err)
	}

	if err := table.HandleTunnelData(m, nil); err != nil {
		t.Fatal(err)
	}
	if fwd.msg == nil {
		t.Fatal("message was not forwarded")
	}
	if fwd.next != tt.NextIdent {
		t.Fatal("forwarded to the wrong next hop")
	}
	if fwd.msg.TunnelID != 20 {
		t.Fatalf("forwarded tunnel id %d, want 20", fwd.msg.TunnelID)
	}
	if fwd.msg.Payload != want {
		t.Fatal("hop transform did not restore the payload")
	}

	unknown := randomDataMessage(t, 999)
	if err := table.HandleTunnelData(unknown, nil); err == nil {
		t.Fatal("expected error for unknown tunnel id")
	}
}

func TestTunnelLifecycleThresholds(t *testing.T) {
	now := time.Now()
	tun := NewTunnel(1, false, []Hop{newHop(t)}, now)

	if tun.NeedsRecreate(now) || tun.NeedsExpiring(now) || tun.Expired(now) {
		t.Fatal("fresh tunnel should trip no thresholds")
	}
	if !tun.NeedsRecreate(now.Add(ExpirationTimeout - RecreateThreshold + time.Second)) {
		t.Fatal("tunnel inside the recreate window should ask for a rebuild")
	}
	if !tun.NeedsExpiring(now.Add(ExpirationTimeout - ExpiryThreshold + time.Second)) {
		t.Fatal("tunnel inside the expiry window should be marked expiring")
	}
	if !tun.Expired(now.Add(ExpirationTimeout + time.Second)) {
		t.Fatal("tunnel past its lifetime should be expired")
	}

	if tun.BuildTimedOut(now.Add(BuildTimeout / 2)) {
		t.Fatal("pending tunnel inside the build window timed out early")
	}
	if !tun.BuildTimedOut(now.Add(BuildTimeout + time.Second)) {
		t.Fatal("pending tunnel past the build deadline should time out")
	}
	tun.SetState(StateEstablished)
	if tun.BuildTimedOut(now.Add(BuildTimeout + time.Second)) {
		t.Fatal("established tunnel cannot build-timeout")
	}
}
