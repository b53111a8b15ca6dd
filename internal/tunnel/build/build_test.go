package build

import (
	"testing"
	"time"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/identity"
)

func generateHop(t *testing.T, tunnelID uint32, outboundEndpoint bool) (HopSpec, crypto.ElGamalPrivateKey, identity.IdentHash) {
	t.Helper()
	keys, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	var layerKey, ivKey, replyKey [32]byte
	var replyIV [16]byte
	crypto.RandBytes(layerKey[:])
	crypto.RandBytes(ivKey[:])
	crypto.RandBytes(replyKey[:])
	crypto.RandBytes(replyIV[:])

	hop := HopSpec{
		Ident:            keys.Identity,
		CryptoPublicKey:  keys.Identity.CryptoPublicKey,
		TunnelID:         tunnelID,
		LayerKey:         layerKey,
		IVKey:            ivKey,
		ReplyKey:         replyKey,
		ReplyIV:          replyIV,
		OutboundEndpoint: outboundEndpoint,
	}
	return hop, keys.CryptoPriv, keys.Identity.IdentHash()
}

type acceptPolicy struct{}

func (acceptPolicy) Accept() (bool, byte) { return true, StatusAccept }

type rejectPolicy struct{ status byte }

func (p rejectPolicy) Accept() (bool, byte) { return false, p.status }

// TestFullBuildEstablishesTunnel exercises the full build/participant
// round trip across a 2-hop tunnel where both hops accept.
func TestFullBuildEstablishesTunnel(t *testing.T) {
	hop0, priv0, hash0 := generateHop(t, 100, false)
	hop1, priv1, hash1 := generateHop(t, 200, true)

	req, err := Build([]HopSpec{hop0, hop1}, 0xAABBCCDD, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	records := req.Records

	res0, replies0, err := HandleBuildRequestRecords(hash0, priv0, records, acceptPolicy{}, time.Now())
	if err != nil {
		t.Fatalf("hop0: %v", err)
	}
	if !res0.Accepted {
		t.Fatal("expected hop0 to accept")
	}

	res1, replies1, err := HandleBuildRequestRecords(hash1, priv1, replies0, acceptPolicy{}, time.Now())
	if err != nil {
		t.Fatalf("hop1: %v", err)
	}
	if !res1.Accepted {
		t.Fatal("expected hop1 to accept")
	}

	results, err := req.HandleBuildResponse(replies1)
	if err != nil {
		t.Fatal(err)
	}
	if !Established(results) {
		t.Fatalf("expected tunnel established, got %+v", results)
	}
}

// TestFullBuildRejectionPropagates covers scenario S6: a hop that does
// not accept tunnels writes status 30 and the requester observes the
// rejection after decrypting the reply chain.
func TestFullBuildRejectionPropagates(t *testing.T) {
	hop0, priv0, hash0 := generateHop(t, 100, false)
	hop1, priv1, hash1 := generateHop(t, 200, true)

	req, err := Build([]HopSpec{hop0, hop1}, 0x11223344, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	res0, replies0, err := HandleBuildRequestRecords(hash0, priv0, req.Records, rejectPolicy{status: StatusRejectBandwidth}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if res0.Accepted {
		t.Fatal("expected hop0 to reject")
	}
	if res0.Status != StatusRejectBandwidth {
		t.Fatalf("status = %d, want %d", res0.Status, StatusRejectBandwidth)
	}

	res1, replies1, err := HandleBuildRequestRecords(hash1, priv1, replies0, acceptPolicy{}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !res1.Accepted {
		t.Fatal("expected hop1 to accept")
	}

	results, err := req.HandleBuildResponse(replies1)
	if err != nil {
		t.Fatal(err)
	}
	if Established(results) {
		t.Fatal("expected tunnel not established due to hop0 rejection")
	}
	if results[0].Accepted {
		t.Fatal("expected hop0's result to reflect rejection")
	}
	if !results[1].Accepted {
		t.Fatal("expected hop1's result to reflect acceptance")
	}
}

func TestCleartextRoundTrip(t *testing.T) {
	var c Cleartext
	c.ReceiveTunnelID = 42
	c.LocalIdent[0] = 0x01
	c.NextTunnelID = 43
	c.NextIdent[0] = 0x02
	c.Flags = FlagInboundGateway
	c.RequestTimeSec = 123456
	c.SendMsgID = 999

	encoded := EncodeCleartext(c)
	decoded, err := DecodeCleartext(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.ReceiveTunnelID != c.ReceiveTunnelID || decoded.NextTunnelID != c.NextTunnelID {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
	if decoded.Flags != FlagInboundGateway {
		t.Errorf("flags = %x", decoded.Flags)
	}
}

func TestRecordEncryptDecryptRoundTrip(t *testing.T) {
	keys, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	c := Cleartext{ReceiveTunnelID: 7, SendMsgID: 8}
	rec, err := EncryptRecord(keys.Identity.IdentHash(), keys.Identity.CryptoPublicKey, c)
	if err != nil {
		t.Fatal(err)
	}
	if !MatchesPeer(rec, keys.Identity.IdentHash()) {
		t.Fatal("expected record to match the peer it was addressed to")
	}
	decoded, err := DecryptRecord(keys.CryptoPriv, rec)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.ReceiveTunnelID != 7 || decoded.SendMsgID != 8 {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}
