package tunnel

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-i2p/kovri/internal/i2np"
	"github.com/go-i2p/kovri/internal/identity"
	"github.com/go-i2p/kovri/internal/netdb"
	"github.com/go-i2p/kovri/internal/netdb/types"
	"github.com/go-i2p/kovri/internal/tunnel/pool"
	"github.com/go-i2p/kovri/internal/tunnel/runtime"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentMessage struct {
	To      identity.IdentHash
	Type    i2np.Type
	Payload []byte
	MsgID   *uint32
}

type fakeSender struct{ sent []sentMessage }

func (f *fakeSender) SendI2NP(to identity.IdentHash, typ i2np.Type, payload []byte, msgID *uint32) error {
	var idCopy *uint32
	if msgID != nil {
		v := *msgID
		idCopy = &v
	}
	f.sent = append(f.sent, sentMessage{To: to, Type: typ, Payload: append([]byte(nil), payload...), MsgID: idCopy})
	return nil
}

func newManager(t *testing.T, accepts bool) (*Manager, *fakeSender, *identity.PrivateKeys) {
	t.Helper()
	keys, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	sender := &fakeSender{}
	m := NewManager(keys, sender, netdb.NewProfileStore(t.TempDir()), testLogger())
	m.AcceptsTunnels = func() bool { return accepts }
	return m, sender, keys
}

func routerInfoFor(t *testing.T, keys *identity.PrivateKeys) *types.RouterInfo {
	t.Helper()
	ri := &types.RouterInfo{
		Identity:    keys.Identity,
		TimestampMs: uint64(time.Now().UnixMilli()),
		Options:     map[string]string{"caps": "OR"},
	}
	if err := ri.Sign(keys); err != nil {
		t.Fatal(err)
	}
	return ri
}

func emptyPool(t *testing.T, m *Manager) *pool.Pool {
	t.Helper()
	return pool.New(pool.Config{NumInboundHops: 1, NumOutboundHops: 1}, m.self, nil, nil, m, m, testLogger())
}

// TestSingleHopBuildHandshake drives a one-hop outbound build through
// a participant manager and back: requester dispatch, participant
// accept + transit install, reply turnaround, requester completion.
func TestSingleHopBuildHandshake(t *testing.T) {
	requester, reqSender, _ := newManager(t, true)
	participant, partSender, partKeys := newManager(t, true)

	p := emptyPool(t, requester)
	tun, err := requester.BuildTunnel([]*types.RouterInfo{routerInfoFor(t, partKeys)}, false, p)
	if err != nil {
		t.Fatal(err)
	}
	p.AdoptTunnel(tun)
	if tun.State() != runtime.StatePending {
		t.Fatalf("fresh build state %v, want pending", tun.State())
	}
	if len(reqSender.sent) != 1 || reqSender.sent[0].Type != i2np.TypeVariableTunnelBuild {
		t.Fatalf("requester dispatched %+v, want one VariableTunnelBuild", reqSender.sent)
	}
	if reqSender.sent[0].To != partKeys.Identity.IdentHash() {
		t.Fatal("build went to the wrong first hop")
	}

	if err := participant.HandleVariableTunnelBuild(12345, reqSender.sent[0].Payload); err != nil {
		t.Fatal(err)
	}
	if participant.Transit.Count() != 1 {
		t.Fatalf("participant holds %d transit tunnels, want 1", participant.Transit.Count())
	}
	if len(partSender.sent) != 1 || partSender.sent[0].Type != i2np.TypeVariableTunnelBuildReply {
		t.Fatalf("participant dispatched %+v, want one VariableTunnelBuildReply", partSender.sent)
	}
	if partSender.sent[0].To != requester.self {
		t.Fatal("reply went to the wrong router")
	}
	if partSender.sent[0].MsgID == nil {
		t.Fatal("reply must carry the requester's reply msg_id")
	}

	if err := requester.HandleBuildReply(*partSender.sent[0].MsgID, partSender.sent[0].Payload); err != nil {
		t.Fatal(err)
	}
	if tun.State() != runtime.StateEstablished {
		t.Fatalf("state %v after accepted reply, want established", tun.State())
	}
}

// TestBuildRejectionFailsTunnel covers the refusal path (§4.6,
// scenario S6): a router that does not accept tunnels answers with
// the bandwidth code and the requester's tunnel fails.
func TestBuildRejectionFailsTunnel(t *testing.T) {
	requester, reqSender, _ := newManager(t, true)
	participant, partSender, partKeys := newManager(t, false)

	p := emptyPool(t, requester)
	tun, err := requester.BuildTunnel([]*types.RouterInfo{routerInfoFor(t, partKeys)}, false, p)
	if err != nil {
		t.Fatal(err)
	}

	if err := participant.HandleVariableTunnelBuild(12345, reqSender.sent[0].Payload); err != nil {
		t.Fatal(err)
	}
	if participant.Transit.Count() != 0 {
		t.Fatal("refused build must not install a transit tunnel")
	}

	if err := requester.HandleBuildReply(*partSender.sent[0].MsgID, partSender.sent[0].Payload); err != nil {
		t.Fatal(err)
	}
	if tun.State() != runtime.StateBuildFailed {
		t.Fatalf("state %v after rejection, want build-failed", tun.State())
	}
}

func TestExpireBuildsTimesOutPending(t *testing.T) {
	requester, _, _ := newManager(t, true)
	participantKeys, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}

	p := emptyPool(t, requester)
	tun, err := requester.BuildTunnel([]*types.RouterInfo{routerInfoFor(t, participantKeys)}, false, p)
	if err != nil {
		t.Fatal(err)
	}

	requester.Maintain(time.Now().Add(runtime.BuildTimeout + time.Second))
	if tun.State() != runtime.StateBuildFailed {
		t.Fatalf("state %v after build deadline, want build-failed", tun.State())
	}
}

func TestHandleBuildReplyUnknownMsgID(t *testing.T) {
	m, _, _ := newManager(t, true)
	if err := m.HandleBuildReply(999, nil); err == nil {
		t.Fatal("unknown reply msg_id must error")
	}
}
