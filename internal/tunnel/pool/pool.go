package pool

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/identity"
	"github.com/go-i2p/kovri/internal/metrics"
	"github.com/go-i2p/kovri/internal/netdb/types"
	"github.com/go-i2p/kovri/internal/tunnel/runtime"
)

// Config sets a pool's shape (§4.8).
type Config struct {
	NumInboundHops     int
	NumOutboundHops    int
	NumInboundTunnels  int
	NumOutboundTunnels int
	// ExplicitPeers restricts paths to these routers when non-empty.
	ExplicitPeers []identity.IdentHash
	// Exploratory pools skip the high-bandwidth selection filter and
	// serve the router's own netDb traffic.
	Exploratory bool
}

// Builder submits a tunnel build for the given path. The tunnel
// manager implements it: it assembles the build records (C6),
// dispatches the VariableTunnelBuild, and registers the Pending
// tunnel it returns so the reply can complete it.
type Builder interface {
	BuildTunnel(peers []*types.RouterInfo, inbound bool, p *Pool) (*runtime.Tunnel, error)
}

// TestSender routes one tunnel-test DeliveryStatus echo out through
// out and back in through in (§4.8: "send a DeliveryStatus echo
// through out→in; index by msg_id").
type TestSender interface {
	SendTunnelTest(out, in *runtime.Tunnel, msgID uint32) error
}

// pendingTest is one outstanding out→in echo.
type pendingTest struct {
	out, in *runtime.Tunnel
	sentAt  time.Time
}

// Pool maintains one destination's tunnels.
type Pool struct {
	cfg     Config
	self    identity.IdentHash
	peers   PeerSource
	trans   TransportPeers
	builder Builder
	tester  TestSender
	log     *slog.Logger

	// name is an in-process correlation handle for logs only; tunnel
	// and message IDs on the wire stay uint32 per the protocol.
	name uuid.UUID

	mu       sync.Mutex
	inbound  []*runtime.Tunnel
	outbound []*runtime.Tunnel
	tests    map[uint32]pendingTest
}

// New creates an idle pool; Maintain drives it.
func New(cfg Config, self identity.IdentHash, peers PeerSource, trans TransportPeers, builder Builder, tester TestSender, log *slog.Logger) *Pool {
	name := uuid.New()
	return &Pool{
		cfg:     cfg,
		self:    self,
		peers:   peers,
		trans:   trans,
		builder: builder,
		tester:  tester,
		log:     log.With("pool", name.String()[:8]),
		name:    name,
		tests:   make(map[uint32]pendingTest),
	}
}

// Config returns the pool's configuration.
func (p *Pool) Config() Config { return p.cfg }

// AdoptTunnel registers a tunnel whose build this pool requested.
func (p *Pool) AdoptTunnel(t *runtime.Tunnel) {
	p.mu.Lock()
	if t.Inbound {
		p.inbound = append(p.inbound, t)
	} else {
		p.outbound = append(p.outbound, t)
	}
	p.mu.Unlock()
}

// EstablishedInbound returns the established inbound tunnels.
func (p *Pool) EstablishedInbound() []*runtime.Tunnel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return established(p.inbound)
}

// EstablishedOutbound returns the established outbound tunnels.
func (p *Pool) EstablishedOutbound() []*runtime.Tunnel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return established(p.outbound)
}

func established(ts []*runtime.Tunnel) []*runtime.Tunnel {
	var out []*runtime.Tunnel
	for _, t := range ts {
		if t.Established() {
			out = append(out, t)
		}
	}
	return out
}

// Maintain is the 15-second pool pass (§4.8): top up to target
// counts, recreate and expire aging tunnels, purge dead ones, and run
// a test cycle.
func (p *Pool) Maintain(now time.Time) {
	p.expireTests(now)
	p.purge(now)

	inEstablished := len(p.EstablishedInbound())
	outEstablished := len(p.EstablishedOutbound())

	for i := inEstablished + p.pendingCount(true); i < p.cfg.NumInboundTunnels; i++ {
		p.build(true)
	}
	for i := outEstablished + p.pendingCount(false); i < p.cfg.NumOutboundTunnels; i++ {
		p.build(false)
	}

	p.mu.Lock()
	all := append(append([]*runtime.Tunnel(nil), p.inbound...), p.outbound...)
	p.mu.Unlock()
	for _, t := range all {
		if !t.Established() {
			continue
		}
		if t.NeedsExpiring(now) {
			t.SetState(runtime.StateExpiring)
			continue
		}
		if t.NeedsRecreate(now) && t.MarkRecreated() {
			p.build(t.Inbound)
		}
	}

	p.runTests(now)
}

func (p *Pool) pendingCount(inbound bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts := p.outbound
	if inbound {
		ts = p.inbound
	}
	n := 0
	for _, t := range ts {
		if s := t.State(); s == runtime.StatePending || s == runtime.StateBuildReplyReceived {
			n++
		}
	}
	return n
}

// build selects a path and submits one tunnel build.
func (p *Pool) build(inbound bool) {
	numHops := p.cfg.NumOutboundHops
	if inbound {
		numHops = p.cfg.NumInboundHops
	}

	var peers []*types.RouterInfo
	var err error
	if len(p.cfg.ExplicitPeers) > 0 {
		peers, _, err = SelectExplicitPeers(p.peers, p.cfg.ExplicitPeers, numHops)
	} else {
		peers, err = SelectPeers(p.peers, p.trans, p.self, numHops, p.cfg.Exploratory)
	}
	if err != nil {
		p.log.Debug("peer selection failed", "inbound", inbound, "error", err)
		return
	}

	// Inbound paths run toward us: the selected list is reversed so
	// the endpoint is the local router (§4.8 step 4).
	if inbound {
		for i, j := 0, len(peers)-1; i < j; i, j = i+1, j-1 {
			peers[i], peers[j] = peers[j], peers[i]
		}
	}

	t, err := p.builder.BuildTunnel(peers, inbound, p)
	if err != nil {
		p.log.Warn("tunnel build submission failed", "inbound", inbound, "error", err)
		metrics.TunnelBuildFailures.Inc()
		return
	}
	p.AdoptTunnel(t)
}

// purge drops tunnels that are past their lifetime, failed, or whose
// build timed out (§5: Pending past 30s → BuildFailed and purged).
func (p *Pool) purge(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbound = purgeList(p.inbound, now)
	p.outbound = purgeList(p.outbound, now)
}

func purgeList(ts []*runtime.Tunnel, now time.Time) []*runtime.Tunnel {
	var keep []*runtime.Tunnel
	for _, t := range ts {
		if t.BuildTimedOut(now) {
			t.SetState(runtime.StateBuildFailed)
		}
		switch {
		case t.Expired(now):
		case t.State() == runtime.StateBuildFailed:
		case t.State() == runtime.StateFailed:
		default:
			keep = append(keep, t)
		}
	}
	return keep
}

// runTests pairs each established outbound with each established
// inbound and sends a DeliveryStatus echo through the pair (§4.8).
func (p *Pool) runTests(now time.Time) {
	if p.tester == nil {
		return
	}
	outs := p.EstablishedOutbound()
	ins := p.EstablishedInbound()
	for _, out := range outs {
		for _, in := range ins {
			var buf [4]byte
			if err := crypto.RandBytes(buf[:]); err != nil {
				return
			}
			msgID := binary.BigEndian.Uint32(buf[:])
			if err := p.tester.SendTunnelTest(out, in, msgID); err != nil {
				p.log.Debug("tunnel test send failed", "error", err)
				continue
			}
			p.mu.Lock()
			p.tests[msgID] = pendingTest{out: out, in: in, sentAt: now}
			p.mu.Unlock()
		}
	}
}

// expireTests advances un-acked test pairs TestFailed → Failed (§4.8:
// "On next cycle, un-acked pairs advance TestFailed → Failed").
func (p *Pool) expireTests(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for msgID, test := range p.tests {
		advance(test.out)
		advance(test.in)
		delete(p.tests, msgID)
	}
}

func advance(t *runtime.Tunnel) {
	switch t.State() {
	case runtime.StateEstablished:
		t.SetState(runtime.StateTestFailed)
	case runtime.StateTestFailed:
		t.SetState(runtime.StateFailed)
	}
}

// ProcessDeliveryStatus completes a tunnel test: both tunnels of the
// pair return to Established (§4.8). It reports whether msgID matched
// a pending test so the caller can route unmatched DeliveryStatus
// messages to the garlic layer instead.
func (p *Pool) ProcessDeliveryStatus(msgID uint32) bool {
	p.mu.Lock()
	test, ok := p.tests[msgID]
	if ok {
		delete(p.tests, msgID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	test.out.SetState(runtime.StateEstablished)
	test.in.SetState(runtime.StateEstablished)
	metrics.TunnelTestsPassed.Inc()
	return true
}

// SelectOutbound returns a random established outbound tunnel.
func (p *Pool) SelectOutbound() (*runtime.Tunnel, bool) {
	ts := p.EstablishedOutbound()
	if len(ts) == 0 {
		return nil, false
	}
	return ts[crypto.RandUint32In(0, uint32(len(ts)))], true
}

// SelectInbound returns a random established inbound tunnel.
func (p *Pool) SelectInbound() (*runtime.Tunnel, bool) {
	ts := p.EstablishedInbound()
	if len(ts) == 0 {
		return nil, false
	}
	return ts[crypto.RandUint32In(0, uint32(len(ts)))], true
}

// String names the pool in logs.
func (p *Pool) String() string {
	return fmt.Sprintf("pool(%s)", p.name.String()[:8])
}
