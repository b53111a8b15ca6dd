// Package tunnel ties the build protocol, the established-tunnel
// runtime, and the pool scheduler together: the tunnel manager task
// of §5 owns the transit table, every pool's maintenance timers, and
// the pending-build table keyed by reply msg_id.
package tunnel

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/i2np"
	"github.com/go-i2p/kovri/internal/identity"
	"github.com/go-i2p/kovri/internal/metrics"
	"github.com/go-i2p/kovri/internal/netdb"
	"github.com/go-i2p/kovri/internal/netdb/types"
	"github.com/go-i2p/kovri/internal/tunnel/build"
	"github.com/go-i2p/kovri/internal/tunnel/pool"
	"github.com/go-i2p/kovri/internal/tunnel/runtime"
)

// MaxTransitTunnels caps participation (§4.6
// MAX_NUM_TRANSIT_TUNNELS); past it, build requests are refused with
// the bandwidth code.
const MaxTransitTunnels = 2500

// MaintenanceInterval is the pool/transit upkeep cadence (§4.8).
const MaintenanceInterval = 15 * time.Second

// Sender frames and delivers an I2NP payload to a named router; the
// wire transports implement it. A nil msgID draws a random one; the
// build protocol pins msgIDs so replies can be correlated (§4.6).
type Sender interface {
	SendI2NP(to identity.IdentHash, typ i2np.Type, payload []byte, msgID *uint32) error
}

// pendingBuild tracks one in-flight build request until its
// VariableTunnelBuildReply arrives or the build deadline passes.
type pendingBuild struct {
	request *build.Request
	tunnel  *runtime.Tunnel
	pool    *pool.Pool
	first   identity.IdentHash
}

// Manager is the tunnel manager task's state.
type Manager struct {
	self     identity.IdentHash
	keys     *identity.PrivateKeys
	sender   Sender
	profiles *netdb.ProfileStore
	log      *slog.Logger

	// AcceptsTunnels mirrors the router context's flag (§4.6); the
	// context wires it in at startup.
	AcceptsTunnels func() bool

	Transit *runtime.TransitTable

	mu       sync.Mutex
	pending  map[uint32]*pendingBuild
	pools    []*pool.Pool
	gateways map[uint32]*runtime.Gateway // outbound tunnel ID → gateway
}

// NewManager creates a tunnel manager for the local router.
func NewManager(keys *identity.PrivateKeys, sender Sender, profiles *netdb.ProfileStore, log *slog.Logger) *Manager {
	m := &Manager{
		self:     keys.Identity.IdentHash(),
		keys:     keys,
		sender:   sender,
		profiles: profiles,
		log:      log.With("component", "tunnel"),
		pending:  make(map[uint32]*pendingBuild),
		gateways: make(map[uint32]*runtime.Gateway),
	}
	m.Transit = runtime.NewTransitTable(forwarderFunc(func(next identity.IdentHash, msg *runtime.DataMessage) error {
		return sender.SendI2NP(next, i2np.TypeTunnelData, msg.Encode(), nil)
	}))
	return m
}

type forwarderFunc func(identity.IdentHash, *runtime.DataMessage) error

func (f forwarderFunc) ForwardTunnelData(next identity.IdentHash, msg *runtime.DataMessage) error {
	return f(next, msg)
}

// AddPool registers a pool for maintenance.
func (m *Manager) AddPool(p *pool.Pool) {
	m.mu.Lock()
	m.pools = append(m.pools, p)
	m.mu.Unlock()
}

// RemovePool detaches a pool (its destination stopped).
func (m *Manager) RemovePool(p *pool.Pool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, q := range m.pools {
		if q == p {
			m.pools = append(m.pools[:i], m.pools[i+1:]...)
			return
		}
	}
}

// Maintain is the 15-second manager pass: expire timed-out builds,
// run every pool's maintenance, and flush batched gateway traffic
// once per iteration (§5 FlushTunnelDataMsgs).
func (m *Manager) Maintain(now time.Time) {
	m.expireBuilds(now)

	m.mu.Lock()
	pools := append([]*pool.Pool(nil), m.pools...)
	gateways := make([]*runtime.Gateway, 0, len(m.gateways))
	for _, g := range m.gateways {
		gateways = append(gateways, g)
	}
	m.mu.Unlock()

	for _, p := range pools {
		p.Maintain(now)
	}
	for _, g := range gateways {
		if err := g.Flush(); err != nil {
			m.log.Debug("gateway flush failed", "error", err)
		}
	}
	metrics.TransitTunnels.Set(float64(m.Transit.Count()))
}

func (m *Manager) expireBuilds(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for msgID, pb := range m.pending {
		if pb.tunnel.BuildTimedOut(now) {
			pb.tunnel.SetState(runtime.StateBuildFailed)
			delete(m.pending, msgID)
			metrics.TunnelBuildFailures.Inc()
			for _, hop := range pb.request.Hops {
				m.profiles.RecordBad(hop.Ident.IdentHash())
			}
		}
	}
}

// BuildTunnel implements pool.Builder: it mints per-hop key material,
// assembles and dispatches the VariableTunnelBuild, and returns the
// Pending tunnel tracked under the reply msg_id (§4.6). Inbound
// builds are routed out through one of the pool's outbound tunnels
// when available; outbound builds go directly to the first hop.
func (m *Manager) BuildTunnel(peers []*types.RouterInfo, inbound bool, p *pool.Pool) (*runtime.Tunnel, error) {
	if len(peers) == 0 {
		return nil, fmt.Errorf("tunnel: empty path")
	}
	now := time.Now()

	hops := make([]build.HopSpec, len(peers))
	runtimeHops := make([]runtime.Hop, len(peers))
	for i, ri := range peers {
		spec := build.HopSpec{
			Ident:           ri.Identity,
			CryptoPublicKey: ri.Identity.CryptoPublicKey,
			TunnelID:        crypto.RandUint32In(1, 1<<31),
		}
		for _, key := range [][]byte{spec.LayerKey[:], spec.IVKey[:], spec.ReplyKey[:], spec.ReplyIV[:]} {
			if err := crypto.RandBytes(key); err != nil {
				return nil, err
			}
		}
		if !inbound && i == len(peers)-1 {
			spec.OutboundEndpoint = true
		}
		if inbound && i == 0 {
			spec.InboundGateway = true
		}
		hops[i] = spec
		runtimeHops[i] = runtime.Hop{Ident: ri.Identity.IdentHash(), LayerKey: spec.LayerKey, IVKey: spec.IVKey}
	}

	replyMsgID, err := randomID()
	if err != nil {
		return nil, err
	}

	tunnelID := hops[0].TunnelID
	if inbound {
		// The last remote hop hands the fully layered build message
		// back to us; its reply arrives as a VariableTunnelBuild
		// whose msg_id is replyMsgID.
		hops[len(hops)-1].ReplyToIdent = m.self
		hops[len(hops)-1].ReplyToTunnelID = tunnelID
	} else if in, ok := p.SelectInbound(); ok {
		// The outbound endpoint routes the reply back through one of
		// our inbound tunnels.
		hops[len(hops)-1].ReplyToIdent = in.Gateway()
		hops[len(hops)-1].ReplyToTunnelID = in.ID
	} else {
		// Bootstrap: no inbound tunnel yet, ask the endpoint to send
		// the reply straight back.
		hops[len(hops)-1].ReplyToIdent = m.self
	}

	req, err := build.Build(hops, replyMsgID, now)
	if err != nil {
		return nil, err
	}
	payload, err := build.EncodeRecords(req.Records)
	if err != nil {
		return nil, err
	}

	t := runtime.NewTunnel(hops[0].TunnelID, inbound, runtimeHops, now)
	first := peers[0].Identity.IdentHash()

	m.mu.Lock()
	m.pending[replyMsgID] = &pendingBuild{request: req, tunnel: t, pool: p, first: first}
	m.mu.Unlock()

	// Inbound builds travel out through an existing outbound tunnel
	// to reach the path's gateway; outbound builds go straight to the
	// first hop (§4.6 step 6).
	if inbound {
		if out, ok := p.SelectOutbound(); ok {
			inner, err := i2np.Build(i2np.TypeVariableTunnelBuild, payload, nil, now)
			if err == nil {
				if err := m.SendThroughTunnel(out, runtime.TunnelMessageBlock{
					Delivery: runtime.DeliveryRouter,
					DestHash: first,
					Payload:  inner,
				}); err == nil {
					return t, nil
				}
			}
		}
	}
	if err := m.sender.SendI2NP(first, i2np.TypeVariableTunnelBuild, payload, nil); err != nil {
		m.mu.Lock()
		delete(m.pending, replyMsgID)
		m.mu.Unlock()
		return nil, fmt.Errorf("tunnel: dispatch build: %w", err)
	}
	return t, nil
}

// HandleBuildReply completes a pending build when its
// VariableTunnelBuildReply arrives (§4.6 handle_build_response).
func (m *Manager) HandleBuildReply(msgID uint32, payload []byte) error {
	m.mu.Lock()
	pb, ok := m.pending[msgID]
	if ok {
		delete(m.pending, msgID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("tunnel: build reply for unknown msg_id %d", msgID)
	}

	records, err := build.DecodeRecords(payload)
	if err != nil {
		return err
	}
	pb.tunnel.SetState(runtime.StateBuildReplyReceived)

	results, err := pb.request.HandleBuildResponse(records)
	if err != nil {
		pb.tunnel.SetState(runtime.StateBuildFailed)
		return err
	}
	if !build.Established(results) {
		pb.tunnel.SetState(runtime.StateBuildFailed)
		metrics.TunnelBuildFailures.Inc()
		for i, res := range results {
			if !res.Accepted {
				m.profiles.RecordDeclined(pb.request.Hops[i].Ident.IdentHash())
			}
		}
		return nil
	}

	pb.tunnel.SetState(runtime.StateEstablished)
	metrics.TunnelsBuilt.Inc()
	if !pb.tunnel.Inbound {
		m.registerGateway(pb.tunnel)
	}
	return nil
}

// registerGateway attaches a batching gateway to a fresh outbound
// tunnel.
func (m *Manager) registerGateway(t *runtime.Tunnel) {
	g := &runtime.Gateway{
		TunnelID: t.ID,
		Send: func(msg *runtime.DataMessage) error {
			if err := t.LayerEncrypt(msg); err != nil {
				return err
			}
			return m.sender.SendI2NP(t.Gateway(), i2np.TypeTunnelData, msg.Encode(), nil)
		},
	}
	m.mu.Lock()
	m.gateways[t.ID] = g
	m.mu.Unlock()
}

// SendThroughTunnel queues block on an outbound tunnel's gateway
// (§4.7 SendTunnelDataMsg) and flushes immediately; periodic
// maintenance flushes anything queued between passes.
func (m *Manager) SendThroughTunnel(t *runtime.Tunnel, block runtime.TunnelMessageBlock) error {
	m.mu.Lock()
	g, ok := m.gateways[t.ID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("tunnel: no gateway registered for tunnel %d", t.ID)
	}
	g.Queue(block)
	return g.Flush()
}

// acceptPolicy applies §4.6's participation rules.
type acceptPolicy struct{ m *Manager }

func (p acceptPolicy) Accept() (bool, byte) {
	if p.m.AcceptsTunnels != nil && !p.m.AcceptsTunnels() {
		return false, build.StatusRejectBandwidth
	}
	if p.m.Transit.Count() >= MaxTransitTunnels {
		return false, build.StatusRejectBandwidth
	}
	return true, build.StatusAccept
}

// HandleVariableTunnelBuild is the single entry point for incoming
// VariableTunnelBuild messages. A msg_id matching a pending build is
// the turned-around reply of one of our own inbound builds; anything
// else is a participation request (§4.6).
func (m *Manager) HandleVariableTunnelBuild(msgID uint32, payload []byte) error {
	m.mu.Lock()
	_, isOurs := m.pending[msgID]
	m.mu.Unlock()
	if isOurs {
		return m.HandleBuildReply(msgID, payload)
	}
	return m.handleBuildRequest(payload)
}

// handleBuildRequest processes a VariableTunnelBuild addressed to us
// as a participant: decide, install the transit tunnel on accept, and
// forward the re-encrypted record set to the next hop — or, when we
// are the outbound endpoint, turn the reply around toward the
// requester keyed by the record's send_msg_id (§4.6).
func (m *Manager) handleBuildRequest(payload []byte) error {
	records, err := build.DecodeRecords(payload)
	if err != nil {
		return err
	}

	result, replies, err := build.HandleBuildRequestRecords(m.self, m.keys.CryptoPriv, records, acceptPolicy{m}, time.Now())
	if err != nil {
		return err
	}
	cleartext := result.Cleartext
	if result.Transit != nil {
		m.Transit.Add(result.Transit)
	}

	out, err := build.EncodeRecords(replies)
	if err != nil {
		return err
	}

	if cleartext.Flags&build.FlagOutboundEndpoint != 0 {
		return m.sendReply(cleartext, out)
	}
	if cleartext.NextIdent.IsZero() {
		return fmt.Errorf("tunnel: build request names no next hop")
	}
	// Forwarding keeps the record's send_msg_id so the requester of
	// an inbound build recognizes the returning message.
	msgID := cleartext.SendMsgID
	return m.sender.SendI2NP(cleartext.NextIdent, i2np.TypeVariableTunnelBuild, out, &msgID)
}

func (m *Manager) sendReply(c build.Cleartext, payload []byte) error {
	if c.NextIdent.IsZero() {
		return fmt.Errorf("tunnel: build request names no reply gateway")
	}
	if c.NextTunnelID == 0 {
		// Bootstrap path: the requester asked for the reply directly.
		msgID := c.SendMsgID
		return m.sender.SendI2NP(c.NextIdent, i2np.TypeVariableTunnelBuildReply, payload, &msgID)
	}
	msg, err := i2np.Build(i2np.TypeVariableTunnelBuildReply, payload, &c.SendMsgID, time.Now())
	if err != nil {
		return err
	}
	gw := i2np.EncodeTunnelGateway(c.NextTunnelID, msg)
	return m.sender.SendI2NP(c.NextIdent, i2np.TypeTunnelGateway, gw, nil)
}

// HandleTunnelData routes an incoming tunnel-data message through the
// transit table (§4.7).
func (m *Manager) HandleTunnelData(payload []byte, deliverEndpoint func(*runtime.DataMessage)) error {
	msg, err := runtime.DecodeDataMessage(payload)
	if err != nil {
		return err
	}
	return m.Transit.HandleTunnelData(msg, deliverEndpoint)
}

// HandleDeliveryStatus offers a DeliveryStatus msg_id to every pool's
// pending tunnel tests; it reports whether one claimed it.
func (m *Manager) HandleDeliveryStatus(msgID uint32) bool {
	m.mu.Lock()
	pools := append([]*pool.Pool(nil), m.pools...)
	m.mu.Unlock()
	for _, p := range pools {
		if p.ProcessDeliveryStatus(msgID) {
			return true
		}
	}
	return false
}

// SendTunnelTest implements pool.TestSender: a DeliveryStatus echo
// leaves through out and aims at in's gateway (§4.8).
func (m *Manager) SendTunnelTest(out, in *runtime.Tunnel, msgID uint32) error {
	now := time.Now()
	status := i2np.EncodeDeliveryStatus(i2np.DeliveryStatusPayload{MsgID: msgID, TimestampMs: uint64(now.UnixMilli())})
	inner, err := i2np.Build(i2np.TypeDeliveryStatus, status, &msgID, now)
	if err != nil {
		return err
	}
	return m.SendThroughTunnel(out, runtime.TunnelMessageBlock{
		Delivery:     runtime.DeliveryTunnel,
		DestHash:     in.Gateway(),
		DestTunnelID: in.ID,
		Payload:      inner,
	})
}

func randomID() (uint32, error) {
	var buf [4]byte
	if err := crypto.RandBytes(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
