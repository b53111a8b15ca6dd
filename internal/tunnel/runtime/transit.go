package runtime

import (
	"fmt"
	"sync"

	"github.com/go-i2p/kovri/internal/identity"
	"github.com/go-i2p/kovri/internal/tunnel/build"
)

// Forwarder hands a transformed tunnel-data message to the next hop.
// The wire transports implement it; the tunnel manager owns the real
// instance.
type Forwarder interface {
	ForwardTunnelData(next identity.IdentHash, msg *DataMessage) error
}

// TransitTable is the authoritative table of tunnels this router
// participates in as a hop, keyed by receive tunnel ID. The tunnel
// manager task owns mutation (§5); the mutex only covers readers
// racing it.
type TransitTable struct {
	forward Forwarder

	mu      sync.RWMutex
	tunnels map[uint32]*build.TransitTunnel
}

// NewTransitTable creates an empty transit table forwarding through f.
func NewTransitTable(f Forwarder) *TransitTable {
	return &TransitTable{forward: f, tunnels: make(map[uint32]*build.TransitTunnel)}
}

// Add registers an accepted transit tunnel.
func (t *TransitTable) Add(tt *build.TransitTunnel) {
	t.mu.Lock()
	t.tunnels[tt.ReceiveTunnelID] = tt
	t.mu.Unlock()
}

// Remove drops a transit tunnel by receive tunnel ID.
func (t *TransitTable) Remove(receiveTunnelID uint32) {
	t.mu.Lock()
	delete(t.tunnels, receiveTunnelID)
	t.mu.Unlock()
}

// Count reports how many transit tunnels are active, consulted by the
// build acceptance policy (§4.6 MAX_NUM_TRANSIT_TUNNELS).
func (t *TransitTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tunnels)
}

// HandleTunnelData applies this router's single-layer transformation
// to an incoming tunnel-data message and forwards it to the next hop
// (§4.7). A message for an unknown tunnel ID is dropped with an
// error; an endpoint-role tunnel delivers to deliverEndpoint instead
// of forwarding.
func (t *TransitTable) HandleTunnelData(m *DataMessage, deliverEndpoint func(*DataMessage)) error {
	t.mu.RLock()
	tt, ok := t.tunnels[m.TunnelID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("runtime: tunnel data for unknown tunnel %d", m.TunnelID)
	}

	hop := Hop{LayerKey: tt.LayerKey, IVKey: tt.IVKey}
	if err := hop.Transform(m); err != nil {
		return err
	}

	if tt.IsOutboundEndpoint {
		if deliverEndpoint != nil {
			deliverEndpoint(m)
		}
		return nil
	}

	m.TunnelID = tt.NextTunnelID
	return t.forward.ForwardTunnelData(tt.NextIdent, m)
}
