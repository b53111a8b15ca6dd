package runtime

import (
	"sync"
	"time"

	"github.com/go-i2p/kovri/internal/identity"
)

// Tunnel lifecycle timing (§3): a tunnel lives ten minutes from
// creation, is marked Expiring one minute before that, is rebuilt one
// and a half minutes before that, and a build that draws no reply
// within thirty seconds has failed.
const (
	ExpirationTimeout = 10 * time.Minute
	ExpiryThreshold   = 1 * time.Minute
	RecreateThreshold = 90 * time.Second
	BuildTimeout      = 30 * time.Second
)

// State is a tunnel's lifecycle state (§3):
// Pending → BuildReplyReceived → {Established | BuildFailed};
// Established → {Expiring | TestFailed | Failed}.
type State int

const (
	StatePending State = iota
	StateBuildReplyReceived
	StateEstablished
	StateBuildFailed
	StateExpiring
	StateTestFailed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateBuildReplyReceived:
		return "build-reply-received"
	case StateEstablished:
		return "established"
	case StateBuildFailed:
		return "build-failed"
	case StateExpiring:
		return "expiring"
	case StateTestFailed:
		return "test-failed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Tunnel is an established (or establishing) inbound or outbound
// tunnel owned by a pool: the ordered hop chain with its data-phase
// keys, the local tunnel ID, and lifecycle state.
type Tunnel struct {
	ID      uint32
	Inbound bool
	Hops    []Hop // tunnel order: gateway side first, endpoint last

	CreatedAt time.Time

	mu        sync.Mutex
	state     State
	recreated bool
}

// NewTunnel creates a tunnel in the Pending state.
func NewTunnel(id uint32, inbound bool, hops []Hop, now time.Time) *Tunnel {
	return &Tunnel{ID: id, Inbound: inbound, Hops: hops, CreatedAt: now, state: StatePending}
}

// State returns the tunnel's current lifecycle state.
func (t *Tunnel) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState records a lifecycle transition.
func (t *Tunnel) SetState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Established reports whether the tunnel is usable for data.
func (t *Tunnel) Established() bool {
	s := t.State()
	return s == StateEstablished || s == StateTestFailed
}

// MarkRecreated records that a replacement build has been submitted
// so the pool does not resubmit one every maintenance pass.
func (t *Tunnel) MarkRecreated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recreated {
		return false
	}
	t.recreated = true
	return true
}

// NeedsRecreate reports whether the tunnel is old enough that its
// replacement should be building (§4.8: age + recreate_threshold >
// expiration_timeout).
func (t *Tunnel) NeedsRecreate(now time.Time) bool {
	return now.Sub(t.CreatedAt)+RecreateThreshold > ExpirationTimeout
}

// NeedsExpiring reports whether the tunnel should be marked Expiring
// (§4.8: age + expiry_threshold > expiration_timeout).
func (t *Tunnel) NeedsExpiring(now time.Time) bool {
	return now.Sub(t.CreatedAt)+ExpiryThreshold > ExpirationTimeout
}

// Expired reports whether the tunnel is past its hard lifetime.
func (t *Tunnel) Expired(now time.Time) bool {
	return now.Sub(t.CreatedAt) > ExpirationTimeout
}

// BuildTimedOut reports whether a Pending tunnel has waited past the
// build deadline (§5: 30s hard deadline → BuildFailed).
func (t *Tunnel) BuildTimedOut(now time.Time) bool {
	return t.State() == StatePending && now.Sub(t.CreatedAt) > BuildTimeout
}

// Gateway returns the ident hash of the tunnel's first hop.
func (t *Tunnel) Gateway() identity.IdentHash {
	return t.Hops[0].Ident
}

// Endpoint returns the ident hash of the tunnel's last hop.
func (t *Tunnel) Endpoint() identity.IdentHash {
	return t.Hops[len(t.Hops)-1].Ident
}

// LayerEncrypt pre-layers m for sending through an outbound tunnel:
// the inverse transforms are applied from the endpoint back to the
// gateway so that each hop's forward transform peels exactly one
// layer and the endpoint recovers the plaintext (§4.7).
func (t *Tunnel) LayerEncrypt(m *DataMessage) error {
	for i := len(t.Hops) - 1; i >= 0; i-- {
		if err := t.Hops[i].InverseTransform(m); err != nil {
			return err
		}
	}
	return nil
}

// LayerDecrypt unwraps the layers an inbound tunnel's hops applied on
// the way here, recovering the plaintext the remote gateway framed.
// The first transform to undo is the one the last hop applied.
func (t *Tunnel) LayerDecrypt(m *DataMessage) error {
	for i := len(t.Hops) - 1; i >= 0; i-- {
		if err := t.Hops[i].InverseTransform(m); err != nil {
			return err
		}
	}
	return nil
}
