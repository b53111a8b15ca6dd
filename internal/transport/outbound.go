package transport

import (
	"log/slog"
	"time"

	"github.com/go-i2p/kovri/internal/i2np"
	"github.com/go-i2p/kovri/internal/identity"
	"github.com/go-i2p/kovri/internal/netdb/types"
)

// DeliverFunc hands a framed I2NP message to a wire transport session
// for dest. The NTCP/SSU session layer is an external collaborator;
// it plugs in here.
type DeliverFunc func(dest identity.IdentHash, frame []byte) error

// Outbound frames I2NP payloads and routes them to the wire
// transports. It implements the Sender interfaces the tunnel manager
// and netDb expect.
type Outbound struct {
	deliver DeliverFunc
	log     *slog.Logger
}

// NewOutbound creates an Outbound sender. A nil deliver drops frames
// with a debug log, which keeps the router running (and testable)
// without a live transport session layer.
func NewOutbound(deliver DeliverFunc, log *slog.Logger) *Outbound {
	o := &Outbound{deliver: deliver, log: log.With("component", "transport")}
	if o.deliver == nil {
		o.deliver = func(dest identity.IdentHash, frame []byte) error {
			o.log.Debug("no transport session layer, dropping frame", "dest", dest, "bytes", len(frame))
			return nil
		}
	}
	return o
}

// SendI2NP frames payload and hands it to the session layer
// (tunnel.Sender).
func (o *Outbound) SendI2NP(dest identity.IdentHash, typ i2np.Type, payload []byte, msgID *uint32) error {
	frame, err := i2np.Build(typ, payload, msgID, time.Now())
	if err != nil {
		return err
	}
	return o.deliver(dest, frame)
}

// SendToRouter is the netdb.Transport shape of SendI2NP.
func (o *Outbound) SendToRouter(dest identity.IdentHash, typ i2np.Type, payload []byte) error {
	return o.SendI2NP(dest, typ, payload, nil)
}

// Peers is the transport-session view tunnel peer selection consults
// (§4.8 step 2). With no live session layer both answers are empty,
// which legally short-circuits the already-connected-first-hop
// preference.
type Peers struct{}

// ActivePeerCount reports the live session count.
func (Peers) ActivePeerCount() int { return 0 }

// WellProfiledPeer returns a connected, well-profiled router.
func (Peers) WellProfiledPeer() (*types.RouterInfo, bool) { return nil, false }
