package router

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-i2p/kovri/internal/garlic"
	"github.com/go-i2p/kovri/internal/i2np"
	"github.com/go-i2p/kovri/internal/identity"
	"github.com/go-i2p/kovri/internal/netdb"
	"github.com/go-i2p/kovri/internal/tunnel"
	"github.com/go-i2p/kovri/internal/tunnel/pool"
	"github.com/go-i2p/kovri/internal/tunnel/runtime"
)

// Dispatcher routes incoming I2NP messages by type into the netDb,
// tunnel, and garlic subsystems (§2 control flow, §4.10). Failures
// are converted into dropped messages plus a debug log; nothing
// propagates across task boundaries (§7).
type Dispatcher struct {
	ctx      *Context
	store    *netdb.Store
	requests *netdb.Requests
	dbHandler *netdb.Handler
	tunnels  *tunnel.Manager
	dest     *garlic.Destination
	// exploratory is the router's own pool, used for tunnel-delivery
	// cloves and endpoint traffic.
	exploratory *pool.Pool
	sender      tunnel.Sender
	log         *slog.Logger
}

// NewDispatcher wires a Dispatcher over the router's subsystems.
func NewDispatcher(ctx *Context, store *netdb.Store, requests *netdb.Requests, dbHandler *netdb.Handler,
	tunnels *tunnel.Manager, dest *garlic.Destination, exploratory *pool.Pool, sender tunnel.Sender, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		ctx:         ctx,
		store:       store,
		requests:    requests,
		dbHandler:   dbHandler,
		tunnels:     tunnels,
		dest:        dest,
		exploratory: exploratory,
		sender:      sender,
		log:         log.With("component", "dispatch"),
	}
}

// HandleMessage dispatches one parsed I2NP message. Expired messages
// are dropped here: the framing layer's check is informational and
// the drop decision belongs to the consumer (§4.2).
func (d *Dispatcher) HandleMessage(from identity.IdentHash, msg *i2np.Message) {
	now := time.Now()
	if msg.Expired(now) {
		d.log.Debug("dropping expired message", "type", msg.Type, "msg_id", msg.MsgID)
		return
	}
	if err := d.dispatch(from, msg, now); err != nil {
		d.log.Debug("message dropped", "type", msg.Type, "msg_id", msg.MsgID, "error", err)
	}
}

func (d *Dispatcher) dispatch(from identity.IdentHash, msg *i2np.Message, now time.Time) error {
	switch msg.Type {
	case i2np.TypeDatabaseStore:
		p, err := i2np.DecodeDatabaseStore(msg.Payload)
		if err != nil {
			return err
		}
		return d.dbHandler.HandleDatabaseStore(from, p)

	case i2np.TypeDatabaseLookup:
		p, err := i2np.DecodeDatabaseLookup(msg.Payload)
		if err != nil {
			return err
		}
		typ, reply, encrypted, err := d.dbHandler.HandleDatabaseLookup(from, p)
		if err != nil {
			return err
		}
		if encrypted {
			// One-off garlic session under the requester's supplied
			// key and tag (§4.5 encrypted-reply flag).
			inner, err := i2np.Build(typ, reply, nil, now)
			if err != nil {
				return err
			}
			wrapped, err := garlic.WrapOneOff(p.ReplyKey, p.ReplyTag, inner, now)
			if err != nil {
				return err
			}
			return d.sender.SendI2NP(identity.IdentHash(p.From), i2np.TypeGarlic, wrapped, nil)
		}
		return d.sender.SendI2NP(identity.IdentHash(p.From), typ, reply, nil)

	case i2np.TypeDatabaseSearchReply:
		p, err := i2np.DecodeDatabaseSearchReply(msg.Payload)
		if err != nil {
			return err
		}
		hints := make([]identity.IdentHash, 0, len(p.Peers))
		for _, h := range p.Peers {
			hints = append(hints, identity.IdentHash(h))
		}
		d.requests.HandleSearchReply(identity.IdentHash(p.Key), d.ctx.IdentHash(), hints, func(hint identity.IdentHash) {
			if _, known := d.store.RouterInfo(hint); !known {
				d.requests.CreateRequest(hint, false, nil)
			}
		})
		return nil

	case i2np.TypeDeliveryStatus:
		p, err := i2np.DecodeDeliveryStatus(msg.Payload)
		if err != nil {
			return err
		}
		// Tunnel tests claim their echoes first (§4.8); everything
		// else confirms garlic tag/LeaseSet submissions (§4.9).
		if d.tunnels.HandleDeliveryStatus(p.MsgID) {
			return nil
		}
		d.dest.ConfirmDeliveryStatus(p.MsgID)
		return nil

	case i2np.TypeGarlic:
		return d.dest.HandleGarlicMessage(msg.Payload, cloveHandler{d}, now)

	case i2np.TypeTunnelData:
		return d.tunnels.HandleTunnelData(msg.Payload, d.deliverEndpoint)

	case i2np.TypeTunnelGateway:
		tunnelID, inner, err := i2np.DecodeTunnelGateway(msg.Payload)
		if err != nil {
			return err
		}
		return d.handleTunnelGateway(from, tunnelID, inner)

	case i2np.TypeVariableTunnelBuild, i2np.TypeTunnelBuild:
		return d.tunnels.HandleVariableTunnelBuild(msg.MsgID, msg.Payload)

	case i2np.TypeVariableTunnelBuildReply, i2np.TypeTunnelBuildReply:
		return d.tunnels.HandleBuildReply(msg.MsgID, msg.Payload)

	default:
		return fmt.Errorf("router: unhandled message type %d", msg.Type)
	}
}

// handleTunnelGateway feeds a TunnelGateway's embedded message into
// the named tunnel — or, when the tunnel ID names no transit tunnel,
// treats the message as addressed to the local router (the reply path
// a bootstrap build uses).
func (d *Dispatcher) handleTunnelGateway(from identity.IdentHash, tunnelID uint32, inner []byte) error {
	if tunnelID != 0 {
		gw := &runtime.Gateway{
			TunnelID: tunnelID,
			Send: func(m *runtime.DataMessage) error {
				return d.tunnels.Transit.HandleTunnelData(m, d.deliverEndpoint)
			},
		}
		gw.Queue(runtime.TunnelMessageBlock{Delivery: runtime.DeliveryLocal, Payload: inner})
		if err := gw.Flush(); err == nil {
			return nil
		}
	}
	parsed, err := i2np.Parse(inner)
	if err != nil {
		return err
	}
	d.HandleMessage(from, parsed)
	return nil
}

// deliverEndpoint receives tunnel-data messages whose transit role
// marks us the outbound endpoint: the reassembled blocks are
// dispatched by their delivery instructions (§4.7).
func (d *Dispatcher) deliverEndpoint(m *runtime.DataMessage) {
	ep := runtime.NewEndpoint(func(block runtime.TunnelMessageBlock) {
		d.deliverBlock(block)
	})
	if err := ep.HandleDecrypted(m); err != nil {
		d.log.Debug("endpoint delivery failed", "tunnel", m.TunnelID, "error", err)
	}
}

func (d *Dispatcher) deliverBlock(block runtime.TunnelMessageBlock) {
	switch block.Delivery {
	case runtime.DeliveryLocal:
		parsed, err := i2np.Parse(block.Payload)
		if err != nil {
			d.log.Debug("bad local block", "error", err)
			return
		}
		d.HandleMessage(d.ctx.IdentHash(), parsed)
	case runtime.DeliveryRouter:
		parsed, err := i2np.Parse(block.Payload)
		if err != nil {
			d.log.Debug("bad router block", "error", err)
			return
		}
		if err := d.sender.SendI2NP(block.DestHash, parsed.Type, parsed.Payload, &parsed.MsgID); err != nil {
			d.log.Debug("router block forward failed", "error", err)
		}
	case runtime.DeliveryTunnel:
		gw := i2np.EncodeTunnelGateway(block.DestTunnelID, block.Payload)
		if err := d.sender.SendI2NP(block.DestHash, i2np.TypeTunnelGateway, gw, nil); err != nil {
			d.log.Debug("tunnel block forward failed", "error", err)
		}
	}
}

// cloveHandler adapts the Dispatcher to garlic.CloveHandler (§4.9
// receive path).
type cloveHandler struct{ d *Dispatcher }

func (h cloveHandler) HandleLocalClove(raw []byte) {
	parsed, err := i2np.Parse(raw)
	if err != nil {
		h.d.log.Debug("bad clove message", "error", err)
		return
	}
	h.d.HandleMessage(h.d.ctx.IdentHash(), parsed)
}

func (h cloveHandler) HandleTunnelClove(gateway identity.IdentHash, tunnelID uint32, raw []byte) {
	out, ok := h.d.exploratory.SelectOutbound()
	if !ok {
		h.d.log.Debug("no outbound tunnel for tunnel clove")
		return
	}
	err := h.d.tunnels.SendThroughTunnel(out, runtime.TunnelMessageBlock{
		Delivery:     runtime.DeliveryTunnel,
		DestHash:     gateway,
		DestTunnelID: tunnelID,
		Payload:      raw,
	})
	if err != nil {
		h.d.log.Debug("tunnel clove send failed", "error", err)
	}
}
