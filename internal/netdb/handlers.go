package netdb

import (
	"fmt"
	"time"

	"github.com/go-i2p/kovri/internal/i2np"
	"github.com/go-i2p/kovri/internal/identity"
	"github.com/go-i2p/kovri/internal/netdb/types"
)

// floodCount is how many closest floodfills receive a just-stored
// RouterInfo/LeaseSet (§4.5: "flood to three closest floodfills").
const floodCount = 3

// Transport delivers raw I2NP payloads to a specific router, and
// fabricates reply messages back to a lookup originator. It is
// implemented by the tunnel/garlic layers, external to this package.
type Transport interface {
	SendToRouter(dest identity.IdentHash, i2npType i2np.Type, payload []byte) error
}

// Handler implements the DatabaseStore/DatabaseLookup message handling
// rules of §4.5 against a Store and Requests manager.
type Handler struct {
	store    *Store
	requests *Requests
	transport Transport
	self     identity.IdentHash
}

// NewHandler builds a message Handler for this router's own identity
// hash self.
func NewHandler(store *Store, requests *Requests, transport Transport, self identity.IdentHash) *Handler {
	return &Handler{store: store, requests: requests, transport: transport, self: self}
}

// HandleDatabaseStore verifies and stores an incoming DatabaseStore
// payload, completes any matching in-flight lookup, optionally
// acknowledges the reply_token with a fabricated DeliveryStatus, and
// re-floods the record to the closest floodfills (§4.5).
func (h *Handler) HandleDatabaseStore(from identity.IdentHash, p i2np.DatabaseStorePayload) error {
	switch p.Kind {
	case i2np.DatabaseStoreRouterInfo:
		raw, err := i2np.GunzipRouterInfo(p.Data)
		if err != nil {
			return fmt.Errorf("netdb: gunzip stored router info: %w", err)
		}
		ri, err := types.ParseRouterInfo(raw)
		if err != nil {
			return fmt.Errorf("netdb: parse stored router info: %w", err)
		}
		if err := h.store.AddRouterInfo(ri); err != nil {
			return err
		}
		hash := identity.IdentHash(p.Key)
		h.requests.HandleStoreMatch(hash, ri, nil)
		if p.ReplyToken != 0 {
			h.acknowledge(from, p.ReplyToken, p.ReplyTunnelID, identity.IdentHash(p.ReplyGateway))
		}
		h.flood(hash, raw, i2np.DatabaseStoreRouterInfo)
		return nil

	case i2np.DatabaseStoreLeaseSet:
		ls, err := types.ParseLeaseSet(p.Data)
		if err != nil {
			return fmt.Errorf("netdb: parse stored lease set: %w", err)
		}
		if err := h.store.AddLeaseSet(ls); err != nil {
			return err
		}
		hash := identity.IdentHash(p.Key)
		h.requests.HandleStoreMatch(hash, nil, ls)
		if p.ReplyToken != 0 {
			h.acknowledge(from, p.ReplyToken, p.ReplyTunnelID, identity.IdentHash(p.ReplyGateway))
		}
		h.flood(hash, p.Data, i2np.DatabaseStoreLeaseSet)
		return nil

	default:
		return fmt.Errorf("netdb: unknown database store kind %d", p.Kind)
	}
}

func (h *Handler) acknowledge(to identity.IdentHash, replyToken, replyTunnelID uint32, replyGateway identity.IdentHash) {
	payload := i2np.EncodeDeliveryStatus(i2np.DeliveryStatusPayload{MsgID: replyToken, TimestampMs: uint64(time.Now().UnixMilli())})
	target := to
	if replyTunnelID != 0 {
		target = replyGateway
	}
	_ = h.transport.SendToRouter(target, i2np.TypeDeliveryStatus, payload)
}

func (h *Handler) flood(key identity.IdentHash, rawData []byte, kind i2np.DatabaseStoreKind) {
	excluded := map[identity.IdentHash]bool{h.self: true}
	targets := h.store.ClosestFloodfills(key, floodCount, time.Now(), excluded)
	gzData := rawData
	if kind == i2np.DatabaseStoreRouterInfo {
		if gz, err := i2np.GzipRouterInfo(rawData); err == nil {
			gzData = gz
		}
	}
	payload := i2np.EncodeDatabaseStore(i2np.DatabaseStorePayload{Key: [32]byte(key), Kind: kind, Data: gzData})
	for _, ff := range targets {
		_ = h.transport.SendToRouter(ff.Identity.IdentHash(), i2np.TypeDatabaseStore, payload)
	}
}

// HandleDatabaseLookup answers an incoming DatabaseLookup: a
// DatabaseStore of the found record if present, otherwise a
// DatabaseSearchReply naming up to three closer candidates (§4.5).
// Encrypted-reply wrapping is the garlic layer's concern; this handler
// reports whether encryption was requested so the caller can wrap the
// response it sends.
func (h *Handler) HandleDatabaseLookup(from identity.IdentHash, p i2np.DatabaseLookupPayload) (i2npType i2np.Type, payload []byte, wantsEncryptedReply bool, err error) {
	target := identity.IdentHash(p.Key)
	now := time.Now()
	excluded := map[identity.IdentHash]bool{h.self: true}
	for _, e := range p.Excluded {
		excluded[identity.IdentHash(e)] = true
	}

	wantsEncryptedReply = p.Flags&i2np.LookupFlagEncryptedReply != 0

	if p.Flags&i2np.LookupFlagLeaseSetOnly == 0 {
		if ri, ok := h.store.RouterInfo(target); ok {
			gz, gzErr := i2np.GzipRouterInfo(ri.Bytes())
			if gzErr != nil {
				return 0, nil, false, fmt.Errorf("netdb: gzip router info for reply: %w", gzErr)
			}
			store := i2np.EncodeDatabaseStore(i2np.DatabaseStorePayload{Key: [32]byte(target), Kind: i2np.DatabaseStoreRouterInfo, Data: gz})
			return i2np.TypeDatabaseStore, store, wantsEncryptedReply, nil
		}
	}
	if p.Flags&i2np.LookupFlagRouterInfoOnly == 0 {
		if ls, ok := h.store.LeaseSet(target); ok {
			store := i2np.EncodeDatabaseStore(i2np.DatabaseStorePayload{Key: [32]byte(target), Kind: i2np.DatabaseStoreLeaseSet, Data: ls.Bytes()})
			return i2np.TypeDatabaseStore, store, wantsEncryptedReply, nil
		}
	}

	var candidates []*types.RouterInfo
	if p.Flags&i2np.LookupFlagExploratory != 0 {
		candidates = h.store.ClosestRouters(target, floodCount, now, excluded)
	} else {
		candidates = h.store.ClosestFloodfills(target, floodCount, now, excluded)
	}

	reply := i2np.DatabaseSearchReplyPayload{Key: [32]byte(target), From: [32]byte(h.self)}
	for _, c := range candidates {
		reply.Peers = append(reply.Peers, [32]byte(c.Identity.IdentHash()))
	}
	encoded, encErr := i2np.EncodeDatabaseSearchReply(reply)
	if encErr != nil {
		return 0, nil, false, fmt.Errorf("netdb: encode database search reply: %w", encErr)
	}
	return i2np.TypeDatabaseSearchReply, encoded, wantsEncryptedReply, nil
}
