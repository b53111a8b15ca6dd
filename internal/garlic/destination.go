package garlic

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/i2np"
	"github.com/go-i2p/kovri/internal/identity"
)

// AckLeaseSource supplies an inbound tunnel endpoint of our own
// destination so freshly minted tags can be confirmed by a
// DeliveryStatus clove routed back to us (§4.9).
type AckLeaseSource interface {
	AckLease() (gateway identity.IdentHash, tunnelID uint32, ok bool)
}

// CloveHandler receives unwrapped cloves. Implementations dispatch
// local/destination cloves back into the router context and tunnel
// cloves out through an outbound tunnel (§4.9 receive path).
type CloveHandler interface {
	HandleLocalClove(msg []byte)
	HandleTunnelClove(gateway identity.IdentHash, tunnelID uint32, msg []byte)
}

// incomingSession is the decrypt state installed when an ElGamal
// block or an advertised tag batch arrives.
type incomingSession struct {
	key       [32]byte
	createdAt time.Time
}

// Destination owns the garlic state for one local endpoint: the
// outgoing sessions keyed by remote destination, and the incoming
// tag table mapping advertised tags to their session keys. All
// mutation happens on the destination's own task (§5); the mutex only
// guards readers racing it.
type Destination struct {
	keys *identity.PrivateKeys
	acks AckLeaseSource
	log  *slog.Logger

	mu           sync.Mutex
	sessions     map[identity.IdentHash]*Session
	incomingTags map[[32]byte]incomingSession
	lastTagSweep time.Time

	// LocalLeaseSet returns the current signed LeaseSet bytes for
	// the DatabaseStore ride-along clove, or nil when none exists.
	LocalLeaseSet func() []byte
}

// NewDestination creates a garlic destination for keys.
func NewDestination(keys *identity.PrivateKeys, acks AckLeaseSource, log *slog.Logger) *Destination {
	return &Destination{
		keys:         keys,
		acks:         acks,
		log:          log.With("component", "garlic"),
		sessions:     make(map[identity.IdentHash]*Session),
		incomingTags: make(map[[32]byte]incomingSession),
	}
}

// SessionFor returns (creating if needed) the session toward the
// remote destination identified by remoteIdent/remotePub.
func (d *Destination) SessionFor(remoteIdent identity.IdentHash, remotePub crypto.ElGamalPublicKey) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[remoteIdent]; ok {
		return s, nil
	}
	s, err := NewSession(remotePub)
	if err != nil {
		return nil, err
	}
	d.sessions[remoteIdent] = s
	return s, nil
}

// MarkLeaseSetUpdated flags every session so the next wrap carries
// the new local LeaseSet (§4.9).
func (d *Destination) MarkLeaseSetUpdated() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sessions {
		s.SetLeaseSetUpdated()
	}
}

// WrapSingleMessage wraps inner (a complete I2NP wire message) for the
// remote destination, assembling the ride-along cloves of §4.9: the
// tag-confirmation DeliveryStatus when new tags are minted, the local
// LeaseSet when marked updated, and always the caller's message. The
// result is a framed I2NP Garlic message ready to send.
func (d *Destination) WrapSingleMessage(remoteIdent identity.IdentHash, remotePub crypto.ElGamalPublicKey, inner []byte, now time.Time) ([]byte, error) {
	session, err := d.SessionFor(remoteIdent, remotePub)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ackMsgID, err := randomMsgID()
	if err != nil {
		return nil, err
	}

	var cloves []Clove
	mintNew := false
	if session.needsMoreTags(now) {
		ack, err := d.ackClove(ackMsgID, now)
		if err != nil {
			d.log.Debug("no inbound tunnel for tag ack, deferring tag batch", "error", err)
		} else {
			cloves = append(cloves, ack)
			mintNew = true
		}
	}

	if session.lsStatus == LeaseSetUpdated || session.LeaseSetNeedsResend(now) {
		if ls := d.localLeaseSetClove(now); ls != nil {
			cloves = append(cloves, *ls)
			session.MarkLeaseSetSubmitted(ackMsgID, now)
		}
	}

	msgClove, err := newClove(CloveDestination, remoteIdent, 0, inner, now)
	if err != nil {
		return nil, err
	}
	cloves = append(cloves, msgClove)

	payload, _, err := session.Wrap(cloves, ackMsgID, mintNew, now)
	if err != nil {
		return nil, err
	}
	return i2np.Build(i2np.TypeGarlic, payload, nil, now)
}

// ackClove builds the DeliveryStatus clove that confirms a fresh tag
// batch: it is routed through one of our own inbound tunnels so its
// arrival proves the peer received (and can use) the new tags.
func (d *Destination) ackClove(msgID uint32, now time.Time) (Clove, error) {
	gateway, tunnelID, ok := d.acks.AckLease()
	if !ok {
		return Clove{}, fmt.Errorf("garlic: no inbound tunnel available for tag confirmation")
	}
	status := i2np.EncodeDeliveryStatus(i2np.DeliveryStatusPayload{
		MsgID:       msgID,
		TimestampMs: uint64(now.UnixMilli()),
	})
	inner, err := i2np.Build(i2np.TypeDeliveryStatus, status, &msgID, now)
	if err != nil {
		return Clove{}, err
	}
	return newClove(CloveTunnel, gateway, tunnelID, inner, now)
}

// localLeaseSetClove builds the DatabaseStore ride-along carrying our
// current LeaseSet, or nil when none is available.
func (d *Destination) localLeaseSetClove(now time.Time) *Clove {
	if d.LocalLeaseSet == nil {
		return nil
	}
	lsBytes := d.LocalLeaseSet()
	if lsBytes == nil {
		return nil
	}
	store := i2np.EncodeDatabaseStore(i2np.DatabaseStorePayload{
		Key:  [32]byte(d.keys.Identity.IdentHash()),
		Kind: i2np.DatabaseStoreLeaseSet,
		Data: lsBytes,
	})
	inner, err := i2np.Build(i2np.TypeDatabaseStore, store, nil, now)
	if err != nil {
		return nil
	}
	c, err := newClove(CloveLocal, identity.IdentHash{}, 0, inner, now)
	if err != nil {
		return nil
	}
	return &c
}

func newClove(delivery CloveDelivery, dest identity.IdentHash, tunnelID uint32, inner []byte, now time.Time) (Clove, error) {
	id, err := randomMsgID()
	if err != nil {
		return Clove{}, err
	}
	return Clove{
		Delivery:     delivery,
		DestHash:     dest,
		DestTunnelID: tunnelID,
		Message:      inner,
		CloveID:      id,
		ExpirationMs: uint64(now.Add(i2np.DefaultExpiration).UnixMilli()),
	}, nil
}

func randomMsgID() (uint32, error) {
	var buf [4]byte
	if err := crypto.RandBytes(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// ConfirmDeliveryStatus routes an incoming DeliveryStatus msg_id to
// the session holding a pending tag batch or LeaseSet submission with
// that ID; it reports whether any session claimed it.
func (d *Destination) ConfirmDeliveryStatus(msgID uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sessions {
		if s.ConfirmTags(msgID) {
			return true
		}
	}
	return false
}

// HandleGarlicMessage unwraps a garlic payload (§4.9 receive path):
// the leading 32 bytes are tried as a known one-time session tag, and
// failing that the leading 512 bytes are ElGamal-decrypted to install
// a fresh incoming session. Advertised tags are installed into the
// incoming tag cache, and each clove is dispatched by delivery type.
func (d *Destination) HandleGarlicMessage(payload []byte, handler CloveHandler, now time.Time) error {
	d.sweepIncomingTags(now)

	_, cloves, err := d.unwrap(payload, now)
	if err != nil {
		return err
	}
	for _, c := range cloves {
		d.dispatchClove(c, handler, now)
	}
	return nil
}

func (d *Destination) unwrap(payload []byte, now time.Time) ([][32]byte, []Clove, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(payload) >= 32 {
		var tag [32]byte
		copy(tag[:], payload[:32])
		if sess, ok := d.incomingTags[tag]; ok {
			// One-time use: the tag is gone whether or not the
			// block decrypts (§4.9).
			delete(d.incomingTags, tag)
			tags, cloves, err := decryptAESBlock(sess.key[:], tagIV(tag), payload[32:])
			if err != nil {
				return nil, nil, err
			}
			d.installIncomingTags(sess.key, tags, now)
			return tags, cloves, nil
		}
	}

	if len(payload) < crypto.CiphertextSize {
		return nil, nil, fmt.Errorf("garlic: payload too short for ElGamal block: %d bytes", len(payload))
	}
	block, err := d.keys.Decrypt(payload[:crypto.CiphertextSize])
	if err != nil {
		return nil, nil, fmt.Errorf("garlic: %w", err)
	}
	var key [32]byte
	copy(key[:], block[0:32])
	var preIV [32]byte
	copy(preIV[:], block[32:64])
	sum := crypto.SHA256(preIV[:])

	tags, cloves, err := decryptAESBlock(key[:], sum[:crypto.AESBlockSize], payload[crypto.CiphertextSize:])
	if err != nil {
		return nil, nil, err
	}
	d.installIncomingTags(key, tags, now)
	return tags, cloves, nil
}

func (d *Destination) installIncomingTags(key [32]byte, tags [][32]byte, now time.Time) {
	for _, t := range tags {
		d.incomingTags[t] = incomingSession{key: key, createdAt: now}
	}
}

// sweepIncomingTags drops expired incoming tags once per 16-minute
// epoch boundary (§4.9: "incoming tag cleanup runs on every receive
// past a 16-min epoch boundary").
func (d *Destination) sweepIncomingTags(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if now.Sub(d.lastTagSweep) < IncomingTagLifetime {
		return
	}
	d.lastTagSweep = now
	for tag, sess := range d.incomingTags {
		if now.Sub(sess.createdAt) > IncomingTagLifetime {
			delete(d.incomingTags, tag)
		}
	}
}

func (d *Destination) dispatchClove(c Clove, handler CloveHandler, now time.Time) {
	if c.ExpirationMs != 0 && uint64(now.UnixMilli()) > c.ExpirationMs {
		d.log.Debug("dropping expired clove", "clove_id", c.CloveID)
		return
	}
	switch c.Delivery {
	case CloveLocal, CloveDestination:
		handler.HandleLocalClove(c.Message)
	case CloveTunnel:
		handler.HandleTunnelClove(c.DestHash, c.DestTunnelID, c.Message)
	case CloveRouter:
		// Router delivery is unsupported in this core (§4.9).
		d.log.Debug("dropping router-delivery clove", "clove_id", c.CloveID)
	}
}

// IncomingTagCount reports the live incoming-tag table size.
func (d *Destination) IncomingTagCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.incomingTags)
}
