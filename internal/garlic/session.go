package garlic

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/metrics"
)

// Session-tag lifetimes (§3): tags we received from a peer stay valid
// for 16 minutes; tags we issued are used for at most 12 so the peer
// never sees one arrive after its own 16-minute window closed.
const (
	IncomingTagLifetime = 16 * time.Minute
	OutgoingTagLifetime = 12 * time.Minute
)

// DefaultNumTags is how many tags a session issues per batch.
const DefaultNumTags = 32

// SessionTag is a 32-byte one-time-use cookie selecting a cached AES
// session key, stamped with its creation time for expiry.
type SessionTag struct {
	Tag       [32]byte
	CreatedAt time.Time
}

// Expired reports whether the tag is past lifetime at now.
func (t SessionTag) Expired(now time.Time, lifetime time.Duration) bool {
	return now.Sub(t.CreatedAt) > lifetime
}

// tagIV derives the AES IV a tag selects: SHA-256(tag)[0:16] (§4.9).
func tagIV(tag [32]byte) []byte {
	sum := crypto.SHA256(tag[:])
	return sum[:crypto.AESBlockSize]
}

// LeaseSetUpdateStatus tracks whether the local LeaseSet still needs
// to ride along in the next garlic message (§4.9).
type LeaseSetUpdateStatus int

const (
	LeaseSetUpToDate LeaseSetUpdateStatus = iota
	LeaseSetUpdated
	LeaseSetSubmitted
	LeaseSetDoNotSend
)

// leaseSetResendDeadline is how long a Submitted LeaseSet waits for
// its confirmation before being re-attached (§5: 4s ack wait).
const leaseSetResendDeadline = 4 * time.Second

// Session is the per-remote-destination garlic state (§4.9): the
// session key, the confirmed outgoing tags, tags pending delivery
// confirmation, and the LeaseSet update status.
type Session struct {
	remotePub  crypto.ElGamalPublicKey
	sessionKey [32]byte

	tags       []SessionTag // confirmed, FIFO order
	pending    map[uint32][]SessionTag
	numTags    int

	lsStatus      LeaseSetUpdateStatus
	lsMsgID       uint32
	lsSubmittedAt time.Time
}

// NewSession creates a session toward the destination holding
// remotePub, minting a fresh random session key.
func NewSession(remotePub crypto.ElGamalPublicKey) (*Session, error) {
	s := &Session{remotePub: remotePub, pending: make(map[uint32][]SessionTag), numTags: DefaultNumTags}
	if err := crypto.RandBytes(s.sessionKey[:]); err != nil {
		return nil, err
	}
	return s, nil
}

// LeaseSetStatus returns the session's LeaseSet update status.
func (s *Session) LeaseSetStatus() LeaseSetUpdateStatus { return s.lsStatus }

// SetLeaseSetUpdated marks the local LeaseSet as changed so the next
// wrap attaches a DatabaseStore clove.
func (s *Session) SetLeaseSetUpdated() {
	if s.lsStatus != LeaseSetDoNotSend {
		s.lsStatus = LeaseSetUpdated
	}
}

// LeaseSetNeedsResend reports whether a Submitted LeaseSet has waited
// past the ack deadline and should ride along again.
func (s *Session) LeaseSetNeedsResend(now time.Time) bool {
	return s.lsStatus == LeaseSetSubmitted && now.Sub(s.lsSubmittedAt) > leaseSetResendDeadline
}

// TagCount reports the confirmed, unexpired tag count at now.
func (s *Session) TagCount(now time.Time) int {
	s.dropExpiredTags(now)
	return len(s.tags)
}

func (s *Session) dropExpiredTags(now time.Time) {
	kept := s.tags[:0]
	for _, t := range s.tags {
		if !t.Expired(now, OutgoingTagLifetime) {
			kept = append(kept, t)
		}
	}
	dropped := len(s.tags) - len(kept)
	if dropped > 0 {
		metrics.GarlicTagsActive.Sub(float64(dropped))
	}
	s.tags = kept
}

// takeTag removes and returns the oldest confirmed unexpired tag
// (§5: tags are consumed in FIFO order, each used at most once).
func (s *Session) takeTag(now time.Time) ([32]byte, bool) {
	s.dropExpiredTags(now)
	if len(s.tags) == 0 {
		return [32]byte{}, false
	}
	tag := s.tags[0].Tag
	s.tags = s.tags[1:]
	metrics.GarlicTagsActive.Dec()
	return tag, true
}

// needsMoreTags reports whether a new tag batch should ride along
// (§4.9: remaining ≤ 2/3 of num_tags).
func (s *Session) needsMoreTags(now time.Time) bool {
	return s.TagCount(now)+s.pendingTagCount() <= s.numTags*2/3
}

func (s *Session) pendingTagCount() int {
	n := 0
	for _, tags := range s.pending {
		n += len(tags)
	}
	return n
}

// mintTags generates a fresh batch of numTags tags, recording them as
// pending under ackMsgID until the peer's DeliveryStatus confirms
// receipt.
func (s *Session) mintTags(ackMsgID uint32, now time.Time) ([]SessionTag, error) {
	tags := make([]SessionTag, s.numTags)
	for i := range tags {
		if err := crypto.RandBytes(tags[i].Tag[:]); err != nil {
			return nil, err
		}
		tags[i].CreatedAt = now
	}
	s.pending[ackMsgID] = tags
	return tags, nil
}

// ConfirmTags moves the tag batch keyed by msgID into the confirmed
// set. It reports whether msgID named a pending batch.
func (s *Session) ConfirmTags(msgID uint32) bool {
	tags, ok := s.pending[msgID]
	if !ok {
		// A DeliveryStatus can also confirm a Submitted LeaseSet.
		if s.lsStatus == LeaseSetSubmitted && msgID == s.lsMsgID {
			s.lsStatus = LeaseSetUpToDate
			return true
		}
		return false
	}
	delete(s.pending, msgID)
	s.tags = append(s.tags, tags...)
	metrics.GarlicTagsActive.Add(float64(len(tags)))
	if s.lsStatus == LeaseSetSubmitted && msgID == s.lsMsgID {
		s.lsStatus = LeaseSetUpToDate
	}
	return true
}

// elGamalBlock is the 222-byte plaintext of the garlic ElGamal
// fallback header: session_key[32] ‖ pre_iv[32] ‖ padding[158] (§4.9).
func (s *Session) elGamalBlock() (block []byte, preIV [32]byte, err error) {
	block = make([]byte, crypto.PlaintextSize)
	copy(block[0:32], s.sessionKey[:])
	if err = crypto.RandBytes(preIV[:]); err != nil {
		return nil, preIV, err
	}
	copy(block[32:64], preIV[:])
	if err = crypto.RandBytes(block[64:]); err != nil {
		return nil, preIV, err
	}
	return block, preIV, nil
}

// Wrap produces the garlic message payload carrying cloves (§4.9
// WrapSingleMessage): the tag path when a confirmed tag is available,
// the ElGamal path otherwise. When mintNew is set and the session is
// low on tags (needsMoreTags), a fresh tag batch rides along,
// recorded as pending under ackMsgID; the caller must
// already have attached the DeliveryStatus ack clove with that ID.
func (s *Session) Wrap(cloves []Clove, ackMsgID uint32, mintNew bool, now time.Time) (payload []byte, newTags []SessionTag, err error) {
	if mintNew && s.needsMoreTags(now) {
		newTags, err = s.mintTags(ackMsgID, now)
		if err != nil {
			return nil, nil, err
		}
	}

	aesBlock, err := s.buildAESBlock(cloves, newTags)
	if err != nil {
		return nil, nil, err
	}

	if tag, ok := s.takeTag(now); ok {
		if err := crypto.AES256CBCEncrypt(s.sessionKey[:], tagIV(tag), aesBlock); err != nil {
			return nil, nil, err
		}
		out := make([]byte, 0, 32+len(aesBlock))
		out = append(out, tag[:]...)
		return append(out, aesBlock...), newTags, nil
	}

	block, preIV, err := s.elGamalBlock()
	if err != nil {
		return nil, nil, err
	}
	ct, err := crypto.ElGamalEncrypt(s.remotePub, block)
	if err != nil {
		return nil, nil, fmt.Errorf("garlic: wrap: %w", err)
	}
	sum := crypto.SHA256(preIV[:])
	if err := crypto.AES256CBCEncrypt(s.sessionKey[:], sum[:crypto.AESBlockSize], aesBlock); err != nil {
		return nil, nil, err
	}
	return append(ct, aesBlock...), newTags, nil
}

// buildAESBlock lays out the garlic AES block (§4.9): tag_count:u16 ‖
// tags ‖ payload_len:u32 ‖ payload_hash[32] ‖ flag:u8=0 ‖ cloves,
// padded to the AES block boundary with random bytes.
func (s *Session) buildAESBlock(cloves []Clove, newTags []SessionTag) ([]byte, error) {
	clovesBytes, err := encodeCloves(cloves)
	if err != nil {
		return nil, err
	}

	var out []byte
	out = binary.BigEndian.AppendUint16(out, uint16(len(newTags)))
	for _, t := range newTags {
		out = append(out, t.Tag[:]...)
	}
	out = binary.BigEndian.AppendUint32(out, uint32(len(clovesBytes)))
	sum := crypto.SHA256(clovesBytes)
	out = append(out, sum[:]...)
	out = append(out, 0) // flag
	out = append(out, clovesBytes...)

	if rem := len(out) % crypto.AESBlockSize; rem != 0 {
		pad := make([]byte, crypto.AESBlockSize-rem)
		if err := crypto.RandBytes(pad); err != nil {
			return nil, err
		}
		out = append(out, pad...)
	}
	return out, nil
}

// MarkLeaseSetSubmitted records that the local LeaseSet rode along
// keyed by msgID.
func (s *Session) MarkLeaseSetSubmitted(msgID uint32, now time.Time) {
	s.lsStatus = LeaseSetSubmitted
	s.lsMsgID = msgID
	s.lsSubmittedAt = now
}

// decryptAESBlock reverses buildAESBlock given the already-selected
// key and IV, returning the advertised tags and the cloves section.
func decryptAESBlock(key, iv, block []byte) (tags [][32]byte, cloves []Clove, err error) {
	if len(block)%crypto.AESBlockSize != 0 {
		return nil, nil, fmt.Errorf("garlic: AES block length %d not block-aligned", len(block))
	}
	buf := append([]byte(nil), block...)
	if err := crypto.AES256CBCDecrypt(key, iv, buf); err != nil {
		return nil, nil, err
	}

	if len(buf) < 2 {
		return nil, nil, fmt.Errorf("garlic: truncated tag count")
	}
	tagCount := int(binary.BigEndian.Uint16(buf[0:2]))
	off := 2
	if len(buf) < off+tagCount*32 {
		return nil, nil, fmt.Errorf("garlic: truncated tag block")
	}
	for i := 0; i < tagCount; i++ {
		var t [32]byte
		copy(t[:], buf[off:off+32])
		tags = append(tags, t)
		off += 32
	}

	if len(buf) < off+4+32+1 {
		return nil, nil, fmt.Errorf("garlic: truncated payload header")
	}
	payloadLen := int(binary.BigEndian.Uint32(buf[off : off+4]))
	off += 4
	var wantHash [32]byte
	copy(wantHash[:], buf[off:off+32])
	off += 32
	off++ // flag

	if payloadLen > len(buf)-off {
		return nil, nil, fmt.Errorf("garlic: payload length %d exceeds remaining %d", payloadLen, len(buf)-off)
	}
	payload := buf[off : off+payloadLen]
	sum := crypto.SHA256(payload)
	if !bytes.Equal(sum[:], wantHash[:]) {
		return nil, nil, fmt.Errorf("garlic: payload hash mismatch")
	}

	cloves, err = decodeCloves(payload)
	if err != nil {
		return nil, nil, err
	}
	return tags, cloves, nil
}

// WrapOneOff encrypts inner (a complete I2NP wire message) as a
// single-clove garlic payload under a caller-supplied session key and
// tag, with no session state behind it. NetDb uses it for encrypted
// DatabaseLookup replies (§4.5): the requester supplied the key and
// the one tag its decryptor will recognize.
func WrapOneOff(key, tag [32]byte, inner []byte, now time.Time) ([]byte, error) {
	var idBuf [4]byte
	if err := crypto.RandBytes(idBuf[:]); err != nil {
		return nil, err
	}
	clove := Clove{
		Delivery:     CloveLocal,
		Message:      inner,
		CloveID:      binary.BigEndian.Uint32(idBuf[:]),
		ExpirationMs: uint64(now.Add(time.Minute).UnixMilli()),
	}

	clovesBytes, err := encodeCloves([]Clove{clove})
	if err != nil {
		return nil, err
	}

	var block []byte
	block = binary.BigEndian.AppendUint16(block, 0) // no new tags
	block = binary.BigEndian.AppendUint32(block, uint32(len(clovesBytes)))
	sum := crypto.SHA256(clovesBytes)
	block = append(block, sum[:]...)
	block = append(block, 0) // flag
	block = append(block, clovesBytes...)
	if rem := len(block) % crypto.AESBlockSize; rem != 0 {
		pad := make([]byte, crypto.AESBlockSize-rem)
		if err := crypto.RandBytes(pad); err != nil {
			return nil, err
		}
		block = append(block, pad...)
	}

	if err := crypto.AES256CBCEncrypt(key[:], tagIV(tag), block); err != nil {
		return nil, err
	}
	return append(append([]byte(nil), tag[:]...), block...), nil
}
