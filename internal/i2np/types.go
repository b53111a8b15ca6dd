package i2np

import (
	"encoding/binary"
	"fmt"
)

// IdentHashSize is the width of an IdentHash, duplicated here (rather
// than imported) to keep this low-level framing package free of a
// dependency on the identity package; identity.IdentHash and the byte
// slices here have the same 32-byte shape by construction.
const IdentHashSize = 32

// DatabaseStoreKind distinguishes the two record kinds the store
// message can carry (§4.5).
type DatabaseStoreKind uint8

const (
	DatabaseStoreRouterInfo DatabaseStoreKind = 0
	DatabaseStoreLeaseSet   DatabaseStoreKind = 1
)

// DatabaseStorePayload is the decoded payload of a DatabaseStore
// message: key ‖ kind ‖ reply_token ‖ [reply routing] ‖ data.
type DatabaseStorePayload struct {
	Key             [IdentHashSize]byte
	Kind            DatabaseStoreKind
	ReplyToken      uint32
	ReplyTunnelID   uint32 // only valid if ReplyToken != 0
	ReplyGateway    [IdentHashSize]byte
	Data            []byte // gzip-compressed for RouterInfo, raw for LeaseSet
}

// EncodeDatabaseStore serializes a DatabaseStorePayload.
func EncodeDatabaseStore(p DatabaseStorePayload) []byte {
	size := IdentHashSize + 1 + 4
	if p.ReplyToken != 0 {
		size += 4 + IdentHashSize
	}
	size += len(p.Data)

	out := make([]byte, size)
	off := 0
	copy(out[off:], p.Key[:])
	off += IdentHashSize
	out[off] = byte(p.Kind)
	off++
	binary.BigEndian.PutUint32(out[off:], p.ReplyToken)
	off += 4
	if p.ReplyToken != 0 {
		binary.BigEndian.PutUint32(out[off:], p.ReplyTunnelID)
		off += 4
		copy(out[off:], p.ReplyGateway[:])
		off += IdentHashSize
	}
	copy(out[off:], p.Data)
	return out
}

// DecodeDatabaseStore parses a DatabaseStore payload.
func DecodeDatabaseStore(buf []byte) (DatabaseStorePayload, error) {
	var p DatabaseStorePayload
	if len(buf) < IdentHashSize+1+4 {
		return p, ErrTruncated
	}
	off := 0
	copy(p.Key[:], buf[off:off+IdentHashSize])
	off += IdentHashSize
	p.Kind = DatabaseStoreKind(buf[off])
	off++
	p.ReplyToken = binary.BigEndian.Uint32(buf[off:])
	off += 4
	if p.ReplyToken != 0 {
		if len(buf) < off+4+IdentHashSize {
			return p, ErrTruncated
		}
		p.ReplyTunnelID = binary.BigEndian.Uint32(buf[off:])
		off += 4
		copy(p.ReplyGateway[:], buf[off:off+IdentHashSize])
		off += IdentHashSize
	}
	p.Data = append([]byte(nil), buf[off:]...)
	return p, nil
}

// LookupFlags control DatabaseLookup's search scope and reply
// encryption (§4.5: RI lookup, LS lookup, either, or exploratory; an
// encrypted-reply flag wrapping the reply in a one-off garlic clove).
type LookupFlags uint8

const (
	LookupFlagRouterInfoOnly LookupFlags = 1 << iota
	LookupFlagLeaseSetOnly
	LookupFlagExploratory
	LookupFlagEncryptedReply
)

// DatabaseLookupPayload is the decoded payload of a DatabaseLookup
// message.
type DatabaseLookupPayload struct {
	Key          [IdentHashSize]byte
	From         [IdentHashSize]byte // ident hash of the requesting router, or reply tunnel gateway
	Flags        LookupFlags
	ReplyKey     [32]byte // only meaningful if LookupFlagEncryptedReply
	ReplyTag     [32]byte
	Excluded     [][IdentHashSize]byte
}

// EncodeDatabaseLookup serializes a DatabaseLookupPayload.
func EncodeDatabaseLookup(p DatabaseLookupPayload) ([]byte, error) {
	if len(p.Excluded) > 0xFF {
		return nil, fmt.Errorf("i2np: too many excluded hashes: %d", len(p.Excluded))
	}
	size := 2*IdentHashSize + 1
	if p.Flags&LookupFlagEncryptedReply != 0 {
		size += 64
	}
	size += 1 + len(p.Excluded)*IdentHashSize

	out := make([]byte, size)
	off := 0
	copy(out[off:], p.Key[:])
	off += IdentHashSize
	copy(out[off:], p.From[:])
	off += IdentHashSize
	out[off] = byte(p.Flags)
	off++
	if p.Flags&LookupFlagEncryptedReply != 0 {
		copy(out[off:], p.ReplyKey[:])
		off += 32
		copy(out[off:], p.ReplyTag[:])
		off += 32
	}
	out[off] = byte(len(p.Excluded))
	off++
	for _, h := range p.Excluded {
		copy(out[off:], h[:])
		off += IdentHashSize
	}
	return out, nil
}

// DecodeDatabaseLookup parses a DatabaseLookup payload.
func DecodeDatabaseLookup(buf []byte) (DatabaseLookupPayload, error) {
	var p DatabaseLookupPayload
	if len(buf) < 2*IdentHashSize+1 {
		return p, ErrTruncated
	}
	off := 0
	copy(p.Key[:], buf[off:off+IdentHashSize])
	off += IdentHashSize
	copy(p.From[:], buf[off:off+IdentHashSize])
	off += IdentHashSize
	p.Flags = LookupFlags(buf[off])
	off++
	if p.Flags&LookupFlagEncryptedReply != 0 {
		if len(buf) < off+64 {
			return p, ErrTruncated
		}
		copy(p.ReplyKey[:], buf[off:off+32])
		off += 32
		copy(p.ReplyTag[:], buf[off:off+32])
		off += 32
	}
	if len(buf) < off+1 {
		return p, ErrTruncated
	}
	n := int(buf[off])
	off++
	if len(buf) < off+n*IdentHashSize {
		return p, ErrTruncated
	}
	p.Excluded = make([][IdentHashSize]byte, n)
	for i := 0; i < n; i++ {
		copy(p.Excluded[i][:], buf[off:off+IdentHashSize])
		off += IdentHashSize
	}
	return p, nil
}

// DatabaseSearchReplyPayload is the decoded payload of a
// DatabaseSearchReply message: up to three closest-peer hints plus
// the identity of the router that produced the reply.
type DatabaseSearchReplyPayload struct {
	Key   [IdentHashSize]byte
	Peers [][IdentHashSize]byte
	From  [IdentHashSize]byte
}

// EncodeDatabaseSearchReply serializes a DatabaseSearchReplyPayload.
func EncodeDatabaseSearchReply(p DatabaseSearchReplyPayload) ([]byte, error) {
	if len(p.Peers) > 0xFF {
		return nil, fmt.Errorf("i2np: too many search-reply peers: %d", len(p.Peers))
	}
	out := make([]byte, IdentHashSize+1+len(p.Peers)*IdentHashSize+IdentHashSize)
	off := 0
	copy(out[off:], p.Key[:])
	off += IdentHashSize
	out[off] = byte(len(p.Peers))
	off++
	for _, h := range p.Peers {
		copy(out[off:], h[:])
		off += IdentHashSize
	}
	copy(out[off:], p.From[:])
	return out, nil
}

// DecodeDatabaseSearchReply parses a DatabaseSearchReply payload.
func DecodeDatabaseSearchReply(buf []byte) (DatabaseSearchReplyPayload, error) {
	var p DatabaseSearchReplyPayload
	if len(buf) < IdentHashSize+1 {
		return p, ErrTruncated
	}
	off := 0
	copy(p.Key[:], buf[off:off+IdentHashSize])
	off += IdentHashSize
	n := int(buf[off])
	off++
	if len(buf) < off+n*IdentHashSize+IdentHashSize {
		return p, ErrTruncated
	}
	p.Peers = make([][IdentHashSize]byte, n)
	for i := 0; i < n; i++ {
		copy(p.Peers[i][:], buf[off:off+IdentHashSize])
		off += IdentHashSize
	}
	copy(p.From[:], buf[off:off+IdentHashSize])
	return p, nil
}

// DeliveryStatusPayload is the decoded payload of a DeliveryStatus
// message: the msg_id it acknowledges and the timestamp at which it
// was produced.
type DeliveryStatusPayload struct {
	MsgID       uint32
	TimestampMs uint64
}

// EncodeDeliveryStatus serializes a DeliveryStatusPayload.
func EncodeDeliveryStatus(p DeliveryStatusPayload) []byte {
	out := make([]byte, 12)
	binary.BigEndian.PutUint32(out[0:4], p.MsgID)
	binary.BigEndian.PutUint64(out[4:12], p.TimestampMs)
	return out
}

// DecodeDeliveryStatus parses a DeliveryStatus payload.
func DecodeDeliveryStatus(buf []byte) (DeliveryStatusPayload, error) {
	var p DeliveryStatusPayload
	if len(buf) < 12 {
		return p, ErrTruncated
	}
	p.MsgID = binary.BigEndian.Uint32(buf[0:4])
	p.TimestampMs = binary.BigEndian.Uint64(buf[4:12])
	return p, nil
}

// EncodeTunnelGateway serializes a TunnelGateway payload: the gateway
// tunnel ID followed by a length-prefixed embedded I2NP message.
func EncodeTunnelGateway(tunnelID uint32, msg []byte) []byte {
	out := make([]byte, 6+len(msg))
	binary.BigEndian.PutUint32(out[0:4], tunnelID)
	binary.BigEndian.PutUint16(out[4:6], uint16(len(msg)))
	copy(out[6:], msg)
	return out
}

// DecodeTunnelGateway parses a TunnelGateway payload.
func DecodeTunnelGateway(buf []byte) (tunnelID uint32, msg []byte, err error) {
	if len(buf) < 6 {
		return 0, nil, ErrTruncated
	}
	tunnelID = binary.BigEndian.Uint32(buf[0:4])
	size := int(binary.BigEndian.Uint16(buf[4:6]))
	if len(buf) < 6+size {
		return 0, nil, ErrTruncated
	}
	return tunnelID, append([]byte(nil), buf[6:6+size]...), nil
}
