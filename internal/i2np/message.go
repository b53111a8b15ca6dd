// Package i2np implements I2NP message framing (§4.2, §6): the
// 16-byte header shared by every router-to-router message, typed
// payload constructors, and the gzip wrapping DatabaseStore uses for
// RouterInfo payloads.
package i2np

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/go-i2p/kovri/internal/crypto"
)

// Type identifies an I2NP message's payload codec.
type Type uint8

const (
	TypeDatabaseStore           Type = 1
	TypeDatabaseLookup          Type = 2
	TypeDatabaseSearchReply     Type = 3
	TypeDeliveryStatus          Type = 10
	TypeGarlic                  Type = 11
	TypeTunnelData               Type = 18
	TypeTunnelGateway            Type = 19
	TypeTunnelBuild              Type = 21
	TypeTunnelBuildReply         Type = 22
	TypeVariableTunnelBuild      Type = 23
	TypeVariableTunnelBuildReply Type = 24
)

// HeaderSize is the fixed 16-byte I2NP header: type(1) + msg_id(4) +
// expiration_ms(8) + size(2) + checksum(1).
const HeaderSize = 16

// DefaultExpiration is the offset from send time that Build stamps as
// every message's expiration (§4.2).
const DefaultExpiration = 60 * time.Second

// Error kinds for Parse, per §7.
var (
	ErrTruncated   = errors.New("i2np: truncated message")
	ErrBadChecksum = errors.New("i2np: checksum mismatch")
)

// Message is a parsed or constructed I2NP message.
type Message struct {
	Type         Type
	MsgID        uint32
	ExpirationMs uint64
	Payload      []byte
}

// Expired reports whether the message's declared expiration has
// passed as of now. The framing layer never drops on this itself
// (§4.2): the check is informational and callers (netDb, tunnel
// runtime) decide whether to honor it.
func (m *Message) Expired(now time.Time) bool {
	return uint64(now.UnixMilli()) > m.ExpirationMs
}

// Build frames payload as a complete I2NP message. If msgID is nil, a
// random one is drawn from the CSPRNG. expiration_ms is now + 60s.
func Build(typ Type, payload []byte, msgID *uint32, now time.Time) ([]byte, error) {
	if len(payload) > 0xFFFF {
		return nil, fmt.Errorf("i2np: payload too large: %d bytes", len(payload))
	}

	var id uint32
	if msgID != nil {
		id = *msgID
	} else {
		var buf [4]byte
		if err := crypto.RandBytes(buf[:]); err != nil {
			return nil, err
		}
		id = binary.BigEndian.Uint32(buf[:])
	}

	expMs := uint64(now.Add(DefaultExpiration).UnixMilli())

	out := make([]byte, HeaderSize+len(payload))
	out[0] = byte(typ)
	binary.BigEndian.PutUint32(out[1:5], id)
	binary.BigEndian.PutUint64(out[5:13], expMs)
	binary.BigEndian.PutUint16(out[13:15], uint16(len(payload)))
	sum := crypto.SHA256(payload)
	out[15] = sum[0]
	copy(out[HeaderSize:], payload)
	return out, nil
}

// Parse validates and decodes a wire-format I2NP message.
func Parse(buf []byte) (*Message, error) {
	if len(buf) < HeaderSize {
		return nil, ErrTruncated
	}
	size := binary.BigEndian.Uint16(buf[13:15])
	if len(buf) < HeaderSize+int(size) {
		return nil, ErrTruncated
	}
	payload := buf[HeaderSize : HeaderSize+int(size)]

	sum := crypto.SHA256(payload)
	if buf[15] != sum[0] {
		return nil, ErrBadChecksum
	}

	return &Message{
		Type:         Type(buf[0]),
		MsgID:        binary.BigEndian.Uint32(buf[1:5]),
		ExpirationMs: binary.BigEndian.Uint64(buf[5:13]),
		Payload:      append([]byte(nil), payload...),
	}, nil
}
