// Package runtime implements established-tunnel data handling (§4.7):
// the fixed-size tunnel-data message layer, the per-hop IV/layer
// transform a transit hop applies, and the gateway-side fragmentation
// and endpoint-side reassembly of client messages into that layer.
package runtime

import (
	"encoding/binary"
	"fmt"

	"github.com/go-i2p/kovri/internal/crypto"
)

const (
	// DataMessageSize is the fixed wire size of a tunnel-data message
	// (§4.7, §6): tunnel_id ‖ iv ‖ encrypted_payload.
	DataMessageSize = 1024
	// TunnelIDSize is the width of the leading tunnel_id field.
	TunnelIDSize = 4
	// IVSize is the width of the per-message IV field.
	IVSize = crypto.AESBlockSize
	// PayloadSize is the width of the encrypted payload carried by
	// every tunnel-data message.
	PayloadSize = DataMessageSize - TunnelIDSize - IVSize // 1004
)

// DataMessage is a decoded tunnel-data message.
type DataMessage struct {
	TunnelID uint32
	IV       [IVSize]byte
	Payload  [PayloadSize]byte
}

// Encode serializes m to its fixed 1024-byte wire form.
func (m *DataMessage) Encode() []byte {
	out := make([]byte, DataMessageSize)
	binary.BigEndian.PutUint32(out[0:TunnelIDSize], m.TunnelID)
	copy(out[TunnelIDSize:TunnelIDSize+IVSize], m.IV[:])
	copy(out[TunnelIDSize+IVSize:], m.Payload[:])
	return out
}

// DecodeDataMessage parses a fixed 1024-byte tunnel-data message.
func DecodeDataMessage(buf []byte) (*DataMessage, error) {
	if len(buf) != DataMessageSize {
		return nil, fmt.Errorf("runtime: tunnel-data message must be %d bytes, got %d", DataMessageSize, len(buf))
	}
	m := &DataMessage{TunnelID: binary.BigEndian.Uint32(buf[0:TunnelIDSize])}
	copy(m.IV[:], buf[TunnelIDSize:TunnelIDSize+IVSize])
	copy(m.Payload[:], buf[TunnelIDSize+IVSize:])
	return m, nil
}
