// Package garlic implements the session-tag keyed AES layer over
// ElGamal used for end-to-end cloves (§4.9): session and tag caches,
// clove assembly, the wrap/unwrap paths, and the delivery-status
// confirmation of freshly issued tags.
package garlic

import (
	"encoding/binary"
	"fmt"

	"github.com/go-i2p/kovri/internal/i2np"
	"github.com/go-i2p/kovri/internal/identity"
)

// CloveDelivery says where a clove's inner I2NP message is bound.
// Values match the garlic delivery-instruction flag bits 6-5.
type CloveDelivery byte

const (
	CloveLocal       CloveDelivery = 0
	CloveDestination CloveDelivery = 1
	CloveRouter      CloveDelivery = 2
	CloveTunnel      CloveDelivery = 3
)

const cloveDeliveryShift = 5

// Clove is one independently-routed message inside a garlic payload
// (§3): delivery instructions, a complete I2NP message, an ID, an
// expiration, and a three-byte certificate.
type Clove struct {
	Delivery     CloveDelivery
	DestHash     identity.IdentHash // destination, router, and tunnel delivery
	DestTunnelID uint32             // tunnel delivery only
	Message      []byte             // full I2NP wire message
	CloveID      uint32
	ExpirationMs uint64
	Cert         [3]byte
}

// encode appends c's wire form to out.
func (c *Clove) encode(out []byte) []byte {
	out = append(out, byte(c.Delivery)<<cloveDeliveryShift)
	switch c.Delivery {
	case CloveDestination, CloveRouter:
		out = append(out, c.DestHash[:]...)
	case CloveTunnel:
		out = append(out, c.DestHash[:]...)
		out = binary.BigEndian.AppendUint32(out, c.DestTunnelID)
	}
	out = append(out, c.Message...)
	out = binary.BigEndian.AppendUint32(out, c.CloveID)
	out = binary.BigEndian.AppendUint64(out, c.ExpirationMs)
	out = append(out, c.Cert[:]...)
	return out
}

// decodeClove parses one clove from buf, returning it and the number
// of bytes consumed. The inner I2NP message is self-delimiting via
// its header's size field.
func decodeClove(buf []byte) (Clove, int, error) {
	var c Clove
	if len(buf) < 1 {
		return c, 0, fmt.Errorf("garlic: empty clove")
	}
	c.Delivery = CloveDelivery(buf[0] >> cloveDeliveryShift & 0x3)
	off := 1
	switch c.Delivery {
	case CloveDestination, CloveRouter:
		if len(buf) < off+identity.IdentHashSize {
			return c, 0, fmt.Errorf("garlic: truncated clove delivery hash")
		}
		copy(c.DestHash[:], buf[off:off+identity.IdentHashSize])
		off += identity.IdentHashSize
	case CloveTunnel:
		if len(buf) < off+identity.IdentHashSize+4 {
			return c, 0, fmt.Errorf("garlic: truncated clove tunnel delivery")
		}
		copy(c.DestHash[:], buf[off:off+identity.IdentHashSize])
		off += identity.IdentHashSize
		c.DestTunnelID = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
	}

	if len(buf) < off+i2np.HeaderSize {
		return c, 0, fmt.Errorf("garlic: truncated clove message header")
	}
	msgSize := int(binary.BigEndian.Uint16(buf[off+13 : off+15]))
	total := i2np.HeaderSize + msgSize
	if len(buf) < off+total {
		return c, 0, fmt.Errorf("garlic: truncated clove message body")
	}
	c.Message = append([]byte(nil), buf[off:off+total]...)
	off += total

	if len(buf) < off+4+8+3 {
		return c, 0, fmt.Errorf("garlic: truncated clove trailer")
	}
	c.CloveID = binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	c.ExpirationMs = binary.BigEndian.Uint64(buf[off : off+8])
	off += 8
	copy(c.Cert[:], buf[off:off+3])
	off += 3
	return c, off, nil
}

// encodeCloves serializes the cloves section: num_cloves:u8 ‖ clove*.
func encodeCloves(cloves []Clove) ([]byte, error) {
	if len(cloves) == 0 || len(cloves) > 0xFF {
		return nil, fmt.Errorf("garlic: clove count %d out of range", len(cloves))
	}
	out := []byte{byte(len(cloves))}
	for i := range cloves {
		out = cloves[i].encode(out)
	}
	return out, nil
}

// decodeCloves parses the cloves section.
func decodeCloves(buf []byte) ([]Clove, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("garlic: empty cloves section")
	}
	n := int(buf[0])
	off := 1
	cloves := make([]Clove, 0, n)
	for i := 0; i < n; i++ {
		c, used, err := decodeClove(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("garlic: clove %d: %w", i, err)
		}
		cloves = append(cloves, c)
		off += used
	}
	return cloves, nil
}
