package runtime

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/identity"
)

// Endpoint unpacks plaintext tunnel-data messages back into the
// TunnelMessageBlocks the gateway framed, reassembling fragmented
// messages by msg_id and dispatching each completed block (§4.7).
type Endpoint struct {
	// Deliver receives each reassembled block. Dispatch by delivery
	// type (local, router, tunnel) is the owner's concern.
	Deliver func(TunnelMessageBlock)

	partial map[uint32]*partialMessage
}

type partialMessage struct {
	block    TunnelMessageBlock
	nextFrag int
	complete bool
}

// NewEndpoint creates an Endpoint delivering completed blocks to
// deliver.
func NewEndpoint(deliver func(TunnelMessageBlock)) *Endpoint {
	return &Endpoint{Deliver: deliver, partial: make(map[uint32]*partialMessage)}
}

// HandleDecrypted processes one fully decrypted tunnel-data message.
// A checksum or structure failure drops the whole message (§7 Parse:
// drop, never abort).
func (e *Endpoint) HandleDecrypted(m *DataMessage) error {
	zero := bytes.IndexByte(m.Payload[checksumSize:], 0)
	if zero < 0 {
		return fmt.Errorf("runtime: tunnel-data payload has no padding separator")
	}
	content := m.Payload[checksumSize+zero+1:]

	sum := crypto.SHA256(content, m.IV[:])
	if !bytes.Equal(sum[:checksumSize], m.Payload[0:checksumSize]) {
		return fmt.Errorf("runtime: tunnel-data checksum mismatch")
	}

	off := 0
	for off < len(content) {
		n, err := e.handleRecord(content[off:])
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}

func (e *Endpoint) handleRecord(buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, fmt.Errorf("runtime: empty instruction record")
	}
	flag := buf[0]

	if flag&flagFollowOn != 0 {
		if len(buf) < 7 {
			return 0, fmt.Errorf("runtime: truncated follow-on fragment header")
		}
		msgID := binary.BigEndian.Uint32(buf[1:5])
		size := int(binary.BigEndian.Uint16(buf[5:7]))
		if len(buf) < 7+size {
			return 0, fmt.Errorf("runtime: truncated follow-on fragment body")
		}
		fragNum := int(flag>>followOnNumShift) & 0x3F
		last := flag&flagFollowOnIsLast != 0

		p, ok := e.partial[msgID]
		if !ok || p.nextFrag != fragNum {
			// Out-of-order or orphaned fragment: drop the whole
			// partial message, the sender will not retransmit.
			delete(e.partial, msgID)
			return 7 + size, nil
		}
		p.block.Payload = append(p.block.Payload, buf[7:7+size]...)
		p.nextFrag++
		if last {
			delete(e.partial, msgID)
			e.Deliver(p.block)
		}
		return 7 + size, nil
	}

	block := TunnelMessageBlock{Delivery: DeliveryType(flag >> deliveryTypeShift & 0x3)}
	off := 1
	switch block.Delivery {
	case DeliveryTunnel:
		if len(buf) < off+4+identity.IdentHashSize {
			return 0, fmt.Errorf("runtime: truncated tunnel delivery instructions")
		}
		block.DestTunnelID = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
		copy(block.DestHash[:], buf[off:off+identity.IdentHashSize])
		off += identity.IdentHashSize
	case DeliveryRouter:
		if len(buf) < off+identity.IdentHashSize {
			return 0, fmt.Errorf("runtime: truncated router delivery instructions")
		}
		copy(block.DestHash[:], buf[off:off+identity.IdentHashSize])
		off += identity.IdentHashSize
	case DeliveryLocal:
	default:
		return 0, fmt.Errorf("runtime: unknown delivery type %d", block.Delivery)
	}

	fragmented := flag&flagFragmented != 0
	var msgID uint32
	if fragmented {
		if len(buf) < off+4 {
			return 0, fmt.Errorf("runtime: truncated fragment msg_id")
		}
		msgID = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
	}
	if len(buf) < off+2 {
		return 0, fmt.Errorf("runtime: truncated instruction size")
	}
	size := int(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2
	if len(buf) < off+size {
		return 0, fmt.Errorf("runtime: truncated instruction payload")
	}
	block.Payload = append([]byte(nil), buf[off:off+size]...)
	off += size

	if fragmented {
		e.partial[msgID] = &partialMessage{block: block, nextFrag: 1}
		return off, nil
	}
	e.Deliver(block)
	return off, nil
}
