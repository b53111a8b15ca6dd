package runtime

import (
	"encoding/binary"
	"fmt"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/identity"
)

// DeliveryType says where a tunnel message block is bound once it
// leaves the tunnel endpoint (§4.7: local, tunnel, router).
type DeliveryType byte

const (
	DeliveryLocal  DeliveryType = 0
	DeliveryTunnel DeliveryType = 1
	DeliveryRouter DeliveryType = 2
)

// TunnelMessageBlock is one client message queued at a tunnel gateway
// (§4.7 SendTunnelDataMsg): the delivery instructions plus a complete
// I2NP message as payload.
type TunnelMessageBlock struct {
	Delivery     DeliveryType
	DestHash     identity.IdentHash // router and tunnel delivery
	DestTunnelID uint32             // tunnel delivery only
	Payload      []byte
}

// Delivery-instruction flag layout. First fragments keep bit 7 clear
// and carry the delivery type in bits 6-5 plus a fragmented marker in
// bit 3; follow-on fragments set bit 7, the fragment number in bits
// 6-1, and the last-fragment marker in bit 0.
const (
	flagFollowOn       = 1 << 7
	flagFragmented     = 1 << 3
	deliveryTypeShift  = 5
	followOnNumShift   = 1
	flagFollowOnIsLast = 1 << 0
)

// checksumSize is the width of the truncated SHA-256 checksum leading
// a decrypted tunnel-data payload; the zero byte after the padding
// run separates padding from the instruction records.
const checksumSize = 4

// Gateway buffers TunnelMessageBlocks and flushes them as fixed-size
// tunnel-data messages (§4.7). Send is the hook the owning task uses
// to hand each finished DataMessage to the tunnel's first hop;
// batching happens by queuing blocks and calling Flush once per
// scheduling iteration (§5 FlushTunnelDataMsgs).
type Gateway struct {
	TunnelID uint32
	Send     func(*DataMessage) error

	queue []TunnelMessageBlock
}

// Queue appends block for the next Flush.
func (g *Gateway) Queue(block TunnelMessageBlock) {
	g.queue = append(g.queue, block)
}

// Flush fragments and packs every queued block into tunnel-data
// messages and sends them. Partial fill is padded; nothing is held
// back waiting for a fuller message.
func (g *Gateway) Flush() error {
	if len(g.queue) == 0 {
		return nil
	}
	blocks := g.queue
	g.queue = nil

	records, err := fragmentBlocks(blocks)
	if err != nil {
		return err
	}

	var pending [][]byte
	flushPending := func() error {
		if len(pending) == 0 {
			return nil
		}
		msg, err := packRecords(g.TunnelID, pending)
		pending = nil
		if err != nil {
			return err
		}
		return g.Send(msg)
	}

	used := 0
	for _, rec := range records {
		if used+len(rec) > maxRecordSpace() {
			if err := flushPending(); err != nil {
				return err
			}
			used = 0
		}
		pending = append(pending, rec)
		used += len(rec)
	}
	return flushPending()
}

// maxRecordSpace is how many payload bytes one tunnel-data message
// offers to instruction records: the 1004-byte payload minus the
// checksum and the mandatory zero separator.
func maxRecordSpace() int {
	return PayloadSize - checksumSize - 1
}

// fragmentBlocks serializes each block into one first-fragment record
// plus however many follow-on records its payload needs. Records are
// self-delimiting (each carries its own size field).
func fragmentBlocks(blocks []TunnelMessageBlock) ([][]byte, error) {
	var records [][]byte
	for i := range blocks {
		recs, err := fragmentBlock(&blocks[i])
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

func fragmentBlock(b *TunnelMessageBlock) ([][]byte, error) {
	header := firstFragmentHeader(b, false)
	// A block whose instructions and payload fit one message is sent
	// unfragmented.
	if len(header)+2+len(b.Payload) <= maxRecordSpace() {
		rec := append(append([]byte(nil), header...), 0, 0)
		binary.BigEndian.PutUint16(rec[len(header):], uint16(len(b.Payload)))
		return [][]byte{append(rec, b.Payload...)}, nil
	}

	var msgIDBuf [4]byte
	if err := crypto.RandBytes(msgIDBuf[:]); err != nil {
		return nil, err
	}
	msgID := binary.BigEndian.Uint32(msgIDBuf[:])

	header = firstFragmentHeader(b, true)
	header = binary.BigEndian.AppendUint32(header, msgID)
	firstSize := maxRecordSpace() - len(header) - 2
	if firstSize <= 0 {
		return nil, fmt.Errorf("runtime: delivery instructions leave no room for payload")
	}
	if firstSize > len(b.Payload) {
		firstSize = len(b.Payload)
	}

	first := append(append([]byte(nil), header...), 0, 0)
	binary.BigEndian.PutUint16(first[len(header):], uint16(firstSize))
	first = append(first, b.Payload[:firstSize]...)
	records := [][]byte{first}

	rest := b.Payload[firstSize:]
	fragNum := 1
	for len(rest) > 0 {
		// follow-on header: flag(1) + msg_id(4) + size(2)
		chunk := maxRecordSpace() - 7
		last := false
		if chunk >= len(rest) {
			chunk = len(rest)
			last = true
		}
		flag := byte(flagFollowOn | fragNum<<followOnNumShift)
		if last {
			flag |= flagFollowOnIsLast
		}
		rec := []byte{flag}
		rec = binary.BigEndian.AppendUint32(rec, msgID)
		rec = binary.BigEndian.AppendUint16(rec, uint16(chunk))
		rec = append(rec, rest[:chunk]...)
		records = append(records, rec)
		rest = rest[chunk:]
		fragNum++
		if fragNum > 62 {
			return nil, fmt.Errorf("runtime: message needs more than 62 fragments")
		}
	}
	return records, nil
}

func firstFragmentHeader(b *TunnelMessageBlock, fragmented bool) []byte {
	flag := byte(b.Delivery) << deliveryTypeShift
	if fragmented {
		flag |= flagFragmented
	}
	out := []byte{flag}
	switch b.Delivery {
	case DeliveryTunnel:
		out = binary.BigEndian.AppendUint32(out, b.DestTunnelID)
		out = append(out, b.DestHash[:]...)
	case DeliveryRouter:
		out = append(out, b.DestHash[:]...)
	}
	return out
}

// packRecords lays records into a plaintext DataMessage: checksum,
// nonzero random padding, the zero separator, then the records
// (§4.7). The checksum is the first four bytes of SHA-256 over the
// record bytes and the message IV.
func packRecords(tunnelID uint32, records [][]byte) (*DataMessage, error) {
	var content []byte
	for _, r := range records {
		content = append(content, r...)
	}
	if len(content) > maxRecordSpace() {
		return nil, fmt.Errorf("runtime: %d record bytes exceed tunnel-data capacity %d", len(content), maxRecordSpace())
	}

	m := &DataMessage{TunnelID: tunnelID}
	if err := crypto.RandBytes(m.IV[:]); err != nil {
		return nil, err
	}

	sum := crypto.SHA256(content, m.IV[:])
	copy(m.Payload[0:checksumSize], sum[:checksumSize])

	padLen := PayloadSize - checksumSize - 1 - len(content)
	pad := m.Payload[checksumSize : checksumSize+padLen]
	if err := crypto.RandBytes(pad); err != nil {
		return nil, err
	}
	// Padding must never contain the zero separator.
	for i := range pad {
		if pad[i] == 0 {
			pad[i] = 1
		}
	}
	m.Payload[checksumSize+padLen] = 0
	copy(m.Payload[checksumSize+padLen+1:], content)
	return m, nil
}
