// Package build implements the tunnel build protocol (§4.6): the
// ElGamal+AES-CBC onion-routed TunnelBuildRecord/TunnelBuildReplyRecord
// exchange used to establish inbound and outbound tunnels, and the
// participating-router decision logic that accepts or rejects a hop.
package build

import (
	"encoding/binary"
	"fmt"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/identity"
)

const (
	// RecordSize is the fixed wire size of every build-request and
	// build-reply record slot (§4.6, §6).
	RecordSize = ToPeerTruncatedSize + crypto.CiphertextSize
	// ToPeerTruncatedSize is the width of the truncated ident hash
	// prefixing an encrypted build record.
	ToPeerTruncatedSize = 16

	// CleartextSize is the width of a TunnelBuildRecord's cleartext
	// payload (§6), equal to crypto.PlaintextSize.
	CleartextSize = crypto.PlaintextSize

	// ReplyRandomSize/ReplyHashSize/ReplyStatusOffset describe the
	// TunnelBuildReplyRecord layout: sha256_of_remaining[32] ‖
	// random[495] ‖ status[1] (§6).
	ReplyHashSize     = 32
	ReplyRandomSize   = 495
	ReplyStatusOffset = ReplyHashSize + ReplyRandomSize // 527
)

// Cleartext flag bits (§6).
const (
	FlagOutboundEndpoint byte = 1 << 7
	FlagInboundGateway   byte = 1 << 6
)

// Reject status codes (§6 convention).
const (
	StatusAccept              byte = 0
	StatusRejectProbabilistic byte = 10
	StatusRejectOverload      byte = 20
	StatusRejectBandwidth     byte = 30
	StatusRejectCritical      byte = 50
)

// Cleartext is the decoded TunnelBuildRecord payload a hop decrypts
// (§6).
type Cleartext struct {
	ReceiveTunnelID uint32
	LocalIdent      identity.IdentHash
	NextTunnelID    uint32
	NextIdent       identity.IdentHash
	LayerKey        [32]byte
	IVKey           [32]byte
	ReplyKey        [32]byte
	ReplyIV         [16]byte
	Flags           byte
	RequestTimeSec  uint32
	SendMsgID       uint32
}

// EncodeCleartext serializes c to its fixed 222-byte layout.
func EncodeCleartext(c Cleartext) []byte {
	out := make([]byte, CleartextSize)
	binary.BigEndian.PutUint32(out[0:4], c.ReceiveTunnelID)
	copy(out[4:36], c.LocalIdent[:])
	binary.BigEndian.PutUint32(out[36:40], c.NextTunnelID)
	copy(out[40:72], c.NextIdent[:])
	copy(out[72:104], c.LayerKey[:])
	copy(out[104:136], c.IVKey[:])
	copy(out[136:168], c.ReplyKey[:])
	copy(out[168:184], c.ReplyIV[:])
	out[184] = c.Flags
	binary.BigEndian.PutUint32(out[185:189], c.RequestTimeSec)
	binary.BigEndian.PutUint32(out[189:193], c.SendMsgID)
	// out[193:222] padding: left zero; EncryptRecord fills it with CSPRNG
	// bytes before ElGamal-encrypting, not here, so the cleartext
	// struct itself stays deterministic for tests.
	return out
}

// DecodeCleartext parses a 222-byte TunnelBuildRecord cleartext.
func DecodeCleartext(buf []byte) (Cleartext, error) {
	var c Cleartext
	if len(buf) != CleartextSize {
		return c, fmt.Errorf("build: cleartext must be %d bytes, got %d", CleartextSize, len(buf))
	}
	c.ReceiveTunnelID = binary.BigEndian.Uint32(buf[0:4])
	copy(c.LocalIdent[:], buf[4:36])
	c.NextTunnelID = binary.BigEndian.Uint32(buf[36:40])
	copy(c.NextIdent[:], buf[40:72])
	copy(c.LayerKey[:], buf[72:104])
	copy(c.IVKey[:], buf[104:136])
	copy(c.ReplyKey[:], buf[136:168])
	copy(c.ReplyIV[:], buf[168:184])
	c.Flags = buf[184]
	c.RequestTimeSec = binary.BigEndian.Uint32(buf[185:189])
	c.SendMsgID = binary.BigEndian.Uint32(buf[189:193])
	return c, nil
}

// EncryptRecord ElGamal-encrypts cleartext under toPeer's crypto
// public key and prefixes it with the first ToPeerTruncatedSize bytes
// of toPeerHash, producing a RecordSize-byte build record.
func EncryptRecord(toPeerHash identity.IdentHash, toPeerPub crypto.ElGamalPublicKey, cleartext Cleartext) ([]byte, error) {
	plain := EncodeCleartext(cleartext)
	if err := fillPadding(plain); err != nil {
		return nil, err
	}
	ct, err := crypto.ElGamalEncrypt(toPeerPub, plain)
	if err != nil {
		return nil, fmt.Errorf("build: encrypt record: %w", err)
	}
	out := make([]byte, RecordSize)
	copy(out[:ToPeerTruncatedSize], toPeerHash[:ToPeerTruncatedSize])
	copy(out[ToPeerTruncatedSize:], ct)
	return out, nil
}

// fillPadding fills the cleartext record's trailing padding bytes
// (§6 offset 193, 29 bytes) with CSPRNG output.
func fillPadding(plain []byte) error {
	return crypto.RandBytes(plain[193:CleartextSize])
}

// DecryptRecord ElGamal-decrypts the ciphertext portion of a
// RecordSize-byte build record under priv and parses its cleartext.
func DecryptRecord(priv crypto.ElGamalPrivateKey, record []byte) (Cleartext, error) {
	if len(record) != RecordSize {
		return Cleartext{}, fmt.Errorf("build: record must be %d bytes, got %d", RecordSize, len(record))
	}
	plain, err := crypto.ElGamalDecrypt(priv, record[ToPeerTruncatedSize:])
	if err != nil {
		return Cleartext{}, fmt.Errorf("build: decrypt record: %w", err)
	}
	return DecodeCleartext(plain)
}

// MatchesPeer reports whether record's truncated-hash prefix matches
// the first ToPeerTruncatedSize bytes of self.
func MatchesPeer(record []byte, self identity.IdentHash) bool {
	if len(record) < ToPeerTruncatedSize {
		return false
	}
	for i := 0; i < ToPeerTruncatedSize; i++ {
		if record[i] != self[i] {
			return false
		}
	}
	return true
}
