package build

import (
	"fmt"
	"time"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/identity"
)

// AcceptancePolicy decides whether a participating router accepts a
// transit tunnel hop (§4.6: "Refuse if we do not accept tunnels,
// transit tunnels >= MAX_NUM_TRANSIT_TUNNELS, or bandwidth is
// exceeded"). Implementations live in the tunnel pool / router
// context, external to this package.
type AcceptancePolicy interface {
	Accept() (accept bool, status byte)
}

// TransitTunnel is the record a participating router keeps for a
// hop it has accepted, keyed by ReceiveTunnelID.
type TransitTunnel struct {
	ReceiveTunnelID uint32
	NextTunnelID    uint32
	NextIdent       identity.IdentHash
	LayerKey        [32]byte
	IVKey           [32]byte
	IsOutboundEndpoint bool
	IsInboundGateway   bool
}

// ParticipantResult is the outcome of handling one build-request
// record addressed to this router.
type ParticipantResult struct {
	Transit  *TransitTunnel // nil if rejected
	Status   byte
	Accepted bool
	// Cleartext is the decrypted request record; the caller needs
	// its next-hop fields to forward the request or turn the reply
	// around regardless of the accept decision.
	Cleartext Cleartext
}

// HandleBuildRequestRecords locates the record addressed to self
// (matching the first 16 bytes of self's ident hash), decrypts it,
// applies policy, and returns both the per-hop outcome and the full
// set of RecordSize-byte reply records ready to forward to the
// previous hop (§4.6 handle_build_request_records).
func HandleBuildRequestRecords(self identity.IdentHash, priv crypto.ElGamalPrivateKey, records [][]byte, policy AcceptancePolicy, now time.Time) (*ParticipantResult, [][]byte, error) {
	idx := -1
	for i, rec := range records {
		if MatchesPeer(rec, self) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil, fmt.Errorf("build: no record addressed to this router")
	}

	cleartext, err := DecryptRecord(priv, records[idx])
	if err != nil {
		return nil, nil, fmt.Errorf("build: decrypt our record: %w", err)
	}

	accept, status := policy.Accept()
	result := &ParticipantResult{Status: status, Accepted: accept, Cleartext: cleartext}
	if accept {
		result.Transit = &TransitTunnel{
			ReceiveTunnelID:    cleartext.ReceiveTunnelID,
			NextTunnelID:       cleartext.NextTunnelID,
			NextIdent:          cleartext.NextIdent,
			LayerKey:           cleartext.LayerKey,
			IVKey:              cleartext.IVKey,
			IsOutboundEndpoint: cleartext.Flags&FlagOutboundEndpoint != 0,
			IsInboundGateway:   cleartext.Flags&FlagInboundGateway != 0,
		}
	}

	replies, err := buildReplyRecords(records, idx, status, cleartext.ReplyKey, cleartext.ReplyIV)
	if err != nil {
		return nil, nil, err
	}
	return result, replies, nil
}

// buildReplyRecords constructs the reply record for our own slot
// (random padding + status, hashed into the first 32 bytes) and
// re-encrypts every record — ours included — under the build
// request's reply key/IV. CBC is not chained across records (§4.6).
func buildReplyRecords(records [][]byte, ourIdx int, status byte, replyKey [32]byte, replyIV [16]byte) ([][]byte, error) {
	out := make([][]byte, len(records))
	for i, rec := range records {
		out[i] = append([]byte(nil), rec...)
	}

	own := make([]byte, RecordSize)
	if err := crypto.RandBytes(own[ReplyHashSize:ReplyStatusOffset]); err != nil {
		return nil, err
	}
	own[ReplyStatusOffset] = status
	sum := crypto.SHA256(own[ReplyHashSize:])
	copy(own[:ReplyHashSize], sum[:])
	out[ourIdx] = own

	for i := range out {
		if err := crypto.AES256CBCEncrypt(replyKey[:], replyIV[:], out[i]); err != nil {
			return nil, fmt.Errorf("build: encrypt reply record %d: %w", i, err)
		}
	}
	return out, nil
}
