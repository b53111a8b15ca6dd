package build

import (
	"fmt"
	"time"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/identity"
)

// minRecords is the minimum number of records a build message always
// carries, padding out short tunnels with decoy records (§4.6: "Total
// records = max(num_hops, 5)").
const minRecords = 5

// HopSpec describes one hop a requester is building through, in tunnel
// order (closest to the requester first).
type HopSpec struct {
	Ident           *identity.RouterIdentity
	CryptoPublicKey crypto.ElGamalPublicKey
	TunnelID        uint32 // this hop's receive_tunnel_id
	LayerKey        [32]byte
	IVKey           [32]byte
	ReplyKey        [32]byte
	ReplyIV         [16]byte
	OutboundEndpoint bool
	InboundGateway   bool

	// ReplyToIdent/ReplyToTunnelID are written into the LAST hop's
	// next fields: where that hop routes the turned-around build
	// reply (an inbound tunnel gateway for outbound builds, the
	// requester itself for inbound builds). Zero means the record
	// names no onward hop.
	ReplyToIdent    identity.IdentHash
	ReplyToTunnelID uint32
}

// Request is an in-progress tunnel build: the hop chain, the
// permutation assigning each hop to a record slot, and the raw records
// ready to send.
type Request struct {
	Hops        []HopSpec
	Permutation []int // Permutation[i] = record slot for Hops[i]
	Records     [][]byte
	ReplyMsgID  uint32
}

// Build constructs a Request for hops (requester-side, §4.6 step 1-5).
// replyMsgID is the msg_id the final hop's reply should carry so the
// requester recognizes the VariableTunnelBuildReply as answering this
// request.
func Build(hops []HopSpec, replyMsgID uint32, now time.Time) (*Request, error) {
	if len(hops) == 0 {
		return nil, fmt.Errorf("build: at least one hop is required")
	}

	total := len(hops)
	if total < minRecords {
		total = minRecords
	}

	perm := crypto.Permutation(total)[:len(hops)]

	records := make([][]byte, total)
	for i := range records {
		records[i] = make([]byte, RecordSize)
		if err := crypto.RandBytes(records[i]); err != nil {
			return nil, err
		}
	}

	for i, hop := range hops {
		var flags byte
		if hop.OutboundEndpoint {
			flags |= FlagOutboundEndpoint
		}
		if hop.InboundGateway {
			flags |= FlagInboundGateway
		}

		msgID := replyMsgID
		if i != len(hops)-1 {
			var buf [4]byte
			if err := crypto.RandBytes(buf[:]); err != nil {
				return nil, err
			}
			msgID = uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
		}

		nextIdent := hop.ReplyToIdent
		nextTunnelID := hop.ReplyToTunnelID
		if i+1 < len(hops) {
			nextIdent = hops[i+1].Ident.IdentHash()
			nextTunnelID = hops[i+1].TunnelID
		}

		c := Cleartext{
			ReceiveTunnelID: hop.TunnelID,
			LocalIdent:      hop.Ident.IdentHash(),
			NextTunnelID:    nextTunnelID,
			NextIdent:       nextIdent,
			LayerKey:        hop.LayerKey,
			IVKey:           hop.IVKey,
			ReplyKey:        hop.ReplyKey,
			ReplyIV:         hop.ReplyIV,
			Flags:           flags,
			RequestTimeSec:  uint32(now.Unix()),
			SendMsgID:       msgID,
		}

		rec, err := EncryptRecord(hop.Ident.IdentHash(), hop.CryptoPublicKey, c)
		if err != nil {
			return nil, fmt.Errorf("build: hop %d: %w", i, err)
		}
		records[perm[i]] = rec
	}

	req := &Request{Hops: hops, Permutation: perm, Records: records, ReplyMsgID: replyMsgID}
	if err := req.forwardTransform(); err != nil {
		return nil, err
	}
	return req, nil
}

// forwardTransform pre-decrypts every later hop's record under each
// earlier hop's reply key, walking hops from last back to first (§4.6
// step 5). As the build request is forwarded hop by hop, every
// participant (including the first) re-encrypts the entire record set
// under its own reply key before passing it on; this pre-decryption
// cancels that accumulated layering out so that by the time a given
// hop's turn comes, its own ElGamal-encrypted record is still pristine.
func (r *Request) forwardTransform() error {
	for i := len(r.Hops) - 1; i >= 0; i-- {
		hop := r.Hops[i]
		for j := i + 1; j < len(r.Hops); j++ {
			slot := r.Permutation[j]
			if err := crypto.AES256CBCDecrypt(hop.ReplyKey[:], hop.ReplyIV[:], r.Records[slot]); err != nil {
				return fmt.Errorf("build: forward transform hop %d record %d: %w", i, slot, err)
			}
		}
	}
	return nil
}

// HopResult is one hop's outcome after HandleBuildResponse.
type HopResult struct {
	Accepted bool
	Status   byte
}

// HandleBuildResponse decrypts replyRecords in place (a copy of the
// wire records the requester received) and reports each hop's
// acceptance status (§4.6 handle_build_response).
func (r *Request) HandleBuildResponse(replyRecords [][]byte) ([]HopResult, error) {
	if len(replyRecords) != len(r.Records) {
		return nil, fmt.Errorf("build: reply has %d records, want %d", len(replyRecords), len(r.Records))
	}
	decrypted := make([][]byte, len(replyRecords))
	for i, rec := range replyRecords {
		decrypted[i] = append([]byte(nil), rec...)
	}

	for i := len(r.Hops) - 1; i >= 0; i-- {
		hop := r.Hops[i]
		for j := 0; j <= i; j++ {
			slot := r.Permutation[j]
			if err := crypto.AES256CBCDecrypt(hop.ReplyKey[:], hop.ReplyIV[:], decrypted[slot]); err != nil {
				return nil, fmt.Errorf("build: decrypt reply hop %d record %d: %w", i, slot, err)
			}
		}
	}

	results := make([]HopResult, len(r.Hops))
	for i, hop := range r.Hops {
		slot := r.Permutation[i]
		status := decrypted[slot][ReplyStatusOffset]
		results[i] = HopResult{Accepted: status == StatusAccept, Status: status}
		_ = hop
	}
	return results, nil
}

// Established reports whether every hop accepted (§4.6: "All-zero =>
// tunnel established").
func Established(results []HopResult) bool {
	for _, r := range results {
		if !r.Accepted {
			return false
		}
	}
	return true
}
