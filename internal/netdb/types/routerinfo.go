// Package types implements the RouterInfo and LeaseSet descriptors
// (§4.4, §6): their canonical wire layout, signature framing, and the
// capability/introducer option conventions the rest of the router
// reads out of a RouterInfo's options map.
package types

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/identity"
)

// Transport names a RouterAddress's transport protocol.
type Transport string

const (
	TransportNTCP Transport = "NTCP"
	TransportSSU  Transport = "SSU"
)

// Introducer is one SSU introducer slot (i{n}host/i{n}port/i{n}tag/i{n}key).
type Introducer struct {
	Host string
	Port uint16
	Tag  string
	Key  string // base64 SSU intro key
}

// MaxIntroducers is the number of introducer slots a RouterAddress
// carries (original_source caps this at 3: i0..i2).
const MaxIntroducers = 3

// RouterAddress is one transport address a router advertises.
type RouterAddress struct {
	Cost        uint8
	Date        uint64
	Transport   Transport
	Host        string
	Port        uint16
	MTU         uint16 // 0 if unset
	Key         string // base64 SSU intro key, empty if unset
	Introducers [MaxIntroducers]Introducer
	NumIntroducers int // how many of Introducers are populated
}

// RouterInfo is the signed descriptor a router publishes advertising
// its transports, capabilities, and options (§4.4).
type RouterInfo struct {
	Identity     *identity.RouterIdentity
	TimestampMs  uint64
	Addresses    []RouterAddress
	Options      map[string]string
	Signature    []byte

	unreachable bool // set when Verify fails; never causes a panic
}

// Published returns the RouterInfo's publication time.
func (ri *RouterInfo) Published() time.Time {
	return time.UnixMilli(int64(ri.TimestampMs))
}

// Unreachable reports whether signature verification previously failed
// for this RouterInfo (§4.4: "verification failure marks the RI
// unreachable but does not panic").
func (ri *RouterInfo) Unreachable() bool {
	return ri.unreachable
}

// Caps returns the raw caps option string, e.g. "fO".
func (ri *RouterInfo) Caps() string {
	return ri.Options["caps"]
}

// HasCap reports whether flag (a single letter, e.g. 'f') is present
// in the caps string.
func (ri *RouterInfo) HasCap(flag byte) bool {
	return strings.IndexByte(ri.Caps(), flag) >= 0
}

// IsFloodfill reports whether this RouterInfo advertises the
// floodfill capability.
func (ri *RouterInfo) IsFloodfill() bool {
	return ri.HasCap('f')
}

// BandwidthTier is the single-letter bandwidth capability flag
// (§6: K/L/M/N lower tiers, O/P/X higher tiers).
type BandwidthTier byte

const (
	TierK BandwidthTier = 'K' // < 12 KB/s
	TierL BandwidthTier = 'L' // 12-48 KB/s
	TierM BandwidthTier = 'M' // 48-64 KB/s
	TierN BandwidthTier = 'N' // 64-128 KB/s
	TierO BandwidthTier = 'O' // 128-256 KB/s
	TierP BandwidthTier = 'P' // 256-2048 KB/s
	TierX BandwidthTier = 'X' // >= 2048 KB/s
)

// CapsForBandwidth derives the bandwidth-tier capability letter for a
// router advertising the given share-bandwidth in KB/s, matching
// original_source's info.cc tier boundaries.
func CapsForBandwidth(kbps int) BandwidthTier {
	switch {
	case kbps < 12:
		return TierK
	case kbps < 48:
		return TierL
	case kbps < 64:
		return TierM
	case kbps < 128:
		return TierN
	case kbps < 256:
		return TierO
	case kbps < 2048:
		return TierP
	default:
		return TierX
	}
}

// signedBytes serializes everything up to but not including the signature
// (the region the signature is computed over).
func (ri *RouterInfo) signedBytes() []byte {
	var out []byte
	out = append(out, ri.Identity.Bytes()...)
	out = binary.BigEndian.AppendUint64(out, ri.TimestampMs)

	out = append(out, byte(len(ri.Addresses)))
	for _, a := range ri.Addresses {
		out = append(out, a.Cost)
		out = binary.BigEndian.AppendUint64(out, a.Date)
		transport := []byte(a.Transport)
		out = append(out, byte(len(transport)))
		out = append(out, transport...)
		opts := encodeAddressOptions(a)
		out = binary.BigEndian.AppendUint16(out, uint16(len(opts)))
		out = append(out, opts...)
	}

	out = append(out, 0) // num_peers: always 0

	opts := encodeOptions(ri.Options)
	out = binary.BigEndian.AppendUint16(out, uint16(len(opts)))
	out = append(out, opts...)
	return out
}

// Bytes serializes the full RouterInfo including its signature.
func (ri *RouterInfo) Bytes() []byte {
	out := ri.signedBytes()
	out = append(out, ri.Signature...)
	return out
}

// Sign computes ri.Signature over signedBytes using priv, and clears
// the unreachable flag (a freshly signed RI is, by construction, our
// own and trusted).
func (ri *RouterInfo) Sign(priv *identity.PrivateKeys) error {
	sig, err := priv.Sign(ri.signedBytes())
	if err != nil {
		return fmt.Errorf("netdb: sign router info: %w", err)
	}
	ri.Signature = sig
	ri.unreachable = false
	return nil
}

// Verify checks ri.Signature against ri.Identity and records the
// result in Unreachable(); it never panics.
func (ri *RouterInfo) Verify() bool {
	ok := ri.Identity.Verify(ri.signedBytes(), ri.Signature)
	ri.unreachable = !ok
	return ok
}

// ParseRouterInfo decodes a canonical RouterInfo from buf (§4.4, §6).
func ParseRouterInfo(buf []byte) (*RouterInfo, error) {
	id, err := identity.Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("netdb: parse router info identity: %w", err)
	}
	off := id.TotalSize()
	ri := &RouterInfo{Identity: id}

	if len(buf) < off+8+1 {
		return nil, fmt.Errorf("netdb: router info truncated before timestamp/address count")
	}
	ri.TimestampMs = binary.BigEndian.Uint64(buf[off : off+8])
	off += 8
	numAddrs := int(buf[off])
	off++

	for i := 0; i < numAddrs; i++ {
		if len(buf) < off+1+8+1 {
			return nil, fmt.Errorf("netdb: router info truncated in address %d header", i)
		}
		var a RouterAddress
		a.Cost = buf[off]
		off++
		a.Date = binary.BigEndian.Uint64(buf[off : off+8])
		off += 8
		transportLen := int(buf[off])
		off++
		if len(buf) < off+transportLen {
			return nil, fmt.Errorf("netdb: router info truncated in address %d transport", i)
		}
		a.Transport = Transport(buf[off : off+transportLen])
		off += transportLen

		if len(buf) < off+2 {
			return nil, fmt.Errorf("netdb: router info truncated before address %d options length", i)
		}
		optsLen := int(binary.BigEndian.Uint16(buf[off : off+2]))
		off += 2
		if len(buf) < off+optsLen {
			return nil, fmt.Errorf("netdb: router info truncated in address %d options", i)
		}
		opts, err := decodeOptions(buf[off : off+optsLen])
		if err != nil {
			return nil, fmt.Errorf("netdb: address %d options: %w", i, err)
		}
		off += optsLen
		applyAddressOptions(&a, opts)

		ri.Addresses = append(ri.Addresses, a)
	}

	if len(buf) < off+1 {
		return nil, fmt.Errorf("netdb: router info truncated before peer count")
	}
	numPeers := int(buf[off])
	off++
	off += numPeers * identity.IdentHashSize // peers section: always empty in practice, but skip defensively
	if len(buf) < off {
		return nil, fmt.Errorf("netdb: router info truncated in peers section")
	}

	if len(buf) < off+2 {
		return nil, fmt.Errorf("netdb: router info truncated before options length")
	}
	optsLen := int(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2
	if len(buf) < off+optsLen {
		return nil, fmt.Errorf("netdb: router info truncated in options")
	}
	opts, err := decodeOptions(buf[off : off+optsLen])
	if err != nil {
		return nil, fmt.Errorf("netdb: options: %w", err)
	}
	ri.Options = opts
	off += optsLen

	suite, err := crypto.SuiteFor(id.SigType)
	if err != nil {
		return nil, fmt.Errorf("netdb: %w", err)
	}
	sigLen := suite.SignatureSize()
	if len(buf) < off+sigLen {
		return nil, fmt.Errorf("netdb: router info truncated before signature")
	}
	ri.Signature = append([]byte(nil), buf[off:off+sigLen]...)
	return ri, nil
}

func encodeAddressOptions(a RouterAddress) []byte {
	opts := map[string]string{}
	if a.Host != "" {
		opts["host"] = a.Host
	}
	if a.Port != 0 {
		opts["port"] = fmt.Sprintf("%d", a.Port)
	}
	if a.MTU != 0 {
		opts["mtu"] = fmt.Sprintf("%d", a.MTU)
	}
	if a.Key != "" {
		opts["key"] = a.Key
	}
	for n := 0; n < a.NumIntroducers && n < MaxIntroducers; n++ {
		intro := a.Introducers[n]
		opts[fmt.Sprintf("i%dhost", n)] = intro.Host
		opts[fmt.Sprintf("i%dport", n)] = fmt.Sprintf("%d", intro.Port)
		opts[fmt.Sprintf("i%dtag", n)] = intro.Tag
		opts[fmt.Sprintf("i%dkey", n)] = intro.Key
	}
	return encodeOptions(opts)
}

func applyAddressOptions(a *RouterAddress, opts map[string]string) {
	a.Host = opts["host"]
	if v, ok := opts["port"]; ok {
		fmt.Sscanf(v, "%d", &a.Port)
	}
	if v, ok := opts["mtu"]; ok {
		fmt.Sscanf(v, "%d", &a.MTU)
	}
	a.Key = opts["key"]
	for n := 0; n < MaxIntroducers; n++ {
		host, ok := opts[fmt.Sprintf("i%dhost", n)]
		if !ok {
			continue
		}
		intro := Introducer{Host: host, Tag: opts[fmt.Sprintf("i%dtag", n)], Key: opts[fmt.Sprintf("i%dkey", n)]}
		if v, ok := opts[fmt.Sprintf("i%dport", n)]; ok {
			fmt.Sscanf(v, "%d", &intro.Port)
		}
		a.Introducers[n] = intro
		if n+1 > a.NumIntroducers {
			a.NumIntroducers = n + 1
		}
	}
}

// encodeOptions serializes a key=value; map in the
// key_len:u8‖key‖'='‖val_len:u8‖val‖';' layout of §6, in sorted key
// order so that signedBytes is deterministic across calls.
func encodeOptions(opts map[string]string) []byte {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []byte
	for _, k := range keys {
		v := opts[k]
		out = append(out, byte(len(k)))
		out = append(out, k...)
		out = append(out, '=')
		out = append(out, byte(len(v)))
		out = append(out, v...)
		out = append(out, ';')
	}
	return out
}

func decodeOptions(buf []byte) (map[string]string, error) {
	opts := map[string]string{}
	off := 0
	for off < len(buf) {
		if off >= len(buf) {
			break
		}
		keyLen := int(buf[off])
		off++
		if off+keyLen+1 > len(buf) {
			return nil, fmt.Errorf("option key truncated")
		}
		key := string(buf[off : off+keyLen])
		off += keyLen
		if buf[off] != '=' {
			return nil, fmt.Errorf("option missing '=' after key %q", key)
		}
		off++
		if off >= len(buf) {
			return nil, fmt.Errorf("option value truncated")
		}
		valLen := int(buf[off])
		off++
		if off+valLen+1 > len(buf) {
			return nil, fmt.Errorf("option value truncated for key %q", key)
		}
		val := string(buf[off : off+valLen])
		off += valLen
		if buf[off] != ';' {
			return nil, fmt.Errorf("option missing ';' terminator after key %q", key)
		}
		off++
		opts[key] = val
	}
	return opts, nil
}
