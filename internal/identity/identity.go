// Package identity implements RouterIdentity (§3, §4.3, §6): the
// canonical ElGamal + signing public-key bundle every router and
// destination presents on the network, its certificate extension for
// signing algorithms with larger keys, and the IdentHash/RoutingKey
// derived from it.
package identity

import (
	"encoding/binary"
	"fmt"

	"github.com/go-i2p/kovri/internal/crypto"
)

const (
	cryptoKeySize   = 256
	signingAreaSize = 128
	fixedPrefixSize = cryptoKeySize + signingAreaSize // 384
	certHeaderSize  = 3

	// IdentHashSize is the width of an IdentHash in bytes.
	IdentHashSize = 32
)

// CertType identifies the certificate kind in RouterIdentity's trailer.
type CertType uint8

const (
	CertTypeNull      CertType = 0
	CertTypeKey       CertType = 5
)

// IdentHash is the 32-byte SHA-256 digest of a RouterIdentity's
// canonical bytes; it doubles as the network address.
type IdentHash [32]byte

// Compare returns -1, 0, or 1 according to the unsigned big-endian
// 256-bit integer ordering of h and other, used for XOR-metric
// proximity comparisons (§3, §5 closest_floodfill).
func (h IdentHash) Compare(other IdentHash) int {
	for i := range h {
		if h[i] != other[i] {
			if h[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// XOR returns the bytewise XOR of h and other, interpreted as an
// unsigned 256-bit integer for routing-key proximity metrics.
func (h IdentHash) XOR(other IdentHash) IdentHash {
	var out IdentHash
	for i := range h {
		out[i] = h[i] ^ other[i]
	}
	return out
}

func (h IdentHash) IsZero() bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}

func (h IdentHash) String() string {
	return fmt.Sprintf("%x", h[:8])
}

// RouterIdentity is the canonical public-key bundle described in §3.
type RouterIdentity struct {
	CryptoPublicKey  crypto.ElGamalPublicKey
	SigningPublicKey []byte
	SigType          crypto.SigType
	CertType         CertType
	// certExtra carries bytes beyond sig_type/crypto_type in a Key
	// certificate (e.g. reserved extension fields); preserved
	// byte-for-byte so re-serialization is exact even though this
	// core does not interpret them.
	certExtra []byte

	hash     IdentHash
	hashSet  bool
}

// New constructs a RouterIdentity from raw key material, computing
// and caching its IdentHash. sigType must be one of the algorithms
// crypto.SuiteFor recognizes; signingPub must be exactly that suite's
// PublicKeySize.
func New(cryptoPub crypto.ElGamalPublicKey, sigType crypto.SigType, signingPub []byte) (*RouterIdentity, error) {
	suite, err := crypto.SuiteFor(sigType)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	if len(signingPub) != suite.PublicKeySize() {
		return nil, fmt.Errorf("identity: signing public key must be %d bytes for sig type %d, got %d",
			suite.PublicKeySize(), sigType, len(signingPub))
	}

	id := &RouterIdentity{
		CryptoPublicKey:  cryptoPub,
		SigningPublicKey: append([]byte(nil), signingPub...),
		SigType:          sigType,
	}
	id.CertType = CertTypeNull
	if sigType != crypto.SigTypeDSASHA1 || suite.PublicKeySize() != signingAreaSize {
		id.CertType = CertTypeKey
	}
	id.computeHash()
	return id, nil
}

func (id *RouterIdentity) computeHash() {
	id.hash = IdentHash(crypto.SHA256(id.Bytes()))
	id.hashSet = true
}

// IdentHash returns the cached SHA-256 digest of id's canonical bytes
// (§4.3: "ident_hash is cached at construction").
func (id *RouterIdentity) IdentHash() IdentHash {
	if !id.hashSet {
		id.computeHash()
	}
	return id.hash
}

// Bytes serializes id to its canonical wire form (§6).
func (id *RouterIdentity) Bytes() []byte {
	signingArea := make([]byte, signingAreaSize)
	var extKey []byte

	switch {
	case len(id.SigningPublicKey) <= signingAreaSize:
		copy(signingArea[signingAreaSize-len(id.SigningPublicKey):], id.SigningPublicKey)
	default:
		copy(signingArea, id.SigningPublicKey[:signingAreaSize])
		extKey = id.SigningPublicKey[signingAreaSize:]
	}

	out := make([]byte, 0, fixedPrefixSize+certHeaderSize+8)
	out = append(out, id.CryptoPublicKey[:]...)
	out = append(out, signingArea...)

	if id.CertType != CertTypeKey {
		out = append(out, byte(id.CertType))
		out = binary.BigEndian.AppendUint16(out, 0)
		return out
	}

	payload := make([]byte, 4+len(extKey)+len(id.certExtra))
	binary.BigEndian.PutUint16(payload[0:2], uint16(id.SigType))
	binary.BigEndian.PutUint16(payload[2:4], 0) // crypto_type: ElGamal, the only suite this core supports
	copy(payload[4:4+len(extKey)], extKey)
	copy(payload[4+len(extKey):], id.certExtra)

	out = append(out, byte(CertTypeKey))
	out = binary.BigEndian.AppendUint16(out, uint16(len(payload)))
	out = append(out, payload...)
	return out
}

// Parse decodes a canonical RouterIdentity from buf, rejecting
// buffers that under-run the declared certificate extension length
// (§4.3 invariant) or name an unsupported signing algorithm.
func Parse(buf []byte) (*RouterIdentity, error) {
	if len(buf) < fixedPrefixSize+certHeaderSize {
		return nil, fmt.Errorf("identity: buffer too short: %d bytes", len(buf))
	}

	id := &RouterIdentity{}
	copy(id.CryptoPublicKey[:], buf[0:cryptoKeySize])
	signingArea := buf[cryptoKeySize:fixedPrefixSize]

	certType := CertType(buf[fixedPrefixSize])
	certLen := binary.BigEndian.Uint16(buf[fixedPrefixSize+1 : fixedPrefixSize+3])
	certPayloadStart := fixedPrefixSize + certHeaderSize
	if len(buf) < certPayloadStart+int(certLen) {
		return nil, fmt.Errorf("identity: certificate declares %d byte payload but only %d remain",
			certLen, len(buf)-certPayloadStart)
	}
	certPayload := buf[certPayloadStart : certPayloadStart+int(certLen)]
	id.CertType = certType

	switch certType {
	case CertTypeKey:
		if len(certPayload) < 4 {
			return nil, fmt.Errorf("identity: key certificate payload too short: %d bytes", len(certPayload))
		}
		sigType := crypto.SigType(binary.BigEndian.Uint16(certPayload[0:2]))
		// crypto_type at certPayload[2:4] is always ElGamal (0) in
		// this core; any other value is rejected rather than
		// silently misinterpreted.
		cryptoType := binary.BigEndian.Uint16(certPayload[2:4])
		if cryptoType != 0 {
			return nil, fmt.Errorf("identity: unsupported crypto key type %d", cryptoType)
		}
		suite, err := crypto.SuiteFor(sigType)
		if err != nil {
			return nil, fmt.Errorf("identity: %w", err)
		}
		extension := certPayload[4:]
		id.SigType = sigType

		want := suite.PublicKeySize()
		switch {
		case want <= signingAreaSize:
			id.SigningPublicKey = append([]byte(nil), signingArea[signingAreaSize-want:]...)
			id.certExtra = append([]byte(nil), extension...)
		default:
			extraNeeded := want - signingAreaSize
			if len(extension) < extraNeeded {
				return nil, fmt.Errorf("identity: certificate under-runs extended signing key: need %d more bytes, have %d",
					extraNeeded, len(extension))
			}
			id.SigningPublicKey = append(append([]byte(nil), signingArea...), extension[:extraNeeded]...)
			id.certExtra = append([]byte(nil), extension[extraNeeded:]...)
		}
	case CertTypeNull:
		id.SigType = crypto.SigTypeDSASHA1
		id.SigningPublicKey = append([]byte(nil), signingArea...)
	default:
		return nil, fmt.Errorf("identity: unsupported certificate type %d", certType)
	}

	id.computeHash()
	return id, nil
}

// TotalSize returns the length in bytes of id's canonical serialization.
func (id *RouterIdentity) TotalSize() int {
	return len(id.Bytes())
}

// Verify checks sig over msg using id's declared signing algorithm.
// It never panics on malformed input; a bad signing type, key size,
// or signature mismatch all simply return false (§7 Verify error
// kind).
func (id *RouterIdentity) Verify(msg, sig []byte) bool {
	suite, err := crypto.SuiteFor(id.SigType)
	if err != nil {
		return false
	}
	return suite.Verify(id.SigningPublicKey, msg, sig)
}
