package runtime

import (
	"fmt"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/identity"
)

// Hop carries the layered-encryption key material for one tunnel hop
// (§4.7): the layer key for the payload CBC pass and the IV key for
// the per-message IV transform.
type Hop struct {
	Ident    identity.IdentHash
	LayerKey [32]byte
	IVKey    [32]byte
}

// Transform applies the participant-side single-layer transformation
// to m in place (§4.7): the IV is AES-decrypted as a single block
// under IVKey, the payload is AES-CBC-decrypted under LayerKey using
// that IV, and the IV is passed through the IV cipher once more so
// the next hop never sees the IV its own payload pass will use. The
// double IV pass is what I2P ships on the wire; a single
// decrypt-then-encrypt round trip would hand every hop the same IV.
func (h Hop) Transform(m *DataMessage) error {
	if err := crypto.AESECBDecryptBlock(h.IVKey[:], m.IV[:]); err != nil {
		return fmt.Errorf("runtime: iv transform: %w", err)
	}
	if err := crypto.AES256CBCDecrypt(h.LayerKey[:], m.IV[:], m.Payload[:]); err != nil {
		return fmt.Errorf("runtime: layer transform: %w", err)
	}
	if err := crypto.AESECBDecryptBlock(h.IVKey[:], m.IV[:]); err != nil {
		return fmt.Errorf("runtime: iv transform: %w", err)
	}
	return nil
}

// InverseTransform is the exact inverse of Transform, applied by the
// tunnel creator when pre-layering an outbound message or when
// unwrapping the accumulated layers of an inbound one. It mirrors
// Transform: IV block encrypt, payload CBC encrypt under the
// mid-state IV, IV block encrypt again.
func (h Hop) InverseTransform(m *DataMessage) error {
	if err := crypto.AESECBEncryptBlock(h.IVKey[:], m.IV[:]); err != nil {
		return fmt.Errorf("runtime: iv transform: %w", err)
	}
	if err := crypto.AES256CBCEncrypt(h.LayerKey[:], m.IV[:], m.Payload[:]); err != nil {
		return fmt.Errorf("runtime: layer transform: %w", err)
	}
	if err := crypto.AESECBEncryptBlock(h.IVKey[:], m.IV[:]); err != nil {
		return fmt.Errorf("runtime: iv transform: %w", err)
	}
	return nil
}
