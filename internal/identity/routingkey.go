package identity

import (
	"fmt"
	"time"

	"github.com/go-i2p/kovri/internal/crypto"
)

// RoutingKey computes the daily-rotating routing key for an IdentHash
// (§3): SHA-256(IdentHash ‖ yyyymmdd-UTC). Floodfill responsibility
// for a destination is derived from XOR proximity to this key, not to
// the raw IdentHash, so that responsibility rotates predictably every
// day without requiring a new DHT join.
//
// RoutingKey rejects the zero hash (scenario S3): a zero IdentHash
// never legitimately names a router or destination, so computing a
// routing key for it would only mask a caller bug.
func RoutingKey(h IdentHash, now time.Time) (IdentHash, error) {
	if h.IsZero() {
		return IdentHash{}, fmt.Errorf("identity: routing key of the zero ident hash is undefined")
	}
	date := now.UTC().Format("20060102")
	return IdentHash(crypto.SHA256(h[:], []byte(date))), nil
}
