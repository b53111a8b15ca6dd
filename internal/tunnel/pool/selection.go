// Package pool implements the per-destination tunnel scheduler
// (§4.8): maintaining target counts of inbound and outbound tunnels,
// selecting peers for new builds, running liveness tests, and
// recreating tunnels ahead of expiry.
package pool

import (
	"fmt"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/identity"
	"github.com/go-i2p/kovri/internal/netdb/types"
)

// PeerSource supplies candidate routers for tunnel paths. NetDb backs
// the real one; tests supply fixtures.
type PeerSource interface {
	// RandomRouter returns a random known router, restricted to the
	// high-bandwidth tiers when highBandwidth is set. Routers whose
	// hash is in exclude are never returned.
	RandomRouter(exclude map[identity.IdentHash]bool, highBandwidth bool) (*types.RouterInfo, bool)
	// RouterInfo resolves an explicit peer hash.
	RouterInfo(hash identity.IdentHash) (*types.RouterInfo, bool)
	// IsBadPeer consults the profile store (§4.8: "whose profile is
	// not Bad").
	IsBadPeer(hash identity.IdentHash) bool
}

// TransportPeers reports on the live transport sessions the router
// holds, used to prefer an already-connected first hop (§4.8 step 2).
type TransportPeers interface {
	ActivePeerCount() int
	WellProfiledPeer() (*types.RouterInfo, bool)
}

// minActivePeersForFirstHop is the live-session count above which the
// first hop is drawn from already-connected peers (§4.8).
const minActivePeersForFirstHop = 25

// SelectPeers picks numHops routers for a tunnel path (§4.8).
// Exploratory pools skip the high-bandwidth filter. The returned list
// is in outbound order; inbound pools reverse it before building.
func SelectPeers(src PeerSource, transports TransportPeers, self identity.IdentHash, numHops int, exploratory bool) ([]*types.RouterInfo, error) {
	if numHops <= 0 {
		return nil, fmt.Errorf("pool: tunnel needs at least one hop")
	}

	exclude := map[identity.IdentHash]bool{self: true}
	var peers []*types.RouterInfo
	need := numHops

	if transports != nil && transports.ActivePeerCount() > minActivePeersForFirstHop {
		if first, ok := transports.WellProfiledPeer(); ok && !exclude[first.Identity.IdentHash()] {
			peers = append(peers, first)
			exclude[first.Identity.IdentHash()] = true
			need--
		}
	}

	for i := 0; i < need; i++ {
		peer, ok := pickPeer(src, exclude, !exploratory)
		if !ok {
			return nil, fmt.Errorf("pool: only %d of %d hops selectable", len(peers), numHops)
		}
		peers = append(peers, peer)
		exclude[peer.Identity.IdentHash()] = true
	}
	return peers, nil
}

// pickPeer tries a bandwidth-and-profile-filtered pick first, falling
// back to any random router (§4.8 step 3).
func pickPeer(src PeerSource, exclude map[identity.IdentHash]bool, highBandwidth bool) (*types.RouterInfo, bool) {
	const attempts = 10
	for i := 0; i < attempts; i++ {
		peer, ok := src.RandomRouter(exclude, highBandwidth)
		if !ok {
			break
		}
		if !src.IsBadPeer(peer.Identity.IdentHash()) {
			return peer, true
		}
		exclude[peer.Identity.IdentHash()] = true
	}
	return src.RandomRouter(exclude, false)
}

// SelectExplicitPeers shuffles the user-provided peer list and
// resolves every entry in NetDb; an unresolvable peer fails the
// selection so the caller can trigger lookups (§4.8).
func SelectExplicitPeers(src PeerSource, explicit []identity.IdentHash, numHops int) ([]*types.RouterInfo, []identity.IdentHash, error) {
	shuffled := append([]identity.IdentHash(nil), explicit...)
	crypto.Shuffle(shuffled)
	if len(shuffled) > numHops {
		shuffled = shuffled[:numHops]
	}

	var peers []*types.RouterInfo
	var missing []identity.IdentHash
	for _, hash := range shuffled {
		ri, ok := src.RouterInfo(hash)
		if !ok {
			missing = append(missing, hash)
			continue
		}
		peers = append(peers, ri)
	}
	if len(missing) > 0 {
		return nil, missing, fmt.Errorf("pool: %d explicit peers not in netdb", len(missing))
	}
	return peers, nil, nil
}
