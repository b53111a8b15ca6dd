// Package netdb implements the distributed RouterInfo/LeaseSet store
// (§4.5): the in-memory tables, floodfill selection by routing-key
// proximity, the RequestedDestination lookup state machine, expiry
// policy, and the on-disk descriptor layout.
package netdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/identity"
	"github.com/go-i2p/kovri/internal/netdb/types"
)

// Expiry policy thresholds (§4.5).
const (
	introducerMaxAge = time.Hour

	manyKnownThreshold   = 75
	youngRouterThreshold = 10 * time.Minute

	selfFloodfillMaxAge = time.Hour
	hugeKnownThreshold   = 300
	hugeKnownMaxAge      = 30 * time.Hour
	largeKnownThreshold  = 120
	largeKnownMaxAge     = 72 * time.Hour

	reseedThreshold = 25
)

// Store holds the router's view of the network: every known
// RouterInfo and LeaseSet, and the floodfill subset. A single
// background task is expected to own mutation (§4.5); Store's mutex
// only protects concurrent reads racing that task, not multi-writer
// ordering.
type Store struct {
	dataDir string

	mu         sync.RWMutex
	routers    map[identity.IdentHash]*types.RouterInfo
	leaseSets  map[identity.IdentHash]*types.LeaseSet
	floodfills map[identity.IdentHash]*types.RouterInfo

	profiles *ProfileStore
}

// New creates an empty Store rooted at dataDir (descriptors live under
// dataDir/netDb, profiles under dataDir/peerProfiles per §6).
func New(dataDir string) *Store {
	return &Store{
		dataDir:    dataDir,
		routers:    make(map[identity.IdentHash]*types.RouterInfo),
		leaseSets:  make(map[identity.IdentHash]*types.LeaseSet),
		floodfills: make(map[identity.IdentHash]*types.RouterInfo),
		profiles:   NewProfileStore(filepath.Join(dataDir, "peerProfiles")),
	}
}

// RouterCount returns the number of known RouterInfos.
func (s *Store) RouterCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.routers)
}

// NeedsReseed reports whether the store holds too few routers to
// bootstrap tunnel building on its own (§4.5: "if |routers| < 25,
// invoke reseed").
func (s *Store) NeedsReseed() bool {
	return s.RouterCount() < reseedThreshold
}

// AddRouterInfo inserts or replaces ri after verifying its signature.
// A RouterInfo whose signature does not verify is rejected outright
// rather than stored in an unreachable state.
func (s *Store) AddRouterInfo(ri *types.RouterInfo) error {
	if !ri.Verify() {
		return fmt.Errorf("netdb: router info %s failed signature verification", ri.Identity.IdentHash())
	}
	hash := ri.Identity.IdentHash()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.routers[hash] = ri
	if ri.IsFloodfill() {
		s.floodfills[hash] = ri
	} else {
		delete(s.floodfills, hash)
	}
	return nil
}

// RouterInfo looks up a RouterInfo by hash.
func (s *Store) RouterInfo(hash identity.IdentHash) (*types.RouterInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ri, ok := s.routers[hash]
	return ri, ok
}

// RemoveRouterInfo drops a RouterInfo from every in-memory table and
// its on-disk descriptor, saving its profile first (§4.5: "profiles
// saved before drop").
func (s *Store) RemoveRouterInfo(hash identity.IdentHash) error {
	s.mu.Lock()
	_, ok := s.routers[hash]
	if ok {
		delete(s.routers, hash)
		delete(s.floodfills, hash)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if p := s.profiles.Get(hash); p != nil {
		if err := s.profiles.Save(hash, p); err != nil {
			return fmt.Errorf("netdb: save profile before drop: %w", err)
		}
	}
	// A RouterInfo that was never persisted has no descriptor to drop.
	if err := os.Remove(descriptorPath(s.dataDir, hash)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// AddLeaseSet inserts or replaces ls after verifying its signature.
func (s *Store) AddLeaseSet(ls *types.LeaseSet) error {
	if !ls.Verify() {
		return fmt.Errorf("netdb: lease set %s failed signature verification", ls.Identity.IdentHash())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaseSets[ls.Identity.IdentHash()] = ls
	return nil
}

// LeaseSet looks up a LeaseSet by hash.
func (s *Store) LeaseSet(hash identity.IdentHash) (*types.LeaseSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ls, ok := s.leaseSets[hash]
	return ls, ok
}

// SweepExpiredLeaseSets removes every LeaseSet with no non-expired
// leases left (§4.5: "every 60s ... sweep expired LeaseSets").
func (s *Store) SweepExpiredLeaseSets(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for hash, ls := range s.leaseSets {
		if len(ls.GetNonExpiredLeases(now, false)) == 0 {
			delete(s.leaseSets, hash)
			removed++
		}
	}
	return removed
}

// ClosestFloodfill returns the floodfill router whose ident hash is
// nearest target's routing key (XOR metric), excluding any hash in
// excluded (§4.5).
func (s *Store) ClosestFloodfill(target identity.IdentHash, now time.Time, excluded map[identity.IdentHash]bool) (*types.RouterInfo, bool) {
	all := s.ClosestFloodfills(target, 1, now, excluded)
	if len(all) == 0 {
		return nil, false
	}
	return all[0], true
}

// ClosestFloodfills returns up to n floodfills closest to target's
// routing key, excluding hashes in excluded.
func (s *Store) ClosestFloodfills(target identity.IdentHash, n int, now time.Time, excluded map[identity.IdentHash]bool) []*types.RouterInfo {
	key, err := identity.RoutingKey(target, now)
	if err != nil {
		return nil
	}

	s.mu.RLock()
	candidates := make([]*types.RouterInfo, 0, len(s.floodfills))
	for hash, ri := range s.floodfills {
		if excluded != nil && excluded[hash] {
			continue
		}
		candidates = append(candidates, ri)
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		xi := key.XOR(candidates[i].Identity.IdentHash())
		xj := key.XOR(candidates[j].Identity.IdentHash())
		return xi.Compare(xj) < 0
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// ClosestRouters returns up to n non-floodfill routers closest to
// target's routing key (used to answer exploratory DatabaseLookups,
// §4.5).
func (s *Store) ClosestRouters(target identity.IdentHash, n int, now time.Time, excluded map[identity.IdentHash]bool) []*types.RouterInfo {
	key, err := identity.RoutingKey(target, now)
	if err != nil {
		return nil
	}

	s.mu.RLock()
	candidates := make([]*types.RouterInfo, 0, len(s.routers))
	for hash, ri := range s.routers {
		if ri.IsFloodfill() {
			continue
		}
		if excluded != nil && excluded[hash] {
			continue
		}
		candidates = append(candidates, ri)
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		xi := key.XOR(candidates[i].Identity.IdentHash())
		xj := key.XOR(candidates[j].Identity.IdentHash())
		return xi.Compare(xj) < 0
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// ApplyExpiryPolicy walks every known RouterInfo and removes those
// judged unreachable by the rules in §4.5, returning the hashes
// removed. selfIsFloodfill governs which age threshold applies once
// the total known count exceeds manyKnownThreshold.
func (s *Store) ApplyExpiryPolicy(now time.Time, selfIsFloodfill bool) []identity.IdentHash {
	s.mu.RLock()
	total := len(s.routers)
	snapshot := make([]*types.RouterInfo, 0, total)
	for _, ri := range s.routers {
		snapshot = append(snapshot, ri)
	}
	s.mu.RUnlock()

	var removed []identity.IdentHash
	for _, ri := range snapshot {
		if shouldExpire(ri, now, total, selfIsFloodfill) {
			hash := ri.Identity.IdentHash()
			if err := s.RemoveRouterInfo(hash); err == nil {
				removed = append(removed, hash)
			}
		}
	}
	return removed
}

func shouldExpire(ri *types.RouterInfo, now time.Time, totalKnown int, selfIsFloodfill bool) bool {
	age := now.Sub(ri.Published())

	usesIntroducer := false
	for _, a := range ri.Addresses {
		if a.NumIntroducers > 0 {
			usesIntroducer = true
			break
		}
	}
	if usesIntroducer && age > introducerMaxAge {
		return true
	}

	if totalKnown > manyKnownThreshold && age > youngRouterThreshold {
		switch {
		case selfIsFloodfill:
			return age > selfFloodfillMaxAge
		case totalKnown > hugeKnownThreshold:
			return age > hugeKnownMaxAge
		case totalKnown > largeKnownThreshold:
			return age > largeKnownMaxAge
		}
	}
	return false
}

func descriptorPath(dataDir string, hash identity.IdentHash) string {
	enc := base64URLNoPad(hash[:])
	return filepath.Join(dataDir, "netDb", "r"+string(enc[0]), "routerInfo-"+enc+".dat")
}

// Profiles exposes the peer profile store tracked alongside the
// descriptor maps.
func (s *Store) Profiles() *ProfileStore { return s.profiles }

// LeaseSetCount returns the number of known LeaseSets.
func (s *Store) LeaseSetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leaseSets)
}

// highBandwidthCaps are the tiers peer selection prefers (§4.8, §6:
// O and above).
const highBandwidthCaps = "OPX"

// RandomRouter returns a uniformly random known router, skipping
// hashes in exclude and, when highBandwidth is set, routers below the
// O bandwidth tier. Used by tunnel pool peer selection (§4.8).
func (s *Store) RandomRouter(exclude map[identity.IdentHash]bool, highBandwidth bool) (*types.RouterInfo, bool) {
	s.mu.RLock()
	candidates := make([]*types.RouterInfo, 0, len(s.routers))
	for hash, ri := range s.routers {
		if exclude != nil && exclude[hash] {
			continue
		}
		if ri.Unreachable() {
			continue
		}
		if highBandwidth && !hasAnyCap(ri, highBandwidthCaps) {
			continue
		}
		candidates = append(candidates, ri)
	}
	s.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, false
	}
	return candidates[int(crypto.RandUint32In(0, uint32(len(candidates))))], true
}

func hasAnyCap(ri *types.RouterInfo, flags string) bool {
	for i := 0; i < len(flags); i++ {
		if ri.HasCap(flags[i]) {
			return true
		}
	}
	return false
}

// IsBadPeer consults the profile store for tunnel peer selection.
func (s *Store) IsBadPeer(hash identity.IdentHash) bool {
	p := s.profiles.Get(hash)
	return p != nil && p.IsBad()
}
