package netdb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-i2p/kovri/internal/identity"
)

// Profile is a minimal per-peer reputation record tracked by NetDb and
// consulted by tunnel build/pool peer selection: bad and declined
// participation counts, and when the peer was last seen (supplements
// spec.md's distilled scope per original_source's profiling.cc).
type Profile struct {
	LastSeen    time.Time `json:"last_seen"`
	BadCount    int       `json:"bad_count"`
	DeclineCount int      `json:"decline_count"`
}

// IsBad reports whether p has accumulated enough negative signal that
// tunnel build peer selection should avoid this router.
func (p *Profile) IsBad() bool {
	return p.BadCount >= 3 || p.DeclineCount >= 10
}

// ProfileStore persists Profile records as one JSON file per peer
// under dir, matching NetDb's one-file-per-descriptor disk layout.
type ProfileStore struct {
	dir string

	mu       sync.Mutex
	loaded   map[identity.IdentHash]*Profile
}

// NewProfileStore creates a ProfileStore rooted at dir. Files are
// loaded lazily on first Get.
func NewProfileStore(dir string) *ProfileStore {
	return &ProfileStore{dir: dir, loaded: make(map[identity.IdentHash]*Profile)}
}

func (s *ProfileStore) path(hash identity.IdentHash) string {
	return filepath.Join(s.dir, base64URLNoPad(hash[:])+".json")
}

// Get returns the cached or on-disk profile for hash, or nil if none
// exists yet.
func (s *ProfileStore) Get(hash identity.IdentHash) *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.loaded[hash]; ok {
		return p
	}
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		return nil
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	s.loaded[hash] = &p
	return &p
}

// GetOrCreate returns the existing profile for hash, creating a fresh
// zero-value one (cached, not yet persisted) if none exists.
func (s *ProfileStore) GetOrCreate(hash identity.IdentHash) *Profile {
	if p := s.Get(hash); p != nil {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &Profile{LastSeen: time.Now()}
	s.loaded[hash] = p
	return p
}

// RecordBad increments hash's bad-participation count and touches
// LastSeen.
func (s *ProfileStore) RecordBad(hash identity.IdentHash) {
	p := s.GetOrCreate(hash)
	s.mu.Lock()
	p.BadCount++
	p.LastSeen = time.Now()
	s.mu.Unlock()
}

// RecordDeclined increments hash's decline count and touches LastSeen.
func (s *ProfileStore) RecordDeclined(hash identity.IdentHash) {
	p := s.GetOrCreate(hash)
	s.mu.Lock()
	p.DeclineCount++
	p.LastSeen = time.Now()
	s.mu.Unlock()
}

// Save atomically persists p under hash.
func (s *ProfileStore) Save(hash identity.IdentHash, p *Profile) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("netdb: create profile directory: %w", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("netdb: marshal profile: %w", err)
	}
	return atomicWriteFile(s.path(hash), data, 0600)
}
