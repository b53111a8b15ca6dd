package netdb

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-i2p/kovri/internal/netdb/types"
)

// base64URLNoPad encodes b the way the on-disk descriptor filenames
// use it (§6: "routerInfo-<base64(hash)>.dat").
func base64URLNoPad(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// LoadAll reads every descriptor file under dataDir/netDb and adds the
// RouterInfos that parse and verify, skipping (but counting) anything
// that doesn't (§4.5: "load every descriptor file under the netDb
// directory").
func (s *Store) LoadAll() (loaded, skipped int, err error) {
	root := filepath.Join(s.dataDir, "netDb")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("netdb: read netDb directory: %w", err)
	}

	for _, shard := range entries {
		if !shard.IsDir() {
			continue
		}
		shardPath := filepath.Join(root, shard.Name())
		files, err := os.ReadDir(shardPath)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(shardPath, f.Name()))
			if err != nil {
				skipped++
				continue
			}
			ri, err := types.ParseRouterInfo(data)
			if err != nil {
				skipped++
				continue
			}
			if err := s.AddRouterInfo(ri); err != nil {
				skipped++
				continue
			}
			loaded++
		}
	}
	return loaded, skipped, nil
}

// SaveRouterInfo atomically persists ri at its canonical descriptor
// path (§6).
func (s *Store) SaveRouterInfo(ri *types.RouterInfo) error {
	path := descriptorPath(s.dataDir, ri.Identity.IdentHash())
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("netdb: create netDb shard directory: %w", err)
	}
	return atomicWriteFile(path, ri.Bytes(), 0600)
}

// atomicWriteFile writes data to a temporary file in path's directory,
// then renames it into place, so a crash mid-write never leaves a
// half-written descriptor on disk.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("netdb: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("netdb: write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("netdb: chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("netdb: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("netdb: rename temp file: %w", err)
	}
	return nil
}
