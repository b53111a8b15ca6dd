// Package router implements the router context (C10): the process'
// single owner of the local identity and private keys, the current
// RouterInfo, router status, and the dispatch of incoming I2NP
// messages into the netDb, tunnel, and garlic subsystems.
package router

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-i2p/kovri/internal/identity"
	"github.com/go-i2p/kovri/internal/netdb/types"
)

// Status is the router's reachability self-assessment.
type Status int

const (
	StatusOK Status = iota
	StatusTesting
	StatusFirewalled
)

// routerInfoMaxAge is how stale the persisted RouterInfo may be
// before UpdateRouterInfo re-signs and rewrites it (§4.10: 30 min).
const routerInfoMaxAge = 30 * time.Minute

const (
	keysFileName = "router.keys"
	infoFileName = "router.info"
)

// IdentityConfig holds the options shaping the router's own RouterInfo.
type IdentityConfig struct {
	Host      string
	Port      uint16
	Floodfill bool
	// BandwidthKBps drives the capability tier letter.
	BandwidthKBps int
	EnableV6      bool
	NetID         int
	Version       string
}

// Context owns the local identity and keys for the process lifetime
// (§3 ownership). All other components receive it by reference and
// read through accessor methods.
type Context struct {
	dataDir string
	log     *slog.Logger

	keys *identity.PrivateKeys

	mu             sync.RWMutex
	routerInfo     *types.RouterInfo
	status         Status
	acceptsTunnels bool
	lastPersist    time.Time
	idCfg          IdentityConfig
}

// NewContext loads the persisted key bundle from dataDir, generating
// and persisting a fresh EdDSA-Ed25519 identity on first run. Corrupt
// private keys are fatal (§7: startup only; abort init).
func NewContext(dataDir string, idCfg IdentityConfig, log *slog.Logger) (*Context, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("router: create data directory: %w", err)
	}

	keysPath := filepath.Join(dataDir, keysFileName)
	var keys *identity.PrivateKeys
	if raw, err := os.ReadFile(keysPath); err == nil {
		keys, err = identity.ParsePrivateKeys(raw)
		if err != nil {
			return nil, fmt.Errorf("router: private keys corrupt: %w", err)
		}
		log.Info("loaded router identity", "ident", keys.Identity.IdentHash())
	} else {
		keys, err = identity.Generate()
		if err != nil {
			return nil, fmt.Errorf("router: generate identity: %w", err)
		}
		if err := os.WriteFile(keysPath, keys.Bytes(), 0600); err != nil {
			return nil, fmt.Errorf("router: persist private keys: %w", err)
		}
		log.Info("generated new router identity", "ident", keys.Identity.IdentHash())
	}

	ctx := &Context{
		dataDir:        dataDir,
		log:            log.With("component", "router"),
		keys:           keys,
		acceptsTunnels: true,
		idCfg:          idCfg,
	}
	if err := ctx.rebuildRouterInfo(time.Now()); err != nil {
		return nil, err
	}
	return ctx, nil
}

// Keys returns the local private key bundle.
func (c *Context) Keys() *identity.PrivateKeys { return c.keys }

// IdentHash returns the local router's network address.
func (c *Context) IdentHash() identity.IdentHash { return c.keys.Identity.IdentHash() }

// RouterInfo returns the current own-RouterInfo snapshot. Snapshots
// are immutable; updates swap in a new one (§5).
func (c *Context) RouterInfo() *types.RouterInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.routerInfo
}

// Status returns the current reachability status.
func (c *Context) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SetStatus records a reachability change; firewalled routers stop
// accepting tunnels.
func (c *Context) SetStatus(s Status) {
	c.mu.Lock()
	c.status = s
	if s == StatusFirewalled {
		c.acceptsTunnels = false
	}
	c.mu.Unlock()
}

// AcceptsTunnels reports whether this router takes transit tunnels.
func (c *Context) AcceptsTunnels() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.acceptsTunnels
}

// SetAcceptsTunnels flips transit-tunnel participation.
func (c *Context) SetAcceptsTunnels(v bool) {
	c.mu.Lock()
	c.acceptsTunnels = v
	c.mu.Unlock()
}

// IsFloodfill reports whether the router advertises the F capability.
func (c *Context) IsFloodfill() bool { return c.idCfg.Floodfill }

// caps derives the capability string from the identity config (§6
// caps flag alphabet).
func (c *Context) caps() string {
	caps := string(byte(types.CapsForBandwidth(c.idCfg.BandwidthKBps)))
	if c.idCfg.Floodfill {
		caps += "f"
	}
	caps += "R"
	return caps
}

// rebuildRouterInfo re-signs the own RouterInfo from the current
// identity config. Callers hold no lock.
func (c *Context) rebuildRouterInfo(now time.Time) error {
	addr := types.RouterAddress{
		Cost:      10,
		Date:      0,
		Transport: types.TransportNTCP,
		Host:      c.idCfg.Host,
		Port:      c.idCfg.Port,
	}
	ri := &types.RouterInfo{
		Identity:    c.keys.Identity,
		TimestampMs: uint64(now.UnixMilli()),
		Addresses:   []types.RouterAddress{addr},
		Options: map[string]string{
			"caps":           c.caps(),
			"netId":          strconv.Itoa(c.idCfg.NetID),
			"router.version": c.idCfg.Version,
		},
	}
	if c.idCfg.EnableV6 {
		ri.Options["host6"] = "::"
	}
	if err := ri.Sign(c.keys); err != nil {
		return err
	}

	c.mu.Lock()
	c.routerInfo = ri
	c.mu.Unlock()
	return nil
}

// UpdateRouterInfo re-signs and persists the current RouterInfo when
// the on-disk copy is older than 30 minutes or force is set for a
// material change (§4.10).
func (c *Context) UpdateRouterInfo(now time.Time, force bool) error {
	c.mu.RLock()
	stale := now.Sub(c.lastPersist) > routerInfoMaxAge
	c.mu.RUnlock()
	if !stale && !force {
		return nil
	}

	if err := c.rebuildRouterInfo(now); err != nil {
		return err
	}
	ri := c.RouterInfo()
	if err := os.WriteFile(filepath.Join(c.dataDir, infoFileName), ri.Bytes(), 0600); err != nil {
		return fmt.Errorf("router: persist router info: %w", err)
	}

	c.mu.Lock()
	c.lastPersist = now
	c.mu.Unlock()
	return nil
}
