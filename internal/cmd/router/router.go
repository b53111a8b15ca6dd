// Package router assembles and runs the router process: logging,
// identity, netDb load/reseed, the router core tasks, and the control
// HTTP server, joined under one errgroup lifecycle.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/kovri/internal/config"
	"github.com/go-i2p/kovri/internal/netdb"
	routercore "github.com/go-i2p/kovri/internal/router"
	"github.com/go-i2p/kovri/internal/su3"
	"github.com/go-i2p/kovri/internal/transport"
	"github.com/go-i2p/kovri/internal/transport/ctlstub"
)

// version is the router version the own RouterInfo advertises.
const version = "0.1.0"

// shutdownTimeout bounds the control server's graceful stop.
const shutdownTimeout = 15 * time.Second

// Config carries the resolved option values the router run needs.
type Config struct {
	DataDir            string
	Host               string
	Port               int
	Floodfill          bool
	BandwidthKBps      int
	V6                 bool
	NetID              int
	ReseedFrom         string
	ReseedSkipSSLCheck bool
	SignerCertsDir     string
	ControlAddress     string
	LogFormat          string
	LogLevel           string

	InboundHops    int
	OutboundHops   int
	InboundCount   int
	OutboundCount  int
}

// ConfigFrom resolves a Config out of the loaded configuration.
func ConfigFrom(conf *config.Config) Config {
	return Config{
		DataDir:            conf.DataDir(),
		Host:               conf.Host(),
		Port:               conf.Port(),
		Floodfill:          conf.Floodfill(),
		BandwidthKBps:      conf.BandwidthKBps(),
		V6:                 conf.V6(),
		NetID:              conf.NetID(),
		ReseedFrom:         conf.ReseedFrom(),
		ReseedSkipSSLCheck: conf.ReseedSkipSSLCheck(),
		SignerCertsDir:     conf.SignerCertsDir(),
		ControlAddress:     conf.ControlAddress(),
		LogFormat:          conf.LogFormat(),
		LogLevel:           conf.LogLevel(),
		InboundHops:        conf.TunnelInboundHops(),
		OutboundHops:       conf.TunnelOutboundHops(),
		InboundCount:       conf.TunnelInboundCount(),
		OutboundCount:      conf.TunnelOutboundCount(),
	}
}

// Router is the runnable router process.
type Router struct {
	handler *ctlstub.Handler
}

// NewRouter creates a Router exposing its control endpoints through
// handler.
func NewRouter(handler *ctlstub.Handler) *Router {
	return &Router{handler: handler}
}

// Run starts the router and blocks until ctx is cancelled.
func (r *Router) Run(ctx context.Context, cfg Config) error {
	log := newLogger(cfg)
	slog.SetDefault(log)

	routerCtx, err := routercore.NewContext(cfg.DataDir, routercore.IdentityConfig{
		Host:          cfg.Host,
		Port:          uint16(cfg.Port),
		Floodfill:     cfg.Floodfill,
		BandwidthKBps: cfg.BandwidthKBps,
		EnableV6:      cfg.V6,
		NetID:         cfg.NetID,
		Version:       version,
	}, log)
	if err != nil {
		return err
	}

	store := netdb.New(cfg.DataDir)
	loaded, skipped, err := store.LoadAll()
	if err != nil {
		log.Warn("netDb load failed, continuing with empty store", "error", err)
	}
	log.Info("netDb loaded", "routers", loaded, "skipped", skipped)

	if store.NeedsReseed() {
		if err := r.reseed(store, cfg, log); err != nil {
			log.Warn("reseed failed, continuing with sparse netDb", "error", err)
		}
	}

	sender := transport.NewOutbound(nil, log)
	core := routercore.New(routerCtx, store, sender, transport.Peers{}, routercore.Config{
		ExploratoryInboundHops:     cfg.InboundHops,
		ExploratoryOutboundHops:    cfg.OutboundHops,
		ExploratoryInboundTunnels:  cfg.InboundCount,
		ExploratoryOutboundTunnels: cfg.OutboundCount,
	}, log)

	ctlSrv, err := transport.NewServer(
		transport.WithAddress(cfg.ControlAddress),
		transport.WithMount(r.handler.Mount),
	)
	if err != nil {
		return fmt.Errorf("failed to create control server: %w", err)
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return ctlSrv.Start(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return ctlSrv.Stop(stopCtx)
	})
	eg.Go(func() error {
		r.handler.SetServing(true)
		defer r.handler.SetServing(false)
		return core.Run(ctx)
	})

	return eg.Wait()
}

func (r *Router) reseed(store *netdb.Store, cfg Config, log *slog.Logger) error {
	if cfg.ReseedFrom == "" {
		return fmt.Errorf("netDb holds %d routers and no reseed source is configured", store.RouterCount())
	}
	signers, err := su3.LoadSigners(cfg.SignerCertsDir, log)
	if err != nil {
		return err
	}
	reseeder := su3.NewReseeder(store, signers, log)
	reseeder.SkipTLSVerify = cfg.ReseedSkipSSLCheck
	_, err = reseeder.Reseed(cfg.ReseedFrom)
	return err
}

func newLogger(cfg Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
