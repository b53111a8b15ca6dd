package router

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/kovri/internal/crypto"
	"github.com/go-i2p/kovri/internal/garlic"
	"github.com/go-i2p/kovri/internal/i2np"
	"github.com/go-i2p/kovri/internal/identity"
	"github.com/go-i2p/kovri/internal/metrics"
	"github.com/go-i2p/kovri/internal/netdb"
	"github.com/go-i2p/kovri/internal/netdb/types"
	"github.com/go-i2p/kovri/internal/obs"
	"github.com/go-i2p/kovri/internal/tunnel"
	"github.com/go-i2p/kovri/internal/tunnel/pool"
	"github.com/go-i2p/kovri/internal/tunnel/runtime"
)

// NetDb timer cadences (§4.5).
const (
	manageRequestsInterval = 15 * time.Second
	saveSweepInterval      = 60 * time.Second
	publishInterval        = 40 * time.Minute
	exploreInterval        = 30 * time.Second
	exploreIntervalCrowded = 90 * time.Second
	crowdedRouterCount     = 2500
	publishFloodfillCount  = 2
)

// InboundMessage is one datagram the transports handed us, already
// stamped with the sending router.
type InboundMessage struct {
	From identity.IdentHash
	Data []byte
}

// Router assembles and runs the three long-running tasks of §5: the
// netDb task, the tunnel manager task, and the router's own
// exploratory destination task.
type Router struct {
	Ctx        *Context
	Store      *netdb.Store
	Requests   *netdb.Requests
	Resolver   *netdb.Resolver
	Tunnels    *tunnel.Manager
	Garlic     *garlic.Destination
	Exploratory *pool.Pool
	Dispatcher *Dispatcher

	sender tunnel.Sender
	inbox  chan InboundMessage
	log    *slog.Logger
}

// transportAdapter bridges the tunnel-layer Sender to netdb's
// narrower Transport interface.
type transportAdapter struct{ s tunnel.Sender }

func (a transportAdapter) SendToRouter(dest identity.IdentHash, typ i2np.Type, payload []byte) error {
	return a.s.SendI2NP(dest, typ, payload, nil)
}

// lookupSender routes DatabaseLookups for the request state machine:
// through an exploratory outbound tunnel when one is available, else
// directly (§4.5).
type lookupSender struct{ r *Router }

func (ls lookupSender) SendDatabaseLookup(ff *types.RouterInfo, dest identity.IdentHash, exploratory bool) error {
	flags := i2np.LookupFlags(0)
	if exploratory {
		flags |= i2np.LookupFlagExploratory
	}
	payload, err := i2np.EncodeDatabaseLookup(i2np.DatabaseLookupPayload{
		Key:   [32]byte(dest),
		From:  [32]byte(ls.r.Ctx.IdentHash()),
		Flags: flags,
	})
	if err != nil {
		return err
	}
	ffHash := ff.Identity.IdentHash()

	if out, ok := ls.r.Exploratory.SelectOutbound(); ok {
		inner, err := i2np.Build(i2np.TypeDatabaseLookup, payload, nil, time.Now())
		if err == nil {
			if err := ls.r.Tunnels.SendThroughTunnel(out, runtime.TunnelMessageBlock{
				Delivery: runtime.DeliveryRouter,
				DestHash: ffHash,
				Payload:  inner,
			}); err == nil {
				return nil
			}
		}
	}
	return ls.r.sender.SendI2NP(ffHash, i2np.TypeDatabaseLookup, payload, nil)
}

// ackLeases serves the garlic layer's need for an inbound tunnel to
// route tag-confirmation DeliveryStatus cloves through (§4.9).
type ackLeases struct{ r *Router }

func (a ackLeases) AckLease() (identity.IdentHash, uint32, bool) {
	in, ok := a.r.Exploratory.SelectInbound()
	if !ok {
		return identity.IdentHash{}, 0, false
	}
	return in.Gateway(), in.ID, true
}

// Config shapes the router's exploratory pool.
type Config struct {
	ExploratoryInboundHops     int
	ExploratoryOutboundHops    int
	ExploratoryInboundTunnels  int
	ExploratoryOutboundTunnels int
}

// New assembles a Router over the given context, store, and wire
// sender. Transports deliver inbound datagrams through Inbox().
func New(ctx *Context, store *netdb.Store, sender tunnel.Sender, transports pool.TransportPeers, cfg Config, log *slog.Logger) *Router {
	r := &Router{
		Ctx:    ctx,
		Store:  store,
		sender: sender,
		inbox:  make(chan InboundMessage, 1024),
		log:    log.With("component", "router"),
	}

	r.Requests = netdb.NewRequests(store, lookupSender{r})
	r.Resolver = netdb.NewResolver(store, r.Requests)
	r.Tunnels = tunnel.NewManager(ctx.Keys(), sender, store.Profiles(), log)
	r.Tunnels.AcceptsTunnels = ctx.AcceptsTunnels
	r.Garlic = garlic.NewDestination(ctx.Keys(), ackLeases{r}, log)

	poolCfg := pool.Config{
		NumInboundHops:     cfg.ExploratoryInboundHops,
		NumOutboundHops:    cfg.ExploratoryOutboundHops,
		NumInboundTunnels:  cfg.ExploratoryInboundTunnels,
		NumOutboundTunnels: cfg.ExploratoryOutboundTunnels,
		Exploratory:        true,
	}
	r.Exploratory = pool.New(poolCfg, ctx.IdentHash(), store, transports, r.Tunnels, r.Tunnels, log)
	r.Tunnels.AddPool(r.Exploratory)

	dbHandler := netdb.NewHandler(store, r.Requests, transportAdapter{sender}, ctx.IdentHash())
	r.Dispatcher = NewDispatcher(ctx, store, r.Requests, dbHandler, r.Tunnels, r.Garlic, r.Exploratory, sender, log)
	return r
}

// Inbox is where transports post incoming datagrams.
func (r *Router) Inbox() chan<- InboundMessage { return r.inbox }

// Run starts the router's tasks and blocks until ctx is cancelled or
// a task fails.
func (r *Router) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return r.inboxTask(ctx) })
	eg.Go(func() error { return r.netDbTask(ctx) })
	eg.Go(func() error { return r.tunnelTask(ctx) })
	eg.Go(func() error { return r.destinationTask(ctx) })
	return eg.Wait()
}

// inboxTask parses and dispatches incoming datagrams.
func (r *Router) inboxTask(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-r.inbox:
			msg, err := i2np.Parse(in.Data)
			if err != nil {
				r.log.Debug("dropping unparseable datagram", "from", in.From, "error", err)
				continue
			}
			r.Dispatcher.HandleMessage(in.From, msg)
		}
	}
}

// netDbTask runs the §4.5 timers: manage_requests every 15s, save and
// sweep every 60s, publish every 40min, and the exploratory fill.
func (r *Router) netDbTask(ctx context.Context) error {
	manage := time.NewTicker(manageRequestsInterval)
	defer manage.Stop()
	save := time.NewTicker(saveSweepInterval)
	defer save.Stop()
	publish := time.NewTicker(publishInterval)
	defer publish.Stop()
	explore := time.NewTimer(exploreInterval)
	defer explore.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-manage.C:
			r.Requests.ManageRequests(now)
		case now := <-save.C:
			r.saveAndSweep(now)
		case now := <-publish.C:
			r.publishOwnRouterInfo(now)
		case <-explore.C:
			r.explore(ctx)
			next := exploreInterval
			if r.Store.RouterCount() >= crowdedRouterCount {
				next = exploreIntervalCrowded
			}
			explore.Reset(next)
		}
	}
}

func (r *Router) saveAndSweep(now time.Time) {
	removed := r.Store.ApplyExpiryPolicy(now, r.Ctx.IsFloodfill())
	if len(removed) > 0 {
		r.log.Debug("expired routers", "count", len(removed))
	}
	swept := r.Store.SweepExpiredLeaseSets(now)
	if swept > 0 {
		r.log.Debug("swept lease sets", "count", swept)
	}
	metrics.KnownRouters.Set(float64(r.Store.RouterCount()))
	metrics.KnownLeaseSets.Set(float64(r.Store.LeaseSetCount()))
	if err := r.Ctx.UpdateRouterInfo(now, false); err != nil {
		r.log.Warn("router info update failed", "error", err)
	}
}

// publishOwnRouterInfo stores our RouterInfo with the two closest
// floodfills (§4.5: every 40 min).
func (r *Router) publishOwnRouterInfo(now time.Time) {
	if err := r.Ctx.UpdateRouterInfo(now, true); err != nil {
		r.log.Warn("router info refresh failed", "error", err)
		return
	}
	ri := r.Ctx.RouterInfo()
	gz, err := i2np.GzipRouterInfo(ri.Bytes())
	if err != nil {
		r.log.Warn("router info gzip failed", "error", err)
		return
	}

	self := r.Ctx.IdentHash()
	excluded := map[identity.IdentHash]bool{self: true}
	for _, ff := range r.Store.ClosestFloodfills(self, publishFloodfillCount, now, excluded) {
		token := crypto.RandUint32In(1, 1<<31)
		payload := i2np.EncodeDatabaseStore(i2np.DatabaseStorePayload{
			Key:        [32]byte(self),
			Kind:       i2np.DatabaseStoreRouterInfo,
			ReplyToken: token,
			ReplyGateway: [32]byte(self),
			Data:       gz,
		})
		if err := r.sender.SendI2NP(ff.Identity.IdentHash(), i2np.TypeDatabaseStore, payload, nil); err != nil {
			r.log.Debug("publish to floodfill failed", "floodfill", ff.Identity.IdentHash(), "error", err)
		}
	}
}

// explore requests clamp(800/|routers|, 1, 9) random ident hashes to
// widen the router's view of the network (§4.5).
func (r *Router) explore(ctx context.Context) {
	count := r.Store.RouterCount()
	if count == 0 {
		return
	}
	num := 800 / count
	if num < 1 {
		num = 1
	}
	if num > 9 {
		num = 9
	}

	_, span := obs.Tracer().Start(ctx, "netdb.explore")
	defer span.End()

	for i := 0; i < num; i++ {
		var target identity.IdentHash
		if err := crypto.RandBytes(target[:]); err != nil {
			return
		}
		r.Requests.CreateRequest(target, true, nil)
	}
}

// tunnelTask drives the tunnel manager's 15-second maintenance pass
// (§4.8, §5).
func (r *Router) tunnelTask(ctx context.Context) error {
	tick := time.NewTicker(tunnel.MaintenanceInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tick.C:
			_, span := obs.Tracer().Start(ctx, "tunnel.maintain")
			r.Tunnels.Maintain(now)
			span.End()
		}
	}
}

// destinationTask keeps the router's own exploratory destination
// healthy: its LeaseSet follows the established inbound tunnel set
// and garlic sessions learn about updates (§5 destination tasks).
func (r *Router) destinationTask(ctx context.Context) error {
	tick := time.NewTicker(saveSweepInterval)
	defer tick.Stop()
	var lastLeases int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			n := len(r.Exploratory.EstablishedInbound())
			if n != lastLeases {
				lastLeases = n
				r.Garlic.MarkLeaseSetUpdated()
			}
		}
	}
}
