package netdb

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-i2p/kovri/internal/identity"
	"github.com/go-i2p/kovri/internal/metrics"
	"github.com/go-i2p/kovri/internal/netdb/types"
)

// Lookup state machine deadlines (§4.5).
const (
	requestRetryDeadline = 5 * time.Second
	requestFailDeadline  = 60 * time.Second
	maxExcludedFloodfills = 7
)

// Result is delivered to a RequestedDestination's completion callback:
// exactly one of RouterInfo or LeaseSet is set on success.
type Result struct {
	RouterInfo *types.RouterInfo
	LeaseSet   *types.LeaseSet
	Err        error
}

// Sender routes a DatabaseLookup to a floodfill. Implementations route
// through an exploratory outbound tunnel when one is available, else
// send directly (§4.5); both are provided by the tunnel/transport
// layers, external to this package.
type Sender interface {
	SendDatabaseLookup(ff *types.RouterInfo, dest identity.IdentHash, exploratory bool) error
}

// RequestedDestination tracks one in-flight lookup (§4.5).
type RequestedDestination struct {
	Dest        identity.IdentHash
	Exploratory bool
	// ID correlates this lookup's log lines and traces; wire-level
	// message IDs stay uint32 per the protocol.
	ID uuid.UUID

	mu          sync.Mutex
	excluded    map[identity.IdentHash]bool
	createdAt   time.Time
	lastQueryAt time.Time
	onComplete  func(Result)
	done        bool
}

// excludedSnapshot returns a copy of the exclusion set for read-only use.
func (r *RequestedDestination) excludedSnapshot() map[identity.IdentHash]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[identity.IdentHash]bool, len(r.excluded))
	for k, v := range r.excluded {
		out[k] = v
	}
	return out
}

// Requests owns every in-flight RequestedDestination, keyed by target
// hash (§4.5: "create_request ... returns None if one exists").
type Requests struct {
	store  *Store
	sender Sender

	mu      sync.Mutex
	pending map[identity.IdentHash]*RequestedDestination
}

// NewRequests creates a lookup manager backed by store, sending
// queries through sender.
func NewRequests(store *Store, sender Sender) *Requests {
	return &Requests{store: store, sender: sender, pending: make(map[identity.IdentHash]*RequestedDestination)}
}

// CreateRequest starts a lookup for dest. It returns (nil, false) if a
// request for dest is already in flight (§4.5).
func (r *Requests) CreateRequest(dest identity.IdentHash, exploratory bool, onComplete func(Result)) (*RequestedDestination, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[dest]; exists {
		return nil, false
	}

	now := time.Now()
	req := &RequestedDestination{
		Dest:        dest,
		Exploratory: exploratory,
		ID:          uuid.New(),
		excluded:    make(map[identity.IdentHash]bool),
		createdAt:   now,
		onComplete:  onComplete,
	}
	r.pending[dest] = req
	r.query(req, now)
	return req, true
}

// query picks the nearest non-excluded floodfill and sends a
// DatabaseLookup, adding that floodfill to the exclusion set so a
// subsequent retry queries a different peer (§4.5).
func (r *Requests) query(req *RequestedDestination, now time.Time) {
	ff, ok := r.store.ClosestFloodfill(req.Dest, now, req.excludedSnapshot())
	if !ok {
		r.fail(req, fmt.Errorf("netdb: no floodfill available to query for %s", req.Dest))
		return
	}
	ffHash := ff.Identity.IdentHash()

	req.mu.Lock()
	req.excluded[ffHash] = true
	req.lastQueryAt = now
	req.mu.Unlock()

	if err := r.sender.SendDatabaseLookup(ff, req.Dest, req.Exploratory); err != nil {
		// A send failure is treated the same as a silent timeout:
		// manage_requests will retry against the next floodfill.
		return
	}
}

// HandleSearchReply processes a DatabaseSearchReply naming hints for
// req's target: our own ident is added to exclusions, unseen hints are
// optionally resolved by the caller, and if fewer than
// maxExcludedFloodfills peers have been tried, the next floodfill is
// queried (§4.5).
func (r *Requests) HandleSearchReply(dest identity.IdentHash, self identity.IdentHash, hints []identity.IdentHash, resolveHint func(identity.IdentHash)) {
	r.mu.Lock()
	req, ok := r.pending[dest]
	r.mu.Unlock()
	if !ok {
		return
	}

	req.mu.Lock()
	req.excluded[self] = true
	tried := len(req.excluded)
	req.mu.Unlock()

	if resolveHint != nil {
		for _, h := range hints {
			resolveHint(h)
		}
	}

	if tried < maxExcludedFloodfills {
		r.query(req, time.Now())
		return
	}
	r.fail(req, fmt.Errorf("netdb: lookup for %s exhausted %d floodfills", dest, maxExcludedFloodfills))
}

// HandleStoreMatch completes req successfully when an incoming
// DatabaseStore names req's target (§4.5).
func (r *Requests) HandleStoreMatch(dest identity.IdentHash, ri *types.RouterInfo, ls *types.LeaseSet) {
	r.mu.Lock()
	req, ok := r.pending[dest]
	if ok {
		delete(r.pending, dest)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.complete(req, Result{RouterInfo: ri, LeaseSet: ls})
}

func (r *Requests) fail(req *RequestedDestination, err error) {
	r.mu.Lock()
	delete(r.pending, req.Dest)
	r.mu.Unlock()
	r.complete(req, Result{Err: err})
}

func (r *Requests) complete(req *RequestedDestination, res Result) {
	req.mu.Lock()
	if req.done {
		req.mu.Unlock()
		return
	}
	req.done = true
	cb := req.onComplete
	age := time.Since(req.createdAt)
	req.mu.Unlock()
	metrics.LookupDuration.Observe(age.Seconds())
	if cb != nil {
		cb(res)
	}
}

// ManageRequests enforces per-request deadlines: no reply within
// requestRetryDeadline triggers a retry against the next floodfill;
// total age beyond requestFailDeadline fails the request (§4.5: "every
// 15s: run manage_requests").
func (r *Requests) ManageRequests(now time.Time) {
	r.mu.Lock()
	snapshot := make([]*RequestedDestination, 0, len(r.pending))
	for _, req := range r.pending {
		snapshot = append(snapshot, req)
	}
	r.mu.Unlock()

	for _, req := range snapshot {
		req.mu.Lock()
		age := now.Sub(req.createdAt)
		sinceQuery := now.Sub(req.lastQueryAt)
		req.mu.Unlock()

		if age > requestFailDeadline {
			r.fail(req, fmt.Errorf("netdb: lookup for %s timed out after %s", req.Dest, requestFailDeadline))
			continue
		}
		if sinceQuery > requestRetryDeadline {
			r.query(req, now)
		}
	}
}

// PendingCount reports how many lookups are currently in flight.
func (r *Requests) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
