package netdb

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/go-i2p/kovri/internal/identity"
)

// Resolver is the blocking lookup surface over the Requests state
// machine. Concurrent callers asking for the same destination share
// one in-flight request (§5: at-most-once completion per request);
// singleflight collapses them before they ever reach the request
// table.
type Resolver struct {
	store    *Store
	requests *Requests
	group    singleflight.Group
}

// NewResolver creates a Resolver over store and requests.
func NewResolver(store *Store, requests *Requests) *Resolver {
	return &Resolver{store: store, requests: requests}
}

// Resolve returns the RouterInfo or LeaseSet for dest, consulting the
// local store first and falling back to a floodfill lookup. It blocks
// until the lookup completes, fails, or ctx is cancelled; the lookup
// itself keeps running after cancellation and still populates the
// store when it succeeds.
func (r *Resolver) Resolve(ctx context.Context, dest identity.IdentHash, exploratory bool) (Result, error) {
	if ri, ok := r.store.RouterInfo(dest); ok {
		return Result{RouterInfo: ri}, nil
	}
	if ls, ok := r.store.LeaseSet(dest); ok {
		return Result{LeaseSet: ls}, nil
	}

	ch := r.group.DoChan(string(dest[:]), func() (any, error) {
		done := make(chan Result, 1)
		_, created := r.requests.CreateRequest(dest, exploratory, func(res Result) {
			done <- res
		})
		if !created {
			// A request predating this resolver call is in flight;
			// the completion callback belongs to it, so this call
			// fails at once instead of waiting for that lookup.
			return Result{}, fmt.Errorf("netdb: lookup for %s already in flight", dest)
		}
		return <-done, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		result := res.Val.(Result)
		if result.Err != nil {
			return Result{}, result.Err
		}
		return result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
