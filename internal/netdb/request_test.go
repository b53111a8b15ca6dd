package netdb

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/kovri/internal/identity"
	"github.com/go-i2p/kovri/internal/netdb/types"
)

var errSendFailed = errors.New("send failed")

type fakeSender struct {
	mu    sync.Mutex
	calls []identity.IdentHash
	fail  bool
}

func (f *fakeSender) SendDatabaseLookup(ff *types.RouterInfo, dest identity.IdentHash, exploratory bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ff.Identity.IdentHash())
	if f.fail {
		return errSendFailed
	}
	return nil
}

func TestCreateRequestRejectsDuplicate(t *testing.T) {
	s := New(t.TempDir())
	ri, _ := newSignedRouterInfo(t, "f", time.Now())
	if err := s.AddRouterInfo(ri); err != nil {
		t.Fatal(err)
	}
	sender := &fakeSender{}
	reqs := NewRequests(s, sender)

	var target identity.IdentHash
	target[0] = 0x01

	_, ok := reqs.CreateRequest(target, false, nil)
	if !ok {
		t.Fatal("expected first request to be created")
	}
	_, ok = reqs.CreateRequest(target, false, nil)
	if ok {
		t.Fatal("expected duplicate request to be rejected")
	}
}

func TestHandleStoreMatchCompletesRequest(t *testing.T) {
	s := New(t.TempDir())
	ri, ffKeys := newSignedRouterInfo(t, "f", time.Now())
	if err := s.AddRouterInfo(ri); err != nil {
		t.Fatal(err)
	}
	_ = ffKeys
	sender := &fakeSender{}
	reqs := NewRequests(s, sender)

	var target identity.IdentHash
	target[0] = 0x02

	var gotResult Result
	done := make(chan struct{})
	_, ok := reqs.CreateRequest(target, false, func(r Result) {
		gotResult = r
		close(done)
	})
	if !ok {
		t.Fatal("expected request to be created")
	}

	answeredRI, _ := newSignedRouterInfo(t, "", time.Now())
	reqs.HandleStoreMatch(target, answeredRI, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion callback never fired")
	}
	if gotResult.RouterInfo != answeredRI {
		t.Fatal("expected completion to carry the matched router info")
	}
	if reqs.PendingCount() != 0 {
		t.Fatal("expected request to be removed once completed")
	}
}

func TestManageRequestsFailsOnDeadline(t *testing.T) {
	s := New(t.TempDir())
	ri, _ := newSignedRouterInfo(t, "f", time.Now())
	if err := s.AddRouterInfo(ri); err != nil {
		t.Fatal(err)
	}
	sender := &fakeSender{}
	reqs := NewRequests(s, sender)

	var target identity.IdentHash
	target[0] = 0x03

	var gotErr error
	done := make(chan struct{})
	_, ok := reqs.CreateRequest(target, false, func(r Result) {
		gotErr = r.Err
		close(done)
	})
	if !ok {
		t.Fatal("expected request to be created")
	}

	future := time.Now().Add(requestFailDeadline + time.Second)
	reqs.ManageRequests(future)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the request to fail after its deadline elapsed")
	}
	if gotErr == nil {
		t.Fatal("expected a timeout error")
	}
	if reqs.PendingCount() != 0 {
		t.Fatal("expected timed-out request to be removed")
	}
}

func TestManageRequestsRetriesBeforeDeadline(t *testing.T) {
	s := New(t.TempDir())
	ri1, _ := newSignedRouterInfo(t, "f", time.Now())
	if err := s.AddRouterInfo(ri1); err != nil {
		t.Fatal(err)
	}
	ri2, _ := newSignedRouterInfo(t, "f", time.Now())
	if err := s.AddRouterInfo(ri2); err != nil {
		t.Fatal(err)
	}
	sender := &fakeSender{}
	reqs := NewRequests(s, sender)

	var target identity.IdentHash
	target[0] = 0x04

	_, ok := reqs.CreateRequest(target, false, nil)
	if !ok {
		t.Fatal("expected request to be created")
	}

	sender.mu.Lock()
	initialCalls := len(sender.calls)
	sender.mu.Unlock()

	soon := time.Now().Add(requestRetryDeadline + time.Second)
	reqs.ManageRequests(soon)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.calls) <= initialCalls {
		t.Fatal("expected manage_requests to retry the lookup")
	}
}
