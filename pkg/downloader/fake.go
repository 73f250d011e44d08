package downloader

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// 🧪 Fake is a scriptable downloader for tests. It records every request
// and lets the test drive progress, completion and failure by hand.
type Fake struct {
	mu        sync.Mutex
	servers   []string
	serverErr error
	requests  []FakeRequest
	active    map[Handle]Request
	aborted   []Handle
}

// FakeRequest is one recorded Fetch call.
type FakeRequest struct {
	Handle  Handle
	Request Request
}

// NewFake creates a fake downloader that resolves the given servers.
func NewFake(servers ...string) *Fake {
	return &Fake{
		servers: servers,
		active:  make(map[Handle]Request),
	}
}

// FailServerList makes ResolveServerList report err instead of servers.
func (f *Fake) FailServerList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serverErr = err
}

// ResolveServerList reports the scripted server list synchronously, which
// keeps tests deterministic.
func (f *Fake) ResolveServerList(ctx context.Context, complete func(urls []string, err error)) {
	f.mu.Lock()
	servers, err := f.servers, f.serverErr
	f.mu.Unlock()
	if err != nil {
		complete(nil, err)
		return
	}
	complete(servers, nil)
}

// Fetch records the request and leaves it pending until the test completes
// or fails it.
func (f *Fake) Fetch(ctx context.Context, req Request) (Handle, error) {
	handle := Handle(uuid.NewString())
	f.mu.Lock()
	f.requests = append(f.requests, FakeRequest{Handle: handle, Request: req})
	f.active[handle] = req
	f.mu.Unlock()
	return handle, nil
}

// Abort records the cancellation. Unknown handles are ignored, matching
// the real transport.
func (f *Fake) Abort(handle Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.active[handle]; !ok {
		return
	}
	delete(f.active, handle)
	f.aborted = append(f.aborted, handle)
}

// Last returns the most recent recorded request.
func (f *Fake) Last() (FakeRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return FakeRequest{}, false
	}
	return f.requests[len(f.requests)-1], true
}

// Requests returns every recorded request.
func (f *Fake) Requests() []FakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// PendingCount returns the number of unfinished transfers.
func (f *Fake) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

// AbortCount returns the number of aborted transfers.
func (f *Fake) AbortCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.aborted)
}

// Progress delivers a progress callback for a pending transfer.
func (f *Fake) Progress(handle Handle, p Progress) {
	f.mu.Lock()
	req, ok := f.active[handle]
	f.mu.Unlock()
	if ok && req.OnProgress != nil {
		req.OnProgress(p)
	}
}

// Complete finishes a pending transfer successfully, writing a stub file
// at the destination the way a real transfer would.
func (f *Fake) Complete(handle Handle) error {
	f.mu.Lock()
	req, ok := f.active[handle]
	delete(f.active, handle)
	f.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(req.Path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(req.Path, []byte("mwm"), 0644); err != nil {
		return err
	}
	req.OnComplete(nil)
	return nil
}

// Fail finishes a pending transfer with an error.
func (f *Fake) Fail(handle Handle, err error) {
	f.mu.Lock()
	req, ok := f.active[handle]
	delete(f.active, handle)
	f.mu.Unlock()
	if ok {
		req.OnComplete(err)
	}
}
