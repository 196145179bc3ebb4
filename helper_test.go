package courier_test

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wolfeidau/courier"
)

// roundTripFunc scripts the network exchange for fake connections.
type roundTripFunc func(ctx context.Context, req *courier.Request) (*courier.Response, error)

// fakeProvider hands out connections backed by fn and counts how many
// were released.
type fakeProvider struct {
	fn         roundTripFunc
	acquireErr error

	acquired atomic.Int32
	closed   atomic.Int32
}

func (p *fakeProvider) Acquire(_ context.Context, _ *courier.Request) (courier.Connection, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.acquired.Add(1)
	return &fakeConn{p: p}, nil
}

type fakeConn struct {
	p *fakeProvider
}

func (c *fakeConn) RoundTrip(ctx context.Context, req *courier.Request) (*courier.Response, error) {
	return c.p.fn(ctx, req)
}

func (c *fakeConn) Close() error {
	c.p.closed.Add(1)
	return nil
}

// blockingProvider serves exchanges that park until released, so tests
// can observe calls while they are running. Each started exchange
// announces itself on started and completes after one receive from
// release (or when its context ends).
type blockingProvider struct {
	started chan *courier.Request
	release chan struct{}
}

func newBlockingProvider() *blockingProvider {
	return &blockingProvider{
		started: make(chan *courier.Request, 64),
		release: make(chan struct{}),
	}
}

func (p *blockingProvider) Acquire(_ context.Context, _ *courier.Request) (courier.Connection, error) {
	return &blockingConn{p: p}, nil
}

// releaseOne unblocks a single in-flight exchange.
func (p *blockingProvider) releaseOne(t *testing.T) {
	t.Helper()
	select {
	case p.release <- struct{}{}:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out releasing an exchange")
	}
}

// awaitStart waits for the next exchange to begin and returns its host.
func (p *blockingProvider) awaitStart(t *testing.T) string {
	t.Helper()
	select {
	case req := <-p.started:
		return req.Host()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an exchange to start")
		return ""
	}
}

type blockingConn struct {
	p *blockingProvider
}

func (c *blockingConn) RoundTrip(ctx context.Context, req *courier.Request) (*courier.Response, error) {
	c.p.started <- req
	select {
	case <-c.p.release:
		return textResponse(req, http.StatusOK, "ok"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *blockingConn) Close() error { return nil }

// textResponse builds a plain 200-style response for fakes.
func textResponse(req *courier.Request, status int, body string) *courier.Response {
	return &courier.Response{
		Request:       req,
		StatusCode:    status,
		Header:        make(http.Header),
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

// waitCallback funnels an async call's single outcome into channels.
type waitCallback struct {
	resp chan *courier.Response
	errs chan error
}

func newWaitCallback() *waitCallback {
	return &waitCallback{
		resp: make(chan *courier.Response, 1),
		errs: make(chan error, 1),
	}
}

func (w *waitCallback) OnResponse(_ *courier.Call, resp *courier.Response) {
	w.resp <- resp
}

func (w *waitCallback) OnFailure(_ *courier.Call, err error) {
	w.errs <- err
}

func (w *waitCallback) awaitResponse(t *testing.T) *courier.Response {
	t.Helper()
	select {
	case resp := <-w.resp:
		return resp
	case err := <-w.errs:
		t.Fatalf("expected a response, got failure: %v", err)
		return nil
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		return nil
	}
}

func (w *waitCallback) awaitFailure(t *testing.T) error {
	t.Helper()
	select {
	case err := <-w.errs:
		return err
	case resp := <-w.resp:
		t.Fatalf("expected a failure, got response with status %d", resp.StatusCode)
		return nil
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		return nil
	}
}

// mustRequest builds a request or fails the test.
func mustRequest(t *testing.T, method, rawURL string) *courier.Request {
	t.Helper()
	req, err := courier.NewRequest(method, rawURL, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	return req
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// recordingJar is an http.CookieJar capturing what the bridge stores.
type recordingJar struct {
	mu     sync.Mutex
	serve  []*http.Cookie
	stored []*http.Cookie
}

func (j *recordingJar) Cookies(_ *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.serve
}

func (j *recordingJar) SetCookies(_ *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stored = append(j.stored, cookies...)
}

func (j *recordingJar) storedCookies() []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*http.Cookie(nil), j.stored...)
}
