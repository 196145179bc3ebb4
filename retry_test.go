package courier_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/wolfeidau/courier"
)

// scriptedProvider serves responses and errors keyed by attempt order.
type scriptedStep struct {
	resp func(req *courier.Request) *courier.Response
	err  error
}

type scriptedProvider struct {
	mu       sync.Mutex
	steps    []scriptedStep
	attempts []*courier.Request
}

func (p *scriptedProvider) Acquire(_ context.Context, _ *courier.Request) (courier.Connection, error) {
	return &scriptedConn{p: p}, nil
}

func (p *scriptedProvider) seen() []*courier.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*courier.Request(nil), p.attempts...)
}

type scriptedConn struct {
	p *scriptedProvider
}

func (c *scriptedConn) RoundTrip(_ context.Context, req *courier.Request) (*courier.Response, error) {
	c.p.mu.Lock()
	i := len(c.p.attempts)
	c.p.attempts = append(c.p.attempts, req)
	if i >= len(c.p.steps) {
		c.p.mu.Unlock()
		return textResponse(req, http.StatusOK, "fallthrough"), nil
	}
	step := c.p.steps[i]
	c.p.mu.Unlock()

	if step.err != nil {
		return nil, step.err
	}
	return step.resp(req), nil
}

func (c *scriptedConn) Close() error { return nil }

func redirectStep(code int, location string) scriptedStep {
	return scriptedStep{resp: func(req *courier.Request) *courier.Response {
		resp := textResponse(req, code, "")
		resp.Header.Set("Location", location)
		return resp
	}}
}

func buildScripted(t *testing.T, provider *scriptedProvider, opts ...courier.Option) *courier.Client {
	t.Helper()
	opts = append([]courier.Option{courier.WithConnectionProvider(provider)}, opts...)
	c, err := courier.Build(opts...)
	if err != nil {
		t.Fatalf("building client: %v", err)
	}
	return c
}

func TestRetry_FollowsRedirects(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		redirectStep(http.StatusFound, "/moved"),
		{resp: func(req *courier.Request) *courier.Response {
			return textResponse(req, http.StatusOK, "landed")
		}},
	}}
	c := buildScripted(t, provider)

	resp, err := c.NewCall(mustRequest(t, http.MethodGet, "https://h.test/start")).Execute(t.Context())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "landed" {
		t.Errorf("expected the redirect target's body, got %q", string(body))
	}

	attempts := provider.seen()
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if attempts[1].URL.Path != "/moved" {
		t.Errorf("expected the follow-up to hit /moved, got %s", attempts[1].URL.Path)
	}
}

func TestRetry_SeeOtherRewritesToBodylessGet(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		redirectStep(http.StatusSeeOther, "/result"),
	}}
	c := buildScripted(t, provider)

	req, err := courier.NewRequest(http.MethodPost, "https://h.test/submit", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}

	resp, err := c.NewCall(req).Execute(t.Context())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	resp.Close()

	attempts := provider.seen()
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	followUp := attempts[1]
	if followUp.Method != http.MethodGet {
		t.Errorf("expected the 303 follow-up to be a GET, got %s", followUp.Method)
	}
	if followUp.Body != nil {
		t.Error("expected the 303 follow-up to drop the body")
	}
}

func TestRetry_NoFollowRedirectsReturnsTheRedirect(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		redirectStep(http.StatusMovedPermanently, "/elsewhere"),
	}}
	c := buildScripted(t, provider, courier.WithNoFollowRedirects())

	resp, err := c.NewCall(mustRequest(t, http.MethodGet, "https://h.test/")).Execute(t.Context())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()

	if resp.StatusCode != http.StatusMovedPermanently {
		t.Errorf("expected the 301 to be returned as-is, got %d", resp.StatusCode)
	}
	if got := len(provider.seen()); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestRetry_FollowUpBudgetIsBounded(t *testing.T) {
	// Every attempt redirects; the loop must stop at the configured
	// budget instead of spinning forever.
	provider := &scriptedProvider{}
	for i := 0; i < 50; i++ {
		provider.steps = append(provider.steps, redirectStep(http.StatusFound, "/loop"))
	}
	c := buildScripted(t, provider, courier.WithMaxFollowUps(3))

	_, err := c.NewCall(mustRequest(t, http.MethodGet, "https://h.test/")).Execute(t.Context())
	if !errors.Is(err, courier.ErrTooManyFollowUps) {
		t.Fatalf("expected ErrTooManyFollowUps, got: %v", err)
	}

	if got := len(provider.seen()); got != 4 {
		t.Errorf("expected 4 attempts for a budget of 3 follow-ups, got %d", got)
	}
}

func TestRetry_RecoversFromTransportFailure(t *testing.T) {
	reset := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
	provider := &scriptedProvider{steps: []scriptedStep{
		{err: reset},
		{resp: func(req *courier.Request) *courier.Response {
			return textResponse(req, http.StatusOK, "recovered")
		}},
	}}
	c := buildScripted(t, provider)

	resp, err := c.NewCall(mustRequest(t, http.MethodGet, "https://h.test/")).Execute(t.Context())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "recovered" {
		t.Errorf("expected the retried attempt's body, got %q", string(body))
	}
	if got := len(provider.seen()); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestRetry_NonReplayableBodyIsNotRetried(t *testing.T) {
	reset := &net.OpError{Op: "write", Net: "tcp", Err: errors.New("broken pipe")}
	provider := &scriptedProvider{steps: []scriptedStep{{err: reset}}}
	c := buildScripted(t, provider)

	req, err := courier.NewRequest(http.MethodPost, "https://h.test/", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.GetBody = nil // one-shot body

	_, execErr := c.NewCall(req).Execute(t.Context())
	if !errors.Is(execErr, reset) {
		t.Errorf("expected the transport failure to surface, got: %v", execErr)
	}
	if got := len(provider.seen()); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestRetry_ServiceUnavailableRetriedOnZeroRetryAfter(t *testing.T) {
	testCases := []struct {
		name        string
		retryAfter  string
		expAttempts int
		expStatus   int
	}{
		{
			name:        "Retry-After zero retries once",
			retryAfter:  "0",
			expAttempts: 2,
			expStatus:   http.StatusOK,
		},
		{
			name:        "Retry-After positive returns the 503",
			retryAfter:  "30",
			expAttempts: 1,
			expStatus:   http.StatusServiceUnavailable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			provider := &scriptedProvider{steps: []scriptedStep{
				{resp: func(req *courier.Request) *courier.Response {
					resp := textResponse(req, http.StatusServiceUnavailable, "")
					resp.Header.Set("Retry-After", tc.retryAfter)
					return resp
				}},
				{resp: func(req *courier.Request) *courier.Response {
					return textResponse(req, http.StatusOK, "ok")
				}},
			}}
			c := buildScripted(t, provider)

			resp, err := c.NewCall(mustRequest(t, http.MethodGet, "https://h.test/")).Execute(t.Context())
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			resp.Close()

			if resp.StatusCode != tc.expStatus {
				t.Errorf("expected status %d, got %d", tc.expStatus, resp.StatusCode)
			}
			if got := len(provider.seen()); got != tc.expAttempts {
				t.Errorf("expected %d attempts, got %d", tc.expAttempts, got)
			}
		})
	}
}

func TestRetry_CrossHostRedirectStripsCredentials(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		redirectStep(http.StatusFound, "https://other.test/landing"),
		{resp: func(req *courier.Request) *courier.Response {
			return textResponse(req, http.StatusOK, "ok")
		}},
	}}
	c := buildScripted(t, provider)

	req := mustRequest(t, http.MethodGet, "https://h.test/")
	req.Header.Set("Authorization", "Bearer secret")

	resp, err := c.NewCall(req).Execute(t.Context())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	resp.Close()

	attempts := provider.seen()
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if got := attempts[1].Header.Get("Authorization"); got != "" {
		t.Errorf("expected Authorization to be stripped across hosts, got %q", got)
	}
	if attempts[1].URL.Host != "other.test" {
		t.Errorf("expected the follow-up to target other.test, got %s", attempts[1].URL.Host)
	}
}

// closeTrackingBody flags when a superseded body was released.
type closeTrackingBody struct {
	io.Reader
	closed *bool
}

func (b *closeTrackingBody) Close() error {
	*b.closed = true
	return nil
}

func TestRetry_SupersededResponseBodiesAreClosed(t *testing.T) {
	var closed bool
	provider := &scriptedProvider{steps: []scriptedStep{
		{resp: func(req *courier.Request) *courier.Response {
			resp := textResponse(req, http.StatusFound, "")
			resp.Header.Set("Location", "/next")
			resp.Body = &closeTrackingBody{Reader: strings.NewReader("stale"), closed: &closed}
			return resp
		}},
		{resp: func(req *courier.Request) *courier.Response {
			return textResponse(req, http.StatusOK, "fresh")
		}},
	}}
	c := buildScripted(t, provider)

	resp, err := c.NewCall(mustRequest(t, http.MethodGet, "https://h.test/")).Execute(t.Context())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	resp.Close()

	if !closed {
		t.Error("expected the redirect response body to be closed before the next attempt")
	}
}
