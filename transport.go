package courier

import (
	"context"
	"fmt"
	"net/http"
)

// Connection is one usable route to a destination, able to carry a
// single exchange at a time. The connect stage acquires it; the
// call-server stage drives it.
type Connection interface {
	// RoundTrip writes req and reads the response over this connection.
	RoundTrip(ctx context.Context, req *Request) (*Response, error)

	// Close releases the connection back to its owner.
	Close() error
}

// ConnectionProvider hands out connections, new or pooled. The pooling
// strategy is entirely the provider's business; the core only promises
// to Close whatever it acquired.
type ConnectionProvider interface {
	Acquire(ctx context.Context, req *Request) (Connection, error)
}

// roundTripperProvider adapts any http.RoundTripper into a
// ConnectionProvider, which is how the default client reaches the
// standard library transport and its connection pool.
type roundTripperProvider struct {
	rt http.RoundTripper
}

func newRoundTripperProvider(rt http.RoundTripper) ConnectionProvider {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &roundTripperProvider{rt: rt}
}

func (p *roundTripperProvider) Acquire(ctx context.Context, req *Request) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	return &roundTripperConn{rt: p.rt}, nil
}

type roundTripperConn struct {
	rt http.RoundTripper
}

func (c *roundTripperConn) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("instantiating wire request: %w", err)
	}

	hreq.Header = req.Header.Clone()
	hreq.ContentLength = req.ContentLength
	hreq.GetBody = req.GetBody
	if host := req.Header.Get("Host"); host != "" {
		hreq.Host = host
	}

	hresp, err := c.rt.RoundTrip(hreq)
	if err != nil {
		return nil, fmt.Errorf("round trip: %w", err)
	}

	return &Response{
		Request:       req,
		StatusCode:    hresp.StatusCode,
		Header:        hresp.Header,
		Body:          hresp.Body,
		ContentLength: hresp.ContentLength,
	}, nil
}

func (c *roundTripperConn) Close() error {
	// The std transport pools connections itself; nothing to release.
	return nil
}
