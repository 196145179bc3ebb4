package courier

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
)

// Request is an immutable description of one HTTP call. The core never
// mutates a Request it is handed; interceptors that need to change one
// work on a copy obtained via [Request.Clone].
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header

	// Body is consumed at most once per network attempt. GetBody, when
	// non-nil, produces a fresh copy so the retry and redirect logic can
	// replay the request; without it a request with a body is treated as
	// non-replayable.
	Body          io.Reader
	GetBody       func() (io.ReadCloser, error)
	ContentLength int64
}

// NewRequest builds a Request for the given method and URL. Buffered
// body types (*bytes.Buffer, *bytes.Reader, *strings.Reader) get a
// GetBody rewinder and a known ContentLength automatically, mirroring
// net/http.
func NewRequest(method, rawURL string, body io.Reader) (*Request, error) {
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing request url: %w", err)
	}
	if u.Host == "" {
		return nil, errors.New("request url must be absolute")
	}

	req := &Request{
		Method:        method,
		URL:           u,
		Header:        make(http.Header),
		Body:          body,
		ContentLength: -1,
	}
	if body == nil {
		req.ContentLength = 0
		return req, nil
	}

	switch v := body.(type) {
	case *bytes.Buffer:
		req.ContentLength = int64(v.Len())
		buf := v.Bytes()
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(buf)), nil
		}
	case *bytes.Reader:
		req.ContentLength = int64(v.Len())
		snapshot := *v
		req.GetBody = func() (io.ReadCloser, error) {
			r := snapshot
			return io.NopCloser(&r), nil
		}
	case *strings.Reader:
		req.ContentLength = int64(v.Len())
		snapshot := *v
		req.GetBody = func() (io.ReadCloser, error) {
			r := snapshot
			return io.NopCloser(&r), nil
		}
	}

	return req, nil
}

// Clone returns a copy of the request with its own URL and Header so
// the copy can be rewritten without touching the original.
func (r *Request) Clone() *Request {
	cpy := *r
	if r.URL != nil {
		u := *r.URL
		cpy.URL = &u
	}
	cpy.Header = make(http.Header, len(r.Header))
	maps.Copy(cpy.Header, r.Header)
	return &cpy
}

// Host returns the lowercased hostname used as the per-destination
// scheduling key.
func (r *Request) Host() string {
	if r.URL == nil {
		return ""
	}
	return strings.ToLower(r.URL.Hostname())
}

// replayable reports whether the body can be sent again for a retry or
// redirected attempt.
func (r *Request) replayable() bool {
	return r.Body == nil || r.GetBody != nil
}
