package courier

import (
	"io"
	"net/http"
)

// Response is the result of running a call's interceptor chain. The
// Body must be closed by the receiver; [Response.Close] is a nil-safe
// shorthand.
type Response struct {
	Request    *Request
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser

	// ContentLength is the declared body length, or -1 when unknown.
	ContentLength int64

	// FromCache marks a response served by the cache stage without
	// touching the network.
	FromCache bool
}

// Close releases the response body. Safe on a nil response or body.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// discardBody drains and closes the body so the underlying connection
// can be reused, logging nothing: callers that care about the error
// close explicitly.
func (r *Response) discardBody() {
	if r == nil || r.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, maxDiscardSize))
	_ = r.Body.Close()
}

// maxDiscardSize caps how much of an abandoned body is drained before
// the connection is given up on. This prevents unbounded reads when a
// large response is discarded.
const maxDiscardSize = 256 << 10 // 256KB
