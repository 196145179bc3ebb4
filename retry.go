package courier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// retryInterceptor owns the retry and redirect loop. On a recoverable
// transport failure, or on a response that demands a follow-up
// (redirect, 408, 503 with Retry-After: 0), it issues a new inner
// attempt with a rewritten request, bounded by the client's follow-up
// budget. Response bodies from superseded attempts are always released
// before the next attempt starts.
type retryInterceptor struct {
	client *Client
}

func (r *retryInterceptor) Intercept(ctx context.Context, chain *Chain) (*Response, error) {
	call := chain.Call()
	req := chain.Request()

	var (
		followUps int
		priorCode int
		lastErr   error
	)

	for {
		if call.transmitter.IsCanceled() {
			return nil, canceledError(lastErr)
		}

		resp, err := chain.Proceed(ctx, req)
		if err != nil {
			if !r.recoverable(ctx, call, req, err) {
				return nil, err
			}
			lastErr = err
			followUps++
			if followUps > r.client.maxFollowUps {
				return nil, fmt.Errorf("%w (%d): %w", ErrTooManyFollowUps, followUps, err)
			}
			continue
		}

		next, err := r.followUpRequest(req, resp, priorCode)
		if err != nil {
			resp.discardBody()
			return nil, err
		}
		if next == nil {
			return resp, nil
		}

		priorCode = resp.StatusCode
		resp.discardBody()

		followUps++
		if followUps > r.client.maxFollowUps {
			return nil, fmt.Errorf("%w: %d", ErrTooManyFollowUps, followUps)
		}
		req = next
	}
}

// recoverable reports whether a failed attempt may be retried with the
// same request.
func (r *retryInterceptor) recoverable(ctx context.Context, call *Call, req *Request, err error) bool {
	if call.transmitter.IsCanceled() || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if !req.replayable() {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		// Transport-level failures (reset, refused, broken route) are
		// worth another attempt; anything else is assumed fatal.
		return !netErr.Timeout()
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// followUpRequest inspects resp and returns the request for the next
// attempt, or nil when resp should be returned to the caller as-is.
func (r *retryInterceptor) followUpRequest(req *Request, resp *Response, priorCode int) (*Request, error) {
	switch resp.StatusCode {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return r.redirect(req, resp)

	case http.StatusRequestTimeout:
		// Repeating a 408 means the server keeps timing us out; give the
		// caller the response instead of looping.
		if priorCode == http.StatusRequestTimeout || !req.replayable() {
			return nil, nil
		}
		return req, nil

	case http.StatusServiceUnavailable:
		if priorCode == http.StatusServiceUnavailable || resp.Header.Get("Retry-After") != "0" {
			return nil, nil
		}
		return req, nil

	default:
		return nil, nil
	}
}

func (r *retryInterceptor) redirect(req *Request, resp *Response) (*Request, error) {
	if !r.client.followRedirects {
		return nil, nil
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return nil, nil
	}

	target, err := req.URL.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parsing redirect location %q: %w", location, err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, nil
	}

	next := req.Clone()
	next.URL = target

	// 303 and the legacy 301/302 on non-GET rewrite the follow-up to a
	// bodyless GET; 307/308 must replay the original body.
	if rewriteToGet(req.Method, resp.StatusCode) {
		next.Method = http.MethodGet
		next.Body = nil
		next.GetBody = nil
		next.ContentLength = 0
		next.Header.Del("Content-Type")
		next.Header.Del("Content-Length")
	} else if !req.replayable() {
		return nil, nil
	}

	// Never forward credentials across hosts.
	if target.Hostname() != req.URL.Hostname() {
		next.Header.Del("Authorization")
		next.Header.Del("Cookie")
	}

	return next, nil
}

func rewriteToGet(method string, code int) bool {
	if code == http.StatusSeeOther {
		return method != http.MethodGet && method != http.MethodHead
	}
	// 301/302: preserve GET and HEAD, downgrade everything else.
	if code == http.StatusMovedPermanently || code == http.StatusFound {
		return method != http.MethodGet && method != http.MethodHead
	}
	return false
}

// canceledError surfaces cancellation, preserving the last transport
// failure as context when there is one.
func canceledError(cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, cause)
	}
	return ErrCanceled
}
