package courier

import (
	"context"
	"net/http"
	"strings"
)

// Cache stores responses for the cache stage. Implementations decide
// freshness and eviction; the stage only decides which exchanges are
// candidates. See the memcache package for a bounded in-memory
// implementation.
type Cache interface {
	// Get returns a stored response for req, or nil on a miss. Each
	// returned response must carry an independently readable body.
	Get(req *Request) *Response

	// Put offers resp for storage. Implementations that need the body
	// bytes return a replacement response whose body tees reads into the
	// store; returning nil leaves resp untouched.
	Put(resp *Response) *Response
}

// cacheInterceptor may short-circuit the rest of the chain with a
// stored response — cache hits never reach the network interceptors —
// and feeds cacheable network responses back into the store.
type cacheInterceptor struct {
	cache Cache
}

func (c *cacheInterceptor) Intercept(ctx context.Context, chain *Chain) (*Response, error) {
	req := chain.Request()

	if c.cache == nil || req.Method != http.MethodGet {
		return chain.Proceed(ctx, req)
	}

	if cached := c.cache.Get(req); cached != nil {
		cached.Request = req
		cached.FromCache = true
		return cached, nil
	}

	resp, err := chain.Proceed(ctx, req)
	if err != nil {
		return nil, err
	}

	if storable(req, resp) {
		if replacement := c.cache.Put(resp); replacement != nil {
			resp = replacement
		}
	}

	return resp, nil
}

// storable applies the stage's minimal cacheability rules; finer
// policy (freshness lifetimes, validation) belongs to the Cache
// implementation.
func storable(req *Request, resp *Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if hasNoStore(req.Header) || hasNoStore(resp.Header) {
		return false
	}
	return true
}

func hasNoStore(h http.Header) bool {
	for _, v := range h.Values("Cache-Control") {
		for _, directive := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(directive), "no-store") {
				return true
			}
		}
	}
	return false
}
