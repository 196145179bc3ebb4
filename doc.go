// Package courier is the call-execution core of an HTTP client: it
// decides when a request runs, enforces global and per-host concurrency
// limits, and threads each request through an ordered chain of
// interceptors that produce a response.
//
// A [Client] is assembled with [Build] and functional options. Each
// request becomes a [Call], entered synchronously with [Call.Execute]
// or asynchronously with [Call.Enqueue]; async calls are admitted by
// the client's [Dispatcher] under MaxRequests/MaxRequestsPerHost caps
// and run on a lazily grown worker pool.
//
// # Usage
//
//	c, err := courier.Build(
//		courier.WithMaxRequestsPerHost(2),
//		courier.WithInterceptors(logging),
//	)
//	if err != nil {
//		// ...
//	}
//
//	req, err := courier.NewRequest(http.MethodGet, "https://example.com/items", nil)
//	resp, err := c.NewCall(req).Execute(ctx)
//
// The pieces the core does not own — connection management, the network
// exchange, response caching, cookie storage — are collaborators behind
// the [ConnectionProvider], [Transmitter], [Cache], and [http.CookieJar]
// interfaces and can all be replaced through options.
package courier
