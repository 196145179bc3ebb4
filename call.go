package courier

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Call is one attempt at satisfying a Request: it binds the request to
// the client configuration, assembles the interceptor chain, and drives
// it to completion. A Call runs at most once, through either
// [Call.Execute] or [Call.Enqueue].
type Call struct {
	client       *Client
	request      *Request
	forWebSocket bool
	id           uuid.UUID

	mu       sync.Mutex
	executed bool

	// transmitter is attached immediately after allocation, before the
	// call is visible to any other goroutine. The two are built together
	// because cancellation bookkeeping needs the back-reference.
	transmitter Transmitter
}

// Callback receives the outcome of an enqueued call on a worker
// goroutine. Exactly one of the two methods is invoked, exactly once.
type Callback interface {
	OnResponse(call *Call, resp *Response)
	OnFailure(call *Call, err error)
}

// CallbackFuncs adapts plain functions to the Callback interface. Nil
// fields are skipped.
type CallbackFuncs struct {
	Response func(call *Call, resp *Response)
	Failure  func(call *Call, err error)
}

func (c CallbackFuncs) OnResponse(call *Call, resp *Response) {
	if c.Response != nil {
		c.Response(call, resp)
	}
}

func (c CallbackFuncs) OnFailure(call *Call, err error) {
	if c.Failure != nil {
		c.Failure(call, err)
	}
}

// NewCall binds req to the client's configuration. The call is inert
// until executed or enqueued.
func (c *Client) NewCall(req *Request) *Call {
	return c.newCall(req, false)
}

// NewWebSocketCall binds req as a WebSocket upgrade call: network
// interceptors are not inserted into its chain and it is exempt from
// the per-host admission limit.
func (c *Client) NewWebSocketCall(req *Request) *Call {
	return c.newCall(req, true)
}

func (c *Client) newCall(req *Request, forWebSocket bool) *Call {
	call := &Call{
		client:       c,
		request:      req,
		forWebSocket: forWebSocket,
		id:           uuid.New(),
	}
	call.transmitter = c.transmitterFactory(call)
	return call
}

// ID returns the call's unique identifier, carried in logs and traces.
func (c *Call) ID() string {
	return c.id.String()
}

// Request returns the original application request.
func (c *Call) Request() *Request {
	return c.request
}

// IsExecuted reports whether Execute or Enqueue has been invoked.
func (c *Call) IsExecuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executed
}

// IsCanceled reports whether the call has been canceled.
func (c *Call) IsCanceled() bool {
	return c.transmitter.IsCanceled()
}

// Cancel aborts the call. Idempotent; safe to invoke from any
// goroutine at any point of the call's life, including from inside a
// completion callback. A canceled call still runs to completion, but
// the chain observes the cancellation and fails instead of returning a
// response.
func (c *Call) Cancel() {
	c.transmitter.Cancel()
}

// Execute runs the call synchronously on the calling goroutine and
// returns the final response. A second invocation (or one after
// Enqueue) fails with [ErrAlreadyExecuted].
func (c *Call) Execute(ctx context.Context) (*Response, error) {
	if err := c.markExecuted(); err != nil {
		return nil, err
	}

	ctx = c.transmitter.TimeoutEnter(ctx)
	c.transmitter.CallStart()

	c.client.dispatcher.executed(c)
	defer c.client.dispatcher.finishedSync(c)

	return c.runChain(ctx)
}

// Enqueue schedules the call for asynchronous execution and returns
// immediately. The outcome is delivered to cb on a worker goroutine
// once the dispatcher admits and runs the call. The returned error is
// only ever the [ErrAlreadyExecuted] usage error.
func (c *Call) Enqueue(ctx context.Context, cb Callback) error {
	if err := c.markExecuted(); err != nil {
		return err
	}

	c.transmitter.CallStart()

	ac := &AsyncCall{
		call:     c,
		callback: cb,
		ctx:      ctx,
	}
	ac.callsPerHost = new(atomic.Int32)
	c.client.dispatcher.enqueue(ac)

	return nil
}

func (c *Call) markExecuted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.executed {
		return ErrAlreadyExecuted
	}
	c.executed = true
	return nil
}

// runChain assembles the interceptor sequence and drives it. Exactly
// one terminal NoMoreExchanges notification is delivered per call,
// guarded by the signaled flag rather than by unwind ordering.
func (c *Call) runChain(ctx context.Context) (*Response, error) {
	cl := c.client

	interceptors := make([]Interceptor, 0, len(cl.interceptors)+len(cl.networkInterceptors)+5)
	interceptors = append(interceptors, cl.interceptors...)
	interceptors = append(interceptors, &retryInterceptor{client: cl})
	interceptors = append(interceptors, &bridgeInterceptor{jar: cl.jar, userAgent: cl.userAgent})
	interceptors = append(interceptors, &cacheInterceptor{cache: cl.cache})
	interceptors = append(interceptors, &connectInterceptor{provider: cl.connections})
	if !c.forWebSocket {
		interceptors = append(interceptors, cl.networkInterceptors...)
	}
	interceptors = append(interceptors, callServerInterceptor{})

	ctx, span := cl.tracer.Start(ctx, "courier.call", trace.WithAttributes(
		attribute.String("call.id", c.ID()),
		attribute.String("http.method", c.request.Method),
		attribute.String("http.host", c.request.Host()),
	))
	defer span.End()

	chain := &Chain{call: c, interceptors: interceptors, request: c.request}

	signaled := false
	defer func() {
		if !signaled {
			// Reached only if an interceptor panicked mid-chain.
			_ = c.transmitter.NoMoreExchanges(errAbandoned)
		}
	}()

	resp, err := chain.Proceed(ctx, c.request)
	if err != nil {
		signaled = true
		span.RecordError(err)
		return nil, c.transmitter.NoMoreExchanges(err)
	}

	if c.transmitter.IsCanceled() {
		resp.discardBody()
		signaled = true
		return nil, c.transmitter.NoMoreExchanges(ErrCanceled)
	}

	signaled = true
	_ = c.transmitter.NoMoreExchanges(nil)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.Body != nil {
		resp.Body = &exitBody{ReadCloser: resp.Body, transmitter: c.transmitter}
	} else {
		c.transmitter.TimeoutExit()
	}

	return resp, nil
}

// exitBody releases the call's timeout budget when the response body is
// closed. Until then Cancel and the call timeout can still abort an
// in-progress body read.
type exitBody struct {
	io.ReadCloser
	transmitter Transmitter
}

func (b *exitBody) Close() error {
	err := b.ReadCloser.Close()
	b.transmitter.TimeoutExit()
	return err
}

// AsyncCall is the dispatcher's schedulable unit: a call, its
// completion callback, and a handle to the per-host in-flight counter.
// The counter is shared by reference across every async call the
// dispatcher currently knows for the same host.
type AsyncCall struct {
	call     *Call
	callback Callback
	ctx      context.Context

	callsPerHost *atomic.Int32
}

// Call returns the wrapped call.
func (a *AsyncCall) Call() *Call {
	return a.call
}

func (a *AsyncCall) host() string {
	return a.call.request.Host()
}

// reuseCounterFrom rebinds this call's per-host counter to other's, so
// all calls to one destination share a single counter instance.
func (a *AsyncCall) reuseCounterFrom(other *AsyncCall) {
	a.callsPerHost = other.callsPerHost
}

// executeOn submits the call to the executor. Rejection is converted
// into a call failure: the transmitter is told there are no more
// exchanges, the failure callback fires, and the call is retired from
// the running set as if it had finished.
func (a *AsyncCall) executeOn(exec Executor) {
	d := a.call.client.dispatcher

	err := exec.Execute(a.run)
	if err == nil {
		return
	}

	rejection := a.call.transmitter.NoMoreExchanges(joinRejection(err))
	a.call.client.logger.Error("async call rejected by executor",
		"call_id", a.call.ID(),
		"host", a.host(),
		"error", err,
	)
	a.callback.OnFailure(a.call, rejection)
	d.finishedAsync(a)
}

// run executes the call on a worker goroutine and delivers exactly one
// callback.
func (a *AsyncCall) run() {
	defer a.call.client.dispatcher.finishedAsync(a)

	ctx := a.call.transmitter.TimeoutEnter(a.ctx)

	resp, err := a.call.runChain(ctx)
	if err != nil {
		a.callback.OnFailure(a.call, err)
		return
	}
	a.callback.OnResponse(a.call, resp)
}
