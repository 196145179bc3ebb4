package courier

import (
	"context"
	"fmt"
)

// Interceptor is one stage of a call's pipeline. An implementation may
// rewrite the request before handing it to chain.Proceed, and may
// inspect or replace the response it gets back. Request-side work runs
// top-down in registration order, response-side work bottom-up.
type Interceptor interface {
	Intercept(ctx context.Context, chain *Chain) (*Response, error)
}

// InterceptorFunc adapts a plain function to the Interceptor interface.
type InterceptorFunc func(ctx context.Context, chain *Chain) (*Response, error)

func (f InterceptorFunc) Intercept(ctx context.Context, chain *Chain) (*Response, error) {
	return f(ctx, chain)
}

// Chain is a cursor into a call's ordered interceptor sequence. The
// chain handed to an interceptor is positioned just after it, so
// calling [Chain.Proceed] runs the remainder of the pipeline.
type Chain struct {
	call         *Call
	interceptors []Interceptor
	index        int
	request      *Request
	conn         Connection

	calls int
}

// Request returns the request as seen at this point of the chain.
func (c *Chain) Request() *Request {
	return c.request
}

// Call returns the call this chain belongs to.
func (c *Chain) Call() *Call {
	return c.call
}

// Connection returns the connection acquired by the connect stage, or
// nil before that stage has run. Network interceptors and the
// call-server stage see a non-nil value.
func (c *Chain) Connection() Connection {
	return c.conn
}

// Proceed invokes the interceptor at the cursor with a chain advanced
// by one position and returns its response.
func (c *Chain) Proceed(ctx context.Context, req *Request) (*Response, error) {
	if c.index >= len(c.interceptors) {
		return nil, fmt.Errorf("chain exhausted at index %d", c.index)
	}

	c.calls++
	if c.conn != nil && c.calls > 1 {
		return nil, fmt.Errorf("interceptor %T must call Proceed exactly once", c.interceptors[c.index-1])
	}

	next := &Chain{
		call:         c.call,
		interceptors: c.interceptors,
		index:        c.index + 1,
		request:      req,
		conn:         c.conn,
	}

	interceptor := c.interceptors[c.index]
	resp, err := interceptor.Intercept(ctx, next)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("interceptor %T returned neither a response nor an error", interceptor)
	}

	return resp, nil
}

// withConnection returns a copy of the chain carrying conn, used by the
// connect stage to publish the acquired connection downstream.
func (c *Chain) withConnection(conn Connection) *Chain {
	cpy := *c
	cpy.conn = conn
	cpy.calls = 0
	return &cpy
}
