package courier

import (
	"context"
	"errors"
	"net/http"
)

// callServerInterceptor is the terminal stage: it writes the request
// and reads the response over the acquired connection. Cancellation is
// checked on both sides of the exchange, not just once.
type callServerInterceptor struct{}

func (callServerInterceptor) Intercept(ctx context.Context, chain *Chain) (*Response, error) {
	call := chain.Call()
	conn := chain.Connection()
	if conn == nil {
		return nil, errors.New("no connection acquired for exchange")
	}

	if call.transmitter.IsCanceled() {
		return nil, canceledError(nil)
	}

	resp, err := conn.RoundTrip(ctx, chain.Request())
	if err != nil {
		if call.transmitter.IsCanceled() {
			return nil, canceledError(err)
		}
		return nil, err
	}

	if call.transmitter.IsCanceled() {
		resp.discardBody()
		return nil, canceledError(nil)
	}

	if resp.Request == nil {
		resp.Request = chain.Request()
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	if resp.Body == nil {
		resp.Body = http.NoBody
	}

	return resp, nil
}
