package courier

import (
	"context"
	"fmt"
	"io"
)

// connectInterceptor acquires a usable connection for the request and
// publishes it to the rest of the chain. The connection is released
// either immediately on failure or when the response body is closed,
// so an unwinding cancellation never strands it.
type connectInterceptor struct {
	provider ConnectionProvider
}

func (ci *connectInterceptor) Intercept(ctx context.Context, chain *Chain) (*Response, error) {
	call := chain.Call()
	if call.transmitter.IsCanceled() {
		return nil, canceledError(nil)
	}

	conn, err := ci.provider.Acquire(ctx, chain.Request())
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}

	resp, err := chain.withConnection(conn).Proceed(ctx, chain.Request())
	if err != nil {
		if cerr := conn.Close(); cerr != nil {
			call.client.logger.Error("failed to release connection", "call_id", call.ID(), "error", cerr)
		}
		return nil, err
	}

	resp.Body = &connBody{ReadCloser: resp.Body, conn: conn}
	return resp, nil
}

// connBody ties the connection's release to the response body's Close.
type connBody struct {
	io.ReadCloser
	conn Connection
}

func (b *connBody) Close() error {
	err := b.ReadCloser.Close()
	if cerr := b.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
