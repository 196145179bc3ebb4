package courier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrBodySize caps the amount of response body read when building
// an error for an unexpected status code. This prevents unbounded
// memory usage when a large response arrives with a wrong status.
const maxErrBodySize = 4 << 10 // 4KB

// Do executes req synchronously, validates the response status against
// expCode, and optionally decodes the JSON body into a destination
// supplied via [WithDestination]. The response body is always fully
// consumed and closed.
func (c *Client) Do(ctx context.Context, req *Request, expCode int, opts ...DoOption) error {
	var settings doOpts
	for _, opt := range opts {
		if err := opt(&settings); err != nil {
			return err
		}
	}

	resp, err := c.NewCall(req).Execute(ctx)
	if err != nil {
		return fmt.Errorf("executing call: %w", err)
	}

	discardBody := true
	defer func() {
		if discardBody {
			if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxDiscardSize)); err != nil {
				c.logger.Error("failed to discard unused body", "error", err)
			}
		}
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != expCode {
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBodySize))
		if err != nil {
			b = []byte("unable to read body")
		}

		statusErr := &UnexpectedStatusError{
			StatusCode: resp.StatusCode,
			Body:       string(b),
			Err:        ErrUnexpectedStatusCode,
		}
		if resp.StatusCode == http.StatusUnauthorized {
			statusErr.Err = fmt.Errorf("%w: %w", ErrAuthFailure, ErrUnexpectedStatusCode)
		}
		return statusErr
	}

	if settings.responseBody != nil {
		d := json.NewDecoder(resp.Body)

		if settings.useJSONNum {
			d.UseNumber()
		}

		if err := d.Decode(settings.responseBody); err != nil {
			discardBody = false
			return fmt.Errorf("decoding body: %w", err)
		}
	}

	return nil
}
