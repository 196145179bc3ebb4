package courier

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option is a functional option for configuring a [Client] via [Build].
type Option func(*config) error

// WithMaxRequests sets the dispatcher's global cap on concurrently
// running asynchronous calls. Default 64.
func WithMaxRequests(n int) Option {
	return func(c *config) error {
		c.MaxRequests = n
		return nil
	}
}

// WithMaxRequestsPerHost sets the dispatcher's cap on concurrently
// running asynchronous calls per destination host. Default 5.
func WithMaxRequestsPerHost(n int) Option {
	return func(c *config) error {
		c.MaxRequestsPerHost = n
		return nil
	}
}

// WithMaxFollowUps bounds the retry stage's redirect and retry
// attempts per call. Default 20.
func WithMaxFollowUps(n int) Option {
	return func(c *config) error {
		c.MaxFollowUps = n
		return nil
	}
}

// WithCallTimeout sets the complete-call timeout budget entered when a
// call begins executing. Zero means no budget.
func WithCallTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d < 0 {
			return errors.New("call timeout must not be negative")
		}
		c.CallTimeout = d
		return nil
	}
}

// WithTransport sets the [http.RoundTripper] behind the default
// connection provider.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *config) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		c.rt = rt
		return nil
	}
}

// WithConnectionProvider replaces the connection acquisition strategy
// entirely. Takes precedence over WithTransport.
func WithConnectionProvider(p ConnectionProvider) Option {
	return func(c *config) error {
		if p == nil {
			return errors.New("connection provider must not be nil")
		}
		c.connections = p
		return nil
	}
}

// WithCache enables the cache stage with the given store.
func WithCache(cache Cache) Option {
	return func(c *config) error {
		if cache == nil {
			return errors.New("cache must not be nil")
		}
		c.cache = cache
		return nil
	}
}

// WithCookieJar supplies the cookie store consumed by the bridge stage.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *config) error {
		if jar == nil {
			return errors.New("cookie jar must not be nil")
		}
		c.jar = jar
		return nil
	}
}

// WithInterceptors appends application interceptors. They observe every
// request and response unconditionally, including cache hits.
func WithInterceptors(interceptors ...Interceptor) Option {
	return func(c *config) error {
		for _, in := range interceptors {
			if in == nil {
				return errors.New("interceptor must not be nil")
			}
		}
		c.interceptors = append(c.interceptors, interceptors...)
		return nil
	}
}

// WithNetworkInterceptors appends network interceptors. They see only
// wire-level exchanges — never cache hits — and are skipped for
// WebSocket upgrade calls.
func WithNetworkInterceptors(interceptors ...Interceptor) Option {
	return func(c *config) error {
		for _, in := range interceptors {
			if in == nil {
				return errors.New("network interceptor must not be nil")
			}
		}
		c.networkInterceptors = append(c.networkInterceptors, interceptors...)
		return nil
	}
}

// WithDispatcher shares an existing Dispatcher, letting several clients
// pool their admission limits.
func WithDispatcher(d *Dispatcher) Option {
	return func(c *config) error {
		if d == nil {
			return errors.New("dispatcher must not be nil")
		}
		c.dispatcher = d
		return nil
	}
}

// WithTransmitterFactory substitutes the per-call Transmitter
// construction, mainly for tests and instrumentation.
func WithTransmitterFactory(f TransmitterFactory) Option {
	return func(c *config) error {
		if f == nil {
			return errors.New("transmitter factory must not be nil")
		}
		c.transmitterFactory = f
		return nil
	}
}

// WithUserAgent sets the User-Agent header the bridge stage applies to
// requests that carry none.
func WithUserAgent(header string) Option {
	return func(c *config) error {
		c.userAgent = header
		return nil
	}
}

// WithNoFollowRedirects prevents the retry stage from following HTTP
// redirects.
func WithNoFollowRedirects() Option {
	return func(c *config) error {
		c.noFollowRedirects = true
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the [Client].
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithTracer records one span per executed call on the given tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *config) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		c.tracer = tracer
		return nil
	}
}

// DoOption is a functional option for [Client.Do].
type DoOption func(options *doOpts) error

type doOpts struct {
	responseBody any
	useJSONNum   bool
}

// WithDestination decodes the HTTP response body into bodyTemplate.
// bodyTemplate must be a pointer.
func WithDestination[T any](bodyTemplate *T) DoOption {
	return func(opts *doOpts) error {
		opts.responseBody = bodyTemplate

		return nil
	}
}

// WithJSONNumb tells the JSON decoder to use [json.Decoder.UseNumber],
// preserving number precision as [json.Number] instead of float64.
func WithJSONNumb() DoOption {
	return func(opts *doOpts) error {
		opts.useJSONNum = true

		return nil
	}
}
