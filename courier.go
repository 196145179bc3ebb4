package courier

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// defaultUserAgent is sent when the application sets no User-Agent of
// its own.
const defaultUserAgent = "courier/1.0"

// defaultMaxFollowUps bounds how many retry/redirect attempts a single
// call may make.
const defaultMaxFollowUps = 20

// Client binds application requests to a shared execution
// configuration: the dispatcher, the interceptor lists, the
// collaborators (connections, cache, cookies), and the observability
// hooks. A Client is safe for concurrent use and meant to be shared.
type Client struct {
	dispatcher          *Dispatcher
	connections         ConnectionProvider
	cache               Cache
	jar                 http.CookieJar
	interceptors        []Interceptor
	networkInterceptors []Interceptor
	transmitterFactory  TransmitterFactory

	callTimeout     time.Duration
	maxFollowUps    int
	followRedirects bool
	userAgent       string

	logger *slog.Logger
	tracer trace.Tracer
}

// config collects option values before they are folded into a Client.
// Numeric fields are checked against their validate tags by Build.
type config struct {
	MaxRequests        int           `json:"max_requests" validate:"omitempty,gte=1"`
	MaxRequestsPerHost int           `json:"max_requests_per_host" validate:"omitempty,gte=1"`
	MaxFollowUps       int           `json:"max_follow_ups" validate:"omitempty,gte=1"`
	CallTimeout        time.Duration `json:"call_timeout" validate:"gte=0"`

	rt                  http.RoundTripper
	connections         ConnectionProvider
	cache               Cache
	jar                 http.CookieJar
	interceptors        []Interceptor
	networkInterceptors []Interceptor
	transmitterFactory  TransmitterFactory
	dispatcher          *Dispatcher
	userAgent           string
	noFollowRedirects   bool
	logger              *slog.Logger
	tracer              trace.Tracer
}

// Build instantiates a Client with the provided options. Unspecified
// collaborators fall back to working defaults: the std-lib transport
// behind a [ConnectionProvider] adapter, a fresh [Dispatcher] with its
// lazily created worker pool, the default slog logger, and a no-op
// tracer.
func Build(optFns ...Option) (*Client, error) {
	var opts config
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying client option: %w", err)
		}
	}

	if err := validateStruct(&opts); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}

	client := &Client{
		cache:               opts.cache,
		jar:                 opts.jar,
		interceptors:        opts.interceptors,
		networkInterceptors: opts.networkInterceptors,
		callTimeout:         opts.CallTimeout,
		maxFollowUps:        defaultMaxFollowUps,
		followRedirects:     !opts.noFollowRedirects,
		userAgent:           defaultUserAgent,
		logger:              slog.Default(),
		tracer:              noop.NewTracerProvider().Tracer("no-op tracer"),
	}

	if opts.logger != nil {
		client.logger = opts.logger
	}
	if opts.tracer != nil {
		client.tracer = opts.tracer
	}
	if opts.MaxFollowUps > 0 {
		client.maxFollowUps = opts.MaxFollowUps
	}
	if opts.userAgent != "" {
		client.userAgent = opts.userAgent
	}

	client.connections = opts.connections
	if client.connections == nil {
		client.connections = newRoundTripperProvider(opts.rt)
	}

	client.transmitterFactory = opts.transmitterFactory
	if client.transmitterFactory == nil {
		client.transmitterFactory = NewDefaultTransmitter
	}

	client.dispatcher = opts.dispatcher
	if client.dispatcher == nil {
		client.dispatcher = NewDispatcher(nil)
		client.dispatcher.logger = client.logger
	}
	if opts.MaxRequests > 0 {
		if err := client.dispatcher.SetMaxRequests(opts.MaxRequests); err != nil {
			return nil, fmt.Errorf("configuring dispatcher: %w", err)
		}
	}
	if opts.MaxRequestsPerHost > 0 {
		if err := client.dispatcher.SetMaxRequestsPerHost(opts.MaxRequestsPerHost); err != nil {
			return nil, fmt.Errorf("configuring dispatcher: %w", err)
		}
	}

	return client, nil
}

// Dispatcher returns the client's admission controller.
func (c *Client) Dispatcher() *Dispatcher {
	return c.dispatcher
}
