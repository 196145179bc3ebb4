// Package throttle provides a [courier.Interceptor] that rate-limits
// outbound calls using a token-bucket algorithm from
// [golang.org/x/time/rate].
//
// # Usage
//
// Register the interceptor on a client via [courier.WithInterceptors]:
//
//	in, err := throttle.New(
//		10,  // requests per second
//		5,   // burst capacity
//		func() *slog.Logger { return slog.Default() },
//	)
//	c, err := courier.Build(courier.WithInterceptors(in))
//
// When the rate limit is exceeded, calls block inside the chain until
// a token becomes available or the call's context is cancelled.
package throttle
