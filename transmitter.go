package courier

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Transmitter owns the network exchange and its cancellation/timeout
// state for one Call. The core drives it through this interface only;
// the default implementation is supplied by the client factory and can
// be replaced with [WithTransmitterFactory].
type Transmitter interface {
	// TimeoutEnter starts the call's timeout budget and returns the
	// context every blocking operation inside the chain must observe.
	TimeoutEnter(ctx context.Context) context.Context

	// CallStart records that the call left the idle state.
	CallStart()

	// Cancel aborts in-flight work. Idempotent, safe from any goroutine.
	Cancel()

	// IsCanceled reports whether Cancel has been invoked.
	IsCanceled() bool

	// NoMoreExchanges records the call's terminal outcome. The first
	// invocation stores err and returns it; later invocations ignore
	// their argument and return the stored terminal error, so callers
	// can uniformly re-raise.
	NoMoreExchanges(err error) error

	// TimeoutExit releases the call's timeout budget. The budget stays
	// armed while the caller reads the response body; closing the body
	// invokes this.
	TimeoutExit()
}

// TransmitterFactory builds the Transmitter for a freshly allocated
// Call. The factory runs before the Call is published to any other
// goroutine, which is what lets the Transmitter keep a back-reference
// for cancellation bookkeeping.
type TransmitterFactory func(call *Call) Transmitter

// transmitter is the default Transmitter. It enforces the call timeout
// by deriving a cancelable context in TimeoutEnter and tripping it on
// Cancel.
type transmitter struct {
	call    *Call
	timeout time.Duration
	logger  *slog.Logger

	canceled atomic.Bool

	mu          sync.Mutex
	abort       context.CancelFunc
	done        bool
	terminalErr error
}

// NewDefaultTransmitter builds the stock Transmitter for call. Custom
// factories can wrap it to observe or override individual operations.
func NewDefaultTransmitter(call *Call) Transmitter {
	return &transmitter{
		call:    call,
		timeout: call.client.callTimeout,
		logger:  call.client.logger,
	}
}

func (t *transmitter) TimeoutEnter(ctx context.Context) context.Context {
	var cancel context.CancelFunc
	if t.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	t.mu.Lock()
	t.abort = cancel
	t.mu.Unlock()

	// Cancel may have raced ahead of the budget being entered.
	if t.canceled.Load() {
		cancel()
	}

	return ctx
}

func (t *transmitter) CallStart() {
	t.logger.Debug("call start",
		"call_id", t.call.ID(),
		"method", t.call.Request().Method,
		"host", t.call.Request().Host(),
	)
}

func (t *transmitter) Cancel() {
	if t.canceled.Swap(true) {
		return
	}

	t.mu.Lock()
	abort := t.abort
	t.mu.Unlock()

	if abort != nil {
		abort()
	}
}

func (t *transmitter) IsCanceled() bool {
	return t.canceled.Load()
}

func (t *transmitter) NoMoreExchanges(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return t.terminalErr
	}

	t.done = true
	t.terminalErr = err

	// On failure the exchange is over and the context can be torn down
	// immediately. On success the body is still open; the budget stays
	// armed until TimeoutExit so Cancel and the call timeout cover the
	// body read.
	if err != nil && t.abort != nil {
		t.abort()
		t.abort = nil
	}

	return err
}

func (t *transmitter) TimeoutExit() {
	t.mu.Lock()
	abort := t.abort
	t.abort = nil
	t.mu.Unlock()

	if abort != nil {
		abort()
	}
}
