package courier

import (
	"fmt"
	"log/slog"
	"sync"
)

const (
	defaultMaxRequests        = 64
	defaultMaxRequestsPerHost = 5
)

// Dispatcher is the admission controller for asynchronous calls. It
// holds the ready and running queues, enforces the global and per-host
// concurrency limits, and submits admitted calls to the worker pool.
// Synchronous calls only pass through for bookkeeping.
//
// A single mutex guards the queues, the limits, and the idle callback.
// Promotion side effects — executor submission and user callbacks —
// always run with the mutex released, because user code may legally
// re-enter the Dispatcher from inside a callback.
type Dispatcher struct {
	logger *slog.Logger

	mu                 sync.Mutex
	maxRequests        int
	maxRequestsPerHost int
	idleCallback       func()
	exec               Executor

	readyAsync   []*AsyncCall
	runningAsync []*AsyncCall
	runningSync  []*Call
}

// NewDispatcher creates a Dispatcher with the default limits
// (MaxRequests 64, MaxRequestsPerHost 5). A nil exec means a [Pool]
// with default idle timeout is created lazily on first use.
func NewDispatcher(exec Executor) *Dispatcher {
	return &Dispatcher{
		logger:             slog.Default(),
		maxRequests:        defaultMaxRequests,
		maxRequestsPerHost: defaultMaxRequestsPerHost,
		exec:               exec,
	}
}

// Executor returns the worker pool, creating the default one if none
// was supplied.
func (d *Dispatcher) Executor() Executor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.executorLocked()
}

func (d *Dispatcher) executorLocked() Executor {
	if d.exec == nil {
		d.exec = NewPool(0)
	}
	return d.exec
}

// SetMaxRequests changes the global running-async cap and immediately
// re-runs admission so waiting calls are not stranded.
func (d *Dispatcher) SetMaxRequests(n int) error {
	if n < 1 {
		return fmt.Errorf("max requests must be at least 1, got %d", n)
	}

	d.mu.Lock()
	d.maxRequests = n
	d.mu.Unlock()

	d.promoteAndExecute()
	return nil
}

// MaxRequests returns the global running-async cap.
func (d *Dispatcher) MaxRequests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxRequests
}

// SetMaxRequestsPerHost changes the per-destination cap for async
// calls and immediately re-runs admission. It does not constrain
// synchronous or WebSocket calls.
func (d *Dispatcher) SetMaxRequestsPerHost(n int) error {
	if n < 1 {
		return fmt.Errorf("max requests per host must be at least 1, got %d", n)
	}

	d.mu.Lock()
	d.maxRequestsPerHost = n
	d.mu.Unlock()

	d.promoteAndExecute()
	return nil
}

// MaxRequestsPerHost returns the per-destination cap.
func (d *Dispatcher) MaxRequestsPerHost() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxRequestsPerHost
}

// SetIdleCallback registers fn to run every time the total running
// count transitions from positive to zero. fn runs with no dispatcher
// lock held and may re-enter the Dispatcher.
func (d *Dispatcher) SetIdleCallback(fn func()) {
	d.mu.Lock()
	d.idleCallback = fn
	d.mu.Unlock()
}

// enqueue appends ac to the ready queue, rebinding its per-host
// counter to that of any existing call for the same destination, then
// runs promotion outside the lock.
func (d *Dispatcher) enqueue(ac *AsyncCall) {
	d.mu.Lock()
	d.readyAsync = append(d.readyAsync, ac)

	if !ac.call.forWebSocket {
		if existing := d.findExistingCallLocked(ac); existing != nil {
			ac.reuseCounterFrom(existing)
		}
	}
	d.mu.Unlock()

	d.promoteAndExecute()
}

// findExistingCallLocked scans runningAsync then readyAsync for
// another call with ac's host.
func (d *Dispatcher) findExistingCallLocked(ac *AsyncCall) *AsyncCall {
	host := ac.host()
	for _, other := range d.runningAsync {
		if other.host() == host {
			return other
		}
	}
	for _, other := range d.readyAsync {
		if other != ac && other.host() == host {
			return other
		}
	}
	return nil
}

// promoteAndExecute walks the ready queue in FIFO order, moving
// eligible calls into the running set. The global cap is a hard stop
// for the whole scan; a call whose destination is at its per-host cap
// is skipped so it cannot block promotion of calls to other hosts.
// Submission to the executor happens after the lock is released.
// Returns whether any calls are still running afterwards.
func (d *Dispatcher) promoteAndExecute() bool {
	var promoted []*AsyncCall

	d.mu.Lock()
	for i := 0; i < len(d.readyAsync); {
		if len(d.runningAsync) >= d.maxRequests {
			break
		}

		ac := d.readyAsync[i]
		if int(ac.callsPerHost.Load()) >= d.maxRequestsPerHost {
			i++
			continue
		}

		d.readyAsync = append(d.readyAsync[:i], d.readyAsync[i+1:]...)
		ac.callsPerHost.Add(1)
		promoted = append(promoted, ac)
		d.runningAsync = append(d.runningAsync, ac)
	}
	isRunning := len(d.runningAsync)+len(d.runningSync) > 0
	exec := d.executorLocked()
	d.mu.Unlock()

	for _, ac := range promoted {
		ac.executeOn(exec)
	}

	return isRunning
}

// executed records a synchronous call as running.
func (d *Dispatcher) executed(c *Call) {
	d.mu.Lock()
	d.runningSync = append(d.runningSync, c)
	d.mu.Unlock()
}

// finishedAsync retires an async call. The shared per-host counter is
// decremented before the call leaves the running set so a concurrent
// promotion pass never over-counts the destination.
func (d *Dispatcher) finishedAsync(ac *AsyncCall) {
	d.mu.Lock()
	ac.callsPerHost.Add(-1)
	removed := removeFirst(&d.runningAsync, ac)
	idle := d.idleCallback
	d.mu.Unlock()

	d.finish(removed, idle)
}

// finishedSync retires a synchronous call.
func (d *Dispatcher) finishedSync(c *Call) {
	d.mu.Lock()
	removed := removeFirst(&d.runningSync, c)
	idle := d.idleCallback
	d.mu.Unlock()

	d.finish(removed, idle)
}

func (d *Dispatcher) finish(removed bool, idle func()) {
	if !removed {
		panic("courier: finished call was not in flight")
	}

	isRunning := d.promoteAndExecute()
	if !isRunning && idle != nil {
		idle()
	}
}

// CancelAll propagates cancellation to every queued and running call.
// Calls are not removed from any queue; cancellation is observed and
// enforced by the network layer as each call reaches its next I/O
// checkpoint.
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	calls := make([]*Call, 0, len(d.readyAsync)+len(d.runningAsync)+len(d.runningSync))
	for _, ac := range d.readyAsync {
		calls = append(calls, ac.call)
	}
	for _, ac := range d.runningAsync {
		calls = append(calls, ac.call)
	}
	calls = append(calls, d.runningSync...)
	d.mu.Unlock()

	d.logger.Debug("canceling all calls", "count", len(calls))
	for _, c := range calls {
		c.Cancel()
	}
}

// QueuedCalls returns a snapshot of the calls awaiting admission.
func (d *Dispatcher) QueuedCalls() []*Call {
	d.mu.Lock()
	defer d.mu.Unlock()

	calls := make([]*Call, 0, len(d.readyAsync))
	for _, ac := range d.readyAsync {
		calls = append(calls, ac.call)
	}
	return calls
}

// RunningCalls returns a snapshot of the running calls, asynchronous
// and synchronous.
func (d *Dispatcher) RunningCalls() []*Call {
	d.mu.Lock()
	defer d.mu.Unlock()

	calls := make([]*Call, 0, len(d.runningAsync)+len(d.runningSync))
	for _, ac := range d.runningAsync {
		calls = append(calls, ac.call)
	}
	calls = append(calls, d.runningSync...)
	return calls
}

// QueuedCallsCount returns the number of calls awaiting admission.
func (d *Dispatcher) QueuedCallsCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.readyAsync)
}

// RunningCallsCount returns the total number of running calls.
func (d *Dispatcher) RunningCallsCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.runningAsync) + len(d.runningSync)
}

// removeFirst deletes the first occurrence of v from s, reporting
// whether it was present.
func removeFirst[T comparable](s *[]T, v T) bool {
	for i, cur := range *s {
		if cur == v {
			*s = append((*s)[:i], (*s)[i+1:]...)
			return true
		}
	}
	return false
}
