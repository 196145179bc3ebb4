package courier

import (
	"errors"
	"sync/atomic"
	"time"
)

// Executor accepts units of work submitted by the Dispatcher. It may
// reject work once shut down; rejection is reported as
// [ErrPoolShutdown] so callers can distinguish it from task failure.
type Executor interface {
	Execute(task func()) error
}

// ErrPoolShutdown is returned by [Pool.Execute] after [Pool.Shutdown].
var ErrPoolShutdown = errors.New("worker pool shut down")

// defaultIdleTimeout is how long a pool worker waits for another task
// before exiting.
const defaultIdleTimeout = 60 * time.Second

// Pool is an unbounded, lazily grown worker pool. Tasks are handed to
// an idle worker through a zero-capacity channel; when no worker is
// ready to receive, a new one is started. Workers that sit idle past
// the idle timeout exit.
type Pool struct {
	idleTimeout time.Duration

	tasks chan func()
	quit  chan struct{}

	closed  atomic.Bool
	workers atomic.Int32
}

// NewPool creates a Pool. An idleTimeout <= 0 falls back to the
// 60-second default.
func NewPool(idleTimeout time.Duration) *Pool {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &Pool{
		idleTimeout: idleTimeout,
		tasks:       make(chan func()),
		quit:        make(chan struct{}),
	}
}

// Execute runs task on a pool worker, starting one if none is idle.
// It never blocks. After Shutdown it returns ErrPoolShutdown.
func (p *Pool) Execute(task func()) error {
	if task == nil {
		return errors.New("task must not be nil")
	}
	if p.closed.Load() {
		return ErrPoolShutdown
	}

	select {
	case p.tasks <- task:
		return nil
	default:
	}

	p.workers.Add(1)
	go p.worker(task)

	return nil
}

// Shutdown stops the pool from accepting new work and releases idle
// workers. Tasks already handed off keep running.
func (p *Pool) Shutdown() {
	if !p.closed.Swap(true) {
		close(p.quit)
	}
}

// Workers returns the number of live workers, idle ones included.
func (p *Pool) Workers() int {
	return int(p.workers.Load())
}

func (p *Pool) worker(task func()) {
	defer p.workers.Add(-1)

	for {
		task()

		timer := time.NewTimer(p.idleTimeout)
		select {
		case task = <-p.tasks:
			timer.Stop()
		case <-p.quit:
			timer.Stop()
			return
		case <-timer.C:
			return
		}
	}
}
