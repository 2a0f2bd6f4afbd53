package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultPollInterval bounds how long a waiting caller sleeps between checks.
const DefaultPollInterval = 10 * time.Millisecond

// CallState is the lifecycle state of a gateway call.
type CallState int32

const (
	// CallPending means the call is queued on the loop.
	CallPending CallState = iota
	// CallRunning means the closure is executing on the loop goroutine.
	CallRunning
	// CallInterrupting means cancellation was requested while running.
	CallInterrupting
	// CallInterrupted means the closure returned after an interrupt request.
	CallInterrupted
	// CallDone is the terminal state.
	CallDone
)

// String returns a string representation of the call state.
func (s CallState) String() string {
	switch s {
	case CallPending:
		return "pending"
	case CallRunning:
		return "running"
	case CallInterrupting:
		return "interrupting"
	case CallInterrupted:
		return "interrupted"
	case CallDone:
		return "done"
	default:
		return "unknown"
	}
}

// CallFunc is the closure executed by a gateway call. ctx is cancelled when
// an interrupt is requested; the interpreter observes it cooperatively.
type CallFunc func(ctx context.Context) (any, error)

// TransitionObserver is notified of every call state transition. It runs on
// whichever goroutine performed the transition and must not block.
type TransitionObserver func(callID string, from, to CallState)

// Call is one cross-goroutine request. It lives for the duration of one
// Gateway.Call.
type Call struct {
	ID string

	state   atomic.Int32
	changed chan struct{}
	cancel  context.CancelFunc
	gw      *Gateway

	mu     sync.Mutex
	result any
	err    error
}

// State returns the current call state.
func (c *Call) State() CallState {
	return CallState(c.state.Load())
}

func (c *Call) transition(from, to CallState) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if obs := c.gw.observer; obs != nil {
		obs(c.ID, from, to)
	}
	select {
	case c.changed <- struct{}{}:
	default:
	}
	return true
}

func (c *Call) setOutcome(result any, err error) {
	c.mu.Lock()
	c.result, c.err = result, err
	c.mu.Unlock()
}

func (c *Call) outcome() (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}

// Gateway lets any goroutine run a closure on the event loop and wait for it.
type Gateway struct {
	loop         *EventLoop
	pollInterval time.Duration
	logger       *slog.Logger
	observer     TransitionObserver
	onInterrupt  func()

	running atomic.Pointer[Call]
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithPollInterval sets the caller wake-up interval.
func WithPollInterval(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.pollInterval = d
		}
	}
}

// WithGatewayLogger sets the logger for closure failures.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithTransitionObserver registers an observer for call state transitions.
func WithTransitionObserver(obs TransitionObserver) GatewayOption {
	return func(g *Gateway) {
		g.observer = obs
	}
}

// WithInterruptHook registers fn to run whenever a running call is
// interrupted, in addition to cancelling the call's context.
func WithInterruptHook(fn func()) GatewayOption {
	return func(g *Gateway) {
		g.onInterrupt = fn
	}
}

// NewGateway creates a gateway dispatching onto loop.
func NewGateway(loop *EventLoop, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		loop:         loop,
		pollInterval: DefaultPollInterval,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Call runs fn on the loop goroutine and blocks until it completes.
//
// Cancelling ctx while the call is pending removes it without running it
// (ErrCanceled). Cancelling ctx while it runs requests a cooperative
// interrupt; Call still waits for the closure to acknowledge and returns
// whatever the closure returned.
func (g *Gateway) Call(ctx context.Context, fn CallFunc) (any, error) {
	c := &Call{
		ID:      uuid.NewString(),
		changed: make(chan struct{}, 1),
		gw:      g,
	}
	callCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	defer cancel()

	if err := g.loop.Submit(Task{Fn: func() { g.execute(callCtx, c, fn) }}); err != nil {
		c.transition(CallPending, CallDone)
		return nil, err
	}
	return g.wait(ctx, c)
}

// Running returns the call currently executing, or nil.
func (g *Gateway) Running() *Call {
	return g.running.Load()
}

// InterruptRunning requests cooperative cancellation of the running call.
// It reports whether an interrupt was issued.
func (g *Gateway) InterruptRunning() bool {
	c := g.running.Load()
	if c == nil {
		return false
	}
	return g.interrupt(c)
}

func (g *Gateway) interrupt(c *Call) bool {
	if !c.transition(CallRunning, CallInterrupting) {
		return false
	}
	c.cancel()
	if g.onInterrupt != nil {
		g.onInterrupt()
	}
	return true
}

// execute is the wrapper task run on the loop goroutine.
func (g *Gateway) execute(ctx context.Context, c *Call, fn CallFunc) {
	if !g.running.CompareAndSwap(nil, c) {
		if c.State() == CallPending {
			c.setOutcome(nil, ErrCallInProgress)
			c.transition(CallPending, CallDone)
		}
		return
	}
	defer g.running.CompareAndSwap(c, nil)

	if !c.transition(CallPending, CallRunning) {
		return
	}

	result, err := g.invoke(ctx, c, fn)
	c.setOutcome(result, err)

	if c.transition(CallRunning, CallDone) {
		return
	}
	c.transition(CallInterrupting, CallInterrupted)
}

// invoke runs fn, converting panics into ErrClosureFailed.
func (g *Gateway) invoke(ctx context.Context, c *Call, fn CallFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("gateway closure panicked",
				"call", c.ID,
				"panic", r,
				"stack", string(debug.Stack()))
			result = nil
			err = fmt.Errorf("%w: %v", ErrClosureFailed, r)
		}
	}()
	return fn(ctx)
}

// wait blocks the calling goroutine until the call reaches CallDone.
func (g *Gateway) wait(ctx context.Context, c *Call) (any, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	cancelled := ctx.Done()
	closed := g.loop.Done()
	for {
		switch c.State() {
		case CallDone:
			return c.outcome()
		case CallInterrupted:
			c.transition(CallInterrupted, CallDone)
			return c.outcome()
		}

		select {
		case <-c.changed:
		case <-ticker.C:
		case <-cancelled:
			cancelled = nil
			if c.transition(CallPending, CallDone) {
				return nil, ErrCanceled
			}
			g.interrupt(c)
		case <-closed:
			closed = nil
			if c.transition(CallPending, CallDone) {
				return nil, ErrLoopClosed
			}
		}
	}
}
