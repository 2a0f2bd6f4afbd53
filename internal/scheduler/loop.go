package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Task is a closure executed on the loop goroutine.
type Task struct {
	// Fn is the work to run. It may call Run again to nest the loop.
	Fn func()

	// Immediate places the task in the priority lane.
	Immediate bool
}

// Token identifies one invocation of Run. Resolving a token with Resume makes
// exactly that invocation return, after any runs nested inside it unwind.
//
// Tokens are owned by the loop goroutine and must only be touched from tasks.
type Token struct {
	resolved bool
	value    any
	active   bool
}

// Resolved reports whether the token has been resumed.
func (t *Token) Resolved() bool {
	return t.resolved
}

// RunOption configures a single invocation of Run.
type RunOption func(*runFrame)

// WithSuppressOutput marks the run as output-suppressing. Console writers
// consult OutputSuppressed while the run is the innermost one.
func WithSuppressOutput() RunOption {
	return func(f *runFrame) {
		f.suppressOutput = true
	}
}

type runFrame struct {
	tok            *Token
	suppressOutput bool
}

// EventLoop serializes all interpreter work on one goroutine.
//
// Submit, Do and Close are safe to call from any goroutine. Run, RunToken,
// Break, Resume, Depth and OutputSuppressed belong to the loop goroutine and
// must only be called from within tasks (or by the goroutine that owns the
// outermost Run).
type EventLoop struct {
	mu        sync.Mutex
	normal    []Task
	immediate []Task
	closed    bool

	wake chan struct{}
	done chan struct{}

	closeOnce sync.Once

	// loop goroutine only
	stack []*runFrame

	logger *slog.Logger

	submitted atomic.Uint64
	processed atomic.Uint64
	panicked  atomic.Uint64
}

// LoopOption configures an EventLoop.
type LoopOption func(*EventLoop)

// WithLoopLogger sets the logger used for task failures.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *EventLoop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewEventLoop creates an idle event loop.
func NewEventLoop(opts ...LoopOption) *EventLoop {
	l := &EventLoop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submit enqueues a task and wakes the loop.
func (l *EventLoop) Submit(task Task) error {
	if task.Fn == nil {
		return nil
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	if task.Immediate {
		l.immediate = append(l.immediate, task)
	} else {
		l.normal = append(l.normal, task)
	}
	l.mu.Unlock()

	l.submitted.Add(1)

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// SubmitFunc enqueues fn on the normal lane.
func (l *EventLoop) SubmitFunc(fn func()) error {
	return l.Submit(Task{Fn: fn})
}

// NewToken returns a fresh resumption token.
func (l *EventLoop) NewToken() *Token {
	return &Token{}
}

// Run processes tasks until Break resolves this invocation and returns the
// value passed to Break.
func (l *EventLoop) Run(opts ...RunOption) (any, error) {
	return l.RunToken(l.NewToken(), opts...)
}

// RunToken processes tasks until tok is resolved. If tok was already resolved
// before the call, RunToken returns immediately.
func (l *EventLoop) RunToken(tok *Token, opts ...RunOption) (any, error) {
	if tok.active {
		return nil, ErrTokenInUse
	}

	frame := &runFrame{tok: tok}
	for _, opt := range opts {
		opt(frame)
	}

	tok.active = true
	l.stack = append(l.stack, frame)
	defer func() {
		l.stack = l.stack[:len(l.stack)-1]
		tok.active = false
	}()

	for !tok.resolved {
		task, ok := l.next()
		if !ok {
			return nil, ErrLoopClosed
		}
		l.execute(task)
	}
	return tok.value, nil
}

// Break resolves the innermost active run with value. It reports false when
// no run is active or the innermost run is already resolved.
func (l *EventLoop) Break(value any) bool {
	if len(l.stack) == 0 {
		return false
	}
	return l.Resume(l.stack[len(l.stack)-1].tok, value)
}

// Resume resolves tok with value. The run bound to tok returns once every run
// nested inside it has returned.
func (l *EventLoop) Resume(tok *Token, value any) bool {
	if tok == nil || tok.resolved {
		return false
	}
	tok.resolved = true
	tok.value = value
	return true
}

// Depth returns the number of active runs.
func (l *EventLoop) Depth() int {
	return len(l.stack)
}

// OutputSuppressed reports whether the innermost run suppresses output.
func (l *EventLoop) OutputSuppressed() bool {
	if len(l.stack) == 0 {
		return false
	}
	return l.stack[len(l.stack)-1].suppressOutput
}

// Do runs fn on the loop and waits for its result. If ctx is cancelled before
// the task starts, the task is skipped; once started it runs to completion.
// Do must not be called from the loop goroutine.
func (l *EventLoop) Do(ctx context.Context, fn func() error) error {
	const (
		pending int32 = iota
		started
		abandoned
	)
	var state atomic.Int32
	result := make(chan error, 1)

	err := l.Submit(Task{Fn: func() {
		if !state.CompareAndSwap(pending, started) {
			return
		}
		result <- l.protect(fn)
	}})
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		if state.CompareAndSwap(pending, abandoned) {
			return ctx.Err()
		}
		return <-result
	case <-l.done:
		if state.CompareAndSwap(pending, abandoned) {
			return ErrLoopClosed
		}
		return <-result
	}
}

// Pending returns the number of queued tasks.
func (l *EventLoop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.normal) + len(l.immediate)
}

// Stats returns submitted, processed and panicked task counts.
func (l *EventLoop) Stats() (submitted, processed, panicked uint64) {
	return l.submitted.Load(), l.processed.Load(), l.panicked.Load()
}

// Done returns a channel closed when the loop is closed.
func (l *EventLoop) Done() <-chan struct{} {
	return l.done
}

// Close stops the loop. Active runs return ErrLoopClosed and queued tasks are
// discarded.
func (l *EventLoop) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.normal = nil
		l.immediate = nil
		l.mu.Unlock()
		close(l.done)
	})
}

// IsClosed reports whether Close has been called.
func (l *EventLoop) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// next blocks until a task is available or the loop is closed.
func (l *EventLoop) next() (Task, bool) {
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return Task{}, false
		}
		if len(l.immediate) > 0 {
			task := l.immediate[0]
			l.immediate[0] = Task{}
			l.immediate = l.immediate[1:]
			l.mu.Unlock()
			return task, true
		}
		if len(l.normal) > 0 {
			task := l.normal[0]
			l.normal[0] = Task{}
			l.normal = l.normal[1:]
			l.mu.Unlock()
			return task, true
		}
		l.mu.Unlock()

		select {
		case <-l.wake:
		case <-l.done:
		}
	}
}

// execute runs a task, recovering panics so the loop survives.
func (l *EventLoop) execute(task Task) {
	l.processed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			l.panicked.Add(1)
			l.logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task.Fn()
}

// protect converts a panic in fn into an error.
func (l *EventLoop) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.panicked.Add(1)
			l.logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return fn()
}
