package session

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/luahost/internal/config"
	"github.com/dshills/luahost/internal/debugger"
	"github.com/dshills/luahost/internal/events"
	"github.com/dshills/luahost/internal/interp"
	"github.com/dshills/luahost/internal/logging"
	"github.com/dshills/luahost/internal/scheduler"
	"github.com/dshills/luahost/internal/sourcewatch"
)

// closeTimeout bounds how long Close waits for the interpreter to unwind.
const closeTimeout = 5 * time.Second

// Options configures a Session.
type Options struct {
	// Logger is the parent logger. Nil discards logs.
	Logger *slog.Logger

	// EventCapacity bounds queued output events.
	EventCapacity int

	// PollInterval bounds gateway caller waits.
	PollInterval time.Duration

	// CallStackSize is the Lua call stack size.
	CallStackSize int

	// Sandbox removes file and code loading from the script globals.
	Sandbox bool

	// GeneratedSources are glob patterns for generated chunks.
	GeneratedSources []string

	// BreakpointsFile persists breakpoints when set.
	BreakpointsFile string

	// Watch enables source-changed events for files run with RunFile.
	Watch bool

	// WatchDebounce coalesces rapid file changes.
	WatchDebounce time.Duration
}

// DefaultOptions returns options matching the built-in configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig builds session options from the resolved configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		EventCapacity:    cfg.Events.Capacity,
		PollInterval:     cfg.Scheduler.PollInterval.Std(),
		CallStackSize:    cfg.Interpreter.CallStackSize,
		Sandbox:          cfg.Interpreter.Sandbox,
		GeneratedSources: cfg.Debugger.GeneratedSources,
		BreakpointsFile:  cfg.Debugger.BreakpointsFile,
		Watch:            cfg.Watch.Enabled,
		WatchDebounce:    cfg.Watch.Debounce.Std(),
	}
}

// Session is one interpreter with its debugger and client event stream.
type Session struct {
	ID string

	logger *slog.Logger
	opts   Options

	loop     *scheduler.EventLoop
	gateway  *scheduler.Gateway
	state    *scheduler.StateRegister
	registry *debugger.Registry
	engine   *debugger.Engine
	events   *events.Channel
	watcher  *sourcewatch.Watcher

	// loop goroutine only
	rt       *interp.Runtime
	reads    []*lineRequest
	children []*childProcess
	deferred []interp.Callback
	quiet    int
	chunkSeq int

	bgMu     sync.Mutex
	bgCancel context.CancelFunc

	timerMu sync.Mutex
	timers  map[*time.Timer]struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	loopDone  chan struct{}
}

// New creates a session and starts its interpreter goroutine.
func New(opts Options) (*Session, error) {
	s := &Session{
		ID:       uuid.NewString(),
		opts:     opts,
		timers:   make(map[*time.Timer]struct{}),
		loopDone: make(chan struct{}),
	}
	s.logger = logging.Component(opts.Logger, "session").With("session", s.ID)

	if err := s.bootstrap(); err != nil {
		return nil, err
	}

	go s.runLoop()
	s.logger.Info("session started", "sandbox", opts.Sandbox, "watch", s.watcher != nil)
	return s, nil
}

// bootstrap creates the components in dependency order.
func (s *Session) bootstrap() error {
	parent := s.opts.Logger

	s.events = events.NewChannel(s.opts.EventCapacity)
	s.loop = scheduler.NewEventLoop(scheduler.WithLoopLogger(logging.Component(parent, "loop")))
	s.state = scheduler.NewStateRegister(s.stateChanged)
	s.gateway = scheduler.NewGateway(s.loop,
		scheduler.WithPollInterval(s.opts.PollInterval),
		scheduler.WithGatewayLogger(logging.Component(parent, "gateway")),
		scheduler.WithTransitionObserver(s.callTransition),
		scheduler.WithInterruptHook(s.unblockRunning),
	)

	s.registry = debugger.NewRegistry()
	if s.opts.BreakpointsFile != "" {
		s.registry.SetPersistPath(s.opts.BreakpointsFile)
		if err := s.registry.Load(); err != nil {
			return &InitError{Component: "breakpoints", Err: err}
		}
	}

	s.rt = interp.New(&host{s: s},
		interp.WithCallStackSize(s.opts.CallStackSize),
		interp.WithSandbox(s.opts.Sandbox),
		interp.WithLogger(logging.Component(parent, "interp")),
	)

	s.engine = debugger.NewEngine(s.loop, s.state, s.registry, &listener{s: s},
		debugger.WithEngineLogger(logging.Component(parent, "debugger")),
		debugger.WithGeneratedSources(s.opts.GeneratedSources...),
		debugger.WithGeneratedFunc(func(pos debugger.Position) bool {
			return s.rt.IsSynthetic(pos.File)
		}),
	)

	if s.opts.Watch {
		w, err := sourcewatch.New(s.sourceChanged,
			sourcewatch.WithDebounce(s.opts.WatchDebounce),
			sourcewatch.WithLogger(logging.Component(parent, "sourcewatch")),
		)
		if err != nil {
			s.rt.Close()
			return &InitError{Component: "source watcher", Err: err}
		}
		s.watcher = w
	}
	return nil
}

// runLoop owns the interpreter. The goroutine stays on one OS thread for
// the lifetime of the session.
func (s *Session) runLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.loopDone)

	for {
		if _, err := s.loop.Run(); err != nil {
			if !errors.Is(err, scheduler.ErrLoopClosed) {
				s.logger.Error("event loop stopped", "error", err)
			}
			return
		}
	}
}

// stateChanged emits busy and prompt events and releases timer callbacks
// deferred while the interpreter was occupied.
func (s *Session) stateChanged(old, new scheduler.ExecutionState) {
	s.logger.Debug("state changed", "from", old.String(), "to", new.String())
	switch new {
	case scheduler.StateBusy:
		s.events.Emit(events.Busy())
	case scheduler.StatePrompt:
		s.events.Emit(events.Prompt())
		if len(s.deferred) > 0 {
			_ = s.loop.Submit(scheduler.Task{Immediate: true, Fn: s.drainDeferred})
		}
	}
}

func (s *Session) callTransition(callID string, from, to scheduler.CallState) {
	s.logger.Debug("gateway call", "call", callID, "from", from.String(), "to", to.String())
}

func (s *Session) sourceChanged(file string, op sourcewatch.Op) {
	s.events.Emit(events.NewSourceChanged(file, op.String()))
}

// State returns the current execution state.
func (s *Session) State() scheduler.ExecutionState {
	return s.state.Get()
}

// IsBusy reports whether the interpreter is doing anything but waiting at
// the prompt.
func (s *Session) IsBusy() bool {
	return !s.state.Is(scheduler.StatePrompt)
}

// NextAsyncEvent blocks until an event is available.
func (s *Session) NextAsyncEvent(ctx context.Context) (events.Event, error) {
	return s.events.Next(ctx)
}

// Events returns the session's event channel.
func (s *Session) Events() *events.Channel {
	return s.events
}

// Close stops the session. A running script is interrupted, the loop is
// closed and a termination event is emitted.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.logger.Info("closing session", "state", s.state.Get().String())

		s.stopTimers()
		s.Interrupt()
		if s.watcher != nil {
			if werr := s.watcher.Close(); werr != nil {
				s.logger.Warn("closing source watcher", "error", werr)
			}
		}
		s.loop.Close()

		select {
		case <-s.loopDone:
			err = s.rt.Close()
		case <-time.After(closeTimeout):
			s.logger.Error("interpreter did not stop", "timeout", closeTimeout)
			err = context.DeadlineExceeded
		}

		s.events.Emit(events.NewTermination("session closed"))
		s.events.Close()
	})
	return err
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}
