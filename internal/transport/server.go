// Package transport exposes a session over a WebSocket connection.
//
// Every frame is a JSON Message. Requests carry an id chosen by the client
// and are answered by a response with the same id; requests are handled
// concurrently, so responses may arrive out of order. Async session events
// are pushed as messages of type "event" whose op is the event kind.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/dshills/luahost/internal/events"
	"github.com/dshills/luahost/internal/logging"
	"github.com/dshills/luahost/internal/session"
)

// Defaults for a Server.
const (
	DefaultPath            = "/ws"
	DefaultReadLimit int64 = 1 << 20
	DefaultShutdown        = 5 * time.Second

	writeTimeout = 5 * time.Second
)

// Server serves one session to at most one WebSocket client at a time.
type Server struct {
	sess   *session.Session
	logger *slog.Logger

	path            string
	readLimit       int64
	shutdownTimeout time.Duration

	attached atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPath sets the WebSocket endpoint path.
func WithPath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.path = path
		}
	}
}

// WithReadLimit bounds the size of a client frame.
func WithReadLimit(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.readLimit = n
		}
	}
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer creates a server for sess.
func NewServer(sess *session.Session, opts ...Option) *Server {
	s := &Server{
		sess:            sess,
		logger:          logging.Discard(),
		path:            DefaultPath,
		readLimit:       DefaultReadLimit,
		shutdownTimeout: DefaultShutdown,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler serving the WebSocket endpoint and a
// health check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(StateResult{
			State: s.sess.State().String(),
			Busy:  s.sess.IsBusy(),
		})
	})
	return mux
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String(), "path", s.path)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// clientConn serializes writes to one WebSocket connection.
type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *clientConn) send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.attached.CompareAndSwap(false, true) {
		http.Error(w, ErrAttached.Error(), http.StatusConflict)
		return
	}
	defer s.attached.Store(false)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(s.readLimit)
	c := &clientConn{conn: conn}
	s.logger.Info("client attached", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	var requests sync.WaitGroup
	defer func() {
		cancel()
		requests.Wait()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Info("client detached", "remote", r.RemoteAddr)
	}()

	go s.pumpEvents(ctx, c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				s.logger.Debug("read failed", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = c.send(ctx, Message{
				Type:  TypeResponse,
				Error: &ErrPayload{Code: CodeBadRequest, Message: err.Error()},
			})
			continue
		}

		requests.Add(1)
		go func() {
			defer requests.Done()
			s.respond(ctx, c, msg)
		}()
	}
}

// pumpEvents forwards session events until ctx ends or the session closes.
func (s *Server) pumpEvents(ctx context.Context, c *clientConn) {
	for {
		ev, err := s.sess.NextAsyncEvent(ctx)
		if err != nil {
			if errors.Is(err, events.ErrChannelClosed) {
				_ = c.conn.Close(websocket.StatusGoingAway, "session closed")
			}
			return
		}
		msg := Message{
			ID:      uuid.NewString(),
			Type:    TypeEvent,
			Op:      string(ev.Kind),
			Payload: mustRaw(ev),
		}
		if err := c.send(ctx, msg); err != nil {
			s.logger.Debug("event write failed", "kind", string(ev.Kind), "error", err)
			return
		}
	}
}

func (s *Server) respond(ctx context.Context, c *clientConn, req Message) {
	resp := Message{ID: req.ID, Type: TypeResponse, Op: req.Op}

	result, err := s.dispatch(ctx, req)
	if err != nil {
		resp.Error = errPayload(err)
		s.logger.Debug("request failed", "op", req.Op, "id", req.ID, "error", err)
	} else {
		resp.Payload = mustRaw(result)
	}

	if err := c.send(ctx, resp); err != nil {
		s.logger.Debug("response write failed", "op", req.Op, "id", req.ID, "error", err)
	}
}
