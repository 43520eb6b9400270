package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrHandshakeTimeout is reported when the server does not complete the
// websocket handshake within the configured deadline. It counts as an
// abnormal closure, so the reconnection path applies.
var ErrHandshakeTimeout = errors.New("handshake timed out")

// State is the lifecycle of a single session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type EventKind int

const (
	KindState EventKind = iota
	KindFrame
)

// Event is a session notification. Emission is fire-and-forget: a lagging
// consumer loses events rather than blocking the pumps. Closure is not an
// Event; it is signalled through Done so it cannot be lost.
type Event struct {
	Kind  EventKind
	State State
	Frame Frame
}

type Config struct {
	URL               string // websocket endpoint, without the token parameter
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
}

// Session owns one physical connection to the chat server. It is one-shot:
// a reconnect means a fresh Session, never a resumed one.
type Session struct {
	cfg    Config
	token  string
	logger *slog.Logger

	conn   *websocket.Conn
	send   chan []byte
	events chan Event
	done   chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu       sync.Mutex
	state    State
	closeErr error
	abnormal bool
}

func NewSession(cfg Config, token string, logger *slog.Logger) *Session {
	return &Session{
		cfg:    cfg,
		token:  token,
		logger: logger.With(slog.String("component", "transport_session")),
		send:   make(chan []byte, 256), // Buffered channel
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
}

// Open starts the connection attempt. It fails fast when no credential is
// present; all later outcomes arrive as events or through Done.
func (s *Session) Open(ctx context.Context) error {
	if s.token == "" {
		return errors.New("cannot open session without a credential")
	}
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.setState(StateConnecting)

	go s.dial()
	return nil
}

func (s *Session) dial() {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		s.close(err, true)
		return
	}
	q := u.Query()
	q.Set("token", s.token)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, u.String(), nil)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			err = ErrHandshakeTimeout
		}
		s.close(err, true)
		return
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Closed while the dial was in flight.
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	s.emit(Event{Kind: KindState, State: StateOpen})
	go s.readPump()
	go s.writePump()
	s.logger.Info("session established")
}

// readPump pumps frames from the websocket into the event stream.
func (s *Session) readPump() {
	var readErr error
	defer func() {
		s.close(readErr, true)
	}()

	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			readErr = err
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			// Malformed input never kills the session.
			s.logger.Warn("Dropping malformed frame", slog.Any("error", err))
			continue
		}
		s.emit(Event{Kind: KindFrame, Frame: frame})
	}
}

// writePump pumps queued payloads to the websocket and emits the heartbeat.
func (s *Session) writePump() {
	var writeErr error
	defer func() {
		s.close(writeErr, true)
	}()

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case payload := <-s.send:
			if err := s.conn.Write(s.ctx, websocket.MessageText, payload); err != nil {
				writeErr = err
				return
			}
		case <-heartbeat.C:
			ping, err := EncodePing()
			if err != nil {
				writeErr = err
				return
			}
			if err := s.conn.Write(s.ctx, websocket.MessageText, ping); err != nil {
				writeErr = err
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Send queues a payload for delivery. It is safe for concurrent use.
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return errors.New("session was never opened")
	}
	select {
	case s.send <- payload:
		return nil
	case <-ctx.Done():
		return errors.New("session is closed")
	}
}

// Close shuts the session down deliberately. An explicit close is terminal:
// the reconnection controller must not re-establish after it.
func (s *Session) Close() {
	s.close(nil, false)
}

func (s *Session) close(err error, abnormal bool) {
	s.closeOnce.Do(func() {
		// A peer-initiated normal closure is not grounds for reconnection.
		if abnormal && websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			abnormal = false
		}

		s.mu.Lock()
		s.closeErr = err
		s.abnormal = abnormal
		s.state = StateClosed
		conn := s.conn
		cancel := s.cancel
		s.mu.Unlock()

		s.logger.Info("session closing",
			slog.Any("reason", err),
			slog.Bool("abnormal", abnormal),
		)
		if cancel != nil {
			cancel() // Signal pumps and any in-flight dial to stop.
		}
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "")
		}
		close(s.done)
	})
}

// Events returns the session's notification stream.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed once the session is fully terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// CloseReason reports why the session ended and whether the closure was
// abnormal (reconnect-eligible). Valid once Done is closed.
func (s *Session) CloseReason() (error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr, s.abnormal
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.emit(Event{Kind: KindState, State: st})
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("Event dropped, consumer not keeping up", slog.Int("kind", int(ev.Kind)))
	}
}
