// Package client wires the transport session, room membership, outbound
// queue, message store and history poller into one explicitly owned core
// object. All shared state is mutated from a single event loop: session
// events, caller commands and timer ticks are serialized onto one goroutine,
// so reconciliation never races with membership bookkeeping.
package client

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/a-essam23/go-chatsync/internal/history"
	"github.com/a-essam23/go-chatsync/internal/membership"
	"github.com/a-essam23/go-chatsync/internal/store"
	"github.com/a-essam23/go-chatsync/pkg/config"
	"github.com/a-essam23/go-chatsync/pkg/transport"
)

// session is the slice of transport.Session the core drives. Tests swap in
// a scripted implementation.
type session interface {
	Open(ctx context.Context) error
	Send(payload []byte) error
	Close()
	Events() <-chan transport.Event
	Done() <-chan struct{}
	CloseReason() (error, bool)
}

type cmdKind int

const (
	cmdJoin cmdKind = iota
	cmdLeave
	cmdSend
	cmdSetCredential
	cmdMergeHistory
	cmdPollDone
)

type command struct {
	kind    cmdKind
	roomID  string
	content string
	cred    *Credential
	fetched []store.Message
}

type Core struct {
	cfg    *config.Config
	logger *slog.Logger

	store   *store.Store
	tracker *membership.Tracker
	queue   *membership.Queue
	history *history.Client

	newSession func(token string) session

	cmds    chan command
	states  chan transport.State
	updates chan store.Message

	mu      sync.RWMutex
	state   transport.State
	lastErr error
	cred    *Credential

	// loop-owned state, never touched outside run()
	sess       session
	rejoin     []string
	reopen     bool
	polling    bool
	reconnect  *time.Timer
	reconnectC <-chan time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New assembles a core from configuration. The durable cache is opened
// immediately; the connection is not established until a credential is set.
func New(cfg *config.Config, logger *slog.Logger) (*Core, error) {
	cache, err := store.OpenCache(cfg.Cache.Path)
	if err != nil {
		return nil, err
	}

	c := &Core{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "sync_core")),
		store:   store.New(cfg.Sync.FingerprintWindow, cache, logger),
		tracker: membership.NewTracker(logger),
		queue:   membership.NewQueue(),
		history: history.NewClient(cfg.Server.BaseURL(), logger),
		cmds:    make(chan command, 64),
		states:  make(chan transport.State, 8),
		updates: make(chan store.Message, 64),
		state:   transport.StateIdle,
		done:    make(chan struct{}),
	}
	c.newSession = func(token string) session {
		return transport.NewSession(transport.Config{
			URL:               cfg.Server.SocketURL(),
			HandshakeTimeout:  cfg.Transport.HandshakeTimeout,
			HeartbeatInterval: cfg.Transport.HeartbeatInterval,
		}, token, logger)
	}
	return c, nil
}

// Start launches the event loop. The core stays Idle until SetCredential
// provides a bearer token.
func (c *Core) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.run()
}

// SetCredential installs, replaces or revokes the session credential. A new
// credential forces a reconnect; nil tears the connection down for good.
func (c *Core) SetCredential(cred *Credential) error {
	c.mu.Lock()
	c.cred = cred
	c.mu.Unlock()
	return c.post(command{kind: cmdSetCredential, cred: cred})
}

// Join requests membership of a room. Joining a room that is already
// tracked is a no-op.
func (c *Core) Join(roomID string) error {
	return c.post(command{kind: cmdJoin, roomID: roomID})
}

// Leave abandons a room. Queued sends for it are dropped: they could only
// ever be delivered behind a join that is no longer wanted.
func (c *Core) Leave(roomID string) error {
	return c.post(command{kind: cmdLeave, roomID: roomID})
}

// Send delivers content to a room, joining it first if necessary. The
// message appears optimistically in the room's view right away; delivery
// waits for the join handshake when one is still in flight.
func (c *Core) Send(roomID, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if c.credential() == nil {
		return ErrNoCredential
	}
	return c.post(command{kind: cmdSend, roomID: roomID, content: content})
}

// Messages returns the room's current merged view, oldest first.
func (c *Core) Messages(roomID string) []store.Message {
	return c.store.Messages(roomID)
}

// State returns the current connection state.
func (c *Core) State() transport.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError returns the most recent connection error, if any.
func (c *Core) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// States is the connection-state signal for display purposes.
func (c *Core) States() <-chan transport.State {
	return c.states
}

// Updates emits every confirmed message as it lands in the store.
func (c *Core) Updates() <-chan store.Message {
	return c.updates
}

// Close tears the core down: the session is closed explicitly and every
// outstanding timer is cancelled.
func (c *Core) Close() {
	c.closeOnce.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()
		<-c.done
	})
}

func (c *Core) post(cmd command) error {
	if c.ctx == nil {
		return ErrClosed
	}
	select {
	case c.cmds <- cmd:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *Core) credential() *Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred
}

func (c *Core) run() {
	defer close(c.done)

	poll := time.NewTicker(c.cfg.Sync.PollInterval)
	defer poll.Stop()
	defer c.stopReconnectTimer()
	defer func() {
		if c.sess != nil {
			c.sess.Close()
		}
	}()

	for {
		var events <-chan transport.Event
		var sessDone <-chan struct{}
		if c.sess != nil {
			events = c.sess.Events()
			sessDone = c.sess.Done()
		}

		select {
		case <-c.ctx.Done():
			return
		case cmd := <-c.cmds:
			c.handleCommand(cmd)
		case ev := <-events:
			c.handleEvent(ev)
		case <-sessDone:
			c.handleClosed()
		case <-c.reconnectC:
			c.reconnectC = nil
			c.reconnect = nil
			c.openSession()
		case <-poll.C:
			c.startPoll()
		}
	}
}

func (c *Core) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdJoin:
		c.handleJoin(cmd.roomID)
	case cmdLeave:
		c.handleLeave(cmd.roomID)
	case cmdSend:
		c.handleSend(cmd.roomID, cmd.content)
	case cmdSetCredential:
		c.handleCredential(cmd.cred)
	case cmdMergeHistory:
		if err := c.store.MergeHistory(cmd.roomID, cmd.fetched); err != nil {
			c.logger.Warn("History merge failed", "roomID", cmd.roomID, slog.Any("error", err))
		}
	case cmdPollDone:
		c.polling = false
	}
}

func (c *Core) handleJoin(roomID string) {
	if err := c.store.WarmStart(roomID); err != nil {
		c.logger.Warn("Cache warm-start failed", "roomID", roomID, slog.Any("error", err))
	}
	if !c.tracker.Track(roomID) {
		// Already Pending or Joined; re-sending the join would be noise.
		return
	}
	if c.sessionOpen() {
		c.sendJoin(roomID)
	}
}

func (c *Core) handleLeave(roomID string) {
	c.tracker.Untrack(roomID)
	if n := c.queue.Drop(roomID); n > 0 {
		c.logger.Debug("Dropped queued sends on leave", "roomID", roomID, "count", n)
	}
	if n := c.store.DropOptimistic(roomID); n > 0 {
		c.logger.Debug("Dropped optimistic entries on leave", "roomID", roomID, "count", n)
	}
}

func (c *Core) handleSend(roomID, content string) {
	cred := c.credential()
	if cred == nil {
		return
	}
	msg := c.store.AddOptimistic(roomID, cred.UserID, content)
	c.logger.Debug("Optimistic message added", "roomID", roomID, "id", msg.ID)

	if c.sessionOpen() && c.tracker.Joined(roomID) {
		c.sendMessage(roomID, content)
		return
	}

	c.queue.Push(roomID, content)
	if !c.tracker.Tracked(roomID) {
		// A send implies a join.
		c.handleJoin(roomID)
	}
}

func (c *Core) handleCredential(cred *Credential) {
	if cred == nil {
		c.logger.Info("Credential revoked, tearing down")
		c.reopen = false
		c.stopReconnectTimer()
		if c.sess != nil {
			c.sess.Close()
			return // terminal state published when Done fires
		}
		c.setState(transport.StateClosed, nil)
		return
	}

	if c.sess != nil {
		// Fresh credential: cycle the connection underneath it.
		c.reopen = true
		c.sess.Close()
		return
	}
	c.stopReconnectTimer()
	c.openSession()
}

func (c *Core) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.KindState:
		c.setState(ev.State, nil)
		if ev.State == transport.StateOpen {
			c.afterOpen()
		}
	case transport.KindFrame:
		c.handleFrame(ev.Frame)
	}
}

// afterOpen re-drives membership on a fresh session: every room that was
// Joined or Pending when the previous connection died, plus any room
// requested while offline, gets a brand new join handshake.
func (c *Core) afterOpen() {
	for _, roomID := range c.rejoin {
		c.tracker.Track(roomID)
	}
	c.rejoin = nil
	for _, roomID := range c.tracker.Rooms() {
		c.sendJoin(roomID)
	}
}

func (c *Core) handleFrame(frame transport.Frame) {
	switch frame.Type {
	case transport.FrameJoinedChat:
		if !c.tracker.Ack(frame.ChatID) {
			return // stale ack for a room left mid-join
		}
		for _, cmd := range c.queue.Drain(frame.ChatID) {
			c.sendMessage(cmd.RoomID, cmd.Content)
		}
	case transport.FrameNewMessage:
		msg := store.Message{
			ID:         frame.MessageID,
			RoomID:     frame.ChatID,
			SenderID:   frame.SenderID,
			Content:    frame.Content,
			InsertedAt: frame.InsertedAt,
			Origin:     store.OriginConfirmed,
		}
		c.store.ApplyConfirmed(msg)
		select {
		case c.updates <- msg:
		default:
		}
	default:
		c.logger.Debug("Ignoring unhandled frame", "type", frame.Type)
	}
}

func (c *Core) handleClosed() {
	err, abnormal := c.sess.CloseReason()
	c.sess = nil
	c.setState(transport.StateClosed, err)

	// Server-side membership died with the connection.
	c.rejoin = append(c.rejoin, c.tracker.Reset()...)

	if c.reopen {
		c.reopen = false
		c.openSession()
		return
	}
	if abnormal && c.credential() != nil {
		c.logger.Info("Abnormal closure, scheduling reconnect",
			slog.Duration("cooldown", c.cfg.Transport.ReconnectCooldown),
			slog.Any("error", err),
		)
		c.reconnect = time.NewTimer(c.cfg.Transport.ReconnectCooldown)
		c.reconnectC = c.reconnect.C
	}
}

func (c *Core) openSession() {
	cred := c.credential()
	if cred == nil {
		return
	}
	c.sess = c.newSession(cred.Token)
	if err := c.sess.Open(c.ctx); err != nil {
		c.logger.Error("Failed to open session", slog.Any("error", err))
		c.sess = nil
		c.setState(transport.StateClosed, err)
	}
}

func (c *Core) startPoll() {
	if c.polling || c.credential() == nil {
		return
	}
	rooms := c.tracker.Rooms()
	if len(rooms) == 0 {
		return
	}
	c.polling = true
	token := c.credential().Token
	go c.fetchHistory(token, rooms)
}

// fetchHistory runs off-loop; results come back as commands so the merge
// itself happens on the event loop.
func (c *Core) fetchHistory(token string, rooms []string) {
	defer func() {
		select {
		case c.cmds <- command{kind: cmdPollDone}:
		case <-c.ctx.Done():
		}
	}()

	for _, roomID := range rooms {
		fetched, err := c.history.Messages(c.ctx, token, roomID, c.cfg.Sync.HistoryLimit)
		if err != nil {
			// Best-effort: skip this cycle, the next tick retries.
			c.logger.Warn("History fetch failed", "roomID", roomID, slog.Any("error", err))
			continue
		}
		select {
		case c.cmds <- command{kind: cmdMergeHistory, roomID: roomID, fetched: fetched}:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Core) sendJoin(roomID string) {
	payload, err := transport.EncodeJoin(roomID)
	if err != nil {
		c.logger.Error("Failed to encode join frame", slog.Any("error", err))
		return
	}
	if err := c.sess.Send(payload); err != nil {
		c.logger.Warn("Join frame not sent", "roomID", roomID, slog.Any("error", err))
	}
}

func (c *Core) sendMessage(roomID, content string) {
	payload, err := transport.EncodeSend(roomID, content)
	if err != nil {
		c.logger.Error("Failed to encode message frame", slog.Any("error", err))
		return
	}
	if err := c.sess.Send(payload); err != nil {
		c.logger.Warn("Message frame not sent", "roomID", roomID, slog.Any("error", err))
	}
}

func (c *Core) sessionOpen() bool {
	return c.sess != nil && c.State() == transport.StateOpen
}

func (c *Core) setState(st transport.State, err error) {
	c.mu.Lock()
	c.state = st
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()

	select {
	case c.states <- st:
	default:
	}
}

func (c *Core) stopReconnectTimer() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
		c.reconnectC = nil
	}
}
