package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/a-essam23/go-chatsync/internal/store"
	"github.com/a-essam23/go-chatsync/pkg/config"
	"github.com/a-essam23/go-chatsync/pkg/transport"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// fakeSession is a scripted transport: frames go in through push, outbound
// payloads are captured for inspection.
type fakeSession struct {
	mu       sync.Mutex
	sent     [][]byte
	events   chan transport.Event
	done     chan struct{}
	closeErr error
	abnormal bool
	once     sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		events: make(chan transport.Event, 64),
		done:   make(chan struct{}),
	}
}

func (f *fakeSession) Open(ctx context.Context) error {
	f.events <- transport.Event{Kind: transport.KindState, State: transport.StateConnecting}
	f.events <- transport.Event{Kind: transport.KindState, State: transport.StateOpen}
	return nil
}

func (f *fakeSession) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeSession) Close() { f.terminate(nil, false) }

func (f *fakeSession) fail(err error) { f.terminate(err, true) }

func (f *fakeSession) terminate(err error, abnormal bool) {
	f.once.Do(func() {
		f.mu.Lock()
		f.closeErr = err
		f.abnormal = abnormal
		f.mu.Unlock()
		close(f.done)
	})
}

func (f *fakeSession) Events() <-chan transport.Event { return f.events }
func (f *fakeSession) Done() <-chan struct{}          { return f.done }

func (f *fakeSession) CloseReason() (error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeErr, f.abnormal
}

func (f *fakeSession) push(raw string) {
	frame, err := transport.DecodeFrame([]byte(raw))
	if err != nil {
		panic(err)
	}
	f.events <- transport.Event{Kind: transport.KindFrame, Frame: frame}
}

func (f *fakeSession) sentFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, p := range f.sent {
		out[i] = string(p)
	}
	return out
}

type sessionLog struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (l *sessionLog) factory(string) session {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := newFakeSession()
	l.sessions = append(l.sessions, s)
	return s
}

func (l *sessionLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

func (l *sessionLog) at(i int) *fakeSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions[i]
}

func testCoreConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "localhost:5000"},
		Transport: config.TransportConfig{
			HandshakeTimeout:  time.Second,
			HeartbeatInterval: time.Minute,
			ReconnectCooldown: 20 * time.Millisecond,
		},
		Sync: config.SyncConfig{
			PollInterval:      time.Hour, // polling exercised separately
			HistoryLimit:      100,
			FingerprintWindow: 2 * time.Second,
		},
		Cache: config.CacheConfig{Path: ":memory:"},
	}
}

func newTestCore(t *testing.T) (*Core, *sessionLog) {
	t.Helper()
	core, err := New(testCoreConfig(), newTestLogger())
	require.NoError(t, err)

	log := &sessionLog{}
	core.newSession = log.factory

	core.Start(context.Background())
	t.Cleanup(core.Close)

	require.NoError(t, core.SetCredential(&Credential{Token: "tok-1", UserID: "user-1"}))
	require.Eventually(t, func() bool { return log.count() == 1 }, time.Second, 5*time.Millisecond)
	return core, log
}

func frameTypes(frames []string) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = gjson.Get(f, "type").String()
	}
	return out
}

func TestJoinSendsSingleJoinFrame(t *testing.T) {
	core, log := newTestCore(t)
	sess := log.at(0)

	require.NoError(t, core.Join("general"))
	require.NoError(t, core.Join("general")) // idempotent

	require.Eventually(t, func() bool { return len(sess.sentFrames()) >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond) // give a duplicate the chance to appear

	frames := sess.sentFrames()
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"type":"join","chat_id":"general"}`, frames[0])
}

func TestQueuedSendsFlushInOrderAfterAck(t *testing.T) {
	core, log := newTestCore(t)
	sess := log.at(0)

	require.NoError(t, core.Join("general"))
	require.NoError(t, core.Send("general", "A"))
	require.NoError(t, core.Send("general", "B"))

	// Still pending: nothing but the join frame may go out.
	require.Eventually(t, func() bool { return len(sess.sentFrames()) == 1 }, time.Second, 5*time.Millisecond)

	// Both sends are already visible optimistically.
	require.Eventually(t, func() bool { return len(core.Messages("general")) == 2 }, time.Second, 5*time.Millisecond)

	sess.push(`{"type":"joined_chat","chat_id":"general"}`)

	require.Eventually(t, func() bool { return len(sess.sentFrames()) == 3 }, time.Second, 5*time.Millisecond)
	frames := sess.sentFrames()
	assert.Equal(t, []string{"join", "new_message", "new_message"}, frameTypes(frames))
	assert.Equal(t, "A", gjson.Get(frames[1], "content").String())
	assert.Equal(t, "B", gjson.Get(frames[2], "content").String())
}

func TestSendImpliesJoin(t *testing.T) {
	core, log := newTestCore(t)
	sess := log.at(0)

	require.NoError(t, core.Send("general", "hi"))

	require.Eventually(t, func() bool { return len(sess.sentFrames()) == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"type":"join","chat_id":"general"}`, sess.sentFrames()[0])
}

func TestSendValidation(t *testing.T) {
	core, _ := newTestCore(t)

	assert.ErrorIs(t, core.Send("general", "   "), ErrEmptyContent)

	require.NoError(t, core.SetCredential(nil))
	assert.ErrorIs(t, core.Send("general", "hi"), ErrNoCredential)
}

func TestPushConfirmationReplacesOptimistic(t *testing.T) {
	core, log := newTestCore(t)
	sess := log.at(0)

	require.NoError(t, core.Join("general"))
	sess.push(`{"type":"joined_chat","chat_id":"general"}`)
	require.NoError(t, core.Send("general", "hi"))

	require.Eventually(t, func() bool {
		view := core.Messages("general")
		return len(view) == 1 && view[0].Origin == store.OriginOptimistic
	}, time.Second, 5*time.Millisecond)

	at := time.Now().Add(800 * time.Millisecond).UTC().Format(time.RFC3339)
	sess.push(fmt.Sprintf(`{"type":"new_message","chat_id":"general","id":"srv-42","sender_id":"user-1","content":"hi","inserted_at":"%s"}`, at))

	require.Eventually(t, func() bool {
		view := core.Messages("general")
		return len(view) == 1 && view[0].ID == "srv-42" && view[0].Origin == store.OriginConfirmed
	}, time.Second, 5*time.Millisecond)
}

func TestReconnectReissuesJoins(t *testing.T) {
	core, log := newTestCore(t)
	first := log.at(0)

	require.NoError(t, core.Join("r1"))
	require.NoError(t, core.Join("r2"))
	first.push(`{"type":"joined_chat","chat_id":"r1"}`)
	// r1 Joined, r2 still Pending at the moment of loss.
	require.Eventually(t, func() bool { return len(first.sentFrames()) == 2 }, time.Second, 5*time.Millisecond)

	first.fail(errors.New("connection reset"))

	require.Eventually(t, func() bool { return log.count() == 2 }, time.Second, 5*time.Millisecond)
	second := log.at(1)

	require.Eventually(t, func() bool { return len(second.sentFrames()) == 2 }, time.Second, 5*time.Millisecond)
	frames := second.sentFrames()
	joined := []string{
		gjson.Get(frames[0], "chat_id").String(),
		gjson.Get(frames[1], "chat_id").String(),
	}
	assert.ElementsMatch(t, []string{"r1", "r2"}, joined,
		"both Joined and Pending rooms get fresh join handshakes")
	assert.Equal(t, []string{"join", "join"}, frameTypes(frames))
}

func TestExplicitCloseDoesNotReconnect(t *testing.T) {
	core, log := newTestCore(t)

	require.NoError(t, core.SetCredential(nil))

	require.Eventually(t, func() bool {
		return core.State() == transport.StateClosed
	}, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond) // more than the reconnect cooldown
	assert.Equal(t, 1, log.count(), "credential revocation is terminal")
}

func TestCredentialChangeCyclesSession(t *testing.T) {
	core, log := newTestCore(t)

	require.NoError(t, core.SetCredential(&Credential{Token: "tok-2", UserID: "user-1"}))

	require.Eventually(t, func() bool { return log.count() == 2 }, time.Second, 5*time.Millisecond)
	select {
	case <-log.at(0).Done():
	default:
		t.Fatal("old session should be closed after a credential change")
	}
}

func TestStaleAckIsIgnored(t *testing.T) {
	core, log := newTestCore(t)
	sess := log.at(0)

	require.NoError(t, core.Join("general"))
	require.NoError(t, core.Send("general", "parked"))
	require.NoError(t, core.Leave("general"))

	// The ack arrives after the leave; it must not resurrect the room or
	// flush the (dropped) queue.
	sess.push(`{"type":"joined_chat","chat_id":"general"}`)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"join"}, frameTypes(sess.sentFrames()))
	assert.Empty(t, core.Messages("general"), "leave drops the optimistic entries of dropped sends")
}
