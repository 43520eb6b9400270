// Package membership tracks which rooms the client wants to be in, and how
// far each join handshake has progressed. Ack state is per room: several
// joins can be in flight at once, and a join acknowledgment is correlated by
// room id, never by arrival order.
package membership

import (
	"log/slog"
	"sync"
)

type AckState int

const (
	AckPending AckState = iota
	AckJoined
)

func (a AckState) String() string {
	if a == AckJoined {
		return "joined"
	}
	return "pending"
}

type Tracker struct {
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]AckState
}

func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		logger: logger.With(slog.String("component", "membership_tracker")),
		rooms:  make(map[string]AckState),
	}
}

// Track records a join request for roomID. It returns true when the room is
// newly tracked and a join frame should actually be sent; joining a room
// that is already Pending or Joined is a no-op.
func (t *Tracker) Track(roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.rooms[roomID]; exists {
		return false
	}
	t.rooms[roomID] = AckPending
	t.logger.Debug("Tracking room", "roomID", roomID)
	return true
}

// Ack marks roomID as Joined. It returns false for rooms that are not
// tracked (e.g. a stale acknowledgment for a room left mid-join), which the
// caller must ignore.
func (t *Tracker) Ack(roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.rooms[roomID]; !exists {
		t.logger.Warn("Ignoring acknowledgment for untracked room", "roomID", roomID)
		return false
	}
	t.rooms[roomID] = AckJoined
	t.logger.Debug("Room join acknowledged", "roomID", roomID)
	return true
}

// Joined reports whether roomID has a completed join handshake.
func (t *Tracker) Joined(roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rooms[roomID] == AckJoined
}

// Tracked reports whether roomID is being tracked at all.
func (t *Tracker) Tracked(roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.rooms[roomID]
	return ok
}

// Untrack removes roomID on an explicit leave.
func (t *Tracker) Untrack(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms, roomID)
	t.logger.Debug("Untracked room", "roomID", roomID)
}

// Rooms returns every tracked room id regardless of ack state.
func (t *Tracker) Rooms() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.rooms))
	for id := range t.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Reset clears all entries and returns the rooms that were tracked. Server-
// side membership does not survive a connection loss, so every returned room
// needs a fresh join handshake on the next session.
func (t *Tracker) Reset() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.rooms))
	for id := range t.rooms {
		ids = append(ids, id)
	}
	t.rooms = make(map[string]AckState)
	if len(ids) > 0 {
		t.logger.Debug("Membership reset", "rooms", len(ids))
	}
	return ids
}
