// Package store keeps the per-room message logs and reconciles their three
// sources of truth: locally originated optimistic entries, server pushes,
// and periodically pulled history pages. The merged view for a room is
// deduplicated and ordered by timestamp, and is mirrored to a durable cache
// so a revisited room renders instantly.
package store

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Store struct {
	logger *slog.Logger
	window time.Duration
	cache  *Cache // nil disables persistence

	mu    sync.RWMutex
	rooms map[string][]Message
}

func New(window time.Duration, cache *Cache, logger *slog.Logger) *Store {
	return &Store{
		logger: logger.With(slog.String("component", "message_store")),
		window: window,
		cache:  cache,
		rooms:  make(map[string][]Message),
	}
}

// AddOptimistic synthesizes a local message so the sender sees it before any
// network confirmation, and returns it.
func (s *Store) AddOptimistic(roomID, senderID, content string) Message {
	msg := Message{
		ID:         "optimistic-" + uuid.NewString(),
		RoomID:     roomID,
		SenderID:   senderID,
		Content:    content,
		InsertedAt: time.Now(),
		Origin:     OriginOptimistic,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = insertSorted(s.rooms[roomID], msg)
	return msg
}

// ApplyConfirmed merges a server-pushed message into the room's view. An
// optimistic entry with a matching fingerprint is replaced by the confirmed
// one; any entry sharing the incoming id is replaced outright.
func (s *Store) ApplyConfirmed(msg Message) {
	msg.Origin = OriginConfirmed

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.rooms[msg.RoomID]
	kept := existing[:0:0]
	for _, m := range existing {
		if m.ID == msg.ID {
			continue
		}
		if m.Origin == OriginOptimistic && fingerprintMatch(m, msg, s.window) {
			s.logger.Debug("Optimistic entry superseded by confirmation",
				"roomID", msg.RoomID, "optimisticID", m.ID, "confirmedID", msg.ID)
			continue
		}
		kept = append(kept, m)
	}
	s.rooms[msg.RoomID] = insertSorted(kept, msg)
}

// MergeHistory folds a pulled history page into the room's view. Fetched
// entries win on id collision, optimistic entries superseded by a fetched
// confirmation are dropped, and the result is re-sorted and persisted.
func (s *Store) MergeHistory(roomID string, fetched []Message) error {
	s.mu.Lock()

	byID := make(map[string]Message)
	var optimistic []Message
	for _, m := range s.rooms[roomID] {
		if m.Origin == OriginOptimistic {
			optimistic = append(optimistic, m)
			continue
		}
		byID[m.ID] = m
	}
	for _, m := range fetched {
		m.Origin = OriginConfirmed
		m.RoomID = roomID
		byID[m.ID] = m
	}

	merged := make([]Message, 0, len(byID)+len(optimistic))
	for _, m := range byID {
		merged = append(merged, m)
	}
	for _, opt := range optimistic {
		superseded := false
		for _, m := range fetched {
			if fingerprintMatch(opt, m, s.window) {
				superseded = true
				break
			}
		}
		if !superseded {
			merged = append(merged, opt)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].InsertedAt.Before(merged[j].InsertedAt)
	})
	s.rooms[roomID] = merged
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Save(roomID, merged); err != nil {
			return fmt.Errorf("failed to persist merged view: %w", err)
		}
	}
	return nil
}

// WarmStart seeds an empty room view from the durable cache, before any
// network data arrives. Rooms that already hold messages are left alone.
func (s *Store) WarmStart(roomID string) error {
	if s.cache == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rooms[roomID]) > 0 {
		return nil
	}

	cached, err := s.cache.Load(roomID)
	if err != nil {
		return fmt.Errorf("failed to load cached history: %w", err)
	}
	if len(cached) > 0 {
		s.rooms[roomID] = cached
		s.logger.Debug("Room view seeded from cache", "roomID", roomID, "messages", len(cached))
	}
	return nil
}

// Messages returns a copy of the room's current merged view, oldest first.
func (s *Store) Messages(roomID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view := s.rooms[roomID]
	out := make([]Message, len(view))
	copy(out, view)
	return out
}

// DropOptimistic discards the room's unconfirmed entries. Used by disconnect
// cleanup: an optimistic message whose send never reached the server must
// not linger as if it were delivered.
func (s *Store) DropOptimistic(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.rooms[roomID]
	kept := existing[:0:0]
	dropped := 0
	for _, m := range existing {
		if m.Origin == OriginOptimistic {
			dropped++
			continue
		}
		kept = append(kept, m)
	}
	s.rooms[roomID] = kept
	return dropped
}

func insertSorted(view []Message, msg Message) []Message {
	i := sort.Search(len(view), func(i int) bool {
		return view[i].InsertedAt.After(msg.InsertedAt)
	})
	view = append(view, Message{})
	copy(view[i+1:], view[i:])
	view[i] = msg
	return view
}
