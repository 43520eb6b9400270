package membership

import (
	"sync"
	"time"
)

// Command is a send request parked until its room's join is acknowledged.
type Command struct {
	RoomID   string
	Content  string
	Enqueued time.Time
}

// Queue holds pending outbound commands per room, in FIFO enqueue order.
type Queue struct {
	mu      sync.Mutex
	pending map[string][]Command
}

func NewQueue() *Queue {
	return &Queue{pending: make(map[string][]Command)}
}

// Push appends a command to the room's queue.
func (q *Queue) Push(roomID, content string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[roomID] = append(q.pending[roomID], Command{
		RoomID:   roomID,
		Content:  content,
		Enqueued: time.Now(),
	})
}

// Drain removes and returns the room's queued commands in enqueue order.
func (q *Queue) Drain(roomID string) []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmds := q.pending[roomID]
	delete(q.pending, roomID)
	return cmds
}

// Drop discards the room's queued commands, returning how many were lost.
// A leave drops its queue: a queued send can only ever be delivered behind
// a server-side join, and that join is no longer wanted.
func (q *Queue) Drop(roomID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending[roomID])
	delete(q.pending, roomID)
	return n
}

// Len reports the number of commands queued for the room.
func (q *Queue) Len(roomID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[roomID])
}
