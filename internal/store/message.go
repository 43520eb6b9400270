package store

import "time"

// Origin distinguishes locally synthesized messages from server-confirmed
// ones. Optimistic entries exist only until a confirmed counterpart arrives
// or disconnect cleanup discards them.
type Origin string

const (
	OriginOptimistic Origin = "optimistic"
	OriginConfirmed  Origin = "confirmed"
)

type Message struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"chat_id"`
	SenderID   string    `json:"sender_id"`
	Content    string    `json:"content"`
	InsertedAt time.Time `json:"inserted_at"`
	Origin     Origin    `json:"origin,omitempty"`
}

// fingerprintMatch judges whether an optimistic entry and a confirmed one
// denote the same real-world message: same sender, same content, timestamps
// within the reconciliation window.
func fingerprintMatch(optimistic, confirmed Message, window time.Duration) bool {
	if optimistic.SenderID != confirmed.SenderID || optimistic.Content != confirmed.Content {
		return false
	}
	delta := confirmed.InsertedAt.Sub(optimistic.InsertedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta < window
}
