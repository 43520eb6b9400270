package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// ErrMalformedFrame indicates an inbound payload that could not be decoded.
// Malformed frames are logged and dropped; they never tear down the session.
var ErrMalformedFrame = errors.New("malformed frame")

// Inbound frame types pushed by the server.
const (
	FrameJoinedChat = "joined_chat"
	FrameNewMessage = "new_message"
)

type joinFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

type sendFrame struct {
	Type    string `json:"type"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

type pingFrame struct {
	Type string `json:"type"`
}

// EncodeJoin builds a join request for the given chat.
func EncodeJoin(chatID string) ([]byte, error) {
	return json.Marshal(joinFrame{Type: "join", ChatID: chatID})
}

// EncodeSend builds an outbound message frame.
func EncodeSend(chatID, content string) ([]byte, error) {
	return json.Marshal(sendFrame{Type: "new_message", ChatID: chatID, Content: content})
}

// EncodePing builds a heartbeat frame. The server is not expected to reply.
func EncodePing() ([]byte, error) {
	return json.Marshal(pingFrame{Type: "ping"})
}

// Frame is a decoded server push. Message fields are only populated for
// new_message frames.
type Frame struct {
	Type       string
	ChatID     string
	MessageID  string
	SenderID   string
	Content    string
	InsertedAt time.Time
}

// DecodeFrame parses an inbound text frame. Unknown types are returned as-is
// with just Type and ChatID set so the consumer can decide to ignore them.
func DecodeFrame(raw []byte) (Frame, error) {
	if !gjson.ValidBytes(raw) {
		return Frame{}, fmt.Errorf("%w: invalid json", ErrMalformedFrame)
	}
	typ := gjson.GetBytes(raw, "type")
	if !typ.Exists() || typ.String() == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	frame := Frame{
		Type:   typ.String(),
		ChatID: gjson.GetBytes(raw, "chat_id").String(),
	}

	switch frame.Type {
	case FrameJoinedChat:
		if frame.ChatID == "" {
			return Frame{}, fmt.Errorf("%w: joined_chat missing chat_id", ErrMalformedFrame)
		}
	case FrameNewMessage:
		frame.MessageID = gjson.GetBytes(raw, "id").String()
		frame.SenderID = gjson.GetBytes(raw, "sender_id").String()
		frame.Content = gjson.GetBytes(raw, "content").String()
		if frame.ChatID == "" || frame.MessageID == "" {
			return Frame{}, fmt.Errorf("%w: new_message missing chat_id or id", ErrMalformedFrame)
		}
		ts, err := time.Parse(time.RFC3339, gjson.GetBytes(raw, "inserted_at").String())
		if err != nil {
			return Frame{}, fmt.Errorf("%w: bad inserted_at: %v", ErrMalformedFrame, err)
		}
		frame.InsertedAt = ts
	}
	return frame, nil
}
