// Package history consumes the chat directory service's REST surface. It is
// the pull side of reconciliation: periodic page fetches that backfill
// whatever the push path missed.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/a-essam23/go-chatsync/internal/store"
)

// Chat is a directory entry for one room the user belongs to.
type Chat struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsGroup bool   `json:"is_group"`
}

type wireMessage struct {
	ID         string `json:"id"`
	ChatID     string `json:"chat_id"`
	SenderID   string `json:"sender_id"`
	Content    string `json:"content"`
	InsertedAt string `json:"inserted_at"`
}

type Client struct {
	base   string
	client *http.Client
	logger *slog.Logger
}

func NewClient(base string, logger *slog.Logger) *Client {
	return &Client{
		base:   base,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger.With(slog.String("component", "history_client")),
	}
}

// Chats lists the caller's rooms.
func (c *Client) Chats(ctx context.Context, token string) ([]Chat, error) {
	var chats []Chat
	if err := c.get(ctx, token, c.base+"/chats", &chats); err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

// Messages fetches one history page for a room, newest last.
func (c *Client) Messages(ctx context.Context, token, roomID string, limit int) ([]store.Message, error) {
	endpoint := fmt.Sprintf("%s/chats/%s/messages?limit=%s",
		c.base, url.PathEscape(roomID), strconv.Itoa(limit))

	var wire []wireMessage
	if err := c.get(ctx, token, endpoint, &wire); err != nil {
		return nil, fmt.Errorf("failed to fetch history page: %w", err)
	}

	msgs := make([]store.Message, 0, len(wire))
	for _, w := range wire {
		ts, err := time.Parse(time.RFC3339, w.InsertedAt)
		if err != nil {
			c.logger.Warn("Skipping history record with bad timestamp",
				"roomID", roomID, "id", w.ID, slog.Any("error", err))
			continue
		}
		msgs = append(msgs, store.Message{
			ID:         w.ID,
			RoomID:     roomID,
			SenderID:   w.SenderID,
			Content:    w.Content,
			InsertedAt: ts,
			Origin:     store.OriginConfirmed,
		})
	}
	return msgs, nil
}

func (c *Client) get(ctx context.Context, token, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
