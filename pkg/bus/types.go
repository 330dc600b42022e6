package bus

import (
	"time"

	"github.com/google/uuid"
)

// InboundMessage is one chat message from an authenticated sender.
type InboundMessage struct {
	ID         string            `json:"id"`
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	ReceivedAt time.Time         `json:"received_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SenderKey identifies the ordering domain of a message: all messages with
// the same key are processed one at a time in arrival order.
func (m InboundMessage) SenderKey() string {
	return m.Channel + ":" + m.SenderID
}

// NewInbound stamps a message with a fresh ID and receive time.
func NewInbound(channel, senderID, chatID, content string, metadata map[string]string) InboundMessage {
	return InboundMessage{
		ID:         uuid.NewString(),
		Channel:    channel,
		SenderID:   senderID,
		ChatID:     chatID,
		Content:    content,
		ReceivedAt: time.Now().UTC(),
		Metadata:   metadata,
	}
}

type OutboundMessage struct {
	Channel   string `json:"channel"`
	ChatID    string `json:"chat_id"`
	Content   string `json:"content"`
	ReplyToID string `json:"reply_to_id,omitempty"`
}
