// Package channels connects chat platforms to the message bus.
package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/sipeed/driveclaw/pkg/bus"
	"github.com/sipeed/driveclaw/pkg/logger"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}

// BaseChannel carries what every channel shares: its name, the bus and the
// sender allowlist.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowList []string
	running   atomic.Bool
}

func NewBaseChannel(name string, messageBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       messageBus,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}

// IsAllowed matches senderID against the allowlist. An empty list allows
// everyone. Compound "id|username" forms match on either part, and
// allowlist usernames may carry a leading "@".
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	id, user := splitCompoundID(senderID)
	for _, allowed := range c.allowList {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		allowedID, allowedUser := splitCompoundID(strings.TrimPrefix(allowed, "@"))
		if allowedID == id || allowedID == user {
			return true
		}
		if allowedUser != "" && (allowedUser == user || allowedUser == id) {
			return true
		}
	}
	return false
}

func splitCompoundID(s string) (string, string) {
	if i := strings.IndexByte(s, '|'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// HandleMessage publishes an inbound message from an allowed sender.
// Messages from other senders never reach the core.
func (c *BaseChannel) HandleMessage(ctx context.Context, senderID, chatID, content string, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		logger.DebugCF(c.name, "Message rejected by allowlist", map[string]interface{}{
			"sender_id": senderID,
		})
		return
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}

	msg := bus.NewInbound(c.name, senderID, chatID, content, metadata)
	if err := c.bus.PublishInbound(ctx, msg); err != nil {
		logger.ErrorCF(c.name, "Failed to publish inbound message", map[string]interface{}{
			"sender_id": senderID,
			"error":     err.Error(),
		})
	}
}
