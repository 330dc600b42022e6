package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/sipeed/driveclaw/pkg/bus"
	"github.com/sipeed/driveclaw/pkg/config"
	"github.com/sipeed/driveclaw/pkg/logger"
)

// Manager owns the enabled channels and routes outbound replies to them by
// channel name.
type Manager struct {
	bus      *bus.MessageBus
	mu       sync.RWMutex
	channels map[string]Channel
	wg       sync.WaitGroup
}

func NewManager(messageBus *bus.MessageBus) *Manager {
	return &Manager{bus: messageBus, channels: map[string]Channel{}}
}

// NewManagerFromConfig registers every channel enabled in cfg.
func NewManagerFromConfig(cfg *config.Config, messageBus *bus.MessageBus) (*Manager, error) {
	m := NewManager(messageBus)
	if tc := cfg.Channels.Telegram; tc.Enabled {
		ch, err := NewTelegramChannel(tc, messageBus)
		if err != nil {
			return nil, err
		}
		m.Register(ch)
	}
	if dc := cfg.Channels.Discord; dc.Enabled {
		ch, err := NewDiscordChannel(dc, messageBus)
		if err != nil {
			return nil, err
		}
		m.Register(ch)
	}
	if sc := cfg.Channels.Slack; sc.Enabled {
		m.Register(NewSlackChannel(sc, messageBus))
	}
	return m, nil
}

func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

func (m *Manager) Enabled() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// StartAll starts every channel and the outbound router. A channel that
// fails to start is logged and skipped.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		return fmt.Errorf("no channels enabled")
	}
	started := 0
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no channel could be started")
	}

	m.wg.Add(1)
	go m.routeOutbound(ctx)
	return nil
}

func (m *Manager) routeOutbound(ctx context.Context) {
	defer m.wg.Done()
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		ch, found := m.Get(msg.Channel)
		if !found {
			logger.WarnCF("channels", "Reply for unknown channel", map[string]interface{}{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
			})
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Failed to send reply", map[string]interface{}{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
				"error":   err.Error(),
			})
		}
	}
}

// StopAll stops every channel and waits for the outbound router, which
// exits once its context ends or the bus closes.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	for name, ch := range m.channels {
		if !ch.IsRunning() {
			continue
		}
		if err := ch.Stop(ctx); err != nil {
			logger.WarnCF("channels", "Failed to stop channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
	m.mu.RUnlock()
	m.wg.Wait()
}
