package channels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sipeed/driveclaw/pkg/bus"
	"github.com/sipeed/driveclaw/pkg/config"
	"github.com/sipeed/driveclaw/pkg/logger"
)

const sendTimeout = 10 * time.Second

type DiscordChannel struct {
	*BaseChannel
	session   *discordgo.Session
	ctx       context.Context
	botUserID string

	sendMessageFn func(channelID, content string) error
}

func NewDiscordChannel(cfg config.DiscordConfig, messageBus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + NormalizeDiscordBotToken(cfg.Token))
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsAllWithoutPrivileged | discordgo.IntentsMessageContent

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", messageBus, cfg.AllowFrom),
		session:     session,
		ctx:         context.Background(),
		sendMessageFn: func(channelID, content string) error {
			_, err := session.ChannelMessageSend(channelID, content)
			return err
		},
	}, nil
}

// NormalizeDiscordBotToken trims copy/paste wrappers and an optional "Bot "
// prefix.
func NormalizeDiscordBotToken(token string) string {
	t := strings.TrimSpace(token)
	t = strings.Trim(t, "\"'")
	t = strings.TrimSpace(t)

	parts := strings.Fields(t)
	if len(parts) >= 2 && strings.EqualFold(parts[0], "bot") {
		return strings.Join(parts[1:], "")
	}
	return t
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.ctx = ctx
	c.session.AddHandler(c.handleMessage)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	c.botUserID = botUser.ID
	logger.InfoCF("discord", "Discord bot connected", map[string]interface{}{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if m.Author.ID == c.botUserID {
		return
	}

	// Guild messages must address the bot; DMs always do.
	addressed := m.GuildID == ""
	for _, u := range m.Mentions {
		if u != nil && u.ID == c.botUserID {
			addressed = true
			break
		}
	}
	if !addressed {
		return
	}

	c.HandleMessage(c.ctx, m.Author.ID, m.ChannelID, stripMentions(m.Content), map[string]string{
		"message_id": m.ID,
		"username":   m.Author.Username,
		"guild_id":   m.GuildID,
	})
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("channel ID is empty")
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		for _, chunk := range splitMessage(msg.Content, discordMaxRunes) {
			if err := c.sendMessageFn(msg.ChatID, chunk); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}
