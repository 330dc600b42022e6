package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/sipeed/driveclaw/pkg/bus"
	"github.com/sipeed/driveclaw/pkg/config"
	"github.com/sipeed/driveclaw/pkg/logger"
)

// SlackChannel receives events over Socket Mode, so no public webhook is
// needed.
type SlackChannel struct {
	*BaseChannel
	api       *slack.Client
	socket    *socketmode.Client
	botUserID string
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	postFn func(ctx context.Context, channelID, text string) error
}

func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus) *SlackChannel {
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	c := &SlackChannel{
		BaseChannel: NewBaseChannel("slack", messageBus, cfg.AllowFrom),
		api:         api,
		socket:      socketmode.New(api),
	}
	c.postFn = func(ctx context.Context, channelID, text string) error {
		_, _, err := api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
		return err
	}
	return c
}

func (c *SlackChannel) Start(ctx context.Context) error {
	logger.InfoC("slack", "Starting Slack bot (socket mode)")

	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test failed: %w", err)
	}
	c.botUserID = auth.UserID

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.setRunning(true)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		if err := c.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			logger.ErrorCF("slack", "Socket mode stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case evt, ok := <-c.socket.Events:
				if !ok {
					return
				}
				c.handleEvent(runCtx, evt)
			}
		}
	}()

	logger.InfoCF("slack", "Slack bot connected", map[string]interface{}{
		"user_id": auth.UserID,
		"team":    auth.Team,
	})
	return nil
}

func (c *SlackChannel) Stop(ctx context.Context) error {
	logger.InfoC("slack", "Stopping Slack bot")
	c.setRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return nil
}

func (c *SlackChannel) handleEvent(ctx context.Context, evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if evt.Request != nil {
		c.socket.Ack(*evt.Request)
	}
	c.handleInner(ctx, eventsAPIEvent.InnerEvent)
}

func (c *SlackChannel) handleInner(ctx context.Context, inner slackevents.EventsAPIInnerEvent) {
	switch ev := inner.Data.(type) {
	case *slackevents.AppMentionEvent:
		c.HandleMessage(ctx, ev.User, ev.Channel, stripMentions(ev.Text), map[string]string{
			"message_id": ev.TimeStamp,
			"thread_ts":  ev.ThreadTimeStamp,
		})
	case *slackevents.MessageEvent:
		// Channel traffic arrives as app_mention; only DMs are taken here.
		if ev.BotID != "" || ev.SubType != "" || ev.ChannelType != "im" || ev.User == c.botUserID {
			return
		}
		c.HandleMessage(ctx, ev.User, ev.Channel, stripMentions(ev.Text), map[string]string{
			"message_id": ev.TimeStamp,
			"thread_ts":  ev.ThreadTimeStamp,
		})
	}
}

func (c *SlackChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("slack bot not running")
	}
	for _, chunk := range splitMessage(msg.Content, slackMaxRunes) {
		if err := c.postFn(ctx, msg.ChatID, chunk); err != nil {
			return fmt.Errorf("failed to send slack message: %w", err)
		}
	}
	return nil
}
