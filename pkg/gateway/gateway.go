// Package gateway feeds inbound bus messages to a processor and publishes
// the replies.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sipeed/driveclaw/pkg/bus"
	"github.com/sipeed/driveclaw/pkg/logger"
)

const (
	DefaultRequestTimeout = 2 * time.Minute
	DefaultQueueSize      = 32
	DefaultIdleTimeout    = 5 * time.Minute
)

// BusyReply is sent instead of queueing when a sender already has a full
// queue.
const BusyReply = "Busy: you have too many commands waiting. Please try again shortly."

const busyReplyTimeout = 2 * time.Second

var ErrSenderBusy = errors.New("sender queue full")

// Processor turns one inbound message into reply text. An error means no
// reply is sent.
type Processor interface {
	HandleInbound(ctx context.Context, msg bus.InboundMessage) (string, error)
}

type Options struct {
	RequestTimeout time.Duration
	QueueSize      int
	IdleTimeout    time.Duration
}

type worker struct {
	key     string
	inbound chan bus.InboundMessage
	// pending counts messages handed to this worker but not yet received.
	// Guarded by Gateway.mu.
	pending int
}

// Gateway keeps one worker per sender key. Messages from one sender are
// handled strictly in arrival order; different senders run concurrently.
// Idle workers exit and are recreated on demand.
type Gateway struct {
	bus       *bus.MessageBus
	processor Processor
	opts      Options

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

func New(messageBus *bus.MessageBus, processor Processor, opts Options) *Gateway {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &Gateway{
		bus:       messageBus,
		processor: processor,
		opts:      opts,
		workers:   map[string]*worker{},
	}
}

// Run consumes inbound messages until ctx ends or the bus closes, then waits
// for every worker to finish.
func (g *Gateway) Run(ctx context.Context) error {
	defer g.shutdown()
	for {
		msg, ok := g.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		if err := g.dispatch(ctx, msg); err != nil {
			logger.ErrorCF("gateway", "Dispatch failed", map[string]interface{}{
				"channel":    msg.Channel,
				"sender_id":  msg.SenderID,
				"message_id": msg.ID,
				"error":      err.Error(),
			})
		}
	}
}

// Size reports the number of live workers.
func (g *Gateway) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.workers)
}

func (g *Gateway) dispatch(ctx context.Context, msg bus.InboundMessage) error {
	w, err := g.acquire(ctx, msg.SenderKey())
	if err != nil {
		return err
	}
	// Run serves every sender, so a full queue is refused, not waited on.
	select {
	case w.inbound <- msg:
		return nil
	default:
		g.mu.Lock()
		w.pending--
		g.mu.Unlock()
		g.replyBusy(ctx, msg)
		return ErrSenderBusy
	}
}

func (g *Gateway) replyBusy(ctx context.Context, msg bus.InboundMessage) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		replyCtx, cancel := context.WithTimeout(ctx, busyReplyTimeout)
		defer cancel()
		if err := g.bus.PublishOutbound(replyCtx, bus.OutboundMessage{
			Channel:   msg.Channel,
			ChatID:    msg.ChatID,
			Content:   BusyReply,
			ReplyToID: msg.Metadata["message_id"],
		}); err != nil {
			logger.WarnCF("gateway", "Busy reply not sent", map[string]interface{}{
				"message_id": msg.ID,
				"error":      err.Error(),
			})
		}
	}()
}

func (g *Gateway) acquire(ctx context.Context, key string) (*worker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, fmt.Errorf("gateway is closed")
	}
	w, ok := g.workers[key]
	if !ok {
		w = &worker{key: key, inbound: make(chan bus.InboundMessage, g.opts.QueueSize)}
		g.workers[key] = w
		g.wg.Add(1)
		go g.runWorker(ctx, w)
	}
	w.pending++
	return w, nil
}

func (g *Gateway) runWorker(ctx context.Context, w *worker) {
	defer g.wg.Done()

	idle := time.NewTimer(g.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			if n := len(w.inbound); n > 0 {
				logger.WarnCF("gateway", "Worker stopped with queued messages", map[string]interface{}{
					"sender": w.key,
					"queued": n,
				})
			}
			return
		case msg, ok := <-w.inbound:
			if !ok {
				return
			}
			g.mu.Lock()
			w.pending--
			g.mu.Unlock()

			g.handle(ctx, msg)

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(g.opts.IdleTimeout)
		case <-idle.C:
			g.mu.Lock()
			if w.pending == 0 {
				delete(g.workers, w.key)
				g.mu.Unlock()
				logger.DebugCF("gateway", "Idle worker stopped", map[string]interface{}{"sender": w.key})
				return
			}
			g.mu.Unlock()
			idle.Reset(g.opts.IdleTimeout)
		}
	}
}

func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	reqCtx, cancel := context.WithTimeout(ctx, g.opts.RequestTimeout)
	defer cancel()

	text, err := g.processor.HandleInbound(reqCtx, msg)
	if err != nil {
		if reqCtx.Err() != nil {
			logger.WarnCF("gateway", "Reply dropped for abandoned request", map[string]interface{}{
				"message_id": msg.ID,
				"sender":     msg.SenderKey(),
			})
			return
		}
		logger.ErrorCF("gateway", "Processing failed", map[string]interface{}{
			"message_id": msg.ID,
			"error":      err.Error(),
		})
		return
	}

	if err := g.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		Content:   text,
		ReplyToID: msg.Metadata["message_id"],
	}); err != nil {
		logger.ErrorCF("gateway", "Publish reply failed", map[string]interface{}{
			"message_id": msg.ID,
			"error":      err.Error(),
		})
	}
}

// shutdown lets every worker finish its queue. Run is the only sender, so
// closing the queues here cannot race with dispatch.
func (g *Gateway) shutdown() {
	g.mu.Lock()
	g.closed = true
	for key, w := range g.workers {
		close(w.inbound)
		delete(g.workers, key)
	}
	g.mu.Unlock()
	g.wg.Wait()
}
