package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/sipeed/driveclaw/pkg/bus"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProcessor struct {
	mu       sync.Mutex
	seen     map[string][]string
	delay    map[string]time.Duration
	inFlight int
	peak     int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{seen: map[string][]string{}, delay: map[string]time.Duration{}}
}

func (p *fakeProcessor) HandleInbound(ctx context.Context, msg bus.InboundMessage) (string, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.peak {
		p.peak = p.inFlight
	}
	d := p.delay[msg.Content]
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.seen[msg.SenderID] = append(p.seen[msg.SenderID], msg.Content)
		p.mu.Unlock()
	}()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "re: " + msg.Content, nil
}

func (p *fakeProcessor) sequence(sender string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen[sender]...)
}

func collect(t *testing.T, mb *bus.MessageBus, n int) []bus.OutboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var out []bus.OutboundMessage
	for len(out) < n {
		msg, ok := mb.SubscribeOutbound(ctx)
		if !ok {
			t.Fatalf("timed out after %d of %d replies", len(out), n)
		}
		out = append(out, msg)
	}
	return out
}

func TestGateway_PerSenderOrder(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	proc := newFakeProcessor()
	proc.delay["a1"] = 50 * time.Millisecond
	g := New(mb, proc, Options{RequestTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	for _, text := range []string{"a1", "a2", "a3"} {
		mb.PublishInbound(ctx, bus.NewInbound("telegram", "alice", "chat-a", text, nil))
	}
	collect(t, mb, 3)

	if got := proc.sequence("alice"); len(got) != 3 || got[0] != "a1" || got[1] != "a2" || got[2] != "a3" {
		t.Fatalf("alice handled out of order: %v", got)
	}

	cancel()
	<-done
}

func TestGateway_SendersRunConcurrently(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	proc := newFakeProcessor()
	proc.delay["slow"] = 100 * time.Millisecond
	proc.delay["also slow"] = 100 * time.Millisecond
	g := New(mb, proc, Options{RequestTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	mb.PublishInbound(ctx, bus.NewInbound("discord", "u1", "c1", "slow", nil))
	mb.PublishInbound(ctx, bus.NewInbound("discord", "u2", "c2", "also slow", nil))
	replies := collect(t, mb, 2)

	proc.mu.Lock()
	peak := proc.peak
	proc.mu.Unlock()
	if peak != 2 {
		t.Fatalf("peak concurrency = %d, want 2", peak)
	}
	chats := map[string]bool{}
	for _, r := range replies {
		chats[r.ChatID] = true
	}
	if !chats["c1"] || !chats["c2"] {
		t.Fatalf("replies not routed to originating chats: %+v", replies)
	}
	if g.Size() != 2 {
		t.Fatalf("workers = %d, want 2", g.Size())
	}

	cancel()
	<-done
}

func TestGateway_AbandonedRequestSendsNothing(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	proc := newFakeProcessor()
	proc.delay["hang"] = time.Second
	g := New(mb, proc, Options{RequestTimeout: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	mb.PublishInbound(ctx, bus.NewInbound("slack", "u1", "c1", "hang", nil))
	mb.PublishInbound(ctx, bus.NewInbound("slack", "u1", "c1", "next", nil))

	replies := collect(t, mb, 1)
	if replies[0].Content != "re: next" {
		t.Fatalf("unexpected reply %+v", replies[0])
	}

	cancel()
	<-done
}

func TestGateway_IdleWorkerStops(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	g := New(mb, newFakeProcessor(), Options{IdleTimeout: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	mb.PublishInbound(ctx, bus.NewInbound("telegram", "bob", "c", "hi", nil))
	collect(t, mb, 1)

	deadline := time.Now().Add(2 * time.Second)
	for g.Size() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("idle worker still alive, size = %d", g.Size())
		}
		time.Sleep(5 * time.Millisecond)
	}

	mb.PublishInbound(ctx, bus.NewInbound("telegram", "bob", "c", "again", nil))
	if r := collect(t, mb, 1); r[0].Content != "re: again" {
		t.Fatalf("unexpected reply %+v", r[0])
	}

	cancel()
	<-done
}

func TestGateway_BusCloseDrainsWorkers(t *testing.T) {
	mb := bus.NewMessageBus()
	proc := newFakeProcessor()
	proc.delay["m1"] = 30 * time.Millisecond
	g := New(mb, proc, Options{RequestTimeout: time.Second})

	done := make(chan struct{})
	go func() {
		g.Run(context.Background())
		close(done)
	}()

	mb.PublishInbound(context.Background(), bus.NewInbound("telegram", "carol", "c", "m1", nil))
	time.Sleep(10 * time.Millisecond)
	mb.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after bus close")
	}
	if got := proc.sequence("carol"); len(got) != 1 {
		t.Fatalf("in-flight message not finished: %v", got)
	}
}

func TestGateway_FullSenderQueueDoesNotStallOthers(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	proc := newFakeProcessor()
	proc.delay["hold"] = 500 * time.Millisecond
	g := New(mb, proc, Options{RequestTimeout: 2 * time.Second, QueueSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	for _, text := range []string{"hold", "q1", "q2", "q3"} {
		mb.PublishInbound(ctx, bus.NewInbound("telegram", "alice", "chat-a", text, nil))
	}
	mb.PublishInbound(ctx, bus.NewInbound("telegram", "bob", "chat-b", "b", nil))

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer waitCancel()
	var sawBob, sawBusy bool
	for !sawBob || !sawBusy {
		msg, ok := mb.SubscribeOutbound(waitCtx)
		if !ok {
			t.Fatalf("timed out: bob replied=%v busy reply=%v", sawBob, sawBusy)
		}
		switch {
		case msg.Content == "re: b":
			sawBob = true
		case msg.Content == BusyReply:
			if msg.ChatID != "chat-a" {
				t.Fatalf("busy reply went to %q", msg.ChatID)
			}
			sawBusy = true
		case msg.Content == "re: hold" && !sawBob:
			t.Fatal("bob waited behind alice's full queue")
		}
	}

	cancel()
	<-done
}

func TestGateway_PassesInboundMessageThrough(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	var got bus.InboundMessage
	var mu sync.Mutex
	proc := processorFunc(func(_ context.Context, msg bus.InboundMessage) (string, error) {
		mu.Lock()
		got = msg
		mu.Unlock()
		return "ok", nil
	})
	g := New(mb, proc, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	in := bus.NewInbound("discord", "7", "c9", "HELP", map[string]string{"message_id": "m-1"})
	mb.PublishInbound(ctx, in)
	reply := collect(t, mb, 1)[0]
	if reply.ReplyToID != "m-1" || reply.ChatID != "c9" || reply.Channel != "discord" {
		t.Fatalf("reply = %+v", reply)
	}

	mu.Lock()
	if got.ID != in.ID || got.Content != "HELP" || got.SenderKey() != "discord:7" {
		t.Fatalf("processor saw %+v", got)
	}
	mu.Unlock()

	cancel()
	<-done
}

type processorFunc func(ctx context.Context, msg bus.InboundMessage) (string, error)

func (f processorFunc) HandleInbound(ctx context.Context, msg bus.InboundMessage) (string, error) {
	return f(ctx, msg)
}
