// Package pipeline runs one inbound message through parse, dispatch, format
// and audit, in that order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"

	"github.com/sipeed/driveclaw/pkg/audit"
	"github.com/sipeed/driveclaw/pkg/bus"
	"github.com/sipeed/driveclaw/pkg/command"
	"github.com/sipeed/driveclaw/pkg/dispatch"
	"github.com/sipeed/driveclaw/pkg/format"
	"github.com/sipeed/driveclaw/pkg/logger"
)

// ErrAbandoned is returned when the requester's context ended before the
// reply was ready. No text is returned and nothing should be sent.
var ErrAbandoned = errors.New("request abandoned by client")

type Message struct {
	ID         string
	Channel    string
	SenderID   string
	Text       string
	ReceivedAt time.Time
}

type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) dispatch.Outcome
}

type Recorder interface {
	Record(rec audit.Record)
}

type Pipeline struct {
	parser     command.Parser
	dispatcher Dispatcher
	formatter  format.Formatter
	recorder   Recorder
}

func New(parser command.Parser, dispatcher Dispatcher, formatter format.Formatter, recorder Recorder) *Pipeline {
	return &Pipeline{
		parser:     parser,
		dispatcher: dispatcher,
		formatter:  formatter,
		recorder:   recorder,
	}
}

// Process returns the reply text for msg. Exactly one audit record is
// written per call, including when the caller abandons the request.
func (p *Pipeline) Process(ctx context.Context, msg Message) (string, error) {
	start := msg.ReceivedAt
	if start.IsZero() {
		start = time.Now()
	}

	var (
		cmd     command.Command
		outcome dispatch.Outcome
	)
	parsed, err := p.parser.Parse(msg.Text)
	if err != nil {
		var pe *command.ParseError
		if !errors.As(err, &pe) {
			pe = &command.ParseError{Reason: err.Error(), RawInput: msg.Text}
		}
		outcome = dispatch.ParseFailure{Err: pe}
	} else {
		cmd = parsed
		outcome = p.dispatcher.Dispatch(ctx, cmd)
	}

	text := p.formatter.Format(outcome)
	rec := buildRecord(msg, cmd, outcome, time.Since(start))

	if ctx.Err() != nil {
		rec.Detail = strings.TrimSpace(fmt.Sprintf("outcome %s discarded: %v. %s", outcome.Tag(), ctx.Err(), rec.Detail))
		rec.OutcomeTag = dispatch.TagClientAbandoned
		p.recorder.Record(rec)
		logger.WarnCF("pipeline", "Request abandoned", map[string]interface{}{
			"message_id": msg.ID,
			"sender_id":  msg.SenderID,
			"outcome":    outcome.Tag(),
		})
		return "", ErrAbandoned
	}

	p.recorder.Record(rec)
	logger.InfoCF("pipeline", "Message processed", map[string]interface{}{
		"message_id":  msg.ID,
		"channel":     msg.Channel,
		"sender_id":   msg.SenderID,
		"operation":   rec.Operation,
		"outcome":     rec.OutcomeTag,
		"duration_ms": rec.DurationMs,
	})
	return text, nil
}

// HandleInbound processes a chat message taken off the bus.
func (p *Pipeline) HandleInbound(ctx context.Context, msg bus.InboundMessage) (string, error) {
	return p.Process(ctx, Message{
		ID:         msg.ID,
		Channel:    msg.Channel,
		SenderID:   msg.SenderID,
		Text:       msg.Content,
		ReceivedAt: msg.ReceivedAt,
	})
}

func buildRecord(msg Message, cmd command.Command, outcome dispatch.Outcome, elapsed time.Duration) audit.Record {
	rec := audit.Record{
		RequesterID: msg.SenderID,
		Channel:     msg.Channel,
		Operation:   string(command.OpUnknown),
		RawInput:    msg.Text,
		OutcomeTag:  outcome.Tag(),
		TargetPath:  mo.None[string](),
		ItemCount:   mo.None[int](),
		DurationMs:  elapsed.Milliseconds(),
	}
	if cmd != nil {
		rec.Operation = string(cmd.Op())
		rec.TargetPath = cmd.Target()
	}

	switch o := outcome.(type) {
	case dispatch.Success:
		rec.ItemCount = mo.Some(o.ItemsAffected)
		if mv, ok := cmd.(command.Move); ok {
			rec.Detail = "moved to " + mv.Destination
		}
		rec.Detail = joinDetail(rec.Detail, failedDocuments(o.Documents))
	case dispatch.SafetyBlocked:
		rec.Detail = "unconfirmed delete"
	case dispatch.NotFound:
		rec.Detail = "not found: " + o.Path
	case dispatch.CapabilityError:
		rec.Detail = string(o.Kind)
		if o.Cause != nil {
			rec.Detail += ": " + o.Cause.Error()
		}
	case dispatch.ValidationError:
		rec.Detail = o.Reason
	case dispatch.ParseFailure:
		if o.Err != nil {
			rec.Detail = o.Err.Error()
		}
	}
	return rec
}

func failedDocuments(docs []dispatch.DocumentSummary) string {
	var parts []string
	for _, d := range docs {
		if d.Status == dispatch.DocFailed {
			parts = append(parts, fmt.Sprintf("%s failed (%s): %s", d.Path, d.Kind, d.Detail))
		}
	}
	return strings.Join(parts, "; ")
}

func joinDetail(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "; " + b
	}
}
