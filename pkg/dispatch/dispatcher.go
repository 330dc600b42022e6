// Package dispatch executes parsed commands against the drive and summarizer
// capabilities and normalizes every result into an Outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sipeed/driveclaw/pkg/capability"
	"github.com/sipeed/driveclaw/pkg/command"
	"github.com/sipeed/driveclaw/pkg/drive"
	"github.com/sipeed/driveclaw/pkg/logger"
	"github.com/sipeed/driveclaw/pkg/summarizer"
)

const DefaultSummaryConcurrency = 4

type Options struct {
	ConfirmKeyword     string
	CallTimeout        time.Duration
	SummaryConcurrency int
}

// Dispatcher holds no per-message state; one instance serves every sender.
type Dispatcher struct {
	drive       drive.Drive
	summarizer  summarizer.Summarizer
	caller      capability.Caller
	keyword     string
	concurrency int
}

func New(d drive.Drive, s summarizer.Summarizer, opts Options) *Dispatcher {
	if opts.ConfirmKeyword == "" {
		opts.ConfirmKeyword = command.DefaultConfirmKeyword
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = capability.DefaultCallTimeout
	}
	if opts.SummaryConcurrency <= 0 {
		opts.SummaryConcurrency = DefaultSummaryConcurrency
	}
	return &Dispatcher{
		drive:       d,
		summarizer:  s,
		caller:      capability.Caller{Timeout: opts.CallTimeout},
		keyword:     opts.ConfirmKeyword,
		concurrency: opts.SummaryConcurrency,
	}
}

// Dispatch runs cmd and always returns an outcome, including when a handler
// panics.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd command.Command) (out Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("dispatch", "Handler panicked", map[string]interface{}{
				"op":    string(cmd.Op()),
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
			out = CapabilityError{
				Op:     cmd.Op(),
				Kind:   capability.KindUnavailable,
				Detail: ErrorText(capability.KindUnavailable),
				Cause:  fmt.Errorf("handler panic: %v", r),
			}
		}
		logger.DebugCF("dispatch", "Command dispatched", map[string]interface{}{
			"op":          string(cmd.Op()),
			"outcome":     out.Tag(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}()

	switch c := cmd.(type) {
	case command.Help:
		return d.help(c)
	case command.List:
		return d.list(ctx, c)
	case command.Delete:
		return d.delete(ctx, c)
	case command.Move:
		return d.move(ctx, c)
	case command.Summary:
		return d.summary(ctx, c)
	default:
		return ValidationError{Op: cmd.Op(), Reason: fmt.Sprintf("unsupported command %s", cmd.Op())}
	}
}

func (d *Dispatcher) help(c command.Help) Outcome {
	topic, ok := c.Topic.Get()
	if !ok {
		return Success{Op: command.OpHelp, Text: HelpOverview(d.keyword)}
	}
	if text, found := HelpTopic(d.keyword, topic); found {
		return Success{Op: command.OpHelp, Text: text}
	}
	return Success{
		Op:   command.OpHelp,
		Text: HelpOverview(d.keyword),
		Note: fmt.Sprintf("No help for %q. Topics: %s.", topic, strings.Join(HelpTopicNames(), ", ")),
	}
}

func (d *Dispatcher) list(ctx context.Context, c command.List) Outcome {
	entries, err := capability.Do(ctx, d.caller, "drive.list", func(ctx context.Context) ([]drive.Entry, error) {
		return d.drive.List(ctx, c.Path)
	})
	if err != nil {
		return failure(command.OpList, c.Path, err)
	}
	return Success{Op: command.OpList, Path: c.Path, ItemsAffected: len(entries), Entries: entries}
}

func (d *Dispatcher) delete(ctx context.Context, c command.Delete) Outcome {
	if !c.Confirmed {
		return SafetyBlocked{Command: c}
	}
	if isRoot(c.Path) {
		return ValidationError{Op: command.OpDelete, Reason: "the drive root cannot be deleted"}
	}
	err := capability.Exec(ctx, d.caller, "drive.delete", func(ctx context.Context) error {
		return d.drive.Delete(ctx, c.Path)
	})
	if err != nil {
		return failure(command.OpDelete, c.Path, err)
	}
	logger.InfoCF("dispatch", "Item deleted", map[string]interface{}{"path": c.Path})
	return Success{Op: command.OpDelete, Path: c.Path, ItemsAffected: 1}
}

func (d *Dispatcher) move(ctx context.Context, c command.Move) Outcome {
	src, dst := trimSlash(c.Source), trimSlash(c.Destination)
	switch {
	case src == dst:
		return ValidationError{Op: command.OpMove, Reason: "source and destination are the same"}
	case isRoot(src):
		return ValidationError{Op: command.OpMove, Reason: "the drive root cannot be moved"}
	case strings.HasPrefix(dst, src+"/"):
		return ValidationError{Op: command.OpMove, Reason: "a folder cannot be moved into itself"}
	}

	err := capability.Exec(ctx, d.caller, "drive.move", func(ctx context.Context) error {
		return d.drive.Move(ctx, c.Source, c.Destination)
	})
	if err != nil {
		return failure(command.OpMove, c.Source, err)
	}
	return Success{
		Op:            command.OpMove,
		Path:          c.Source,
		Text:          c.Destination,
		ItemsAffected: 1,
	}
}

// failure maps a capability error to its outcome. Raw error text stays in
// Cause.
func failure(op command.Op, p string, err error) Outcome {
	if capability.IsNotFound(err) {
		var nf *capability.NotFoundError
		if errors.As(err, &nf) && nf.Path != "" {
			p = nf.Path
		}
		return NotFound{Op: op, Path: p}
	}
	if capability.IsConflict(err) {
		return ValidationError{Op: op, Reason: "the destination already exists"}
	}
	kind := capability.KindOf(err)
	logger.WarnCF("dispatch", "Capability call failed", map[string]interface{}{
		"op":    string(op),
		"path":  p,
		"kind":  string(kind),
		"error": err.Error(),
	})
	return CapabilityError{Op: op, Kind: kind, Detail: ErrorText(kind), Cause: err}
}

func isRoot(p string) bool {
	return path.Clean("/"+strings.TrimSpace(p)) == "/"
}

func trimSlash(p string) string {
	if len(p) > 1 {
		return strings.TrimRight(p, "/")
	}
	return p
}
