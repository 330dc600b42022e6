// Package format renders dispatch outcomes as chat replies.
package format

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"

	"github.com/sipeed/driveclaw/pkg/capability"
	"github.com/sipeed/driveclaw/pkg/command"
	"github.com/sipeed/driveclaw/pkg/dispatch"
	"github.com/sipeed/driveclaw/pkg/drive"
)

const (
	DefaultMaxSummaryWords = 200
	DefaultMaxListEntries  = 50

	truncationMarker = " … [truncated]"
	partialMarker    = "(partial: the document is larger than the read limit; only its beginning was summarized)"
)

// Formatter is pure: the same outcome always renders to the same text, and
// the text is never blank.
type Formatter struct {
	ConfirmKeyword  string
	MaxSummaryWords int
	MaxListEntries  int
}

func New(confirmKeyword string) Formatter {
	return Formatter{
		ConfirmKeyword:  confirmKeyword,
		MaxSummaryWords: DefaultMaxSummaryWords,
		MaxListEntries:  DefaultMaxListEntries,
	}
}

func (f Formatter) keyword() string {
	if f.ConfirmKeyword == "" {
		return command.DefaultConfirmKeyword
	}
	return f.ConfirmKeyword
}

func (f Formatter) Format(o dispatch.Outcome) string {
	var text string
	switch v := o.(type) {
	case dispatch.Success:
		text = f.success(v)
	case dispatch.SafetyBlocked:
		text = f.safetyBlocked(v)
	case dispatch.NotFound:
		text = fmt.Sprintf("Not found: %s", v.Path)
	case dispatch.CapabilityError:
		text = f.capabilityError(v)
	case dispatch.ValidationError:
		text = fmt.Sprintf("Cannot %s: %s.", strings.ToLower(string(v.Op)), v.Reason)
	case dispatch.ParseFailure:
		text = f.parseFailure(v)
	}
	if strings.TrimSpace(text) == "" {
		return "Done."
	}
	return text
}

func (f Formatter) success(s dispatch.Success) string {
	switch s.Op {
	case command.OpList:
		return f.list(s)
	case command.OpSummary:
		return f.summary(s)
	case command.OpDelete:
		return fmt.Sprintf("Deleted %s.", s.Path)
	case command.OpMove:
		return fmt.Sprintf("Moved %s to %s.", s.Path, s.Text)
	case command.OpHelp:
		if s.Note != "" {
			return s.Note + "\n\n" + s.Text
		}
		return s.Text
	}
	return s.Text
}

func (f Formatter) list(s dispatch.Success) string {
	if len(s.Entries) == 0 {
		return fmt.Sprintf("%s is empty.", s.Path)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s):", s.Path, plural(len(s.Entries), "item"))

	limit := f.MaxListEntries
	if limit <= 0 {
		limit = DefaultMaxListEntries
	}
	shown := s.Entries
	if len(shown) > limit {
		shown = shown[:limit]
	}
	for _, e := range shown {
		b.WriteString("\n")
		b.WriteString(entryLine(e))
	}
	if rest := len(s.Entries) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "\n… and %d more", rest)
	}
	return b.String()
}

func entryLine(e drive.Entry) string {
	if e.Type == drive.TypeFolder {
		line := "📁 " + e.Name + "/"
		if !e.ModifiedAt.IsZero() {
			line += "  " + e.ModifiedAt.UTC().Format("2006-01-02")
		}
		return line
	}
	line := "📄 " + e.Name + "  " + HumanSize(e.Size)
	if !e.ModifiedAt.IsZero() {
		line += "  " + e.ModifiedAt.UTC().Format("2006-01-02")
	}
	return line
}

func (f Formatter) summary(s dispatch.Success) string {
	if len(s.Documents) == 0 {
		note := s.Note
		if note == "" {
			note = "No summarizable documents found."
		}
		return fmt.Sprintf("%s: %s", s.Path, note)
	}

	limit := f.MaxSummaryWords
	if limit <= 0 {
		limit = DefaultMaxSummaryWords
	}

	blocks := make([]string, 0, len(s.Documents))
	for _, doc := range s.Documents {
		var body string
		switch doc.Status {
		case dispatch.DocOK:
			body = TruncateWords(doc.Summary, limit)
			if doc.Partial {
				body += "\n" + partialMarker
			}
		case dispatch.DocSkipped:
			body = "(skipped)"
		default:
			body = "(failed: " + kindText(doc.Kind) + ")"
		}
		blocks = append(blocks, "📄 "+doc.Name+"\n"+body)
	}
	return strings.Join(blocks, "\n\n")
}

func (f Formatter) safetyBlocked(b dispatch.SafetyBlocked) string {
	return fmt.Sprintf("⚠️ DELETE is permanent. To delete %s, send:\n%s",
		b.Command.Path, ConfirmCommand(b.Command.Path, f.keyword()))
}

// ConfirmCommand is the exact message that confirms deleting p.
func ConfirmCommand(p, keyword string) string {
	return fmt.Sprintf("DELETE %s %s", quotePath(p), keyword)
}

// quotePath quotes p when the parser would split it into several tokens.
func quotePath(p string) string {
	if strings.ContainsFunc(p, unicode.IsSpace) {
		return `"` + p + `"`
	}
	return p
}

func (f Formatter) capabilityError(e dispatch.CapabilityError) string {
	detail := e.Detail
	if detail == "" {
		detail = dispatch.ErrorText(e.Kind)
	}
	return fmt.Sprintf("%s failed (%s). %s", e.Op, kindText(e.Kind), detail)
}

func (f Formatter) parseFailure(p dispatch.ParseFailure) string {
	reason := "could not understand the message"
	if p.Err != nil {
		reason = p.Err.Error()
	}
	return fmt.Sprintf("Sorry, %s.\n\n%s", reason, dispatch.HelpOverview(f.keyword()))
}

func kindText(k capability.Kind) string {
	switch k {
	case capability.KindTransient:
		return "temporary error"
	case capability.KindPermission:
		return "permission denied"
	default:
		return "service unavailable"
	}
}

// TruncateWords keeps the first max whitespace-separated words of s and
// marks the cut.
func TruncateWords(s string, max int) string {
	words := strings.Fields(s)
	if len(words) <= max {
		return strings.TrimSpace(s)
	}
	return strings.Join(words[:max], " ") + truncationMarker
}

// HumanSize renders a byte count with binary units.
func HumanSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
