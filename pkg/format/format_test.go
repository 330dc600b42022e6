package format

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sipeed/driveclaw/pkg/capability"
	"github.com/sipeed/driveclaw/pkg/command"
	"github.com/sipeed/driveclaw/pkg/dispatch"
	"github.com/sipeed/driveclaw/pkg/drive"
)

func TestFormat_SafetyBlockedRoundTrip(t *testing.T) {
	f := New("CONFIRM")
	text := f.Format(dispatch.SafetyBlocked{Command: command.Delete{Path: "/a/b.pdf"}})

	lines := strings.Split(text, "\n")
	last := lines[len(lines)-1]
	if last != "DELETE /a/b.pdf CONFIRM" {
		t.Fatalf("confirmation line = %q", last)
	}

	cmd, err := command.NewParser("CONFIRM").Parse(last)
	if err != nil {
		t.Fatalf("restated command does not parse: %v", err)
	}
	want := command.Delete{Path: "/a/b.pdf", Confirmed: true}
	if cmd != want {
		t.Fatalf("parsed %#v, want %#v", cmd, want)
	}
}

func TestFormat_SafetyBlockedHintParsesForAnyWhitespace(t *testing.T) {
	paths := []string{
		"/My\u00a0Files/x.txt",
		"/a\nb",
		"/tab\there",
		"/wide\u3000space",
		"/plain/path.txt",
	}
	f := New("CONFIRM")
	parser := command.NewParser("CONFIRM")
	for _, p := range paths {
		hint := ConfirmCommand(p, "CONFIRM")
		if text := f.Format(dispatch.SafetyBlocked{Command: command.Delete{Path: p}}); !strings.HasSuffix(text, hint) {
			t.Fatalf("reply for %q does not end with %q: %q", p, hint, text)
		}
		cmd, err := parser.Parse(hint)
		if err != nil {
			t.Fatalf("hint %q does not parse: %v", hint, err)
		}
		want := command.Delete{Path: p, Confirmed: true}
		if cmd != want {
			t.Fatalf("hint %q parsed to %#v, want %#v", hint, cmd, want)
		}
	}
}

func TestFormat_SafetyBlockedQuotesSpaces(t *testing.T) {
	f := New("YES")
	text := f.Format(dispatch.SafetyBlocked{Command: command.Delete{Path: "/My Files/x.txt"}})
	if !strings.HasSuffix(text, `DELETE "/My Files/x.txt" YES`) {
		t.Fatalf("text = %q", text)
	}

	cmd, err := command.NewParser("YES").Parse(`DELETE "/My Files/x.txt" YES`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d := cmd.(command.Delete); !d.Confirmed || d.Path != "/My Files/x.txt" {
		t.Fatalf("parsed %#v", d)
	}
}

func TestFormat_ListEmpty(t *testing.T) {
	f := New("CONFIRM")
	text := f.Format(dispatch.Success{Op: command.OpList, Path: "/empty"})
	if text != "/empty is empty." {
		t.Fatalf("text = %q", text)
	}
}

func TestFormat_ListEntries(t *testing.T) {
	f := New("CONFIRM")
	mod := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	text := f.Format(dispatch.Success{
		Op:   command.OpList,
		Path: "/docs",
		Entries: []drive.Entry{
			{Name: "sub", Type: drive.TypeFolder},
			{Name: "a.txt", Type: drive.TypeFile, Size: 2048, ModifiedAt: mod},
		},
	})
	want := "/docs (2 items):\n📁 sub/\n📄 a.txt  2.0 KiB  2024-03-01"
	if text != want {
		t.Fatalf("text =\n%s\nwant\n%s", text, want)
	}
}

func TestFormat_ListTruncated(t *testing.T) {
	f := Formatter{MaxListEntries: 3}
	var entries []drive.Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, drive.Entry{Name: fmt.Sprintf("f%d", i), Type: drive.TypeFile})
	}
	text := f.Format(dispatch.Success{Op: command.OpList, Path: "/", Entries: entries})
	if !strings.HasSuffix(text, "… and 2 more") {
		t.Fatalf("text = %q", text)
	}
	if strings.Contains(text, "f3") {
		t.Fatalf("entry beyond limit rendered: %q", text)
	}
}

func TestFormat_SummaryTruncatesAndKeepsOrder(t *testing.T) {
	f := Formatter{MaxSummaryWords: 3}
	text := f.Format(dispatch.Success{
		Op:   command.OpSummary,
		Path: "/r",
		Documents: []dispatch.DocumentSummary{
			{Name: "a.txt", Summary: "one two three four five", Status: dispatch.DocOK},
			{Name: "b.txt", Status: dispatch.DocFailed, Kind: capability.KindTransient, Detail: "secret backend text"},
			{Name: "c.txt", Status: dispatch.DocSkipped},
		},
	})
	want := "📄 a.txt\none two three … [truncated]\n\n" +
		"📄 b.txt\n(failed: temporary error)\n\n" +
		"📄 c.txt\n(skipped)"
	if text != want {
		t.Fatalf("text =\n%s\nwant\n%s", text, want)
	}
}

func TestFormat_SummaryMarksPartialDocuments(t *testing.T) {
	f := New("CONFIRM")
	text := f.Format(dispatch.Success{
		Op:   command.OpSummary,
		Path: "/r",
		Documents: []dispatch.DocumentSummary{
			{Name: "big.log", Summary: "starts well", Status: dispatch.DocOK, Partial: true},
			{Name: "small.txt", Summary: "complete", Status: dispatch.DocOK},
		},
	})
	want := "📄 big.log\nstarts well\n" + partialMarker + "\n\n📄 small.txt\ncomplete"
	if text != want {
		t.Fatalf("text =\n%s\nwant\n%s", text, want)
	}
}

func TestFormat_SummaryNoDocuments(t *testing.T) {
	f := New("CONFIRM")
	text := f.Format(dispatch.Success{Op: command.OpSummary, Path: "/pics", Note: "No summarizable documents found."})
	if text != "/pics: No summarizable documents found." {
		t.Fatalf("text = %q", text)
	}
}

func TestFormat_CapabilityErrorHidesCause(t *testing.T) {
	f := New("CONFIRM")
	text := f.Format(dispatch.CapabilityError{
		Op:    command.OpMove,
		Kind:  capability.KindPermission,
		Cause: errors.New("googleapi: Error 403: insufficientFilePermissions"),
	})
	if strings.Contains(text, "403") || strings.Contains(text, "googleapi") {
		t.Fatalf("raw backend text leaked: %q", text)
	}
	if !strings.Contains(text, "permission denied") {
		t.Fatalf("text = %q", text)
	}
}

func TestFormat_ParseFailureIncludesHelp(t *testing.T) {
	f := New("CONFIRM")
	_, err := command.Parse("FOO")
	var pe *command.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	text := f.Format(dispatch.ParseFailure{Err: pe})
	if !strings.Contains(text, "unknown command") || !strings.Contains(text, "Available commands:") {
		t.Fatalf("text = %q", text)
	}
}

func TestFormat_NeverBlank(t *testing.T) {
	f := New("")
	outcomes := []dispatch.Outcome{
		dispatch.Success{},
		dispatch.Success{Op: command.OpHelp},
		dispatch.Success{Op: command.OpSummary},
		dispatch.SafetyBlocked{},
		dispatch.NotFound{},
		dispatch.CapabilityError{},
		dispatch.ValidationError{},
		dispatch.ParseFailure{},
		dispatch.Success{Op: command.OpHelp, Text: "x", Note: "n"},
	}
	for _, o := range outcomes {
		if strings.TrimSpace(f.Format(o)) == "" {
			t.Fatalf("blank text for %#v", o)
		}
	}
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
		{15 * 1024, "15 KiB"},
		{-1, "0 B"},
	}
	for _, tt := range tests {
		if got := HumanSize(tt.n); got != tt.want {
			t.Errorf("HumanSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
