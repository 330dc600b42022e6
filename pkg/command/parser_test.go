package command

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/samber/mo"
)

var optionCmp = cmp.AllowUnexported(mo.Option[string]{})

func TestParseValidCommands(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Command
	}{
		{name: "list", in: "LIST /ProjectX", want: List{Path: "/ProjectX"}},
		{name: "verb is case-insensitive", in: "list /ProjectX", want: List{Path: "/ProjectX"}},
		{name: "surrounding whitespace", in: "  LIST   /ProjectX  \n", want: List{Path: "/ProjectX"}},
		{name: "delete unconfirmed", in: "DELETE /ProjectX/report.pdf", want: Delete{Path: "/ProjectX/report.pdf"}},
		{name: "delete confirmed", in: "DELETE /a/b.pdf CONFIRM", want: Delete{Path: "/a/b.pdf", Confirmed: true}},
		{name: "keyword inside path is not confirmation", in: "DELETE /CONFIRM/b.pdf", want: Delete{Path: "/CONFIRM/b.pdf"}},
		{name: "move", in: "MOVE /a/x.pdf /b", want: Move{Source: "/a/x.pdf", Destination: "/b"}},
		{name: "summary", in: "Summary /f", want: Summary{Path: "/f"}},
		{name: "help", in: "HELP", want: Help{Topic: mo.None[string]()}},
		{name: "help topic", in: "help Delete", want: Help{Topic: mo.Some("delete")}},
		{name: "bot command style", in: "/list@drive_bot /ProjectX", want: List{Path: "/ProjectX"}},
		{name: "quoted path", in: `LIST "/My Files/2026"`, want: List{Path: "/My Files/2026"}},
		{name: "dotdot passes through", in: "LIST /a/../b", want: List{Path: "/a/../b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got, optionCmp); diff != "" {
				t.Fatalf("Parse(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		in         string
		wantReason string
		wantVerb   string
	}{
		{in: "FOO", wantReason: ReasonUnknownCommand, wantVerb: "FOO"},
		{in: "", wantReason: ReasonEmpty},
		{in: "   ", wantReason: ReasonEmpty},
		{in: "LIST", wantReason: ReasonMissingPath, wantVerb: "LIST"},
		{in: "LIST ProjectX", wantReason: "path must start with /", wantVerb: "LIST"},
		{in: "LIST /a /b", wantReason: ReasonUnexpectedArg, wantVerb: "LIST"},
		{in: "DELETE", wantReason: ReasonMissingPath, wantVerb: "DELETE"},
		{in: "DELETE /a confirm", wantReason: ReasonUnexpectedArg, wantVerb: "DELETE"},
		{in: "MOVE /a", wantReason: ReasonMissingDest, wantVerb: "MOVE"},
		{in: "MOVE", wantReason: ReasonMissingSource, wantVerb: "MOVE"},
		{in: "MOVE /a b", wantReason: "path must start with /", wantVerb: "MOVE"},
		{in: "SUMMARY", wantReason: ReasonMissingPath, wantVerb: "SUMMARY"},
		{in: `LIST "/open`, wantReason: ReasonUnterminated},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cmd, err := Parse(tt.in)
			if cmd != nil {
				t.Fatalf("Parse(%q) returned command %#v alongside error", tt.in, cmd)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Parse(%q) error = %v, want *ParseError", tt.in, err)
			}
			if !strings.HasPrefix(pe.Reason, tt.wantReason) {
				t.Fatalf("reason = %q, want prefix %q", pe.Reason, tt.wantReason)
			}
			if pe.Verb != tt.wantVerb {
				t.Fatalf("verb = %q, want %q", pe.Verb, tt.wantVerb)
			}
			if pe.RawInput != tt.in {
				t.Fatalf("raw input = %q, want %q", pe.RawInput, tt.in)
			}
		})
	}
}

func TestParseCustomKeywordIsCaseSensitive(t *testing.T) {
	p := NewParser("YES")

	cmd, err := p.Parse("DELETE /a YES")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d := cmd.(Delete); !d.Confirmed {
		t.Fatal("expected confirmed delete with custom keyword")
	}

	if _, err := p.Parse("DELETE /a yes"); err == nil {
		t.Fatal("lower-case keyword must not confirm")
	}
	if _, err := p.Parse("DELETE /a CONFIRM"); err == nil {
		t.Fatal("default keyword must not confirm when a custom keyword is configured")
	}
}

func TestParseQuotedKeywordDoesNotConfirm(t *testing.T) {
	_, err := Parse(`DELETE /a "CONFIRM"`)
	if err == nil {
		t.Fatal("quoted keyword must not confirm")
	}
}

func TestParseIsDeterministic(t *testing.T) {
	inputs := []string{"LIST /x", "DELETE /a/b.pdf CONFIRM", "MOVE /a /b", "SUMMARY /f", "HELP list"}
	for _, in := range inputs {
		first, err1 := Parse(in)
		second, err2 := Parse(in)
		if err1 != nil || err2 != nil {
			t.Fatalf("Parse(%q) errors: %v / %v", in, err1, err2)
		}
		if diff := cmp.Diff(first, second, optionCmp); diff != "" {
			t.Fatalf("Parse(%q) not deterministic:\n%s", in, diff)
		}
	}
}
