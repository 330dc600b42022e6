package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/samber/mo"

	"github.com/sipeed/driveclaw/pkg/capability"
	"github.com/sipeed/driveclaw/pkg/capability/captest"
	"github.com/sipeed/driveclaw/pkg/command"
	"github.com/sipeed/driveclaw/pkg/drive"
)

func newTestDispatcher(d drive.Drive, s *captest.FakeSummarizer) *Dispatcher {
	if s == nil {
		s = captest.NewFakeSummarizer()
	}
	return New(d, s, Options{CallTimeout: time.Second, SummaryConcurrency: 4})
}

func file(name string) drive.Entry {
	return drive.Entry{Name: name, Type: drive.TypeFile, Size: 10}
}

func folder(name string) drive.Entry {
	return drive.Entry{Name: name, Type: drive.TypeFolder}
}

func TestDispatch_UnconfirmedDeleteMakesNoCapabilityCalls(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFile("/a/b.pdf", "x", "application/pdf")
	d := newTestDispatcher(fd, nil)

	out := d.Dispatch(context.Background(), command.Delete{Path: "/a/b.pdf"})

	blocked, ok := out.(SafetyBlocked)
	if !ok {
		t.Fatalf("expected SafetyBlocked, got %#v", out)
	}
	if blocked.Command.Path != "/a/b.pdf" {
		t.Fatalf("blocked path = %q", blocked.Command.Path)
	}
	if n := fd.CallCount(""); n != 0 {
		t.Fatalf("expected zero capability calls, got %d: %v", n, fd.Calls())
	}
}

func TestDispatch_ConfirmedDelete(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFile("/a/b.pdf", "x", "application/pdf")
	d := newTestDispatcher(fd, nil)

	out := d.Dispatch(context.Background(), command.Delete{Path: "/a/b.pdf", Confirmed: true})

	want := Success{Op: command.OpDelete, Path: "/a/b.pdf", ItemsAffected: 1}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}
	if n := fd.CallCount("delete"); n != 1 {
		t.Fatalf("delete calls = %d, want 1", n)
	}
}

func TestDispatch_DeleteRootRejected(t *testing.T) {
	fd := captest.NewFakeDrive()
	d := newTestDispatcher(fd, nil)

	for _, p := range []string{"/", "//", "/."} {
		out := d.Dispatch(context.Background(), command.Delete{Path: p, Confirmed: true})
		if _, ok := out.(ValidationError); !ok {
			t.Fatalf("%q: expected ValidationError, got %#v", p, out)
		}
	}
	if n := fd.CallCount(""); n != 0 {
		t.Fatalf("expected no calls, got %v", fd.Calls())
	}
}

func TestDispatch_DeleteNotFound(t *testing.T) {
	d := newTestDispatcher(captest.NewFakeDrive(), nil)
	out := d.Dispatch(context.Background(), command.Delete{Path: "/gone", Confirmed: true})
	if diff := cmp.Diff(NotFound{Op: command.OpDelete, Path: "/gone"}, out); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatch_TransientFailureRetriedOnce(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFile("/a.txt", "x", "text/plain")
	fd.Script("delete", "/a.txt", capability.Transient("drive.delete", errors.New("503")))
	d := newTestDispatcher(fd, nil)

	out := d.Dispatch(context.Background(), command.Delete{Path: "/a.txt", Confirmed: true})

	if out.Tag() != TagSuccess {
		t.Fatalf("expected success after retry, got %#v", out)
	}
	if n := fd.CallCount("delete"); n != 2 {
		t.Fatalf("delete calls = %d, want 2", n)
	}
}

func TestDispatch_TransientFailureTwiceSurfaces(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFile("/a.txt", "x", "text/plain")
	boom := capability.Transient("drive.delete", errors.New("503"))
	fd.Script("delete", "/a.txt", boom, boom, boom)
	d := newTestDispatcher(fd, nil)

	out := d.Dispatch(context.Background(), command.Delete{Path: "/a.txt", Confirmed: true})

	ce, ok := out.(CapabilityError)
	if !ok || ce.Kind != capability.KindTransient {
		t.Fatalf("expected transient CapabilityError, got %#v", out)
	}
	if n := fd.CallCount("delete"); n != 2 {
		t.Fatalf("delete calls = %d, want 2", n)
	}
}

func TestDispatch_MovePermissionFaultNotRetried(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFile("/a.txt", "x", "text/plain")
	fd.Script("move", "/a.txt", capability.Permission("drive.move", errors.New("403 insufficientPermissions")))
	d := newTestDispatcher(fd, nil)

	out := d.Dispatch(context.Background(), command.Move{Source: "/a.txt", Destination: "/b.txt"})

	ce, ok := out.(CapabilityError)
	if !ok {
		t.Fatalf("expected CapabilityError, got %#v", out)
	}
	if ce.Kind != capability.KindPermission {
		t.Fatalf("kind = %s, want permission", ce.Kind)
	}
	if strings.Contains(ce.Detail, "403") {
		t.Fatalf("detail leaks backend text: %q", ce.Detail)
	}
	if n := fd.CallCount("move"); n != 1 {
		t.Fatalf("move calls = %d, want exactly 1", n)
	}
}

func TestDispatch_MoveValidation(t *testing.T) {
	tests := []struct {
		name     string
		src, dst string
	}{
		{"same path", "/a", "/a"},
		{"same path trailing slash", "/a/", "/a"},
		{"into own subtree", "/a", "/a/b"},
		{"root", "/", "/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd := captest.NewFakeDrive()
			d := newTestDispatcher(fd, nil)
			out := d.Dispatch(context.Background(), command.Move{Source: tt.src, Destination: tt.dst})
			if _, ok := out.(ValidationError); !ok {
				t.Fatalf("expected ValidationError, got %#v", out)
			}
			if n := fd.CallCount(""); n != 0 {
				t.Fatalf("expected no calls, got %v", fd.Calls())
			}
		})
	}
}

func TestDispatch_MoveSiblingPrefixAllowed(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFolder("/a")
	d := newTestDispatcher(fd, nil)

	out := d.Dispatch(context.Background(), command.Move{Source: "/a", Destination: "/ab"})
	if out.Tag() != TagSuccess {
		t.Fatalf("expected success, got %#v", out)
	}
}

func TestDispatch_MoveConflict(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFile("/a.txt", "x", "text/plain")
	fd.AddFile("/b.txt", "y", "text/plain")
	d := newTestDispatcher(fd, nil)

	out := d.Dispatch(context.Background(), command.Move{Source: "/a.txt", Destination: "/b.txt"})
	if _, ok := out.(ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %#v", out)
	}
}

func TestDispatch_ListEmptyFolder(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFolder("/empty")
	d := newTestDispatcher(fd, nil)

	out := d.Dispatch(context.Background(), command.List{Path: "/empty"})

	s, ok := out.(Success)
	if !ok {
		t.Fatalf("expected Success, got %#v", out)
	}
	if s.ItemsAffected != 0 || len(s.Entries) != 0 {
		t.Fatalf("expected empty success, got %#v", s)
	}
}

func TestDispatch_ListIdempotent(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFolder("/docs", folder("sub"), file("a.txt"), file("b.md"))
	d := newTestDispatcher(fd, nil)

	first := d.Dispatch(context.Background(), command.List{Path: "/docs"})
	second := d.Dispatch(context.Background(), command.List{Path: "/docs"})

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated LIST differs (-first +second):\n%s", diff)
	}
	if s := first.(Success); s.ItemsAffected != 3 {
		t.Fatalf("items = %d, want 3", s.ItemsAffected)
	}
}

func TestDispatch_ListNotFound(t *testing.T) {
	d := newTestDispatcher(captest.NewFakeDrive(), nil)
	out := d.Dispatch(context.Background(), command.List{Path: "/nope"})
	if diff := cmp.Diff(NotFound{Op: command.OpList, Path: "/nope"}, out); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatch_SummaryPreservesListingOrder(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFolder("/r", file("a.txt"), file("b.txt"), file("c.txt"))
	fd.AddFile("/r/a.txt", "alpha", "text/plain")
	fd.AddFile("/r/b.txt", "beta", "text/plain")
	fd.AddFile("/r/c.txt", "gamma", "text/plain")

	fs := captest.NewFakeSummarizer()
	fs.Delay("alpha", 80*time.Millisecond)
	fs.Delay("gamma", 40*time.Millisecond)
	d := newTestDispatcher(fd, fs)

	out := d.Dispatch(context.Background(), command.Summary{Path: "/r"})

	s, ok := out.(Success)
	if !ok {
		t.Fatalf("expected Success, got %#v", out)
	}
	var names []string
	for _, doc := range s.Documents {
		names = append(names, doc.Name)
		if doc.Status != DocOK {
			t.Fatalf("%s status = %s", doc.Name, doc.Status)
		}
	}
	if diff := cmp.Diff([]string{"a.txt", "b.txt", "c.txt"}, names); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if s.ItemsAffected != 3 {
		t.Fatalf("items = %d", s.ItemsAffected)
	}
	if !strings.HasPrefix(s.Text, "a.txt: summary: alpha") {
		t.Fatalf("text = %q", s.Text)
	}
}

func TestDispatch_SummaryFlagsPartialReads(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFolder("/r", file("big.txt"), file("small.txt"))
	fd.AddPartialFile("/r/big.txt", "beginning", "text/plain")
	fd.AddFile("/r/small.txt", "whole", "text/plain")
	d := newTestDispatcher(fd, captest.NewFakeSummarizer())

	out := d.Dispatch(context.Background(), command.Summary{Path: "/r"})

	s, ok := out.(Success)
	if !ok {
		t.Fatalf("expected Success, got %#v", out)
	}
	if !s.Documents[0].Partial || s.Documents[1].Partial {
		t.Fatalf("partial flags = %v/%v, want true/false", s.Documents[0].Partial, s.Documents[1].Partial)
	}
	if !strings.Contains(s.Text, "big.txt: summary: beginning "+partialNote) {
		t.Fatalf("text = %q", s.Text)
	}
}

func TestDispatch_SummaryConcurrencyBounded(t *testing.T) {
	fd := captest.NewFakeDrive()
	fs := captest.NewFakeSummarizer()
	var entries []drive.Entry
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("doc%d.txt", i)
		content := fmt.Sprintf("content %d", i)
		entries = append(entries, file(name))
		fd.AddFile("/many/"+name, content, "text/plain")
		fs.Delay(content, 20*time.Millisecond)
	}
	fd.AddFolder("/many", entries...)

	d := New(fd, fs, Options{CallTimeout: time.Second, SummaryConcurrency: 2})
	out := d.Dispatch(context.Background(), command.Summary{Path: "/many"})

	if out.Tag() != TagSuccess {
		t.Fatalf("expected success, got %#v", out)
	}
	if peak := fs.PeakConcurrency(); peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}
	if fs.Calls() != 8 {
		t.Fatalf("summarize calls = %d", fs.Calls())
	}
}

func TestDispatch_SummaryPartialFailure(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFolder("/r", file("a.txt"), file("b.txt"))
	fd.AddFile("/r/a.txt", "alpha", "text/plain")
	fd.AddFile("/r/b.txt", "beta", "text/plain")
	fs := captest.NewFakeSummarizer()
	fs.Fail("alpha", capability.Permission("summarizer.summarize", errors.New("401")))
	d := newTestDispatcher(fd, fs)

	out := d.Dispatch(context.Background(), command.Summary{Path: "/r"})

	s, ok := out.(Success)
	if !ok {
		t.Fatalf("expected Success, got %#v", out)
	}
	if s.Documents[0].Status != DocFailed || s.Documents[0].Kind != capability.KindPermission {
		t.Fatalf("first doc = %#v", s.Documents[0])
	}
	if s.Documents[1].Status != DocOK {
		t.Fatalf("second doc = %#v", s.Documents[1])
	}
	if s.ItemsAffected != 1 {
		t.Fatalf("items = %d, want 1", s.ItemsAffected)
	}
}

func TestDispatch_SummaryAllFailed(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFolder("/r", file("a.txt"), file("b.txt"))
	fd.AddFile("/r/a.txt", "alpha", "text/plain")
	fd.AddFile("/r/b.txt", "beta", "text/plain")
	fs := captest.NewFakeSummarizer()
	fs.Fail("alpha", capability.Permission("summarizer.summarize", errors.New("401")))
	fs.Fail("beta", capability.Unavailable("summarizer.summarize", errors.New("400")))
	d := newTestDispatcher(fd, fs)

	out := d.Dispatch(context.Background(), command.Summary{Path: "/r"})

	ce, ok := out.(CapabilityError)
	if !ok {
		t.Fatalf("expected CapabilityError, got %#v", out)
	}
	if ce.Kind != capability.KindPermission {
		t.Fatalf("kind = %s, want the first failure's kind", ce.Kind)
	}
	if !strings.Contains(ce.Cause.Error(), "/r/a.txt") {
		t.Fatalf("cause should name the first failed document: %v", ce.Cause)
	}
}

func TestDispatch_SummaryReadTimeoutIsTransient(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFile("/slow.txt", "slow", "text/plain")
	fd.Delay("/slow.txt", time.Second)
	d := New(fd, captest.NewFakeSummarizer(), Options{CallTimeout: 20 * time.Millisecond})

	out := d.Dispatch(context.Background(), command.Summary{Path: "/slow.txt"})

	ce, ok := out.(CapabilityError)
	if !ok || ce.Kind != capability.KindTransient {
		t.Fatalf("expected transient CapabilityError, got %#v", out)
	}
	if n := fd.CallCount("read"); n != 2 {
		t.Fatalf("read calls = %d, want 2", n)
	}
}

func TestDispatch_SummaryNoDocuments(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFolder("/pics", folder("raw"), file("cat.png"))
	d := newTestDispatcher(fd, nil)

	out := d.Dispatch(context.Background(), command.Summary{Path: "/pics"})

	want := Success{Op: command.OpSummary, Path: "/pics", Note: noDocumentsNote}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}
	if n := fd.CallCount("read"); n != 0 {
		t.Fatalf("read calls = %d", n)
	}
}

func TestDispatch_SummarySingleFile(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFile("/notes.md", "# notes", "text/markdown")
	d := newTestDispatcher(fd, nil)

	out := d.Dispatch(context.Background(), command.Summary{Path: "/notes.md"})

	s, ok := out.(Success)
	if !ok || len(s.Documents) != 1 || s.Documents[0].Path != "/notes.md" {
		t.Fatalf("unexpected outcome %#v", out)
	}
}

func TestDispatch_SummaryCancelledSkipsUnstarted(t *testing.T) {
	fd := captest.NewFakeDrive()
	fd.AddFolder("/r", file("a.txt"), file("b.txt"))
	fd.AddFile("/r/a.txt", "alpha", "text/plain")
	fd.AddFile("/r/b.txt", "beta", "text/plain")
	fs := captest.NewFakeSummarizer()
	d := newTestDispatcher(fd, fs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := d.Dispatch(ctx, command.Summary{Path: "/r"})

	s, ok := out.(Success)
	if !ok {
		t.Fatalf("expected Success with skipped documents, got %#v", out)
	}
	for _, doc := range s.Documents {
		if doc.Status != DocSkipped {
			t.Fatalf("%s status = %s, want skipped", doc.Name, doc.Status)
		}
	}
	if fs.Calls() != 0 {
		t.Fatalf("summarizer called %d times after cancellation", fs.Calls())
	}
}

type panickyDrive struct {
	captest.FakeDrive
}

func (*panickyDrive) List(context.Context, string) ([]drive.Entry, error) {
	panic("boom")
}

func TestDispatch_PanicBecomesCapabilityError(t *testing.T) {
	d := newTestDispatcher(&panickyDrive{}, nil)

	out := d.Dispatch(context.Background(), command.List{Path: "/x"})

	ce, ok := out.(CapabilityError)
	if !ok || ce.Kind != capability.KindUnavailable {
		t.Fatalf("expected unavailable CapabilityError, got %#v", out)
	}
}

func TestDispatch_Help(t *testing.T) {
	d := newTestDispatcher(captest.NewFakeDrive(), nil)

	overview := d.Dispatch(context.Background(), command.Help{Topic: mo.None[string]()}).(Success)
	if !strings.Contains(overview.Text, "DELETE <path> CONFIRM") {
		t.Fatalf("overview missing delete usage: %q", overview.Text)
	}

	topic := d.Dispatch(context.Background(), command.Help{Topic: mo.Some("move")}).(Success)
	if !strings.HasPrefix(topic.Text, "MOVE <source> <destination>") {
		t.Fatalf("move topic = %q", topic.Text)
	}

	unknown := d.Dispatch(context.Background(), command.Help{Topic: mo.Some("frobnicate")}).(Success)
	if unknown.Text != overview.Text || !strings.Contains(unknown.Note, "frobnicate") {
		t.Fatalf("unknown topic = %#v", unknown)
	}
}

func TestHelpTopic_UsesConfiguredKeyword(t *testing.T) {
	text, ok := HelpTopic("YES", "delete")
	if !ok {
		t.Fatal("delete topic missing")
	}
	if !strings.Contains(text, "DELETE <path> YES") || strings.Contains(text, "CONFIRM") {
		t.Fatalf("delete topic = %q", text)
	}
	if strings.Contains(text, "EXTRA") {
		t.Fatalf("format leftovers in %q", text)
	}
}
