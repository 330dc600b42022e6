// Package captest provides recording fakes for the drive and summarizer
// capabilities.
package captest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/driveclaw/pkg/capability"
	"github.com/sipeed/driveclaw/pkg/drive"
)

type Call struct {
	Op   string
	Args []string
}

// FakeDrive is an in-memory drive that records every call. Errors can be
// scripted per operation and path; a scripted sequence is consumed one call
// at a time and the fake falls back to its stored state afterwards.
type FakeDrive struct {
	mu       sync.Mutex
	listings map[string][]drive.Entry
	contents map[string]drive.Content
	scripts  map[string][]error
	delays   map[string]time.Duration
	calls    []Call
}

var _ drive.Drive = (*FakeDrive)(nil)

func NewFakeDrive() *FakeDrive {
	return &FakeDrive{
		listings: make(map[string][]drive.Entry),
		contents: make(map[string]drive.Content),
		scripts:  make(map[string][]error),
		delays:   make(map[string]time.Duration),
	}
}

// AddFolder registers a folder listing. Entries keep the given order.
func (f *FakeDrive) AddFolder(path string, entries ...drive.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range entries {
		if entries[i].Path == "" {
			entries[i].Path = drive.Join(path, entries[i].Name)
		}
	}
	f.listings[path] = entries
}

// AddFile registers readable content for path.
func (f *FakeDrive) AddFile(path, data, mimeType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contents[path] = drive.Content{Data: []byte(data), MimeType: mimeType}
}

// AddPartialFile stores a document whose read reports truncation, as a
// backend does when the body exceeds its read limit.
func (f *FakeDrive) AddPartialFile(path, data, mimeType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contents[path] = drive.Content{Data: []byte(data), MimeType: mimeType, Truncated: true}
}

// Script queues errors returned by successive calls of op on path.
// A nil entry lets that call through.
func (f *FakeDrive) Script(op, path string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := op + " " + path
	f.scripts[key] = append(f.scripts[key], errs...)
}

// Delay makes Read of path wait d or until its context ends.
func (f *FakeDrive) Delay(path string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[path] = d
}

func (f *FakeDrive) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount counts recorded calls of op, or all calls when op is empty.
func (f *FakeDrive) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if op == "" || c.Op == op {
			n++
		}
	}
	return n
}

func (f *FakeDrive) record(op string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: op, Args: args})
	key := op + " " + args[0]
	queue := f.scripts[key]
	if len(queue) == 0 {
		return nil
	}
	f.scripts[key] = queue[1:]
	return queue[0]
}

func (f *FakeDrive) List(ctx context.Context, path string) ([]drive.Entry, error) {
	if err := f.record("list", path); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if entries, ok := f.listings[path]; ok {
		out := make([]drive.Entry, len(entries))
		copy(out, entries)
		return out, nil
	}
	if c, ok := f.contents[path]; ok {
		return []drive.Entry{fileEntry(path, c)}, nil
	}
	return nil, capability.NotFound(path)
}

func (f *FakeDrive) Delete(ctx context.Context, path string) error {
	if err := f.record("delete", path); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, isFolder := f.listings[path]
	_, isFile := f.contents[path]
	if !isFolder && !isFile {
		return capability.NotFound(path)
	}
	delete(f.listings, path)
	delete(f.contents, path)
	return nil
}

func (f *FakeDrive) Move(ctx context.Context, src, dst string) error {
	if err := f.record("move", src, dst); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.listings[dst]; ok {
		return fmt.Errorf("move %s: %w", dst, capability.ErrConflict)
	}
	if _, ok := f.contents[dst]; ok {
		return fmt.Errorf("move %s: %w", dst, capability.ErrConflict)
	}
	if entries, ok := f.listings[src]; ok {
		delete(f.listings, src)
		f.listings[dst] = entries
		return nil
	}
	if c, ok := f.contents[src]; ok {
		delete(f.contents, src)
		f.contents[dst] = c
		return nil
	}
	return capability.NotFound(src)
}

func (f *FakeDrive) Read(ctx context.Context, path string) (drive.Content, error) {
	if err := f.record("read", path); err != nil {
		return drive.Content{}, err
	}
	f.mu.Lock()
	d := f.delays[path]
	c, ok := f.contents[path]
	f.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return drive.Content{}, ctx.Err()
		}
	}
	if !ok {
		return drive.Content{}, capability.NotFound(path)
	}
	return c, nil
}

func fileEntry(path string, c drive.Content) drive.Entry {
	name := path[strings.LastIndex(path, "/")+1:]
	return drive.Entry{
		Name:     name,
		Path:     path,
		Type:     drive.TypeFile,
		Size:     int64(len(c.Data)),
		MimeType: c.MimeType,
	}
}

// FakeSummarizer returns "summary: <content>" unless a reply, error or delay
// is registered for the exact content it receives.
type FakeSummarizer struct {
	mu       sync.Mutex
	replies  map[string]string
	errs     map[string]error
	delays   map[string]time.Duration
	calls    int
	inFlight int
	peak     int
}

func NewFakeSummarizer() *FakeSummarizer {
	return &FakeSummarizer{
		replies: make(map[string]string),
		errs:    make(map[string]error),
		delays:  make(map[string]time.Duration),
	}
}

func (s *FakeSummarizer) Name() string {
	return "fake"
}

func (s *FakeSummarizer) Reply(content, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[content] = summary
}

func (s *FakeSummarizer) Fail(content string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[content] = err
}

func (s *FakeSummarizer) Delay(content string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[content] = d
}

func (s *FakeSummarizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// PeakConcurrency reports the most Summarize calls seen running at once.
func (s *FakeSummarizer) PeakConcurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

func (s *FakeSummarizer) Summarize(ctx context.Context, data []byte, mimeType string) (string, error) {
	key := string(data)
	s.mu.Lock()
	s.calls++
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	d := s.delays[key]
	reply, hasReply := s.replies[key]
	err := s.errs[key]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if hasReply {
		return reply, nil
	}
	return "summary: " + key, nil
}
