package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/sipeed/driveclaw/pkg/logger"
)

// JSONLStore appends one JSON object per line. Every record is a single
// write on an O_APPEND descriptor, serialized in-process by mu and across
// processes by an advisory lock on a sibling .lock file.
type JSONLStore struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

func NewJSONLStore(path string) (*JSONLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &JSONLStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

func (s *JSONLStore) Path() string {
	return s.path
}

func (s *JSONLStore) Append(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	line := append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock audit log: %w", err)
	}
	defer s.lock.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return err
	}
	return nil
}

func (s *JSONLStore) Close() error {
	return s.lock.Close()
}

// scan calls fn for every well-formed record in file order.
func (s *JSONLStore) scan(ctx context.Context, fn func(Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.RLock(); err != nil {
		return fmt.Errorf("lock audit log: %w", err)
	}
	defer s.lock.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			logger.WarnCF("audit", "Skipping malformed audit line", map[string]interface{}{
				"path": s.path,
				"line": lineNo,
			})
			continue
		}
		fn(rec)
	}
	return scanner.Err()
}

func (s *JSONLStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	ring := make([]Record, 0, limit)
	err := s.scan(ctx, func(rec Record) {
		if len(ring) == limit {
			ring = ring[1:]
		}
		ring = append(ring, rec)
	})
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(ring))
	for i, rec := range ring {
		out[len(ring)-1-i] = rec
	}
	return out, nil
}

func (s *JSONLStore) Stats(ctx context.Context) (Stats, error) {
	st := newStats()
	err := s.scan(ctx, st.add)
	return st, err
}

var (
	_ Store  = (*JSONLStore)(nil)
	_ Reader = (*JSONLStore)(nil)
)
