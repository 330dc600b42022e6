// Package audit keeps an append-only trail of every processed message.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/mo"
)

// Record is one audit entry. It is written once after the outcome of a
// message is known and never changed afterwards.
type Record struct {
	ID          string
	Timestamp   time.Time
	RequesterID string
	Channel     string
	Operation   string
	RawInput    string
	OutcomeTag  string
	TargetPath  mo.Option[string]
	ItemCount   mo.Option[int]
	Detail      string
	DurationMs  int64
}

type recordJSON struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	RequesterID string    `json:"requester_id"`
	Channel     string    `json:"channel,omitempty"`
	Operation   string    `json:"operation"`
	RawInput    string    `json:"raw_input"`
	OutcomeTag  string    `json:"outcome"`
	TargetPath  *string   `json:"target_path,omitempty"`
	ItemCount   *int      `json:"item_count,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	w := recordJSON{
		ID:          r.ID,
		Timestamp:   r.Timestamp,
		RequesterID: r.RequesterID,
		Channel:     r.Channel,
		Operation:   r.Operation,
		RawInput:    r.RawInput,
		OutcomeTag:  r.OutcomeTag,
		Detail:      r.Detail,
		DurationMs:  r.DurationMs,
	}
	if p, ok := r.TargetPath.Get(); ok {
		w.TargetPath = &p
	}
	if n, ok := r.ItemCount.Get(); ok {
		w.ItemCount = &n
	}
	return json.Marshal(w)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var w recordJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Record{
		ID:          w.ID,
		Timestamp:   w.Timestamp,
		RequesterID: w.RequesterID,
		Channel:     w.Channel,
		Operation:   w.Operation,
		RawInput:    w.RawInput,
		OutcomeTag:  w.OutcomeTag,
		Detail:      w.Detail,
		DurationMs:  w.DurationMs,
	}
	if w.TargetPath != nil {
		r.TargetPath = mo.Some(*w.TargetPath)
	}
	if w.ItemCount != nil {
		r.ItemCount = mo.Some(*w.ItemCount)
	}
	return nil
}

// NewID returns a time-sortable record identifier.
func NewID() string {
	return "aud_" + ulid.Make().String()
}

type Store interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

// Reader answers history queries over a store.
type Reader interface {
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Stats(ctx context.Context) (Stats, error)
}

type Stats struct {
	Total       int
	ByOutcome   map[string]int
	ByOperation map[string]int
	First       time.Time
	Last        time.Time
}

// SuccessRate is the share of records with a Success outcome.
func (s Stats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.ByOutcome["Success"]) / float64(s.Total)
}

func newStats() Stats {
	return Stats{ByOutcome: make(map[string]int), ByOperation: make(map[string]int)}
}

func (s *Stats) add(rec Record) {
	s.Total++
	s.ByOutcome[rec.OutcomeTag]++
	s.ByOperation[rec.Operation]++
	if s.First.IsZero() || rec.Timestamp.Before(s.First) {
		s.First = rec.Timestamp
	}
	if rec.Timestamp.After(s.Last) {
		s.Last = rec.Timestamp
	}
}
