package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sipeed/driveclaw/pkg/logger"
)

const (
	DefaultQueueSize = 1024
	appendTimeout    = 5 * time.Second
)

// Recorder writes records to a Store from a single goroutine. Record never
// blocks the caller; a full queue drops the record and counts it.
type Recorder struct {
	store   Store
	queue   chan Record
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

func NewRecorder(store Store, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Recorder{
		store: store,
		queue: make(chan Record, queueSize),
		done:  make(chan struct{}),
	}
	go r.writeLoop()
	return r
}

// Record enqueues rec, filling in ID and Timestamp when unset.
func (r *Recorder) Record(rec Record) {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(rec, "recorder closed")
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.drop(rec, "queue full")
	}
}

func (r *Recorder) drop(rec Record, reason string) {
	n := r.dropped.Add(1)
	logger.ErrorCF("audit", "Audit record dropped", map[string]interface{}{
		"reason":    reason,
		"id":        rec.ID,
		"requester": rec.RequesterID,
		"operation": rec.Operation,
		"outcome":   rec.OutcomeTag,
		"dropped":   n,
	})
}

// Dropped reports how many records never reached the store queue.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) writeLoop() {
	defer close(r.done)
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		err := r.store.Append(ctx, rec)
		cancel()
		if err != nil {
			logger.ErrorCF("audit", "Audit append failed", map[string]interface{}{
				"id":    rec.ID,
				"error": err.Error(),
			})
		}
	}
}

// Close stops accepting records, drains the queue and closes the store.
// If ctx ends first the remaining records are abandoned to the writer.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		logger.WarnCF("audit", "Audit drain interrupted", map[string]interface{}{
			"pending": len(r.queue),
		})
		return ctx.Err()
	}
	return r.store.Close()
}
