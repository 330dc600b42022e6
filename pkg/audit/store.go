package audit

import (
	"context"
	"fmt"

	"github.com/sipeed/driveclaw/pkg/config"
	"github.com/sipeed/driveclaw/pkg/logger"
)

// LogStore writes records to the structured log only.
type LogStore struct{}

func (LogStore) Append(ctx context.Context, rec Record) error {
	fields := map[string]interface{}{
		"id":          rec.ID,
		"requester":   rec.RequesterID,
		"channel":     rec.Channel,
		"operation":   rec.Operation,
		"outcome":     rec.OutcomeTag,
		"duration_ms": rec.DurationMs,
	}
	if p, ok := rec.TargetPath.Get(); ok {
		fields["target"] = p
	}
	if n, ok := rec.ItemCount.Get(); ok {
		fields["items"] = n
	}
	logger.InfoCF("audit", "Audit record", fields)
	return nil
}

func (LogStore) Close() error {
	return nil
}

// OpenStore builds the store selected by cfg.Audit.Backend.
func OpenStore(cfg *config.Config) (Store, error) {
	switch cfg.Audit.Backend {
	case config.AuditBackendJSONL:
		s, err := NewJSONLStore(cfg.AuditPath())
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.AuditBackendSQLite:
		s, err := NewSQLiteStore(cfg.AuditPath())
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.AuditBackendNone:
		return LogStore{}, nil
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Audit.Backend)
	}
}
