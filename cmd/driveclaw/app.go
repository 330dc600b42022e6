package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sipeed/driveclaw/pkg/audit"
	"github.com/sipeed/driveclaw/pkg/command"
	"github.com/sipeed/driveclaw/pkg/config"
	"github.com/sipeed/driveclaw/pkg/dispatch"
	"github.com/sipeed/driveclaw/pkg/drive"
	"github.com/sipeed/driveclaw/pkg/format"
	"github.com/sipeed/driveclaw/pkg/logger"
	"github.com/sipeed/driveclaw/pkg/pipeline"
	"github.com/sipeed/driveclaw/pkg/summarizer"
)

const auditDrainTimeout = 10 * time.Second

// core is the channel-independent part of driveclaw: the request pipeline
// and the audit recorder it writes to.
type core struct {
	pipeline *pipeline.Pipeline
	recorder *audit.Recorder
}

func buildCore(ctx context.Context, cfg *config.Config) (*core, error) {
	d, err := openDrive(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s, err := summarizer.CreateSummarizer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating summarizer: %w", err)
	}
	store, err := audit.OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("error opening audit store: %w", err)
	}

	keyword := cfg.Core.ConfirmKeyword
	dispatcher := dispatch.New(d, s, dispatch.Options{
		ConfirmKeyword:     keyword,
		CallTimeout:        cfg.CallTimeout(),
		SummaryConcurrency: cfg.Core.SummaryConcurrency,
	})
	formatter := format.New(keyword)
	if cfg.Core.MaxSummaryWords > 0 {
		formatter.MaxSummaryWords = cfg.Core.MaxSummaryWords
	}
	if cfg.Core.MaxListEntries > 0 {
		formatter.MaxListEntries = cfg.Core.MaxListEntries
	}
	recorder := audit.NewRecorder(store, cfg.Audit.QueueSize)

	logger.InfoCF("driveclaw", "Core ready", map[string]interface{}{
		"drive":      cfg.Drive.Backend,
		"summarizer": s.Name(),
		"audit":      cfg.Audit.Backend,
	})
	return &core{
		pipeline: pipeline.New(command.NewParser(keyword), dispatcher, formatter, recorder),
		recorder: recorder,
	}, nil
}

// Close drains pending audit records.
func (c *core) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), auditDrainTimeout)
	defer cancel()
	if err := c.recorder.Close(ctx); err != nil {
		logger.ErrorCF("driveclaw", "Audit drain incomplete", map[string]interface{}{
			"error":   err.Error(),
			"dropped": c.recorder.Dropped(),
		})
	}
}

func openDrive(ctx context.Context, cfg *config.Config) (drive.Drive, error) {
	switch cfg.Drive.Backend {
	case config.DriveBackendLocal:
		root := cfg.DriveRootPath()
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("error creating drive root: %w", err)
		}
		d, err := drive.NewLocalDrive(root)
		if err != nil {
			return nil, err
		}
		if cfg.Drive.MaxReadBytes > 0 {
			d.SetMaxReadBytes(cfg.Drive.MaxReadBytes)
		}
		return d, nil
	case config.DriveBackendGoogle:
		g := cfg.Drive.Google
		d, err := drive.NewGoogleDrive(ctx, drive.GoogleDriveOptions{
			ClientID:        g.ClientID,
			ClientSecret:    g.ClientSecret,
			RefreshToken:    g.RefreshToken,
			RootFolderID:    g.RootFolderID,
			PermanentDelete: g.PermanentDelete,
			MaxReadBytes:    cfg.Drive.MaxReadBytes,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown drive backend %q", cfg.Drive.Backend)
	}
}
