package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sipeed/driveclaw/pkg/bus"
	"github.com/sipeed/driveclaw/pkg/channels"
	"github.com/sipeed/driveclaw/pkg/gateway"
	"github.com/sipeed/driveclaw/pkg/logger"
)

const channelStopTimeout = 10 * time.Second

func newGatewayCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Serve the enabled chat channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context(), opts)
		},
	}
}

func runGateway(ctx context.Context, opts *cliOptions) error {
	cfg := opts.cfg
	c, err := buildCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	messageBus := bus.NewMessageBus()
	manager, err := channels.NewManagerFromConfig(cfg, messageBus)
	if err != nil {
		return err
	}
	enabled := manager.Enabled()
	if len(enabled) == 0 {
		return errors.New("no channels enabled; enable telegram, discord or slack in the config")
	}

	gw := gateway.New(messageBus, c.pipeline, gateway.Options{
		RequestTimeout: cfg.RequestTimeout(),
		QueueSize:      cfg.Gateway.WorkerQueueSize,
		IdleTimeout:    time.Duration(cfg.Gateway.WorkerIdleTimeoutSeconds) * time.Second,
	})

	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("error starting channels: %w", err)
	}
	fmt.Printf("%s Gateway started (channels: %s)\n", logo, strings.Join(enabled, ", "))
	fmt.Println("Press Ctrl+C to stop")

	runErr := gw.Run(ctx)

	fmt.Println("\nShutting down...")
	stopCtx, cancel := context.WithTimeout(context.Background(), channelStopTimeout)
	defer cancel()
	manager.StopAll(stopCtx)
	messageBus.Close()

	logger.InfoC("driveclaw", "Gateway stopped")
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
