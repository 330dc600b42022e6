package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sipeed/driveclaw/pkg/config"
	"github.com/sipeed/driveclaw/pkg/logger"
)

var (
	version   = "dev"
	buildTime string
	goVersion string
)

const logo = "🗂️"

type cliOptions struct {
	configPath string
	debug      bool
	cfg        *config.Config
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".driveclaw", "config.json")
}

func main() {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "driveclaw",
		Short: "Chat-driven file drive assistant",
		Long:  "driveclaw answers LIST, DELETE, MOVE, SUMMARY and HELP commands from chat channels against a file drive.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return opts.load()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath(), "Path to config file (.json or .yaml)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newGatewayCommand(opts),
		newShellCommand(opts),
		newExecCommand(opts),
		newAuditCommand(opts),
		newVersionCommand(),
	)
	return root
}

func (o *cliOptions) load() error {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	o.cfg = cfg

	if lvl, ok := logger.ParseLevel(cfg.Logging.Level); ok {
		logger.SetLevel(lvl)
	}
	if o.debug {
		logger.SetLevel(logger.DEBUG)
	}
	if path := cfg.LogFilePath(); path != "" {
		if err := logger.EnableFileLogging(path); err != nil {
			return fmt.Errorf("error enabling file logging: %w", err)
		}
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s driveclaw v%s\n", logo, version)
			if buildTime != "" {
				fmt.Fprintf(out, "  Build: %s\n", buildTime)
			}
			goVer := goVersion
			if goVer == "" {
				goVer = runtime.Version()
			}
			fmt.Fprintf(out, "  Go: %s\n", goVer)
		},
	}
}
