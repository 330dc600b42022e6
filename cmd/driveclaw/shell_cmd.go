package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sipeed/driveclaw/pkg/pipeline"
)

const localChannel = "cli"

func newShellCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run commands interactively against the drive",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCore(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			fmt.Printf("%s Interactive mode (Ctrl+C to exit, HELP for commands)\n\n", logo)
			interactiveMode(cmd.Context(), c.pipeline, opts.cfg.RequestTimeout())
			return nil
		},
	}
}

func newExecCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command>",
		Short: "Run a single command, e.g. driveclaw exec \"LIST /reports\"",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCore(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			reply, err := runLocal(cmd.Context(), c.pipeline, opts.cfg.RequestTimeout(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
}

// localSender names the person at the terminal for the audit trail.
func localSender() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}

func runLocal(ctx context.Context, p *pipeline.Pipeline, timeout time.Duration, text string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Process(reqCtx, pipeline.Message{
		ID:         uuid.NewString(),
		Channel:    localChannel,
		SenderID:   localSender(),
		Text:       text,
		ReceivedAt: time.Now().UTC(),
	})
}

func interactiveMode(ctx context.Context, p *pipeline.Pipeline, timeout time.Duration) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "drive> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".driveclaw_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(ctx, p, timeout)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !handleLine(ctx, p, timeout, line) {
			return
		}
	}
}

func simpleInteractiveMode(ctx context.Context, p *pipeline.Pipeline, timeout time.Duration) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("drive> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !handleLine(ctx, p, timeout, line) {
			return
		}
	}
}

// handleLine runs one shell line and reports whether the shell should keep
// reading.
func handleLine(ctx context.Context, p *pipeline.Pipeline, timeout time.Duration, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}
	if input == "exit" || input == "quit" {
		fmt.Println("Goodbye!")
		return false
	}

	reply, err := runLocal(ctx, p, timeout, input)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return ctx.Err() == nil
	}
	fmt.Printf("\n%s\n\n", reply)
	return true
}
