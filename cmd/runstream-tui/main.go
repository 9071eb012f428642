// ABOUTME: Interactive terminal client for runstream-gateway agents
// ABOUTME: Readline input, streamed replies, and a second slot for parallel answers

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/2389/runstream/internal/client"
)

const helpText = `Commands:
  <text>        send a message on slot 0
  /add <text>   answer the same conversation in parallel on slot 1
  /stop         stop every streaming reply
  /new          start a new conversation
  /balance      show remaining token credits
  /help         show this help
  /quit         exit`

func main() {
	configPath := flag.String("config", client.DefaultConfigPath(), "client config file")
	server := flag.String("server", "", "gateway URL (overrides config)")
	agent := flag.String("agent", "", "agent ID (overrides config)")
	debug := flag.Bool("debug", false, "log client internals to stderr")
	flag.Parse()

	cfg, err := client.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.ServerURL = strings.TrimRight(*server, "/")
	}
	if *agent != "" {
		cfg.AgentID = *agent
	}
	if cfg.AgentID == "" {
		fmt.Fprintln(os.Stderr, "Error: no agent configured (set agent_id or pass -agent)")
		os.Exit(1)
	}
	if cfg.Slots < 2 {
		cfg.Slots = 2
	}

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	fmt.Printf("runstream-tui connected to %s (agent %s)\n", cfg.ServerURL, cfg.AgentID)
	if cfg.Token != "" {
		fmt.Println("Auth: bearer token configured")
	} else {
		fmt.Println("Auth: none (set RUNSTREAM_TOKEN or run runstream-gateway token)")
	}
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+D to quit.")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, cfg *client.Config, logger *slog.Logger) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          color.GreenString("> "),
		HistoryLimit:    1000,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		UniqueEditLine:  true,
	})
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	defer rl.Close()

	view := newRenderer(rl.Stdout())
	session := client.NewSession(cfg, client.NewState(view), logger)
	defer session.Close()

	// Ctrl+C stops streaming replies; the loop exits on Ctrl+D or /quit.
	streamCtx, stopStreams := context.WithCancel(ctx)
	defer stopStreams()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			session.StopAll()
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(rl.Stdout(), helpText)
		case "/stop":
			session.StopAll()
		case "/new":
			for slot := 0; slot < session.Slots(); slot++ {
				_ = session.Reset(slot)
			}
			fmt.Fprintln(rl.Stdout(), color.HiBlackString("new conversation"))
		case "/balance":
			n, err := session.Transport().Balance(ctx)
			if err != nil {
				fmt.Fprintln(rl.Stdout(), color.RedString("balance: %v", err))
				continue
			}
			fmt.Fprintf(rl.Stdout(), "%d token credits\n", n)
		case "/add":
			if strings.TrimSpace(rest) == "" {
				fmt.Fprintln(rl.Stdout(), "usage: /add <text>")
				continue
			}
			if err := session.Fork(0, 1); err != nil {
				fmt.Fprintln(rl.Stdout(), color.RedString("%v", err))
				continue
			}
			if _, err := session.Submit(streamCtx, 1, rest); err != nil {
				fmt.Fprintln(rl.Stdout(), color.RedString("%v", err))
			}
		default:
			if strings.HasPrefix(cmd, "/") {
				fmt.Fprintf(rl.Stdout(), "unknown command %s, try /help\n", cmd)
				continue
			}
			if _, err := session.Submit(streamCtx, 0, line); err != nil {
				fmt.Fprintln(rl.Stdout(), color.RedString("%v", err))
			}
		}
	}
}
