package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"pokedex-ai/internal/adapter/channel"
	"pokedex-ai/internal/adapter/chatclient"
	"pokedex-ai/internal/adapter/tui/chat"
	"pokedex-ai/internal/domain"
	"pokedex-ai/internal/infra/config"
	"pokedex-ai/internal/infra/logger"
	"pokedex-ai/internal/infra/tracer"
	"pokedex-ai/internal/usecase"
)

func main() {
	cmd := "serve"
	if len(os.Args) >= 2 && !strings.HasPrefix(os.Args[1], "-") {
		cmd = os.Args[1]
	}
	for _, a := range os.Args[1:] {
		if a == "--help" || a == "-h" {
			cmd = "help"
		}
	}

	var err error
	switch cmd {
	case "help":
		showUsage()
		return
	case "serve":
		err = runServe()
	case "chat":
		err = runChat()
	case "tools":
		err = runTools()
	case "doctor":
		err = runDoctor()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'pokedex --help' for usage information.\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`pokedex - streaming Pokédex assistant

USAGE:
    pokedex [COMMAND] [FLAGS]

COMMANDS:
    serve       Run the chat API server (default)
    chat        Open the interactive chat client
    tools       List the tools the server exposes
    doctor      Run health checks on your setup

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)
    --server URL       Server URL for chat/tools (overrides client.server_url)
    --plain            Line-mode chat instead of the full-screen TUI
    --verbose          Debug logging

CONFIGURATION:
    Config file: ./config.yaml (optional)
    Environment: POKEDEXAI_* variables override config; ANTHROPIC_API_KEY
                 declares an anthropic provider when none is configured.

EXAMPLES:
    ANTHROPIC_API_KEY=sk-... pokedex serve
    pokedex chat
    pokedex chat --plain --server http://pokedex.internal:3000`)
}

// cliFlags holds flags shared by all commands.
type cliFlags struct {
	ConfigPath string
	ServerURL  string
	Plain      bool
	Verbose    bool
}

func parseFlags(args []string) cliFlags {
	flags := cliFlags{ConfigPath: os.Getenv("POKEDEXAI_CONFIG")}
	if flags.ConfigPath == "" {
		flags.ConfigPath = "config.yaml"
	}
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config" && i+1 < len(args):
			flags.ConfigPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--config="):
			flags.ConfigPath = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--server" && i+1 < len(args):
			flags.ServerURL = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--server="):
			flags.ServerURL = strings.TrimPrefix(args[i], "--server=")
		case args[i] == "--plain":
			flags.Plain = true
		case args[i] == "--verbose", args[i] == "-v":
			flags.Verbose = true
		}
	}
	return flags
}

func loadConfig(flags cliFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if flags.ServerURL != "" {
		cfg.Client.ServerURL = flags.ServerURL
	}
	if flags.Verbose {
		cfg.Logger.Level = "debug"
	}
	return cfg, nil
}

func runServe() error {
	flags := parseFlags(os.Args[1:])
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	// 1. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 2. Model sources
	llmComp, err := initLLM(cfg, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	// 3. Tools, cache and scheduler
	toolComp, err := initTools(cfg, log)
	if err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	defer toolComp.Close()

	if err := toolComp.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	defer toolComp.Scheduler.Stop()

	// 4. Relay and HTTP channel
	relay := usecase.NewRelay(usecase.RelayDeps{
		Source:       llmComp.Default,
		Tools:        toolComp.Registry,
		Logger:       log,
		SystemPrompt: cfg.Relay.SystemPrompt,
		Model:        cfg.Relay.Model,
		MaxTokens:    cfg.Relay.MaxTokens,
		PaceDelay:    cfg.Relay.PaceDelay,
		OpenTimeout:  cfg.Relay.UpstreamOpenTimeout,
		IdleTimeout:  cfg.Relay.UpstreamIdleTimeout,
	})

	server := channel.NewHTTPChannel(cfg.Server, channel.HTTPDeps{
		Relay:   relay,
		Catalog: toolComp.Registry,
		Logger:  log,
		Health: func() map[string]any {
			return healthExtras(llmComp, toolComp)
		},
	})
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	log.Info("pokedex starting",
		"addr", server.Addr(),
		"source", llmComp.Default.Name(),
		"tools", len(toolComp.Registry.List()),
		"cache", cfg.Tools.Cache.Backend,
	)

	<-ctx.Done()
	log.Info("pokedex shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("http shutdown error", "error", err)
	}
	return nil
}

func healthExtras(llmComp *LLMComponents, toolComp *ToolComponents) map[string]any {
	breakers := make(map[string]string, len(llmComp.Breakers))
	for name, b := range llmComp.Breakers {
		breakers[name] = b.State().String()
	}
	return map[string]any{
		"source":         llmComp.Default.Name(),
		"tools":          len(toolComp.Registry.List()),
		"llm_breakers":   breakers,
		"pokeapi":        toolComp.PokeAPI.BreakerState(),
		"scheduled_jobs": toolComp.Scheduler.Status(),
	}
}

// clientLogger logs to stderr in the console format. The TUI owns the
// terminal, so it gets a file or nothing.
func clientLogger(cfg *config.Config, tui bool) (*slog.Logger, func() error, error) {
	lc := cfg.Logger
	if lc.Format == "text" {
		lc.Format = "console"
	}
	if !tui {
		return logger.New(lc)
	}
	if lc.Output == "stderr" || lc.Output == "stdout" || lc.Output == "" {
		return slog.New(slog.DiscardHandler), func() error { return nil }, nil
	}
	return logger.New(lc)
}

func runChat() error {
	flags := parseFlags(os.Args[2:])
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	tui := !flags.Plain && isTerminal(os.Stdin) && isTerminal(os.Stdout)
	log, logCloser, err := clientLogger(cfg, tui)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	transcript := chatclient.NewTranscript()
	client := chatclient.New(cfg.Client, transcript, log)

	if tui {
		return chat.Run(ctx, transcript, chat.ModelDeps{
			Client: client,
			Logger: log,
			Server: cfg.Client.ServerURL,
		})
	}
	return runREPL(ctx, client, os.Stdin, os.Stdout)
}

// runREPL is the line-mode client: one question per line, the reply is
// printed as it streams.
func runREPL(ctx context.Context, client *chatclient.Client, in io.Reader, out io.Writer) error {
	var (
		current string
		printed int
	)
	client.Transcript().OnUpdate(func(msg domain.Message) {
		if msg.Role != domain.RoleAssistant {
			return
		}
		if msg.ID != current {
			current, printed = msg.ID, 0
		}
		fmt.Fprint(out, msg.Content[printed:])
		printed = len(msg.Content)
		if msg.Final {
			fmt.Fprintln(out)
		}
	})
	defer client.Transcript().OnUpdate(nil)

	fmt.Fprintln(out, "Pokédex chat. Ask about any Pokémon; Ctrl+D to exit.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/tools":
			if err := printTools(ctx, client, out); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			continue
		}

		sendCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		err := client.Send(sendCtx, line)
		interrupted := sendCtx.Err() != nil
		stop()
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(out, "(%v)\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		if interrupted {
			fmt.Fprintln(out, "(cancelled)")
		}
	}
}

func runTools() error {
	flags := parseFlags(os.Args[2:])
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	log, logCloser, err := clientLogger(cfg, false)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client := chatclient.New(cfg.Client, chatclient.NewTranscript(), log)
	return printTools(ctx, client, os.Stdout)
}

func printTools(ctx context.Context, client *chatclient.Client, out io.Writer) error {
	tools, err := client.Tools(ctx)
	if err != nil {
		return err
	}
	for _, t := range tools {
		fmt.Fprintf(out, "%-24s %s\n", t.Name, t.Description)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
