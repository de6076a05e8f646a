// Command agentrt runs one prompt through the agent loop with the example
// tools and prints the answer.
//
// Usage:
//
//	agentrt [flags] "What is 3 + 5?"
//	echo "Write a haiku to haiku.txt" | agentrt -provider openai -stream
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/martinemde/agentrt/agentloop"
	"github.com/martinemde/agentrt/internal/config"
	"github.com/martinemde/agentrt/internal/logging"
	"github.com/martinemde/agentrt/unifiedllm"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "agentrt: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("agentrt", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "LLM provider: anthropic, openai or gemini")
	fs.StringVar(&cfg.Agent.Model, "model", cfg.Agent.Model, "model id (defaults to the provider's catalog default)")
	fs.IntVar(&cfg.Agent.MaxIterations, "max-iterations", cfg.Agent.MaxIterations, "maximum tool dispatch rounds")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "directory the file tools write to")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")
	stream := fs.Bool("stream", false, "print text as it is generated")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.Agent.Model = cfg.Model()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}

	prompt, err := readPrompt(fs.Args(), stdin)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, err := newAdapter(ctx, cfg)
	if err != nil {
		return err
	}
	client := unifiedllm.NewClient(
		unifiedllm.WithProvider(cfg.Provider, adapter),
		unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(logger)),
		unifiedllm.WithLogger(logger),
	)
	defer client.Close()

	ws, err := agentloop.NewWorkspace(cfg.OutputDir)
	if err != nil {
		return err
	}
	reg := agentloop.NewRegistry(agentloop.WithRegistryLogger(logger))
	if err := agentloop.RegisterCoreTools(reg, ws); err != nil {
		return err
	}
	if err := reg.Startup(ctx); err != nil {
		return err
	}
	defer func() {
		if err := reg.Shutdown(context.Background()); err != nil {
			logger.Warn("tool shutdown failed", "error", err)
		}
	}()

	emitter := agentloop.NewEventEmitter(0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range emitter.Events() {
			logger.Debug("event", "kind", ev.Kind, "run_id", ev.RunID, "iteration", ev.Iteration, "data", ev.Data)
		}
	}()

	rt, err := agentloop.New(client, reg,
		agentloop.WithConfig(cfg.Agent),
		agentloop.WithProvider(cfg.Provider),
		agentloop.WithLogger(logger),
		agentloop.WithEventEmitter(emitter),
		agentloop.WithSystemPrompt(agentloop.BuildSystemPrompt(agentloop.DefaultInstructions, reg, ws, cfg.Agent.Model)),
	)
	if err != nil {
		emitter.Close()
		<-done
		return err
	}
	defer func() {
		rt.Close()
		<-done
	}()

	if *stream {
		for delta, err := range rt.RunStream(ctx, prompt) {
			if err != nil {
				fmt.Fprintln(stdout)
				return explain(err)
			}
			fmt.Fprint(stdout, delta)
		}
		fmt.Fprintln(stdout)
		return nil
	}

	answer, err := rt.Run(ctx, prompt)
	if err != nil {
		return explain(err)
	}
	fmt.Fprintln(stdout, answer)
	return nil
}

func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("no prompt given")
	}
	return prompt, nil
}

func newAdapter(ctx context.Context, cfg config.Config) (unifiedllm.ProviderAdapter, error) {
	switch cfg.Provider {
	case unifiedllm.ProviderAnthropic:
		return unifiedllm.NewAnthropicAdapter(cfg.APIKey())
	case unifiedllm.ProviderGemini:
		return unifiedllm.NewGeminiAdapter(ctx, cfg.APIKey())
	default:
		return unifiedllm.NewGollmAdapter(cfg.Provider, cfg.APIKey(),
			unifiedllm.WithModel(cfg.Agent.Model),
			unifiedllm.WithMaxTokens(cfg.Agent.MaxTokens),
		)
	}
}

// explain adds the iteration ceiling to max-iterations failures.
func explain(err error) error {
	var maxErr *agentloop.MaxIterationsExceeded
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w (raise -max-iterations above %d)", err, maxErr.Limit)
	}
	return err
}
