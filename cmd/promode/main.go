// Promode answers one prompt by sampling several candidate answers from an
// OpenAI-compatible backend and asking the same model to merge them. Progress
// and streamed model output go to stdout, followed by the final answer.
//
// With --serve-mcp it instead serves the pro_mode tool over MCP on stdio.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/germanamz/promode/pkg/engine"
	"github.com/germanamz/promode/pkg/tools/mcpserver"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigFile = "promode.yaml"

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if isHelp(err) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}

	if opts.version {
		_, _ = fmt.Fprintf(stdout, "promode %s\n", version)
		return nil
	}

	if err := loadDotEnv(opts.envFile); err != nil {
		return err
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(&cfg, opts)

	logger := newLogger(stderr, opts.verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	if opts.serveMCP {
		srv := mcpserver.New("promode", version, eng.Tools(), logger)
		err := srv.Serve(ctx, stdin, stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	prompt, err := resolvePrompt(opts.words, stdin, isTerminal(stdin))
	if err != nil {
		return err
	}

	res, err := eng.Run(ctx, prompt, stdout)
	if err != nil {
		return err
	}

	p := newPrinter(stdout, opts.markdown)
	if opts.showCandidates {
		p.candidates(res)
	}
	p.final(res.Final)
	if opts.verbose {
		p.usage(eng.Usage().String())
	}

	return nil
}

// loadConfig reads the explicit config file, else promode.yaml when present,
// else the built-in defaults. Environment overrides apply in every case.
func loadConfig(path string) (engine.Config, error) {
	if path != "" {
		return engine.LoadConfig(path)
	}

	if _, err := os.Stat(defaultConfigFile); err == nil {
		return engine.LoadConfig(defaultConfigFile)
	}

	return engine.DefaultConfig().WithEnv(), nil
}

// applyFlags overrides cfg with the run flags given on the command line.
func applyFlags(cfg *engine.Config, o cliOptions) {
	if o.setModel {
		cfg.Model = o.model
	}
	if o.setMaxTokens {
		cfg.MaxTokens = o.maxTokens
	}
	if o.setAgents {
		cfg.Agents = o.agents
	}
	if o.setConcurrency {
		cfg.Concurrency = o.concurrency
	}
	if o.noStream {
		cfg.Stream = false
	}
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}

	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
