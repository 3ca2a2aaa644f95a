package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/germanamz/promode/pkg/invoker"
	"github.com/germanamz/promode/pkg/modeladapter"
	"github.com/germanamz/promode/pkg/modeladapter/usage"
	"github.com/germanamz/promode/pkg/promode"
	"github.com/germanamz/promode/pkg/providers/openai"
)

// Engine is the composition root: one backend client, one invoker and one
// orchestrator per process, shared by every run.
type Engine struct {
	cfg       Config
	completer modeladapter.Completer
	orch      *promode.Orchestrator
	log       *slog.Logger
}

// Option customizes an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	logger    *slog.Logger
	completer modeladapter.Completer
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// WithLogger sets the logger used by the engine and everything it builds.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithCompleter replaces the OpenAI-compatible backend built from the config.
func WithCompleter(c modeladapter.Completer) Option {
	return func(o *engineOptions) { o.completer = c }
}

// WithSleepFunc replaces the sleep used for retry backoff and candidate
// pauses (for testing).
func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *engineOptions) { o.sleepFunc = fn }
}

// New validates cfg and assembles the engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	baseDelay, _, timeout := cfg.durations()

	completer := o.completer
	if completer == nil {
		completer = buildCompleter(cfg.Backend, timeout)
	}

	inv := invoker.New(completer, invoker.Options{
		Attempts:  cfg.Retry.Attempts,
		BaseDelay: baseDelay,
		Logger:    o.logger,
	})
	orch := promode.New(inv, o.logger)

	if o.sleepFunc != nil {
		inv.SetSleepFunc(o.sleepFunc)
		orch.SetSleepFunc(o.sleepFunc)
	}

	return &Engine{
		cfg:       cfg,
		completer: completer,
		orch:      orch,
		log:       o.logger,
	}, nil
}

// buildCompleter creates the OpenAI-compatible adapter. A positive timeout
// caps each whole call, streamed body included; otherwise only connection
// setup and response headers are bounded.
func buildCompleter(bc BackendConfig, timeout time.Duration) *openai.Adapter {
	client := openai.DefaultClient(modeladapter.DefaultHeaderTimeout)
	client.Timeout = timeout

	a := openai.New(bc.BaseURL, bc.APIKey, client)
	if len(bc.Headers) > 0 {
		a.Headers = bc.Headers
	}

	return a
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// Overrides adjusts a single run. Nil fields keep the configured value.
type Overrides struct {
	Agents    *int
	Model     *string
	MaxTokens *int
	Stream    *bool
}

// Options resolves the orchestrator options for one run.
func (e *Engine) Options(ov Overrides) promode.Options {
	_, pause, _ := e.cfg.durations()

	opts := promode.Options{
		Agents:               e.cfg.Agents,
		Model:                e.cfg.Model,
		MaxTokens:            e.cfg.MaxTokens,
		StreamCandidates:     e.cfg.Stream,
		Concurrency:          e.cfg.Concurrency,
		CandidateTemperature: e.cfg.Temperatures.Candidate,
		SynthesisTemperature: e.cfg.Temperatures.Synthesis,
		Pause:                pause,
	}

	if ov.Agents != nil {
		opts.Agents = *ov.Agents
	}
	if ov.Model != nil {
		opts.Model = *ov.Model
	}
	if ov.MaxTokens != nil {
		opts.MaxTokens = *ov.MaxTokens
	}
	if ov.Stream != nil {
		opts.StreamCandidates = *ov.Stream
	}

	return opts
}

// Run performs one orchestration with the configured options, writing
// progress and streamed output to out.
func (e *Engine) Run(ctx context.Context, prompt string, out io.Writer) (promode.Result, error) {
	return e.RunWith(ctx, prompt, out, Overrides{})
}

// RunWith performs one orchestration with per-run overrides.
func (e *Engine) RunWith(ctx context.Context, prompt string, out io.Writer, ov Overrides) (promode.Result, error) {
	res, err := e.orch.Run(ctx, out, prompt, e.Options(ov))
	if err != nil {
		return promode.Result{}, fmt.Errorf("engine: run: %w", err)
	}

	if r, ok := e.completer.(modeladapter.UsageReporter); ok {
		e.log.InfoContext(ctx, "token usage", "run_id", res.RunID, "usage_total", r.UsageTracker().Total().String())
	}

	return res, nil
}

// Usage returns the tokens consumed since the engine was created, or the zero
// count when the backend does not report usage.
func (e *Engine) Usage() usage.TokenCount {
	if r, ok := e.completer.(modeladapter.UsageReporter); ok {
		return r.UsageTracker().Total()
	}
	return usage.TokenCount{}
}
