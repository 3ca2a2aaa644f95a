// Package promode generates several candidate answers for one prompt and
// merges them into a single final answer with one more backend call.
//
// Candidates are produced one after another by default, or on a bounded
// worker pool when Options.Concurrency is above one. Either way the returned
// candidates keep their index order and a failed candidate is kept as an
// "Error: <cause>" placeholder instead of aborting the run. The synthesis call
// is not recovered: when it fails, Run fails.
package promode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/germanamz/promode/pkg/invoker"
	"github.com/germanamz/promode/pkg/modeladapter"
)

const (
	// CandidateTemperature favours diverse candidates.
	CandidateTemperature = 0.9
	// SynthesisTemperature keeps the merge close to its inputs.
	SynthesisTemperature = 0.2
	// DefaultPause separates two sequential candidate calls.
	DefaultPause = 500 * time.Millisecond
)

var (
	// ErrInvalidOptions is wrapped by every precondition failure of Run.
	ErrInvalidOptions = errors.New("promode: invalid options")
	// ErrSynthesisFailed is wrapped when the final merge call fails.
	ErrSynthesisFailed = errors.New("promode: synthesis failed")
)

// Invoker performs one generation call, writing streamed output to out.
type Invoker interface {
	Invoke(ctx context.Context, out io.Writer, req modeladapter.Request) (string, error)
}

// Options controls one run. Start from DefaultOptions: temperatures and the
// pause are taken as given, zero included.
type Options struct {
	Agents           int
	Model            string
	MaxTokens        int
	StreamCandidates bool
	// Concurrency bounds parallel candidate calls; 0 and 1 mean sequential.
	Concurrency          int
	CandidateTemperature float64
	SynthesisTemperature float64
	Pause                time.Duration
}

// DefaultOptions returns the options of a five-candidate streamed run.
func DefaultOptions(model string) Options {
	return Options{
		Agents:               5,
		Model:                model,
		MaxTokens:            30000,
		StreamCandidates:     true,
		Concurrency:          1,
		CandidateTemperature: CandidateTemperature,
		SynthesisTemperature: SynthesisTemperature,
		Pause:                DefaultPause,
	}
}

func (o Options) validate(prompt string) error {
	switch {
	case o.Agents < 1:
		return fmt.Errorf("%w: agents must be >= 1, got %d", ErrInvalidOptions, o.Agents)
	case strings.TrimSpace(prompt) == "":
		return fmt.Errorf("%w: empty prompt", ErrInvalidOptions)
	case o.Model == "":
		return fmt.Errorf("%w: empty model", ErrInvalidOptions)
	case o.MaxTokens < 1:
		return fmt.Errorf("%w: max tokens must be >= 1, got %d", ErrInvalidOptions, o.MaxTokens)
	case o.Concurrency < 0:
		return fmt.Errorf("%w: negative concurrency %d", ErrInvalidOptions, o.Concurrency)
	case o.Pause < 0:
		return fmt.Errorf("%w: negative pause %s", ErrInvalidOptions, o.Pause)
	}

	for name, t := range map[string]float64{
		"candidate": o.CandidateTemperature,
		"synthesis": o.SynthesisTemperature,
	} {
		if t < 0 || t > modeladapter.MaxTemperature {
			return fmt.Errorf("%w: %s temperature %.2f outside [0, %.0f]", ErrInvalidOptions, name, t, modeladapter.MaxTemperature)
		}
	}

	return nil
}

// Outcome is the result of one candidate call: either Text or Err.
type Outcome struct {
	Text string
	Err  error
}

// Candidate returns the text handed to synthesis: the answer itself, or an
// "Error: <cause>" placeholder for a failed call.
func (o Outcome) Candidate() string {
	if o.Err != nil {
		return "Error: " + cause(o.Err).Error()
	}
	return o.Text
}

// cause strips the retry wrapper so candidates and progress lines carry the
// backend's own message. The attempt count stays in the log record.
func cause(err error) error {
	var exhausted *invoker.ExhaustedError
	if errors.As(err, &exhausted) && exhausted.Err != nil {
		return exhausted.Err
	}
	return err
}

// Result is the outcome of a successful run.
type Result struct {
	RunID string
	Final string
	// Candidates holds exactly Options.Agents entries in generation order.
	Candidates []string
	// Failed lists the 0-based indices of candidates that hold a placeholder.
	Failed []int
}

// Orchestrator runs candidate generation and synthesis over an Invoker.
type Orchestrator struct {
	inv Invoker
	log *slog.Logger

	// sleepFunc is used for testing; defaults to a context-aware sleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
	// newID is used for testing; defaults to uuid.NewString.
	newID func() string
}

// New creates an Orchestrator. A nil logger discards log records.
func New(inv Invoker, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Orchestrator{
		inv:       inv,
		log:       logger,
		sleepFunc: contextSleep,
		newID:     uuid.NewString,
	}
}

// SetSleepFunc overrides the sleep function (for testing).
func (o *Orchestrator) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	o.sleepFunc = fn
}

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run generates opts.Agents candidates for prompt, then synthesizes them.
// Progress notices and streamed output go to out.
func (o *Orchestrator) Run(ctx context.Context, out io.Writer, prompt string, opts Options) (Result, error) {
	if err := opts.validate(prompt); err != nil {
		return Result{}, err
	}

	runID := o.newID()
	log := o.log.With("run_id", runID)
	start := time.Now()

	log.InfoContext(ctx, "run started",
		"agents", opts.Agents,
		"model", opts.Model,
		"concurrency", max(opts.Concurrency, 1),
	)

	req := modeladapter.Request{
		Prompt:      prompt,
		Model:       opts.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.CandidateTemperature,
		Stream:      opts.StreamCandidates,
	}

	var (
		outcomes []Outcome
		err      error
	)
	if opts.Concurrency > 1 {
		outcomes = o.generateConcurrent(ctx, out, log, req, opts)
	} else {
		outcomes, err = o.generateSequential(ctx, out, log, req, opts)
		if err != nil {
			return Result{}, err
		}
	}

	res := Result{
		RunID:      runID,
		Candidates: make([]string, len(outcomes)),
	}
	for i, oc := range outcomes {
		res.Candidates[i] = oc.Candidate()
		if oc.Err != nil {
			res.Failed = append(res.Failed, i)
		}
	}

	final, err := o.synthesize(ctx, out, log, res.Candidates, opts)
	if err != nil {
		return Result{}, err
	}
	res.Final = final

	log.InfoContext(ctx, "run finished",
		"failed_candidates", len(res.Failed),
		"duration", time.Since(start),
	)

	return res, nil
}

func (o *Orchestrator) generateSequential(ctx context.Context, out io.Writer, log *slog.Logger, req modeladapter.Request, opts Options) ([]Outcome, error) {
	outcomes := make([]Outcome, opts.Agents)
	for i := range opts.Agents {
		outcomes[i] = o.candidate(ctx, out, log, req, i, opts.Agents)

		if i < opts.Agents-1 && opts.Pause > 0 {
			if err := o.sleepFunc(ctx, opts.Pause); err != nil {
				return nil, fmt.Errorf("promode: %w", err)
			}
		}
	}
	return outcomes, nil
}

// generateConcurrent runs candidates on a bounded pool. Each candidate writes
// to its own buffer; buffers are copied to out in index order once all
// candidates are done so streamed output never interleaves.
func (o *Orchestrator) generateConcurrent(ctx context.Context, out io.Writer, log *slog.Logger, req modeladapter.Request, opts Options) []Outcome {
	outcomes := make([]Outcome, opts.Agents)
	buffers := make([]bytes.Buffer, opts.Agents)

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)

	for i := range opts.Agents {
		g.Go(func() error {
			outcomes[i] = o.candidate(ctx, &buffers[i], log, req, i, opts.Agents)
			return nil
		})
	}

	// Candidate failures are recorded in outcomes, never returned.
	_ = g.Wait()

	for i := range buffers {
		_, _ = buffers[i].WriteTo(out)
	}

	return outcomes
}

func (o *Orchestrator) candidate(ctx context.Context, out io.Writer, log *slog.Logger, req modeladapter.Request, i, n int) Outcome {
	_, _ = fmt.Fprintf(out, "\n--- Generating candidate %d/%d ---\n", i+1, n)

	start := time.Now()
	text, err := o.inv.Invoke(ctx, out, req)
	if err != nil {
		_, _ = fmt.Fprintf(out, "Candidate generation %d failed: %v\n", i+1, cause(err))
		log.WarnContext(ctx, "candidate failed",
			"candidate", i+1,
			"duration", time.Since(start),
			"error", err,
		)
		return Outcome{Err: err}
	}

	log.DebugContext(ctx, "candidate generated",
		"candidate", i+1,
		"duration", time.Since(start),
		"chars", len(text),
	)
	return Outcome{Text: text}
}

// synthesize always streams, whatever opts.StreamCandidates says.
func (o *Orchestrator) synthesize(ctx context.Context, out io.Writer, log *slog.Logger, candidates []string, opts Options) (string, error) {
	_, _ = io.WriteString(out, "\n--- Synthesizing final answer ---\n")

	start := time.Now()
	final, err := o.inv.Invoke(ctx, out, modeladapter.Request{
		Prompt:      SynthesisPrompt(candidates),
		Model:       opts.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.SynthesisTemperature,
		Stream:      true,
	})
	if err != nil {
		log.ErrorContext(ctx, "synthesis failed", "duration", time.Since(start), "error", err)
		return "", fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}

	log.DebugContext(ctx, "synthesis finished", "duration", time.Since(start))
	return final, nil
}
