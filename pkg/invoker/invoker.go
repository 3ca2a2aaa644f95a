// Package invoker performs single generation calls against a backend with a
// bounded retry budget, optionally relaying a streamed response to a writer
// while buffering its content.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/germanamz/promode/pkg/modeladapter"
)

const (
	// DefaultAttempts is the total number of tries per call, first one included.
	DefaultAttempts = 3
	// DefaultBaseDelay is the wait after the first failed attempt; it doubles
	// after every further failure.
	DefaultBaseDelay = 500 * time.Millisecond

	// Separator marks the switch from reasoning to answer in streamed output.
	Separator = "\n---\n"
)

// ErrRetriesExhausted is matched by every *ExhaustedError.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ExhaustedError is returned when every attempt of a call failed. Err is the
// cause reported by the last attempt.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error { return []error{ErrRetriesExhausted, e.Err} }

// Options configures an Invoker. Zero values select the defaults.
type Options struct {
	Attempts  int
	BaseDelay time.Duration
	Logger    *slog.Logger
}

// Invoker issues generation calls. It is safe for concurrent use as long as
// the backend is; each call owns its own output writer.
type Invoker struct {
	backend   modeladapter.Completer
	attempts  int
	baseDelay time.Duration
	log       *slog.Logger

	// sleepFunc is used for testing; defaults to a context-aware sleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates an Invoker over backend.
func New(backend modeladapter.Completer, opts Options) *Invoker {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Invoker{
		backend:   backend,
		attempts:  opts.Attempts,
		baseDelay: opts.BaseDelay,
		log:       opts.Logger,
		sleepFunc: contextSleep,
	}
}

// SetSleepFunc overrides the sleep function (for testing).
func (inv *Invoker) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	inv.sleepFunc = fn
}

// contextSleep sleeps for d or until ctx is cancelled.
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

// Invoke runs req against the backend and returns the answer text.
//
// A failed attempt is retried with identical parameters after a backoff that
// starts at the base delay and doubles, until the attempt budget is spent;
// the last failure is returned as an *ExhaustedError. A rate-limit response
// asking for a longer wait is honoured for that retry, so consecutive waits
// double only when no Retry-After is in play. An invalid request
// fails immediately without reaching the backend.
//
// When req.Stream is set, reasoning and content are written to out as they
// arrive and only the content is returned. Blocking calls never touch out.
func (inv *Invoker) Invoke(ctx context.Context, out io.Writer, req modeladapter.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	delay := inv.baseDelay
	var lastErr error
	for attempt := 1; attempt <= inv.attempts; attempt++ {
		text, err := inv.attempt(ctx, out, req)
		if err == nil {
			return text, nil
		}

		lastErr = err
		if attempt == inv.attempts {
			break
		}

		wait := delay
		var rl *modeladapter.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}

		inv.log.WarnContext(ctx, "backend call failed, retrying",
			"attempt", attempt,
			"delay", wait,
			"error", err,
		)

		if err := inv.sleepFunc(ctx, wait); err != nil {
			return "", err
		}
		delay *= 2
	}

	return "", &ExhaustedError{Attempts: inv.attempts, Err: lastErr}
}

func (inv *Invoker) attempt(ctx context.Context, out io.Writer, req modeladapter.Request) (string, error) {
	if !req.Stream {
		return inv.backend.Complete(ctx, req)
	}

	return relay(out, inv.backend.CompleteStream(ctx, req))
}

// relay drains stream, echoing reasoning and content to out and returning the
// concatenated content. On a stream error the partial content is dropped.
func relay(out io.Writer, stream modeladapter.Stream) (string, error) {
	p := printer{out: out}

	var content strings.Builder
	for event, err := range stream {
		if err != nil {
			return "", err
		}

		p.print(event)
		content.WriteString(event.Content)
	}

	p.finish()
	return content.String(), nil
}

// printer writes streamed deltas to a terminal-like sink. Write errors are
// ignored: the sink is informational and the content is buffered anyway.
type printer struct {
	out           io.Writer
	separatorDone bool
}

func (p *printer) print(e modeladapter.Event) {
	if e.HasReasoning() {
		_, _ = io.WriteString(p.out, e.Reasoning)
	}

	if !e.HasContent() {
		return
	}

	if !p.separatorDone {
		_, _ = io.WriteString(p.out, Separator)
		p.separatorDone = true
	}
	_, _ = io.WriteString(p.out, e.Content)
}

func (p *printer) finish() {
	_, _ = io.WriteString(p.out, "\n")
}
