package promode_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/germanamz/promode/pkg/invoker"
	"github.com/germanamz/promode/pkg/modeladapter"
	"github.com/germanamz/promode/pkg/promode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInvoker records every request and answers through fn. It is safe for
// concurrent use.
type fakeInvoker struct {
	mu       sync.Mutex
	requests []modeladapter.Request
	fn       func(call int, req modeladapter.Request, out io.Writer) (string, error)
}

func (f *fakeInvoker) Invoke(_ context.Context, out io.Writer, req modeladapter.Request) (string, error) {
	f.mu.Lock()
	call := len(f.requests)
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	return f.fn(call, req, out)
}

func (f *fakeInvoker) calls() []modeladapter.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]modeladapter.Request(nil), f.requests...)
}

func (f *fakeInvoker) last() modeladapter.Request {
	reqs := f.calls()
	return reqs[len(reqs)-1]
}

type pauseRecorder struct {
	delays []time.Duration
}

func (p *pauseRecorder) sleep(_ context.Context, d time.Duration) error {
	p.delays = append(p.delays, d)
	return nil
}

func newOrchestrator(inv promode.Invoker) (*promode.Orchestrator, *pauseRecorder) {
	o := promode.New(inv, nil)
	rec := &pauseRecorder{}
	o.SetSleepFunc(rec.sleep)
	return o, rec
}

func options(agents int) promode.Options {
	opts := promode.DefaultOptions("gpt-oss:20b")
	opts.Agents = agents
	opts.MaxTokens = 1000
	return opts
}

// isSynthesis reports whether req is the merge call.
func isSynthesis(req modeladapter.Request) bool {
	return strings.Contains(req.Prompt, "<cand 1>")
}

// longestCandidate answers synthesis calls with the longest tagged candidate.
func longestCandidate(prompt string) string {
	var best string
	for _, block := range strings.Split(prompt, "<cand ")[1:] {
		_, body, _ := strings.Cut(block, ">\n")
		body, _, _ = strings.Cut(body, "\n</cand ")
		if len(body) > len(best) {
			best = body
		}
	}
	return best
}

func TestRun_EndToEnd(t *testing.T) {
	answers := []string{"Paris", "The capital of France is Paris.", "Paris, France"}
	inv := &fakeInvoker{fn: func(call int, req modeladapter.Request, _ io.Writer) (string, error) {
		if isSynthesis(req) {
			return longestCandidate(req.Prompt), nil
		}
		return answers[call], nil
	}}
	o, rec := newOrchestrator(inv)

	var out bytes.Buffer
	res, err := o.Run(context.Background(), &out, "What is the capital of France?", options(3))
	require.NoError(t, err)

	assert.Equal(t, answers, res.Candidates)
	assert.Equal(t, "The capital of France is Paris.", res.Final)
	assert.Empty(t, res.Failed)
	assert.NotEmpty(t, res.RunID)

	reqs := inv.calls()
	require.Len(t, reqs, 4)
	for _, req := range reqs[:3] {
		assert.Equal(t, "What is the capital of France?", req.Prompt)
		assert.InDelta(t, 0.9, req.Temperature, 1e-9)
		assert.True(t, req.Stream)
		assert.Equal(t, "gpt-oss:20b", req.Model)
		assert.Equal(t, 1000, req.MaxTokens)
	}

	synth := reqs[3]
	assert.InDelta(t, 0.2, synth.Temperature, 1e-9)
	assert.True(t, synth.Stream)
	assert.Equal(t, promode.SynthesisPrompt(answers), synth.Prompt)

	assert.Equal(t, []time.Duration{promode.DefaultPause, promode.DefaultPause}, rec.delays)

	assert.Equal(t,
		"\n--- Generating candidate 1/3 ---\n"+
			"\n--- Generating candidate 2/3 ---\n"+
			"\n--- Generating candidate 3/3 ---\n"+
			"\n--- Synthesizing final answer ---\n",
		out.String())
}

func TestRun_FailedCandidateBecomesPlaceholder(t *testing.T) {
	inv := &fakeInvoker{fn: func(call int, req modeladapter.Request, _ io.Writer) (string, error) {
		switch {
		case isSynthesis(req):
			return "merged", nil
		case call == 1:
			return "", &invoker.ExhaustedError{Attempts: 3, Err: errors.New("connection refused")}
		default:
			return fmt.Sprintf("answer %d", call+1), nil
		}
	}}

	var logs bytes.Buffer
	o := promode.New(inv, slog.New(slog.NewTextHandler(&logs, nil)))
	o.SetSleepFunc((&pauseRecorder{}).sleep)

	var out bytes.Buffer
	res, err := o.Run(context.Background(), &out, "q", options(3))
	require.NoError(t, err)

	require.Len(t, res.Candidates, 3)
	assert.Equal(t, "answer 1", res.Candidates[0])
	assert.Equal(t, "Error: connection refused", res.Candidates[1])
	assert.Equal(t, "answer 3", res.Candidates[2])
	assert.Equal(t, []int{1}, res.Failed)
	assert.Equal(t, "merged", res.Final)

	assert.Contains(t, out.String(), "Candidate generation 2 failed: connection refused\n")
	assert.NotContains(t, out.String(), "attempts")
	assert.Contains(t, inv.last().Prompt, "<cand 2>\nError: connection refused\n</cand 2>")
	assert.NotContains(t, inv.last().Prompt, "attempts")

	assert.Contains(t, logs.String(), "candidate failed")
	assert.Contains(t, logs.String(), "failed after 3 attempts: connection refused")
}

func TestRun_AllCandidatesFailStillSynthesizes(t *testing.T) {
	inv := &fakeInvoker{fn: func(_ int, req modeladapter.Request, _ io.Writer) (string, error) {
		if isSynthesis(req) {
			return "I could not find an answer.", nil
		}
		return "", errors.New("down")
	}}
	o, _ := newOrchestrator(inv)

	res, err := o.Run(context.Background(), io.Discard, "q", options(2))
	require.NoError(t, err)

	assert.Equal(t, []string{"Error: down", "Error: down"}, res.Candidates)
	assert.Equal(t, []int{0, 1}, res.Failed)
	assert.Equal(t, "I could not find an answer.", res.Final)
	assert.Len(t, inv.calls(), 3)
}

func TestRun_SynthesisFailureIsFatal(t *testing.T) {
	cause := errors.New("failed after 3 attempts: 502")
	inv := &fakeInvoker{fn: func(_ int, req modeladapter.Request, _ io.Writer) (string, error) {
		if isSynthesis(req) {
			return "", cause
		}
		return "ok", nil
	}}
	o, _ := newOrchestrator(inv)

	res, err := o.Run(context.Background(), io.Discard, "q", options(2))
	require.ErrorIs(t, err, promode.ErrSynthesisFailed)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, res.Final)
	assert.Empty(t, res.Candidates)
}

func TestRun_SynthesisStreamsEvenWhenCandidatesDoNot(t *testing.T) {
	inv := &fakeInvoker{fn: func(_ int, _ modeladapter.Request, _ io.Writer) (string, error) {
		return "x", nil
	}}
	o, _ := newOrchestrator(inv)

	opts := options(2)
	opts.StreamCandidates = false

	_, err := o.Run(context.Background(), io.Discard, "q", opts)
	require.NoError(t, err)

	reqs := inv.calls()
	require.Len(t, reqs, 3)
	assert.False(t, reqs[0].Stream)
	assert.False(t, reqs[1].Stream)
	assert.True(t, reqs[2].Stream)
}

func TestRun_SingleAgentSkipsPause(t *testing.T) {
	inv := &fakeInvoker{fn: func(_ int, req modeladapter.Request, _ io.Writer) (string, error) {
		if isSynthesis(req) {
			return "final", nil
		}
		return "only", nil
	}}
	o, rec := newOrchestrator(inv)

	res, err := o.Run(context.Background(), io.Discard, "q", options(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, res.Candidates)
	assert.Equal(t, "final", res.Final)
	assert.Empty(t, rec.delays)
	assert.Contains(t, inv.last().Prompt, "You are given 1 candidate answers")
}

func TestRun_InvalidOptionsFailBeforeAnyCall(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		mutate func(*promode.Options)
	}{
		{name: "zero agents", prompt: "q", mutate: func(o *promode.Options) { o.Agents = 0 }},
		{name: "negative agents", prompt: "q", mutate: func(o *promode.Options) { o.Agents = -1 }},
		{name: "empty prompt", prompt: "  ", mutate: func(*promode.Options) {}},
		{name: "empty model", prompt: "q", mutate: func(o *promode.Options) { o.Model = "" }},
		{name: "zero max tokens", prompt: "q", mutate: func(o *promode.Options) { o.MaxTokens = 0 }},
		{name: "negative concurrency", prompt: "q", mutate: func(o *promode.Options) { o.Concurrency = -2 }},
		{name: "negative pause", prompt: "q", mutate: func(o *promode.Options) { o.Pause = -time.Second }},
		{name: "candidate temperature", prompt: "q", mutate: func(o *promode.Options) { o.CandidateTemperature = 2.5 }},
		{name: "synthesis temperature", prompt: "q", mutate: func(o *promode.Options) { o.SynthesisTemperature = -0.1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInvoker{fn: func(int, modeladapter.Request, io.Writer) (string, error) {
				t.Fatal("backend must not be called")
				return "", nil
			}}
			o, _ := newOrchestrator(inv)

			opts := options(3)
			tt.mutate(&opts)

			var out bytes.Buffer
			_, err := o.Run(context.Background(), &out, tt.prompt, opts)
			require.ErrorIs(t, err, promode.ErrInvalidOptions)
			assert.Empty(t, inv.calls())
			assert.Empty(t, out.String())
		})
	}
}

func TestRun_CancelledDuringPause(t *testing.T) {
	inv := &fakeInvoker{fn: func(int, modeladapter.Request, io.Writer) (string, error) {
		return "x", nil
	}}
	o := promode.New(inv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	o.SetSleepFunc(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})

	_, err := o.Run(ctx, io.Discard, "q", options(3))
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, inv.calls(), 1)
}

func TestRun_ConcurrentKeepsOrder(t *testing.T) {
	const agents = 4

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)

	inv := &fakeInvoker{fn: func(_ int, req modeladapter.Request, out io.Writer) (string, error) {
		if isSynthesis(req) {
			return "merged", nil
		}

		mu.Lock()
		active++
		maxSeen = max(maxSeen, active)
		mu.Unlock()
		defer func() {
			mu.Lock()
			active--
			mu.Unlock()
		}()

		time.Sleep(5 * time.Millisecond)
		_, _ = io.WriteString(out, "streamed")
		return "answer", nil
	}}
	o, rec := newOrchestrator(inv)

	opts := options(agents)
	opts.Concurrency = 2

	var out bytes.Buffer
	res, err := o.Run(context.Background(), &out, "q", opts)
	require.NoError(t, err)

	assert.Len(t, res.Candidates, agents)
	assert.Equal(t, "merged", res.Final)
	assert.LessOrEqual(t, maxSeen, 2)
	assert.Empty(t, rec.delays)

	var want strings.Builder
	for i := 1; i <= agents; i++ {
		fmt.Fprintf(&want, "\n--- Generating candidate %d/%d ---\nstreamed", i, agents)
	}
	want.WriteString("\n--- Synthesizing final answer ---\n")
	assert.Equal(t, want.String(), out.String())
}

func TestRun_ConcurrentFailureLandsAtItsIndex(t *testing.T) {
	inv := &fakeInvoker{fn: func(_ int, req modeladapter.Request, _ io.Writer) (string, error) {
		if isSynthesis(req) {
			return "merged", nil
		}
		return "fine", nil
	}}

	// Fail the candidate whose banner is written to the buffer for index 2.
	failing := &bannerAwareInvoker{inner: inv, failOn: "candidate 3/3"}
	o, _ := newOrchestrator(failing)

	opts := options(3)
	opts.Concurrency = 3

	res, err := o.Run(context.Background(), io.Discard, "q", opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"fine", "fine", "Error: boom"}, res.Candidates)
	assert.Equal(t, []int{2}, res.Failed)
}

// bannerAwareInvoker fails calls whose output writer already holds failOn.
type bannerAwareInvoker struct {
	inner  promode.Invoker
	failOn string
}

func (b *bannerAwareInvoker) Invoke(ctx context.Context, out io.Writer, req modeladapter.Request) (string, error) {
	if buf, ok := out.(*bytes.Buffer); ok && strings.Contains(buf.String(), b.failOn) {
		return "", errors.New("boom")
	}
	return b.inner.Invoke(ctx, out, req)
}

func TestOutcome_Candidate(t *testing.T) {
	assert.Equal(t, "Paris", promode.Outcome{Text: "Paris"}.Candidate())
	assert.Equal(t, "Error: timeout", promode.Outcome{Err: errors.New("timeout")}.Candidate())
	assert.Empty(t, promode.Outcome{}.Candidate())
}

func TestOutcome_CandidateUsesBackendCause(t *testing.T) {
	exhausted := &invoker.ExhaustedError{Attempts: 3, Err: errors.New("HTTP 503: overloaded")}
	wrapped := fmt.Errorf("candidate 2: %w", exhausted)

	assert.Equal(t, "Error: HTTP 503: overloaded", promode.Outcome{Err: exhausted}.Candidate())
	assert.Equal(t, "Error: HTTP 503: overloaded", promode.Outcome{Err: wrapped}.Candidate())
	assert.ErrorIs(t, wrapped, invoker.ErrRetriesExhausted)
}
