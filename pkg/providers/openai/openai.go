// Package openai provides a Completer for OpenAI-compatible chat completions
// endpoints (OpenAI, Ollama, Groq, OpenRouter, Cerebras and friends).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/germanamz/promode/pkg/modeladapter"
	"github.com/germanamz/promode/pkg/modeladapter/usage"
)

// DefaultBaseURL points at a local Ollama server.
const DefaultBaseURL = "http://localhost:11434/v1"

const completionsPath = "/chat/completions"

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter implements modeladapter.Completer for the chat completions API.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter. The baseURL includes the API version segment
// (e.g. "https://api.openai.com/v1") and has no trailing slash. An empty
// baseURL selects DefaultBaseURL. A nil client gets DefaultClient.
func New(baseURL, apiKey string, client *http.Client) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = DefaultClient(modeladapter.DefaultHeaderTimeout)
	}

	return &Adapter{
		ModelAdapter: modeladapter.New(baseURL, modeladapter.Auth{Key: apiKey}, client),
	}
}

// DefaultClient returns an instrumented client without a total timeout:
// connection setup and the wait for response headers are bounded, while a
// streamed body may take as long as the request context allows. Set
// Client.Timeout on the result to cap whole calls.
func DefaultClient(headerTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(modeladapter.NewTransport(headerTimeout),
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return operation + " " + r.URL.Path
			}),
		),
	}
}

// Complete sends a blocking request and returns the first choice's content
// verbatim.
func (a *Adapter) Complete(ctx context.Context, req modeladapter.Request) (string, error) {
	ctx, span := tracer.Start(ctx, "chat completion")
	defer span.End()
	setRequestAttributes(span, req, false)

	var resp apiResponse
	if err := a.PostJSON(ctx, completionsPath, buildRequest(req, false), &resp); err != nil {
		err = fmt.Errorf("openai: %w", err)
		recordError(span, err)
		return "", err
	}

	a.recordUsage(span, resp.Usage)

	if len(resp.Choices) == 0 {
		err := errors.New("openai: empty choices in response")
		recordError(span, err)
		return "", err
	}

	choice := resp.Choices[0]
	span.SetAttributes(attribute.String("response.finish_reason", choice.FinishReason))

	if choice.Message.Content == nil {
		return "", nil
	}

	return *choice.Message.Content, nil
}

// CompleteStream sends a streaming request and yields reasoning and content
// deltas as they arrive. The request is sent when the stream is first
// iterated.
func (a *Adapter) CompleteStream(ctx context.Context, req modeladapter.Request) modeladapter.Stream {
	return func(yield func(modeladapter.Event, error) bool) {
		ctx, span := tracer.Start(ctx, "chat completion stream")
		defer span.End()
		setRequestAttributes(span, req, true)

		fail := func(err error) {
			err = fmt.Errorf("openai: %w", err)
			recordError(span, err)
			yield(modeladapter.Event{}, err)
		}

		body, err := a.PostStream(ctx, completionsPath, buildRequest(req, true))
		if err != nil {
			fail(err)
			return
		}
		defer func() { _ = body.Close() }()

		firstChunk := true
		for payload, err := range modeladapter.ReadSSE(body) {
			if err != nil {
				fail(err)
				return
			}

			if firstChunk {
				span.AddEvent("received first chunk")
				firstChunk = false
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				fail(fmt.Errorf("decode stream chunk: %w", err))
				return
			}

			if chunk.Error != nil {
				fail(fmt.Errorf("stream error: %s", chunk.Error.Message))
				return
			}

			if chunk.Usage != nil {
				a.recordUsage(span, *chunk.Usage)
			}

			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if choice.FinishReason != nil {
				span.SetAttributes(attribute.String("response.finish_reason", *choice.FinishReason))
			}

			event := choice.Delta.event()
			if !event.HasReasoning() && !event.HasContent() {
				continue
			}

			if !yield(event, nil) {
				return
			}
		}
	}
}

func (a *Adapter) recordUsage(span trace.Span, u apiUsage) {
	tc := usage.TokenCount{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
	if u.CompletionTokensDetails != nil {
		tc.ReasoningTokens = u.CompletionTokensDetails.ReasoningTokens
	}
	if tc == (usage.TokenCount{}) {
		return
	}

	a.Usage.Add(tc)
	span.SetAttributes(
		attribute.Int("usage.input", tc.InputTokens),
		attribute.Int("usage.output", tc.OutputTokens),
		attribute.Int("usage.reasoning", tc.ReasoningTokens),
	)
}

func setRequestAttributes(span trace.Span, req modeladapter.Request, stream bool) {
	span.SetAttributes(
		attribute.String("request.model", req.Model),
		attribute.Int("request.max_tokens", req.MaxTokens),
		attribute.Float64("request.temperature", req.Temperature),
		attribute.Bool("request.stream", stream),
	)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
