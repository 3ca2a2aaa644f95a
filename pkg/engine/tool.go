package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/germanamz/promode/pkg/tools/toolbox"
)

const proModeSchema = `{
  "type": "object",
  "properties": {
    "prompt": {"type": "string", "description": "The question or task to answer."},
    "n_agents": {"type": "integer", "minimum": 1, "description": "Number of candidate answers to generate."},
    "model": {"type": "string", "description": "Model identifier to use for every call."},
    "max_tokens": {"type": "integer", "minimum": 1, "description": "Output token cap per call."}
  },
  "required": ["prompt"]
}`

type proModeInput struct {
	Prompt    string  `json:"prompt"`
	Agents    *int    `json:"n_agents"`
	Model     *string `json:"model"`
	MaxTokens *int    `json:"max_tokens"`
}

type proModeOutput struct {
	RunID      string   `json:"run_id"`
	Final      string   `json:"final"`
	Candidates []string `json:"candidates"`
	Failed     []int    `json:"failed"`
}

// Tools returns the engine's tools in a ToolBox.
func (e *Engine) Tools() *toolbox.ToolBox {
	tb := toolbox.New()
	tb.Register(e.Tool(), e.UsageTool())
	return tb
}

// Tool returns the pro_mode tool. Streamed output is discarded; the result
// is returned as JSON.
func (e *Engine) Tool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "pro_mode",
		Description: "Generate several independent answers to a prompt and synthesize them into one final answer.",
		InputSchema: json.RawMessage(proModeSchema),
		Handler:     e.handleProMode,
	}
}

func (e *Engine) handleProMode(ctx context.Context, input json.RawMessage) (string, error) {
	var in proModeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("pro_mode: invalid input: %w", err)
	}

	res, err := e.RunWith(ctx, in.Prompt, io.Discard, Overrides{
		Agents:    in.Agents,
		Model:     in.Model,
		MaxTokens: in.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("pro_mode: %w", err)
	}

	failed := res.Failed
	if failed == nil {
		failed = []int{}
	}

	data, err := json.Marshal(proModeOutput{
		RunID:      res.RunID,
		Final:      res.Final,
		Candidates: res.Candidates,
		Failed:     failed,
	})
	if err != nil {
		return "", fmt.Errorf("pro_mode: encode result: %w", err)
	}

	return string(data), nil
}

// UsageTool returns a tool reporting the tokens consumed so far.
func (e *Engine) UsageTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "usage",
		Description: "Report input, output and reasoning tokens consumed by this server so far.",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(context.Context, json.RawMessage) (string, error) {
			u := e.Usage()
			data, err := json.Marshal(map[string]int{
				"input_tokens":     u.InputTokens,
				"output_tokens":    u.OutputTokens,
				"reasoning_tokens": u.ReasoningTokens,
				"total_tokens":     u.Total(),
			})
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	}
}
