// Package providers groups the backend adapters.
//
//   - [github.com/germanamz/promode/pkg/providers/openai]: OpenAI-compatible chat completions (OpenAI, Ollama, vLLM, Groq, OpenRouter)
//
// Adapters embed [github.com/germanamz/promode/pkg/modeladapter.ModelAdapter]
// for HTTP, auth and usage tracking, and implement
// [github.com/germanamz/promode/pkg/modeladapter.Completer].
package providers
