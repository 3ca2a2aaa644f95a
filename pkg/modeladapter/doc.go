// Package modeladapter defines the backend-neutral types and HTTP plumbing
// shared by text-generation backends.
//
// It contains:
//   - [Request] and [Event], the per-call request and the streamed delta record
//   - [Completer], the interface a backend implements for blocking and streamed calls
//   - [ModelAdapter], an embeddable base struct with auth, custom headers, JSON and SSE helpers
//   - [github.com/germanamz/promode/pkg/modeladapter/usage]: thread-safe token usage tracker
//
// This package contains no provider-specific code; concrete adapters live in
// separate packages that import modeladapter.
package modeladapter
