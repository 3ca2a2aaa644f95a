// Package engine assembles the backend client, the invoker and the
// orchestrator from configuration and exposes runs to the CLI and to the MCP
// server.
package engine
