// Package tools exposes promode runs as tools.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/promode/pkg/tools/toolbox]: Tool type and a ToolBox for registering and calling tools by name
//   - [github.com/germanamz/promode/pkg/tools/mcpserver]: MCP server using the official MCP Go SDK for publishing a ToolBox over stdio
package tools
