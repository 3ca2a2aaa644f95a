package openai

import "go.opentelemetry.io/otel"

const scopeName = "github.com/germanamz/promode/pkg/providers/openai"

var tracer = otel.Tracer(scopeName)
