package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/olgasafonova/mediawiki-api-go/metrics"
	"github.com/olgasafonova/mediawiki-api-go/tracing"
	"github.com/olgasafonova/mediawiki-api-go/wiki"
)

// HandlerRegistry provides type-safe tool registration by mapping
// tool names to their concrete handler implementations.
type HandlerRegistry struct {
	client *wiki.Client
	logger *slog.Logger
}

// NewHandlerRegistry creates a new handler registry.
func NewHandlerRegistry(client *wiki.Client, logger *slog.Logger) *HandlerRegistry {
	return &HandlerRegistry{
		client: client,
		logger: logger,
	}
}

// RegisterAll registers all tools with the MCP server.
func (h *HandlerRegistry) RegisterAll(server *mcp.Server) {
	registered := 0
	for _, spec := range AllTools {
		if h.registerByName(server, spec) {
			registered++
		}
	}
	h.logger.Info("Registered all tools", "count", registered)
}

// registerByName dispatches to the correct typed registration function.
func (h *HandlerRegistry) registerByName(server *mcp.Server, spec ToolSpec) bool {
	tool := h.buildTool(spec)

	switch spec.Method {
	case "QueryPages":
		register(h, server, tool, spec, h.client.QueryPagesMCP)
	case "Query":
		register(h, server, tool, spec, h.client.QueryMCP)
	case "SiteInfo":
		register(h, server, tool, spec, h.client.SiteInfoMCP)
	default:
		h.logger.Error("Unknown method, tool not registered", "method", spec.Method, "tool", spec.Name)
		return false
	}
	return true
}

// buildTool creates an mcp.Tool from a ToolSpec.
func (h *HandlerRegistry) buildTool(spec ToolSpec) *mcp.Tool {
	annotations := &mcp.ToolAnnotations{
		Title:          spec.Title,
		ReadOnlyHint:   spec.ReadOnly,
		IdempotentHint: spec.Idempotent,
	}
	if spec.Destructive {
		annotations.DestructiveHint = ptr(true)
	}
	if spec.OpenWorld {
		annotations.OpenWorldHint = ptr(true)
	}

	return &mcp.Tool{
		Name:        spec.Name,
		Description: spec.Description,
		Annotations: annotations,
	}
}

// register is a generic helper that registers a tool with the MCP server.
// It wraps the client method with panic recovery, metrics, tracing, and logging.
func register[Args, Result any](
	h *HandlerRegistry,
	server *mcp.Server,
	tool *mcp.Tool,
	spec ToolSpec,
	method func(context.Context, Args) (Result, error),
) {
	mcp.AddTool(server, tool, func(ctx context.Context, req *mcp.CallToolRequest, args Args) (*mcp.CallToolResult, Result, error) {
		return invoke(ctx, h, spec, method, args)
	})
}

// invoke runs one tool call with tracing, metrics and panic recovery.
func invoke[Args, Result any](
	ctx context.Context,
	h *HandlerRegistry,
	spec ToolSpec,
	method func(context.Context, Args) (Result, error),
	args Args,
) (res *mcp.CallToolResult, result Result, err error) {
	defer h.recoverPanic(spec.Name, &err)

	ctx, span := tracing.StartSpan(ctx, "mcp.tool."+spec.Name)
	defer span.End()

	tracing.AddToolAttributes(span, spec.Name, spec.Category)
	span.SetAttributes(attribute.Bool("mcp.tool.readonly", spec.ReadOnly))

	metrics.ToolInFlight.WithLabelValues(spec.Name).Inc()
	defer metrics.ToolInFlight.WithLabelValues(spec.Name).Dec()

	start := time.Now()
	result, err = method(ctx, args)
	duration := time.Since(start).Seconds()

	span.SetAttributes(attribute.Float64("mcp.tool.duration_seconds", duration))

	if err != nil {
		tracing.RecordError(span, err)
		metrics.RecordToolRequest(spec.Name, duration, false)
		var zero Result
		return nil, zero, fmt.Errorf("%s failed: %w", spec.Name, err)
	}

	span.SetStatus(codes.Ok, "")
	metrics.RecordToolRequest(spec.Name, duration, true)
	h.logExecution(spec, args, result)
	return nil, result, nil
}

// recoverPanic recovers from panics in tool handlers and turns them into errors.
func (h *HandlerRegistry) recoverPanic(toolName string, errp *error) {
	if rec := recover(); rec != nil {
		metrics.PanicsRecovered.WithLabelValues(toolName).Inc()
		h.logger.Error("Panic recovered",
			"tool", toolName,
			"panic", rec,
			"stack", string(debug.Stack()))
		*errp = fmt.Errorf("%s failed: internal error", toolName)
	}
}

// logExecution logs tool execution details.
func (h *HandlerRegistry) logExecution(spec ToolSpec, args, result any) {
	attrs := []any{"tool", spec.Name, "category", spec.Category}

	switch a := args.(type) {
	case wiki.QueryPagesArgs:
		attrs = append(attrs, "params", len(a.Params), "limit", a.Limit)
	case wiki.QueryArgs:
		attrs = append(attrs, "action", a.Action, "params", len(a.Params))
	case wiki.SiteInfoArgs:
		attrs = append(attrs, "props", a.Props)
	}

	switch r := result.(type) {
	case wiki.QueryPagesResult:
		attrs = append(attrs, "pages", r.Count, "truncated", r.Truncated, "modified", len(r.ModifiedPages))
	case wiki.QueryResult:
		attrs = append(attrs, "responses", r.Responses, "truncated", r.Truncated)
	case wiki.SiteInfoResult:
		attrs = append(attrs, "site", r.SiteName)
	}

	h.logger.Info("Tool executed", attrs...)
}
