package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ggoodman/mcp-gateway-go/reqctx"
	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/mark3labs/mcp-go/mcp"
)

// defaultMemory is reported when a session has made no selection.
const defaultMemory = "default"

type selectMemoryArgs struct {
	Memory string `json:"memory" jsonschema:"description=Name of the memory to use for later calls in this session. Empty selects the default memory."`
}

type activeMemory struct {
	Memory    string `json:"memory"`
	IsDefault bool   `json:"is_default"`
}

func namespaceTools(reg sessions.Registry, log *slog.Logger) []Tool {
	selectMemory := NewTypedTool("select_memory",
		"Select the memory (archive) that subsequent tool calls in this session operate on.",
		false,
		func(ctx context.Context, args selectMemoryArgs) (*mcp.CallToolResult, error) {
			rc := reqctx.From(ctx)
			if err := reg.SetNamespace(ctx, rc.SessionID, args.Memory); err != nil {
				return namespaceError(ctx, log, err), nil
			}
			return memoryResult(args.Memory), nil
		})

	getActive := NewTypedTool("get_active_memory",
		"Report which memory this session's tool calls currently operate on.",
		false,
		func(ctx context.Context, _ noArgs) (*mcp.CallToolResult, error) {
			rc := reqctx.From(ctx)
			ns, err := reg.Namespace(ctx, rc.SessionID)
			if err != nil {
				return namespaceError(ctx, log, err), nil
			}
			return memoryResult(ns), nil
		})

	return []Tool{selectMemory, getActive}
}

func namespaceError(ctx context.Context, log *slog.Logger, err error) *mcp.CallToolResult {
	if errors.Is(err, sessions.ErrNoSession) {
		return mcp.NewToolResultError("NoSession: memory selection requires a session; it is not available on this transport")
	}
	log.ErrorContext(ctx, "tool.namespace.fail", slog.String("err", err.Error()))
	return mcp.NewToolResultError("failed to access memory selection")
}

func memoryResult(ns string) *mcp.CallToolResult {
	out := activeMemory{Memory: ns}
	if ns == "" {
		out = activeMemory{Memory: defaultMemory, IsDefault: true}
	}
	b, _ := json.Marshal(out)
	return mcp.NewToolResultText(string(b))
}
