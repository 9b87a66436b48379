package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/ggoodman/mcp-gateway-go/internal/logctx"
	"github.com/ggoodman/mcp-gateway-go/reqctx"
	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// writeScopes are the scopes that permit state-changing tools.
var writeScopes = []string{"mcp", "admin"}

// Tool pairs a descriptor with its handler.
type Tool struct {
	Def      mcp.Tool
	Handler  server.ToolHandlerFunc
	Mutating bool
}

// ServerTool converts t for server.MCPServer.AddTools.
func (t Tool) ServerTool() server.ServerTool {
	return server.ServerTool{Tool: t.Def, Handler: t.Handler}
}

// NewTypedTool builds a tool whose arguments decode into A. The input schema
// is reflected from A; unknown argument fields are rejected.
func NewTypedTool[A any](name, description string, mutating bool, fn func(ctx context.Context, args A) (*mcp.CallToolResult, error)) Tool {
	def := mcp.NewToolWithRawSchema(name, description, reflectInputSchema[A]())
	if mutating {
		def.Annotations.ReadOnlyHint = mcp.ToBoolPtr(false)
		def.Annotations.DestructiveHint = mcp.ToBoolPtr(true)
	} else {
		def.Annotations.ReadOnlyHint = mcp.ToBoolPtr(true)
	}

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if mutating && !mayWrite(reqctx.From(ctx)) {
			return mcp.NewToolResultError(fmt.Sprintf("insufficient scope: %s requires one of %v", name, writeScopes)), nil
		}
		var a A
		if args := req.GetArguments(); len(args) > 0 {
			raw, err := json.Marshal(args)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&a); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
		}
		return fn(ctx, a)
	}
	return Tool{Def: def, Handler: handler, Mutating: mutating}
}

// mayWrite reports whether rc permits state changes. A context with no
// scopes did not come through credential validation (stdio) and is not
// restricted here.
func mayWrite(rc reqctx.Context) bool {
	if len(rc.Scopes) == 0 {
		return true
	}
	for _, s := range writeScopes {
		if rc.HasScope(s) {
			return true
		}
	}
	return false
}

// noArgs is the argument type of tools that take no arguments.
type noArgs struct{}

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)

// reflectInputSchema reflects A into a JSON Schema object suitable as a raw
// tool input schema. Structs without fields get the empty strict object.
// Anonymous structs are not supported by the reflector's expanded mode.
func reflectInputSchema[A any]() json.RawMessage {
	t := reflect.TypeFor[A]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Struct && t.NumField() == 0 {
		return emptyObjectSchema
	}
	if t.Name() == "" {
		return json.RawMessage(`{"type":"object"}`)
	}
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: false,
		Anonymous:                 true,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	s.Version = ""
	if s.Properties == nil || s.Properties.Len() == 0 {
		return emptyObjectSchema
	}
	b, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return b
}

// Middleware tags the context with the tool name and logs each call.
func Middleware(log *slog.Logger) server.ToolHandlerMiddleware {
	log = logctx.Wrap(log)
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			start := time.Now()
			ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: req.Params.Name})
			res, err := next(ctx, req)
			switch {
			case err != nil:
				log.ErrorContext(ctx, "tool.call.fail", slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
			case res != nil && res.IsError:
				log.InfoContext(ctx, "tool.call.error", slog.Duration("dur", time.Since(start)))
			default:
				log.InfoContext(ctx, "tool.call.ok", slog.Duration("dur", time.Since(start)))
			}
			return res, err
		}
	}
}

// NewServer builds the protocol library instance the transports dispatch
// into, with panic recovery and call logging installed.
func NewServer(name, version string, log *slog.Logger) *server.MCPServer {
	return server.NewMCPServer(name, version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(Middleware(log)),
	)
}
