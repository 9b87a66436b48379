package tools

import (
	"log/slog"

	"github.com/ggoodman/mcp-gateway-go/internal/logctx"
	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/ggoodman/mcp-gateway-go/upstream"
	"github.com/mark3labs/mcp-go/server"
)

// Deps are the collaborators tools reach.
type Deps struct {
	Registry sessions.Registry
	// Upstream may be nil, in which case only the namespace tools are
	// registered.
	Upstream *upstream.Client
	Logger   *slog.Logger
}

// All returns every tool d supports.
func All(d Deps) []Tool {
	log := logctx.Wrap(d.Logger)
	out := namespaceTools(d.Registry, log)
	if d.Upstream != nil {
		out = append(out, noteTools(d.Upstream, log)...)
	}
	return out
}

// Register adds every tool d supports to srv.
func Register(srv *server.MCPServer, d Deps) {
	all := All(d)
	st := make([]server.ServerTool, 0, len(all))
	for _, t := range all {
		st = append(st, t.ServerTool())
	}
	srv.AddTools(st...)
}
