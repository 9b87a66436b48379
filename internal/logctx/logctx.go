package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates every record with request, session, rpc and tool groups
// found on the context. Empty fields are left out, and a group with no
// fields is not emitted at all.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		addGroup(&r, "req",
			"id", rd.RequestID,
			"method", rd.Method,
			"path", rd.Path,
			"remote_addr", rd.RemoteAddr,
			"user_agent", rd.UserAgent,
		)
	}
	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		addGroup(&r, "sess", "id", sd.SessionID, "kind", sd.Kind, "user_id", sd.UserID)
	}
	if msg, ok := ctx.Value(rpcMsg{}).(*RPCMessage); ok {
		addGroup(&r, "rpc", "method", msg.Method, "id", msg.ID, "type", msg.Type)
	}
	if td, ok := ctx.Value(toolCallDataKey{}).(*ToolCallData); ok {
		addGroup(&r, "tool", "name", td.ToolName)
	}
	return h.Handler.Handle(ctx, r)
}

// addGroup appends a group built from alternating key, value pairs.
func addGroup(r *slog.Record, name string, kv ...string) {
	attrs := make([]any, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			attrs = append(attrs, slog.String(kv[i], kv[i+1]))
		}
	}
	if len(attrs) > 0 {
		r.AddAttrs(slog.Group(name, attrs...))
	}
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

// Wrap returns a logger whose handler is decorated with Handler. Loggers that
// are already wrapped are returned unchanged.
func Wrap(l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	if _, ok := l.Handler().(Handler); ok {
		return l
	}
	return slog.New(Handler{Handler: l.Handler()})
}

type rpcMsg struct{}

type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsg{}, msg)
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type sessionDataKey struct{}

type SessionData struct {
	SessionID string
	Kind      string
	UserID    string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type toolCallDataKey struct{}

type ToolCallData struct {
	ToolName string
}

func WithToolCallData(ctx context.Context, data *ToolCallData) context.Context {
	return context.WithValue(ctx, toolCallDataKey{}, data)
}
