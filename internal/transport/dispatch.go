package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ggoodman/mcp-gateway-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-gateway-go/internal/logctx"
	"github.com/ggoodman/mcp-gateway-go/reqctx"
	"github.com/mark3labs/mcp-go/mcp"
)

// Dispatch hands one decoded message to the protocol library on behalf of
// conn, with rc installed as the request context for everything the call
// reaches. It returns the message to send back, or nil when there is none.
//
// A panic below this point is logged and answered with an internal error.
func (b *Binder) Dispatch(ctx context.Context, conn *Conn, rc reqctx.Context, env *jsonrpc.Envelope, raw json.RawMessage) (out mcp.JSONRPCMessage) {
	_ = reqctx.Run(ctx, rc, func(ctx context.Context) error {
		ctx = b.srv.WithContext(ctx, conn)
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
			SessionID: conn.SessionID(),
			Kind:      string(conn.Kind()),
			UserID:    conn.UserID(),
		})
		ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
			Method: env.Method,
			ID:     env.IDString(),
			Type:   string(env.Kind()),
		})

		defer func() {
			if rec := recover(); rec != nil {
				b.log.ErrorContext(ctx, "rpc.panic", slog.String("panic", fmt.Sprint(rec)))
				if env.Kind() == jsonrpc.KindRequest {
					out = jsonrpc.NewErrorResponse(env.ID, jsonrpc.ErrorCodeInternalError, "internal error")
				} else {
					out = nil
				}
			}
		}()

		out = b.srv.HandleMessage(ctx, raw)
		return nil
	})
	return out
}
