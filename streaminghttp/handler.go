package streaminghttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-gateway-go/auth"
	"github.com/ggoodman/mcp-gateway-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-gateway-go/internal/logctx"
	"github.com/ggoodman/mcp-gateway-go/internal/transport"
	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

var (
	_ http.Handler = (*StreamingHTTPHandler)(nil)
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
	replyMediaTypes      = []contenttype.MediaType{jsonMediaType, eventStreamMediaType}
	streamMediaTypes     = []contenttype.MediaType{eventStreamMediaType}
)

const (
	mcpSessionIDHeader = "Mcp-Session-Id"
	maxBodyBytes       = 4 << 20

	msgReinitialize = "session not found; re-initialize without Mcp-Session-Id"
)

// Option configures the StreamingHTTPHandler.
type Option func(*StreamingHTTPHandler)

// WithLogger sets the logger. If not provided, slog.Default is used.
func WithLogger(l *slog.Logger) Option {
	return func(h *StreamingHTTPHandler) {
		if l != nil {
			h.log = l
		}
	}
}

// StreamingHTTPHandler serves POST, GET and DELETE on one endpoint.
type StreamingHTTPHandler struct {
	binder *transport.Binder
	log    *slog.Logger
}

// New builds the handler on b.
func New(b *transport.Binder, opts ...Option) *StreamingHTTPHandler {
	h := &StreamingHTTPHandler{binder: b, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logctx.Wrap(h.log)
	return h
}

func (h *StreamingHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePostMCP(w, r)
	case http.MethodGet:
		h.handleGetMCP(w, r)
	case http.MethodDelete:
		h.handleDeleteMCP(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		transport.WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handlePostMCP handles the POST /mcp endpoint, which is used by the client to send
// MCP messages to the server and to establish a session.
func (h *StreamingHTTPHandler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		transport.WriteJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	p, ok := transport.PrincipalFrom(ctx)
	if !ok {
		transport.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		transport.WriteJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	env, err := jsonrpc.Decode(body)
	if err != nil {
		if errors.Is(err, jsonrpc.ErrBatch) {
			transport.WriteJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are forbidden on streaming HTTP transport")
			h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
			return
		}
		transport.WriteJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message")
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: env.Method, ID: env.IDString(), Type: string(env.Kind())})

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.initialize(ctx, w, r, p, env, body, start)
		return
	}

	conn, err := h.resolve(ctx, sessID, p)
	if err != nil {
		h.writeResolveError(ctx, w, err)
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessID, Kind: string(sessions.KindModernStream), UserID: p.UserID})

	out := h.binder.Dispatch(ctx, conn, transport.RequestContext(p, conn), env, body)
	w.Header().Set(mcpSessionIDHeader, sessID)
	if out == nil {
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "rpc.inbound.accepted", slog.Duration("dur", time.Since(start)))
		return
	}
	h.writeReply(ctx, w, r, out)
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

// initialize creates a session for a request that did not name one. The id
// is reserved before the handshake runs and registered before the response
// is written.
func (h *StreamingHTTPHandler) initialize(ctx context.Context, w http.ResponseWriter, r *http.Request, p auth.Result, env *jsonrpc.Envelope, body []byte, start time.Time) {
	if !env.IsInitialize() {
		transport.WriteJSONError(w, http.StatusBadRequest, "missing Mcp-Session-Id header; send initialize to start a session")
		h.log.InfoContext(ctx, "session.initialize.invalid")
		return
	}

	conn := transport.NewConn(uuid.NewString(), sessions.KindModernStream, p.Token, p.UserID)
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: conn.SessionID(), Kind: string(sessions.KindModernStream), UserID: p.UserID})

	pending, existing, err := h.binder.Begin(ctx, conn)
	if err != nil {
		transport.WriteJSONError(w, http.StatusInternalServerError, "failed to initialize session")
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		return
	}
	if existing != nil {
		conn = existing
	}

	out := h.binder.Dispatch(ctx, conn, transport.RequestContext(p, conn), env, body)
	b, err := json.Marshal(out)
	if err != nil {
		if pending != nil {
			pending.Abort(err)
		}
		transport.WriteJSONError(w, http.StatusInternalServerError, "failed to encode initialize response")
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}
	if isErrorReply(b) {
		if pending != nil {
			pending.Abort(errors.New("initialize rejected"))
		}
		h.writeBytes(w, r, b)
		h.log.InfoContext(ctx, "session.initialize.rejected")
		return
	}
	if pending != nil {
		if err := pending.Commit(ctx); err != nil {
			transport.WriteJSONError(w, http.StatusInternalServerError, "failed to initialize session")
			h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
			return
		}
	}

	w.Header().Set(mcpSessionIDHeader, conn.SessionID())
	h.writeBytes(w, r, b)
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// handleGetMCP opens a stream carrying server-initiated notifications for an
// established session. The stream ends when the client leaves or the
// session is deleted.
func (h *StreamingHTTPHandler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, streamMediaTypes); err != nil {
		transport.WriteJSONError(w, http.StatusNotAcceptable, "accept must allow text/event-stream")
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	p, ok := transport.PrincipalFrom(ctx)
	if !ok {
		transport.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ew, ok := transport.NewEventWriter(ctx, w)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	defer ew.Close()

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		transport.WriteJSONError(w, http.StatusBadRequest, "missing Mcp-Session-Id header")
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}
	conn, err := h.resolve(ctx, sessID, p)
	if err != nil {
		h.writeResolveError(ctx, w, err)
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessID, Kind: string(sessions.KindModernStream), UserID: p.UserID})

	w.Header().Set(mcpSessionIDHeader, sessID)
	transport.StartStream(w)
	h.log.InfoContext(ctx, "sse.stream.start")

	if err := transport.Forward(ctx, conn, ew, ""); err != nil && !errors.Is(err, context.Canceled) {
		h.log.WarnContext(ctx, "sse.forward.fail", slog.String("err", err.Error()))
	}
	h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
}

// handleDeleteMCP terminates a session. The registry record and namespace
// selection go with it.
func (h *StreamingHTTPHandler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	p, ok := transport.PrincipalFrom(ctx)
	if !ok {
		transport.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.log.WarnContext(ctx, "delete.missing_session_id")
		transport.WriteJSONError(w, http.StatusBadRequest, "missing Mcp-Session-Id header")
		return
	}
	if _, err := h.resolve(ctx, sessID, p); err != nil {
		h.writeResolveError(ctx, w, err)
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessID, Kind: string(sessions.KindModernStream), UserID: p.UserID})

	if err := h.binder.Close(ctx, sessID); err != nil {
		transport.WriteJSONError(w, http.StatusInternalServerError, "failed to delete session")
		h.log.ErrorContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

func (h *StreamingHTTPHandler) resolve(ctx context.Context, id string, p auth.Result) (*transport.Conn, error) {
	conn, err := h.binder.Resolve(ctx, id, sessions.KindModernStream)
	if err != nil {
		return nil, err
	}
	if !conn.Owns(p.UserID) {
		return nil, sessions.ErrSessionNotFound
	}
	return conn, nil
}

func (h *StreamingHTTPHandler) writeResolveError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, sessions.ErrSessionNotFound) {
		transport.WriteJSONError(w, http.StatusNotFound, msgReinitialize)
		h.log.InfoContext(ctx, "session.load.miss")
		return
	}
	transport.WriteJSONError(w, http.StatusInternalServerError, "failed to load session")
	h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
}

func (h *StreamingHTTPHandler) writeReply(ctx context.Context, w http.ResponseWriter, r *http.Request, out mcp.JSONRPCMessage) {
	b, err := json.Marshal(out)
	if err != nil {
		transport.WriteJSONError(w, http.StatusInternalServerError, "failed to encode response")
		h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		return
	}
	h.writeBytes(w, r, b)
}

// writeBytes writes a single reply as JSON unless the client only accepts an
// event stream.
func (h *StreamingHTTPHandler) writeBytes(w http.ResponseWriter, r *http.Request, b []byte) {
	if wantsStream(r) {
		ew, ok := transport.NewEventWriter(r.Context(), w)
		if ok {
			transport.StartStream(w)
			if err := ew.WriteEvent("", "", b); err != nil {
				h.log.WarnContext(r.Context(), "sse.write.fail", slog.String("err", err.Error()))
			}
			return
		}
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func wantsStream(r *http.Request) bool {
	if r.Header.Get("Accept") == "" {
		return false
	}
	mt, _, err := contenttype.GetAcceptableMediaType(r, replyMediaTypes)
	return err == nil && mt.Matches(eventStreamMediaType)
}

func isErrorReply(b []byte) bool {
	var reply struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(b, &reply); err != nil {
		return false
	}
	return len(reply.Error) > 0 && !bytes.Equal(reply.Error, []byte("null"))
}
