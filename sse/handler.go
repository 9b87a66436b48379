package sse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ggoodman/mcp-gateway-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-gateway-go/internal/logctx"
	"github.com/ggoodman/mcp-gateway-go/internal/transport"
	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/google/uuid"
)

const (
	sessionIDParam = "sessionId"
	maxBodyBytes   = 4 << 20

	endpointEvent = "endpoint"
	messageEvent  = "message"
)

// Handler serves the stream and message endpoints. Requests must already be
// authenticated (see transport.RequireAuth).
type Handler struct {
	binder      *transport.Binder
	log         *slog.Logger
	messagePath string

	mu      sync.Mutex
	streams map[string]*transport.EventWriter
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// New builds a Handler. messagePath is the path clients POST messages to;
// it is advertised in the endpoint event.
func New(b *transport.Binder, messagePath string, opts ...Option) *Handler {
	h := &Handler{
		binder:      b,
		log:         slog.Default(),
		messagePath: messagePath,
		streams:     make(map[string]*transport.EventWriter),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logctx.Wrap(h.log)
	return h
}

// HandleStream opens the receive channel and holds it until the client goes
// away. The session lives exactly as long as this request.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

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

	conn := transport.NewConn(uuid.NewString(), sessions.KindLegacyStream, p.Token, p.UserID)
	if _, err := h.binder.Open(ctx, conn); err != nil {
		transport.WriteJSONError(w, http.StatusInternalServerError, "failed to create session")
		h.log.ErrorContext(ctx, "session.open.fail", slog.String("err", err.Error()))
		return
	}
	id := conn.SessionID()
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: id, Kind: string(sessions.KindLegacyStream), UserID: p.UserID})

	h.mu.Lock()
	h.streams[id] = ew
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.streams, id)
		h.mu.Unlock()
		ew.Close()
		if err := h.binder.Close(context.WithoutCancel(ctx), id); err != nil {
			h.log.ErrorContext(ctx, "session.close.fail", slog.String("err", err.Error()))
		}
		h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
	}()

	transport.StartStream(w)
	endpoint := h.messagePath + "?" + url.Values{sessionIDParam: {id}}.Encode()
	if err := ew.WriteEvent(endpointEvent, "", []byte(endpoint)); err != nil {
		h.log.WarnContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "sse.stream.start")

	if err := transport.Forward(ctx, conn, ew, messageEvent); err != nil && !errors.Is(err, context.Canceled) {
		h.log.WarnContext(ctx, "sse.forward.fail", slog.String("err", err.Error()))
	}
}

// HandleMessage accepts one JSON-RPC message for the session named by the
// sessionId query parameter.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	p, ok := transport.PrincipalFrom(ctx)
	if !ok {
		transport.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := r.URL.Query().Get(sessionIDParam)
	if id == "" {
		transport.WriteJSONError(w, http.StatusBadRequest, "missing sessionId query parameter")
		h.log.InfoContext(ctx, "session.id.missing")
		return
	}

	conn, err := h.binder.Resolve(ctx, id, sessions.KindLegacyStream)
	if err == nil && !conn.Owns(p.UserID) {
		err = sessions.ErrSessionNotFound
	}
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			transport.WriteJSONError(w, http.StatusNotFound, "session not found; open a new stream to start a session")
			h.log.InfoContext(ctx, "session.load.miss", slog.String("session_id", id))
			return
		}
		transport.WriteJSONError(w, http.StatusInternalServerError, "failed to load session")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}

	h.mu.Lock()
	ew := h.streams[id]
	h.mu.Unlock()
	if ew == nil {
		transport.WriteJSONError(w, http.StatusNotFound, "session not found; open a new stream to start a session")
		h.log.InfoContext(ctx, "sse.stream.missing", slog.String("session_id", id))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		transport.WriteJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	env, err := jsonrpc.Decode(body)
	if err != nil {
		transport.WriteJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message")
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	out := h.binder.Dispatch(ctx, conn, transport.RequestContext(p, conn), env, body)
	if out != nil {
		if err := ew.WriteMessage(messageEvent, out); err != nil {
			transport.WriteJSONError(w, http.StatusGone, "stream closed")
			h.log.WarnContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
	h.log.InfoContext(ctx, "sse.message.ok", slog.String("method", env.Method), slog.Duration("dur", time.Since(start)))
}
