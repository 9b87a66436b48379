package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ggoodman/mcp-gateway-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-gateway-go/internal/logctx"
	"github.com/ggoodman/mcp-gateway-go/internal/transport"
	"github.com/ggoodman/mcp-gateway-go/reqctx"
	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/google/uuid"
)

// maxLineBytes bounds a single inbound message.
const maxLineBytes = 4 << 20

// Handler is a single-connection stdio transport that reads newline-delimited
// JSON-RPC messages from an io.Reader and writes replies to an io.Writer. By
// default, it uses os.Stdin and os.Stdout.
//
// The peer is not authenticated. Every message runs with a request context
// holding the fallback token and no session id, so namespace selection is
// unavailable on this transport.
type Handler struct {
	binder       *transport.Binder
	r            io.Reader
	w            io.Writer
	l            *slog.Logger
	token        string
	userProvider UserProvider

	wmu sync.Mutex
	enc *json.Encoder
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(b *transport.Binder, opts ...Option) *Handler {
	h := &Handler{
		binder:       b,
		r:            os.Stdin,
		w:            os.Stdout,
		l:            slog.Default(),
		userProvider: osUser,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.l = logctx.Wrap(h.l)
	h.enc = json.NewEncoder(h.w)
	return h
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. It is safe to call at most once per Handler. Messages are handled
// one at a time in arrival order. The implicit session is registered when
// Serve starts and removed when it returns.
func (h *Handler) Serve(ctx context.Context) error {
	userID, err := h.userProvider.CurrentUserID()
	if err != nil {
		h.l.WarnContext(ctx, "stdio.user.fail", slog.String("err", err.Error()))
		userID = "stdio"
	}

	conn := transport.NewConn(uuid.NewString(), sessions.KindStdio, h.token, userID)
	if _, err := h.binder.Open(ctx, conn); err != nil {
		return fmt.Errorf("open stdio session: %w", err)
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: conn.SessionID(), Kind: string(sessions.KindStdio), UserID: userID})
	defer func() {
		if err := h.binder.Close(context.WithoutCancel(ctx), conn.SessionID()); err != nil {
			h.l.ErrorContext(ctx, "stdio.close.fail", slog.String("err", err.Error()))
		}
	}()
	h.l.InfoContext(ctx, "stdio.serve.start")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go h.forwardNotifications(ctx, conn)

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(h.r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	rc := reqctx.Context{BearerToken: h.token}
	for {
		select {
		case <-ctx.Done():
			h.l.InfoContext(ctx, "stdio.serve.done")
			return nil
		case err := <-readErr:
			if err != nil && !errors.Is(err, io.ErrClosedPipe) {
				h.l.ErrorContext(ctx, "stdio.read.fail", slog.String("err", err.Error()))
				return fmt.Errorf("read stdin: %w", err)
			}
			h.l.InfoContext(ctx, "stdio.serve.eof")
			return nil
		case line := <-lines:
			h.handleLine(ctx, conn, rc, line)
		}
	}
}

func (h *Handler) handleLine(ctx context.Context, conn *transport.Conn, rc reqctx.Context, line []byte) {
	env, err := jsonrpc.Decode(line)
	if err != nil {
		if len(line) == 0 || isBlank(line) {
			return
		}
		code := jsonrpc.ErrorCodeParseError
		if errors.Is(err, jsonrpc.ErrBatch) {
			code = jsonrpc.ErrorCodeInvalidRequest
		}
		h.l.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		h.write(ctx, jsonrpc.NewErrorResponse(nil, code, err.Error()))
		return
	}
	if out := h.binder.Dispatch(ctx, conn, rc, env, line); out != nil {
		h.write(ctx, out)
	}
}

func (h *Handler) forwardNotifications(ctx context.Context, conn *transport.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case n := <-conn.Notifications():
			h.write(ctx, n)
		}
	}
}

func (h *Handler) write(ctx context.Context, v any) {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	if err := h.enc.Encode(v); err != nil {
		h.l.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
	}
}

func isBlank(b []byte) bool {
	for _, c := range b {
		if c != ' ' && c != '\t' && c != '\r' && c != '\n' {
			return false
		}
	}
	return true
}
