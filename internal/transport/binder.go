package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ggoodman/mcp-gateway-go/internal/logctx"
	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/mark3labs/mcp-go/server"
)

// Binder ties adapter instances to the session registry and the protocol
// library. All transports share one Binder so that lifecycle rules are the
// same everywhere.
type Binder struct {
	registry sessions.Registry
	srv      *server.MCPServer
	table    *Table
	log      *slog.Logger
}

// NewBinder builds a Binder. A nil logger means slog.Default.
func NewBinder(registry sessions.Registry, srv *server.MCPServer, log *slog.Logger) *Binder {
	return &Binder{registry: registry, srv: srv, table: NewTable(), log: logctx.Wrap(log)}
}

// Registry returns the registry sessions are recorded in.
func (b *Binder) Registry() sessions.Registry { return b.registry }

// Server returns the protocol library instance messages are dispatched to.
func (b *Binder) Server() *server.MCPServer { return b.srv }

// Pending is an adapter whose id is reserved but not yet registered.
type Pending struct {
	b    *Binder
	conn *Conn
	res  *Reservation
}

// Conn returns the adapter being registered.
func (p *Pending) Conn() *Conn { return p.conn }

// Begin reserves conn's id. When the id is already held by another adapter
// in this process, Begin returns that adapter and a nil Pending: the caller
// joins it.
func (b *Binder) Begin(ctx context.Context, conn *Conn) (*Pending, *Conn, error) {
	res, existing, err := b.table.Reserve(ctx, conn)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		b.log.InfoContext(ctx, "session.register.join", slog.String("session_id", existing.SessionID()))
		return nil, existing, nil
	}
	return &Pending{b: b, conn: conn, res: res}, nil, nil
}

// Commit records the session in the registry and with the protocol library,
// then publishes the adapter to concurrent requests. On failure the
// reservation is dropped.
func (p *Pending) Commit(ctx context.Context) error {
	c := p.conn
	if !p.res.Live() {
		p.res.Abort(errTableClosed)
		return fmt.Errorf("register session %s: %w", c.SessionID(), errTableClosed)
	}
	joined, err := p.b.registry.RegisterOrJoin(ctx, c.SessionID(), sessions.NewRecord(c.Kind(), c.Token()))
	if err != nil {
		p.res.Abort(err)
		return fmt.Errorf("register session: %w", err)
	}
	if err := p.b.srv.RegisterSession(ctx, c); err != nil && !errors.Is(err, server.ErrSessionExists) {
		if !joined {
			_ = p.b.registry.Remove(ctx, c.SessionID())
		}
		p.res.Abort(err)
		return fmt.Errorf("register session with server: %w", err)
	}
	if !p.res.Commit() {
		// Closed while registering; undo what this call added.
		p.b.srv.UnregisterSession(ctx, c.SessionID())
		if !joined {
			_ = p.b.registry.Remove(ctx, c.SessionID())
		}
		c.Close()
		p.b.log.WarnContext(ctx, "session.register.closed", slog.String("session_id", c.SessionID()))
		return fmt.Errorf("register session %s: %w", c.SessionID(), errTableClosed)
	}
	if joined {
		p.b.log.InfoContext(ctx, "session.register.join", slog.String("session_id", c.SessionID()))
	} else {
		p.b.log.InfoContext(ctx, "session.register.ok", slog.String("session_id", c.SessionID()), slog.String("kind", string(c.Kind())))
	}
	return nil
}

// Abort drops the reservation without registering anything.
func (p *Pending) Abort(err error) { p.res.Abort(err) }

// Open registers conn in one step. It returns the live adapter for the id,
// which is an earlier one when the id was already held.
func (b *Binder) Open(ctx context.Context, conn *Conn) (*Conn, error) {
	p, existing, err := b.Begin(ctx, conn)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if err := p.Commit(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// Resolve finds the live adapter for id. Ids that are unknown, closed or
// owned by a different transport kind all yield ErrSessionNotFound.
func (b *Binder) Resolve(ctx context.Context, id string, kind sessions.Kind) (*Conn, error) {
	if id == "" {
		return nil, sessions.ErrSessionNotFound
	}
	conn := b.table.Resolve(ctx, id)
	if conn == nil || conn.Kind() != kind {
		return nil, sessions.ErrSessionNotFound
	}
	rec, err := b.registry.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Kind != kind {
		return nil, sessions.ErrSessionNotFound
	}
	return conn, nil
}

// Close tears down a session: the adapter, the registry record with its
// namespace selection, and the protocol library's view of it. Closing an
// unknown id is not an error.
func (b *Binder) Close(ctx context.Context, id string) error {
	conn := b.table.Remove(id)
	err := b.registry.Remove(ctx, id)
	b.srv.UnregisterSession(ctx, id)
	if conn != nil {
		conn.Close()
	}
	if err != nil {
		b.log.ErrorContext(ctx, "session.remove.fail", slog.String("session_id", id), slog.String("err", err.Error()))
		return fmt.Errorf("remove session %s: %w", id, err)
	}
	b.log.InfoContext(ctx, "session.remove.ok", slog.String("session_id", id))
	return nil
}

// CloseAll closes every session this process holds.
func (b *Binder) CloseAll(ctx context.Context) error {
	var errs []error
	for _, conn := range b.table.Drain() {
		if err := b.registry.Remove(ctx, conn.SessionID()); err != nil {
			errs = append(errs, fmt.Errorf("remove session %s: %w", conn.SessionID(), err))
		}
		b.srv.UnregisterSession(ctx, conn.SessionID())
		conn.Close()
	}
	return errors.Join(errs...)
}

// Live reports how many adapters this process holds.
func (b *Binder) Live() int { return b.table.Len() }
