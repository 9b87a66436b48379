// Package transport holds the pieces every transport binding shares: the
// adapter instance handed to the protocol library, the process-local table of
// live adapters, dispatch under the request context, and SSE framing.
package transport

import (
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

var _ server.ClientSession = (*Conn)(nil)

// notificationBuffer bounds server-initiated messages waiting for a stream.
// The protocol library drops notifications when it is full.
const notificationBuffer = 64

// Conn is one adapter instance: the protocol library's view of a connected
// client session.
type Conn struct {
	id     string
	kind   sessions.Kind
	token  string
	userID string

	initialized   atomic.Bool
	notifications chan mcp.JSONRPCNotification
	done          chan struct{}
	closeOnce     sync.Once
}

// NewConn builds an adapter instance for a session created with token on
// behalf of userID.
func NewConn(id string, kind sessions.Kind, token, userID string) *Conn {
	return &Conn{
		id:            id,
		kind:          kind,
		token:         token,
		userID:        userID,
		notifications: make(chan mcp.JSONRPCNotification, notificationBuffer),
		done:          make(chan struct{}),
	}
}

func (c *Conn) SessionID() string { return c.id }
func (c *Conn) Initialize()       { c.initialized.Store(true) }
func (c *Conn) Initialized() bool { return c.initialized.Load() }

func (c *Conn) NotificationChannel() chan<- mcp.JSONRPCNotification { return c.notifications }

// Notifications is the receive side of NotificationChannel, drained by
// whichever stream currently serves the session.
func (c *Conn) Notifications() <-chan mcp.JSONRPCNotification { return c.notifications }

// Kind is the transport binding that owns the session.
func (c *Conn) Kind() sessions.Kind { return c.kind }

// Token is the bearer token the session was created with.
func (c *Conn) Token() string { return c.token }

// UserID is the principal that created the session.
func (c *Conn) UserID() string { return c.userID }

// Owns reports whether userID may act on this session.
func (c *Conn) Owns(userID string) bool { return c.userID == userID }

// Close marks the adapter closed. Streams watching Done end.
func (c *Conn) Close() { c.closeOnce.Do(func() { close(c.done) }) }

// Done is closed when the adapter is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }
