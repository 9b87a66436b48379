// Package streaminghttp implements the modern single-endpoint streaming HTTP
// transport. It mounts as a standard net/http handler behind the gateway's
// authentication middleware.
//
// Responsibilities
//   - Session creation on the first initialize request (no Mcp-Session-Id)
//   - Session reuse for requests carrying a known Mcp-Session-Id
//   - JSON or Server-Sent Events replies, negotiated from Accept
//   - A GET stream for server-initiated notifications
//   - Session termination on DELETE
//
// # Session lifecycle
//
// A request without a session header must be initialize. The handler mints a
// session id, reserves it, lets the protocol library complete the handshake
// and registers the session before the response leaves. Concurrent requests
// naming the reserved id wait for the outcome rather than seeing "not found".
//
// Requests naming an unknown id, an id owned by another transport, or an id
// created by a different principal all receive 404 and must initialize again.
// The registry is not touched on that path.
//
// # Error Handling
//
// Transport-level errors map to HTTP status codes with a small JSON body;
// protocol-level errors are JSON-RPC error responses.
//
// Example (mount in net/http):
//
//	h := streaminghttp.New(binder, streaminghttp.WithLogger(logger))
//	mux.Handle("/mcp", requireAuth(h))
package streaminghttp
