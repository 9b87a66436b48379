// Package gateway is the HTTP entry point. It authenticates every request to
// a transport endpoint, routes it to the legacy or modern streaming adapter,
// and serves the unauthenticated health, metrics and protected resource
// metadata endpoints.
//
// Routes
//
//	<mcp path>                                   modern streaming (POST/GET/DELETE)
//	GET  /sse                                    legacy stream
//	POST /messages?sessionId=...                 legacy message
//	GET  /healthz                                live sessions per transport kind
//	GET  /metrics                                Prometheus metrics
//	GET  /.well-known/oauth-protected-resource…  RFC 9728 metadata
package gateway
