// Package sse implements the legacy two-endpoint streaming transport.
//
// A client opens a long-lived GET on the stream endpoint. The server creates a
// session for the validated credential and sends an "endpoint" event whose
// data is the message URL, carrying the session id as the sessionId query
// parameter. The client then POSTs one JSON-RPC message per request to that
// URL; the server answers 202 Accepted and delivers any reply on the stream as
// a "message" event. Closing the stream ends the session.
package sse
