// Package stdio implements the single-connection gateway transport over
// stdin/stdout, for running the gateway as a subprocess of a local client.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Auth             : none; a configured fallback token is used upstream
//	Sessions         : one implicit session, counted but without a session id
//	                   in the request context
//	Transport        : newline-delimited JSON-RPC, one message in flight
//
// Example:
//
//	b := transport.NewBinder(memoryhost.New(), srv, logger)
//	h := stdio.NewHandler(b, stdio.WithFallbackToken(os.Getenv("STDIO_FALLBACK_TOKEN")))
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
package stdio
