// Package tools registers the gateway's tools with the protocol library.
//
// Namespace tools (select_memory, get_active_memory) act on the session
// registry for the calling session. The remaining tools forward to the
// upstream API through upstream.Client, which reads the caller's token and
// namespace from the request context. Tools that change upstream state are
// refused for tokens that only carry read scope.
package tools
