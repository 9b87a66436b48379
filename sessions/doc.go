// Package sessions defines the session registry shared by every transport
// binding of the gateway.
//
// A session is created when a transport completes its handshake (stdio: once
// per process, legacy streaming: on connect, modern streaming: on the first
// successful request) and is removed when the connection closes or the client
// terminates it. While a session is live the registry owns two things about
// it: the Record (transport kind, bearer token, creation time) and an optional
// namespace selection that scopes downstream calls.
//
// Transports race to register freshly minted ids; RegisterOrJoin resolves
// that race in one atomic step so that exactly one record exists and no
// caller observes ErrDuplicateSession.
//
// Implementations
//
//	memoryhost : mutex-guarded maps, process local
//	redishost  : Redis hashes and sets, shared by replicas for diagnostics
//
// registrytest contains the conformance suite both implementations run.
package sessions
