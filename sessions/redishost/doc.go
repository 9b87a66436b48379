// Package redishost provides a Redis-backed sessions.Registry.
//
// Each session is a hash under "<prefix>session:<id>" holding the transport
// kind, bearer token and creation time. The namespace selection lives in a
// sibling string key and every kind has a set of live ids used for counts.
// Every mutation runs as a single Lua script, so register-or-join is atomic
// across replicas.
//
// Characteristics
//
//	Durability        : Redis persistence settings apply
//	Horizontal scale  : records and counts are shared; adapters stay process local
//	Concurrency       : safe (server-side scripts)
//
// Bearer tokens are stored in the record hash. Deploy against a Redis that is
// not shared with untrusted tenants.
//
// Configuration via envdecode:
//
//	REDIS_ADDR           (default localhost:6379)
//	REGISTRY_KEY_PREFIX  (default mcp:gateway:)
package redishost
