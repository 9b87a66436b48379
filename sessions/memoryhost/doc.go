// Package memoryhost provides an in-process sessions.Registry. All state is
// held in maps guarded by a single mutex and is discarded on process exit.
//
// Characteristics
//
//	Durability        : none (RAM only)
//	Horizontal scale  : no (process local)
//	Concurrency       : safe (one mutex, register-or-join is a single critical section)
//
// Example:
//
//	reg := memoryhost.New()
//	// transports share reg via gateway.New(...)
package memoryhost
