package sessions

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned when no live record exists for an id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDuplicateSession is returned by Register when the id is already live.
	// Transports use RegisterOrJoin and never observe it.
	ErrDuplicateSession = errors.New("duplicate session")
	// ErrNoSession is returned by namespace operations when there is no
	// session to associate the selection with.
	ErrNoSession = errors.New("no session")
)

// Kind identifies the transport binding that owns a session.
type Kind string

const (
	KindStdio        Kind = "stdio"
	KindLegacyStream Kind = "legacy-stream"
	KindModernStream Kind = "modern-stream"
)

// Kinds lists every transport kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindStdio, KindLegacyStream, KindModernStream}
}

// Valid reports whether k is one of the known transport kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindStdio, KindLegacyStream, KindModernStream:
		return true
	}
	return false
}

// Record is the registry entry for one live session. The bearer token is
// fixed for the life of the session.
type Record struct {
	Kind        Kind
	BearerToken string
	CreatedAt   time.Time
}

// Registry is the single owner of session records and namespace selections.
// Implementations MUST be safe for concurrent use.
type Registry interface {
	// Register inserts rec under id, failing with ErrDuplicateSession if id is
	// already live.
	Register(ctx context.Context, id string, rec Record) error
	// RegisterOrJoin inserts rec under id unless id is already live, in a single
	// atomic step. The first registration wins; later ones report joined=true
	// and leave the existing record untouched.
	RegisterOrJoin(ctx context.Context, id string, rec Record) (joined bool, err error)
	// Lookup returns the record for id or ErrSessionNotFound.
	Lookup(ctx context.Context, id string) (Record, error)
	// Remove drops the record and any namespace selection for id. Removing an
	// absent id is not an error.
	Remove(ctx context.Context, id string) error

	// SetNamespace selects ns for a live session. An empty ns clears the
	// selection. Fails with ErrNoSession when id is empty or not live.
	SetNamespace(ctx context.Context, id string, ns string) error
	// Namespace returns the current selection for id, or "" when none is set.
	Namespace(ctx context.Context, id string) (string, error)

	// Counts reports the number of live sessions per kind. Every known kind is
	// present in the result, possibly with a zero count.
	Counts(ctx context.Context) (map[Kind]int, error)
}

// NewRecord builds a Record stamped with the current time.
func NewRecord(kind Kind, token string) Record {
	return Record{Kind: kind, BearerToken: token, CreatedAt: time.Now().UTC()}
}

// EmptyCounts returns a counts map with a zero entry for every known kind.
func EmptyCounts() map[Kind]int {
	out := make(map[Kind]int, 3)
	for _, k := range Kinds() {
		out[k] = 0
	}
	return out
}
