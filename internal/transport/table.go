package transport

import (
	"context"
	"errors"
	"sync"
)

var errTableClosed = errors.New("adapter table closed")

// Table is the process-local map from session id to adapter instance.
//
// An id is reserved as pending the moment it is minted and becomes visible
// to Resolve only once committed. A request that names a pending id waits for
// the outcome rather than being told the session does not exist.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	conn  *Conn
	ready chan struct{}
	err   error
}

func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Reservation is a pending entry awaiting Commit or Abort.
type Reservation struct {
	t    *Table
	id   string
	e    *entry
	once sync.Once
}

// Reserve marks conn's id as pending. If the id is already present the
// existing adapter is returned instead (after waiting for it to settle) and
// the Reservation is nil.
func (t *Table) Reserve(ctx context.Context, conn *Conn) (*Reservation, *Conn, error) {
	t.mu.Lock()
	if existing, ok := t.entries[conn.SessionID()]; ok {
		t.mu.Unlock()
		c, err := existing.wait(ctx)
		return nil, c, err
	}
	e := &entry{conn: conn, ready: make(chan struct{})}
	t.entries[conn.SessionID()] = e
	t.mu.Unlock()
	return &Reservation{t: t, id: conn.SessionID(), e: e}, nil, nil
}

// Commit publishes the adapter to Resolve. It reports false, and fails the
// reservation, when the entry was removed or drained while pending.
func (r *Reservation) Commit() bool {
	ok := false
	r.once.Do(func() {
		r.t.mu.Lock()
		defer r.t.mu.Unlock()
		ok = r.t.entries[r.id] == r.e
		if !ok {
			r.e.err = errTableClosed
		}
		close(r.e.ready)
	})
	return ok
}

// Live reports whether the reservation still holds its id.
func (r *Reservation) Live() bool {
	r.t.mu.Lock()
	defer r.t.mu.Unlock()
	return r.t.entries[r.id] == r.e
}

// Abort drops the pending entry. Waiters observe err.
func (r *Reservation) Abort(err error) {
	if err == nil {
		err = errTableClosed
	}
	r.once.Do(func() {
		r.t.mu.Lock()
		if r.t.entries[r.id] == r.e {
			delete(r.t.entries, r.id)
		}
		r.t.mu.Unlock()
		r.e.err = err
		close(r.e.ready)
	})
}

// Resolve returns the committed adapter for id, waiting while it is pending.
// It returns nil if id is unknown, was aborted, or ctx ends first.
func (t *Table) Resolve(ctx context.Context, id string) *Conn {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	c, err := e.wait(ctx)
	if err != nil {
		return nil
	}
	return c
}

// Remove drops id and returns its adapter, if any.
func (t *Table) Remove(id string) *Conn {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return e.conn
}

// Drain removes and returns every adapter.
func (t *Table) Drain() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Conn, 0, len(t.entries))
	for id, e := range t.entries {
		out = append(out, e.conn)
		delete(t.entries, id)
	}
	return out
}

// Len reports the number of entries, pending ones included.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (e *entry) wait(ctx context.Context) (*Conn, error) {
	select {
	case <-e.ready:
		if e.err != nil {
			return nil, e.err
		}
		return e.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
