package memoryhost

import (
	"context"
	"fmt"
	"sync"

	"github.com/ggoodman/mcp-gateway-go/sessions"
)

var _ sessions.Registry = (*Host)(nil)

// Host is an in-memory implementation of sessions.Registry.
type Host struct {
	mu         sync.Mutex
	records    map[string]sessions.Record
	namespaces map[string]string
}

func New() *Host {
	return &Host{
		records:    make(map[string]sessions.Record),
		namespaces: make(map[string]string),
	}
}

func (h *Host) Register(ctx context.Context, id string, rec sessions.Record) error {
	if err := validate(id, rec); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.records[id]; ok {
		return fmt.Errorf("register %q: %w", id, sessions.ErrDuplicateSession)
	}
	h.records[id] = rec
	return nil
}

func (h *Host) RegisterOrJoin(ctx context.Context, id string, rec sessions.Record) (bool, error) {
	if err := validate(id, rec); err != nil {
		return false, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.records[id]; ok {
		return true, nil
	}
	h.records[id] = rec
	return false, nil
}

func (h *Host) Lookup(ctx context.Context, id string) (sessions.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[id]
	if !ok {
		return sessions.Record{}, sessions.ErrSessionNotFound
	}
	return rec, nil
}

func (h *Host) Remove(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.records, id)
	delete(h.namespaces, id)
	return nil
}

func (h *Host) SetNamespace(ctx context.Context, id string, ns string) error {
	if id == "" {
		return sessions.ErrNoSession
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.records[id]; !ok {
		return fmt.Errorf("%w: %w", sessions.ErrNoSession, sessions.ErrSessionNotFound)
	}
	if ns == "" {
		delete(h.namespaces, id)
		return nil
	}
	h.namespaces[id] = ns
	return nil
}

func (h *Host) Namespace(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", sessions.ErrNoSession
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.namespaces[id], nil
}

func (h *Host) Counts(ctx context.Context) (map[sessions.Kind]int, error) {
	out := sessions.EmptyCounts()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rec := range h.records {
		out[rec.Kind]++
	}
	return out, nil
}

func validate(id string, rec sessions.Record) error {
	if id == "" {
		return fmt.Errorf("register: empty session id")
	}
	if !rec.Kind.Valid() {
		return fmt.Errorf("register %q: unknown transport kind %q", id, rec.Kind)
	}
	return nil
}
