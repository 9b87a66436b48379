// Package registrytest holds the conformance suite every sessions.Registry
// implementation runs from its own tests.
package registrytest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/mcp-gateway-go/sessions"
	"golang.org/x/sync/errgroup"
)

// RegistryFactory creates a new, empty Registry for one subtest.
type RegistryFactory func(t *testing.T) sessions.Registry

// Run runs the complete Registry suite against the provided factory.
func Run(t *testing.T, factory RegistryFactory) {
	t.Run("Register_ThenLookup", func(t *testing.T) { testRegisterLookup(t, factory) })
	t.Run("Register_DuplicateFails", func(t *testing.T) { testRegisterDuplicate(t, factory) })
	t.Run("Register_RejectsUnknownKind", func(t *testing.T) { testRegisterUnknownKind(t, factory) })
	t.Run("RegisterOrJoin_FirstWins", func(t *testing.T) { testRegisterOrJoinFirstWins(t, factory) })
	t.Run("RegisterOrJoin_ConcurrentConverges", func(t *testing.T) { testRegisterOrJoinConcurrent(t, factory) })
	t.Run("Lookup_Missing", func(t *testing.T) { testLookupMissing(t, factory) })
	t.Run("Remove_Idempotent", func(t *testing.T) { testRemoveIdempotent(t, factory) })
	t.Run("Remove_PurgesNamespace", func(t *testing.T) { testRemovePurgesNamespace(t, factory) })
	t.Run("Namespace_IsolatedPerSession", func(t *testing.T) { testNamespaceIsolation(t, factory) })
	t.Run("Namespace_RequiresSession", func(t *testing.T) { testNamespaceRequiresSession(t, factory) })
	t.Run("Namespace_EmptyClears", func(t *testing.T) { testNamespaceClear(t, factory) })
	t.Run("Counts_PerKind", func(t *testing.T) { testCounts(t, factory) })
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testRegisterLookup(t *testing.T, factory RegistryFactory) {
	r := factory(t)
	ctx := testCtx(t)

	created := time.Now().UTC().Truncate(time.Millisecond)
	want := sessions.Record{Kind: sessions.KindModernStream, BearerToken: "tok-1", CreatedAt: created}
	if err := r.Register(ctx, "sess-1", want); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := r.Lookup(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Kind != want.Kind || got.BearerToken != want.BearerToken {
		t.Fatalf("want %+v, got %+v", want, got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("want created_at %v, got %v", created, got.CreatedAt)
	}
}

func testRegisterDuplicate(t *testing.T, factory RegistryFactory) {
	r := factory(t)
	ctx := testCtx(t)

	if err := r.Register(ctx, "dup", sessions.NewRecord(sessions.KindLegacyStream, "a")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := r.Register(ctx, "dup", sessions.NewRecord(sessions.KindLegacyStream, "b"))
	if !errors.Is(err, sessions.ErrDuplicateSession) {
		t.Fatalf("want ErrDuplicateSession, got %v", err)
	}
	got, err := r.Lookup(ctx, "dup")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.BearerToken != "a" {
		t.Fatalf("duplicate register replaced the record: %+v", got)
	}
}

func testRegisterUnknownKind(t *testing.T, factory RegistryFactory) {
	r := factory(t)
	ctx := testCtx(t)

	if err := r.Register(ctx, "x", sessions.Record{Kind: "carrier-pigeon"}); err == nil {
		t.Fatalf("want error for unknown kind")
	}
	if err := r.Register(ctx, "", sessions.NewRecord(sessions.KindStdio, "")); err == nil {
		t.Fatalf("want error for empty id")
	}
}

func testRegisterOrJoinFirstWins(t *testing.T, factory RegistryFactory) {
	r := factory(t)
	ctx := testCtx(t)

	joined, err := r.RegisterOrJoin(ctx, "s", sessions.NewRecord(sessions.KindModernStream, "first"))
	if err != nil || joined {
		t.Fatalf("first RegisterOrJoin: joined=%v err=%v", joined, err)
	}
	joined, err = r.RegisterOrJoin(ctx, "s", sessions.NewRecord(sessions.KindModernStream, "second"))
	if err != nil || !joined {
		t.Fatalf("second RegisterOrJoin: joined=%v err=%v", joined, err)
	}
	got, _ := r.Lookup(ctx, "s")
	if got.BearerToken != "first" {
		t.Fatalf("want first record to win, got %+v", got)
	}
}

func testRegisterOrJoinConcurrent(t *testing.T, factory RegistryFactory) {
	r := factory(t)
	ctx := testCtx(t)

	const racers = 50
	var inserted atomic.Int32
	var g errgroup.Group
	for i := 0; i < racers; i++ {
		tok := fmt.Sprintf("tok-%d", i)
		g.Go(func() error {
			joined, err := r.RegisterOrJoin(ctx, "raced", sessions.NewRecord(sessions.KindModernStream, tok))
			if err != nil {
				return err
			}
			if !joined {
				inserted.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("racing RegisterOrJoin surfaced an error: %v", err)
	}
	if n := inserted.Load(); n != 1 {
		t.Fatalf("want exactly one insert, got %d", n)
	}
	counts, err := r.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[sessions.KindModernStream] != 1 {
		t.Fatalf("want one live modern session, got %v", counts)
	}
}

func testLookupMissing(t *testing.T, factory RegistryFactory) {
	r := factory(t)
	ctx := testCtx(t)

	if _, err := r.Lookup(ctx, "nope"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func testRemoveIdempotent(t *testing.T, factory RegistryFactory) {
	r := factory(t)
	ctx := testCtx(t)

	if err := r.Register(ctx, "keep", sessions.NewRecord(sessions.KindLegacyStream, "k")); err != nil {
		t.Fatalf("Register keep: %v", err)
	}
	if err := r.Register(ctx, "drop", sessions.NewRecord(sessions.KindLegacyStream, "d")); err != nil {
		t.Fatalf("Register drop: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := r.Remove(ctx, "drop"); err != nil {
			t.Fatalf("Remove #%d: %v", i+1, err)
		}
	}
	if err := r.Remove(ctx, "never-existed"); err != nil {
		t.Fatalf("Remove absent: %v", err)
	}
	if _, err := r.Lookup(ctx, "drop"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound after remove, got %v", err)
	}
	if _, err := r.Lookup(ctx, "keep"); err != nil {
		t.Fatalf("unrelated session affected by remove: %v", err)
	}
}

func testRemovePurgesNamespace(t *testing.T, factory RegistryFactory) {
	r := factory(t)
	ctx := testCtx(t)

	if err := r.Register(ctx, "s", sessions.NewRecord(sessions.KindModernStream, "t")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.SetNamespace(ctx, "s", "archive-1"); err != nil {
		t.Fatalf("SetNamespace: %v", err)
	}
	if err := r.Remove(ctx, "s"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	ns, err := r.Namespace(ctx, "s")
	if err != nil {
		t.Fatalf("Namespace: %v", err)
	}
	if ns != "" {
		t.Fatalf("namespace survived remove: %q", ns)
	}

	// A new session reusing the id must not inherit the old selection.
	if err := r.Register(ctx, "s", sessions.NewRecord(sessions.KindModernStream, "t2")); err != nil {
		t.Fatalf("re-Register: %v", err)
	}
	if ns, _ := r.Namespace(ctx, "s"); ns != "" {
		t.Fatalf("stale namespace after re-register: %q", ns)
	}
}

func testNamespaceIsolation(t *testing.T, factory RegistryFactory) {
	r := factory(t)
	ctx := testCtx(t)

	for _, id := range []string{"a", "b"} {
		if err := r.Register(ctx, id, sessions.NewRecord(sessions.KindLegacyStream, id)); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}
	if err := r.SetNamespace(ctx, "a", "only-a"); err != nil {
		t.Fatalf("SetNamespace: %v", err)
	}
	got, err := r.Namespace(ctx, "b")
	if err != nil {
		t.Fatalf("Namespace b: %v", err)
	}
	if got != "" {
		t.Fatalf("session b observed a's namespace: %q", got)
	}
	if got, _ := r.Namespace(ctx, "a"); got != "only-a" {
		t.Fatalf("want only-a, got %q", got)
	}
}

func testNamespaceRequiresSession(t *testing.T, factory RegistryFactory) {
	r := factory(t)
	ctx := testCtx(t)

	if err := r.SetNamespace(ctx, "", "x"); !errors.Is(err, sessions.ErrNoSession) {
		t.Fatalf("want ErrNoSession for empty id, got %v", err)
	}
	if _, err := r.Namespace(ctx, ""); !errors.Is(err, sessions.ErrNoSession) {
		t.Fatalf("want ErrNoSession reading empty id, got %v", err)
	}
	err := r.SetNamespace(ctx, "ghost", "x")
	if !errors.Is(err, sessions.ErrNoSession) || !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrNoSession wrapping ErrSessionNotFound, got %v", err)
	}
	if ns, _ := r.Namespace(ctx, "ghost"); ns != "" {
		t.Fatalf("failed SetNamespace left a value behind: %q", ns)
	}
}

func testNamespaceClear(t *testing.T, factory RegistryFactory) {
	r := factory(t)
	ctx := testCtx(t)

	if err := r.Register(ctx, "s", sessions.NewRecord(sessions.KindModernStream, "t")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.SetNamespace(ctx, "s", "one"); err != nil {
		t.Fatalf("SetNamespace: %v", err)
	}
	if err := r.SetNamespace(ctx, "s", "two"); err != nil {
		t.Fatalf("SetNamespace: %v", err)
	}
	if ns, _ := r.Namespace(ctx, "s"); ns != "two" {
		t.Fatalf("want two, got %q", ns)
	}
	if err := r.SetNamespace(ctx, "s", ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if ns, _ := r.Namespace(ctx, "s"); ns != "" {
		t.Fatalf("want cleared namespace, got %q", ns)
	}
}

func testCounts(t *testing.T, factory RegistryFactory) {
	r := factory(t)
	ctx := testCtx(t)

	empty, err := r.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	for _, k := range sessions.Kinds() {
		if n, ok := empty[k]; !ok || n != 0 {
			t.Fatalf("want zero entry for %s, got %v", k, empty)
		}
	}

	regs := map[string]sessions.Kind{
		"io": sessions.KindStdio,
		"l1": sessions.KindLegacyStream,
		"l2": sessions.KindLegacyStream,
		"m1": sessions.KindModernStream,
		"m2": sessions.KindModernStream,
		"m3": sessions.KindModernStream,
	}
	for id, k := range regs {
		if err := r.Register(ctx, id, sessions.NewRecord(k, "t")); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}
	_ = r.Remove(ctx, "m3")

	got, err := r.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	want := map[sessions.Kind]int{sessions.KindStdio: 1, sessions.KindLegacyStream: 2, sessions.KindModernStream: 2}
	for k, n := range want {
		if got[k] != n {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
}
