package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/ggoodman/mcp-gateway-go/reqctx"
	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/ggoodman/mcp-gateway-go/sessions/memoryhost"
)

type seen struct {
	method, path, query, auth, namespace string
	body                                 map[string]any
}

func newUpstream(t *testing.T, status int, reply string) (*httptest.Server, func() []seen) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []seen
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := seen{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, auth: r.Header.Get("Authorization"), namespace: r.Header.Get("X-Fortemi-Memory")}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&s.body)
		}
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []seen {
		mu.Lock()
		defer mu.Unlock()
		return append([]seen(nil), got...)
	}
}

func newClient(t *testing.T, base string, ns NamespaceSource, require bool) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: base, NamespaceHeader: "X-Fortemi-Memory", RequireToken: require}, ns)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestDo_ReadsTokenAndNamespaceAtCallTime(t *testing.T) {
	ctx := context.Background()
	srv, got := newUpstream(t, http.StatusOK, `{"id":"n1"}`)
	reg := memoryhost.New()
	if err := reg.Register(ctx, "s1", sessions.NewRecord(sessions.KindModernStream, "tok")); err != nil {
		t.Fatal(err)
	}
	c := newClient(t, srv.URL+"/api/v1", reg, false)
	ctx = reqctx.With(ctx, reqctx.Context{BearerToken: "tok", SessionID: "s1"})

	var out struct {
		ID string `json:"id"`
	}
	if err := c.Do(ctx, http.MethodPost, "notes", url.Values{"x": {"1"}}, map[string]string{"content": "hi"}, &out); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out.ID != "n1" {
		t.Fatalf("out = %+v", out)
	}

	if err := reg.SetNamespace(ctx, "s1", "research"); err != nil {
		t.Fatal(err)
	}
	if err := c.Do(ctx, http.MethodGet, "notes", nil, nil, nil); err != nil {
		t.Fatal(err)
	}

	reqs := got()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d", len(reqs))
	}
	first, second := reqs[0], reqs[1]
	if first.path != "/api/v1/notes" || first.query != "x=1" || first.auth != "Bearer tok" || first.namespace != "" {
		t.Fatalf("first request = %+v", first)
	}
	if first.body["content"] != "hi" {
		t.Fatalf("body = %v", first.body)
	}
	if second.namespace != "research" {
		t.Fatalf("namespace header = %q, want research", second.namespace)
	}
}

func TestDo_NoSessionSendsNoNamespace(t *testing.T) {
	srv, got := newUpstream(t, http.StatusOK, `{}`)
	c := newClient(t, srv.URL, memoryhost.New(), false)
	ctx := reqctx.With(context.Background(), reqctx.Context{BearerToken: "fallback"})
	if err := c.Do(ctx, http.MethodGet, "/api/v1/tags", nil, nil, nil); err != nil {
		t.Fatal(err)
	}
	if r := got()[0]; r.namespace != "" || r.auth != "Bearer fallback" {
		t.Fatalf("request = %+v", r)
	}
}

func TestDo_TypedFailure(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		msg    string
	}{
		{"json error", http.StatusNotFound, `{"error":"Note not found"}`, "Note not found"},
		{"json message", http.StatusBadRequest, `{"message":"bad input"}`, "bad input"},
		{"html", http.StatusBadGateway, `<html>oops</html>`, "Bad Gateway"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newUpstream(t, tc.status, tc.body)
			c := newClient(t, srv.URL, nil, false)
			err := c.Do(context.Background(), http.MethodGet, "/x", nil, nil, nil)
			var uerr *Error
			if !errors.As(err, &uerr) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if uerr.Status != tc.status || uerr.Message != tc.msg {
				t.Fatalf("err = %+v", uerr)
			}
		})
	}
}

func TestDo_RequireToken(t *testing.T) {
	srv, got := newUpstream(t, http.StatusOK, `{}`)
	c := newClient(t, srv.URL, nil, true)
	if err := c.Do(context.Background(), http.MethodGet, "/x", nil, nil, nil); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}
	if len(got()) != 0 {
		t.Fatal("request sent without token")
	}
}

func TestNew_RejectsBadURL(t *testing.T) {
	for _, u := range []string{"ftp://x", "://bad"} {
		if _, err := New(Config{BaseURL: u}, nil); err == nil {
			t.Errorf("New(%q) succeeded", u)
		}
	}
}
