package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ggoodman/mcp-gateway-go/auth"
	"github.com/ggoodman/mcp-gateway-go/auth/authtest"
	"github.com/ggoodman/mcp-gateway-go/internal/transport"
	"github.com/ggoodman/mcp-gateway-go/sessions/memoryhost"
	"github.com/ggoodman/mcp-gateway-go/tools"
)

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"c","version":"1"}}}`

type fixture struct {
	srv    *httptest.Server
	router *Router
	reg    *memoryhost.Host
}

func newFixture(t *testing.T, a auth.Authenticator) *fixture {
	t.Helper()
	reg := memoryhost.New()
	srv := tools.NewServer("gateway-test", "0.0.1", nil)
	tools.Register(srv, tools.Deps{Registry: reg})
	b := transport.NewBinder(reg, srv, nil)

	f := &fixture{reg: reg}
	f.srv = httptest.NewUnstartedServer(nil)
	base := "http://" + f.srv.Listener.Addr().String()

	rt, err := New(base+"/mcp", b, a, WithServerName("gateway-test"))
	if err != nil {
		t.Fatal(err)
	}
	f.router = rt
	f.srv.Config.Handler = rt
	f.srv.Start()
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) post(t *testing.T, path, token, session, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if session != "" {
		req.Header.Set("Mcp-Session-Id", session)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) health(t *testing.T) map[string]int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" {
		t.Fatalf("status = %q", h.Status)
	}
	return h.Sessions
}

func TestIntrospectionNetworkErrorIs401(t *testing.T) {
	// A listener that is closed immediately gives a port nothing answers on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dead := "http://" + ln.Addr().String() + "/introspect"
	_ = ln.Close()

	a, err := auth.NewIntrospection(auth.IntrospectionConfig{Endpoint: dead, ClientID: "gw", ClientSecret: auth.StaticSecret("s")})
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, a)

	resp := f.post(t, "/mcp", "anything", "", initializeBody)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	chal := resp.Header.Get("WWW-Authenticate")
	if !strings.Contains(chal, `resource_metadata="`+f.srv.URL+`/.well-known/oauth-protected-resource/mcp"`) {
		t.Fatalf("challenge = %q", chal)
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(body), "introspect") || strings.Contains(string(body), "refused") {
		t.Fatalf("body leaks internals: %s", body)
	}
	if h := f.health(t); h["modern-stream"] != 0 {
		t.Fatalf("session created despite auth failure: %v", h)
	}
}

func TestEndToEndWithIntrospection(t *testing.T) {
	authority := authtest.NewAuthority(t, "gw", "secret")
	authority.Grant("good", "read mcp")
	authority.Grant("nope", "email")

	a, err := auth.NewIntrospection(auth.IntrospectionConfig{Endpoint: authority.Endpoint(), ClientID: "gw", ClientSecret: auth.StaticSecret("secret")})
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, a)

	if resp := f.post(t, "/mcp", "nope", "", initializeBody); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("scope mismatch status = %d", resp.StatusCode)
	}

	before := authority.Requests()
	resp := f.post(t, "/mcp", "good", "", initializeBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize status = %d", resp.StatusCode)
	}
	id := resp.Header.Get("Mcp-Session-Id")
	if id == "" {
		t.Fatal("no session id")
	}

	resp = f.post(t, "/mcp", "good", id, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"select_memory","arguments":{"memory":"research"}}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("select_memory status = %d", resp.StatusCode)
	}
	if ns, _ := f.reg.Namespace(context.Background(), id); ns != "research" {
		t.Fatalf("namespace = %q", ns)
	}
	if got := authority.Requests() - before; got != 2 {
		t.Fatalf("introspection calls = %d, want one per request", got)
	}

	if h := f.health(t); h["modern-stream"] != 1 || h["legacy-stream"] != 0 || h["stdio"] != 0 {
		t.Fatalf("health = %v", h)
	}
}

func TestHealthCountsPerKind(t *testing.T) {
	f := newFixture(t, authtest.NewStatic(map[string][]string{"alice": {"mcp"}}))

	if resp := f.post(t, "/mcp", "alice", "", initializeBody); resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/sse", nil)
	req.Header.Set("Authorization", "Bearer alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "data: /messages?sessionId=") {
			break
		}
	}

	h := f.health(t)
	want := map[string]int{"stdio": 0, "legacy-stream": 1, "modern-stream": 1}
	for k, v := range want {
		if h[k] != v {
			t.Fatalf("health = %v, want %v", h, want)
		}
	}

	if err := f.router.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h = f.health(t)
	for k, v := range h {
		if v != 0 {
			t.Fatalf("%s = %d after Close", k, v)
		}
	}
}

func TestProtectedResourceMetadata(t *testing.T) {
	sc := auth.SecurityConfig{Issuer: "https://idp.example", ScopesSupported: auth.DefaultAllowedScopes}
	reg := memoryhost.New()
	b := transport.NewBinder(reg, tools.NewServer("t", "0", nil), nil)
	rt, err := New("https://gw.example/mcp", b, authtest.NewStatic(nil), WithSecurityConfig(sc))
	if err != nil {
		t.Fatal(err)
	}
	if got := rt.ResourceMetadataURL().String(); got != "https://gw.example/.well-known/oauth-protected-resource/mcp" {
		t.Fatalf("metadata URL = %s", got)
	}

	for _, path := range []string{"/.well-known/oauth-protected-resource/mcp", "/.well-known/oauth-protected-resource"} {
		rec := httptest.NewRecorder()
		rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
		var doc struct {
			Resource             string   `json:"resource"`
			AuthorizationServers []string `json:"authorization_servers"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
			t.Fatal(err)
		}
		if doc.Resource != "https://gw.example/mcp" || len(doc.AuthorizationServers) != 1 {
			t.Fatalf("%s doc = %+v", path, doc)
		}
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, authtest.NewStatic(map[string][]string{"alice": {"mcp"}}))
	f.post(t, "/mcp", "alice", "", initializeBody)
	f.post(t, "/mcp", "", "", initializeBody)

	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	body := string(b)
	for _, want := range []string{
		`mcp_gateway_sessions{kind="modern-stream"} 1`,
		`mcp_gateway_sessions{kind="legacy-stream"} 0`,
		`mcp_gateway_auth_results_total{outcome="ok"} 1`,
		`mcp_gateway_auth_results_total{outcome="missing"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestPanicRecovery(t *testing.T) {
	reg := memoryhost.New()
	b := transport.NewBinder(reg, tools.NewServer("t", "0", nil), nil)
	rt, err := New("http://gw.example/mcp", b, authtest.NewStatic(nil))
	if err != nil {
		t.Fatal(err)
	}
	rt.mux.HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "kaboom") {
		t.Fatal("panic value leaked to client")
	}

	// the router keeps serving
	rec = httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz after panic = %d", rec.Code)
	}
}

func TestNewValidation(t *testing.T) {
	b := transport.NewBinder(memoryhost.New(), tools.NewServer("t", "0", nil), nil)
	a := authtest.NewStatic(nil)
	if _, err := New("ftp://x/mcp", b, a); err == nil {
		t.Error("accepted non-HTTP URL")
	}
	if _, err := New("http://x/mcp", nil, a); err == nil {
		t.Error("accepted nil binder")
	}
	if _, err := New("http://x/mcp", b, nil); err == nil {
		t.Error("accepted nil authenticator")
	}
}
