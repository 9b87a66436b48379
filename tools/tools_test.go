package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ggoodman/mcp-gateway-go/reqctx"
	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/ggoodman/mcp-gateway-go/sessions/memoryhost"
	"github.com/ggoodman/mcp-gateway-go/upstream"
	"github.com/mark3labs/mcp-go/mcp"
)

type upstreamCall struct {
	method, path, auth, memory string
}

type env struct {
	reg   *memoryhost.Host
	tools map[string]Tool

	mu    sync.Mutex
	calls []upstreamCall
}

func newEnv(t *testing.T, status int, reply string) *env {
	t.Helper()
	e := &env{reg: memoryhost.New()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		e.calls = append(e.calls, upstreamCall{r.Method, r.URL.Path, r.Header.Get("Authorization"), r.Header.Get("X-Fortemi-Memory")})
		e.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)

	c, err := upstream.New(upstream.Config{BaseURL: srv.URL, NamespaceHeader: "X-Fortemi-Memory"}, e.reg)
	if err != nil {
		t.Fatal(err)
	}
	e.tools = map[string]Tool{}
	for _, tl := range All(Deps{Registry: e.reg, Upstream: c}) {
		e.tools[tl.Def.Name] = tl
	}
	return e
}

func (e *env) session(t *testing.T, id string) {
	t.Helper()
	if err := e.reg.Register(context.Background(), id, sessions.NewRecord(sessions.KindModernStream, "tok-"+id)); err != nil {
		t.Fatal(err)
	}
}

func (e *env) upstreamCalls() []upstreamCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]upstreamCall(nil), e.calls...)
}

func (e *env) call(t *testing.T, rc reqctx.Context, name string, args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	tl, ok := e.tools[name]
	if !ok {
		t.Fatalf("no tool %q", name)
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := tl.Handler(reqctx.With(context.Background(), rc), req)
	if err != nil {
		t.Fatalf("%s returned error: %v", name, err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("%s returned no content", name)
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("%s content is %T", name, res.Content[0])
	}
	return res, text.Text
}

func TestMemorySelection_PerSession(t *testing.T) {
	e := newEnv(t, http.StatusOK, `[]`)
	e.session(t, "a")
	e.session(t, "b")
	a := reqctx.Context{BearerToken: "tok-a", SessionID: "a", Scopes: []string{"mcp"}}
	b := reqctx.Context{BearerToken: "tok-b", SessionID: "b", Scopes: []string{"mcp"}}

	if res, _ := e.call(t, a, "select_memory", map[string]any{"memory": "research"}); res.IsError {
		t.Fatal("select_memory failed")
	}

	_, got := e.call(t, a, "get_active_memory", nil)
	var am activeMemory
	if err := json.Unmarshal([]byte(got), &am); err != nil {
		t.Fatal(err)
	}
	if am.Memory != "research" || am.IsDefault {
		t.Fatalf("session a = %+v", am)
	}

	_, got = e.call(t, b, "get_active_memory", nil)
	if err := json.Unmarshal([]byte(got), &am); err != nil {
		t.Fatal(err)
	}
	if am.Memory != defaultMemory || !am.IsDefault {
		t.Fatalf("session b = %+v", am)
	}

	e.call(t, a, "list_notes", nil)
	e.call(t, b, "list_notes", nil)
	calls := e.upstreamCalls()
	if calls[0].memory != "research" || calls[0].auth != "Bearer tok-a" {
		t.Fatalf("session a upstream call = %+v", calls[0])
	}
	if calls[1].memory != "" || calls[1].auth != "Bearer tok-b" {
		t.Fatalf("session b upstream call = %+v", calls[1])
	}

	e.call(t, a, "select_memory", map[string]any{"memory": ""})
	_, got = e.call(t, a, "get_active_memory", nil)
	if !strings.Contains(got, `"is_default":true`) {
		t.Fatalf("clearing selection left %s", got)
	}
}

func TestMemorySelection_NoSession(t *testing.T) {
	e := newEnv(t, http.StatusOK, `[]`)
	stdio := reqctx.Context{BearerToken: "fallback"}
	for _, name := range []string{"select_memory", "get_active_memory"} {
		res, text := e.call(t, stdio, name, map[string]any{})
		if !res.IsError || !strings.HasPrefix(text, "NoSession") {
			t.Fatalf("%s without session = %v %q", name, res.IsError, text)
		}
	}
}

func TestMutatingTools_RequireWriteScope(t *testing.T) {
	e := newEnv(t, http.StatusCreated, `{"id":"n1"}`)
	e.session(t, "s")
	reader := reqctx.Context{BearerToken: "tok-s", SessionID: "s", Scopes: []string{"read"}}

	res, text := e.call(t, reader, "create_note", map[string]any{"content": "hello"})
	if !res.IsError || !strings.Contains(text, "insufficient scope") {
		t.Fatalf("read-only create = %v %q", res.IsError, text)
	}
	if n := len(e.upstreamCalls()); n != 0 {
		t.Fatalf("refused call reached upstream %d times", n)
	}

	res, _ = e.call(t, reader, "list_notes", nil)
	if res.IsError {
		t.Fatal("read-only token refused a read tool")
	}

	writer := reqctx.Context{BearerToken: "tok-s", SessionID: "s", Scopes: []string{"read", "admin"}}
	res, text = e.call(t, writer, "create_note", map[string]any{"content": "hello"})
	if res.IsError || !strings.Contains(text, "n1") {
		t.Fatalf("admin create = %v %q", res.IsError, text)
	}

	// stdio contexts carry no scopes and are not restricted here
	res, _ = e.call(t, reqctx.Context{BearerToken: "fallback"}, "delete_note", map[string]any{"id": "n1"})
	if res.IsError {
		t.Fatal("stdio delete refused")
	}
}

func TestUpstreamFailureIsToolError(t *testing.T) {
	e := newEnv(t, http.StatusNotFound, `{"error":"Note not found"}`)
	res, text := e.call(t, reqctx.Context{BearerToken: "t"}, "get_note", map[string]any{"id": "missing"})
	if !res.IsError || text != "upstream error (404): Note not found" {
		t.Fatalf("result = %v %q", res.IsError, text)
	}
	if calls := e.upstreamCalls(); calls[0].path != "/api/v1/notes/missing" {
		t.Fatalf("path = %q", calls[0].path)
	}
}

func TestArgumentValidation(t *testing.T) {
	e := newEnv(t, http.StatusOK, `{}`)
	res, text := e.call(t, reqctx.Context{}, "get_note", map[string]any{"id": "x", "bogus": true})
	if !res.IsError || !strings.Contains(text, "invalid arguments") {
		t.Fatalf("unknown field = %v %q", res.IsError, text)
	}
	res, _ = e.call(t, reqctx.Context{}, "get_note", map[string]any{})
	if !res.IsError {
		t.Fatal("missing id accepted")
	}
}

func TestSchemasAreStrictObjects(t *testing.T) {
	e := newEnv(t, http.StatusOK, `{}`)
	var schema struct {
		Type                 string                     `json:"type"`
		Properties           map[string]json.RawMessage `json:"properties"`
		Required             []string                   `json:"required"`
		AdditionalProperties *bool                      `json:"additionalProperties"`
	}
	if err := json.Unmarshal(e.tools["create_note"].Def.RawInputSchema, &schema); err != nil {
		t.Fatal(err)
	}
	if schema.Type != "object" || schema.Properties["content"] == nil || schema.Properties["tags"] == nil {
		t.Fatalf("schema = %+v", schema)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "content" {
		t.Fatalf("required = %v", schema.Required)
	}
	if schema.AdditionalProperties == nil || *schema.AdditionalProperties {
		t.Fatal("additionalProperties should be false")
	}
	if !e.tools["create_note"].Mutating || e.tools["list_notes"].Mutating {
		t.Fatal("mutating flags wrong")
	}
}

func TestRegister_ListsTools(t *testing.T) {
	srv := NewServer("test", "0.0.1", nil)
	Register(srv, Deps{Registry: memoryhost.New()})

	out := srv.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	b, _ := json.Marshal(out)
	for _, name := range []string{"select_memory", "get_active_memory"} {
		if !strings.Contains(string(b), `"`+name+`"`) {
			t.Fatalf("tools/list missing %s: %s", name, b)
		}
	}
	if strings.Contains(string(b), "list_notes") {
		t.Fatal("upstream tools registered without an upstream client")
	}
}

func TestArgumentlessToolSchemas(t *testing.T) {
	ok := func(context.Context, struct{}) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	}
	anon := NewTypedTool("anon", "takes nothing", false, ok)
	named := NewTypedTool("named", "takes nothing", false, func(context.Context, noArgs) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	})
	inline := NewTypedTool("inline", "anonymous with a field", false, func(context.Context, struct {
		Name string `json:"name"`
	}) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	})

	for _, tool := range []Tool{anon, named} {
		if got := string(tool.Def.RawInputSchema); got != string(emptyObjectSchema) {
			t.Errorf("%s schema = %s", tool.Def.Name, got)
		}
	}
	var s struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(inline.Def.RawInputSchema, &s); err != nil || s.Type != "object" {
		t.Errorf("inline schema = %s", inline.Def.RawInputSchema)
	}

	res, err := anon.Handler(context.Background(), mcp.CallToolRequest{})
	if err != nil || res.IsError {
		t.Fatalf("call = %+v, %v", res, err)
	}
}

func TestAllToolsBuild(t *testing.T) {
	up, err := upstream.New(upstream.Config{BaseURL: "http://upstream.invalid"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	all := All(Deps{Registry: memoryhost.New(), Upstream: up})
	if len(all) != 7 {
		t.Fatalf("got %d tools", len(all))
	}
	for _, tool := range all {
		if !json.Valid(tool.Def.RawInputSchema) {
			t.Errorf("%s: invalid schema %s", tool.Def.Name, tool.Def.RawInputSchema)
		}
	}
}
