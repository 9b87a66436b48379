package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsGroups(t *testing.T) {
	var buf bytes.Buffer
	log := Wrap(slog.New(slog.NewJSONHandler(&buf, nil)))

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "r1", Method: "POST", Path: "/mcp"})
	ctx = WithSessionData(ctx, &SessionData{SessionID: "s1", Kind: "modern-stream"})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "tools/call", ID: "7", Type: "request"})
	log.With("component", "test").InfoContext(ctx, "rpc.inbound.ok")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	req, _ := rec["req"].(map[string]any)
	if req["id"] != "r1" || req["path"] != "/mcp" {
		t.Fatalf("missing req group: %v", rec)
	}
	sess, _ := rec["sess"].(map[string]any)
	if sess["id"] != "s1" || sess["kind"] != "modern-stream" {
		t.Fatalf("missing sess group: %v", rec)
	}
	rpc, _ := rec["rpc"].(map[string]any)
	if rpc["method"] != "tools/call" {
		t.Fatalf("missing rpc group: %v", rec)
	}
	if rec["component"] != "test" {
		t.Fatalf("With attrs lost: %v", rec)
	}
	if _, ok := req["user_agent"]; ok {
		t.Fatalf("empty field emitted: %v", req)
	}
	if _, ok := rec["tool"]; ok {
		t.Fatalf("absent group emitted: %v", rec)
	}
}

func TestEmptyGroupOmitted(t *testing.T) {
	var buf bytes.Buffer
	log := Wrap(slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx := WithSessionData(context.Background(), &SessionData{})
	ctx = WithToolCallData(ctx, &ToolCallData{ToolName: "select_memory"})
	log.InfoContext(ctx, "tool.call.ok")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if _, ok := rec["sess"]; ok {
		t.Fatalf("session group with no fields emitted: %v", rec)
	}
	tool, _ := rec["tool"].(map[string]any)
	if tool["name"] != "select_memory" {
		t.Fatalf("tool group = %v", rec["tool"])
	}
}

func TestWrapIdempotent(t *testing.T) {
	l := Wrap(nil)
	if Wrap(l) != l {
		t.Fatalf("wrapping twice should return the same logger")
	}
}
