package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ggoodman/mcp-gateway-go/upstream"
	"github.com/mark3labs/mcp-go/mcp"
)

type listNotesArgs struct {
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Maximum number of notes to return,minimum=1,maximum=100"`
	Offset int    `json:"offset,omitempty" jsonschema:"description=Number of notes to skip,minimum=0"`
	Tag    string `json:"tag,omitempty" jsonschema:"description=Only return notes carrying this tag"`
}

type noteIDArgs struct {
	ID string `json:"id" jsonschema:"required,description=Note identifier"`
}

type createNoteArgs struct {
	Content string   `json:"content" jsonschema:"required,description=Markdown body of the note"`
	Tags    []string `json:"tags,omitempty" jsonschema:"description=Tags to attach"`
}

func noteTools(c *upstream.Client, log *slog.Logger) []Tool {
	call := func(ctx context.Context, method, path string, q url.Values, body any) *mcp.CallToolResult {
		var out json.RawMessage
		if err := c.Do(ctx, method, path, q, body, &out); err != nil {
			return upstreamError(ctx, log, err)
		}
		if len(out) == 0 {
			return mcp.NewToolResultText(`{"ok":true}`)
		}
		return mcp.NewToolResultText(string(out))
	}

	return []Tool{
		NewTypedTool("list_notes", "List notes in the active memory.", false,
			func(ctx context.Context, a listNotesArgs) (*mcp.CallToolResult, error) {
				q := url.Values{}
				if a.Limit > 0 {
					q.Set("limit", strconv.Itoa(a.Limit))
				}
				if a.Offset > 0 {
					q.Set("offset", strconv.Itoa(a.Offset))
				}
				if a.Tag != "" {
					q.Set("tag", a.Tag)
				}
				return call(ctx, http.MethodGet, "/api/v1/notes", q, nil), nil
			}),
		NewTypedTool("get_note", "Fetch one note by id from the active memory.", false,
			func(ctx context.Context, a noteIDArgs) (*mcp.CallToolResult, error) {
				if a.ID == "" {
					return mcp.NewToolResultError("id is required"), nil
				}
				return call(ctx, http.MethodGet, "/api/v1/notes/"+url.PathEscape(a.ID), nil, nil), nil
			}),
		NewTypedTool("create_note", "Create a note in the active memory.", true,
			func(ctx context.Context, a createNoteArgs) (*mcp.CallToolResult, error) {
				if a.Content == "" {
					return mcp.NewToolResultError("content is required"), nil
				}
				return call(ctx, http.MethodPost, "/api/v1/notes", nil, a), nil
			}),
		NewTypedTool("delete_note", "Delete a note from the active memory.", true,
			func(ctx context.Context, a noteIDArgs) (*mcp.CallToolResult, error) {
				if a.ID == "" {
					return mcp.NewToolResultError("id is required"), nil
				}
				return call(ctx, http.MethodDelete, "/api/v1/notes/"+url.PathEscape(a.ID), nil, nil), nil
			}),
		NewTypedTool("list_tags", "List tags used in the active memory.", false,
			func(ctx context.Context, _ noArgs) (*mcp.CallToolResult, error) {
				return call(ctx, http.MethodGet, "/api/v1/tags", nil, nil), nil
			}),
	}
}

// upstreamError reports a failed upstream call as a tool error. The session
// is unaffected.
func upstreamError(ctx context.Context, log *slog.Logger, err error) *mcp.CallToolResult {
	var uerr *upstream.Error
	if errors.As(err, &uerr) {
		return mcp.NewToolResultError(fmt.Sprintf("upstream error (%d): %s", uerr.Status, uerr.Message))
	}
	if errors.Is(err, upstream.ErrNoToken) {
		return mcp.NewToolResultError("no credential available for the upstream API")
	}
	log.ErrorContext(ctx, "tool.upstream.fail", slog.String("err", err.Error()))
	return mcp.NewToolResultError("upstream API unavailable")
}
