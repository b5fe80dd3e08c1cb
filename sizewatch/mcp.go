// CLAUDE:SUMMARY Exposes the sizewatch admin operations as MCP tools.
package sizewatch

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/sizewatch/sizewatch/internal/mcptool"
)

// RegisterMCP registers sizewatch tools on an MCP server:
// sizewatch_pages, sizewatch_watch, sizewatch_targets, sizewatch_refresh.
func (w *Watcher) RegisterMCP(srv *mcp.Server) {
	w.registerPagesTool(srv)
	w.registerWatchTool(srv)
	w.registerTargetsTool(srv)
	w.registerRefreshTool(srv)
}

var pageIDSchema = map[string]any{"type": "string", "description": "Observed page id"}

type pageReq struct {
	PageID string `json:"page_id"`
}

func (w *Watcher) registerPagesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sizewatch_pages",
		Description: "List the pages sizewatch observes, with target and event counts.",
		InputSchema: mcptool.InputSchema(map[string]any{}),
	}
	endpoint := func(context.Context, any) (any, error) {
		return map[string]any{"pages": w.Pages()}, nil
	}
	mcptool.Register(srv, tool, endpoint, mcptool.DecodeJSON[struct{}]())
}

type watchReq struct {
	PageID string `json:"page_id"`
	WatchSpec
}

func (w *Watcher) registerWatchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "sizewatch_watch",
		Description: "Watch geometric properties (height, width, top, left, bottom, right or a raw attribute) " +
			"of the elements matching a CSS selector, or of the viewport or document. Changes are sent to the sinks.",
		InputSchema: mcptool.InputSchema(map[string]any{
			"page_id":  pageIDSchema,
			"kind":     map[string]any{"type": "string", "enum": []string{"element", "viewport", "document"}},
			"selector": map[string]any{"type": "string", "description": "CSS selector, required for element watches"},
			"properties": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Properties to watch. Default: height, width",
			},
		}, "page_id"),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*watchReq)
		targets, err := w.Watch(ctx, r.PageID, r.WatchSpec)
		if err != nil {
			return nil, err
		}
		return map[string]any{"page_id": r.PageID, "targets": targets}, nil
	}
	mcptool.Register(srv, tool, endpoint, mcptool.DecodeJSON[watchReq]())
}

func (w *Watcher) registerTargetsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sizewatch_targets",
		Description: "List the observed targets of a page with their properties and current signature.",
		InputSchema: mcptool.InputSchema(map[string]any{"page_id": pageIDSchema}, "page_id"),
	}
	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*pageReq)
		targets, err := w.Targets(r.PageID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"page_id": r.PageID, "targets": targets}, nil
	}
	mcptool.Register(srv, tool, endpoint, mcptool.DecodeJSON[pageReq]())
}

func (w *Watcher) registerRefreshTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sizewatch_refresh",
		Description: "Restart the fast check cycles of a page, as a window resize would.",
		InputSchema: mcptool.InputSchema(map[string]any{"page_id": pageIDSchema}, "page_id"),
	}
	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*pageReq)
		if err := w.Refresh(r.PageID); err != nil {
			return nil, err
		}
		stats, err := w.Stats(r.PageID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"page_id": r.PageID, "stats": stats}, nil
	}
	mcptool.Register(srv, tool, endpoint, mcptool.DecodeJSON[pageReq]())
}
