// CLAUDE:SUMMARY Registers endpoints as MCP tools with JSON decoding and transport tagging.
// Package mcptool registers typed endpoints as MCP tools and tags the
// context with the transport a call came through.
package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Endpoint handles one decoded request.
type Endpoint func(ctx context.Context, req any) (any, error)

// Decode extracts the typed request from the tool arguments.
type Decode func(*mcp.CallToolRequest) (any, error)

// Register adds endpoint as a tool. Decode and endpoint failures are
// reported as tool errors, never as protocol errors. The response is
// returned as JSON text content.
func Register(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode Decode) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in, err := decode(req)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}

		resp, err := endpoint(WithTransport(ctx, TransportMCP), in)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// DecodeJSON returns a Decode that unmarshals the arguments into a new T.
// Empty arguments decode to the zero T.
func DecodeJSON[T any]() Decode {
	return func(req *mcp.CallToolRequest) (any, error) {
		var v T
		if len(req.Params.Arguments) == 0 {
			return &v, nil
		}
		if err := json.Unmarshal(req.Params.Arguments, &v); err != nil {
			return nil, err
		}
		return &v, nil
	}
}

// InputSchema builds a JSON object schema.
func InputSchema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

type contextKey string

const transportKey contextKey = "sizewatch_transport"

// Transports a call can come through.
const (
	TransportHTTP   = "http"
	TransportMCP    = "mcp"
	TransportSource = "source"
)

// WithTransport tags ctx with the transport name.
func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// GetTransport returns the transport ctx was tagged with, "local" if none.
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(transportKey).(string); ok {
		return v
	}
	return "local"
}
