// Package mcp exposes note search to MCP clients.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/m-mizutani/ragnote/pkg/tool/notes"
	"github.com/m-mizutani/ragnote/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Finder runs findRelevantNotes with raw arguments. The owner is bound inside the finder.
type Finder interface {
	Find(ctx context.Context, args map[string]any) ([]*model.RetrievedNote, error)
}

const toolDescription = "Search the notes of the user and return the ones relevant to a question. Returns a JSON list of notes with id, title, body and createdAt."

// NewServer creates an MCP server with the findRelevantNotes tool
func NewServer(finder Finder, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "ragnote",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        notes.FunctionName,
		Description: toolDescription,
	}, func(ctx context.Context, req *mcp.CallToolRequest, input *notes.FindInput) (*mcp.CallToolResult, any, error) {
		args := map[string]any{}
		if input != nil {
			args["query"] = input.Query
		}

		found, err := finder.Find(ctx, args)
		if err != nil {
			logging.From(ctx).Warn("findRelevantNotes failed over MCP", "args", args, "error", err)
			return errorResult(err), nil, nil
		}

		raw, err := json.Marshal(found)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to marshal notes")
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
		}, nil, nil
	})

	return server
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: notes.DescribeError(err)}},
	}
}

// ServeStdio runs the server on stdin/stdout until the client disconnects
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "MCP stdio server failed")
	}
	return nil
}

// Handler returns a streamable HTTP handler for server
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return server
	}, nil)
}

// ServeHTTP runs the streamable HTTP transport on addr until ctx is canceled
func ServeHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("MCP server started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return goerr.Wrap(err, "MCP server stopped", goerr.V("addr", addr))
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
