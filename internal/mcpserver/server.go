// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes krecord diary and sheet tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/krecord/internal/apperr"
	"github.com/starford/krecord/internal/models"
	"github.com/starford/krecord/internal/recordservice"
)

const formatURI = "krecord://diary-format"

// Server wraps the MCP server with krecord tools.
type Server struct {
	mcp *server.MCPServer
	svc *recordservice.Service
}

// New creates a new MCP server with all krecord tools registered.
func New(svc *recordservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"krecord",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_diaries",
		mcp.WithDescription("List diary entries newest first, optionally filtered by tag or parent."),
		mcp.WithNumber("limit", mcp.Description("Page size (0 for all)")),
		mcp.WithNumber("offset", mcp.Description("Entries to skip")),
		mcp.WithString("tag", mcp.Description("Only entries carrying this tag")),
		mcp.WithString("parentId", mcp.Description("Only children of this entry")),
	), s.listDiaries)

	s.mcp.AddTool(mcp.NewTool("read_diary",
		mcp.WithDescription("Read one diary entry with its frontmatter and body."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Diary id (e.g. diary-1718000000000)")),
	), s.readDiary)

	s.mcp.AddTool(mcp.NewTool("append_diary",
		mcp.WithDescription("Append a diary entry. The file is placed under the day folder of occurredAt. "+
			"Read the contract first via the get_diary_contract tool or the "+formatURI+" resource."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Entry title")),
		mcp.WithString("content", mcp.Description("Markdown body")),
		mcp.WithString("occurredAt", mcp.Description("ISO-8601 timestamp; defaults to now")),
		mcp.WithArray("tags", mcp.Description("Tags"), mcp.WithStringItems()),
		mcp.WithString("parentId", mcp.Description("Parent entry id for child entries")),
		mcp.WithString("mood", mcp.Description("Optional mood")),
		mcp.WithString("cover", mcp.Description("Optional cover asset path")),
	), s.appendDiary)

	s.mcp.AddTool(mcp.NewTool("search_diaries",
		mcp.WithDescription("Full-text search through diary titles, bodies and tags."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20)")),
	), s.searchDiaries)

	s.mcp.AddTool(mcp.NewTool("list_sheets",
		mcp.WithDescription("List every sheet with its rows and linked diary ids."),
	), s.listSheets)

	s.mcp.AddTool(mcp.NewTool("get_diary_contract",
		mcp.WithDescription("Returns the krecord diary format contract. "+
			"Call this before appending entries to ensure correct structure."),
	), s.getDiaryContract)

	s.mcp.AddTool(mcp.NewTool("upload_asset",
		mcp.WithDescription("Store an image, video or file in the day folder of occurredAt. "+
			"Accepts a base64 data URI or an http(s) URL and returns a markdown link."),
		mcp.WithString("url", mcp.Required(), mcp.Description("data: URI or http(s) URL")),
		mcp.WithString("filename", mcp.Description("Optional file name")),
		mcp.WithString("occurredAt", mcp.Description("Day the asset belongs to; defaults to today")),
	), s.uploadAsset)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Diary Format Contract",
			mcp.WithResourceDescription("On-disk format every krecord diary entry follows."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	var nf *apperr.NotFoundError
	if errors.As(err, &nf) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s %s", nf.Kind, nf.ID))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listDiaries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, total, err := s.svc.ListDiaries(ctx, recordservice.ListQuery{
		Limit:    req.GetInt("limit", 0),
		Offset:   req.GetInt("offset", 0),
		Tag:      req.GetString("tag", ""),
		ParentID: req.GetString("parentId", ""),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"diaries": items, "total": total})
}

func (s *Server) readDiary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.svc.GetDiary(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(e)
}

func (s *Server) appendDiary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.svc.AppendDiary(ctx, models.DiaryInput{
		Title:      title,
		Content:    req.GetString("content", ""),
		OccurredAt: req.GetString("occurredAt", ""),
		Tags:       req.GetStringSlice("tags", nil),
		ParentID:   req.GetString("parentId", ""),
		Mood:       req.GetString("mood", ""),
		Cover:      req.GetString("cover", ""),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(e)
}

func (s *Server) searchDiaries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(results)
}

func (s *Server) listSheets(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sheets, err := s.svc.ListSheets(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	if sheets == nil {
		sheets = []models.Sheet{}
	}
	return jsonResult(sheets)
}

func (s *Server) getDiaryContract(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DiaryFormatContract), nil
}

func (s *Server) readFormatResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     DiaryFormatContract,
		},
	}, nil
}
