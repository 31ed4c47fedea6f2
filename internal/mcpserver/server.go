// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes gallery tools for local automation via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/galleria/internal/apperr"
	"github.com/starford/galleria/internal/gallery"
	"github.com/starford/galleria/internal/models"
)

const manifestURI = "galleria://manifest"

// Importer stores new images in the content source.
type Importer interface {
	Put(ctx context.Context, rel string, data []byte) (string, error)
}

// Server wraps the MCP server with gallery tools.
type Server struct {
	mcp      *server.MCPServer
	gallery  *gallery.ViewModel
	importer Importer
}

// New creates a new MCP server over vm. importer may be nil, in which case
// import_photo is not offered.
func New(vm *gallery.ViewModel, importer Importer) *Server {
	s := &Server{gallery: vm, importer: importer}

	s.mcp = server.NewMCPServer(
		"Galleria",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_photos",
		mcp.WithDescription("List one page of gallery photos, optionally filtered by a "+
			"case-insensitive search over names and descriptions."),
		mcp.WithString("query", mcp.Description("Optional search term")),
		mcp.WithNumber("page", mcp.Description("Zero-based page number")),
		mcp.WithNumber("per_page", mcp.Description("Page size (default 12)")),
	), s.listPhotos)

	s.mcp.AddTool(mcp.NewTool("get_photo",
		mcp.WithDescription("Read one photo's metadata."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Public photo path (e.g. /content/a.jpg)")),
	), s.getPhoto)

	s.mcp.AddTool(mcp.NewTool("set_favorite",
		mcp.WithDescription("Mark or unmark a photo as favorite."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Public photo path")),
		mcp.WithBoolean("favorite", mcp.Required(), mcp.Description("New favorite flag")),
	), s.setFavorite)

	s.mcp.AddTool(mcp.NewTool("update_photo",
		mcp.WithDescription("Change a photo's display name and/or description. "+
			"Omitted fields are left unchanged."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Public photo path")),
		mcp.WithString("name", mcp.Description("New display name")),
		mcp.WithString("description", mcp.Description("New description")),
	), s.updatePhoto)

	s.mcp.AddTool(mcp.NewTool("refresh_gallery",
		mcp.WithDescription("Rebuild the gallery from the content source and the metadata store."),
	), s.refreshGallery)

	if importer != nil {
		s.mcp.AddTool(mcp.NewTool("import_photo",
			mcp.WithDescription("Store an image from an http(s) URL or a base64 data URI in the "+
				"content directory and refresh the gallery. Supported formats: "+
				"jpg, jpeg, png, gif, webp, bmp. Existing files are never replaced."),
			mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:image/...;base64,... URI")),
			mcp.WithString("filename", mcp.Description("Optional file name (derived from the URL when empty)")),
		), s.importPhoto)
	}

	s.mcp.AddResource(
		mcp.NewResource(manifestURI, "Photo Manifest",
			mcp.WithResourceDescription("The full gallery manifest: every photo with its metadata."),
			mcp.WithMIMEType("application/json"),
		),
		s.readManifestResource,
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

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listPhotos(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := s.gallery.Page(ctx, gallery.PageQuery{
		Term:    req.GetString("query", ""),
		Page:    req.GetInt("page", 0),
		PerPage: req.GetInt("per_page", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(page), nil
}

func (s *Server) getPhoto(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	photo, err := s.gallery.Photo(ctx, path)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(photo), nil
}

func (s *Server) setFavorite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	favorite, err := req.RequireBool("favorite")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	photo, err := s.gallery.SavePhoto(ctx, path, models.PhotoPatch{Favorite: &favorite})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(photo), nil
}

func (s *Server) updatePhoto(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var patch models.PhotoPatch
	args := req.GetArguments()
	if v, ok := args["name"].(string); ok {
		patch.Name = &v
	}
	if v, ok := args["description"].(string); ok {
		patch.Description = &v
	}
	if patch.Empty() {
		return mcp.NewToolResultError("nothing to update: pass name and/or description"), nil
	}

	photo, err := s.gallery.SavePhoto(ctx, path, patch)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(photo), nil
}

func (s *Server) refreshGallery(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := s.gallery.Refresh(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("refreshed: %d photos", m.TotalCount)), nil
}

func (s *Server) readManifestResource(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	m, err := s.gallery.Load(ctx)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      manifestURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}
