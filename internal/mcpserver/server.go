package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Wardflow tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("wardflow", "1.0.0")
	client := NewWardflowClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolUploadDataset, h.HandleUploadDataset)
	s.AddTool(ToolListDatasets, h.HandleListDatasets)
	s.AddTool(ToolStartAnalysis, h.HandleStartAnalysis)
	s.AddTool(ToolSendMessage, h.HandleSendMessage)
	s.AddTool(ToolGetSessionStatus, h.HandleGetSessionStatus)
	s.AddTool(ToolEndSession, h.HandleEndSession)

	return s
}
