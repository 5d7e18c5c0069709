package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all mevguard tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("mevguard", version)
	h := NewHandlers(NewGuardClient(cfg))

	s.AddTool(ToolAssessTransaction, h.HandleAssessTransaction)
	s.AddTool(ToolProtectTransaction, h.HandleProtectTransaction)
	s.AddTool(ToolGetJourney, h.HandleGetJourney)
	s.AddTool(ToolListJourneys, h.HandleListJourneys)
	s.AddTool(ToolGetPool, h.HandleGetPool)

	return s
}
