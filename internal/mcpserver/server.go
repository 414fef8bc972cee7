package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Sentra tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("sentra", version)
	client := NewSentraClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolAnalyzePayment, h.HandleAnalyzePayment)
	s.AddTool(ToolResolveReceiver, h.HandleResolveReceiver)
	s.AddTool(ToolStartPayment, h.HandleStartPayment)
	s.AddTool(ToolConfirmPayment, h.HandleConfirmPayment)
	s.AddTool(ToolCancelPayment, h.HandleCancelPayment)
	s.AddTool(ToolReportFraud, h.HandleReportFraud)
	s.AddTool(ToolListReported, h.HandleListReported)
	s.AddTool(ToolGetTrustScore, h.HandleGetTrustScore)
	s.AddTool(ToolListTransactions, h.HandleListTransactions)

	return s
}
