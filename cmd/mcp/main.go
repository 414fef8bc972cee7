// Sentra MCP Server - Exposes payment risk tools to LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/sentrapay/sentra/internal/mcpserver"
)

// Version is set by ldflags.
var Version = "dev"

func main() {
	cfg := mcpserver.Config{
		APIURL: envOrDefault("SENTRA_API_URL", "http://localhost:8080"),
		Token:  os.Getenv("SENTRA_TOKEN"),
	}

	if cfg.Token == "" {
		fmt.Fprintln(os.Stderr, "SENTRA_TOKEN not set, acting as the demo sender")
	}

	s := mcpserver.NewMCPServer(cfg, Version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
