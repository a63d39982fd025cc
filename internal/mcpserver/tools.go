package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/llm"
)

// registerTools mirrors every tool the runner carries onto the MCP
// server. The tool schemas are the same JSON Schema objects the
// streaming providers receive, so the surface is identical on both
// paths.
func registerTools(s *server.MCPServer, runner llm.ToolRunner, log *logger.Logger) {
	if runner == nil {
		log.Warn("no tool runner configured, MCP server exposes no tools")
		return
	}

	specs := runner.Specs()
	for _, spec := range specs {
		schema, err := json.Marshal(spec.Schema)
		if err != nil {
			log.Error("failed to encode tool schema, skipping",
				zap.String("tool", spec.Name), zap.Error(err))
			continue
		}
		s.AddTool(
			mcp.NewToolWithRawSchema(spec.Name, spec.Description, schema),
			toolHandler(runner, spec.Name, log),
		)
	}

	log.Info("registered MCP tools", zap.Int("count", len(specs)))
}

func toolHandler(runner llm.ToolRunner, name string, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode arguments: %v", err)), nil
		}

		log.Debug("MCP tool call", zap.String("tool", name))
		result, err := runner.Run(ctx, name, string(args))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(result), nil
	}
}
