package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/galadril/domoticz-mcp/internal/domoticz"
	"github.com/galadril/domoticz-mcp/internal/logging"
	"github.com/galadril/domoticz-mcp/internal/server"
	"github.com/galadril/domoticz-mcp/internal/tools/domoticz_tools"
)

func newGenerateDocsCmd() *cobra.Command {
	var (
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool documentation",
		Long: `Generate markdown documentation for all available MCP tools.
This command introspects the registered tools and outputs their documentation
in markdown format, ensuring the documentation is always accurate and in sync
with the actual tool implementations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateDocs(outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

func runGenerateDocs(outputFile string) error {
	tools, err := registeredTools()
	if err != nil {
		return err
	}

	markdown := generateToolsMarkdown(tools)

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(markdown), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Documentation written to: %s\n", outputFile)
	} else {
		fmt.Print(markdown)
	}

	return nil
}

// registeredTools registers the tools on a throwaway MCP server and returns
// them sorted by name. No Domoticz instance is contacted.
func registeredTools() ([]mcp.Tool, error) {
	client, err := domoticz.NewClient("http://127.0.0.1:8080", domoticz.WithLogger(logging.Discard()))
	if err != nil {
		return nil, fmt.Errorf("failed to create domoticz client: %w", err)
	}
	serverContext, err := server.NewServerContext(context.Background(), server.ServerContextConfig{
		Domoticz: client,
		Logger:   logging.Discard().Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		_ = serverContext.Shutdown()
	}()

	mcpSrv := mcpserver.NewMCPServer(server.ServerName, version,
		mcpserver.WithToolCapabilities(false),
	)
	executor := domoticz_tools.NewExecutor(client, logging.Discard())
	if err := domoticz_tools.RegisterDomoticzTools(mcpSrv, serverContext, executor); err != nil {
		return nil, fmt.Errorf("failed to register Domoticz tools: %w", err)
	}

	serverTools := mcpSrv.ListTools()
	tools := make([]mcp.Tool, 0, len(serverTools))
	for _, serverTool := range serverTools {
		tools = append(tools, serverTool.Tool)
	}
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Name < tools[j].Name
	})
	return tools, nil
}

func generateToolsMarkdown(tools []mcp.Tool) string {
	var sb strings.Builder

	sb.WriteString("# MCP Tools Reference\n\n")
	sb.WriteString("This document provides a complete reference of all tools available when running domoticz-mcp as an MCP server.\n\n")
	sb.WriteString("**Note:** This documentation is automatically generated from the tool definitions.\n\n")

	sb.WriteString("## Authentication\n\n")
	sb.WriteString("Over the streamable-http transport every `tools/call` request must carry an `Authorization: Bearer <token>` header. ")
	sb.WriteString("The token is forwarded to Domoticz unchanged; an expired token is reported inside the tool result with `status_code` 401.\n\n")

	sb.WriteString("## Table of Contents\n\n")
	for _, tool := range tools {
		sb.WriteString(fmt.Sprintf("- [%s](#%s)\n", tool.Name, tool.Name))
	}
	sb.WriteString("\n## Domoticz Tools\n\n")

	for _, tool := range tools {
		sb.WriteString(generateToolMarkdown(tool))
		sb.WriteString("\n")
	}

	return sb.String()
}

func generateToolMarkdown(tool mcp.Tool) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("### %s\n\n", tool.Name))

	if tool.Description != "" {
		sb.WriteString(fmt.Sprintf("%s\n\n", tool.Description))
	}

	if tool.Annotations.ReadOnlyHint != nil && *tool.Annotations.ReadOnlyHint {
		sb.WriteString("_Read-only._\n\n")
	}

	if len(tool.InputSchema.Properties) == 0 {
		sb.WriteString("**Arguments:** none\n")
		return sb.String()
	}

	sb.WriteString("**Arguments:**\n")

	propNames := make([]string, 0, len(tool.InputSchema.Properties))
	for name := range tool.InputSchema.Properties {
		propNames = append(propNames, name)
	}
	sort.Strings(propNames)

	for _, name := range propNames {
		propMap, ok := tool.InputSchema.Properties[name].(map[string]any)
		if !ok {
			continue
		}

		requiredStr := "optional"
		if slices.Contains(tool.InputSchema.Required, name) {
			requiredStr = "required"
		}

		sb.WriteString(fmt.Sprintf("- `%s` (%s, %s): ", name, getPropertyType(propMap), requiredStr))
		if desc, ok := propMap["description"].(string); ok {
			sb.WriteString(desc)
		} else {
			sb.WriteString(fmt.Sprintf("%s parameter", getPropertyType(propMap)))
		}
		if enum := enumValues(propMap); len(enum) > 0 {
			sb.WriteString(fmt.Sprintf(" One of: `%s`.", strings.Join(enum, "`, `")))
		}
		if def, ok := propMap["default"]; ok {
			sb.WriteString(fmt.Sprintf(" Default: `%v`.", def))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func getPropertyType(prop map[string]any) string {
	if t, ok := prop["type"].(string); ok {
		return t
	}
	return "any"
}

func enumValues(prop map[string]any) []string {
	switch values := prop["enum"].(type) {
	case []string:
		return values
	case []any:
		out := make([]string, 0, len(values))
		for _, v := range values {
			out = append(out, fmt.Sprint(v))
		}
		return out
	default:
		return nil
	}
}
