package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the domoticz-mcp application
var rootCmd = &cobra.Command{
	Use:   "domoticz-mcp",
	Short: "MCP server for Domoticz home automation",
	Long: `domoticz-mcp exposes a Domoticz home automation instance to AI assistants
through the Model Context Protocol (MCP).

It proxies Domoticz's OAuth 2.1 authorization server so that MCP clients can
obtain a token, and passes that token through on every Domoticz API call.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "domoticz-mcp version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newHealthcheckCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
	rootCmd.AddCommand(newVersionCmd())
}
