// Command gateway runs the policy-mediated MCP gateway.
//
// Usage:
//
//	gateway serve --config services.yaml
//	gateway validate services.yaml
//	gateway schema
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	gateway "github.com/jk-nd/noumena-mcp-gateway"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/config"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the gateway server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for the configuration."`

	Config    string `short:"c" help:"Path to config file." type:"path" env:"SERVICES_CONFIG_PATH"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(gateway.GetVersion().String())
	return nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("gateway"),
		kong.Description("Policy-mediated MCP tool-call gateway"),
		kong.UsageOnError(),
	)

	logFile, cleanup, err := logger.OpenLogFile(cli.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}
	logger.Init(logger.ParseLevel(cli.LogLevel), logFile, cli.LogFormat)

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
