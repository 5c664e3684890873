package main

import (
	"encoding/json"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/jk-nd/noumena-mcp-gateway/pkg/config"
)

// SchemaCmd generates JSON Schema from the gateway config structs.
// Output goes to stdout so it can be redirected.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})

	schema.ID = "https://noumena.dev/schemas/mcp-gateway-config.json"
	schema.Title = "MCP Gateway Configuration Schema"
	schema.Description = "Configuration schema for the policy-mediated MCP gateway"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(schema)
}
