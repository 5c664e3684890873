package config

import (
	"fmt"
	"strings"
)

const (
	ServiceTypeHTTPMCP = "http-mcp"
	ServiceTypeStdio   = "stdio"
)

// ServiceDefinition describes one downstream tool service the gateway
// fronts. Enabled here is the static fallback; the Policy service is the
// runtime source of truth for enablement.
type ServiceDefinition struct {
	Name                string            `yaml:"name" json:"name"`
	DisplayName         string            `yaml:"display_name" json:"display_name"`
	Type                string            `yaml:"type" json:"type"`
	Endpoint            string            `yaml:"endpoint" json:"endpoint"`
	RequiresCredentials bool              `yaml:"requires_credentials" json:"requires_credentials"`
	Description         string            `yaml:"description" json:"description"`
	Enabled             *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Tools               []*ToolDefinition `yaml:"tools" json:"tools"`
}

// ToolDefinition describes one tool exposed by a service.
type ToolDefinition struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	InputSchema map[string]any `yaml:"input_schema" json:"input_schema"`
	Enabled     *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports the static enablement of the service.
func (s *ServiceDefinition) IsEnabled() bool {
	return BoolValue(s.Enabled, true)
}

// IsEnabled reports the static enablement of the tool.
func (t *ToolDefinition) IsEnabled() bool {
	return BoolValue(t.Enabled, true)
}

// Tool returns the named tool definition, or nil.
func (s *ServiceDefinition) Tool(name string) *ToolDefinition {
	for _, t := range s.Tools {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func (s *ServiceDefinition) setDefaults() {
	if s.Type == "" {
		s.Type = ServiceTypeHTTPMCP
	}
	if s.DisplayName == "" {
		s.DisplayName = s.Name
	}
	for _, t := range s.Tools {
		if t.InputSchema == nil {
			t.InputSchema = map[string]any{"type": "object"}
		}
	}
}

func (s *ServiceDefinition) validate() error {
	if s.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if strings.Contains(s.Name, ".") {
		return fmt.Errorf("service %q: name must not contain '.'", s.Name)
	}
	switch s.Type {
	case ServiceTypeHTTPMCP, ServiceTypeStdio:
	default:
		return fmt.Errorf("service %q: unknown type %q", s.Name, s.Type)
	}
	if s.Type == ServiceTypeHTTPMCP && s.Endpoint == "" {
		return fmt.Errorf("service %q: endpoint is required for type %s", s.Name, ServiceTypeHTTPMCP)
	}
	seen := make(map[string]bool, len(s.Tools))
	for _, t := range s.Tools {
		if t.Name == "" {
			return fmt.Errorf("service %q: tool name is required", s.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("service %q: duplicate tool %q", s.Name, t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}
