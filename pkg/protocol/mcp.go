package protocol

import "encoding/json"

// Method names on the agent-facing surface.
const (
	MethodInitialize = "initialize"
	MethodListTools  = "tools/list"
	MethodCallTool   = "tools/call"
)

// CallToolParams are the params of a tools/call request.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ContentBlock is one element of a tool result's content list.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult is the result of a tools/call. Tool-level failures set
// IsError and carry the message in Content; the envelope stays a
// JSON-RPC success. Output carries the executor's structured output on
// the happy path.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
	Output  interface{}    `json:"output,omitempty"`
}

// TextResult builds a plain success result.
func TextResult(text string) *CallToolResult {
	return &CallToolResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

// OutputResult builds a success result carrying structured output. The
// content block holds the JSON rendering for clients that only read text.
func OutputResult(output interface{}) *CallToolResult {
	text := ""
	if b, err := json.Marshal(output); err == nil {
		text = string(b)
	}
	return &CallToolResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		Output:  output,
	}
}

// ToolDescriptor is one entry of a tools/list result.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ListToolsResult is the result of tools/list.
type ListToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// InitializeResult is the result of initialize.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

type ServerCapabilities struct {
	Tools map[string]interface{} `json:"tools"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
