package protocol

import "fmt"

// Stable tool-level error codes. These appear in the text of error
// results and must not change between releases.
const (
	CodeToolNotFound      = "TOOL_NOT_FOUND"
	CodePolicyDenied      = "POLICY_DENIED"
	CodePolicyUnavailable = "POLICY_UNAVAILABLE"
	CodeExecutorUnavail   = "EXECUTOR_UNAVAILABLE"
	CodeExecutionTimeout  = "EXECUTION_TIMEOUT"
	CodeExecutionFailed   = "EXECUTION_FAILED"
	CodeInternalError     = "INTERNAL_ERROR"
)

// ErrorResult builds a tool-level error result. The envelope around it
// is still a JSON-RPC success.
func ErrorResult(code, message string) *CallToolResult {
	text := code
	if message != "" {
		text = fmt.Sprintf("%s: %s", code, message)
	}
	return &CallToolResult{
		IsError: true,
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}
