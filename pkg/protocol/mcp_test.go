package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestErrorResultFormat(t *testing.T) {
	result := ErrorResult(CodePolicyDenied, "user lacks entitlement")

	if !result.IsError {
		t.Fatal("IsError not set")
	}
	if len(result.Content) != 1 {
		t.Fatalf("content blocks = %d, want 1", len(result.Content))
	}
	if got, want := result.Content[0].Text, "POLICY_DENIED: user lacks entitlement"; got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
	if result.Content[0].Type != "text" {
		t.Errorf("type = %q, want text", result.Content[0].Type)
	}
}

func TestOutputResult(t *testing.T) {
	result := OutputResult(map[string]interface{}{"answer": "ok"})

	if result.IsError {
		t.Fatal("IsError set on success result")
	}
	if !strings.Contains(result.Content[0].Text, `"answer":"ok"`) {
		t.Errorf("content text %q does not render the output", result.Content[0].Text)
	}

	b, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	output, ok := decoded["output"].(map[string]interface{})
	if !ok || output["answer"] != "ok" {
		t.Errorf("serialized output = %v", decoded["output"])
	}
	if _, present := decoded["isError"]; present {
		t.Error("isError serialized on a success result")
	}
}

func TestErrorResponseEnvelope(t *testing.T) {
	resp := NewErrorResponse(float64(7), MethodNotFound, "unknown method")

	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}

	if decoded["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v", decoded["jsonrpc"])
	}
	if decoded["id"] != float64(7) {
		t.Errorf("id = %v", decoded["id"])
	}
	errObj := decoded["error"].(map[string]interface{})
	if errObj["code"] != float64(MethodNotFound) {
		t.Errorf("code = %v", errObj["code"])
	}
	if _, present := decoded["result"]; present {
		t.Error("error response carries a result")
	}
}

func TestRequestParse(t *testing.T) {
	raw := `{"jsonrpc":"2.0","id":"abc","method":"tools/call","params":{"name":"svc.tool","arguments":{"q":1}}}`

	var req JSONRPCRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatal(err)
	}
	if req.Method != MethodCallTool {
		t.Errorf("method = %q", req.Method)
	}

	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatal(err)
	}
	if params.Name != "svc.tool" {
		t.Errorf("name = %q", params.Name)
	}
	if params.Arguments["q"] != float64(1) {
		t.Errorf("arguments = %v", params.Arguments)
	}
}
