package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jk-nd/noumena-mcp-gateway/pkg/config"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/contextstore"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/mediator"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/protocol"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/rendezvous"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/router"
)

type stubPublisher struct {
	calls     atomic.Int32
	onPublish func(*protocol.ExecutionNotification)
}

func (p *stubPublisher) Publish(_ context.Context, n *protocol.ExecutionNotification) bool {
	p.calls.Add(1)
	if p.onPublish != nil {
		go p.onPublish(n)
	}
	return true
}

type testGateway struct {
	server    *httptest.Server
	store     *contextstore.Store
	mediator  *mediator.Mediator
	publisher *stubPublisher
}

func newTestGateway(t *testing.T, executorToken string) *testGateway {
	t.Helper()

	cfg := &config.Config{}
	cfg.SetDefaults()
	if executorToken != "" {
		cfg.Auth = &config.AuthConfig{ExecutorToken: executorToken}
	}

	services := []*config.ServiceDefinition{
		{
			Name:     "testservice",
			Type:     config.ServiceTypeHTTPMCP,
			Endpoint: "http://testservice:9000",
			Tools:    []*config.ToolDefinition{{Name: "do_thing"}},
		},
	}
	rt, err := router.New(services)
	require.NoError(t, err)

	g := &testGateway{
		store:     contextstore.NewStore(),
		publisher: &stubPublisher{},
	}
	g.mediator, err = mediator.New(mediator.Options{
		Router:           rt,
		Store:            g.store,
		Publisher:        g.publisher,
		Rendezvous:       rendezvous.New(),
		CallbackURL:      "http://gateway:8000/callback",
		ExecutionTimeout: 2 * time.Second,
	})
	require.NoError(t, err)

	srv := New(cfg, g.mediator, g.store)
	g.server = httptest.NewServer(srv.routes())
	t.Cleanup(g.server.Close)
	return g
}

func (g *testGateway) rpc(t *testing.T, body string) *protocol.JSONRPCResponse {
	t.Helper()
	resp, err := http.Post(g.server.URL+"/mcp", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out protocol.JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return &out
}

func TestHealth(t *testing.T) {
	g := newTestGateway(t, "")

	resp, err := http.Get(g.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInitializeMethod(t *testing.T) {
	g := newTestGateway(t, "")

	out := g.rpc(t, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	require.Nil(t, out.Error)

	result, ok := out.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
}

func TestListToolsMethod(t *testing.T) {
	g := newTestGateway(t, "")

	out := g.rpc(t, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Nil(t, out.Error)

	raw, err := json.Marshal(out.Result)
	require.NoError(t, err)
	var list protocol.ListToolsResult
	require.NoError(t, json.Unmarshal(raw, &list))

	require.Len(t, list.Tools, 1)
	assert.Equal(t, "testservice.do_thing", list.Tools[0].Name)
}

func TestCallToolRoundTrip(t *testing.T) {
	g := newTestGateway(t, "")

	// Play the Executor: consume the claim check, then call back over
	// HTTP like a real container would.
	g.publisher.onPublish = func(n *protocol.ExecutionNotification) {
		fetched, err := http.Get(g.server.URL + "/context/" + n.RequestID)
		if err != nil {
			t.Error(err)
			return
		}
		fetched.Body.Close()

		payload := fmt.Sprintf(`{"requestId":%q,"success":true,"output":{"answer":"ok"}}`, n.RequestID)
		cb, err := http.Post(g.server.URL+"/callback", "application/json", bytes.NewBufferString(payload))
		if err != nil {
			t.Error(err)
			return
		}
		defer cb.Body.Close()
		var ack map[string]string
		_ = json.NewDecoder(cb.Body).Decode(&ack)
		if ack["status"] != "received" {
			t.Errorf("callback ack = %v", ack)
		}
	}

	out := g.rpc(t, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"testservice.do_thing","arguments":{"query":"hello"}}}`)
	require.Nil(t, out.Error, "tool-level outcomes must ride as JSON-RPC success")

	raw, err := json.Marshal(out.Result)
	require.NoError(t, err)
	var result protocol.CallToolResult
	require.NoError(t, json.Unmarshal(raw, &result))

	require.False(t, result.IsError)
	output, ok := result.Output.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", output["answer"])
}

func TestParseError(t *testing.T) {
	g := newTestGateway(t, "")

	out := g.rpc(t, `{not json`)
	require.NotNil(t, out.Error)
	assert.Equal(t, protocol.ParseError, out.Error.Code)
}

func TestInvalidVersion(t *testing.T) {
	g := newTestGateway(t, "")

	out := g.rpc(t, `{"jsonrpc":"1.0","id":4,"method":"initialize"}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, protocol.InvalidRequest, out.Error.Code)
}

func TestUnknownMethod(t *testing.T) {
	g := newTestGateway(t, "")

	out := g.rpc(t, `{"jsonrpc":"2.0","id":5,"method":"tools/destroy"}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, protocol.MethodNotFound, out.Error.Code)
}

func TestCallToolMissingName(t *testing.T) {
	g := newTestGateway(t, "")

	out := g.rpc(t, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{}}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, protocol.InvalidParams, out.Error.Code)
}

func TestContextSingleConsume(t *testing.T) {
	g := newTestGateway(t, "")

	_, err := g.store.Store(&contextstore.StoredContext{
		RequestID: "req-1",
		Service:   "testservice",
		Operation: "do_thing",
		Body:      map[string]interface{}{"query": "hello"},
	})
	require.NoError(t, err)

	first, err := http.Get(g.server.URL + "/context/req-1")
	require.NoError(t, err)
	defer first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	var firstBody struct {
		Found   bool                       `json:"found"`
		Context *contextstore.StoredContext `json:"context"`
	}
	require.NoError(t, json.NewDecoder(first.Body).Decode(&firstBody))
	require.True(t, firstBody.Found)
	assert.Equal(t, "hello", firstBody.Context.Body["query"])

	second, err := http.Get(g.server.URL + "/context/req-1")
	require.NoError(t, err)
	defer second.Body.Close()
	require.Equal(t, http.StatusNotFound, second.StatusCode)

	var secondBody struct {
		Found bool   `json:"found"`
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(second.Body).Decode(&secondBody))
	assert.False(t, secondBody.Found)
	assert.Equal(t, "Context not found or already consumed", secondBody.Error)
}

func TestContextCounts(t *testing.T) {
	g := newTestGateway(t, "")

	_, err := g.store.Store(&contextstore.StoredContext{
		RequestID: "req-2",
		Body:      map[string]interface{}{},
	})
	require.NoError(t, err)

	resp, err := http.Get(g.server.URL + "/context")
	require.NoError(t, err)
	defer resp.Body.Close()

	var counts map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counts))
	assert.Equal(t, 1, counts["stored"])
	assert.Equal(t, 0, counts["consumed"])
}

func TestCallbackValidation(t *testing.T) {
	g := newTestGateway(t, "")

	resp, err := http.Post(g.server.URL+"/callback", "application/json",
		bytes.NewBufferString(`{"success":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(g.server.URL+"/callback", "application/json",
		bytes.NewBufferString(`not json`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLateCallbackAcknowledged(t *testing.T) {
	g := newTestGateway(t, "")

	// No waiter is registered for this id; the callback is still 200.
	resp, err := http.Post(g.server.URL+"/callback", "application/json",
		bytes.NewBufferString(`{"requestId":"long-gone","success":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var ack map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.Equal(t, "received", ack["status"])
}

func TestExecutorTokenRequired(t *testing.T) {
	g := newTestGateway(t, "sekrit")

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"correct", "Bearer sekrit", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, g.server.URL+"/context", nil)
			require.NoError(t, err)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}

	// Agent routes stay open; only the executor surface is gated.
	out := g.rpc(t, `{"jsonrpc":"2.0","id":7,"method":"initialize"}`)
	assert.Nil(t, out.Error)
}
