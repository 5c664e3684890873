package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second, 0)
}

func TestCheckAndApprove(t *testing.T) {
	var received CheckRequest
	client := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/policy/check", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(Decision{Approved: true})
	})

	decision, err := client.CheckAndApprove(context.Background(), &CheckRequest{
		TenantID:  "acme",
		UserID:    "alice",
		Service:   "testservice",
		Operation: "do_thing",
		Metadata:  ArgumentMetadata(map[string]interface{}{"query": "hi"}),
	})
	require.NoError(t, err)
	assert.True(t, decision.Approved)

	assert.Equal(t, "acme", received.TenantID)
	assert.Equal(t, "do_thing", received.Operation)
}

func TestCheckDenied(t *testing.T) {
	client := newEngine(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(Decision{Approved: false, Reason: "quota exhausted"})
	})

	decision, err := client.CheckAndApprove(context.Background(), &CheckRequest{
		Service: "testservice", Operation: "do_thing",
	})
	require.NoError(t, err, "a denial is a decision, not a transport failure")
	assert.False(t, decision.Approved)
	assert.Equal(t, "quota exhausted", decision.Reason)
}

func TestCheckEngineError(t *testing.T) {
	client := newEngine(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.CheckAndApprove(context.Background(), &CheckRequest{
		Service: "testservice", Operation: "do_thing",
	})
	assert.Error(t, err)
}

func TestCheckEngineUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", time.Second, 0)

	_, err := client.CheckAndApprove(context.Background(), &CheckRequest{
		Service: "testservice", Operation: "do_thing",
	})
	assert.Error(t, err)
}

func TestIsServiceEnabled(t *testing.T) {
	client := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/policy/services/testservice/enabled", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]bool{"enabled": true})
	})

	enabled, err := client.IsServiceEnabled(context.Background(), "testservice")
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestGetEnabledServices(t *testing.T) {
	client := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/policy/services/enabled", r.URL.Path)
		json.NewEncoder(w).Encode(map[string][]string{"services": {"a", "b"}})
	})

	services, err := client.GetEnabledServices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, services)
}

func TestArgumentMetadata(t *testing.T) {
	meta := ArgumentMetadata(map[string]interface{}{
		"zeta":  "secret",
		"alpha": 1,
	})

	assert.Equal(t, []string{"alpha", "zeta"}, meta["argumentKeys"])
	assert.Equal(t, 2, meta["argumentCount"])

	// Values never leave the gateway.
	b, err := json.Marshal(meta)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
}
