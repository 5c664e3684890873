package router

import (
	"context"
	"errors"
	"testing"

	"github.com/jk-nd/noumena-mcp-gateway/pkg/config"
)

func testServices() []*config.ServiceDefinition {
	return []*config.ServiceDefinition{
		{
			Name:     "testservice",
			Type:     config.ServiceTypeHTTPMCP,
			Endpoint: "http://testservice:9000",
			Tools: []*config.ToolDefinition{
				{Name: "do_thing", Description: "does the thing"},
				{Name: "disabled_tool", Enabled: config.BoolPtr(false)},
			},
		},
		{
			Name:     "search",
			Type:     config.ServiceTypeHTTPMCP,
			Endpoint: "http://search:9000",
			Tools: []*config.ToolDefinition{
				{Name: "duckduckgo_search"},
			},
		},
		{
			Name:     "offline",
			Type:     config.ServiceTypeHTTPMCP,
			Endpoint: "http://offline:9000",
			Enabled:  config.BoolPtr(false),
			Tools: []*config.ToolDefinition{
				{Name: "do_thing"},
			},
		},
	}
}

func TestParseToolName(t *testing.T) {
	tests := []struct {
		input       string
		wantService string
		wantTool    string
		wantOK      bool
	}{
		{"a.b", "a", "b", true},
		{"testservice.do_thing", "testservice", "do_thing", true},
		{"a.b.c", "a", "b.c", true},
		{".b", "", "", false},
		{"a.", "", "", false},
		{"ab", "", "", false},
		{"", "", "", false},
		{".", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			service, tool, ok := ParseToolName(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseToolName(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if service != tt.wantService || tool != tt.wantTool {
				t.Errorf("ParseToolName(%q) = (%q, %q), want (%q, %q)",
					tt.input, service, tool, tt.wantService, tt.wantTool)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	r, err := New(testServices())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	resolved, ok := r.Resolve(ctx, "testservice.do_thing")
	if !ok {
		t.Fatal("expected testservice.do_thing to resolve")
	}
	if resolved.ServiceName != "testservice" || resolved.ToolName != "do_thing" {
		t.Errorf("unexpected resolution: %+v", resolved)
	}
	if resolved.NamespacedName() != "testservice.do_thing" {
		t.Errorf("unexpected namespaced name %q", resolved.NamespacedName())
	}

	if _, ok := r.Resolve(ctx, "nonexistent.fake"); ok {
		t.Error("unknown service should not resolve")
	}
	if _, ok := r.Resolve(ctx, "testservice.missing"); ok {
		t.Error("unknown tool should not resolve")
	}
	if _, ok := r.Resolve(ctx, "testservice.disabled_tool"); ok {
		t.Error("disabled tool should not resolve")
	}
	if _, ok := r.Resolve(ctx, "offline.do_thing"); ok {
		t.Error("disabled service should not resolve")
	}
	if _, ok := r.Resolve(ctx, ".do_thing"); ok {
		t.Error("malformed name should not resolve")
	}
}

func TestResolveRawFallback(t *testing.T) {
	r, err := New(testServices())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	resolved, ok := r.Resolve(ctx, "duckduckgo_search")
	if !ok {
		t.Fatal("expected raw name to resolve via fallback")
	}
	if resolved.ServiceName != "search" {
		t.Errorf("raw fallback picked service %q, want search", resolved.ServiceName)
	}

	// First enabled service in configuration order wins; the disabled
	// "offline" service also has do_thing but must not shadow it.
	resolved, ok = r.Resolve(ctx, "do_thing")
	if !ok || resolved.ServiceName != "testservice" {
		t.Errorf("raw fallback = %+v, %v; want testservice match", resolved, ok)
	}

	if _, ok := r.Resolve(ctx, "no_such_tool"); ok {
		t.Error("unknown raw name should not resolve")
	}
}

func TestListEnabledTools(t *testing.T) {
	r, err := New(testServices())
	if err != nil {
		t.Fatal(err)
	}

	listed := r.ListEnabledTools(context.Background())

	want := []string{"testservice.do_thing", "search.duckduckgo_search"}
	if len(listed) != len(want) {
		t.Fatalf("got %d tools, want %d", len(listed), len(want))
	}
	for i, lt := range listed {
		got := lt.ServiceName + "." + lt.Tool.Name
		if got != want[i] {
			t.Errorf("tool[%d] = %q, want %q", i, got, want[i])
		}
	}
}

type fakeChecker struct {
	enabled map[string]bool
	err     error
}

func (f *fakeChecker) IsServiceEnabled(_ context.Context, name string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.enabled[name], nil
}

func TestPolicyIsSourceOfTruth(t *testing.T) {
	// Policy disables a service the YAML enables, and enables one the
	// YAML disables.
	checker := &fakeChecker{enabled: map[string]bool{
		"testservice": false,
		"search":      true,
		"offline":     true,
	}}
	r, err := New(testServices(), WithEnabledChecker(checker))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, ok := r.Resolve(ctx, "testservice.do_thing"); ok {
		t.Error("policy-disabled service should not resolve")
	}
	if _, ok := r.Resolve(ctx, "offline.do_thing"); !ok {
		t.Error("policy-enabled service should resolve despite static flag")
	}
}

func TestPolicyUnreachableFallsBackToConfig(t *testing.T) {
	checker := &fakeChecker{err: errors.New("connection refused")}
	r, err := New(testServices(), WithEnabledChecker(checker))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, ok := r.Resolve(ctx, "testservice.do_thing"); !ok {
		t.Error("expected fallback to static enabled flag")
	}
	if _, ok := r.Resolve(ctx, "offline.do_thing"); ok {
		t.Error("statically disabled service must stay disabled on fallback")
	}
}

func TestDuplicateServiceRejected(t *testing.T) {
	services := []*config.ServiceDefinition{
		{Name: "dup", Type: config.ServiceTypeHTTPMCP, Endpoint: "http://a"},
		{Name: "dup", Type: config.ServiceTypeHTTPMCP, Endpoint: "http://b"},
	}
	if _, err := New(services); err == nil {
		t.Error("expected duplicate service registration to fail")
	}
}

func TestReload(t *testing.T) {
	r, err := New(testServices())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, ok := r.Resolve(ctx, "testservice.do_thing"); !ok {
		t.Fatal("expected boot-time tool to resolve")
	}

	err = r.Reload([]*config.ServiceDefinition{
		{
			Name:     "replacement",
			Type:     config.ServiceTypeHTTPMCP,
			Endpoint: "http://replacement:9000",
			Tools: []*config.ToolDefinition{
				{Name: "new_thing"},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := r.Resolve(ctx, "testservice.do_thing"); ok {
		t.Error("removed service should not resolve after reload")
	}
	resolved, ok := r.Resolve(ctx, "replacement.new_thing")
	if !ok || resolved.ServiceName != "replacement" {
		t.Errorf("reloaded tool = %+v, %v; want replacement match", resolved, ok)
	}

	listed := r.ListEnabledTools(ctx)
	if len(listed) != 1 || listed[0].ServiceName != "replacement" {
		t.Errorf("listing after reload = %+v, want only replacement", listed)
	}
}

func TestReloadRejectsInvalidSet(t *testing.T) {
	r, err := New(testServices())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	err = r.Reload([]*config.ServiceDefinition{
		{Name: "dup", Type: config.ServiceTypeHTTPMCP, Endpoint: "http://a"},
		{Name: "dup", Type: config.ServiceTypeHTTPMCP, Endpoint: "http://b"},
	})
	if err == nil {
		t.Fatal("expected duplicate service reload to fail")
	}

	// The previous definitions must stay in effect.
	if _, ok := r.Resolve(ctx, "testservice.do_thing"); !ok {
		t.Error("rejected reload must not disturb existing services")
	}
}

type fakeSetChecker struct {
	fakeChecker
	set        []string
	setErr     error
	setCalls   int
	perService int
}

func (f *fakeSetChecker) IsServiceEnabled(ctx context.Context, name string) (bool, error) {
	f.perService++
	return f.fakeChecker.IsServiceEnabled(ctx, name)
}

func (f *fakeSetChecker) GetEnabledServices(_ context.Context) ([]string, error) {
	f.setCalls++
	return f.set, f.setErr
}

func TestListEnabledToolsBatchLookup(t *testing.T) {
	checker := &fakeSetChecker{set: []string{"search"}}
	r, err := New(testServices(), WithEnabledChecker(checker))
	if err != nil {
		t.Fatal(err)
	}

	listed := r.ListEnabledTools(context.Background())

	if len(listed) != 1 || listed[0].ServiceName != "search" {
		t.Errorf("listing = %+v, want only search", listed)
	}
	if checker.setCalls != 1 {
		t.Errorf("enabled-set lookups = %d, want 1", checker.setCalls)
	}
	if checker.perService != 0 {
		t.Errorf("per-service lookups = %d, want 0 when the set is available", checker.perService)
	}
}

func TestListEnabledToolsBatchLookupFallsBack(t *testing.T) {
	checker := &fakeSetChecker{
		fakeChecker: fakeChecker{enabled: map[string]bool{"testservice": true}},
		setErr:      errors.New("connection refused"),
	}
	r, err := New(testServices(), WithEnabledChecker(checker))
	if err != nil {
		t.Fatal(err)
	}

	listed := r.ListEnabledTools(context.Background())

	if len(listed) != 1 || listed[0].ServiceName != "testservice" {
		t.Errorf("listing = %+v, want testservice via per-service fallback", listed)
	}
	if checker.perService == 0 {
		t.Error("expected per-service lookups after the set lookup failed")
	}
}
