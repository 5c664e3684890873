package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jk-nd/noumena-mcp-gateway/pkg/config"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/registry"
)

// EnabledChecker is the policy-side source of truth for whether a
// service is enabled. The YAML flag is only the fallback.
type EnabledChecker interface {
	IsServiceEnabled(ctx context.Context, name string) (bool, error)
}

// EnabledSetChecker fetches every enabled service in one round trip.
// Checkers that implement it let listings avoid a per-service query.
type EnabledSetChecker interface {
	GetEnabledServices(ctx context.Context) ([]string, error)
}

// ResolvedTool is the outcome of a successful lookup.
type ResolvedTool struct {
	ServiceName string
	ToolName    string
	Service     *config.ServiceDefinition
	Tool        *config.ToolDefinition
}

// NamespacedName returns "<service>.<tool>".
func (r *ResolvedTool) NamespacedName() string {
	return r.ServiceName + "." + r.ToolName
}

// ListedTool is one entry of an enabled-tools listing, in configuration
// order.
type ListedTool struct {
	ServiceName string
	Tool        *config.ToolDefinition
}

// Router resolves namespaced tool names against the configured services
// and the policy engine's enabled state.
type Router struct {
	mu       sync.RWMutex
	services *registry.BaseRegistry[*config.ServiceDefinition]
	order    []string
	checker  EnabledChecker
}

// Option configures a Router.
type Option func(*Router)

// WithEnabledChecker wires the policy engine lookup. Without one the
// router uses the static YAML flags only.
func WithEnabledChecker(c EnabledChecker) Option {
	return func(r *Router) {
		r.checker = c
	}
}

// New builds a router over the given service definitions. Configuration
// order is preserved for listings and the raw-name fallback.
func New(services []*config.ServiceDefinition, opts ...Option) (*Router, error) {
	reg, order, err := buildRegistry(services)
	if err != nil {
		return nil, err
	}
	r := &Router{
		services: reg,
		order:    order,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func buildRegistry(services []*config.ServiceDefinition) (*registry.BaseRegistry[*config.ServiceDefinition], []string, error) {
	reg := registry.NewBaseRegistry[*config.ServiceDefinition]()
	order := make([]string, 0, len(services))
	for _, svc := range services {
		if err := reg.Register(svc.Name, svc); err != nil {
			return nil, nil, fmt.Errorf("failed to register service: %w", err)
		}
		order = append(order, svc.Name)
	}
	return reg, order, nil
}

// Reload replaces the service definitions. Invalid sets are rejected
// and the previous definitions stay in effect. Safe to call while
// lookups are in flight.
func (r *Router) Reload(services []*config.ServiceDefinition) error {
	reg, order, err := buildRegistry(services)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.services = reg
	r.order = order
	r.mu.Unlock()

	slog.Info("Service definitions reloaded", "services", len(order))
	return nil
}

func (r *Router) snapshot() (*registry.BaseRegistry[*config.ServiceDefinition], []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services, r.order
}

// ParseToolName splits a namespaced tool name on the first dot. The
// service part must be non-empty and the tool part must be non-empty;
// a name without a dot does not parse.
func ParseToolName(name string) (service, tool string, ok bool) {
	idx := strings.Index(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}

// Resolve maps a namespaced tool name to its service and tool
// definition. Names without a namespace fall back to a scan over the
// enabled services in configuration order.
func (r *Router) Resolve(ctx context.Context, name string) (*ResolvedTool, bool) {
	serviceName, toolName, ok := ParseToolName(name)
	if !ok {
		if strings.Contains(name, ".") {
			// Malformed namespace, no fallback.
			return nil, false
		}
		return r.resolveRaw(ctx, name)
	}

	services, _ := r.snapshot()
	svc, exists := services.Get(serviceName)
	if !exists {
		return nil, false
	}
	if !r.serviceEnabled(ctx, svc) {
		return nil, false
	}

	tool := svc.Tool(toolName)
	if tool == nil || !tool.IsEnabled() {
		return nil, false
	}

	return &ResolvedTool{
		ServiceName: serviceName,
		ToolName:    toolName,
		Service:     svc,
		Tool:        tool,
	}, true
}

// resolveRaw finds the first enabled service exposing an enabled tool
// with the bare name. Lets agents that ignore namespacing still reach
// their tools.
func (r *Router) resolveRaw(ctx context.Context, toolName string) (*ResolvedTool, bool) {
	services, order := r.snapshot()
	for _, serviceName := range order {
		svc, exists := services.Get(serviceName)
		if !exists || !r.serviceEnabled(ctx, svc) {
			continue
		}
		tool := svc.Tool(toolName)
		if tool == nil || !tool.IsEnabled() {
			continue
		}
		return &ResolvedTool{
			ServiceName: serviceName,
			ToolName:    toolName,
			Service:     svc,
			Tool:        tool,
		}, true
	}
	return nil, false
}

// ListEnabledTools returns every enabled tool of every enabled service,
// in configuration order. Checkers that can list the enabled set are
// asked once instead of once per service.
func (r *Router) ListEnabledTools(ctx context.Context) []ListedTool {
	services, order := r.snapshot()
	enabledSet := r.enabledSet(ctx)

	var out []ListedTool
	for _, serviceName := range order {
		svc, exists := services.Get(serviceName)
		if !exists {
			continue
		}
		if enabledSet != nil {
			if !enabledSet[serviceName] {
				continue
			}
		} else if !r.serviceEnabled(ctx, svc) {
			continue
		}
		for _, tool := range svc.Tools {
			if tool.IsEnabled() {
				out = append(out, ListedTool{ServiceName: serviceName, Tool: tool})
			}
		}
	}
	return out
}

// enabledSet fetches the policy engine's enabled services in one call.
// Returns nil when the checker cannot, or when the call fails; callers
// then fall back to per-service checks.
func (r *Router) enabledSet(ctx context.Context) map[string]bool {
	set, ok := r.checker.(EnabledSetChecker)
	if !ok {
		return nil
	}

	names, err := set.GetEnabledServices(ctx)
	if err != nil {
		slog.Warn("Policy engine enabled-set lookup failed, checking services individually", "error", err)
		return nil
	}

	enabled := make(map[string]bool, len(names))
	for _, name := range names {
		enabled[name] = true
	}
	return enabled
}

// serviceEnabled consults the policy engine, falling back to the static
// flag when the engine is unreachable. The fallback is always logged.
func (r *Router) serviceEnabled(ctx context.Context, svc *config.ServiceDefinition) bool {
	if r.checker == nil {
		return svc.IsEnabled()
	}

	enabled, err := r.checker.IsServiceEnabled(ctx, svc.Name)
	if err != nil {
		slog.Warn("Policy engine unreachable, falling back to static enabled flag",
			"service", svc.Name, "enabled", svc.IsEnabled(), "error", err)
		return svc.IsEnabled()
	}
	return enabled
}
