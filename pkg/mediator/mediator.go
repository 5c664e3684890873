package mediator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jk-nd/noumena-mcp-gateway/pkg/contextstore"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/observability"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/policy"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/protocol"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/rendezvous"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/router"
)

var errQueueUnavailable = errors.New("execution queue unavailable")

// PolicyChecker approves or denies one tool invocation.
type PolicyChecker interface {
	CheckAndApprove(ctx context.Context, req *policy.CheckRequest) (*policy.Decision, error)
}

// Publisher hands an execution notification to the work queue. A false
// return means the Executor cannot be reached.
type Publisher interface {
	Publish(ctx context.Context, notification *protocol.ExecutionNotification) bool
}

// UserContext identifies the calling principal.
type UserContext struct {
	TenantID string
	UserID   string
}

func (u UserContext) withDefaults() UserContext {
	if u.TenantID == "" {
		u.TenantID = "default"
	}
	if u.UserID == "" {
		u.UserID = "unknown"
	}
	return u
}

// Mediator drives one tool call end to end: resolve, policy check, park
// the body, publish the notification, wait for the Executor's callback,
// and translate the outcome into a JSON-RPC result.
type Mediator struct {
	router     *router.Router
	store      *contextstore.Store
	publisher  Publisher
	rendezvous *rendezvous.Rendezvous
	checker    PolicyChecker

	callbackURL        string
	credentialProxyURL string
	executionTimeout   time.Duration

	serverName    string
	serverVersion string
}

// Options carries the mediator's wiring.
type Options struct {
	Router     *router.Router
	Store      *contextstore.Store
	Publisher  Publisher
	Rendezvous *rendezvous.Rendezvous
	Checker    PolicyChecker

	// CallbackURL is the absolute URL of this gateway's /callback
	// endpoint, handed to the Executor in every notification.
	CallbackURL        string
	CredentialProxyURL string
	ExecutionTimeout   time.Duration

	ServerName    string
	ServerVersion string
}

// New builds a Mediator. Router, Store, Publisher, and Rendezvous are
// required.
func New(opts Options) (*Mediator, error) {
	if opts.Router == nil || opts.Store == nil || opts.Publisher == nil || opts.Rendezvous == nil {
		return nil, fmt.Errorf("mediator requires router, store, publisher, and rendezvous")
	}
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = 2 * time.Minute
	}
	if opts.ServerName == "" {
		opts.ServerName = "noumena-mcp-gateway"
	}
	return &Mediator{
		router:             opts.Router,
		store:              opts.Store,
		publisher:          opts.Publisher,
		rendezvous:         opts.Rendezvous,
		checker:            opts.Checker,
		callbackURL:        opts.CallbackURL,
		credentialProxyURL: opts.CredentialProxyURL,
		executionTimeout:   opts.ExecutionTimeout,
		serverName:         opts.ServerName,
		serverVersion:      opts.ServerVersion,
	}, nil
}

// HandleToolCall runs the full state machine for one tools/call and
// always produces a result, tool-level errors included.
func (m *Mediator) HandleToolCall(ctx context.Context, name string, arguments map[string]interface{}, user UserContext) *protocol.CallToolResult {
	start := time.Now()
	user = user.withDefaults()

	resolved, ok := m.router.Resolve(ctx, name)
	if !ok {
		m.record(ctx, name, "", protocol.CodeToolNotFound, start)
		return protocol.ErrorResult(protocol.CodeToolNotFound,
			fmt.Sprintf("tool %q not found or disabled", name))
	}

	requestID := uuid.NewString()
	log := slog.With("request_id", requestID,
		"service", resolved.ServiceName, "tool", resolved.ToolName)

	if m.checker != nil {
		decision, err := m.checker.CheckAndApprove(ctx, &policy.CheckRequest{
			TenantID:  user.TenantID,
			UserID:    user.UserID,
			Service:   resolved.ServiceName,
			Operation: resolved.ToolName,
			Metadata:  policy.ArgumentMetadata(arguments),
		})
		if err != nil {
			log.Error("Policy check failed", "error", err)
			m.recordDecision(ctx, "unavailable")
			m.record(ctx, resolved.ServiceName, resolved.ToolName, protocol.CodePolicyUnavailable, start)
			return protocol.ErrorResult(protocol.CodePolicyUnavailable, "policy service is unreachable")
		}
		if !decision.Approved {
			log.Info("Policy denied tool call", "reason", decision.Reason)
			m.recordDecision(ctx, "denied")
			m.record(ctx, resolved.ServiceName, resolved.ToolName, protocol.CodePolicyDenied, start)
			return protocol.ErrorResult(protocol.CodePolicyDenied, decision.Reason)
		}
		m.recordDecision(ctx, "approved")
	}

	stored := &contextstore.StoredContext{
		RequestID: requestID,
		TenantID:  user.TenantID,
		UserID:    user.UserID,
		Service:   resolved.ServiceName,
		Operation: resolved.ToolName,
		Body:      arguments,
		CreatedAt: time.Now().UnixMilli(),
	}
	if _, err := m.store.Store(stored); err != nil {
		log.Error("Failed to store execution context", "error", err)
		m.record(ctx, resolved.ServiceName, resolved.ToolName, protocol.CodeInternalError, start)
		return protocol.ErrorResult(protocol.CodeInternalError, "failed to store execution context")
	}
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordContextStore(ctx, 1, 0)
	}

	notification := &protocol.ExecutionNotification{
		RequestID:          requestID,
		Service:            resolved.ServiceName,
		Operation:          resolved.ToolName,
		CallbackURL:        m.callbackURL,
		TenantID:           user.TenantID,
		UserID:             user.UserID,
		CredentialProxyURL: m.credentialProxyURL,
	}

	// Register before publish so a fast callback cannot outrun the
	// waiter. The store above must also precede the publish; the
	// Executor dereferences the id as soon as it sees the message.
	outcome := m.rendezvous.AwaitExecution(ctx, requestID, m.executionTimeout, func() error {
		ok := m.publisher.Publish(ctx, notification)
		if metrics := observability.GetGlobalMetrics(); metrics != nil {
			metrics.RecordQueuePublish(ctx, ok)
		}
		if !ok {
			return errQueueUnavailable
		}
		return nil
	})

	switch outcome.Kind {
	case rendezvous.OutcomeSuccess:
		m.store.Remove(requestID)
		result := outcome.Result
		if result.Success {
			log.Info("Tool call completed", "duration", time.Since(start))
			m.record(ctx, resolved.ServiceName, resolved.ToolName, "OK", start)
			return protocol.OutputResult(result.Output)
		}
		code := protocol.CodeExecutionFailed
		message := "execution failed"
		if result.Error != nil {
			if result.Error.Code != "" {
				code = result.Error.Code
			}
			message = result.Error.Message
		}
		log.Warn("Executor reported failure", "code", code, "message", message)
		m.record(ctx, resolved.ServiceName, resolved.ToolName, code, start)
		return protocol.ErrorResult(code, message)

	case rendezvous.OutcomeTimeout:
		m.store.Remove(requestID)
		log.Warn("Tool call timed out", "timeout", m.executionTimeout)
		m.record(ctx, resolved.ServiceName, resolved.ToolName, protocol.CodeExecutionTimeout, start)
		return protocol.ErrorResult(protocol.CodeExecutionTimeout,
			fmt.Sprintf("no result within %s", m.executionTimeout))

	default:
		m.store.Remove(requestID)
		if errors.Is(outcome.Err, errQueueUnavailable) {
			log.Error("Queue publish failed")
			m.record(ctx, resolved.ServiceName, resolved.ToolName, protocol.CodeExecutorUnavail, start)
			return protocol.ErrorResult(protocol.CodeExecutorUnavail, outcome.Err.Error())
		}
		if outcome.Err != nil && ctx.Err() != nil {
			// Agent went away; nobody reads this result.
			log.Info("Tool call cancelled", "error", outcome.Err)
			m.record(ctx, resolved.ServiceName, resolved.ToolName, protocol.CodeInternalError, start)
			return protocol.ErrorResult(protocol.CodeInternalError, "request cancelled")
		}
		message := "unexpected mediation failure"
		if outcome.Err != nil {
			message = outcome.Err.Error()
		}
		log.Error("Tool call failed", "error", message)
		m.record(ctx, resolved.ServiceName, resolved.ToolName, protocol.CodeInternalError, start)
		return protocol.ErrorResult(protocol.CodeInternalError, message)
	}
}

// CompleteExecution delivers an Executor callback to its waiter.
// Unknown ids are tolerated; the waiter may have timed out already.
func (m *Mediator) CompleteExecution(result *protocol.ExecuteResult) {
	m.rendezvous.Complete(result.RequestID, result)
}

// ListTools enumerates the enabled tools with re-namespaced names.
func (m *Mediator) ListTools(ctx context.Context) *protocol.ListToolsResult {
	listed := m.router.ListEnabledTools(ctx)
	tools := make([]protocol.ToolDescriptor, 0, len(listed))
	for _, lt := range listed {
		schema := lt.Tool.InputSchema
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		tools = append(tools, protocol.ToolDescriptor{
			Name:        lt.ServiceName + "." + lt.Tool.Name,
			Description: lt.Tool.Description,
			InputSchema: schema,
		})
	}
	return &protocol.ListToolsResult{Tools: tools}
}

// Initialize answers the MCP handshake.
func (m *Mediator) Initialize() *protocol.InitializeResult {
	return &protocol.InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: protocol.ServerCapabilities{
			Tools: map[string]interface{}{"listChanged": false},
		},
		ServerInfo: protocol.ServerInfo{
			Name:    m.serverName,
			Version: m.serverVersion,
		},
	}
}

func (m *Mediator) record(ctx context.Context, service, tool, code string, start time.Time) {
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordToolCall(ctx, service, tool, code, time.Since(start))
	}
}

func (m *Mediator) recordDecision(ctx context.Context, decision string) {
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordPolicyDecision(ctx, decision)
	}
}
