package rendezvous

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jk-nd/noumena-mcp-gateway/pkg/protocol"
)

// OutcomeKind classifies how a wait for an execution result ended.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTimeout
	OutcomeError
)

// Outcome is the terminal state of one awaited execution.
type Outcome struct {
	Kind    OutcomeKind
	Result  *protocol.ExecuteResult
	Timeout time.Duration
	Err     error
}

// Rendezvous reunites an asynchronous Executor callback with the
// request handler blocked on its result. Each request id owns a
// one-slot channel; the first of delivery, timeout, or trigger failure
// removes it.
type Rendezvous struct {
	mu      sync.Mutex
	pending map[string]chan *protocol.ExecuteResult
}

func New() *Rendezvous {
	return &Rendezvous{
		pending: make(map[string]chan *protocol.ExecuteResult),
	}
}

// Register creates the slot for id. Must happen before the work that
// produces the callback is triggered.
func (r *Rendezvous) Register(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[id]; exists {
		return fmt.Errorf("request %s already registered", id)
	}
	r.pending[id] = make(chan *protocol.ExecuteResult, 1)
	return nil
}

// Complete delivers result to the waiter for id and removes the slot.
// A callback arriving after the waiter timed out finds no slot and is
// dropped with a warning. Never blocks.
func (r *Rendezvous) Complete(id string, result *protocol.ExecuteResult) {
	r.mu.Lock()
	ch, exists := r.pending[id]
	if exists {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !exists {
		slog.Warn("Dropping result for unknown request, waiter likely timed out", "request_id", id)
		return
	}

	ch <- result
}

// Await blocks until the slot for id is filled, the timeout elapses, or
// ctx is cancelled. Timeout and cancellation remove the slot.
func (r *Rendezvous) Await(ctx context.Context, id string, timeout time.Duration) (*protocol.ExecuteResult, error) {
	r.mu.Lock()
	ch, exists := r.pending[id]
	r.mu.Unlock()

	if !exists {
		return nil, fmt.Errorf("request %s is not registered", id)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		return result, nil
	case <-timer.C:
		r.remove(id)
		return nil, nil
	case <-ctx.Done():
		r.remove(id)
		return nil, ctx.Err()
	}
}

// AwaitExecution registers id, invokes trigger to kick off the async
// work, then awaits the result. The registration happens before the
// trigger so a fast callback cannot lose the race. A trigger error
// removes the slot and yields an error outcome.
func (r *Rendezvous) AwaitExecution(ctx context.Context, id string, timeout time.Duration, trigger func() error) Outcome {
	if err := r.Register(id); err != nil {
		return Outcome{Kind: OutcomeError, Err: err}
	}

	if err := trigger(); err != nil {
		r.remove(id)
		return Outcome{Kind: OutcomeError, Err: err}
	}

	result, err := r.Await(ctx, id, timeout)
	if err != nil {
		return Outcome{Kind: OutcomeError, Err: err}
	}
	if result == nil {
		return Outcome{Kind: OutcomeTimeout, Timeout: timeout}
	}
	return Outcome{Kind: OutcomeSuccess, Result: result}
}

// PendingCount returns the number of requests currently awaited.
func (r *Rendezvous) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Rendezvous) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}
