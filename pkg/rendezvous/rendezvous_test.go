package rendezvous

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jk-nd/noumena-mcp-gateway/pkg/protocol"
)

func successResult(id string) *protocol.ExecuteResult {
	return &protocol.ExecuteResult{
		RequestID: id,
		Success:   true,
		Output:    map[string]interface{}{"answer": "ok"},
	}
}

func TestAwaitExecutionSuccess(t *testing.T) {
	r := New()

	outcome := r.AwaitExecution(context.Background(), "req-1", time.Second, func() error {
		// Simulate the executor callback arriving while the waiter
		// blocks.
		go func() {
			time.Sleep(10 * time.Millisecond)
			r.Complete("req-1", successResult("req-1"))
		}()
		return nil
	})

	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %v, want success (err=%v)", outcome.Kind, outcome.Err)
	}
	if !outcome.Result.Success {
		t.Error("expected a successful result")
	}
	if r.PendingCount() != 0 {
		t.Errorf("pending = %d after delivery, want 0", r.PendingCount())
	}
}

func TestAwaitExecutionTimeout(t *testing.T) {
	r := New()

	start := time.Now()
	outcome := r.AwaitExecution(context.Background(), "req-1", 50*time.Millisecond, func() error {
		return nil
	})

	if outcome.Kind != OutcomeTimeout {
		t.Fatalf("outcome = %v, want timeout", outcome.Kind)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("returned after %v, before the timeout", elapsed)
	}
	if r.PendingCount() != 0 {
		t.Errorf("pending = %d after timeout, want 0", r.PendingCount())
	}
}

func TestAwaitExecutionTriggerFailure(t *testing.T) {
	r := New()

	wantErr := errors.New("queue down")
	outcome := r.AwaitExecution(context.Background(), "req-1", time.Second, func() error {
		return wantErr
	})

	if outcome.Kind != OutcomeError {
		t.Fatalf("outcome = %v, want error", outcome.Kind)
	}
	if !errors.Is(outcome.Err, wantErr) {
		t.Errorf("err = %v, want %v", outcome.Err, wantErr)
	}
	if r.PendingCount() != 0 {
		t.Errorf("pending = %d after trigger failure, want 0", r.PendingCount())
	}
}

func TestCompleteBeforeAwait(t *testing.T) {
	// The callback can land between publish and the waiter entering
	// Await. Registration happens first, so the result must not be
	// lost.
	r := New()

	outcome := r.AwaitExecution(context.Background(), "req-1", time.Second, func() error {
		r.Complete("req-1", successResult("req-1"))
		return nil
	})

	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %v, want success", outcome.Kind)
	}
}

func TestLateCompleteIsNoOp(t *testing.T) {
	r := New()

	outcome := r.AwaitExecution(context.Background(), "req-1", 10*time.Millisecond, func() error {
		return nil
	})
	if outcome.Kind != OutcomeTimeout {
		t.Fatalf("outcome = %v, want timeout", outcome.Kind)
	}

	// Must not panic or block.
	r.Complete("req-1", successResult("req-1"))
	r.Complete("never-registered", successResult("never-registered"))
}

func TestDuplicateRegisterRejected(t *testing.T) {
	r := New()

	if err := r.Register("req-1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("req-1"); err == nil {
		t.Error("duplicate register must fail")
	}
}

func TestAwaitUnregisteredFails(t *testing.T) {
	r := New()
	if _, err := r.Await(context.Background(), "req-1", time.Second); err == nil {
		t.Error("await without register must fail")
	}
}

func TestAwaitCancellation(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcome := r.AwaitExecution(ctx, "req-1", time.Minute, func() error { return nil })
	if outcome.Kind != OutcomeError {
		t.Fatalf("outcome = %v, want error on cancellation", outcome.Kind)
	}
	if r.PendingCount() != 0 {
		t.Errorf("pending = %d after cancellation, want 0", r.PendingCount())
	}
}

func TestConcurrentRequests(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a'+n%26)) + "-req"
			// Ids collide across goroutines on purpose; only one
			// register per id may win, the rest get error outcomes.
			outcome := r.AwaitExecution(context.Background(), id, 200*time.Millisecond, func() error {
				go r.Complete(id, successResult(id))
				return nil
			})
			if outcome.Kind == OutcomeError && outcome.Err == nil {
				t.Error("error outcome must carry an error")
			}
		}(i)
	}
	wg.Wait()

	if r.PendingCount() != 0 {
		t.Errorf("pending = %d after all requests finished, want 0", r.PendingCount())
	}
}
