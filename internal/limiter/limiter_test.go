package limiter

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_AcquireHTTPOut_ReleaseFreesSlot(t *testing.T) {
	l := New(1, 1)
	ctx := context.Background()

	release, err := l.AcquireHTTPOut(ctx)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	blocked := make(chan struct{})
	go func() {
		r2, err := l.AcquireHTTPOut(ctx)
		if err != nil {
			t.Errorf("second acquire: %v", err)
			return
		}
		r2()
		close(blocked)
	}()

	select {
	case <-blocked:
		t.Fatal("second acquire succeeded before first was released")
	case <-time.After(20 * time.Millisecond):
	}

	release()

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("second acquire did not unblock after release")
	}
}

func TestLimiter_AcquireHTTPOut_CtxCancelled(t *testing.T) {
	l := New(1, 1)
	release, err := l.AcquireHTTPOut(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := l.AcquireHTTPOut(ctx); err == nil {
		t.Fatal("expected error when context is cancelled while blocked")
	}
}

func TestLimiter_AcquireLLMFlight_IndependentFromHTTPOut(t *testing.T) {
	l := New(1, 1)
	ctx := context.Background()

	releaseHTTP, err := l.AcquireHTTPOut(ctx)
	if err != nil {
		t.Fatalf("acquire http: %v", err)
	}
	defer releaseHTTP()

	releaseLLM, err := l.AcquireLLMFlight(ctx)
	if err != nil {
		t.Fatalf("acquire llm flight should not be blocked by http cap: %v", err)
	}
	releaseLLM()
}

func TestLimiter_AcquireLLMFlight_CapEnforced(t *testing.T) {
	l := New(4, 2)
	ctx := context.Background()

	r1, err := l.AcquireLLMFlight(ctx)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	r2, err := l.AcquireLLMFlight(ctx)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := l.AcquireLLMFlight(tctx); err == nil {
		t.Fatal("expected third acquire to block past the cap")
	}

	r1()
	r2()
}
