package workerpool

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testPool(capacity int) *Pool {
	return New(capacity, zerolog.Nop())
}

func TestAcquireReleaseBasic(t *testing.T) {
	p := testPool(1)
	release, err := p.Acquire(context.Background(), "a", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.InUse() != 1 {
		t.Fatalf("expected InUse 1, got %d", p.InUse())
	}
	release()
	if p.InUse() != 0 {
		t.Fatalf("expected InUse 0 after release, got %d", p.InUse())
	}
}

func TestAcquireBlocksUntilSlotFree(t *testing.T) {
	p := testPool(1)
	release, err := p.Acquire(context.Background(), "a", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		r, err := p.Acquire(context.Background(), "b", false)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
			return
		}
		r()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second acquire should not have completed before release")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire did not complete after release")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	p := testPool(1)
	release, err := p.Acquire(context.Background(), "a", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, "b", false)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestPriorityWaiterServedBeforeNormal(t *testing.T) {
	p := testPool(1)
	release, _ := p.Acquire(context.Background(), "holder", false)

	order := make(chan string, 2)
	go func() {
		r, err := p.Acquire(context.Background(), "normal", false)
		if err != nil {
			return
		}
		order <- "normal"
		r()
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		r, err := p.Acquire(context.Background(), "priority", true)
		if err != nil {
			return
		}
		order <- "priority"
		r()
	}()
	time.Sleep(20 * time.Millisecond)

	release()

	first := <-order
	if first != "priority" {
		t.Fatalf("expected priority waiter served first, got %q", first)
	}
	<-order
}

func TestNotifyPriorityChangedPromotesWaiter(t *testing.T) {
	p := testPool(1)
	release, _ := p.Acquire(context.Background(), "holder", false)

	served := make(chan string, 2)
	go func() {
		r, err := p.Acquire(context.Background(), "late-normal", false)
		if err != nil {
			return
		}
		served <- "late-normal"
		r()
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		r, err := p.Acquire(context.Background(), "promoted", false)
		if err != nil {
			return
		}
		served <- "promoted"
		r()
	}()
	time.Sleep(20 * time.Millisecond)

	p.NotifyPriorityChanged("promoted")
	release()

	first := <-served
	if first != "promoted" {
		t.Fatalf("expected promoted waiter served first, got %q", first)
	}
	<-served
}

func TestReconfigureGrowsAndWakesWaiters(t *testing.T) {
	p := testPool(1)
	release, _ := p.Acquire(context.Background(), "a", false)

	done := make(chan struct{})
	go func() {
		r, err := p.Acquire(context.Background(), "b", false)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
			return
		}
		r()
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	p.Reconfigure(2)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("growing capacity should have woken the waiter")
	}
	release()
}

func TestReconfigureShrinkIsPassive(t *testing.T) {
	p := testPool(2)
	release1, _ := p.Acquire(context.Background(), "a", false)
	release2, _ := p.Acquire(context.Background(), "b", false)

	p.Reconfigure(1)
	if p.Capacity() != 1 {
		t.Fatalf("expected capacity 1, got %d", p.Capacity())
	}
	if p.InUse() != 2 {
		t.Fatalf("shrink should not evict already-running work, got InUse %d", p.InUse())
	}
	release1()
	release2()
}

func TestCancelJobRemovesQueuedWaiter(t *testing.T) {
	p := testPool(1)
	release, _ := p.Acquire(context.Background(), "a", false)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), "b", false)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	p.CancelJob("b")

	select {
	case <-errCh:
		t.Fatal("cancelled waiter should not have been granted a slot")
	case <-time.After(30 * time.Millisecond):
	}
	release()
}

func TestCancelJobInvokesRunningCancelFunc(t *testing.T) {
	p := testPool(1)
	cancelled := false
	ctx, cancel := context.WithCancel(context.Background())
	p.RegisterRunning("running-key", func() {
		cancelled = true
		cancel()
	})

	p.CancelJob("running-key")

	if !cancelled {
		t.Fatal("expected registered cancel function to be invoked")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected ctx to be cancelled")
	}
}

func TestUnregisterRunningPreventsLaterCancel(t *testing.T) {
	p := testPool(1)
	called := false
	p.RegisterRunning("k", func() { called = true })
	p.UnregisterRunning("k")
	p.CancelJob("k")
	if called {
		t.Fatal("cancel func should not be invoked after UnregisterRunning")
	}
}

func TestSignalIsNonBlockingAndCoalesces(t *testing.T) {
	p := testPool(1)
	p.Signal()
	p.Signal()
	select {
	case <-p.Signals():
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-p.Signals():
		t.Fatal("expected signal to coalesce into a single pending value")
	default:
	}
}
