package future

import (
	"errors"
	"testing"
	"time"
)

func TestSetValueCompletes(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()
	if f.State() != Running {
		t.Fatalf("fresh future state = %v", f.State())
	}
	p.SetValue(42)
	if f.State() != FinishedWithValue {
		t.Errorf("state = %v", f.State())
	}
	if f.Value() != 42 {
		t.Errorf("Value() = %d", f.Value())
	}
	if f.Err() != nil {
		t.Errorf("Err() = %v", f.Err())
	}
}

func TestSetErrorCompletes(t *testing.T) {
	boom := errors.New("boom")
	p := NewPromise[int]()
	p.SetError(boom)
	if err := p.Future().Err(); err != boom {
		t.Errorf("Err() = %v", err)
	}
}

func TestCompleteTwiceIsNoOp(t *testing.T) {
	p := NewPromise[int]()
	p.SetValue(1)
	p.SetValue(2)
	p.SetError(errors.New("late"))
	f := p.Future()
	if f.Value() != 1 || f.Err() != nil {
		t.Error("only the first completion counts")
	}
}

func TestCancelRunsHook(t *testing.T) {
	p := NewPromise[int]()
	hookRan := false
	p.OnCancel(func() { hookRan = true })
	f := p.Future()
	f.Cancel()
	if f.State() != CancelledState {
		t.Errorf("state = %v", f.State())
	}
	if f.Err() != ErrCancelled {
		t.Errorf("Err() = %v", f.Err())
	}
	if !hookRan {
		t.Error("cancel hook must run")
	}
	// A racing completion after cancellation is dropped.
	p.SetValue(9)
	if f.State() != CancelledState {
		t.Error("completion after cancel must not change state")
	}
}

func TestCancelAfterCompletionIsNoOp(t *testing.T) {
	p := NewPromise[int]()
	p.SetValue(5)
	f := p.Future()
	f.Cancel()
	if f.State() != FinishedWithValue || f.Value() != 5 {
		t.Error("cancel after completion must not change the result")
	}
}

func TestWaitTimeout(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()
	if err := f.Wait(10 * time.Millisecond); err != ErrTimeout {
		t.Errorf("Wait on a pending future = %v", err)
	}
	p.SetValue(1)
	if err := f.Wait(time.Second); err != nil {
		t.Errorf("Wait after completion = %v", err)
	}
}

func TestThenRunsOnCompletion(t *testing.T) {
	p := NewPromise[string]()
	f := p.Future()
	done := make(chan string, 1)
	f.Then(func(f *Future[string]) { done <- f.Value() })
	p.SetValue("hi")
	select {
	case v := <-done:
		if v != "hi" {
			t.Errorf("continuation saw %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("continuation never ran")
	}

	// Registering on a terminal future runs immediately.
	ran := false
	f.Then(func(*Future[string]) { ran = true })
	if !ran {
		t.Error("continuation on terminal future must run inline")
	}
}

func TestWaitFromAnotherGoroutine(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()
	go func() {
		time.Sleep(5 * time.Millisecond)
		p.SetValue(7)
	}()
	if f.Value() != 7 {
		t.Error("cross-goroutine completion lost")
	}
}
