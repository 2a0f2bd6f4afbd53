package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

// startLoop runs the outermost loop on its own goroutine until the test ends.
func startLoop(t *testing.T, l *EventLoop) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := l.Run(); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		l.Close()
		<-done
	})
}

func TestEventLoopFIFO(t *testing.T) {
	l := NewEventLoop()
	startLoop(t, l)

	var order []int
	for i := 0; i < 100; i++ {
		i := i
		if err := l.SubmitFunc(func() { order = append(order, i) }); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	var got []int
	if err := l.Do(context.Background(), func() error {
		got = append(got, order...)
		return nil
	}); err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	if len(got) != 100 {
		t.Fatalf("expected 100 tasks, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestEventLoopImmediateLanePriority(t *testing.T) {
	l := NewEventLoop()

	var order []string
	record := func(name string) func() {
		return func() { order = append(order, name) }
	}

	_ = l.Submit(Task{Fn: record("a")})
	_ = l.Submit(Task{Fn: record("b")})
	_ = l.Submit(Task{Fn: record("i1"), Immediate: true})
	_ = l.Submit(Task{Fn: record("i2"), Immediate: true})

	startLoop(t, l)

	var got []string
	if err := l.Do(context.Background(), func() error {
		got = append(got, order...)
		return nil
	}); err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	want := []string{"i1", "i2", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestEventLoopNestedRunBreak(t *testing.T) {
	l := NewEventLoop()
	startLoop(t, l)

	result := make(chan any, 1)
	depth := make(chan int, 1)

	_ = l.SubmitFunc(func() {
		v, err := l.Run()
		if err != nil {
			result <- err
			return
		}
		result <- v
	})
	_ = l.SubmitFunc(func() {
		depth <- l.Depth()
		l.Break("resumed")
	})

	select {
	case d := <-depth:
		if d != 2 {
			t.Errorf("expected depth 2 inside nested run, got %d", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nested task never ran")
	}

	select {
	case v := <-result:
		if v != "resumed" {
			t.Errorf("expected nested run to return %q, got %v", "resumed", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nested run never returned")
	}
}

func TestEventLoopResumeOuterTokenWaitsForInner(t *testing.T) {
	l := NewEventLoop()
	startLoop(t, l)

	var events []string
	finished := make(chan []string, 1)
	outer := l.NewToken()

	_ = l.SubmitFunc(func() {
		v, _ := l.RunToken(outer)
		events = append(events, "outer:"+v.(string))
		finished <- append([]string(nil), events...)
	})
	_ = l.SubmitFunc(func() {
		v, _ := l.Run()
		events = append(events, "inner:"+v.(string))
	})
	_ = l.SubmitFunc(func() {
		l.Resume(outer, "a")
	})
	_ = l.SubmitFunc(func() {
		events = append(events, "still-inner")
		l.Break("b")
	})

	select {
	case got := <-finished:
		want := []string{"still-inner", "inner:b", "outer:a"}
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, got)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("outer run never returned")
	}
}

func TestEventLoopPreResolvedToken(t *testing.T) {
	l := NewEventLoop()
	startLoop(t, l)

	var got any
	err := l.Do(context.Background(), func() error {
		tok := l.NewToken()
		l.Resume(tok, 42)
		v, err := l.RunToken(tok)
		got = v
		return err
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %v", got)
	}
}

func TestEventLoopTokenInUse(t *testing.T) {
	l := NewEventLoop()
	startLoop(t, l)

	var innerErr error
	tok := l.NewToken()
	_ = l.SubmitFunc(func() {
		_, _ = l.RunToken(tok)
	})
	err := l.Do(context.Background(), func() error {
		_, innerErr = l.RunToken(tok)
		l.Resume(tok, nil)
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if !errors.Is(innerErr, ErrTokenInUse) {
		t.Errorf("expected ErrTokenInUse, got %v", innerErr)
	}
}

func TestEventLoopOutputSuppressed(t *testing.T) {
	l := NewEventLoop()
	startLoop(t, l)

	seen := make(chan bool, 2)
	_ = l.SubmitFunc(func() {
		seen <- l.OutputSuppressed()
		_, _ = l.Run(WithSuppressOutput())
	})
	_ = l.SubmitFunc(func() {
		seen <- l.OutputSuppressed()
		l.Break(nil)
	})

	if first := <-seen; first {
		t.Error("outer run should not suppress output")
	}
	if second := <-seen; !second {
		t.Error("nested run should suppress output")
	}
}

func TestEventLoopDo(t *testing.T) {
	l := NewEventLoop()
	startLoop(t, l)

	want := errors.New("boom")
	if err := l.Do(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}

	err := l.Do(context.Background(), func() error { panic("bad") })
	if err == nil {
		t.Error("expected panic to be converted to an error")
	}
}

func TestEventLoopDoCancelledBeforeStart(t *testing.T) {
	l := NewEventLoop()
	startLoop(t, l)

	release := make(chan struct{})
	_ = l.SubmitFunc(func() { <-release })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := l.Do(ctx, func() error {
		ran = true
		return nil
	})
	close(release)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	_ = l.Do(context.Background(), func() error { return nil })
	if ran {
		t.Error("cancelled task should not run")
	}
}

func TestEventLoopClose(t *testing.T) {
	l := NewEventLoop()

	runErr := make(chan error, 1)
	go func() {
		_, err := l.Run()
		runErr <- err
	}()

	l.Close()

	select {
	case err := <-runErr:
		if !errors.Is(err, ErrLoopClosed) {
			t.Errorf("expected ErrLoopClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	if err := l.SubmitFunc(func() {}); !errors.Is(err, ErrLoopClosed) {
		t.Errorf("expected ErrLoopClosed from Submit, got %v", err)
	}
	if !l.IsClosed() {
		t.Error("expected loop to report closed")
	}
}

func TestEventLoopSurvivesPanickingTask(t *testing.T) {
	l := NewEventLoop()
	startLoop(t, l)

	_ = l.SubmitFunc(func() { panic("task failure") })

	ran := false
	if err := l.Do(context.Background(), func() error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if !ran {
		t.Error("loop stopped after a panicking task")
	}
	if _, _, panicked := l.Stats(); panicked != 1 {
		t.Errorf("expected 1 panicked task, got %d", panicked)
	}
}
