package watcher

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubSource struct {
	fp  string
	err error
}

func (s *stubSource) Fingerprint(context.Context) (string, error) { return s.fp, s.err }

func TestPollRunsOnChange(t *testing.T) {
	ctx := context.Background()
	src := &stubSource{fp: "a"}
	runs := 0
	w := New(src, time.Minute, func(context.Context) error {
		runs++
		return nil
	})

	if ran, err := w.Poll(ctx); err != nil || !ran {
		t.Fatalf("first poll should run: %v, %v", ran, err)
	}
	if ran, _ := w.Poll(ctx); ran {
		t.Error("unchanged source should not run")
	}
	src.fp = "b"
	if ran, _ := w.Poll(ctx); !ran {
		t.Error("changed source should run")
	}
	if runs != 2 {
		t.Errorf("expected 2 runs, got %d", runs)
	}
}

func TestPollRetriesFailedRun(t *testing.T) {
	ctx := context.Background()
	fail := true
	runs := 0
	w := New(&stubSource{fp: "a"}, time.Minute, func(context.Context) error {
		runs++
		if fail {
			return errors.New("boom")
		}
		return nil
	})

	if _, err := w.Poll(ctx); err == nil {
		t.Fatal("expected run error")
	}
	fail = false
	if ran, err := w.Poll(ctx); !ran || err != nil {
		t.Errorf("failed run should be retried: %v, %v", ran, err)
	}
	if runs != 2 {
		t.Errorf("expected 2 attempts, got %d", runs)
	}
}

func TestPollFingerprintError(t *testing.T) {
	w := New(&stubSource{err: errors.New("unreachable")}, time.Minute, func(context.Context) error {
		t.Error("run should not be called")
		return nil
	})
	if _, err := w.Poll(context.Background()); err == nil {
		t.Error("expected fingerprint error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	ran := make(chan struct{}, 1)

	w := New(&stubSource{fp: "a"}, 10*time.Millisecond, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})
	go func() { done <- w.Run(ctx) }()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not run")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
