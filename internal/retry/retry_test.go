package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func recordingExecutor(sleeps *[]time.Duration) *Executor {
	return &Executor{
		Base:   DefaultBase,
		Logger: zerolog.Nop(),
		Sleep: func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
	}
}

func TestDoRetryCap(t *testing.T) {
	var sleeps []time.Duration
	ex := recordingExecutor(&sleeps)

	calls := 0
	got, ok := Do(context.Background(), ex, 3, func(context.Context) (string, error) {
		calls++
		return "ignored", errors.New("boom")
	})

	if ok {
		t.Error("Do() ok = true after exhausting attempts")
	}
	if got != "" {
		t.Errorf("Do() = %q, want zero value", got)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", sleeps, want)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, sleeps[i], want[i])
		}
	}
}

func TestDoSucceedsAfterFailure(t *testing.T) {
	var sleeps []time.Duration
	ex := recordingExecutor(&sleeps)

	calls := 0
	got, ok := Do(context.Background(), ex, 3, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	if !ok || got != 42 {
		t.Errorf("Do() = (%d, %v), want (42, true)", got, ok)
	}
	if calls != 2 || len(sleeps) != 1 {
		t.Errorf("calls = %d, sleeps = %d; want 2 and 1", calls, len(sleeps))
	}
}

func TestDoCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, ok := Do(ctx, &Executor{Logger: zerolog.Nop()}, 3, func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	if ok || calls != 0 {
		t.Errorf("cancelled context: ok = %v, calls = %d", ok, calls)
	}
}

func TestDoStopsWhenSleepInterrupted(t *testing.T) {
	ex := &Executor{
		Logger: zerolog.Nop(),
		Sleep: func(context.Context, time.Duration) error {
			return context.Canceled
		},
	}
	calls := 0
	_, ok := Do(context.Background(), ex, 5, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if ok || calls != 1 {
		t.Errorf("ok = %v, calls = %d; want false and 1", ok, calls)
	}
}
