package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordedSleeps struct {
	calls []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return ctx.Err()
}

func TestDoVal_ReturnsValueOnFirstAttempt(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), DefaultRetryConfig(), func(_ context.Context) (string, error) {
		calls++
		return "session", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "session" {
		t.Errorf("expected session, got %q", val)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_SuccessAfterRetry(t *testing.T) {
	sleeps := &recordedSleeps{}
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Sleep:          sleeps.sleep,
	}

	var calls int
	val, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("devtools not ready")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 42 {
		t.Errorf("expected 42, got %d", val)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(sleeps.calls) != len(want) || sleeps.calls[0] != want[0] || sleeps.calls[1] != want[1] {
		t.Errorf("expected sleeps %v, got %v", want, sleeps.calls)
	}
}

func TestDoVal_ExhaustsRetries(t *testing.T) {
	sleeps := &recordedSleeps{}
	cfg := RetryConfig{MaxAttempts: 3, Sleep: sleeps.sleep}

	var calls int
	val, err := DoVal(context.Background(), cfg, func(_ context.Context) (*int, error) {
		calls++
		return nil, errors.New("chrome crashed")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if val != nil {
		t.Errorf("expected zero value, got %v", val)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(sleeps.calls) != 2 {
		t.Errorf("expected no sleep after the last attempt, got %d sleeps", len(sleeps.calls))
	}
}

func TestDoVal_PermanentError_NoRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, Sleep: (&recordedSleeps{}).sleep}

	var calls int
	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, Permanent(errors.New("no browser installed"))
	})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_ContextCancelled_StopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 10, Sleep: (&recordedSleeps{}).sleep}

	var calls int
	_, err := DoVal(ctx, cfg, func(_ context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("launch interrupted")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call after cancel, got %d", calls)
	}
}

func TestDoVal_SleepInterrupted(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts: 5,
		Sleep: func(context.Context, time.Duration) error {
			return context.Canceled
		},
	}

	var calls int
	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("devtools not ready")
	})
	if err == nil || err.Error() != "devtools not ready" {
		t.Fatalf("expected last attempt error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_CustomShouldRetry(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts: 5,
		ShouldRetry: func(err error) bool { return err.Error() == "retry me" },
		Sleep:       (&recordedSleeps{}).sleep,
	}

	var calls int
	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("retry me")
		}
		return 0, errors.New("stop")
	})
	if err == nil || err.Error() != "stop" {
		t.Fatalf("expected stop, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDoVal_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := RetryConfig{
		MaxAttempts: 3,
		OnRetry:     func(attempt int, _ error) { attempts = append(attempts, attempt) },
		Sleep:       (&recordedSleeps{}).sleep,
	}

	_, _ = DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		return 0, errors.New("fail")
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("expected retries [1 2], got %v", attempts)
	}
}

func TestComputeBackoff_ExponentialGrowth(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for attempt, w := range want {
		if got := computeBackoff(attempt, cfg); got != w {
			t.Errorf("attempt %d: expected %v, got %v", attempt, w, got)
		}
	}
}

func TestComputeBackoff_CapsAtMax(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Second,
		Multiplier:     10.0,
	}
	if got := computeBackoff(3, cfg); got != 5*time.Second {
		t.Errorf("expected cap 5s, got %v", got)
	}
}

func TestComputeBackoff_WithJitter(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
	for i := 0; i < 100; i++ {
		got := computeBackoff(0, cfg)
		if got < 750*time.Millisecond || got > 1250*time.Millisecond {
			t.Fatalf("backoff %v outside jitter range", got)
		}
	}
}

func TestRetryLogger(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	RetryLogger(zap.New(core), "start browser")(2, errors.New("boom"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["operation"] != "start browser" {
		t.Errorf("unexpected operation field: %v", fields["operation"])
	}
	if fields["attempt"] != int64(2) {
		t.Errorf("unexpected attempt field: %v", fields["attempt"])
	}

	// A nil logger is tolerated.
	RetryLogger(nil, "noop")(1, errors.New("boom"))
}

func TestSleep_ReturnsAfterDuration(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSleep_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleep did not stop on cancel")
	}
}

func TestSleep_ZeroDuration(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
