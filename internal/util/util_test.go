package util

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryIfStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("not found")
	attempts := 0

	err := RetryIf(context.Background(), RetryPolicy{MaxAttempts: 5}, func(err error) bool {
		return !errors.Is(err, permanent)
	}, func() error {
		attempts++
		return permanent
	})

	if !errors.Is(err, permanent) {
		t.Fatalf("RetryIf err = %v, want permanent", err)
	}
	if attempts != 1 {
		t.Errorf("RetryIf called fn %d times, want 1", attempts)
	}
}

func TestRetryIfHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := RetryIf(ctx, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}, nil, func() error {
		attempts++
		cancel()
		return errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RetryIf err = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("RetryIf called fn %d times, want 1", attempts)
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := p.Backoff(i); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker("ledger", 2, 30*time.Second, Discard())
	b.now = func() time.Time { return now }

	fail := errors.New("down")
	for i := 0; i < 2; i++ {
		if err := b.Do(nil, func() error { return fail }); !errors.Is(err, fail) {
			t.Fatalf("call %d err = %v, want fail", i, err)
		}
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	called := false
	if err := b.Do(nil, func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("open breaker must not call fn")
	}

	now = now.Add(31 * time.Second)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state after cooldown = %s, want half-open", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("first probe rejected: %v", err)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second concurrent probe err = %v, want ErrCircuitOpen", err)
	}
	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Fatalf("state after successful probe = %s, want closed", b.State())
	}
}

func TestCircuitBreakerIgnoresUncountedErrors(t *testing.T) {
	b := NewCircuitBreaker("quotes", 1, time.Minute, nil)
	notFound := errors.New("not found")
	counts := func(err error) bool { return !errors.Is(err, notFound) }

	for i := 0; i < 3; i++ {
		if err := b.Do(counts, func() error { return notFound }); !errors.Is(err, notFound) {
			t.Fatalf("err = %v, want notFound", err)
		}
	}
	if b.State() != BreakerClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	if !rl.Allow() || !rl.Allow() {
		t.Error("burst of 2 should allow two immediate calls")
	}
	if rl.Allow() {
		t.Error("third immediate call should be limited")
	}

	var unlimited *RateLimiter = NewRateLimiter(0, 0)
	if unlimited != nil {
		t.Fatal("perMinute 0 should disable limiting")
	}
	if err := unlimited.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter Wait: %v", err)
	}
}

func TestTradingCalendar(t *testing.T) {
	cal := NewTradingCalendar()
	loc := cal.Location()

	// Monday 2024-06-03.
	if !cal.IsMarketOpen(time.Date(2024, 6, 3, 10, 0, 0, 0, loc)) {
		t.Error("market should be open Monday 10:00")
	}
	if cal.IsMarketOpen(time.Date(2024, 6, 3, 16, 0, 0, 0, loc)) {
		t.Error("market should be closed at 16:00")
	}
	if cal.IsMarketOpen(time.Date(2024, 6, 1, 11, 0, 0, 0, loc)) {
		t.Error("market should be closed on Saturday")
	}

	// Friday evening -> Monday open.
	next := cal.NextOpen(time.Date(2024, 6, 7, 17, 0, 0, 0, loc))
	want := time.Date(2024, 6, 10, 9, 30, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("NextOpen = %v, want %v", next, want)
	}
	closeAt := cal.NextClose(time.Date(2024, 6, 3, 10, 0, 0, 0, loc))
	if !closeAt.Equal(time.Date(2024, 6, 3, 16, 0, 0, 0, loc)) {
		t.Errorf("NextClose = %v", closeAt)
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "warn", "json").Info("hidden")
	newLogger(&buf, "warn", "json").Warn("shown", "orderId", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(out, `"orderId":1`) {
		t.Errorf("json output missing attribute: %s", out)
	}

	buf.Reset()
	newLogger(&buf, "debug", "text").Debug("text line")
	if !strings.Contains(buf.String(), "msg=\"text line\"") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestTopN(t *testing.T) {
	got := TopN([]int{5, 1, 9, 3, 7, 9}, 3, func(a, b int) bool { return a < b })
	want := []int{9, 9, 7}
	if len(got) != len(want) {
		t.Fatalf("TopN = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TopN[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	if got := TopN([]int{1, 2}, 5, func(a, b int) bool { return a < b }); len(got) != 2 || got[0] != 2 {
		t.Errorf("TopN with n > len = %v", got)
	}
	if got := TopN([]int{1}, 0, func(a, b int) bool { return a < b }); got != nil {
		t.Errorf("TopN with n = 0 = %v, want nil", got)
	}
}
