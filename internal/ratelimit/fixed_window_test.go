package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowLimiterEnforcesLimit(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:rl", 2, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	if !limiter.Allow("user-1") {
		t.Fatalf("first call should pass")
	}
	if !limiter.Allow("user-1") {
		t.Fatalf("second call should pass")
	}
	if limiter.Allow("user-1") {
		t.Fatalf("third call should be rejected")
	}

	// Keys are per caller.
	if !limiter.Allow("user-2") {
		t.Fatalf("another caller should have their own quota")
	}
}

func TestFixedWindowLimiterFailsClosed(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:rl", 10, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	redis.Close()

	if limiter.Allow("user-1") {
		t.Fatalf("limiter should fail closed when redis is unreachable")
	}
}

func TestFixedWindowLimiterValidation(t *testing.T) {
	if _, err := NewRedisFixedWindowLimiter("localhost:6379", "", "", 0, time.Minute); err == nil {
		t.Fatalf("expected error for non-positive limit")
	}
	if _, err := NewRedisFixedWindowLimiter("localhost:6379", "", "", 1, 0); err == nil {
		t.Fatalf("expected error for non-positive window")
	}
	if _, err := NewRedisFixedWindowLimiter("", "", "", 1, time.Minute); err == nil {
		t.Fatalf("expected error for missing redis addr")
	}
}
