package handlers

import (
	"testing"
	"time"
)

func TestWindowLimiterAllowsUpToLimit(t *testing.T) {
	now := time.Date(2024, time.June, 10, 15, 0, 0, 0, time.UTC)
	limiter := newWindowLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("cust_1") || !limiter.Allow("cust_1") {
		t.Fatalf("expected first two attempts to pass")
	}
	if limiter.Allow("cust_1") {
		t.Fatalf("expected third attempt to be throttled")
	}
	// Other callers have their own bucket.
	if !limiter.Allow("cust_2") {
		t.Fatalf("expected separate key to pass")
	}
}

func TestWindowLimiterResetsAfterWindow(t *testing.T) {
	now := time.Date(2024, time.June, 10, 15, 0, 0, 0, time.UTC)
	limiter := newWindowLimiter(1, time.Minute, func() time.Time { return now })

	if !limiter.Allow("cust_1") {
		t.Fatalf("expected first attempt to pass")
	}
	if limiter.Allow("cust_1") {
		t.Fatalf("expected second attempt to be throttled")
	}

	now = now.Add(time.Minute + time.Second)
	if !limiter.Allow("cust_1") {
		t.Fatalf("expected attempt to pass after window reset")
	}
}

func TestWindowLimiterAnonymousFallback(t *testing.T) {
	now := time.Date(2024, time.June, 10, 15, 0, 0, 0, time.UTC)
	limiter := newWindowLimiter(1, time.Minute, func() time.Time { return now })

	if !limiter.Allow("   ") {
		t.Fatalf("expected first anonymous attempt to pass")
	}
	if limiter.Allow("") {
		t.Fatalf("expected blank keys to share the anonymous bucket")
	}
}

func TestNewWindowLimiterDisabled(t *testing.T) {
	if limiter := newWindowLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatalf("expected nil limiter for zero limit")
	}
	if limiter := newWindowLimiter(5, 0, nil); limiter != nil {
		t.Fatalf("expected nil limiter for zero window")
	}
}
