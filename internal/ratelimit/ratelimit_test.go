package ratelimit

import (
	"testing"
	"time"
)

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"ERROR: You've hit your usage limit. Upgrade to Pro", true},
		{"quota exceeded for this month", true},
		{"rate limit: too many requests", true},
		{"Usage Limit Reached", true},
		{"insufficient credits to complete this request", true},
		{"upgrade to pro to continue", true},
		{"billing issue on account", true},
		{"your subscription has lapsed", true},
		{"connection timeout", false},
		{"HTTP 502: bad gateway", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsRateLimited(tt.msg); got != tt.want {
			t.Errorf("IsRateLimited(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestClassify_Deterministic(t *testing.T) {
	msg := "rate limit hit, retry after 2025-12-05 16:05:00"
	first := Classify(msg)
	for i := 0; i < 5; i++ {
		again := Classify(msg)
		if again.RateLimited != first.RateLimited {
			t.Fatal("expected identical classification for identical input")
		}
	}
}

func TestClassify_NotLimitedHasNoRetry(t *testing.T) {
	info := Classify("connection timeout, try again at 2025-12-05T16:05:00Z")
	if info.RateLimited {
		t.Fatal("connection timeout should not be rate limited")
	}
	if info.RetryAt != nil {
		t.Errorf("expected nil retry time, got %v", info.RetryAt)
	}
}

func TestClassify_RetryTimeFormats(t *testing.T) {
	want := time.Date(2025, 12, 5, 16, 5, 0, 0, time.UTC)
	tests := []string{
		"usage limit reached. try again at 2025-12-05T16:05:00Z",
		"quota exceeded, retry after 2025-12-05 16:05:00",
		"rate limit: available at 2025-12-05T16:05:00.",
		"You've hit your usage limit, try again at Dec 5th, 2025 4:05 PM.",
		"credits exhausted, reset at December 5, 2025 4:05 PM",
	}
	for _, msg := range tests {
		info := Classify(msg)
		if !info.RateLimited {
			t.Errorf("%q: expected rate limited", msg)
			continue
		}
		if info.RetryAt == nil {
			t.Errorf("%q: expected retry time", msg)
			continue
		}
		if !info.RetryAt.Equal(want) {
			t.Errorf("%q: expected %v, got %v", msg, want, *info.RetryAt)
		}
	}
}

func TestClassify_UnparseableRetry(t *testing.T) {
	info := Classify("usage limit reached, try again at some point soon")
	if !info.RateLimited {
		t.Fatal("expected rate limited")
	}
	if info.RetryAt != nil {
		t.Errorf("expected unknown retry time, got %v", *info.RetryAt)
	}
	if info.Message == "" {
		t.Error("expected message to be carried")
	}
}
