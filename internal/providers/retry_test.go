package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

// TestRetryDoSucceedsAfterRetryable retries 5xx errors until success.
func TestRetryDoSucceedsAfterRetryable(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	calls := 0

	result, err := RetryDo(context.Background(), cfg, func() (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPError{Status: http.StatusBadGateway}
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("RetryDo: %v", err)
	}
	if result != "done" || calls != 3 {
		t.Errorf("result = %q after %d calls, want done after 3", result, calls)
	}
}

// TestRetryDoGivesUp stops after MaxRetries and returns the last error.
func TestRetryDoGivesUp(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0

	_, err := RetryDo(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, &HTTPError{Status: http.StatusServiceUnavailable}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", calls)
	}
}

// TestRetryDoNonRetryable returns immediately for plain errors and 4xx.
func TestRetryDoNonRetryable(t *testing.T) {
	cfg := DefaultRetryConfig()

	tests := []struct {
		name string
		err  error
	}{
		{"plain error", errors.New("boom")},
		{"bad request", &HTTPError{Status: http.StatusBadRequest}},
		{"unauthorized", &HTTPError{Status: http.StatusUnauthorized}},
	}
	for _, tt := range tests {
		calls := 0
		_, err := RetryDo(context.Background(), cfg, func() (int, error) {
			calls++
			return 0, tt.err
		})
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
		if calls != 1 {
			t.Errorf("%s: calls = %d, want 1", tt.name, calls)
		}
	}
}

// TestParseRetryAfter covers delta-seconds parsing.
func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"0", 0},
		{"-3", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := ParseRetryAfter(tt.in); got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestHTTPErrorRetryable classifies status codes.
func TestHTTPErrorRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		e := &HTTPError{Status: tt.status}
		if e.Retryable() != tt.want {
			t.Errorf("Retryable(%d) = %v, want %v", tt.status, e.Retryable(), tt.want)
		}
	}
}
