package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

func TestBackoff(t *testing.T) {
	for attempt := 0; attempt < 8; attempt++ {
		base := time.Second << uint(attempt)
		if base > MaxBackoff {
			base = MaxBackoff
		}
		d := Backoff(time.Second, attempt)
		if d < base || d > base+base/2 {
			t.Errorf("attempt %d: expected %v..%v, got %v", attempt, base, base+base/2, d)
		}
	}
	if d := Backoff(0, 3); d != 0 {
		t.Errorf("expected zero delay for zero base, got %v", d)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable", &RetryableError{StatusCode: 429}, true},
		{"wrapped retryable", fmt.Errorf("call: %w", &RetryableError{StatusCode: 503}), true},
		{"network", errors.New("connection refused"), true},
		{"unauthorized", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}, false},
		{"bad request", fmt.Errorf("chat completion: %w", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}), false},
		{"not found", &openai.RequestError{HTTPStatusCode: http.StatusNotFound, Err: errors.New("404")}, false},
		{"cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
