package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(2, 10*time.Millisecond, 100*time.Millisecond)
	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil", err: nil, attempt: 1, want: false},
		{name: "server error", err: &StatusError{Code: 503}, attempt: 1, want: true},
		{name: "too many requests", err: &StatusError{Code: 429}, attempt: 1, want: true},
		{name: "not found", err: &StatusError{Code: 404}, attempt: 1, want: false},
		{name: "attempts exhausted", err: &StatusError{Code: 503}, attempt: 2, want: false},
		{name: "attempt deadline", err: fmt.Errorf("colly fetch canceled: %w", context.DeadlineExceeded), attempt: 1, want: true},
		{name: "canceled", err: context.Canceled, attempt: 1, want: false},
		{name: "connection reset", err: &url.Error{Op: "Get", URL: "x", Err: syscall.ECONNRESET}, attempt: 1, want: true},
		{name: "net timeout", err: &url.Error{Op: "Get", URL: "x", Err: timeoutErr{}}, attempt: 1, want: true},
		{name: "parse failure", err: errors.New("bad markup"), attempt: 1, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, p.ShouldRetry(tt.err, tt.attempt))
		})
	}
}

func TestExponentialRetryPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 100*time.Millisecond, 300*time.Millisecond)
	for attempt := 1; attempt <= 5; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestNewExponentialRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(0, 0, 0)
	assert.Equal(t, 2, p.MaxAttempts())
}
