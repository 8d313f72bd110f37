package publisher

import (
	"context"
	"fmt"
	"time"
)

// Request is everything a publisher needs for one attempt
type Request struct {
	ScheduleID  uint
	VideoPath   string
	Caption     string
	CookiesPath string
	Proxy       string
}

// Publisher performs one upload attempt. A nil error is success.
type Publisher interface {
	Publish(ctx context.Context, req Request) error
}

// PublishError is a failed attempt with a human-readable reason
type PublishError struct {
	Reason  string
	Timeout bool
	Err     error
}

func (e *PublishError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// TimeoutError reports an attempt that exceeded its ceiling
func TimeoutError(limit time.Duration) *PublishError {
	return &PublishError{
		Reason:  fmt.Sprintf("publish timed out after %s", limit),
		Timeout: true,
	}
}

// PanicError reports a publisher that panicked
func PanicError(v interface{}) *PublishError {
	return &PublishError{Reason: fmt.Sprintf("publisher panicked: %v", v)}
}

// PublisherFunc adapts a function to the Publisher interface
type PublisherFunc func(ctx context.Context, req Request) error

func (f PublisherFunc) Publish(ctx context.Context, req Request) error {
	return f(ctx, req)
}
