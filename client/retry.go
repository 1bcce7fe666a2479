package client

import (
	"errors"
	"time"

	"lucid-rpc/message"
	"lucid-rpc/transport"
)

// RetryPolicy decides whether a failed call is sent again.
//
// A call is retried when it never reached a server (ErrUnavailable), or when
// it is marked idempotent and failed with a timeout or a lost connection. Any
// response from the server, including an error response, is final.
type RetryPolicy struct {
	MaxRetries int           // retries after the first attempt; 0 disables retrying
	BaseDelay  time.Duration // delay before the first retry, doubled each time
	MaxDelay   time.Duration // cap on the delay; 0 = no cap
}

// DefaultRetryPolicy retries twice, waiting 50ms then 100ms.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 2, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}

// ShouldRetry reports whether attempt (0-based) may be followed by another one.
func (p RetryPolicy) ShouldRetry(attempt int, meta message.Meta, err error) bool {
	if err == nil || attempt >= p.MaxRetries {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	if !meta.Idempotent {
		return false
	}
	return errors.Is(err, transport.ErrTimeout) || errors.Is(err, transport.ErrConnectionLost)
}

// Backoff returns the delay before retry number attempt+1: BaseDelay * 2^attempt,
// capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt && d > 0; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			break
		}
	}
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		d = p.MaxDelay
	}
	return d
}
