package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// NewHTTPClient returns a client whose every request is bounded by timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        32,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Retry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// Retry calls fn up to attempts times, sleeping initial between the first
// two tries and doubling up to max after that. Errors wrapped with
// Permanent stop the loop.
func Retry(ctx context.Context, attempts int, initial, max time.Duration, fn func() error) error {
	if attempts <= 1 {
		return unwrapPermanent(fn())
	}
	d := initial
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) || i == attempts-1 {
			return unwrapPermanent(err)
		}
		if d < max {
			d *= 2
			if d > max {
				d = max
			}
		}
	}
	return errors.New("retry: exhausted")
}

func unwrapPermanent(err error) error {
	var perm permanentError
	if errors.As(err, &perm) {
		return perm.err
	}
	return err
}
