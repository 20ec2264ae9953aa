package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ValidationError indicates the caller supplied a malformed keyword.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid keyword: %s", e.Reason)
}

// RateLimitError indicates the client exhausted its request quota.
type RateLimitError struct {
	Limit   int
	ResetAt time.Time
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: max %d requests per window", e.Limit)
}

// UpstreamFetchError indicates a non-2xx response or a protocol failure from
// the marketplace. StatusCode is the observed status, 0 when none was received.
type UpstreamFetchError struct {
	StatusCode int
	URL        string
	Err        error
}

func (e UpstreamFetchError) Error() string {
	if e.Err != nil && e.StatusCode == 0 {
		return fmt.Sprintf("upstream fetch failed: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("upstream fetch failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream fetch failed: HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func (e UpstreamFetchError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates the outbound fetch exceeded its deadline.
type TimeoutError struct {
	Err error
}

func (e TimeoutError) Error() string {
	return fmt.Errorf("upstream timeout: %w", e.Err).Error()
}

func (e TimeoutError) Unwrap() error {
	return e.Err
}

// ConnectivityError indicates DNS resolution failed or the connection was
// refused. The coordinator degrades these to the synthetic dataset.
type ConnectivityError struct {
	Err error
}

func (e ConnectivityError) Error() string {
	return fmt.Errorf("connectivity: %w", e.Err).Error()
}

func (e ConnectivityError) Unwrap() error {
	return e.Err
}

// ExtractionItemError wraps a failure to process a single result container.
type ExtractionItemError struct {
	Index int
	Err   error
}

func (e ExtractionItemError) Error() string {
	return fmt.Sprintf("extract container %d: %v", e.Index, e.Err)
}

func (e ExtractionItemError) Unwrap() error {
	return e.Err
}

// ClassifyFetchError maps a transport error or an HTTP status into the fetch
// error taxonomy. It returns nil when err is nil and the status is 2xx.
func ClassifyFetchError(err error, statusCode int, url string) error {
	if err == nil {
		if statusCode >= 200 && statusCode < 300 {
			return nil
		}
		return UpstreamFetchError{StatusCode: statusCode, URL: url}
	}

	var (
		timeout TimeoutError
		conn    ConnectivityError
		up      UpstreamFetchError
	)
	if errors.As(err, &timeout) || errors.As(err, &conn) || errors.As(err, &up) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError{Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return TimeoutError{Err: err}
		}
		return ConnectivityError{Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ConnectivityError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimeoutError{Err: err}
	}
	return UpstreamFetchError{StatusCode: statusCode, URL: url, Err: err}
}

// ErrorKind returns a short label for metrics and logs.
func ErrorKind(err error) string {
	if err == nil {
		return "none"
	}
	var (
		validation ValidationError
		limited    RateLimitError
		timeout    TimeoutError
		conn       ConnectivityError
		upstream   UpstreamFetchError
	)
	switch {
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &limited):
		return "rate_limited"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &conn):
		return "connectivity"
	case errors.As(err, &upstream):
		return "upstream"
	default:
		return "internal"
	}
}
