package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestClassifyFetchError(t *testing.T) {
	t.Parallel()

	const target = "https://www.amazon.com.br/s?k=x"
	refused := &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
	}

	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{name: "ok", status: http.StatusOK, kind: "none"},
		{name: "non 2xx status", status: http.StatusServiceUnavailable, kind: "upstream"},
		{name: "deadline", err: fmt.Errorf("get: %w", context.DeadlineExceeded), kind: "timeout"},
		{name: "net timeout", err: timeoutNetError{}, kind: "timeout"},
		{name: "dns failure", err: &net.DNSError{Err: "no such host", Name: "x"}, kind: "connectivity"},
		{name: "dns timeout", err: &net.DNSError{Err: "timeout", Name: "x", IsTimeout: true}, kind: "timeout"},
		{name: "connection refused", err: refused, kind: "connectivity"},
		{name: "other", err: errors.New("tls handshake failure"), kind: "upstream"},
		{name: "already classified", err: ConnectivityError{Err: errors.New("x")}, kind: "connectivity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ClassifyFetchError(tt.err, tt.status, target)
			require.Equal(t, tt.kind, ErrorKind(got))
		})
	}
}

func TestClassifyFetchError_KeepsUnobservedStatusZero(t *testing.T) {
	t.Parallel()

	err := ClassifyFetchError(errors.New("boom"), 0, "https://example.com")

	var upstream UpstreamFetchError
	require.ErrorAs(t, err, &upstream)
	require.Zero(t, upstream.StatusCode)
	require.Equal(t, "https://example.com", upstream.URL)
	require.Equal(t, "upstream fetch failed: boom", err.Error())
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	require.Equal(t, "validation", ErrorKind(ValidationError{Reason: "x"}))
	require.Equal(t, "rate_limited", ErrorKind(fmt.Errorf("wrap: %w", RateLimitError{Limit: 1})))
	require.Equal(t, "internal", ErrorKind(errors.New("boom")))
}
