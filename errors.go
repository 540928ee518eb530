package feedtines

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/grishkovelli/feedtines/pkg/tunnel"
	"github.com/pkg/errors"
)

// ErrNoEnabledProviders is returned by Resolve when the configuration has
// no provider left to try.
var ErrNoEnabledProviders = errors.New("no enabled providers")

// AllProvidersFailedError is returned by Resolve once every enabled
// provider failed. Individual failures are only logged.
type AllProvidersFailedError struct {
	Path     string
	Attempts int
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all %d enabled providers failed for %s", e.Attempts, e.Path)
}

// TunnelError reports a CONNECT request refused by the proxy.
type TunnelError struct {
	Target     string
	StatusCode int
	Status     string
}

func (e *TunnelError) Error() string {
	return fmt.Sprintf("CONNECT %s failed with status: %s", e.Target, e.Status)
}

// TransportError wraps connect, read and write failures.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TimeoutError reports an attempt that exceeded its deadline.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s: timeout after %s", e.URL, e.Timeout)
}

// HTTPStatusError reports a final response other than 200.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %s", e.Status)
}

// RedirectLoopError is returned when a redirect chain is longer than
// Config.MaxRedirects.
type RedirectLoopError struct {
	URL  string
	Hops int
}

func (e *RedirectLoopError) Error() string {
	return fmt.Sprintf("request %s: stopped after %d redirects", e.URL, e.Hops)
}

// classify maps an error returned while talking to rawURL onto the
// engine's failure types. ctx is the attempt context.
func classify(ctx context.Context, rawURL string, timeout time.Duration, err error) error {
	var se *tunnel.StatusError
	if errors.As(err, &se) {
		return &TunnelError{Target: se.Target, StatusCode: se.StatusCode, Status: se.Status}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{URL: rawURL, Timeout: timeout}
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{URL: rawURL, Timeout: timeout}
	}

	return &TransportError{URL: rawURL, Err: err}
}
