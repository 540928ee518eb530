package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// ErrNoProxy is returned when the Dialer has no proxy address to talk to.
var ErrNoProxy = errors.New("tunnel: proxy address is empty")

//  ██████╗ ██╗ █████╗ ██╗     ███████╗██████╗
//  ██╔══██╗██║██╔══██╗██║     ██╔════╝██╔══██╗
//  ██║  ██║██║███████║██║     █████╗  ██████╔╝
//  ██║  ██║██║██╔══██║██║     ██╔══╝  ██╔══██╗
//  ██████╔╝██║██║  ██║███████╗███████╗██║  ██║
//  ╚═════╝ ╚═╝╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝
//

// ContextDialer is the subset of net.Dialer used to reach the proxy.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Dialer opens raw TCP streams to arbitrary targets through an HTTP proxy
// using the CONNECT method. The returned connection carries bytes unmodified
// between the caller and the target; any TLS or HTTP exchange is up to the
// caller.
type Dialer struct {
	// ProxyAddr is the proxy's host:port.
	ProxyAddr string
	// Timeout bounds dialing the proxy and the CONNECT exchange. Zero
	// means only the caller's context applies.
	Timeout time.Duration
	// UserAgent is sent with the CONNECT request when not empty.
	UserAgent string
	// Forward dials the proxy. Defaults to a zero net.Dialer.
	Forward ContextDialer
}

// StatusError reports a CONNECT request the proxy answered with anything
// other than 200.
type StatusError struct {
	Proxy      string
	Target     string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tunnel: CONNECT %s via %s failed with status: %s", e.Target, e.Proxy, e.Status)
}

// DialContext asks the proxy to open a tunnel to address and returns the
// tunneled connection once the proxy answers 200.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if d.ProxyAddr == "" {
		return nil, ErrNoProxy
	}

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	conn, err := d.forward().DialContext(ctx, network, d.ProxyAddr)
	if err != nil {
		return nil, err
	}

	// Unblock reads and writes when ctx is done during the handshake.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})

	tc, err := d.handshake(conn, address)
	if !stop() {
		conn.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	return tc, nil
}

func (d *Dialer) forward() ContextDialer {
	if d.Forward != nil {
		return d.Forward
	}
	return &net.Dialer{}
}

func (d *Dialer) handshake(conn net.Conn, address string) (net.Conn, error) {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: http.Header{},
	}
	req.Header.Set("Proxy-Connection", "Keep-Alive")
	if d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	}

	if err := req.Write(conn); err != nil {
		return nil, errors.Wrap(err, "tunnel: writing CONNECT request")
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, errors.Wrap(err, "tunnel: reading CONNECT response")
	}
	// The body of a CONNECT response is never read: after 200 the stream
	// belongs to the target, otherwise the connection is dropped.

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			Proxy:      d.ProxyAddr,
			Target:     address,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

// bufferedConn keeps bytes the proxy sent right after its CONNECT response.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
