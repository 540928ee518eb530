package feedtines

import (
	"context"
	"net"
	"net/http"
	"net/url"
)

// connectDirect returns a transport reaching u without any proxy. TLS is
// layered on top when u is https.
func (e *Engine) connectDirect(ctx context.Context, u *url.URL) *http.Transport {
	addr := hostPort(u)

	e.logger(ctx).WithField("address", addr).Debug("connecting directly")

	return &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return e.dialer.DialContext(ctx, network, addr)
		},
		TLSClientConfig:   e.tlsConfig.Clone(),
		DisableKeepAlives: true,
	}
}
