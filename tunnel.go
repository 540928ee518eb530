package feedtines

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/apex/log"
	"github.com/grishkovelli/feedtines/pkg/tunnel"
)

// connectTunnel returns a transport whose connections are CONNECT tunnels
// to u through the configured proxy. The transport performs the TLS
// handshake and the GET over the raw tunnel. agent is sent with CONNECT.
func (e *Engine) connectTunnel(u *url.URL, timeout time.Duration, agent string) *http.Transport {
	target := hostPort(u)
	d := &tunnel.Dialer{
		ProxyAddr: e.cfg.Proxy.address(),
		Timeout:   timeout,
		UserAgent: agent,
		Forward:   e.dialer,
	}

	return &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			e.logger(ctx).WithFields(log.Fields{
				"target": target,
				"proxy":  d.ProxyAddr,
			}).Info("establishing CONNECT tunnel")

			metricTunnelsCount.Inc()
			return d.DialContext(ctx, network, target)
		},
		TLSClientConfig:   e.tlsConfig.Clone(),
		DisableKeepAlives: true,
	}
}
