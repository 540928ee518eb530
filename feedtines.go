// Package feedtines serves feed documents fetched from an ordered list of
// upstream providers, failing over from one provider to the next and
// optionally reaching https providers through an HTTP proxy via CONNECT
// tunnels.
package feedtines

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/apex/log"
)

// Engine resolves feed paths against the configured providers. It is safe
// for concurrent use; the only state it mutates is its statistics.
type Engine struct {
	cfg       *Config
	log       log.Interface
	dialer    *net.Dialer
	tlsConfig *tls.Config
	ua        *userAgent
	stat      *Stat
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger used when the request context carries none.
func WithLogger(l log.Interface) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithTLSConfig sets the TLS configuration used for https providers.
func WithTLSConfig(c *tls.Config) Option {
	return func(e *Engine) {
		e.tlsConfig = c
	}
}

// WithDialer sets the dialer used to reach providers and the proxy.
func WithDialer(d *net.Dialer) Option {
	return func(e *Engine) {
		e.dialer = d
	}
}

// New returns an Engine serving cfg. cfg must not be modified afterwards.
func New(cfg *Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		log:    log.Log,
		dialer: &net.Dialer{},
		ua:     &userAgent{agents: cfg.UserAgents},
		stat:   newStat(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Config returns the engine configuration. Callers must not modify it.
func (e *Engine) Config() *Config {
	return e.cfg
}

// Stat returns the engine statistics.
func (e *Engine) Stat() *Stat {
	return e.stat
}

type loggerKey struct{}

// withLogger returns a copy of ctx carrying l.
func withLogger(ctx context.Context, l log.Interface) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// logger returns the logger stored in ctx, falling back to the engine's.
func (e *Engine) logger(ctx context.Context) log.Interface {
	if l, ok := ctx.Value(loggerKey{}).(log.Interface); ok {
		return l
	}
	return e.log
}

// LogPlan writes the provider plan the way it is applied to requests.
func (e *Engine) LogPlan() {
	for _, p := range e.cfg.Providers {
		e.log.WithFields(log.Fields{
			"provider": p.URL,
			"enabled":  p.Enabled,
			"proxy":    p.useTunnel(e.cfg.Proxy.Enabled),
		}).Info("provider")
	}

	if e.cfg.Proxy.Enabled {
		e.log.WithField("address", e.cfg.Proxy.address()).Info("global proxy enabled")
	} else {
		e.log.Info("global proxy disabled")
	}
}
