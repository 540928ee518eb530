package feedtines

import (
	"context"

	"github.com/apex/log"
)

// Resolve fetches relPath from the first enabled provider able to serve
// it. Providers are tried one at a time in configured order; a failure is
// logged and the next provider is tried.
func (e *Engine) Resolve(ctx context.Context, relPath string) ([]byte, error) {
	logger := e.logger(ctx).WithField("path", relPath)
	providers := e.cfg.enabledProviders()
	if len(providers) == 0 {
		logger.Error("no enabled providers available")
		return nil, ErrNoEnabledProviders
	}

	for _, p := range providers {
		useTunnel := p.useTunnel(e.cfg.Proxy.Enabled)
		plog := logger.WithFields(log.Fields{
			"provider": p.URL,
			"proxy":    useTunnel,
		})
		pctx := withLogger(ctx, plog)

		plog.Info("trying provider")

		ps := e.stat.provider(p.URL)
		startedAt := ps.start()

		body, err := e.fetch(pctx, p.feedURL(relPath), useTunnel)
		ps.finish(startedAt, err)

		if err != nil {
			metricAttemptsCount.WithLabelValues(p.URL, "failure").Inc()
			plog.WithError(err).Error("failed to fetch from provider")
			continue
		}

		metricAttemptsCount.WithLabelValues(p.URL, "success").Inc()
		plog.WithField("bytes", len(body)).Info("fetched from provider")
		return body, nil
	}

	logger.Error("all enabled providers failed")
	return nil, &AllProvidersFailedError{Path: relPath, Attempts: len(providers)}
}
