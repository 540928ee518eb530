package feedtines

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"
)

const acceptHeader = "application/rss+xml, application/xml, text/xml, */*"

// fetch retrieves feedURL, following redirects. Every hop goes through the
// tunnel decision again with the same useTunnel flag.
func (e *Engine) fetch(ctx context.Context, feedURL string, useTunnel bool) ([]byte, error) {
	target := feedURL

	for hops := 0; ; hops++ {
		body, location, err := e.fetchOnce(ctx, target, useTunnel)
		if err != nil {
			return nil, err
		}

		if location == "" {
			return body, nil
		}

		if hops >= e.cfg.MaxRedirects {
			return nil, &RedirectLoopError{URL: feedURL, Hops: hops}
		}

		next, err := resolveLocation(target, location)
		if err != nil {
			return nil, &TransportError{URL: target, Err: err}
		}

		e.logger(ctx).WithFields(log.Fields{
			"from": target,
			"to":   next,
		}).Info("redirecting")

		metricRedirectsCount.Inc()
		target = next
	}
}

// fetchOnce issues a single GET. It returns the body on 200 and the
// Location header on a redirect.
func (e *Engine) fetchOnce(ctx context.Context, rawURL string, useTunnel bool) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", &TransportError{URL: rawURL, Err: err}
	}

	tunneled := useTunnel && u.Scheme == "https"

	mode, timeout := "direct", e.cfg.timeout()
	if tunneled {
		mode, timeout = "tunnel", e.cfg.tunnelTimeout()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// One agent per hop, shared by the CONNECT request and the GET.
	agent := e.ua.get()

	var txp *http.Transport
	if tunneled {
		txp = e.connectTunnel(u, timeout, agent)
	} else {
		txp = e.connectDirect(ctx, u)
	}
	defer txp.CloseIdleConnections()

	client := &http.Client{
		Transport: txp,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", &TransportError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", agent)
	req.Header.Set("Accept", acceptHeader)

	startedAt := time.Now()
	defer func() {
		metricFetchDurationSeconds.WithLabelValues(mode).Observe(time.Since(startedAt).Seconds())
	}()

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", classify(ctx, rawURL, timeout, err)
	}
	defer resp.Body.Close()

	logger := e.logger(ctx)
	logger.WithFields(log.Fields{
		"url":    rawURL,
		"mode":   mode,
		"status": resp.StatusCode,
	}).Debug("response received")

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if location := resp.Header.Get("Location"); location != "" {
			return nil, location, nil
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, "", &HTTPStatusError{URL: rawURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", classify(ctx, rawURL, timeout, err)
	}

	logger.WithField("bytes", len(body)).Debug("body received")
	return body, "", nil
}

func resolveLocation(base, location string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	l, err := url.Parse(location)
	if err != nil {
		return "", errors.Wrap(err, "invalid Location header")
	}

	return b.ResolveReference(l).String(), nil
}
