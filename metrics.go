package feedtines

//
// Metrics definitions
//

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricRequestsCount counts the inbound requests we served.
	metricRequestsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedtines_requests_count",
		Help: "Total number of inbound feed requests by response code",
	}, []string{"code"})

	// metricAttemptsCount counts provider attempts by outcome.
	metricAttemptsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedtines_provider_attempts_count",
		Help: "Total number of provider fetch attempts",
	}, []string{"provider", "result"})

	// metricTunnelsCount counts CONNECT tunnels we tried to open.
	metricTunnelsCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedtines_tunnels_count",
		Help: "Total number of CONNECT tunnels requested from the proxy",
	})

	// metricRedirectsCount counts redirects we followed.
	metricRedirectsCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedtines_redirects_count",
		Help: "Total number of followed redirects",
	})

	// metricFetchDurationSeconds summarizes single GET round trips.
	metricFetchDurationSeconds = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "feedtines_fetch_duration_seconds",
		Help: "Summarizes the time to complete a single upstream GET (in seconds)",
		Objectives: map[float64]float64{
			0.5:  0.010,
			0.9:  0.010,
			0.99: 0.001,
		},
	}, []string{"mode"})
)
