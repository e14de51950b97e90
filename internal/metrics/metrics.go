// Package metrics exposes Prometheus collectors for the scraper.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperPagesTotal         *prometheus.CounterVec
	scraperAdsTotal           *prometheus.CounterVec
	scraperCaptchaTotal       prometheus.Counter
	scraperRateLimitTotal     prometheus.Counter
	scraperPacingDelaySeconds prometheus.Histogram
	scraperAnomalyWaitSeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pages_total",
				Help: "Total pages fetched, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scraperAdsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_ads_total",
				Help: "Total ad records extracted, labeled by target.",
			},
			[]string{"target"},
		)

		scraperCaptchaTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_captcha_encounters_total",
				Help: "Total CAPTCHA challenges encountered.",
			},
		)

		scraperRateLimitTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_rate_limit_total",
				Help: "Total rate-limit detections.",
			},
		)

		scraperPacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_pacing_delay_seconds",
				Help:    "Histogram of adaptive inter-request pacing sleeps.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		scraperAnomalyWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_anomaly_wait_seconds",
				Help:    "Histogram of cooldown waits after anomalies.",
				Buckets: []float64{10, 30, 60, 90, 120, 300},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one fetched page with the given outcome
// ("success", "driver_failure", "captcha_timeout", "rate_limited", "timeout").
func ObservePage(outcome string) {
	if scraperPagesTotal == nil {
		return
	}
	scraperPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveAds counts extracted records for a target.
func ObserveAds(target string, n int) {
	if scraperAdsTotal == nil || n <= 0 {
		return
	}
	scraperAdsTotal.WithLabelValues(target).Add(float64(n))
}

// ObserveCaptcha counts one CAPTCHA encounter.
func ObserveCaptcha() {
	if scraperCaptchaTotal == nil {
		return
	}
	scraperCaptchaTotal.Inc()
}

// ObserveRateLimit counts one rate-limit detection.
func ObserveRateLimit() {
	if scraperRateLimitTotal == nil {
		return
	}
	scraperRateLimitTotal.Inc()
}

// ObservePacingDelay records how long a pacing sleep lasted.
func ObservePacingDelay(d time.Duration) {
	if scraperPacingDelaySeconds == nil {
		return
	}
	scraperPacingDelaySeconds.Observe(d.Seconds())
}

// ObserveAnomalyWait records how long an anomaly cooldown lasted.
func ObserveAnomalyWait(d time.Duration) {
	if scraperAnomalyWaitSeconds == nil {
		return
	}
	scraperAnomalyWaitSeconds.Observe(d.Seconds())
}
