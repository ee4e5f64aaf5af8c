package httpx

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "burstguard",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		r.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "burstguard",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"})

		r.rateLimitHits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "burstguard",
			Subsystem: "http",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route", "key"})

		r.checkTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "burstguard",
			Subsystem: "detector",
			Name:      "checks_total",
			Help:      "Outbound checks by verdict and confidence",
		}, []string{"verdict", "confidence"})

		r.blockTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "burstguard",
			Subsystem: "detector",
			Name:      "blocks_total",
			Help:      "Checks that instructed the pipeline to suppress the send",
		})

		r.scanResults = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "burstguard",
			Subsystem: "detector",
			Name:      "scan_results_total",
			Help:      "Reconciliation scan outcomes",
		}, []string{"kind"})

		collectors := []prometheus.Collector{
			r.requestTotal, r.requestLatency, r.rateLimitHits,
			r.checkTotal, r.blockTotal, r.scanResults,
		}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						switch collector {
						case r.requestTotal:
							r.requestTotal = v
						case r.rateLimitHits:
							r.rateLimitHits = v
						case r.checkTotal:
							r.checkTotal = v
						case r.scanResults:
							r.scanResults = v
						}
					case *prometheus.HistogramVec:
						r.requestLatency = v
					case prometheus.Counter:
						r.blockTotal = v
					}
				}
			}
		}
		r.metricsInitialized = true
	})
}

func (r *Router) recordRequestMetrics(method, route string, status int, duration time.Duration) {
	if !r.metricsInitialized {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.requestTotal.With(labels).Inc()
	r.requestLatency.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordRateLimitHit(route, key string) {
	if !r.metricsInitialized {
		return
	}
	r.rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}

func (r *Router) recordCheck(isBurst, shouldBlock bool, confidence string) {
	if !r.metricsInitialized {
		return
	}
	verdict := "clear"
	if isBurst {
		verdict = "burst"
	}
	r.checkTotal.With(prometheus.Labels{"verdict": verdict, "confidence": confidence}).Inc()
	if shouldBlock {
		r.blockTotal.Inc()
	}
}

func (r *Router) recordScan(newIncidents, autoResolved, errs int) {
	if !r.metricsInitialized {
		return
	}
	r.scanResults.With(prometheus.Labels{"kind": "new_incident"}).Add(float64(newIncidents))
	r.scanResults.With(prometheus.Labels{"kind": "auto_resolved"}).Add(float64(autoResolved))
	r.scanResults.With(prometheus.Labels{"kind": "error"}).Add(float64(errs))
}
