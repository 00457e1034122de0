// Package metrics exposes Prometheus counters for runs and upstream traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates run and upstream-request metrics. A nil *Collector is
// valid and records nothing, so library code can stay unconditional.
type Collector struct {
	registry *prometheus.Registry

	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	httpStatus      *prometheus.CounterVec
	retries         *prometheus.CounterVec
	reauths         prometheus.Counter
	facilities      prometheus.Counter
	recordsUpserted prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courtwatch_runs_total",
			Help: "Completed runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "courtwatch_run_duration_seconds",
			Help:    "Wall time of one full run.",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courtwatch_upstream_status_total",
			Help: "Upstream responses by HTTP status code.",
		}, []string{"status_code"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courtwatch_retries_total",
			Help: "Request retries by classified reason.",
		}, []string{"reason"}),
		reauths: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courtwatch_reauth_total",
			Help: "Re-authentication attempts triggered by 403s.",
		}),
		facilities: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courtwatch_facilities_probed_total",
			Help: "Facilities whose availability feed was probed.",
		}),
		recordsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courtwatch_records_upserted_total",
			Help: "Court records written to storage.",
		}),
	}
	reg.MustRegister(c.runs, c.runDuration, c.httpStatus, c.retries,
		c.reauths, c.facilities, c.recordsUpserted)
	return c
}

func (c *Collector) RecordRun(success bool, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.runs.WithLabelValues(outcome).Inc()
	c.runDuration.Observe(d.Seconds())
}

func (c *Collector) RecordHTTPStatus(code int) {
	if c == nil {
		return
	}
	c.httpStatus.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (c *Collector) RecordRetry(reason string) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordReauth() {
	if c == nil {
		return
	}
	c.reauths.Inc()
}

func (c *Collector) RecordFacilityProbed() {
	if c == nil {
		return
	}
	c.facilities.Inc()
}

func (c *Collector) RecordUpsert() {
	if c == nil {
		return
	}
	c.recordsUpserted.Inc()
}

// Handler serves the collector's registry, for mounting at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
