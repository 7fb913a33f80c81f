// Package metrics exposes Prometheus instrumentation for the link injector
// and the rewriting proxy. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the hublinks collectors.
type Recorder struct {
	reg             *prom.Registry
	injections      *prom.CounterVec
	resolveDuration prom.Histogram
	proxyRequests   *prom.CounterVec
}

// New constructs and registers the collectors on reg. A nil reg gets a fresh registry.
func New(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		reg: reg,
		injections: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "hublinks",
			Name:      "inject_total",
			Help:      "Link injections by outcome (hit, miss or skip reason)",
		}, []string{"outcome"}),
		resolveDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "hublinks",
			Name:      "resolve_duration_seconds",
			Help:      "Duration of hierarchy resolution on cache miss",
			Buckets:   prom.DefBuckets,
		}),
		proxyRequests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "hublinks",
			Name:      "proxy_requests_total",
			Help:      "Proxied responses by whether the body was rewritten",
		}, []string{"rewritten"}),
	}
	reg.MustRegister(r.injections, r.resolveDuration, r.proxyRequests)
	return r
}

// IncInject counts one injector outcome.
func (r *Recorder) IncInject(outcome string) {
	if r == nil {
		return
	}
	r.injections.WithLabelValues(outcome).Inc()
}

// ObserveResolve records the time spent resolving hierarchy.
func (r *Recorder) ObserveResolve(d time.Duration) {
	if r == nil {
		return
	}
	r.resolveDuration.Observe(d.Seconds())
}

// IncProxy counts one proxied response.
func (r *Recorder) IncProxy(rewritten bool) {
	if r == nil {
		return
	}
	label := "false"
	if rewritten {
		label = "true"
	}
	r.proxyRequests.WithLabelValues(label).Inc()
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
