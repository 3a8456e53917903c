// Package metrics owns the Prometheus registry shared by one function host.
//
// A single Registry is built per runtime and handed to every package that
// records metrics: rcupdate counts invocations by outcome and times template
// fetches, and the server counts HTTP requests per route. All of them take the
// registry's namespace so series read as rcfn_invocations_total,
// rcfn_http_requests_total and so on. /metrics serves the same registry.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace is the series prefix when none is configured.
const DefaultNamespace = "rcfn"

// Option configures behaviour of a Registry.
type Option func(*options)

type options struct {
	namespace                 string
	registerDefaultCollectors bool
}

// WithNamespace changes the series prefix, e.g. to run two hosts in one process.
func WithNamespace(namespace string) Option {
	return func(o *options) {
		o.namespace = strings.TrimSpace(namespace)
	}
}

// WithoutDefaultCollectors skips the Go runtime and process collectors so a
// scrape only contains rcfn series.
func WithoutDefaultCollectors() Option {
	return func(o *options) {
		o.registerDefaultCollectors = false
	}
}

// Registry is the per-host registry. A nil *Registry is valid and records nothing.
type Registry struct {
	namespace string
	registry  *prometheus.Registry
}

// NewRegistry builds a registry under DefaultNamespace with the Go and
// process collectors registered.
func NewRegistry(opts ...Option) *Registry {
	settings := options{
		namespace:                 DefaultNamespace,
		registerDefaultCollectors: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	reg := prometheus.NewRegistry()
	if settings.registerDefaultCollectors {
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	return &Registry{
		namespace: settings.namespace,
		registry:  reg,
	}
}

// Namespace is the prefix collectors should pass as their Namespace option.
func (r *Registry) Namespace() string {
	if r == nil {
		return ""
	}
	return r.namespace
}

// Handler serves the registry for the /metrics route.
func (r *Registry) Handler() http.Handler {
	if r == nil || r.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Register adds c. A duplicate series name is a wiring bug, so it panics.
func (r *Registry) Register(c prometheus.Collector) {
	if r == nil || r.registry == nil || c == nil {
		return
	}
	r.registry.MustRegister(c)
}

// Raw exposes the Prometheus registry, mainly for testutil assertions.
func (r *Registry) Raw() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}
