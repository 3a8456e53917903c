// Package rcupdate implements testFunctionRemoteConfigUpdate, the callable
// used by the SDK's remote-config integration tests. It fetches the current
// template, logs it, and always settles with the placeholder value.
package rcupdate

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/theroutercompany/rcfunctions/internal/callable"
	"github.com/theroutercompany/rcfunctions/internal/remoteconfig"
	pkglog "github.com/theroutercompany/rcfunctions/pkg/log"
	"github.com/theroutercompany/rcfunctions/pkg/metrics"
)

// Placeholder is the value every invocation settles with.
const Placeholder = "not implemented"

// AppProvider supplies the initialised configuration-service accessor.
type AppProvider interface {
	RemoteConfig(ctx context.Context) (remoteconfig.Fetcher, error)
}

// Option customises a Handler.
type Option func(*Handler)

// WithLogger overrides the logger. Defaults to the shared logger.
func WithLogger(logger pkglog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock overrides the clock used for the invocation timestamp.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithMetrics registers invocation metrics on reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(h *Handler) {
		h.metrics = newHandlerMetrics(reg)
	}
}

// Handler settles each invocation exactly once.
type Handler struct {
	provider AppProvider
	logger   pkglog.Logger
	now      func() time.Time
	metrics  *handlerMetrics
}

// New constructs a Handler around provider.
func New(provider AppProvider, opts ...Option) *Handler {
	h := &Handler{
		provider: provider,
		logger:   pkglog.Shared(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Invoke runs one invocation. It returns Placeholder on success and a callable
// INTERNAL error carrying Placeholder on any failure; failure detail is only logged.
func (h *Handler) Invoke(ctx context.Context, req callable.Request) (any, error) {
	fields := []any{"timestamp", h.now().UnixMilli(), "data", payloadString(req)}
	if req.Auth != nil {
		fields = append(fields, "uid", req.Auth.UID)
	}
	h.logger.Infow("invocation received", fields...)

	rc, err := h.provider.RemoteConfig(ctx)
	if err != nil {
		h.logger.Errorw("remoteConfig initialization failure", "error", err)
		h.metrics.invocation(outcomeRejected)
		return nil, reject()
	}

	start := time.Now()
	tmpl, err := rc.GetTemplate(ctx)
	h.metrics.fetch(err, time.Since(start))
	if err != nil {
		h.logger.Errorw("remoteConfig.getTemplate failure", "error", err)
		h.metrics.invocation(outcomeRejected)
		return nil, reject()
	}

	dump, err := tmpl.Dump()
	if err != nil {
		h.logger.Errorw("remoteConfig.getTemplate failure", "error", err)
		h.metrics.invocation(outcomeRejected)
		return nil, reject()
	}

	h.logger.Infow("received template", "template", dump, "etag", tmpl.ETag())
	h.metrics.invocation(outcomeResolved)
	return Placeholder, nil
}

func reject() error {
	return callable.NewError(callable.CodeInternal, Placeholder)
}

func payloadString(req callable.Request) string {
	if len(req.Data) == 0 {
		return "null"
	}
	return string(req.Data)
}

const (
	outcomeResolved = "resolved"
	outcomeRejected = "rejected"
)

type handlerMetrics struct {
	invocations   *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
}

func newHandlerMetrics(reg *metrics.Registry) *handlerMetrics {
	if reg == nil {
		return nil
	}

	invocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: reg.Namespace(),
		Name:      "invocations_total",
		Help:      "Count of remote config update invocations by outcome.",
	}, []string{"outcome"})

	fetchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: reg.Namespace(),
		Name:      "template_fetch_duration_seconds",
		Help:      "Duration of remote config template fetches by result.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"result"})

	reg.Register(invocations)
	reg.Register(fetchDuration)

	return &handlerMetrics{invocations: invocations, fetchDuration: fetchDuration}
}

func (m *handlerMetrics) invocation(outcome string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(outcome).Inc()
}

func (m *handlerMetrics) fetch(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.fetchDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}
