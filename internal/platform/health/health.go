package health

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
)

// Upstream identifies an HTTP dependency to probe for readiness.
type Upstream struct {
	Name       string
	BaseURL    string
	HealthPath string
}

// CheckFunc reports whether an in-process dependency is usable.
type CheckFunc func(ctx context.Context) error

// CheckReport captures the outcome of a single probe or check.
type CheckReport struct {
	Name       string    `json:"name"`
	Healthy    bool      `json:"healthy"`
	StatusCode int       `json:"statusCode,omitempty"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// Report aggregates readiness across dependencies.
type Report struct {
	Status    string        `json:"status"`
	CheckedAt time.Time     `json:"checkedAt"`
	Checks    []CheckReport `json:"checks"`
}

type namedCheck struct {
	name string
	fn   CheckFunc
}

// Option customises a Checker.
type Option func(*Checker)

// WithCheck adds an in-process check evaluated alongside upstream probes.
func WithCheck(name string, fn CheckFunc) Option {
	return func(c *Checker) {
		if fn != nil {
			c.checks = append(c.checks, namedCheck{name: name, fn: fn})
		}
	}
}

// Checker evaluates readiness of the function's dependencies.
type Checker struct {
	client    *http.Client
	upstreams []Upstream
	checks    []namedCheck
	timeout   time.Duration
	userAgent string
}

// NewChecker returns a checker configured with the given dependencies.
func NewChecker(client *http.Client, upstreams []Upstream, timeout time.Duration, userAgent string, opts ...Option) *Checker {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if userAgent == "" {
		userAgent = "rcfunctions/readyz"
	}

	c := &Checker{
		client:    client,
		upstreams: upstreams,
		timeout:   timeout,
		userAgent: userAgent,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Readiness runs every probe and check concurrently and returns an aggregated report.
func (c *Checker) Readiness(ctx context.Context) Report {
	total := len(c.upstreams) + len(c.checks)
	if total == 0 {
		return Report{Status: StatusReady, CheckedAt: time.Now().UTC()}
	}

	results := make([]CheckReport, total)
	var g errgroup.Group

	for idx, upstream := range c.upstreams {
		idx, upstream := idx, upstream
		g.Go(func() error {
			results[idx] = c.probe(ctx, upstream)
			return nil
		})
	}
	for idx, check := range c.checks {
		slot, check := len(c.upstreams)+idx, check
		g.Go(func() error {
			results[slot] = c.run(ctx, check)
			return nil
		})
	}

	_ = g.Wait()

	report := Report{
		Status:    StatusReady,
		CheckedAt: time.Now().UTC(),
		Checks:    results,
	}
	for _, r := range results {
		if !r.Healthy {
			report.Status = StatusDegraded
			break
		}
	}

	return report
}

func (c *Checker) run(ctx context.Context, check namedCheck) CheckReport {
	report := CheckReport{Name: check.name, CheckedAt: time.Now().UTC()}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := check.fn(runCtx); err != nil {
		report.Error = err.Error()
		return report
	}
	report.Healthy = true
	return report
}

func (c *Checker) probe(ctx context.Context, upstream Upstream) CheckReport {
	report := CheckReport{
		Name:      upstream.Name,
		CheckedAt: time.Now().UTC(),
	}

	targetURL, err := url.JoinPath(upstream.BaseURL, upstream.HealthPath)
	if err != nil {
		report.Error = fmt.Sprintf("failed to build upstream url: %v", err)
		return report
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, targetURL, nil)
	if err != nil {
		report.Error = fmt.Sprintf("failed to create request: %v", err)
		return report
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		select {
		case <-reqCtx.Done():
			report.Error = reqCtx.Err().Error()
		default:
			report.Error = err.Error()
		}
		return report
	}
	defer resp.Body.Close()

	report.StatusCode = resp.StatusCode
	report.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !report.Healthy {
		report.Error = fmt.Sprintf("health check failed with status %d", resp.StatusCode)
	}

	return report
}
