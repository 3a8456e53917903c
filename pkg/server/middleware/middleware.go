// Package middleware holds the edge handlers wrapped around the callable route.
// Every rejection made here is written through a Rejector so callers see the
// same envelope the function itself uses.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain applies mws so the first one listed is the outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// Logger is the logging surface the middleware needs.
type Logger interface {
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

// ProblemWriter emits an error response for a request rejected at the edge.
type ProblemWriter func(w http.ResponseWriter, status int, title, detail, traceID, instance string)

// IDLookup reads a correlation ID from the request context.
type IDLookup func(context.Context) string

// Rejector writes edge rejections, tagging them with the request's trace ID.
// A zero Rejector falls back to plain-text errors.
type Rejector struct {
	TraceID IDLookup
	Write   ProblemWriter
}

func (rj Rejector) reject(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	if rj.Write == nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	var tid string
	if rj.TraceID != nil {
		tid = rj.TraceID(r.Context())
	}
	rj.Write(w, status, title, detail, tid, r.URL.Path)
}

func passthrough(next http.Handler) http.Handler {
	if next == nil {
		return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return next
}

// RequestMetadata attaches request and trace IDs via ensure and echoes them in
// the response headers.
func RequestMetadata(ensure func(*http.Request) (*http.Request, string, string)) Middleware {
	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		if ensure == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, requestID, traceID := ensure(r)
			w.Header().Set("X-Request-Id", requestID)
			if traceID != "" {
				w.Header().Set("X-Trace-Id", traceID)
			}
			next.ServeHTTP(w, r)
		})
	}
}

var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
}

// SecurityHeaders sets hardening headers on every response.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, kv := range securityHeaders {
				w.Header().Set(kv[0], kv[1])
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Recover turns a panic into a 500. http.ErrAbortHandler is re-raised so the
// server can drop the connection.
func Recover(logger Logger, rj Rejector) Middleware {
	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				switch rec {
				case nil:
					return
				case http.ErrAbortHandler:
					panic(rec)
				}
				if logger != nil {
					logger.Errorw("handler panic recovered", "path", r.URL.Path, "panic", fmt.Sprint(rec))
				}
				rj.reject(w, r, http.StatusInternalServerError, "Internal Server Error", "")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// BodyLimit refuses declared bodies over limit and caps what handlers can read.
func BodyLimit(limit int64, rj Rejector) Middleware {
	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				rj.reject(w, r, http.StatusRequestEntityTooLarge, "Payload Too Large", fmt.Sprintf("Request body exceeds %d bytes", limit))
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Limiter decides whether the caller identified by key may proceed at now.
type Limiter interface {
	Allow(key string, now time.Time) bool
}

// LimiterFunc adapts a function to Limiter.
type LimiterFunc func(key string, now time.Time) bool

// Allow implements Limiter.
func (f LimiterFunc) Allow(key string, now time.Time) bool { return f(key, now) }

// RateLimit throttles callers by key. CORS preflights are never counted.
func RateLimit(limiter Limiter, key func(*http.Request) string, now func() time.Time, rj Rejector) Middleware {
	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		if limiter == nil || key == nil {
			return next
		}
		if now == nil {
			now = time.Now
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodOptions && !limiter.Allow(key(r), now()) {
				rj.reject(w, r, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS answers preflights through c and refuses requests from origins it does
// not allow.
func CORS(c *cors.Cors, rj Rejector) Middleware {
	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		if c == nil {
			return next
		}
		wrapped := c.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" && !c.OriginAllowed(r) {
				rj.reject(w, r, http.StatusForbidden, "Not allowed by CORS", fmt.Sprintf("Origin %s is not allowed", origin))
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}
