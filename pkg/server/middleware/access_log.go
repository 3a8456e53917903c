package middleware

import (
	"net/http"
	"time"
)

// AccessLog writes one structured entry per request and reports the outcome to Track.
type AccessLog struct {
	Logger Logger
	// Track is called when the request starts; the returned func receives the
	// final status and duration.
	Track      func(*http.Request) func(status int, elapsed time.Duration)
	RequestID  IDLookup
	TraceID    IDLookup
	ClientAddr func(*http.Request) string
}

// Middleware returns the access log as a middleware. A nil Logger disables it.
func (a AccessLog) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		if a.Logger == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			done := a.begin(r)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			done(rec.status, elapsed)
			a.write(r, rec, elapsed)
		})
	}
}

func (a AccessLog) begin(r *http.Request) func(int, time.Duration) {
	if a.Track != nil {
		if fn := a.Track(r); fn != nil {
			return fn
		}
	}
	return func(int, time.Duration) {}
}

func (a AccessLog) write(r *http.Request, rec *statusRecorder, elapsed time.Duration) {
	fields := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"durationMs", float64(elapsed.Microseconds()) / 1000.0,
		"bytesWritten", rec.bytes,
	}
	fields = appendIfSet(fields, "requestId", a.RequestID, r)
	fields = appendIfSet(fields, "traceId", a.TraceID, r)
	if a.ClientAddr != nil {
		if addr := a.ClientAddr(r); addr != "" {
			fields = append(fields, "remoteAddr", addr)
		}
	}

	const msg = "http request completed"
	switch {
	case rec.status >= http.StatusInternalServerError:
		a.Logger.Errorw(msg, fields...)
	case rec.status >= http.StatusBadRequest:
		a.Logger.Warnw(msg, fields...)
	default:
		a.Logger.Infow(msg, fields...)
	}
}

func appendIfSet(fields []any, key string, lookup IDLookup, r *http.Request) []any {
	if lookup == nil {
		return fields
	}
	if v := lookup(r.Context()); v != "" {
		return append(fields, key, v)
	}
	return fields
}

// statusRecorder keeps the first status written and counts body bytes.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(status int) {
	if !s.wroteHeader {
		s.status = status
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
