// Package callable implements the HTTPS callable function protocol: a JSON
// POST carrying {"data": ...} answered with {"result": ...} or
// {"error": {"status", "message", "details"}}.
package callable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	pkglog "github.com/theroutercompany/rcfunctions/pkg/log"
)

const defaultMaxBodyBytes int64 = 1 << 20 // 1 MiB

// AuthContext identifies an authenticated caller.
type AuthContext struct {
	UID   string
	Token string
}

// Request is a decoded invocation.
type Request struct {
	Data   json.RawMessage
	Auth   *AuthContext
	Header http.Header
}

// Func handles one invocation and settles it exactly once: a result, or an error.
type Func func(ctx context.Context, req Request) (any, error)

// Verifier resolves the caller from the request's credentials. It is only
// consulted when the request carries an Authorization header.
type Verifier interface {
	Verify(r *http.Request) (*AuthContext, error)
}

// ErrorBody is the wire form of a rejection.
type ErrorBody struct {
	Status  Code   `json:"status"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Response is the wire envelope. Exactly one of Result/Error is meaningful.
type Response struct {
	Result any        `json:"result"`
	Error  *ErrorBody `json:"-"`
}

// MarshalJSON emits {"result": ...} or {"error": {...}}.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			Error *ErrorBody `json:"error"`
		}{Error: r.Error})
	}
	return json.Marshal(struct {
		Result any `json:"result"`
	}{Result: r.Result})
}

// NewResponse converts the outcome of a Func into its envelope and HTTP status.
func NewResponse(result any, err error) (Response, int) {
	if err != nil {
		ce := AsError(err)
		return Response{Error: &ErrorBody{Status: ce.Code, Message: ce.Message, Details: ce.Details}}, ce.Code.HTTPStatus()
	}
	return Response{Result: result}, http.StatusOK
}

// WriteResponse encodes resp with the given status.
func WriteResponse(w http.ResponseWriter, status int, resp Response) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(resp)
}

// WriteError writes a rejection envelope for a plain HTTP status. Its signature
// matches the middleware problem writer so edge rejections share the wire format.
func WriteError(w http.ResponseWriter, status int, title, detail, traceID, _ string) {
	message := detail
	if message == "" {
		message = title
	}
	body := &ErrorBody{Status: CodeFromHTTPStatus(status), Message: message}
	if traceID != "" {
		body.Details = map[string]string{"traceId": traceID}
	}
	_ = WriteResponse(w, status, Response{Error: body})
}

// Option customises the handler.
type Option func(*handler)

// WithVerifier enables bearer token verification.
func WithVerifier(v Verifier) Option {
	return func(h *handler) {
		h.verifier = v
	}
}

// WithLogger overrides the logger. Defaults to the shared logger.
func WithLogger(logger pkglog.Logger) Option {
	return func(h *handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMaxBodyBytes caps the request body size.
func WithMaxBodyBytes(limit int64) Option {
	return func(h *handler) {
		if limit > 0 {
			h.maxBodyBytes = limit
		}
	}
}

type handler struct {
	name         string
	fn           Func
	verifier     Verifier
	logger       pkglog.Logger
	maxBodyBytes int64
}

// Handler exposes fn over the callable protocol.
func Handler(name string, fn Func, opts ...Option) http.Handler {
	h := &handler{
		name:         name,
		fn:           fn,
		logger:       pkglog.Shared(),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := h.decode(r)
	if err != nil {
		h.logger.Warnw("invalid callable request", "function", h.name, "error", err)
		h.write(w, nil, NewError(CodeInvalidArgument, "Bad Request"))
		return
	}

	if h.verifier != nil && strings.TrimSpace(r.Header.Get("Authorization")) != "" {
		auth, err := h.verifier.Verify(r)
		if err != nil {
			h.logger.Warnw("callable auth verification failed", "function", h.name, "error", err)
			h.write(w, nil, NewError(CodeUnauthenticated, "Unauthenticated"))
			return
		}
		req.Auth = auth
	}

	result, err := h.fn(r.Context(), req)
	h.write(w, result, err)
}

func (h *handler) write(w http.ResponseWriter, result any, err error) {
	resp, status := NewResponse(result, err)
	if writeErr := WriteResponse(w, status, resp); writeErr != nil {
		h.logger.Warnw("failed to write callable response", "function", h.name, "error", writeErr)
	}
}

func (h *handler) decode(r *http.Request) (Request, error) {
	if r.Method != http.MethodPost {
		return Request{}, fmt.Errorf("request method %s is not POST", r.Method)
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return Request{}, fmt.Errorf("unsupported content type %q", r.Header.Get("Content-Type"))
	}

	if r.Body == nil {
		return Request{}, errors.New("request body missing")
	}
	defer r.Body.Close()

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, h.maxBodyBytes+1))
	if err := decoder.Decode(&envelope); err != nil {
		return Request{}, fmt.Errorf("decode body: %w", err)
	}
	if envelope.Data == nil {
		return Request{}, errors.New("request body is missing data")
	}

	return Request{Data: envelope.Data, Header: r.Header.Clone()}, nil
}
