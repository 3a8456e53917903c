package openapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

const (
	defaultTitle        = "rcfunctions"
	defaultVersion      = "dev"
	defaultFunctionName = "testFunctionRemoteConfigUpdate"
)

// DocumentProvider exposes the OpenAPI document.
type DocumentProvider interface {
	Document(ctx context.Context) ([]byte, error)
}

// Service builds the OpenAPI description of the hosted routes and caches the result.
type Service struct {
	title        string
	version      string
	functionName string
	serverURL    string

	mu    sync.Mutex
	cache []byte
}

// Option customises a Service.
type Option func(*Service)

// WithFunctionName sets the name the callable is mounted under.
func WithFunctionName(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.functionName = name
		}
	}
}

// WithVersion sets the document's info.version.
func WithVersion(version string) Option {
	return func(s *Service) {
		if version != "" {
			s.version = version
		}
	}
}

// WithServerURL adds a server entry to the document.
func WithServerURL(url string) Option {
	return func(s *Service) {
		s.serverURL = url
	}
}

// NewService constructs a Service with optional overrides.
func NewService(opts ...Option) *Service {
	s := &Service{
		title:        defaultTitle,
		version:      defaultVersion,
		functionName: defaultFunctionName,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Document returns the validated OpenAPI document in JSON form.
func (s *Service) Document(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache != nil {
		return clone(s.cache), nil
	}

	doc := s.buildDocument()
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate document: %w", err)
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	s.cache = raw
	return clone(raw), nil
}

// WriteFile persists the document at path, creating parent directories.
func (s *Service) WriteFile(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("output path not configured")
	}

	raw, err := s.Document(ctx)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func (s *Service) buildDocument() *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   s.title,
			Version: s.version,
		},
		Paths: openapi3.NewPaths(
			openapi3.WithPath("/"+s.functionName, &openapi3.PathItem{Post: s.callableOperation()}),
			openapi3.WithPath("/health", &openapi3.PathItem{Get: healthOperation()}),
			openapi3.WithPath("/readyz", &openapi3.PathItem{Get: readinessOperation("readyz")}),
			openapi3.WithPath("/readiness", &openapi3.PathItem{Get: readinessOperation("readiness")}),
		),
	}
	if s.serverURL != "" {
		doc.Servers = openapi3.Servers{{URL: s.serverURL}}
	}
	return doc
}

func (s *Service) callableOperation() *openapi3.Operation {
	request := openapi3.NewObjectSchema().
		WithProperty("data", openapi3.NewSchema().WithNullable()).
		WithRequired([]string{"data"})

	result := openapi3.NewObjectSchema().
		WithProperty("result", openapi3.NewStringSchema().WithEnum("not implemented"))

	errorBody := openapi3.NewObjectSchema().
		WithProperty("status", openapi3.NewStringSchema()).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("details", openapi3.NewSchema()).
		WithRequired([]string{"status", "message"})
	rejection := openapi3.NewObjectSchema().
		WithProperty("error", errorBody).
		WithRequired([]string{"error"})

	return &openapi3.Operation{
		OperationID: s.functionName,
		Summary:     "Fetch the Remote Config template and settle with a placeholder",
		Tags:        []string{"callable"},
		RequestBody: &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchema(request),
		},
		Responses: openapi3.NewResponses(
			openapi3.WithStatus(200, jsonResponse("Invocation resolved", result)),
			openapi3.WithStatus(400, jsonResponse("Malformed callable request", rejection)),
			openapi3.WithStatus(401, jsonResponse("Bearer token rejected", rejection)),
			openapi3.WithStatus(500, jsonResponse("Invocation rejected", rejection)),
		),
	}
}

func healthOperation() *openapi3.Operation {
	body := openapi3.NewObjectSchema().
		WithProperty("status", openapi3.NewStringSchema()).
		WithProperty("uptime", openapi3.NewFloat64Schema()).
		WithProperty("timestamp", openapi3.NewDateTimeSchema()).
		WithProperty("version", openapi3.NewStringSchema())

	return &openapi3.Operation{
		OperationID: "health",
		Tags:        []string{"health"},
		Responses: openapi3.NewResponses(
			openapi3.WithStatus(200, jsonResponse("Process is alive", body)),
		),
	}
}

func readinessOperation(id string) *openapi3.Operation {
	check := openapi3.NewObjectSchema().
		WithProperty("name", openapi3.NewStringSchema()).
		WithProperty("healthy", openapi3.NewBoolSchema()).
		WithProperty("statusCode", openapi3.NewIntegerSchema()).
		WithProperty("error", openapi3.NewStringSchema()).
		WithProperty("checkedAt", openapi3.NewDateTimeSchema())
	body := openapi3.NewObjectSchema().
		WithProperty("status", openapi3.NewStringSchema().WithEnum("ready", "degraded")).
		WithProperty("checkedAt", openapi3.NewDateTimeSchema()).
		WithProperty("checks", openapi3.NewArraySchema().WithItems(check)).
		WithProperty("requestId", openapi3.NewStringSchema()).
		WithProperty("traceId", openapi3.NewStringSchema())

	return &openapi3.Operation{
		OperationID: id,
		Tags:        []string{"health"},
		Responses: openapi3.NewResponses(
			openapi3.WithStatus(200, jsonResponse("All dependencies ready", body)),
			openapi3.WithStatus(503, jsonResponse("One or more dependencies degraded", body)),
		),
	}
}

func jsonResponse(description string, schema *openapi3.Schema) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription(description).WithJSONSchema(schema)}
}

func clone(src []byte) []byte {
	if src == nil {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}
