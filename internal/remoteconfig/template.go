package remoteconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Template is an opaque snapshot of a project's Remote Config. Its fields are
// never inspected; it is kept as the raw document plus the response ETag.
type Template struct {
	raw  json.RawMessage
	etag string
}

func newTemplate(body []byte, etag string) (*Template, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, errors.New("decode template: response is not a json object")
	}
	raw := make(json.RawMessage, len(trimmed))
	copy(raw, trimmed)
	return &Template{raw: raw, etag: etag}, nil
}

// TemplateFromJSON builds a Template from a JSON object, e.g. a fixture.
func TemplateFromJSON(data []byte, etag string) (*Template, error) {
	return newTemplate(data, etag)
}

// ETag returns the version tag reported by the service, if any.
func (t *Template) ETag() string {
	if t == nil {
		return ""
	}
	return t.etag
}

// Raw returns a copy of the document as served.
func (t *Template) Raw() json.RawMessage {
	if t == nil {
		return nil
	}
	out := make(json.RawMessage, len(t.raw))
	copy(out, t.raw)
	return out
}

// MarshalJSON emits the document as served, with the ETag appended as "etag"
// when the document does not already carry one. Key order is preserved.
func (t *Template) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("null"), nil
	}
	if t.etag == "" {
		return t.Raw(), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(t.raw, &fields); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	if _, ok := fields["etag"]; ok {
		return t.Raw(), nil
	}

	etag, err := json.Marshal(t.etag)
	if err != nil {
		return nil, err
	}

	closing := bytes.LastIndexByte(t.raw, '}')
	out := make([]byte, 0, len(t.raw)+len(etag)+9)
	out = append(out, t.raw[:closing]...)
	if len(bytes.TrimSpace(t.raw[1:closing])) > 0 {
		out = append(out, ',')
	}
	out = append(out, `"etag":`...)
	out = append(out, etag...)
	return append(out, '}'), nil
}

// Dump renders the template as two-space indented JSON for logging.
func (t *Template) Dump() (string, error) {
	out, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
