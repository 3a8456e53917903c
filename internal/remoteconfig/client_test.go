package remoteconfig

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const fixtureTemplate = `{"version":{"versionNumber":"7"},"parameters":{"welcome":{"defaultValue":{"value":"hi"}}},"conditions":[]}`

func TestGetTemplateSuccess(t *testing.T) {
	var gotAuth, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("ETag", "etag-123")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fixtureTemplate))
	}))
	defer ts.Close()

	client, err := New(Options{
		ProjectID:   "demo-project",
		BaseURL:     ts.URL + "/",
		HTTPClient:  ts.Client(),
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "owner"}),
	})
	require.NoError(t, err)
	assert.Equal(t, ts.URL+"/v1/projects/demo-project/remoteConfig", client.Endpoint())

	tmpl, err := client.GetTemplate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Bearer owner", gotAuth)
	assert.Equal(t, "/v1/projects/demo-project/remoteConfig", gotPath)
	assert.Equal(t, "etag-123", tmpl.ETag())
	assert.JSONEq(t, fixtureTemplate, string(tmpl.Raw()))
}

func TestGetTemplateWithoutTokenSourceSendsNoAuth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("unexpected authorization header: %s", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client, err := New(Options{ProjectID: "demo-project", BaseURL: ts.URL})
	require.NoError(t, err)

	tmpl, err := client.GetTemplate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", tmpl.ETag())
}

func TestGetTemplatePermissionDenied(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"The caller does not have permission","status":"PERMISSION_DENIED"}}`))
	}))
	defer ts.Close()

	client, err := New(Options{ProjectID: "demo-project", BaseURL: ts.URL})
	require.NoError(t, err)

	_, err = client.GetTemplate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetchFailed))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "permission-denied", apiErr.Code())
	assert.Contains(t, err.Error(), "remote-config/permission-denied")
}

func TestGetTemplateErrorWithoutGoogleBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer ts.Close()

	client, err := New(Options{ProjectID: "demo-project", BaseURL: ts.URL})
	require.NoError(t, err)

	_, err = client.GetTemplate(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "unavailable", apiErr.Code())
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestGetTemplateRejectsNonObjectBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["not","a","template"]`))
	}))
	defer ts.Close()

	client, err := New(Options{ProjectID: "demo-project", BaseURL: ts.URL})
	require.NoError(t, err)

	_, err = client.GetTemplate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestGetTemplateTransportFailure(t *testing.T) {
	client, err := New(Options{
		ProjectID:  "demo-project",
		BaseURL:    "http://127.0.0.1:1",
		HTTPClient: &http.Client{Timeout: 50 * time.Millisecond},
	})
	require.NoError(t, err)

	_, err = client.GetTemplate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
}

type failingTokenSource struct{}

func (failingTokenSource) Token() (*oauth2.Token, error) {
	return nil, errors.New("no credentials")
}

func TestGetTemplateTokenFailure(t *testing.T) {
	client, err := New(Options{ProjectID: "demo-project", TokenSource: failingTokenSource{}})
	require.NoError(t, err)

	_, err = client.GetTemplate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Contains(t, err.Error(), "no credentials")
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{ProjectID: "p", BaseURL: "not a url"})
	assert.Error(t, err)

	client, err := New(Options{ProjectID: "p/with slash"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL+"/v1/projects/p%2Fwith%20slash/remoteConfig", client.Endpoint())
}

func TestTemplateDumpGolden(t *testing.T) {
	tmpl, err := TemplateFromJSON([]byte(fixtureTemplate), "etag-123")
	require.NoError(t, err)

	dump, err := tmpl.Dump()
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "template_dump", []byte(dump))
}

func TestTemplateKeepsServedETag(t *testing.T) {
	tmpl, err := TemplateFromJSON([]byte(`{"etag":"in-body"}`), "header")
	require.NoError(t, err)

	out, err := tmpl.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"etag":"in-body"}`, string(out))
}

func TestTemplateKeepsServerKeyOrder(t *testing.T) {
	tmpl, err := TemplateFromJSON([]byte(`{"version":{"versionNumber":"7"},"parameters":{}}`), "etag-1")
	require.NoError(t, err)

	dump, err := tmpl.Dump()
	require.NoError(t, err)

	version := strings.Index(dump, `"version"`)
	parameters := strings.Index(dump, `"parameters"`)
	etag := strings.Index(dump, `"etag"`)
	require.True(t, version >= 0 && parameters >= 0 && etag >= 0, dump)
	assert.Less(t, version, parameters)
	assert.Less(t, parameters, etag)
}

func TestTemplateETagOnEmptyDocument(t *testing.T) {
	tmpl, err := TemplateFromJSON([]byte(`{ }`), "etag-1")
	require.NoError(t, err)

	out, err := tmpl.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"etag":"etag-1"}`, string(out))

	tmpl, err = TemplateFromJSON([]byte(`{}`), "")
	require.NoError(t, err)
	out, err = tmpl.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))
}
