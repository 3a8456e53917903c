package callable

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkglog "github.com/theroutercompany/rcfunctions/pkg/log"
)

type stubVerifier struct {
	auth *AuthContext
	err  error
}

func (s stubVerifier) Verify(*http.Request) (*AuthContext, error) {
	return s.auth, s.err
}

func post(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/fn", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerReturnsResult(t *testing.T) {
	var got Request
	h := Handler("fn", func(_ context.Context, req Request) (any, error) {
		got = req
		return "not implemented", nil
	}, WithLogger(pkglog.Nop()))

	rr := serve(h, post(`{"data":{"foo":1}}`))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"result":"not implemented"}`, rr.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"foo":1}`, string(got.Data))
	assert.Nil(t, got.Auth)
}

func TestHandlerAcceptsNullData(t *testing.T) {
	var got Request
	h := Handler("fn", func(_ context.Context, req Request) (any, error) {
		got = req
		return nil, nil
	}, WithLogger(pkglog.Nop()))

	rr := serve(h, post(`{"data":null}`))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"result":null}`, rr.Body.String())
	assert.Equal(t, "null", string(got.Data))
}

func TestHandlerDataField(t *testing.T) {
	cases := map[string]struct {
		body       string
		wantStatus int
		wantData   string
		reached    bool
	}{
		"explicit null":  {body: `{"data":null}`, wantStatus: http.StatusOK, wantData: "null", reached: true},
		"object":         {body: `{"data":{"foo":1}}`, wantStatus: http.StatusOK, wantData: `{"foo":1}`, reached: true},
		"missing field":  {body: `{}`, wantStatus: http.StatusBadRequest},
		"only other key": {body: `{"other":1}`, wantStatus: http.StatusBadRequest},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var got *Request
			h := Handler("fn", func(_ context.Context, req Request) (any, error) {
				got = &req
				return "ok", nil
			}, WithLogger(pkglog.Nop()))

			rr := serve(h, post(tc.body))

			require.Equal(t, tc.wantStatus, rr.Code)
			if !tc.reached {
				assert.Nil(t, got)
				assert.JSONEq(t, `{"error":{"status":"INVALID_ARGUMENT","message":"Bad Request"}}`, rr.Body.String())
				return
			}
			require.NotNil(t, got)
			assert.JSONEq(t, tc.wantData, string(got.Data))
		})
	}
}

func TestHandlerRejectsWithCallableError(t *testing.T) {
	h := Handler("fn", func(context.Context, Request) (any, error) {
		return nil, NewError(CodeInternal, "not implemented")
	}, WithLogger(pkglog.Nop()))

	rr := serve(h, post(`{"data":null}`))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":{"status":"INTERNAL","message":"not implemented"}}`, rr.Body.String())
}

func TestHandlerHidesPlainErrors(t *testing.T) {
	h := Handler("fn", func(context.Context, Request) (any, error) {
		return nil, errors.New("database password is hunter2")
	}, WithLogger(pkglog.Nop()))

	rr := serve(h, post(`{"data":1}`))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":{"status":"INTERNAL","message":"INTERNAL"}}`, rr.Body.String())
}

func TestHandlerRejectsMalformedRequests(t *testing.T) {
	called := false
	h := Handler("fn", func(context.Context, Request) (any, error) {
		called = true
		return nil, nil
	}, WithLogger(pkglog.Nop()))

	cases := map[string]*http.Request{
		"get":          httptest.NewRequest(http.MethodGet, "/fn", nil),
		"missing data": post(`{"other":1}`),
		"invalid json": post(`{"data":`),
		"text body": func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/fn", strings.NewReader(`{"data":1}`))
			req.Header.Set("Content-Type", "text/plain")
			return req
		}(),
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			rr := serve(h, req)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.JSONEq(t, `{"error":{"status":"INVALID_ARGUMENT","message":"Bad Request"}}`, rr.Body.String())
		})
	}
	assert.False(t, called)
}

func TestHandlerBodyLimit(t *testing.T) {
	h := Handler("fn", func(context.Context, Request) (any, error) {
		return "ok", nil
	}, WithLogger(pkglog.Nop()), WithMaxBodyBytes(16))

	rr := serve(h, post(`{"data":"this payload is far too long"}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerVerifiesBearerTokens(t *testing.T) {
	var got *AuthContext
	fn := func(_ context.Context, req Request) (any, error) {
		got = req.Auth
		return "ok", nil
	}

	ok := Handler("fn", fn, WithLogger(pkglog.Nop()), WithVerifier(stubVerifier{auth: &AuthContext{UID: "user-1", Token: "tok"}}))
	req := post(`{"data":null}`)
	req.Header.Set("Authorization", "Bearer tok")
	rr := serve(ok, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UID)

	got = nil
	rr = serve(ok, post(`{"data":null}`))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, got, "requests without credentials stay anonymous")

	denied := Handler("fn", fn, WithLogger(pkglog.Nop()), WithVerifier(stubVerifier{err: errors.New("expired")}))
	req = post(`{"data":null}`)
	req.Header.Set("Authorization", "Bearer stale")
	rr = serve(denied, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"error":{"status":"UNAUTHENTICATED","message":"Unauthenticated"}}`, rr.Body.String())
}

func TestWriteErrorMapsStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded", "trace-1", "/fn")

	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.JSONEq(t, `{"error":{"status":"RESOURCE_EXHAUSTED","message":"Rate limit exceeded","details":{"traceId":"trace-1"}}}`, rr.Body.String())
}

func TestCodeHTTPStatus(t *testing.T) {
	assert.Equal(t, 499, CodeCancelled.HTTPStatus())
	assert.Equal(t, http.StatusNotImplemented, CodeUnimplemented.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, Code("BOGUS").HTTPStatus())
	assert.Equal(t, CodeInvalidArgument, CodeFromHTTPStatus(http.StatusRequestEntityTooLarge))
	assert.Equal(t, CodeInternal, CodeFromHTTPStatus(http.StatusTeapot))
}
