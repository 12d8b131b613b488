package api

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasks-api/domain"
)

type stubAuth struct {
	id  domain.Identity
	err error

	calls int
	last  string
}

func (s *stubAuth) Verify(token string) (domain.Identity, error) {
	s.calls++
	s.last = token
	return s.id, s.err
}

func TestRequireAuthAttachesIdentity(t *testing.T) {
	e := echo.New()
	auth := &stubAuth{id: domain.Identity{UserID: 4, Username: "dana"}}
	req := httptest.NewRequest(http.MethodPost, "/tasks", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var fromEcho, fromCtx domain.Identity
	handler := RequireAuth(auth, log.New())(func(c echo.Context) error {
		fromEcho, _ = IdentityFrom(c)
		fromCtx, _ = IdentityFromContext(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if auth.last != "a.b.c" {
		t.Fatalf("unexpected token passed to verifier: %q", auth.last)
	}
	if fromEcho != auth.id || fromCtx != auth.id {
		t.Fatalf("identity not attached: echo=%+v ctx=%+v", fromEcho, fromCtx)
	}
}

func TestRequireAuthRejects(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		verifyErr  error
		wantErr    error
		wantVerify bool
	}{
		{name: "missing header", wantErr: domain.ErrMissingToken},
		{name: "wrong scheme", header: "Token a.b.c", wantErr: domain.ErrMissingToken},
		{name: "malformed", header: "Bearer abc", wantErr: domain.ErrInvalidToken},
		{name: "verifier rejects", header: "Bearer a.b.c", verifyErr: domain.ErrInvalidToken, wantErr: domain.ErrInvalidToken, wantVerify: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			auth := &stubAuth{err: tt.verifyErr}
			req := httptest.NewRequest(http.MethodDelete, "/tasks/1", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())

			called := false
			err := RequireAuth(auth, log.New())(func(echo.Context) error {
				called = true
				return nil
			})(c)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if called {
				t.Fatalf("next handler must not run")
			}
			if (auth.calls > 0) != tt.wantVerify {
				t.Fatalf("unexpected verifier calls: %d", auth.calls)
			}
		})
	}
}

func TestGzipRequestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(`{"title":"a"}`)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/tasks", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "identity, gzip")
	c := e.NewContext(req, httptest.NewRecorder())

	var body string
	err := GzipRequestMiddleware()(func(c echo.Context) error {
		data, err := io.ReadAll(c.Request().Body)
		body = string(data)
		return err
	})(c)
	if err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if body != `{"title":"a"}` {
		t.Fatalf("unexpected body %q", body)
	}
	if req.Header.Get(echo.HeaderContentEncoding) != "" {
		t.Fatalf("content encoding header should be removed")
	}
}

func TestGzipRequestMiddlewareInvalidBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	c := e.NewContext(req, httptest.NewRecorder())

	err := GzipRequestMiddleware()(func(echo.Context) error { return nil })(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 HTTP error, got %v", err)
	}
}
