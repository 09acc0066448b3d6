package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type stubHandler struct {
	registered bool
}

func (s *stubHandler) Register(e *echo.Echo) {
	s.registered = true
	e.GET("/stub", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func TestNewServer_RegistersHandlers(t *testing.T) {
	stub := &stubHandler{}
	srv := NewServer(nil, "", stub, nil)

	if !stub.registered {
		t.Fatal("handler was not registered")
	}

	req := httptest.NewRequest(http.MethodGet, "/stub", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusOK)
	}
}

func TestNewServer_DefaultAddr(t *testing.T) {
	srv := NewServer(nil, "")
	if srv.addr != ":8080" {
		t.Fatalf("addr=%q want=%q", srv.addr, ":8080")
	}
}

func TestNewServer_RecoversFromPanickingHandler(t *testing.T) {
	srv := NewServer(nil, "", handlerFunc(func(e *echo.Echo) {
		e.GET("/boom", func(c echo.Context) error {
			panic("handler bug")
		})
	}))

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusInternalServerError)
	}
}

type handlerFunc func(e *echo.Echo)

func (f handlerFunc) Register(e *echo.Echo) { f(e) }
