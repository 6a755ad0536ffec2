package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func echoHandler() PackageHandler {
	return PackageHandlerFunc(func(c fiber.Ctx) error {
		return c.SendString("handled " + c.Method())
	})
}

func TestNewAppRequiresLogger(t *testing.T) {
	_, err := NewApp(AppOptions{Handler: echoHandler(), ListenPort: 5000})
	if err == nil {
		t.Fatalf("expected error for missing logger")
	}
}

func TestNewAppRequiresHandler(t *testing.T) {
	_, err := NewApp(AppOptions{Logger: testLogger(), ListenPort: 5000})
	if err == nil {
		t.Fatalf("expected error for missing handler")
	}
}

func TestNewAppRejectsBadPort(t *testing.T) {
	_, err := NewApp(AppOptions{Logger: testLogger(), Handler: echoHandler(), ListenPort: 0})
	if err == nil {
		t.Fatalf("expected error for invalid port")
	}
}

func TestAppSetsRequestIDHeader(t *testing.T) {
	var seen string
	handler := PackageHandlerFunc(func(c fiber.Ctx) error {
		seen = RequestID(c)
		return c.SendString("ok")
	})
	app, err := NewApp(AppOptions{Logger: testLogger(), Handler: handler, ListenPort: 5000})
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}
	defer app.Shutdown()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/pkg@1.0.0/index.js", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	header := resp.Header.Get("X-Request-ID")
	if header == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if seen == "" || seen != header {
		t.Fatalf("handler saw request id %q, header carries %q", seen, header)
	}
}

func TestAppRejectsUnsupportedMethods(t *testing.T) {
	app, err := NewApp(AppOptions{Logger: testLogger(), Handler: echoHandler(), ListenPort: 5000})
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}
	defer app.Shutdown()

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		resp, err := app.Test(httptest.NewRequest(method, "/pkg@1.0.0/index.js", nil))
		if err != nil {
			t.Fatalf("app.Test error: %v", err)
		}
		if resp.StatusCode != fiber.StatusMethodNotAllowed {
			t.Fatalf("expected 405 for %s, got %d", method, resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if !strings.Contains(string(body), "method_not_allowed") {
			t.Fatalf("expected method_not_allowed body, got %s", body)
		}
	}
}

func TestAppAllowsGetAndHead(t *testing.T) {
	app, err := NewApp(AppOptions{Logger: testLogger(), Handler: echoHandler(), ListenPort: 5000})
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}
	defer app.Shutdown()

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		resp, err := app.Test(httptest.NewRequest(method, "/pkg@1.0.0/index.js", nil))
		if err != nil {
			t.Fatalf("app.Test error: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", method, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestAppDiagnosticsBypassesHandler(t *testing.T) {
	handlerCalled := false
	handler := PackageHandlerFunc(func(c fiber.Ctx) error {
		handlerCalled = true
		return c.SendString("wrong route")
	})
	app, err := NewApp(AppOptions{Logger: testLogger(), Handler: handler, ListenPort: 5000})
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}
	defer app.Shutdown()

	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 for diagnostics route, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Fatalf("unexpected diagnostics body: %s", body)
	}
	if handlerCalled {
		t.Fatalf("package handler should not see diagnostics paths")
	}
}

func TestAppRecoversFromPanic(t *testing.T) {
	handler := PackageHandlerFunc(func(fiber.Ctx) error {
		panic("boom")
	})
	app, err := NewApp(AppOptions{Logger: testLogger(), Handler: handler, ListenPort: 5000})
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}
	defer app.Shutdown()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/pkg@1.0.0/index.js", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
