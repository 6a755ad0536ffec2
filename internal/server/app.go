package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PackageHandler describes the component responsible for resolving and
// serving package requests. It allows injecting fake handlers during tests.
type PackageHandler interface {
	Handle(fiber.Ctx) error
}

// PackageHandlerFunc adapts a function to the PackageHandler interface.
type PackageHandlerFunc func(fiber.Ctx) error

// Handle makes PackageHandlerFunc satisfy PackageHandler.
func (f PackageHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Handler    PackageHandler
	ListenPort int
}

const contextKeyRequestID = "_pkgwire_request_id"

// NewApp builds a Fiber application with request-ID middleware, method
// gating and structured error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("package handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		if method := c.Method(); method != http.MethodGet && method != http.MethodHead {
			return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{
				"error": "method_not_allowed",
			})
		}
		return opts.Handler.Handle(c)
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID 并回写响应头，供日志串联。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
