// Package routes 注册 /-/ 前缀下的诊断接口，与包路径空间彻底隔离。
package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/pkgwire/pkgwire/internal/version"
)

// RegisterDiagnosticsRoutes 暴露 /-/health 与 /-/version，供探活与排障使用。
func RegisterDiagnosticsRoutes(app *fiber.App) {
	if app == nil {
		return
	}

	app.Get("/-/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/-/version", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"version": version.Version,
			"commit":  version.Commit,
		})
	})
}
