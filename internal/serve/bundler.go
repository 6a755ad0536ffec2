package serve

import (
	"github.com/gofiber/fiber/v3"

	"github.com/pkgwire/pkgwire/internal/pkgpath"
)

// Bundler 是打包协作方：请求文件名等于配置的 bundle 伪路径时被调用，
// 代替常规的文件解析流程。打包本身不在本服务范围内，这里只固定契约。
type Bundler interface {
	Bundle(c fiber.Ctx, req pkgpath.PackageRequest, packageDir string) error
}

// DisabledBundler 返回默认实现：统一答复该入口未启用。
func DisabledBundler() Bundler {
	return disabledBundler{}
}

type disabledBundler struct{}

func (disabledBundler) Bundle(c fiber.Ctx, req pkgpath.PackageRequest, packageDir string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "bundle_disabled",
	})
}
