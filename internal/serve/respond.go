package serve

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/pkgwire/pkgwire/internal/resolve"
)

// 本文件是响应协作方：把“发文件/发重定向/发 JSON/报错”收敛成固定出口，
// 流水线只做决策不碰 header 细节。

// sendFile 以给定缓存时长输出磁盘文件，HEAD 请求只发 header。
// 打开/stat 失败时不写任何响应，原样返回错误交由调用方归类。
func sendFile(c fiber.Ctx, path string, ttl time.Duration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	c.Set("Content-Type", resolve.ContentType(path))
	c.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	c.Response().Header.SetContentLength(int(info.Size()))
	setCacheControl(c, ttl)
	c.Status(fiber.StatusOK)

	if c.Method() == http.MethodHead {
		f.Close()
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), f)
	f.Close()
	return err
}

// sendRedirect 输出 302，ttl 为 0 时不下发缓存指令。
func sendRedirect(c fiber.Ctx, location string, ttl time.Duration) error {
	setCacheControl(c, ttl)
	c.Set("Location", location)
	return c.Status(fiber.StatusFound).SendString("Found. Redirecting to " + location)
}

// sendJSON 输出结构化数据，主要供 auto-index 目录树使用。
func sendJSON(c fiber.Ctx, value any, ttl time.Duration) error {
	setCacheControl(c, ttl)
	return c.JSON(value)
}

// sendNotFound 输出 404 并点名缺失的主体（包、版本、字段或文件）。
func sendNotFound(c fiber.Ctx, subject string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":   "not_found",
		"subject": subject,
	})
}

// sendServerError 输出通用 5xx，原始错误由调用方记录日志，不回显给客户端。
func sendServerError(c fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "server_error",
	})
}

// sendText 输出纯文本响应，用于路径非法等直接回显场景。
func sendText(c fiber.Ctx, status int, message string) error {
	return c.Status(status).SendString(message)
}

func setCacheControl(c fiber.Ctx, ttl time.Duration) {
	if ttl > 0 {
		c.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int64(ttl/time.Second)))
	}
}
