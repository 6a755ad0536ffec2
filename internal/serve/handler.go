// Package serve 实现解析流水线：解析路径 → 缓存检查 → registry 解析/拉取 →
// 发文件、目录树或重定向。每个请求独立处理，不共享可变状态。
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/pkgwire/pkgwire/internal/cache"
	"github.com/pkgwire/pkgwire/internal/config"
	"github.com/pkgwire/pkgwire/internal/logging"
	"github.com/pkgwire/pkgwire/internal/pkgpath"
	"github.com/pkgwire/pkgwire/internal/registry"
	"github.com/pkgwire/pkgwire/internal/resolve"
	"github.com/pkgwire/pkgwire/internal/server"
)

// defaultEntry 是清单缺少入口字段时的回退入口。
const defaultEntry = "index"

// mainFieldParam 是覆盖清单入口字段名的 query 参数。
const mainFieldParam = "main"

// Options 汇总 Handler 的全部依赖，便于测试注入。
type Options struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Store    *cache.Store
	Registry *registry.Client
	Bundler  Bundler
}

// Handler 负责 orchestrate 单个包请求的完整生命周期，对外暴露 Fiber handler。
type Handler struct {
	cfg      *config.Config
	logger   *logrus.Logger
	store    *cache.Store
	registry *registry.Client
	bundler  Bundler
}

// NewHandler 校验依赖并构建流水线处理器。Bundler 缺省为禁用实现。
func NewHandler(opts Options) (*Handler, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("registry client is required")
	}
	bundler := opts.Bundler
	if bundler == nil {
		bundler = DisabledBundler()
	}
	return &Handler{
		cfg:      opts.Config,
		logger:   opts.Logger,
		store:    opts.Store,
		registry: opts.Registry,
		bundler:  bundler,
	}, nil
}

// Handle 按固定顺序决策：路径解析 → 磁盘缓存门 → registry 版本解析
// （精确版本 → dist-tag → range）→ 同步拉取或重定向 → 服务。
// 失败只报告一次，流水线内部不做任何重试。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	rawPath := string(c.Request().URI().Path())
	rawQuery := string(c.Request().URI().QueryString())

	req, err := pkgpath.Parse(rawPath, rawQuery)
	if err != nil {
		h.logResult(pkgpath.PackageRequest{File: rawPath}, fiber.StatusForbidden, false, requestID, started, err)
		return sendText(c, fiber.StatusForbidden, "invalid URL: "+rawPath)
	}

	// 目录存在即命中，tag/range 的目录不会被物化，天然走 registry 分支
	dir := h.store.PackageDir(req.Name, req.Version)
	if h.store.IsCached(dir) {
		return h.servePackage(c, req, dir, true, requestID, started)
	}

	ctx := requestContext(c)
	info, err := h.registry.PackageInfo(ctx, req.Name)
	if err != nil {
		if errors.Is(err, registry.ErrPackageNotFound) {
			return h.notFound(c, req, requestID, started, fmt.Sprintf("package %q", req.Name))
		}
		return h.serverError(c, req, requestID, started, err)
	}

	version, exact, ok := info.ResolveVersion(req.Version)
	if !ok {
		return h.notFound(c, req, requestID, started, fmt.Sprintf("version %s@%s", req.Name, req.Version))
	}

	if !exact {
		// dist-tag 或 range：重定向到固定版本的规范 URL
		location := req.Canonical(version)
		h.logResult(req, fiber.StatusFound, false, requestID, started, nil)
		return sendRedirect(c, location, h.cfg.RedirectTTL.DurationValue())
	}

	if !h.store.IsCached(dir) {
		tarball := info.TarballURL(version)
		if tarball == "" {
			return h.serverError(c, req, requestID, started, fmt.Errorf("registry metadata missing tarball for %s@%s", req.Name, version))
		}
		// 同步拉取：请求阻塞到解压完成或失败
		if err := h.registry.FetchAndExtract(ctx, tarball, dir); err != nil {
			return h.serverError(c, req, requestID, started, err)
		}
	}

	return h.servePackage(c, req, dir, false, requestID, started)
}

// servePackage 在包目录已物化后分派：bundle 伪路径 → 显式文件 → 入口文件。
func (h *Handler) servePackage(c fiber.Ctx, req pkgpath.PackageRequest, dir string, cacheHit bool, requestID string, started time.Time) error {
	if h.cfg.BundlePath != "" && req.File == h.cfg.BundlePath {
		err := h.bundler.Bundle(c, req, dir)
		h.logResult(req, c.Response().StatusCode(), cacheHit, requestID, started, err)
		return err
	}
	if req.File != "" {
		return h.serveFile(c, req, dir, cacheHit, requestID, started)
	}
	return h.serveEntry(c, req, dir, cacheHit, requestID, started)
}

// serveFile 处理显式文件路径：index 回退关闭；未命中且开启 auto-index 时，
// 目录先做尾斜杠规范化重定向，再返回目录树。
func (h *Handler) serveFile(c fiber.Ctx, req pkgpath.PackageRequest, dir string, cacheHit bool, requestID string, started time.Time) error {
	full, err := cache.ContainedPath(dir, req.File)
	if err != nil {
		return h.notFound(c, req, requestID, started, fmt.Sprintf("file %q in %s@%s", req.File, req.Name, req.Version))
	}

	resolved, err := resolve.File(full, false)
	switch {
	case err == nil:
		return h.sendResolvedFile(c, req, resolved, cacheHit, requestID, started)
	case errors.Is(err, resolve.ErrNotFound):
		return h.serveAutoIndex(c, req, dir, full, cacheHit, requestID, started)
	default:
		return h.serverError(c, req, requestID, started, err)
	}
}

// serveAutoIndex 在文件解析未命中后判定目录语义。目录与否由文件系统 stat
// 决定，URL 的尾斜杠只用于重定向规范化。
func (h *Handler) serveAutoIndex(c fiber.Ctx, req pkgpath.PackageRequest, dir, full string, cacheHit bool, requestID string, started time.Time) error {
	subject := fmt.Sprintf("file %q in %s@%s", req.File, req.Name, req.Version)
	if !h.cfg.AutoIndex {
		return h.notFound(c, req, requestID, started, subject)
	}

	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return h.notFound(c, req, requestID, started, subject)
		}
		return h.serverError(c, req, requestID, started, err)
	}
	if !info.IsDir() {
		return h.notFound(c, req, requestID, started, subject)
	}

	if !strings.HasSuffix(req.File, "/") {
		// 目录 URL 规范化：统一带尾斜杠再出目录树
		location := req.Path() + "/"
		if req.Search != "" {
			location += "?" + req.Search
		}
		h.logResult(req, fiber.StatusFound, cacheHit, requestID, started, nil)
		return sendRedirect(c, location, 0)
	}

	tree, err := resolve.Tree(requestContext(c), dir, req.File, h.cfg.MaxTreeDepth)
	if err != nil {
		return h.serverError(c, req, requestID, started, err)
	}
	h.logResult(req, fiber.StatusOK, cacheHit, requestID, started, nil)
	return sendJSON(c, tree, h.cfg.FileTTL.DurationValue())
}

// serveEntry 处理省略文件名的请求：读取清单入口字段并按 index 回退解析。
func (h *Handler) serveEntry(c fiber.Ctx, req pkgpath.PackageRequest, dir string, cacheHit bool, requestID string, started time.Time) error {
	manifest, err := h.store.Manifest(dir)
	if err != nil {
		return h.serverError(c, req, requestID, started, err)
	}

	field := mainFieldParam
	override := false
	if values, parseErr := url.ParseQuery(req.Search); parseErr == nil {
		if requested := values.Get(mainFieldParam); requested != "" {
			field = requested
			override = true
		}
	}

	entry := defaultEntry
	if raw, ok := manifest[field]; ok {
		if text, isString := raw.(string); isString && text != "" {
			entry = text
		} else if override {
			return h.notFound(c, req, requestID, started, fmt.Sprintf("field %q in %s@%s manifest", field, req.Name, req.Version))
		}
	} else if override {
		return h.notFound(c, req, requestID, started, fmt.Sprintf("field %q in %s@%s manifest", field, req.Name, req.Version))
	}

	full, err := cache.ContainedPath(dir, entry)
	if err != nil {
		return h.notFound(c, req, requestID, started, fmt.Sprintf("entry %q in %s@%s", entry, req.Name, req.Version))
	}

	resolved, err := resolve.File(full, true)
	switch {
	case err == nil:
		return h.sendResolvedFile(c, req, resolved, cacheHit, requestID, started)
	case errors.Is(err, resolve.ErrNotFound):
		return h.notFound(c, req, requestID, started, fmt.Sprintf("entry %q in %s@%s", entry, req.Name, req.Version))
	default:
		return h.serverError(c, req, requestID, started, err)
	}
}

func (h *Handler) sendResolvedFile(c fiber.Ctx, req pkgpath.PackageRequest, path string, cacheHit bool, requestID string, started time.Time) error {
	if err := sendFile(c, path, h.cfg.FileTTL.DurationValue()); err != nil {
		h.logResult(req, fiber.StatusInternalServerError, cacheHit, requestID, started, err)
		c.Response().ResetBody()
		return sendServerError(c)
	}
	h.logResult(req, fiber.StatusOK, cacheHit, requestID, started, nil)
	return nil
}

func (h *Handler) notFound(c fiber.Ctx, req pkgpath.PackageRequest, requestID string, started time.Time, subject string) error {
	h.logResult(req, fiber.StatusNotFound, false, requestID, started, nil)
	return sendNotFound(c, subject)
}

func (h *Handler) serverError(c fiber.Ctx, req pkgpath.PackageRequest, requestID string, started time.Time, cause error) error {
	h.logResult(req, fiber.StatusInternalServerError, false, requestID, started, cause)
	return sendServerError(c)
}

// logResult 输出结构化请求日志，失败时附带原始错误。
func (h *Handler) logResult(req pkgpath.PackageRequest, status int, cacheHit bool, requestID string, started time.Time, err error) {
	fields := logging.RequestFields(req.Name, req.Version, req.File, cacheHit)
	fields["action"] = "serve"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("serve_failed")
		return
	}
	h.logger.WithFields(fields).Info("serve_complete")
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
