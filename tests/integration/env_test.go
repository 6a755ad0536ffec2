package integration

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/pkgwire/pkgwire/internal/cache"
	"github.com/pkgwire/pkgwire/internal/config"
	"github.com/pkgwire/pkgwire/internal/registry"
	"github.com/pkgwire/pkgwire/internal/serve"
	"github.com/pkgwire/pkgwire/internal/server"
	"github.com/pkgwire/pkgwire/internal/server/routes"
)

// stubPackage 描述 stub registry 中一个包的版本内容与 dist-tag。
type stubPackage struct {
	versions map[string]map[string]string
	distTags map[string]string
}

// testEnv 复刻 main.go 的装配顺序：配置文件 → store → upstream client →
// registry client → handler → Fiber app，统一通过 app.Test 驱动。
type testEnv struct {
	app      *fiber.App
	store    *cache.Store
	cfg      *config.Config
	upstream *httptest.Server
}

func newTestEnv(t *testing.T, pkgs map[string]stubPackage, extraConfig string) *testEnv {
	t.Helper()

	upstream := newRegistryStub(t, pkgs)
	storageDir := t.TempDir()

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := fmt.Sprintf(`
LogLevel = "info"
ListenPort = 5000
StoragePath = "%s"
RegistryURL = "%s"
UpstreamTimeout = "5s"
RedirectTTL = "10m"
FileTTL = "1h"
%s`, storageDir, upstream.URL, extraConfig)
	if err := os.WriteFile(configPath, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load error: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := cache.NewStore(cfg.StoragePath)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}

	client, err := registry.NewClient(cfg.RegistryURL, server.NewUpstreamClient(cfg), logger)
	if err != nil {
		t.Fatalf("registry client error: %v", err)
	}

	handler, err := serve.NewHandler(serve.Options{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Registry: client,
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Handler:    handler,
		ListenPort: cfg.ListenPort,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	routes.RegisterDiagnosticsRoutes(app)
	t.Cleanup(func() { _ = app.Shutdown() })

	return &testEnv{app: app, store: store, cfg: cfg, upstream: upstream}
}

func (env *testEnv) request(t *testing.T, method, target string) *http.Response {
	t.Helper()
	resp, err := env.app.Test(httptest.NewRequest(method, target, nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}

func (env *testEnv) get(t *testing.T, target string) *http.Response {
	t.Helper()
	return env.request(t, http.MethodGet, target)
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("读取响应失败: %v", err)
	}
	return string(body)
}

// newRegistryStub 按包名提供元数据与 tarball，未声明的包返回 404。
func newRegistryStub(t *testing.T, pkgs map[string]stubPackage) *httptest.Server {
	t.Helper()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rest, ok := strings.CutPrefix(r.URL.Path, "/tarballs/"); ok {
			name, version, found := strings.Cut(rest, "/")
			pkg, exists := pkgs[name]
			if !found || !exists {
				http.NotFound(w, r)
				return
			}
			files, exists := pkg.versions[strings.TrimSuffix(version, ".tgz")]
			if !exists {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(packTarball(t, files))
			return
		}

		name := strings.TrimPrefix(r.URL.Path, "/")
		pkg, exists := pkgs[name]
		if !exists {
			http.NotFound(w, r)
			return
		}

		versions := map[string]any{}
		for v := range pkg.versions {
			versions[v] = map[string]any{
				"version": v,
				"dist": map[string]any{
					"tarball": fmt.Sprintf("%s/tarballs/%s/%s.tgz", srv.URL, name, v),
				},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":      name,
			"versions":  versions,
			"dist-tags": pkg.distTags,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func packTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		hdr := &tar.Header{
			Name:    "package/" + name,
			Mode:    0o644,
			Size:    int64(len(body)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header error: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("tar body error: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close error: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close error: %v", err)
	}
	return buf.Bytes()
}
