package registry

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

// FetchAndExtract 下载 tarball 并解压到 destDir。解压先落到同级临时目录，
// 成功后用 rename 原子发布，保证缓存门永远不会观察到半写的清单；
// 任何失败都会清理临时目录，使目标仍然呈现“未缓存”。
// 并发请求可能对同一 name@version 竞争拉取：rename 输给先到者时直接
// 放弃本地结果并按成功处理。
func (c *Client) FetchAndExtract(ctx context.Context, tarballURL, destDir string) error {
	if tarballURL == "" {
		return errors.New("tarball url required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tarballURL, http.NoBody)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch tarball: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tarball fetch returned status %d", resp.StatusCode)
	}

	parent := filepath.Dir(destDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create package parent dir: %w", err)
	}

	tempDir, err := os.MkdirTemp(parent, ".extract-*")
	if err != nil {
		return fmt.Errorf("create extract dir: %w", err)
	}

	if err := extractTarball(resp.Body, tempDir); err != nil {
		os.RemoveAll(tempDir)
		return err
	}

	if err := os.Rename(tempDir, destDir); err != nil {
		os.RemoveAll(tempDir)
		if _, statErr := os.Stat(destDir); statErr == nil {
			// 另一请求先发布了同一版本
			if c.logger != nil {
				c.logger.WithFields(logrus.Fields{
					"action": "extract_race_lost",
					"dest":   destDir,
				}).Debug("并发拉取已由先到请求完成")
			}
			return nil
		}
		return fmt.Errorf("publish package dir: %w", err)
	}
	return nil
}

// extractTarball 解压 gzip tar 流。npm tarball 的所有条目都带 package/
// 顶层前缀，剥掉后写入；目录与普通文件之外的条目类型一律跳过，
// 越出目标目录的条目直接判错。
func extractTarball(body io.Reader, destDir string) error {
	gz, err := gzip.NewReader(body)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	reader := tar.NewReader(gz)
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tarball: %w", err)
		}

		rel, ok := stripTopLevel(header.Name)
		if !ok || rel == "" {
			continue
		}

		target, err := containedJoin(destDir, rel)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("extract dir %s: %w", rel, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("extract dir for %s: %w", rel, err)
			}
			if err := writeRegularFile(target, reader, header.FileInfo().Mode()); err != nil {
				return fmt.Errorf("extract file %s: %w", rel, err)
			}
		default:
			// 链接、设备等条目不落盘
		}
	}
}

func writeRegularFile(target string, src io.Reader, mode fs.FileMode) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm()|0o400)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// stripTopLevel 去掉 tar 条目的首个路径段（通常是 package/，
// 个别历史包会用包名做前缀）。没有顶层目录的条目原样保留。
func stripTopLevel(name string) (string, bool) {
	clean := strings.TrimPrefix(name, "./")
	if clean == "" {
		return "", false
	}
	if _, rest, ok := strings.Cut(clean, "/"); ok {
		return rest, true
	}
	return clean, true
}

func containedJoin(destDir, rel string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(rel))
	if target != destDir && !strings.HasPrefix(target, destDir+string(filepath.Separator)) {
		return "", fmt.Errorf("tarball entry escapes destination: %s", rel)
	}
	return target, nil
}
