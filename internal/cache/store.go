// Package cache 管理按 name@version 物化到磁盘的包目录。目录布局：
//
//	<StoragePath>/<packageName>/<version>/...   # 解压后的包内容
//
// 目录内 package.json 的存在即视为缓存命中，没有额外索引或 TTL 存储。
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ManifestName 是判定缓存有效性的清单文件名。
const ManifestName = "package.json"

// ErrManifestMissing 表示包目录内缺少清单文件。
var ErrManifestMissing = errors.New("package manifest missing")

// Store 以 basePath 为根管理包缓存目录，整站复用一份实例。
type Store struct {
	basePath string
}

// NewStore 解析并创建缓存根目录。缓存根是进程级状态，启动时初始化一次，
// 通过显式传参而非全局变量暴露，方便测试指向独立的临时目录。
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &Store{basePath: abs}, nil
}

// BasePath 返回缓存根的绝对路径。
func (s *Store) BasePath() string {
	return s.basePath
}

// PackageDir 计算 name@version 的确定性缓存目录。tag/range 永远先被解析成
// 精确版本，因此磁盘上只存在按精确版本命名的目录。
func (s *Store) PackageDir(name, version string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(name), version)
}

// IsCached 判定包目录是否已物化：清单文件直接位于目录内且是普通文件。
// 这是一个存活性检查而非完整性检查，解压流程通过临时目录 + rename
// 原子发布来保证清单不会以半写状态出现。
func (s *Store) IsCached(packageDir string) bool {
	info, err := os.Stat(filepath.Join(packageDir, ManifestName))
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// Manifest 读取并解析包清单，供入口文件解析使用。清单缺失返回
// ErrManifestMissing，解析失败返回包装后的原始错误。
func (s *Store) Manifest(packageDir string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(packageDir, ManifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrManifestMissing
		}
		return nil, err
	}

	var manifest map[string]any
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestName, err)
	}
	return manifest, nil
}

// ContainedPath 将请求中的文件段受限拼接到包目录下，拒绝逃逸出包目录的路径。
func ContainedPath(packageDir, file string) (string, error) {
	joined := filepath.Join(packageDir, filepath.FromSlash(file))
	if joined != packageDir && !strings.HasPrefix(joined, packageDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes package directory: %s", file)
	}
	return joined, nil
}
