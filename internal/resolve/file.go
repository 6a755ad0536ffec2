// Package resolve 提供两个文件系统侧的只读能力：按后缀优先级定位文件，
// 以及为 auto-index 构建目录树。两者都只依赖 stat/readdir，不修改磁盘。
package resolve

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotFound 表示所有候选路径都不存在普通文件。
var ErrNotFound = errors.New("file not found")

// extensions 是候选后缀的固定优先级：先原样，再 .js，最后 .json。
var extensions = []string{"", ".js", ".json"}

// File 在 path 的候选后缀中寻找第一个存在的普通文件。目录不满足后缀匹配；
// 当所有候选都缺席、path 本身是目录且 useIndex 为 true 时，递归一次到
// path/index（递归时关闭 index 回退，避免 index 套 index）。
// 除“不存在”以外的任何文件系统错误都立即向上传播，不伪装成未命中。
func File(path string, useIndex bool) (string, error) {
	for _, ext := range extensions {
		candidate := path + ext
		info, err := os.Stat(candidate)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", err
		}
		if info.Mode().IsRegular() {
			return candidate, nil
		}
	}

	if useIndex {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", ErrNotFound
			}
			return "", err
		}
		if info.IsDir() {
			return File(filepath.Join(path, "index"), false)
		}
	}

	return "", ErrNotFound
}
