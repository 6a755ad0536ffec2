// Package pkgpath 负责把 URL 路径解析成包名/版本/文件三元组，是整个解析流水线的入口。
package pkgpath

import (
	"errors"
	"strings"
)

// ErrInvalidPath 表示路径不符合 /name[@version][/file] 语法。
var ErrInvalidPath = errors.New("invalid package path")

// DefaultTag 是省略版本时使用的 dist-tag。
const DefaultTag = "latest"

// PackageRequest 描述一次解析后的请求，解析完成后不再修改。
// Version 可能是精确版本、dist-tag 或 semver range，解析层不做区分，
// 由流水线在拿到 registry 元数据之后判定。
type PackageRequest struct {
	Name    string
	Version string
	File    string // 包段之后的剩余路径，原样保留（含前导与结尾斜杠）
	Search  string // 原始 query string，不做解码，重定向时原样拼回
}

// Parse 解析 URL 路径与 query string。版本分隔符是第一个路径段中最后一个 @，
// 且不能是 scope 前缀的首字符；省略版本时落到 latest。路径层不处理 ".."，
// 受限拼接由文件解析器负责。
func Parse(rawPath, rawQuery string) (PackageRequest, error) {
	if len(rawPath) < 2 || rawPath[0] != '/' {
		return PackageRequest{}, ErrInvalidPath
	}

	rest := rawPath[1:]

	// 包段：非 scope 包取第一段，scope 包（@scope/name）跨两段。
	segEnd := strings.Index(rest, "/")
	if strings.HasPrefix(rest, "@") {
		if segEnd < 0 {
			return PackageRequest{}, ErrInvalidPath
		}
		next := strings.Index(rest[segEnd+1:], "/")
		if next < 0 {
			segEnd = len(rest)
		} else {
			segEnd += 1 + next
		}
	} else if segEnd < 0 {
		segEnd = len(rest)
	}

	spec := rest[:segEnd]
	file := rest[segEnd:]

	name := spec
	version := ""
	if at := strings.LastIndex(spec, "@"); at > 0 {
		name = spec[:at]
		version = spec[at+1:]
		if version == "" {
			return PackageRequest{}, ErrInvalidPath
		}
	}

	if err := validateName(name); err != nil {
		return PackageRequest{}, err
	}
	if version == "" {
		version = DefaultTag
	}

	return PackageRequest{
		Name:    name,
		Version: version,
		File:    file,
		Search:  rawQuery,
	}, nil
}

// validateName 校验包名结构：scope 包必须是 @scope/name 两段，
// 任何一段都不能为空，去掉 scope 前缀后不允许再出现 @。
func validateName(name string) error {
	if name == "" {
		return ErrInvalidPath
	}

	body := name
	if strings.HasPrefix(name, "@") {
		scope, inner, ok := strings.Cut(name[1:], "/")
		if !ok || scope == "" || inner == "" {
			return ErrInvalidPath
		}
		if strings.Contains(inner, "/") {
			return ErrInvalidPath
		}
		body = scope + "/" + inner
	} else if strings.Contains(name, "/") {
		return ErrInvalidPath
	}

	if strings.Contains(body, "@") {
		return ErrInvalidPath
	}
	return nil
}

// Canonical 以给定的精确版本重建规范 URL，File 与 Search 原样保留，
// 供 dist-tag/range 的重定向使用。
func (r PackageRequest) Canonical(version string) string {
	var b strings.Builder
	b.WriteString("/")
	b.WriteString(r.Name)
	b.WriteString("@")
	b.WriteString(version)
	b.WriteString(r.File)
	if r.Search != "" {
		b.WriteString("?")
		b.WriteString(r.Search)
	}
	return b.String()
}

// Path 返回当前请求对应的路径（不含 query），用于日志与尾斜杠重定向。
func (r PackageRequest) Path() string {
	return "/" + r.Name + "@" + r.Version + r.File
}
