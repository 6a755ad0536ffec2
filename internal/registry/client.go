// Package registry 封装对上游 npm registry 的访问：包元数据查询、
// 版本 token 解析（精确版本 → dist-tag → semver range）以及 tarball 拉取解压。
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"
)

// ErrPackageNotFound 表示 registry 不认识这个包。
var ErrPackageNotFound = errors.New("package not found in registry")

// PackageInfo 是 registry 返回的包元数据中流水线关心的部分。
type PackageInfo struct {
	Name     string                  `json:"name"`
	Versions map[string]*VersionInfo `json:"versions"`
	DistTags map[string]string       `json:"dist-tags"`
}

// VersionInfo 描述单个已发布版本的清单摘要。
type VersionInfo struct {
	Version string `json:"version"`
	Dist    Dist   `json:"dist"`
}

// Dist 携带该版本 tarball 的下载地址。
type Dist struct {
	Tarball string `json:"tarball"`
}

// Client 复用共享 http.Client 访问单个上游 registry。
type Client struct {
	baseURL *url.URL
	client  *http.Client
	logger  *logrus.Logger
}

// NewClient 构建 registry 客户端，baseURL 必须是 http/https 绝对地址。
func NewClient(baseURL string, client *http.Client, logger *logrus.Logger) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid registry url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid registry url: %s", baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{baseURL: parsed, client: client, logger: logger}, nil
}

// PackageInfo 拉取完整包元数据。404 映射为 ErrPackageNotFound，
// 其余非 200 状态与传输错误按上游错误返回，调用方不做重试。
func (c *Client) PackageInfo(ctx context.Context, name string) (*PackageInfo, error) {
	infoURL := c.baseURL.JoinPath(encodePackageName(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrPackageNotFound
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("registry returned status %d for %s", resp.StatusCode, name)
	}

	var info PackageInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode registry metadata: %w", err)
	}
	if info.Name == "" {
		info.Name = name
	}
	return &info, nil
}

// encodePackageName 保留 scope 包名中的 /，其余字符按路径段转义。
func encodePackageName(name string) string {
	if scope, inner, ok := strings.Cut(name, "/"); ok {
		return url.PathEscape(scope) + "/" + url.PathEscape(inner)
	}
	return url.PathEscape(name)
}

// ResolveVersion 按固定顺序解析版本 token：精确版本命中 → dist-tag 命中 →
// 在全部已发布版本中找满足 range 的最大版本。exact 标记 token 本身是否
// 就是精确版本，流水线据此决定是直接服务还是重定向。
func (p *PackageInfo) ResolveVersion(token string) (version string, exact bool, ok bool) {
	if _, found := p.Versions[token]; found {
		return token, true, true
	}
	if tagged, found := p.DistTags[token]; found {
		return tagged, false, true
	}

	constraint, err := semver.NewConstraint(token)
	if err != nil {
		return "", false, false
	}

	var best *semver.Version
	for published := range p.Versions {
		candidate, err := semver.NewVersion(published)
		if err != nil {
			// 非 semver 的历史版本号跳过 range 匹配，仍可作为精确 key 使用
			continue
		}
		if !constraint.Check(candidate) {
			continue
		}
		if best == nil || candidate.GreaterThan(best) {
			best = candidate
		}
	}
	if best == nil {
		return "", false, false
	}
	return best.Original(), false, true
}

// TarballURL 返回指定精确版本的 tarball 地址，版本不存在时返回空串。
func (p *PackageInfo) TarballURL(version string) string {
	if info, ok := p.Versions[version]; ok {
		return info.Dist.Tarball
	}
	return ""
}
