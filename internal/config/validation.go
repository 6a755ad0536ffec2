package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if c.StoragePath == "" {
		return newFieldError("StoragePath", "不能为空")
	}
	if err := validateRegistryURL(c.RegistryURL); err != nil {
		return fmt.Errorf("RegistryURL: %w", err)
	}
	if c.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}
	if c.RedirectTTL.DurationValue() < 0 {
		return newFieldError("RedirectTTL", "不能为负数")
	}
	if c.FileTTL.DurationValue() <= 0 {
		return newFieldError("FileTTL", "必须大于 0")
	}
	if c.MaxTreeDepth <= 0 {
		return newFieldError("MaxTreeDepth", "必须大于 0")
	}
	if c.BundlePath != "" && !strings.HasPrefix(c.BundlePath, "/") {
		return newFieldError("BundlePath", "必须以 / 开头")
	}

	return nil
}

func validateRegistryURL(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
