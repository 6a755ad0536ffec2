package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// Config 是 TOML 文件映射的整体结构，全部字段在启动时定型。
type Config struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	// StoragePath 是包缓存根目录，进程级一次性初始化。
	StoragePath string `mapstructure:"StoragePath"`

	// RegistryURL 是上游 npm registry 的基础地址。
	RegistryURL     string   `mapstructure:"RegistryURL"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`

	// RedirectTTL 控制 tag/range 重定向的缓存时长，0 表示不下发缓存头。
	RedirectTTL Duration `mapstructure:"RedirectTTL"`
	// FileTTL 控制精确版本文件响应的缓存时长。
	FileTTL Duration `mapstructure:"FileTTL"`

	// AutoIndex 打开后，目录请求会返回 JSON 目录树。
	AutoIndex    bool `mapstructure:"AutoIndex"`
	MaxTreeDepth int  `mapstructure:"MaxTreeDepth"`

	// BundlePath 是触发打包协作方的伪文件名，留空表示关闭该入口。
	BundlePath string `mapstructure:"BundlePath"`
}
