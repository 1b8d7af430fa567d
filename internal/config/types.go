package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dentalnet/offline-edge/internal/cache"
	"github.com/dentalnet/offline-edge/internal/fallback"
	"github.com/dentalnet/offline-edge/internal/strategy"
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

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述边缘 worker 的全局行为：监听、日志、缓存版本与分类规则。
type GlobalConfig struct {
	ListenPort        int      `mapstructure:"ListenPort"`
	LogLevel          string   `mapstructure:"LogLevel"`
	LogFilePath       string   `mapstructure:"LogFilePath"`
	LogMaxSize        int      `mapstructure:"LogMaxSize"`
	LogMaxBackups     int      `mapstructure:"LogMaxBackups"`
	LogCompress       bool     `mapstructure:"LogCompress"`
	StoragePath       string   `mapstructure:"StoragePath"`
	AppName           string   `mapstructure:"AppName"`
	CacheVersion      string   `mapstructure:"CacheVersion"`
	Origin            string   `mapstructure:"Origin"`
	Upstream          string   `mapstructure:"Upstream"`
	UpstreamTimeout   Duration `mapstructure:"UpstreamTimeout"`
	MaxCacheEntrySize int64    `mapstructure:"MaxCacheEntrySize"`
	SkipWaiting       bool     `mapstructure:"SkipWaiting"`
	AppShell          []string `mapstructure:"AppShell"`
	APIPrefix         string   `mapstructure:"APIPrefix"`
	IconsPrefix       string   `mapstructure:"IconsPrefix"`
	StaticExtensions  []string `mapstructure:"StaticExtensions"`
	ListingKeywords   []string `mapstructure:"ListingKeywords"`
	OfflineMessage    string   `mapstructure:"OfflineMessage"`
}

// SyncConfig 控制后台同步队列：可重放的写接口、重试上限与重连探测。
type SyncConfig struct {
	Tag           string   `mapstructure:"Tag"`
	Routes        []string `mapstructure:"Routes"`
	MaxRetries    int      `mapstructure:"MaxRetries"`
	ProbeInterval Duration `mapstructure:"ProbeInterval"`
	ProbePath     string   `mapstructure:"ProbePath"`
	DBPath        string   `mapstructure:"DBPath"`
}

// RemoteConfig 声明一个跨域主机，浏览器经由 edge 访问它时按 API 请求处理。
type RemoteConfig struct {
	Name     string `mapstructure:"Name"`
	Domain   string `mapstructure:"Domain"`
	Upstream string `mapstructure:"Upstream"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Sync    SyncConfig     `mapstructure:"Sync"`
	Remotes []RemoteConfig `mapstructure:"Remote"`
}

// PartitionNames 返回当前版本期望存在的缓存分区名称。
func (c *Config) PartitionNames() cache.PartitionSet {
	return cache.NewPartitionSet(c.Global.AppName, c.Global.CacheVersion)
}

// Rules 将分类相关配置收敛为不可变的 strategy.Rules。
func (c *Config) Rules() strategy.Rules {
	return strategy.Rules{
		StaticExtensions: append([]string(nil), c.Global.StaticExtensions...),
		IconsPrefix:      c.Global.IconsPrefix,
		APIPrefix:        c.Global.APIPrefix,
		PageHost:         originHost(c.Global.Origin),
	}
}

// FallbackProvider 根据配置构建离线兜底响应生成器。
func (c *Config) FallbackProvider() fallback.Provider {
	return fallback.Provider{
		Message:         c.Global.OfflineMessage,
		ListingKeywords: append([]string(nil), c.Global.ListingKeywords...),
	}
}

// ProbeURL 返回连通性探测地址，即 Upstream + Sync.ProbePath。
func (c *Config) ProbeURL() string {
	base, err := url.Parse(c.Global.Upstream)
	if err != nil {
		return c.Global.Upstream
	}
	return base.ResolveReference(&url.URL{Path: c.Sync.ProbePath}).String()
}

// IsSyncRoute 表示该路径的写请求在离线时是否进入后台同步队列。
func (c *Config) IsSyncRoute(path string) bool {
	for _, prefix := range c.Sync.Routes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func originHost(origin string) string {
	host := strings.ToLower(strings.TrimSpace(origin))
	if idx := strings.LastIndex(host, ":"); idx > -1 && !strings.Contains(host[idx:], "]") {
		host = host[:idx]
	}
	return host
}
