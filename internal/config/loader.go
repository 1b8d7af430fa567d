package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applySyncDefaults(&cfg.Sync)
	for i := range cfg.Remotes {
		cfg.Remotes[i].Domain = strings.ToLower(strings.TrimSpace(cfg.Remotes[i].Domain))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage
	if cfg.Sync.DBPath == "" {
		cfg.Sync.DBPath = filepath.Join(absStorage, "sync.db")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("AppName", "dentalnet")
	v.SetDefault("CacheVersion", "1.0.0")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxCacheEntrySize", 8*1024*1024)
	v.SetDefault("SkipWaiting", true)
	v.SetDefault("AppShell", []string{"/", "/index.html", "/manifest.json"})
	v.SetDefault("APIPrefix", "/api/")
	v.SetDefault("IconsPrefix", "/icons/")
	v.SetDefault("StaticExtensions", []string{".css", ".js", ".png", ".jpg", ".svg"})
	v.SetDefault("ListingKeywords", []string{"clinics", "locations"})
	v.SetDefault("OfflineMessage", "Sem conexão. Algumas funções estão indisponíveis.")
	v.SetDefault("Sync.Tag", "background-sync-appointments")
	v.SetDefault("Sync.Routes", []string{"/api/appointments"})
	v.SetDefault("Sync.MaxRetries", 5)
	v.SetDefault("Sync.ProbeInterval", "15s")
	v.SetDefault("Sync.ProbePath", "/")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.MaxCacheEntrySize == 0 {
		g.MaxCacheEntrySize = 8 * 1024 * 1024
	}
	g.AppName = strings.TrimSpace(g.AppName)
	g.CacheVersion = strings.TrimPrefix(strings.TrimSpace(g.CacheVersion), "v")
	g.Origin = strings.ToLower(strings.TrimSpace(g.Origin))
	for i, ext := range g.StaticExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		g.StaticExtensions[i] = ext
	}
}

func applySyncDefaults(s *SyncConfig) {
	if s.MaxRetries == 0 {
		s.MaxRetries = 5
	}
	if s.ProbeInterval.DurationValue() == 0 {
		s.ProbeInterval = Duration(15 * time.Second)
	}
	if s.ProbePath == "" {
		s.ProbePath = "/"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
