package config

import (
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 30*time.Second {
		t.Fatalf("UpstreamTimeout 应该自动填充默认值，得到 %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Global.CacheVersion != "1.0.0" {
		t.Fatalf("CacheVersion 应去掉 v 前缀，得到 %s", cfg.Global.CacheVersion)
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Fatalf("Sync.MaxRetries 应被解析，得到 %d", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.ProbeInterval.DurationValue() != 10*time.Second {
		t.Fatalf("Sync.ProbeInterval 应被解析")
	}
	if cfg.Sync.DBPath == "" {
		t.Fatalf("Sync.DBPath 应默认落在 StoragePath 下")
	}
	if len(cfg.Global.StaticExtensions) != 5 {
		t.Fatalf("StaticExtensions 应使用默认值: %v", cfg.Global.StaticExtensions)
	}
	if len(cfg.Remotes) != 1 || cfg.Remotes[0].Domain != "db.clinic.local" {
		t.Fatalf("Remote 列表解析错误: %+v", cfg.Remotes)
	}
}

func TestValidateRejectsMissingOrigin(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺少 Origin 的配置应返回错误")
	}
}

func TestPartitionNamesFollowVersion(t *testing.T) {
	cfg := validConfig()
	names := cfg.PartitionNames()
	if names.Static != "dentalnet-v1.0.0" {
		t.Fatalf("static partition mismatch: %s", names.Static)
	}
	if names.API != "dentalnet-api-v1.0.0" {
		t.Fatalf("api partition mismatch: %s", names.API)
	}

	cfg.Global.CacheVersion = "1.1.0"
	if cfg.PartitionNames().Static == names.Static {
		t.Fatalf("版本变化后分区名称必须变化")
	}
}

func TestRulesUsePageHostWithoutPort(t *testing.T) {
	cfg := validConfig()
	cfg.Global.Origin = "clinic.local:5000"
	rules := cfg.Rules()
	if rules.PageHost != "clinic.local" {
		t.Fatalf("PageHost 应忽略端口，得到 %s", rules.PageHost)
	}
}

func TestIsSyncRoute(t *testing.T) {
	cfg := validConfig()
	if !cfg.IsSyncRoute("/api/appointments/42") {
		t.Fatalf("appointments 写请求应进入同步队列")
	}
	if cfg.IsSyncRoute("/api/clinics") {
		t.Fatalf("clinics 不是同步路由")
	}
}

func TestProbeURL(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.ProbePath = "/health"
	if got := cfg.ProbeURL(); got != "http://127.0.0.1:8080/health" {
		t.Fatalf("unexpected probe url: %s", got)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateRejectsUnsafeNames(t *testing.T) {
	testCases := []struct {
		name      string
		appName   string
		version   string
		shouldErr bool
	}{
		{"plain ok", "dentalnet", "1.0.0", false},
		{"empty app", "", "1.0.0", true},
		{"slash in version", "dentalnet", "1/0", true},
		{"dot dot", "..", "1.0.0", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.AppName = tc.appName
			cfg.Global.CacheVersion = tc.version
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for %q/%q", tc.appName, tc.version)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for %q/%q: %v", tc.appName, tc.version, err)
			}
		})
	}
}

func TestValidateRejectsRemoteShadowingOrigin(t *testing.T) {
	cfg := validConfig()
	cfg.Remotes = []RemoteConfig{{Name: "dup", Domain: "clinic.local", Upstream: "https://example.com"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Remote 与 Origin 重复时应报错")
	}
}

func TestValidateRequiresRelativeAppShell(t *testing.T) {
	cfg := validConfig()
	cfg.Global.AppShell = []string{"https://cdn.example.com/app.js"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("AppShell 只允许同源路径")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:        5000,
			StoragePath:       "./data",
			AppName:           "dentalnet",
			CacheVersion:      "1.0.0",
			Origin:            "clinic.local",
			Upstream:          "http://127.0.0.1:8080",
			UpstreamTimeout:   Duration(time.Second),
			MaxCacheEntrySize: 1024,
			AppShell:          []string{"/", "/index.html"},
			APIPrefix:         "/api/",
			IconsPrefix:       "/icons/",
			StaticExtensions:  []string{".css", ".js"},
			ListingKeywords:   []string{"clinics"},
		},
		Sync: SyncConfig{
			Tag:           "background-sync-appointments",
			Routes:        []string{"/api/appointments"},
			MaxRetries:    3,
			ProbeInterval: Duration(time.Second),
			ProbePath:     "/",
		},
	}
}
