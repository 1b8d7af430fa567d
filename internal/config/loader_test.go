package config

import (
	"errors"
	"testing"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
Origin = "clinic.local"
Upstream = "http://127.0.0.1:8080"
UpstreamTimeout = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsIntegerSeconds(t *testing.T) {
	cfg := `
StoragePath = "./data"
Origin = "clinic.local"
Upstream = "http://127.0.0.1:8080"

[Sync]
ProbeInterval = 45
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if got := loaded.Sync.ProbeInterval.DurationValue().Seconds(); got != 45 {
		t.Fatalf("整数秒应被解析为 45s，得到 %v", got)
	}
	if loaded.Sync.Tag != "background-sync-appointments" {
		t.Fatalf("Sync.Tag 应使用默认值，得到 %s", loaded.Sync.Tag)
	}
}

func TestLoadNormalizesStaticExtensions(t *testing.T) {
	cfg := `
StoragePath = "./data"
Origin = "clinic.local"
Upstream = "http://127.0.0.1:8080"
StaticExtensions = ["CSS", ".woff2"]
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.StaticExtensions[0] != ".css" || loaded.Global.StaticExtensions[1] != ".woff2" {
		t.Fatalf("扩展名应规范化: %v", loaded.Global.StaticExtensions)
	}
}

func TestLoadReportsFieldForBadUpstream(t *testing.T) {
	path := writeTempConfig(t, `
Origin = "clinic.local"
Upstream = "ftp://127.0.0.1"
`)
	_, err := Load(path)
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("应返回 FieldError，得到 %v", err)
	}
	if fieldErr.Field != "Global.Upstream" || fieldErr.Err == nil {
		t.Fatalf("字段路径或底层错误缺失: %+v", fieldErr)
	}
}
