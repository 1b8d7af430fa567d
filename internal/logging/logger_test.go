package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dentalnet/offline-edge/internal/config"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "loud"}); err == nil {
		t.Fatalf("非法日志级别应报错")
	}
}

func TestInitLoggerFallbackWhenDirIsFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("创建文件失败: %v", err)
	}

	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocker, "sub", "offline-edge.log"),
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("fallback 时应退回 stdout")
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "offline-edge.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestRequestFieldsMarksOffline(t *testing.T) {
	fields := RequestFields("api", "network-first-cache", "offline", "GET", "/api/clinics")
	if fields["offline"] != true {
		t.Fatalf("offline 来源应标记 offline=true: %v", fields)
	}
	if fields["strategy"] != "network-first-cache" {
		t.Fatalf("strategy 字段缺失: %v", fields)
	}
}

func TestInitLoggerStampsCacheVersion(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info", AppName: "dentalnet", CacheVersion: "1.0.0"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)

	logger.WithField("app", "override").Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("应输出 JSON: %v (%s)", err, buf.String())
	}
	if entry["cache_version"] != "1.0.0" {
		t.Fatalf("缺少 cache_version 字段: %v", entry)
	}
	if entry["app"] != "override" {
		t.Fatalf("调用方字段应优先: %v", entry)
	}
}
