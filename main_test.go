package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/dentalnet/offline-edge/internal/config"
	"github.com/dentalnet/offline-edge/internal/lifecycle"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("OFFLINE_EDGE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
}

func TestRunVersionOutput(t *testing.T) {
	output := useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(output.out.String(), "offline-edge") {
		t.Fatalf("version 输出应包含 offline-edge 标识")
	}
}

func TestRunCheckConfigWithDefaults(t *testing.T) {
	useBufferWriters(t)
	dir := t.TempDir()
	configPath := writeConfigFile(t, fmt.Sprintf(`
StoragePath = "%s"
Origin = "clinic.local"
Upstream = "http://127.0.0.1:8080"
`, filepath.Join(dir, "storage")))

	if code := run(cliOptions{configPath: configPath, checkOnly: true}); code != 0 {
		t.Fatalf("期望退出码 0，得到 %d: %s", code, stdErrBuffer().String())
	}
	if errOut := stdErrBuffer().String(); errOut != "" {
		t.Fatalf("校验成功时不应输出错误，得到 %s", errOut)
	}
}

func TestBuildEdgeWiresDiagnostics(t *testing.T) {
	useBufferWriters(t)
	dir := t.TempDir()
	configPath := writeConfigFile(t, fmt.Sprintf(`
StoragePath = "%s"
Origin = "clinic.local"
Upstream = "http://127.0.0.1:1"
UpstreamTimeout = "1s"
`, filepath.Join(dir, "storage")))

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	e, err := buildEdge(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("装配失败: %v", err)
	}
	defer e.Close()

	// 上游不可达时安装失败，版本进入 redundant，但诊断接口仍可用
	if e.lifecycle.State() != lifecycle.StateRedundant {
		t.Fatalf("期望 redundant，得到 %s", e.lifecycle.State())
	}
	resp, err := e.app.Test(httptest.NewRequest(http.MethodGet, "/-/status", nil))
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望 200，得到 %d", resp.StatusCode)
	}
}

func TestBuildEdgeServesCacheAfterOfflineRestart(t *testing.T) {
	useBufferWriters(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/clinics" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id":1,"name":"Centro"}]`))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>shell</html>"))
	}))
	storage := filepath.Join(t.TempDir(), "storage")
	loadAt := func(version, upstreamURL string) *config.Config {
		t.Helper()
		cfg, err := config.Load(writeConfigFile(t, fmt.Sprintf(`
StoragePath = "%s"
Origin = "clinic.local"
Upstream = "%s"
UpstreamTimeout = "2s"
CacheVersion = "%s"
`, storage, upstreamURL, version)))
		if err != nil {
			t.Fatalf("加载配置失败: %v", err)
		}
		return cfg
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	getClinics := func(e *edge) (int, string, string) {
		t.Helper()
		resp, err := e.app.Test(httptest.NewRequest(http.MethodGet, "http://clinic.local/api/clinics", nil))
		if err != nil {
			t.Fatalf("请求失败: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, resp.Header.Get("X-Offline-Edge-Source"), string(body)
	}

	online, err := buildEdge(context.Background(), loadAt("1.0.0", upstream.URL), logger)
	if err != nil {
		t.Fatalf("装配失败: %v", err)
	}
	if online.lifecycle.State() != lifecycle.StateActive {
		t.Fatalf("在线启动应直接激活，得到 %s", online.lifecycle.State())
	}
	status, _, body := getClinics(online)
	if status != http.StatusOK {
		t.Fatalf("在线请求期望 200，得到 %d", status)
	}
	online.Close()
	deadURL := upstream.URL
	upstream.Close()

	// 同一版本离线重启：从磁盘恢复 active，不再预取
	restarted, err := buildEdge(context.Background(), loadAt("1.0.0", deadURL), logger)
	if err != nil {
		t.Fatalf("装配失败: %v", err)
	}
	if restarted.lifecycle.State() != lifecycle.StateActive {
		t.Fatalf("离线重启应恢复 active，得到 %s", restarted.lifecycle.State())
	}
	status, source, cached := getClinics(restarted)
	if status != http.StatusOK || source != "cache" || cached != body {
		t.Fatalf("离线重启后应返回缓存: %d %s %q", status, source, cached)
	}
	restarted.Close()

	// 新版本离线安装失败：旧版本继续服务
	upgraded, err := buildEdge(context.Background(), loadAt("1.1.0", deadURL), logger)
	if err != nil {
		t.Fatalf("装配失败: %v", err)
	}
	defer upgraded.Close()
	if upgraded.lifecycle.State() != lifecycle.StateRedundant {
		t.Fatalf("离线安装新版本应失败，得到 %s", upgraded.lifecycle.State())
	}
	if upgraded.lifecycle.Status().Previous != "dentalnet-v1.0.0" {
		t.Fatalf("旧版本应继续服务，得到 %+v", upgraded.lifecycle.Status())
	}
	status, source, cached = getClinics(upgraded)
	if status != http.StatusOK || source != "cache" || cached != body {
		t.Fatalf("旧版本缓存应继续应答: %d %s %q", status, source, cached)
	}
}
