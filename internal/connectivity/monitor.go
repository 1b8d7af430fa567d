// Package connectivity 判断上游是否可达，并在恢复连接时触发已登记的同步标签。
package connectivity

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dentalnet/offline-edge/internal/version"
)

// ErrUnknownTag 表示标签没有对应的 drain 处理函数。
var ErrUnknownTag = errors.New("sync tag has no handler")

// DrainFunc 执行一次同步，返回仍需重放的任务数量。
type DrainFunc func(ctx context.Context) (remaining int, err error)

// Prober 探测上游连通性，返回 nil 表示在线。
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc 让普通函数满足 Prober。
type ProberFunc func(ctx context.Context) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// HTTPProber 以 GET 请求探测地址，收到任何非 5xx 响应即视为在线。
type HTTPProber struct {
	Client *http.Client
	URL    string
}

func (p HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Cache-Control", "no-cache")
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 500 {
		return errors.New(resp.Status)
	}
	return nil
}

// Monitor 在存在已登记标签时周期探测上游；一旦在线便依次调用各标签的 drain，
// 队列清空后注销标签。代理层通过 ReportSuccess/ReportFailure 反馈真实请求结果。
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   *logrus.Logger

	mu sync.Mutex

	// tags 记录每个标签最近一次登记的序号，drain 期间的新登记不会被注销覆盖。
	tags     map[string]uint64
	seq      uint64
	handlers map[string]DrainFunc
	online   bool
	lastSeen time.Time

	wake chan struct{}
}

// NewMonitor 构造监视器，初始状态视为在线。
func NewMonitor(prober Prober, interval time.Duration, logger *logrus.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		logger:   logger,
		tags:     make(map[string]uint64),
		handlers: make(map[string]DrainFunc),
		online:   true,
		wake:     make(chan struct{}, 1),
	}
}

// Handle 为标签设置 drain 处理函数。
func (m *Monitor) Handle(tag string, fn DrainFunc) {
	m.mu.Lock()
	m.handlers[tag] = fn
	m.mu.Unlock()
}

// Register 登记标签，等待下一次连通时触发。
func (m *Monitor) Register(tag string) {
	m.mu.Lock()
	m.seq++
	m.tags[tag] = m.seq
	m.mu.Unlock()
	m.signal()
}

// Registered 返回当前登记的标签（排序后）。
func (m *Monitor) Registered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tags))
	for tag := range m.tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Online 返回最近一次观测到的连通状态。
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// LastSeen 返回最近一次确认上游可达的时间。
func (m *Monitor) LastSeen() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen
}

// ReportSuccess 记录一次成功的上游访问；由离线转为在线时唤醒同步。
func (m *Monitor) ReportSuccess() {
	if m.setOnline(true) {
		m.signal()
	}
}

// ReportFailure 记录一次网络层失败。
func (m *Monitor) ReportFailure(err error) {
	if m.setOnline(false) {
		m.logger.WithFields(logrus.Fields{"action": "connectivity"}).WithError(err).Warn("upstream_offline")
	}
}

// Run 阻塞运行探测循环直到 ctx 取消。
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.wake:
		}
		if len(m.Registered()) == 0 {
			continue
		}
		if err := m.prober.Probe(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.ReportFailure(err)
			continue
		}
		m.setOnline(true)
		m.syncAll(ctx)
	}
}

// Trigger 立即执行某个标签的 drain，无论是否登记；队列清空后注销该标签。
// drain 期间再次登记的标签保持登记，留给下一轮。
func (m *Monitor) Trigger(ctx context.Context, tag string) (int, error) {
	m.mu.Lock()
	fn, ok := m.handlers[tag]
	registeredAt := m.tags[tag]
	m.mu.Unlock()
	if !ok {
		return 0, ErrUnknownTag
	}

	remaining, err := fn(ctx)
	fields := logrus.Fields{"action": "sync", "sync_tag": tag, "remaining": remaining}
	if err != nil {
		m.logger.WithFields(fields).WithError(err).Warn("sync_drain_failed")
		return remaining, err
	}
	if remaining == 0 {
		m.mu.Lock()
		if m.tags[tag] == registeredAt {
			delete(m.tags, tag)
		}
		m.mu.Unlock()
	}
	m.logger.WithFields(fields).Info("sync_drain_complete")
	return remaining, nil
}

func (m *Monitor) syncAll(ctx context.Context) {
	for _, tag := range m.Registered() {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.Trigger(ctx, tag); errors.Is(err, ErrUnknownTag) {
			m.logger.WithFields(logrus.Fields{"action": "sync", "sync_tag": tag}).Warn("sync_tag_unhandled")
		}
	}
}

// setOnline 更新状态并返回是否发生了切换。
func (m *Monitor) setOnline(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if online {
		m.lastSeen = time.Now()
	}
	changed := m.online != online
	m.online = online
	return changed
}

func (m *Monitor) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
