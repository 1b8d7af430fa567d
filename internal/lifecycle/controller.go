// Package lifecycle 管理一个缓存版本从安装到接管流量的过程：
// installing → installed → activating → active，安装失败进入 redundant。
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dentalnet/offline-edge/internal/cache"
	"github.com/dentalnet/offline-edge/internal/fetch"
)

// State 是控制器所处的生命周期阶段。
type State string

const (
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActive     State = "active"
	// StateRedundant 表示安装失败，本版本永远不会激活。
	StateRedundant State = "redundant"
)

var (
	// ErrInvalidTransition 表示当前状态不允许请求的迁移，迁移是单向且不可重试的。
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrInstallFailed 表示 app shell 预取或写入失败。
	ErrInstallFailed = errors.New("install failed")
)

const defaultPrefetchConcurrency = 4

// Options 配置 Controller。
type Options struct {
	Manager    *cache.Manager
	Partitions cache.PartitionSet
	Network    fetch.Fetcher
	// OriginURL 是 app shell 路径的基准地址，例如 http://clinic.local。
	OriginURL string
	AppShell  []string
	// SkipWaiting 为 true 时安装完成立即激活。
	SkipWaiting bool
	Logger      *logrus.Logger
	Concurrency int
}

// Status 是供诊断接口输出的快照。
type Status struct {
	State       State      `json:"state"`
	Static      string     `json:"static_partition"`
	API         string     `json:"api_partition"`
	InstalledAt *time.Time `json:"installed_at,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	Evicted     []string   `json:"evicted,omitempty"`
	LastError   string     `json:"last_error,omitempty"`

	// Previous 是本版本接管前仍在服务的旧版本静态分区。
	Previous string `json:"previous_partition,omitempty"`
}

// Controller 驱动生命周期迁移，并在安装后持有当前版本的两个分区。
type Controller struct {
	opts   Options
	logger *logrus.Logger
	now    func() time.Time

	mu          sync.RWMutex
	state       State
	static      *cache.Partition
	api         *cache.Partition
	installedAt time.Time
	claimedAt   time.Time
	evicted     []string
	lastErr     error

	// previous 是上一个激活版本；本版本接管之前由它继续服务。
	previous   cache.PartitionSet
	prevStatic *cache.Partition
	prevAPI    *cache.Partition
}

// New 构造处于 installing 状态的控制器。
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultPrefetchConcurrency
	}
	return &Controller{
		opts:   opts,
		logger: logger,
		now:    time.Now,
		state:  StateInstalling,
	}
}

// Start 在进程启动时调用。已安装过的本版本直接从磁盘恢复，不再回源预取；
// 否则执行 Install。只要本版本没有接管，上一个激活版本（若分区仍在）继续服务，
// 因此离线重启也能从缓存应答。
func (c *Controller) Start(ctx context.Context) error {
	var err error
	if !c.resume(ctx) {
		err = c.Install(ctx)
	}
	if c.State() != StateActive {
		c.adoptPrevious(ctx)
	}
	return err
}

// resume 依据安装标记恢复本版本：曾经激活过则直接回到 active。
func (c *Controller) resume(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInstalling || c.opts.Manager == nil {
		return false
	}
	record, ok := c.opts.Manager.Installed(c.opts.Partitions)
	if !ok {
		return false
	}
	static, err := c.opts.Manager.OpenPartition(ctx, c.opts.Partitions.Static)
	if err != nil {
		return false
	}
	api, err := c.opts.Manager.OpenPartition(ctx, c.opts.Partitions.API)
	if err != nil {
		return false
	}
	c.static, c.api = static, api
	c.installedAt = record.InstalledAt
	c.state = StateInstalled

	if active, ok := c.opts.Manager.Active(); ok && active.Set == c.opts.Partitions {
		c.state = StateActive
		c.claimedAt = active.ClaimedAt
	}
	c.logger.WithFields(c.fields()).Info("lifecycle_resumed")
	if c.state == StateInstalled && c.opts.SkipWaiting {
		_ = c.activateLocked(ctx)
	}
	return true
}

// adoptPrevious 打开上一个激活版本的分区，让它在本版本接管前继续服务。
func (c *Controller) adoptPrevious(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.Manager == nil || c.state == StateActive {
		return
	}
	active, ok := c.opts.Manager.Active()
	if !ok || active.Set == c.opts.Partitions {
		return
	}
	static, err := c.opts.Manager.OpenPartition(ctx, active.Set.Static)
	if err != nil {
		return
	}
	api, err := c.opts.Manager.OpenPartition(ctx, active.Set.API)
	if err != nil {
		return
	}
	c.previous = active.Set
	c.prevStatic, c.prevAPI = static, api
	c.logger.WithFields(c.fields()).WithField("previous_partition", active.Set.Static).Info("lifecycle_previous_serving")
}

// Install 预取全部 app shell 资源并写入静态分区，同时打开（不预填）API 分区。
// 任意资源失败都会中止安装，不写入任何条目，状态变为 redundant。
func (c *Controller) Install(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInstalling {
		return fmt.Errorf("%w: install from %s", ErrInvalidTransition, c.state)
	}

	if err := c.install(ctx); err != nil {
		c.state = StateRedundant
		c.lastErr = err
		c.logger.WithFields(c.fields()).WithError(err).Error("lifecycle_install_failed")
		return err
	}

	c.state = StateInstalled
	c.installedAt = c.now().UTC()
	if err := c.opts.Manager.MarkInstalled(ctx, c.opts.Partitions, c.installedAt); err != nil {
		// 标记缺失只影响下次启动能否免预取
		c.logger.WithFields(c.fields()).WithError(err).Warn("lifecycle_mark_failed")
	}
	c.logger.WithFields(c.fields()).WithField("app_shell", len(c.opts.AppShell)).Info("lifecycle_installed")

	if c.opts.SkipWaiting {
		return c.activateLocked(ctx)
	}
	return nil
}

func (c *Controller) install(ctx context.Context) error {
	if c.opts.Manager == nil {
		return fmt.Errorf("%w: cache manager required", ErrInstallFailed)
	}

	shell, err := c.prefetch(ctx)
	if err != nil {
		return err
	}

	static, err := c.opts.Manager.OpenPartition(ctx, c.opts.Partitions.Static)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrInstallFailed, c.opts.Partitions.Static, err)
	}
	for key, captured := range shell {
		if err := static.Put(ctx, key, captured); err != nil {
			return fmt.Errorf("%w: store %s: %v", ErrInstallFailed, key, err)
		}
	}

	api, err := c.opts.Manager.OpenPartition(ctx, c.opts.Partitions.API)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrInstallFailed, c.opts.Partitions.API, err)
	}

	c.static = static
	c.api = api
	return nil
}

// prefetch 并发拉取 app shell，全部成功才返回结果。
func (c *Controller) prefetch(ctx context.Context) (map[cache.Key]cache.CapturedResponse, error) {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.opts.Concurrency)

	var (
		mu    sync.Mutex
		shell = make(map[cache.Key]cache.CapturedResponse, len(c.opts.AppShell))
	)
	for _, entry := range c.opts.AppShell {
		target := strings.TrimRight(c.opts.OriginURL, "/") + entry
		eg.Go(func() error {
			req, err := fetch.NewRequest(http.MethodGet, target)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInstallFailed, target, err)
			}
			if c.opts.Network == nil {
				return fmt.Errorf("%w: network required", ErrInstallFailed)
			}
			resp, err := c.opts.Network.Fetch(egCtx, req)
			if err != nil {
				return fmt.Errorf("%w: fetch %s: %v", ErrInstallFailed, target, err)
			}
			if !resp.OK() {
				return fmt.Errorf("%w: fetch %s: status %d", ErrInstallFailed, target, resp.Status)
			}
			mu.Lock()
			shell[cache.KeyFor(req)] = cache.Capture(resp)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return shell, nil
}

// Activate 删除旧版本分区并接管流量。
func (c *Controller) Activate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activateLocked(ctx)
}

// SkipWaiting 响应 SKIP_WAITING 控制消息，让已安装但在等待的版本立即激活。
func (c *Controller) SkipWaiting(ctx context.Context) error {
	return c.Activate(ctx)
}

func (c *Controller) activateLocked(ctx context.Context) error {
	if c.state != StateInstalled {
		return fmt.Errorf("%w: activate from %s", ErrInvalidTransition, c.state)
	}
	c.state = StateActivating

	removed, err := c.opts.Manager.EvictStalePartitions(ctx, c.opts.Partitions.Names())
	c.evicted = removed
	if err != nil {
		// 单个旧分区删除失败不影响激活
		c.logger.WithFields(c.fields()).WithError(err).Warn("lifecycle_evict_failed")
	}

	c.claimedAt = c.now().UTC()
	c.state = StateActive
	c.previous = cache.PartitionSet{}
	c.prevStatic, c.prevAPI = nil, nil
	if err := c.opts.Manager.SetActive(ctx, c.opts.Partitions, c.claimedAt); err != nil {
		c.logger.WithFields(c.fields()).WithError(err).Warn("lifecycle_record_failed")
	}
	c.logger.WithFields(c.fields()).WithField("evicted", removed).Info("lifecycle_activated")
	return nil
}

// State 返回当前状态。
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Controls 表示是否有版本在服务：本版本已激活，或上一个激活版本仍在服务。
// 两者都没有时代理直接访问网络。
func (c *Controller) Controls() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateActive || c.prevStatic != nil
}

// Serving 返回当前应答请求的分区：本版本激活后是本版本，之前是上一个激活版本。
// 都没有时返回 nil。
func (c *Controller) Serving() (static, api *cache.Partition) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.servingLocked()
}

func (c *Controller) servingLocked() (static, api *cache.Partition) {
	if c.state == StateActive {
		return c.static, c.api
	}
	return c.prevStatic, c.prevAPI
}

// ClaimedAt 返回接管时间，未激活时为零值。
func (c *Controller) ClaimedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.claimedAt
}

// Partitions 返回当前版本的静态分区与 API 分区，安装成功前为 nil。
func (c *Controller) Partitions() (static, api *cache.Partition) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.static, c.api
}

// Status 返回诊断快照。
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	status := Status{
		State:   c.state,
		Static:  c.opts.Partitions.Static,
		API:     c.opts.Partitions.API,
		Evicted: append([]string(nil), c.evicted...),
	}
	if !c.installedAt.IsZero() {
		t := c.installedAt
		status.InstalledAt = &t
	}
	if !c.claimedAt.IsZero() {
		t := c.claimedAt
		status.ClaimedAt = &t
	}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Error()
	}
	if c.prevStatic != nil {
		status.Previous = c.previous.Static
	}
	return status
}

func (c *Controller) fields() logrus.Fields {
	return logrus.Fields{
		"action":           "lifecycle",
		"state":            string(c.state),
		"static_partition": c.opts.Partitions.Static,
		"api_partition":    c.opts.Partitions.API,
	}
}
