package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	partitionsDir = "partitions"
	entrySuffix   = ".entry"
)

// Manager 管理 <basePath>/partitions 下的全部分区，整个进程复用一份实例。
type Manager struct {
	basePath string
	now      func() time.Time

	mu         sync.Mutex
	locks      map[string]*entryLock
	partitions map[string]*Partition
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// Partition 是一个命名的键值存储，键为 Key，值为 CapturedResponse。
type Partition struct {
	name    string
	dir     string
	manager *Manager
}

// storedEntry 是磁盘上的 JSON 信封。
type storedEntry struct {
	Key      Key         `json:"key"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// NewManager 以 basePath 为根目录构建分区管理器。
func NewManager(basePath string) (*Manager, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(abs, partitionsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &Manager{
		basePath:   abs,
		now:        time.Now,
		locks:      make(map[string]*entryLock),
		partitions: make(map[string]*Partition),
	}, nil
}

// OpenPartition 幂等地返回（必要时创建）指定分区。
func (m *Manager) OpenPartition(ctx context.Context, name string) (*Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := m.partitionDir(name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.partitions[name]; ok {
		if _, statErr := os.Stat(p.dir); statErr == nil {
			return p, nil
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("open partition %s: %w", name, err)
	}
	p := &Partition{name: name, dir: dir, manager: m}
	m.partitions[name] = p
	return p, nil
}

// Has 表示分区目录当前是否存在。
func (m *Manager) Has(name string) bool {
	dir, err := m.partitionDir(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Partitions 列出磁盘上所有分区名称（按字典序），包括历史版本遗留的分区。
func (m *Manager) Partitions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(m.basePath, partitionsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// EvictStalePartitions 删除所有不在 keep 中的分区。单个分区删除失败不会中断遍历，
// 失败信息通过 errors.Join 汇总返回，removed 只包含真正删除成功的分区。
func (m *Manager) EvictStalePartitions(ctx context.Context, keep map[string]struct{}) ([]string, error) {
	names, err := m.Partitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	var (
		removed []string
		errs    []error
	)
	for _, name := range names {
		if _, ok := keep[name]; ok {
			continue
		}
		if err := m.deletePartition(name); err != nil {
			errs = append(errs, fmt.Errorf("delete partition %s: %w", name, err))
			continue
		}
		removed = append(removed, name)
	}
	return removed, errors.Join(errs...)
}

func (m *Manager) deletePartition(name string) error {
	dir, err := m.partitionDir(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.partitions, name)
	m.mu.Unlock()
	return os.RemoveAll(dir)
}

func (m *Manager) partitionDir(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", ErrInvalidPartition
	}
	return filepath.Join(m.basePath, partitionsDir, name), nil
}

func (m *Manager) lockEntry(key string) func() {
	m.mu.Lock()
	lock := m.locks[key]
	if lock == nil {
		lock = &entryLock{}
		m.locks[key] = lock
	}
	lock.refs++
	m.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		m.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// Name 返回分区名称。
func (p *Partition) Name() string {
	return p.name
}

// Get 读取缓存快照，不存在时返回 ErrNotFound。
func (p *Partition) Get(ctx context.Context, key Key) (CapturedResponse, error) {
	if err := ctx.Err(); err != nil {
		return CapturedResponse{}, err
	}

	data, err := os.ReadFile(p.entryPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CapturedResponse{}, ErrNotFound
		}
		return CapturedResponse{}, err
	}

	var stored storedEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		return CapturedResponse{}, fmt.Errorf("decode cache entry: %w", err)
	}
	if stored.Key != key {
		// sha1 碰撞或被篡改的条目，一律视为未命中
		return CapturedResponse{}, ErrNotFound
	}
	return CapturedResponse{
		Status:   stored.Status,
		Header:   stored.Header,
		Body:     stored.Body,
		StoredAt: stored.StoredAt,
	}, nil
}

// Put 写入快照副本，通过临时文件 + rename 保证原子性。
func (p *Partition) Put(ctx context.Context, key Key, resp CapturedResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := p.manager.lockEntry(p.name + "::" + string(key))
	defer unlock()

	snapshot := resp.Clone()
	storedAt := snapshot.StoredAt
	if storedAt.IsZero() {
		storedAt = p.manager.now().UTC()
	}
	payload, err := json.Marshal(storedEntry{
		Key:      key,
		Status:   snapshot.Status,
		Header:   snapshot.Header,
		Body:     snapshot.Body,
		StoredAt: storedAt,
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	// 分区可能在 activate 时被删除，写入前重新确保目录存在
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return err
	}
	return writeFileAtomic(p.entryPath(key), payload)
}

// writeFileAtomic 先写同目录临时文件再 rename，读者看不到写了一半的内容。
func writeFileAtomic(target string, payload []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(target), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(payload)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

// Delete 删除单个条目，条目不存在时不报错。
func (p *Partition) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := p.manager.lockEntry(p.name + "::" + string(key))
	defer unlock()

	if err := os.Remove(p.entryPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Len 返回分区内条目数量，供诊断接口使用。
func (p *Partition) Len() int {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), entrySuffix) {
			count++
		}
	}
	return count
}

func (p *Partition) entryPath(key Key) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(p.dir, hex.EncodeToString(sum[:])+entrySuffix)
}
