package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// installedMarker 写在静态分区目录内，分区被淘汰时随目录一起删除。
	installedMarker = ".installed"
	activeRecord    = "active.json"
)

// InstalledVersion 描述一个安装成功的版本。
type InstalledVersion struct {
	Set         PartitionSet `json:"partitions"`
	InstalledAt time.Time    `json:"installed_at"`
}

// ActiveVersion 描述最近一次接管流量的版本，进程重启后据此恢复。
type ActiveVersion struct {
	Set       PartitionSet `json:"partitions"`
	ClaimedAt time.Time    `json:"claimed_at"`
}

// MarkInstalled 在 app shell 全部写入后记录安装完成。
func (m *Manager) MarkInstalled(ctx context.Context, set PartitionSet, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := m.partitionDir(set.Static)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(InstalledVersion{Set: set, InstalledAt: at.UTC()})
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(dir, installedMarker), payload); err != nil {
		return fmt.Errorf("mark %s installed: %w", set.Static, err)
	}
	return nil
}

// Installed 返回 set 的安装记录；两个分区目录都必须仍然存在。
func (m *Manager) Installed(set PartitionSet) (InstalledVersion, bool) {
	dir, err := m.partitionDir(set.Static)
	if err != nil || !m.Has(set.API) {
		return InstalledVersion{}, false
	}
	var record InstalledVersion
	if !readJSON(filepath.Join(dir, installedMarker), &record) || record.Set != set {
		return InstalledVersion{}, false
	}
	return record, true
}

// SetActive 记录当前接管流量的版本。
func (m *Manager) SetActive(ctx context.Context, set PartitionSet, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(ActiveVersion{Set: set, ClaimedAt: at.UTC()})
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(m.basePath, activeRecord), payload); err != nil {
		return fmt.Errorf("record active version: %w", err)
	}
	return nil
}

// Active 返回最近激活的版本。记录缺失、损坏或其分区已不完整时 ok 为 false。
func (m *Manager) Active() (ActiveVersion, bool) {
	var record ActiveVersion
	if !readJSON(filepath.Join(m.basePath, activeRecord), &record) {
		return ActiveVersion{}, false
	}
	if !m.Has(record.Set.Static) || !m.Has(record.Set.API) {
		return ActiveVersion{}, false
	}
	return record, true
}

func readJSON(path string, out any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}
