package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if err := validateName(g.AppName); err != nil {
		return newFieldError("Global.AppName", err.Error())
	}
	if err := validateName(g.CacheVersion); err != nil {
		return newFieldError("Global.CacheVersion", err.Error())
	}
	if err := validateDomain(g.Origin); err != nil {
		return wrapFieldError("Global.Origin", err)
	}
	if err := validateUpstream(g.Upstream); err != nil {
		return wrapFieldError("Global.Upstream", err)
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxCacheEntrySize <= 0 {
		return newFieldError("Global.MaxCacheEntrySize", "必须大于 0")
	}
	for _, entry := range g.AppShell {
		if !strings.HasPrefix(entry, "/") {
			return newFieldError("Global.AppShell", fmt.Sprintf("必须是以 / 开头的同源路径: %s", entry))
		}
	}
	if g.APIPrefix == "" || !strings.HasPrefix(g.APIPrefix, "/") {
		return newFieldError("Global.APIPrefix", "必须以 / 开头")
	}

	s := c.Sync
	if strings.TrimSpace(s.Tag) == "" {
		return newFieldError("Sync.Tag", "不能为空")
	}
	if s.MaxRetries < 1 {
		return newFieldError("Sync.MaxRetries", "至少为 1")
	}
	if s.ProbeInterval.DurationValue() <= 0 {
		return newFieldError("Sync.ProbeInterval", "必须大于 0")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]struct{}{originHost(g.Origin): {}}
	for i := range c.Remotes {
		remote := &c.Remotes[i]
		if remote.Name == "" {
			return newFieldError("Remote[].Name", "不能为空")
		}
		if _, exists := seenNames[remote.Name]; exists {
			return newFieldError(remoteField(remote.Name, "Name"), "重复")
		}
		seenNames[remote.Name] = struct{}{}

		if err := validateDomain(remote.Domain); err != nil {
			return wrapFieldError(remoteField(remote.Name, "Domain"), err)
		}
		host := originHost(remote.Domain)
		if _, exists := seenDomains[host]; exists {
			return newFieldError(remoteField(remote.Name, "Domain"), "与 Origin 或其它 Remote 重复")
		}
		seenDomains[host] = struct{}{}

		if err := validateUpstream(remote.Upstream); err != nil {
			return wrapFieldError(remoteField(remote.Name, "Upstream"), err)
		}
	}

	return nil
}

// validateName 约束分区名称的组成部分，它们会直接成为磁盘目录名。
func validateName(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(raw, `/\ `) || strings.Contains(raw, "..") {
		return errors.New("不允许包含路径分隔符或空格")
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
