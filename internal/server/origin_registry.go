package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/dentalnet/offline-edge/internal/config"
)

// RouteKind 区分应用源站与跨域主机。
type RouteKind string

const (
	RouteOrigin RouteKind = "origin"
	RouteRemote RouteKind = "remote"
)

// OriginRoute 是某个浏览器可见主机的路由信息，构造 Registry 时预先解析好 URL。
type OriginRoute struct {
	Name   string
	Domain string
	Kind   RouteKind
	// PublicURL 是浏览器视角的基准地址，缓存键与 app shell 都基于它计算。
	PublicURL *url.URL
	// UpstreamURL 是真实后端地址。
	UpstreamURL *url.URL
	ListenPort  int
}

// OriginRegistry 提供 Host/Host:port 到 OriginRoute 的查询能力，所有主机共享同一个监听端口。
type OriginRegistry struct {
	routes  map[string]*OriginRoute
	ordered []*OriginRoute
}

// NewOriginRegistry 根据配置构建主机映射。调用方应在启动阶段创建一次并复用。
func NewOriginRegistry(cfg *config.Config) (*OriginRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &OriginRegistry{
		routes: make(map[string]*OriginRoute, len(cfg.Remotes)+1),
	}

	if err := registry.add(cfg, cfg.Global.AppName, cfg.Global.Origin, cfg.Global.Upstream, RouteOrigin); err != nil {
		return nil, err
	}
	for _, remote := range cfg.Remotes {
		if err := registry.add(cfg, remote.Name, remote.Domain, remote.Upstream, RouteRemote); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *OriginRegistry) add(cfg *config.Config, name, domain, upstream string, kind RouteKind) error {
	normalizedHost := normalizeDomain(domain)
	if normalizedHost == "" {
		return fmt.Errorf("invalid domain for %s", name)
	}
	if _, exists := r.routes[normalizedHost]; exists {
		return fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
	}

	upstreamURL, err := url.Parse(upstream)
	if err != nil {
		return fmt.Errorf("invalid upstream for %s: %w", name, err)
	}
	publicURL := &url.URL{Scheme: "http", Host: strings.ToLower(strings.TrimSpace(domain))}

	route := &OriginRoute{
		Name:        name,
		Domain:      domain,
		Kind:        kind,
		PublicURL:   publicURL,
		UpstreamURL: upstreamURL,
		ListenPort:  cfg.Global.ListenPort,
	}
	r.routes[normalizedHost] = route
	r.ordered = append(r.ordered, route)
	return nil
}

// Lookup 根据 Host 或 Host:port 查找 OriginRoute。
func (r *OriginRegistry) Lookup(host string) (*OriginRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	route, ok := r.routes[normalizedHost]
	return route, ok
}

// Resolve 满足 network.Resolver，返回主机对应的上游地址。
func (r *OriginRegistry) Resolve(host string) (*url.URL, bool) {
	route, ok := r.Lookup(host)
	if !ok {
		return nil, false
	}
	return route.UpstreamURL, true
}

// Origin 返回应用源站路由。
func (r *OriginRegistry) Origin() *OriginRoute {
	for _, route := range r.ordered {
		if route.Kind == RouteOrigin {
			return route
		}
	}
	return nil
}

// List 返回当前注册的路由（按配置定义的顺序），用于 /-/status 输出。
func (r *OriginRegistry) List() []OriginRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]OriginRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
