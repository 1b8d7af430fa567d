package cache

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dentalnet/offline-edge/internal/fetch"
)

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidPartition 表示分区名称不能安全地映射为目录。
var ErrInvalidPartition = errors.New("invalid partition name")

// PartitionSet 是当前版本期望存在的两个分区：静态资源（app shell）与 API 响应。
type PartitionSet struct {
	Static string
	API    string
}

// NewPartitionSet 依据应用名与版本号生成分区名，形如 <app>-v1.0.0 / <app>-api-v1.0.0。
func NewPartitionSet(app, version string) PartitionSet {
	version = strings.TrimPrefix(version, "v")
	return PartitionSet{
		Static: fmt.Sprintf("%s-v%s", app, version),
		API:    fmt.Sprintf("%s-api-v%s", app, version),
	}
}

// Names 返回集合形式，供 EvictStalePartitions 使用。
func (s PartitionSet) Names() map[string]struct{} {
	return map[string]struct{}{
		s.Static: {},
		s.API:    {},
	}
}

// Key 是规范化后的请求标识：METHOD + 空格 + 绝对 URL（查询参数排序、去掉 fragment）。
type Key string

// KeyFor 根据请求计算缓存键。
func KeyFor(req *fetch.Request) Key {
	method := http.MethodGet
	if req != nil && req.Method != "" {
		method = strings.ToUpper(req.Method)
	}
	if req == nil || req.URL == nil {
		return Key(method + " /")
	}
	return Key(method + " " + normalizeURL(req.URL))
}

func normalizeURL(u *url.URL) string {
	clean := path.Clean("/" + u.Path)
	if strings.HasSuffix(u.Path, "/") && clean != "/" {
		clean += "/"
	}
	normalized := url.URL{
		Scheme: strings.ToLower(u.Scheme),
		Host:   strings.ToLower(u.Host),
		Path:   clean,
	}
	if u.RawQuery != "" {
		normalized.RawQuery = u.Query().Encode()
	}
	return normalized.String()
}

// CapturedResponse 是响应被缓存那一刻的不可变快照。
type CapturedResponse struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Capture 复制一份网络响应，调用方持有的原响应不受影响。
func Capture(resp *fetch.Response) CapturedResponse {
	cloned := resp.Clone()
	return CapturedResponse{
		Status: cloned.Status,
		Header: cloned.Header,
		Body:   cloned.Body,
	}
}

// Clone 深拷贝快照。
func (c CapturedResponse) Clone() CapturedResponse {
	cloned := c
	cloned.Header = c.Header.Clone()
	if c.Body != nil {
		cloned.Body = append([]byte(nil), c.Body...)
	}
	return cloned
}

// Response 将快照还原为 fetch.Response，来源标记为 cache。
func (c CapturedResponse) Response() *fetch.Response {
	cloned := c.Clone()
	header := cloned.Header
	if header == nil {
		header = http.Header{}
	}
	return &fetch.Response{
		Status: cloned.Status,
		Header: header,
		Body:   cloned.Body,
		Source: fetch.SourceCache,
	}
}
