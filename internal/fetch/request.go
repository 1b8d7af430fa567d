package fetch

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Mode 对应浏览器 fetch 的 request.mode，edge 只关心 navigate 与其它。
type Mode string

const (
	ModeNavigate Mode = "navigate"
	ModeCORS     Mode = "cors"
	ModeNoCORS   Mode = "no-cors"
	ModeSameOrig Mode = "same-origin"
)

// Request 描述一次被拦截的请求。URL 为浏览器视角的绝对地址。
type Request struct {
	Method string
	URL    *url.URL
	Mode   Mode
	Header http.Header
	Body   []byte
}

// NewRequest 构造 Request，method 为空时默认 GET。
func NewRequest(method, rawURL string) (*Request, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    parsed,
		Header: http.Header{},
	}, nil
}

// IsGet 表示请求是否走缓存策略。
func (r *Request) IsGet() bool {
	return r != nil && strings.EqualFold(r.Method, http.MethodGet)
}

// Path 返回 URL 路径，空路径视为 "/"。
func (r *Request) Path() string {
	if r == nil || r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

// Host 返回小写且不带端口的主机名。
func (r *Request) Host() string {
	if r == nil || r.URL == nil {
		return ""
	}
	return strings.ToLower(r.URL.Hostname())
}

// Clone 深拷贝请求，后台重验证使用副本，避免与调用方共享 Header。
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	cloned := *r
	if r.URL != nil {
		u := *r.URL
		cloned.URL = &u
	}
	cloned.Header = r.Header.Clone()
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return &cloned
}

// Fetcher 是网络访问的抽象，返回的 error 表示网络层失败（离线、DNS、超时），
// 非 2xx 状态码不算错误。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc 让普通函数满足 Fetcher，测试中用于注入假网络。
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
