package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	platformerrors "github.com/jmgilman/go/errors"

	"github.com/dentalnet/offline-edge/internal/fetch"
)

// defaultMaxBody 限制单个上游响应的缓冲大小。
const defaultMaxBody = 64 << 20

// Resolver 把浏览器视角的主机名映射到真实上游地址。
type Resolver interface {
	Resolve(host string) (*url.URL, bool)
}

// Observer 接收网络结果，连接监视器据此判断在线/离线切换。
type Observer interface {
	ReportSuccess()
	ReportFailure(err error)
}

// Options 配置 Client。
type Options struct {
	HTTPClient *http.Client
	Resolver   Resolver
	Observer   Observer
	// MaxBodySize 为响应正文的缓冲上限，<=0 使用 64MiB。
	MaxBodySize int64
}

// Client 实现 fetch.Fetcher，所有策略与同步重放共享同一个实例。
type Client struct {
	http     *http.Client
	resolver Resolver
	observer Observer
	maxBody  int64
}

// NewClient 构造上游客户端。
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	maxBody := opts.MaxBodySize
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Client{
		http:     httpClient,
		resolver: opts.Resolver,
		observer: opts.Observer,
		maxBody:  maxBody,
	}
}

// Fetch 将请求发往映射的上游并缓冲完整响应。返回的 error 一定是
// platformerrors.PlatformError，可用 platformerrors.GetCode 判断类别。
func (c *Client) Fetch(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	if req == nil || req.URL == nil {
		return nil, platformerrors.New(platformerrors.CodeInvalidInput, "request url required")
	}
	target, err := c.upstreamURL(req)
	if err != nil {
		return nil, err
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "build upstream request")
	}
	CopyHeaders(upstreamReq.Header, req.Header)
	// 需要原样缓存正文，禁止上游压缩协商
	upstreamReq.Header.Del("Accept-Encoding")
	upstreamReq.Host = target.Host
	if host := req.URL.Host; host != "" {
		upstreamReq.Header.Set("X-Forwarded-Host", host)
	}

	resp, err := c.http.Do(upstreamReq)
	if err != nil {
		classified := classify(err, target)
		if !errors.Is(err, context.Canceled) {
			c.reportFailure(classified)
		}
		return nil, classified
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		classified := classify(err, target)
		c.reportFailure(classified)
		return nil, classified
	}
	c.reportSuccess()
	if int64(len(payload)) > c.maxBody {
		return nil, platformerrors.Wrapf(fetch.ErrBodyTooLarge, platformerrors.CodeExecutionFailed, "upstream body exceeds %d bytes", c.maxBody)
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	header.Del("Content-Length")
	return &fetch.Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   payload,
		Source: fetch.SourceNetwork,
	}, nil
}

func (c *Client) upstreamURL(req *fetch.Request) (*url.URL, error) {
	if c.resolver == nil {
		return nil, platformerrors.New(platformerrors.CodeInvalidConfig, "no upstream resolver configured")
	}
	base, ok := c.resolver.Resolve(req.Host())
	if !ok {
		return nil, platformerrors.Newf(platformerrors.CodeNotFound, "host %s is not mapped to an upstream", req.Host())
	}
	relative := &url.URL{Path: req.Path(), RawQuery: req.URL.RawQuery}
	if req.URL.RawPath != "" {
		relative.RawPath = req.URL.RawPath
	}
	return base.ResolveReference(relative), nil
}

func (c *Client) reportSuccess() {
	if c.observer != nil {
		c.observer.ReportSuccess()
	}
}

func (c *Client) reportFailure(err error) {
	if c.observer != nil {
		c.observer.ReportFailure(err)
	}
}

// classify 把传输层错误映射为平台错误码，超时与其它网络错误均可重试。
func classify(err error, target *url.URL) error {
	msg := fmt.Sprintf("upstream %s unreachable", target.Host)
	if errors.Is(err, context.DeadlineExceeded) {
		return platformerrors.Wrap(err, platformerrors.CodeTimeout, msg)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return platformerrors.Wrap(err, platformerrors.CodeTimeout, msg)
	}
	return platformerrors.Wrap(err, platformerrors.CodeNetwork, msg)
}

// IsOffline 表示错误是否属于网络层不可达（而非请求本身有误）。
func IsOffline(err error) bool {
	switch platformerrors.GetCode(err) {
	case platformerrors.CodeNetwork, platformerrors.CodeTimeout, platformerrors.CodeUnavailable:
		return true
	default:
		return false
	}
}

// StaticResolver 把固定的 host → upstream 映射包装成 Resolver，测试与探测使用。
type StaticResolver map[string]*url.URL

// Resolve implements Resolver.
func (r StaticResolver) Resolve(host string) (*url.URL, bool) {
	u, ok := r[host]
	return u, ok
}
