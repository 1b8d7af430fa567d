package fetch

import (
	"errors"
	"net/http"
)

// ErrBodyTooLarge 表示上游可达但正文超过缓冲上限。这不是网络故障，不能回落到缓存或离线兜底。
var ErrBodyTooLarge = errors.New("upstream body too large")

// Source 标记响应来自网络、缓存还是离线兜底。
type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
	SourceOffline Source = "offline"
)

// Response 是完整缓冲后的响应快照。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Source Source
}

// OK 与浏览器 response.ok 一致：状态码在 200-299。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Clone 复制响应，写入缓存的那一份与返回给调用方的那一份互不影响。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return &cloned
}

// WithSource 返回修改了来源标记的副本。
func (r *Response) WithSource(source Source) *Response {
	cloned := r.Clone()
	cloned.Source = source
	return cloned
}
