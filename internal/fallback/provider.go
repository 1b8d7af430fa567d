// Package fallback synthesizes the responses returned when neither the network
// nor a cache partition can answer a request. Nothing produced here is ever
// persisted.
package fallback

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dentalnet/offline-edge/internal/fetch"
)

// DefaultMessage 在未配置 OfflineMessage 时使用。
const DefaultMessage = "Sem conexão. Algumas funções estão indisponíveis."

// Payload 是离线 JSON 兜底的结构；Data 只在列表类接口上出现。
type Payload struct {
	Message string `json:"message"`
	Offline bool   `json:"offline"`
	Data    *[]any `json:"data,omitempty"`
}

// Provider 根据请求路径决定兜底响应的形状。
type Provider struct {
	Message         string
	ListingKeywords []string
}

// IsListing 表示路径是否指向集合资源（例如 /api/clinics），匹配以路径段为单位。
func (p Provider) IsListing(path string) bool {
	segments := strings.Split(strings.ToLower(path), "/")
	for _, keyword := range p.ListingKeywords {
		keyword = strings.ToLower(strings.Trim(keyword, "/ "))
		if keyword == "" {
			continue
		}
		for _, segment := range segments {
			if segment == keyword {
				return true
			}
		}
	}
	return false
}

// For 构建针对 API 请求的离线响应：列表接口返回 200 + 空数组，其它返回 503。
func (p Provider) For(path string) *fetch.Response {
	if !p.IsListing(path) {
		return p.Unavailable()
	}
	empty := []any{}
	return jsonResponse(http.StatusOK, Payload{Message: p.message(), Offline: true, Data: &empty})
}

// Unavailable 返回不带 data 字段的 503 离线 JSON，写请求无法入队时也使用它。
func (p Provider) Unavailable() *fetch.Response {
	return jsonResponse(http.StatusServiceUnavailable, Payload{Message: p.message(), Offline: true})
}

func jsonResponse(status int, payload Payload) *fetch.Response {
	body, _ := json.Marshal(payload)
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &fetch.Response{
		Status: status,
		Header: header,
		Body:   body,
		Source: fetch.SourceOffline,
	}
}

// Generic 返回通用的 503 Offline 占位响应。
func Generic() *fetch.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return &fetch.Response{
		Status: http.StatusServiceUnavailable,
		Header: header,
		Body:   []byte("Offline"),
		Source: fetch.SourceOffline,
	}
}

// BadGateway 返回 502 JSON 错误，code 写入 error 字段。用于上游给出了无法转发的结果。
func BadGateway(code string) *fetch.Response {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	body, _ := json.Marshal(map[string]string{"error": code})
	return &fetch.Response{
		Status: http.StatusBadGateway,
		Header: header,
		Body:   body,
		Source: fetch.SourceOffline,
	}
}

func (p Provider) message() string {
	if strings.TrimSpace(p.Message) == "" {
		return DefaultMessage
	}
	return p.Message
}
