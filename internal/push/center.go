// Package push 渲染推送消息为通知并处理通知点击。edge 不直接弹出系统通知，
// 而是保存最近的通知供页面轮询，点击结果告诉页面应打开哪个地址。
package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ActionView    = "view"
	ActionDismiss = "dismiss"

	defaultTitle    = "DentalNet"
	defaultURL      = "/"
	defaultCapacity = 50
)

var (
	// ErrNotificationNotFound 表示通知不存在或已关闭。
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrUnknownAction 表示点击了未定义的动作。
	ErrUnknownAction = errors.New("unknown notification action")
)

// Message 是推送通道送达的 JSON 载荷。
type Message struct {
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Data   map[string]any `json:"data,omitempty"`
	Tag    string         `json:"tag,omitempty"`
	Urgent bool           `json:"urgent,omitempty"`
}

// ParseMessage 解析推送载荷，空载荷得到默认标题的通知。
func ParseMessage(raw []byte) (Message, error) {
	var msg Message
	if len(strings.TrimSpace(string(raw))) == 0 {
		return msg, nil
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("decode push payload: %w", err)
	}
	return msg, nil
}

// Action 是通知上的按钮。
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification 是渲染后的通知。
type Notification struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Tag                string         `json:"tag,omitempty"`
	RequireInteraction bool           `json:"require_interaction"`
	Actions            []Action       `json:"actions"`
	Data               map[string]any `json:"data,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// ClickResult 描述点击后的效果：Open 非空时页面应打开/聚焦该地址。
type ClickResult struct {
	Open   string `json:"open,omitempty"`
	Closed bool   `json:"closed"`
}

// Center 保存最近的通知，容量满时丢弃最旧的一条。同 tag 的新通知替换旧通知。
type Center struct {
	mu       sync.Mutex
	items    []Notification
	capacity int
	now      func() time.Time
}

// NewCenter 创建通知中心，capacity<=0 时使用默认容量。
func NewCenter(capacity int) *Center {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Center{capacity: capacity, now: time.Now}
}

// Show 渲染并保存通知。
func (c *Center) Show(msg Message) Notification {
	title := strings.TrimSpace(msg.Title)
	if title == "" {
		title = defaultTitle
	}
	n := Notification{
		ID:                 uuid.NewString(),
		Title:              title,
		Body:               msg.Body,
		Tag:                msg.Tag,
		RequireInteraction: msg.Urgent,
		Actions: []Action{
			{Action: ActionView, Title: "Ver"},
			{Action: ActionDismiss, Title: "Fechar"},
		},
		Data:      msg.Data,
		CreatedAt: c.now().UTC(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if n.Tag != "" {
		c.removeLocked(func(existing Notification) bool { return existing.Tag == n.Tag })
	}
	c.items = append(c.items, n)
	if len(c.items) > c.capacity {
		c.items = append([]Notification(nil), c.items[len(c.items)-c.capacity:]...)
	}
	return n
}

// List 返回仍打开的通知，最新的在前。
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, 0, len(c.items))
	for i := len(c.items) - 1; i >= 0; i-- {
		out = append(out, c.items[i])
	}
	return out
}

// Click 处理点击。action 为空表示点击通知正文，与 view 等价。任何点击都会关闭通知。
func (c *Center) Click(id, action string) (ClickResult, error) {
	if action != "" && action != ActionView && action != ActionDismiss {
		return ClickResult{}, ErrUnknownAction
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var found *Notification
	c.removeLocked(func(existing Notification) bool {
		if existing.ID == id {
			n := existing
			found = &n
			return true
		}
		return false
	})
	if found == nil {
		return ClickResult{}, ErrNotificationNotFound
	}
	if action == ActionDismiss {
		return ClickResult{Closed: true}, nil
	}
	return ClickResult{Open: targetURL(found.Data), Closed: true}, nil
}

func (c *Center) removeLocked(match func(Notification) bool) {
	kept := c.items[:0]
	for _, item := range c.items {
		if !match(item) {
			kept = append(kept, item)
		}
	}
	c.items = kept
}

func targetURL(data map[string]any) string {
	if raw, ok := data["url"].(string); ok && strings.TrimSpace(raw) != "" {
		return raw
	}
	return defaultURL
}
