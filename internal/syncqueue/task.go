package syncqueue

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status 是任务状态，只有 pending 的任务会被 drain 重放。
type Status string

const (
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Task 是一次待重放的写请求。Endpoint 为浏览器视角的绝对 URL。
type Task struct {
	ID          string      `json:"id"`
	Seq         uint64      `json:"seq"`
	Tag         string      `json:"tag"`
	Method      string      `json:"method"`
	Endpoint    string      `json:"endpoint"`
	Header      http.Header `json:"header,omitempty"`
	Payload     []byte      `json:"payload,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	RetryCount  int         `json:"retry_count"`
	Status      Status      `json:"status"`
	LastError   string      `json:"last_error,omitempty"`
	LastAttempt time.Time   `json:"last_attempt"`
}

// NewTask 创建带随机 ID 的 pending 任务。
func NewTask(tag, method, endpoint string, header http.Header, payload []byte) Task {
	if method == "" {
		method = http.MethodPost
	}
	task := Task{
		ID:        uuid.NewString(),
		Tag:       tag,
		Method:    strings.ToUpper(method),
		Endpoint:  endpoint,
		Header:    header.Clone(),
		CreatedAt: time.Now().UTC(),
		Status:    StatusPending,
	}
	if len(payload) > 0 {
		task.Payload = append([]byte(nil), payload...)
	}
	return task
}
