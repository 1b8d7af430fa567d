package syncqueue

import (
	"context"
	"errors"
)

// ErrTaskNotFound 表示任务不存在。
var ErrTaskNotFound = errors.New("sync task not found")

// Store 是任务的持久化接口，List 必须按 Seq 升序（即入队顺序）返回。
type Store interface {
	// Append 分配 Seq 并写入任务，返回写入后的任务。
	Append(ctx context.Context, task Task) (Task, error)
	List(ctx context.Context) ([]Task, error)
	Get(ctx context.Context, id string) (Task, error)
	Update(ctx context.Context, task Task) error
	Delete(ctx context.Context, id string) error
}
